package lobby

// Error texts sent to clients. Wording is part of the wire protocol:
// released game clients match on some of these strings, including the
// misspelling in errLoginTaken.
const (
	errProtocolMismatch  = "Cannot connect to remote server due to protocol incompatibility"
	errAlreadyAuthorized = "User already authorized"
	errUsernameTooShort  = "Too short username %s"
	errUsernameInvalid   = "Invalid username"
	errLoginTaken        = "Can't connect with the name %s. This login is already occpupied"
	errRoomNameExists    = "Cannot create session with name %s, session with this name already exists"
	errRoomNameInvalid   = "Cannot create session with invalid name %s"
	errRoomCapacitySet   = "Changing amount of players is not possible for existing session"
	errRoomBadCapacity   = "Cannot create room with invalid amount of players"
	errRoomNotFound      = "Room with name %s doesn't exist"
	errRoomFull          = "Room %s is full"
	errRoomStarted       = "Session %s is started"
	errWrongPassword     = "Incorrect password"
	errNoPermission      = "Insuficcient permissions"
	errUnknownCommand    = "Unknown command"
)

// System chat texts.
const (
	msgUserArrived     = "%s is here"
	msgCommonInfo      = "Here available %d users, currently playing %d"
	msgHereHint        = "\n Send <HERE> to see people names in the chat"
	msgDirectHint      = "\n Send direct message by typing @username"
	msgRoomChatHint    = "You are in the room chat. To send message to global chat, type @all"
	msgVersionMismatch = "Your game version %s differs from host version %s, which may cause problems"
	msgPeopleInLobby   = "People in lobby"
)

// boolText renders a boolean the way lobby clients parse it.
func boolText(v bool) string {
	if v {
		return "True"
	}
	return "False"
}
