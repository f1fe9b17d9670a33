// Package protocol implements the lobby wire format: length-prefixed
// framing, tagged command parsing, reply encoding, and handshake
// classification for incoming connections.
package protocol

// Command tags clients embed in lobby messages, e.g. <GREETINGS>name<VER>1.
const (
	TagGreetings  = "GREETINGS"
	TagVersion    = "VER"
	TagMessage    = "MSG"
	TagNew        = "NEW"
	TagPassword   = "PSWD"
	TagCount      = "COUNT"
	TagJoin       = "JOIN"
	TagHostMode   = "HOSTMODE"
	TagMods       = "MODS"
	TagLeave      = "LEAVE"
	TagKick       = "KICK"
	TagReady      = "READY"
	TagForceStart = "FORCESTART"
	TagRoot       = "ROOT"
	TagHere       = "HERE"
	TagAlive      = "ALIVE"
)

// Reply tags sent back to lobby clients, always prefixed with ":>>".
const (
	ReplyError     = "ERROR"
	ReplyMessage   = "MSG"
	ReplyCreated   = "CREATED"
	ReplyJoin      = "JOIN"
	ReplyKick      = "KICK"
	ReplyStatus    = "STATUS"
	ReplySessions  = "SESSIONS"
	ReplyUsers     = "USERS"
	ReplyHost      = "HOST"
	ReplyStart     = "START"
	ReplyMods      = "MODS"
	ReplyModsOther = "MODSOTHER"
	ReplyGameMode  = "GAMEMODE"
	ReplyHealth    = "HEALTH"
)

// ReplyPrefix marks server-originated protocol replies, as opposed to
// relayed chat text.
const ReplyPrefix = ":>>"

// PipeMarker opens the first message of a game connection. Such
// connections never speak the tagged lobby protocol.
const PipeMarker = "Aiya!"

// Application type tokens carried in the pipe greeting.
const (
	AppTypeServer = "(server)"
	AppTypeClient = "(client)"
)

// MaxMessageSize bounds a single framed lobby message. Larger length
// prefixes indicate a broken or hostile peer.
const MaxMessageSize = 1 << 20

// knownTags is the set of command tags the tokenizer recognizes as
// delimiters. Angle-bracket text outside this set stays part of the
// surrounding value, so chat messages may contain markup.
var knownTags = map[string]bool{
	TagGreetings:  true,
	TagVersion:    true,
	TagMessage:    true,
	TagNew:        true,
	TagPassword:   true,
	TagCount:      true,
	TagJoin:       true,
	TagHostMode:   true,
	TagMods:       true,
	TagLeave:      true,
	TagKick:       true,
	TagReady:      true,
	TagForceStart: true,
	TagRoot:       true,
	TagHere:       true,
	TagAlive:      true,
}

// IsKnownTag reports whether name is a recognized command tag.
func IsKnownTag(name string) bool {
	return knownTags[name]
}
