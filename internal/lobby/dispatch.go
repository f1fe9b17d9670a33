package lobby

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/vcmi/proxy-server/internal/events"
	"github.com/vcmi/proxy-server/internal/protocol"
)

// HandleMessage dispatches one lobby message. A message may chain
// several tagged commands; they run in order and a failed command drops
// the rest of the chain, so a partially invalid room setup never half
// applies.
func (l *Lobby) HandleMessage(ctx context.Context, c *Client, msg string) {
	commands := protocol.Tokenize(msg)
	if len(commands) == 0 {
		l.logger.Warn().Str("addr", c.addr).Str("msg", msg).Msg("message carries no commands")
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	for _, cmd := range commands {
		if !l.dispatch(ctx, c, cmd) {
			return
		}
	}
}

// dispatch runs a single command under the lobby mutex. Returns false
// to abort the rest of the chain.
func (l *Lobby) dispatch(ctx context.Context, c *Client, cmd protocol.Command) bool {
	switch cmd.Tag {
	case protocol.TagGreetings:
		return l.handleGreetings(ctx, c, cmd.Value)
	case protocol.TagVersion:
		if c.auth {
			l.logger.Info().Str("user", c.username).Str("version", cmd.Value).Msg("client version")
			c.version = cmd.Value
		}
	case protocol.TagMessage:
		if c.auth {
			l.handleChat(c, cmd.Value)
		}
	case protocol.TagNew:
		if c.auth && !c.joined {
			return l.handleNewRoom(ctx, c, cmd.Value)
		}
	case protocol.TagPassword:
		if c.auth && c.joined {
			return l.handlePassword(ctx, c, cmd.Value)
		}
	case protocol.TagCount:
		if c.auth && c.joined {
			return l.handleCount(ctx, c, cmd.Value)
		}
	case protocol.TagJoin:
		if c.auth && !c.joined {
			return l.handleJoin(c, cmd.Value)
		}
	case protocol.TagHostMode:
		if c.auth && c.joined {
			return l.handleHostMode(c, cmd.Value)
		}
	case protocol.TagMods:
		if c.auth && c.joined {
			l.handleMods(c, cmd.Value)
		}
	case protocol.TagLeave:
		if c.auth && c.joined && c.roomName == cmd.Value {
			l.handleLeave(ctx, c)
		}
	case protocol.TagKick:
		if c.auth && c.joined {
			return l.handleKick(ctx, c, cmd.Value)
		}
	case protocol.TagReady:
		if c.auth && c.joined && c.roomName == cmd.Value {
			l.handleReady(ctx, c)
		}
	case protocol.TagForceStart:
		if c.auth && c.joined && c.roomName == cmd.Value {
			return l.handleForceStart(ctx, c)
		}
	case protocol.TagRoot:
		if c.auth {
			l.handleRoot(c, cmd.Value)
		}
	case protocol.TagHere:
		if c.auth {
			l.handleHere(c)
		}
	case protocol.TagAlive:
		if c.auth {
			budget := time.Duration(l.cfg.GetApplicationData().Timers.LivenessBudget) * time.Second
			c.livenessDeadline = time.Now().Add(budget)
		}
	}
	return true
}

func (l *Lobby) handleGreetings(ctx context.Context, c *Client, name string) bool {
	if c.auth {
		l.logger.Warn().Str("user", c.username).Str("addr", c.addr).Msg("greetings from authorized user")
		l.sendError(c, errAlreadyAuthorized)
		return false
	}

	if len(name) < 3 {
		l.logger.Warn().Str("addr", c.addr).Str("name", name).Msg("username too short")
		l.sendError(c, fmt.Sprintf(errUsernameTooShort, name))
		return false
	}

	if name == l.cfg.GetServer().SystemUser || name == "all" || strings.Contains(name, " ") {
		l.logger.Warn().Str("addr", c.addr).Str("name", name).Msg("invalid username")
		l.sendError(c, errUsernameInvalid)
		return false
	}

	for cl := range l.clients {
		if cl.username == name {
			l.logger.Warn().Str("addr", c.addr).Str("name", name).Msg("username already taken")
			l.sendError(c, fmt.Sprintf(errLoginTaken, name))
			return false
		}
	}

	l.logger.Info().Str("addr", c.addr).Str("user", name).Msg("user authorized")
	l.stats.AddUsername(name)
	c.username = name

	// Announce before authorizing so the new user does not hear about
	// itself. Protocol 4 clients get roster pushes instead of chat.
	older := make([]*Client, 0, len(l.clients))
	for cl := range l.clients {
		if cl.protocol < 4 {
			older = append(older, cl)
		}
	}
	l.broadcast(older, protocol.Reply(protocol.ReplyMessage, l.cfg.GetServer().SystemUser, fmt.Sprintf(msgUserArrived, name)))

	for cl := range l.clients {
		if cl.protocol >= 4 {
			l.sendUsers(cl)
		}
	}

	c.auth = true
	l.sendRooms(c)
	l.sendCommonInfo(c)

	l.bus.Emit(ctx, events.Event{
		Type:    events.EventUserAuthenticated,
		Source:  "lobby",
		Payload: events.UserPayload{Username: name, Protocol: c.protocol, Addr: c.addr},
	})
	return true
}

// handleChat routes a chat line. "@user text" goes to one user, "@all"
// escapes a room chat back to the global channel.
func (l *Lobby) handleChat(c *Client, text string) {
	target, body := chatTarget(text)

	recipients := make([]*Client, 0, len(l.clients))
	for cl := range l.clients {
		recipients = append(recipients, cl)
	}
	if c.joined && target != "all" {
		if r, ok := l.rooms[c.roomName]; ok {
			recipients = r.players
		}
	}

	if target != "" && target != "all" {
		for _, cl := range recipients {
			if cl.username == target {
				recipients = []*Client{cl, c}
				break
			}
		}
	}

	l.broadcast(recipients, protocol.Reply(protocol.ReplyMessage, c.username, body))
}

// chatTarget splits "@user rest" into its target and body. Text without
// a leading @ goes to the default audience untouched.
func chatTarget(s string) (target, body string) {
	if !strings.HasPrefix(s, "@") {
		return "", s
	}
	name, rest, _ := strings.Cut(s[1:], " ")
	if name == "" {
		return "", s
	}
	return name, rest
}

func (l *Lobby) handleNewRoom(ctx context.Context, c *Client, name string) bool {
	if _, exists := l.rooms[name]; exists {
		l.sendError(c, fmt.Sprintf(errRoomNameExists, name))
		return false
	}

	if name == "" || strings.HasPrefix(name, " ") || len(name) < 3 {
		l.sendError(c, fmt.Sprintf(errRoomNameInvalid, name))
		return false
	}

	l.rooms[name] = newRoom(c, name)
	c.joined = true
	c.ready = false
	c.roomName = name
	l.logger.Info().Str("room", name).Str("host", c.username).Msg("room created")
	l.stats.Inc(StatRooms)

	l.bus.Emit(ctx, events.Event{
		Type:    events.EventRoomCreated,
		Source:  "lobby",
		Payload: events.RoomPayload{Room: name, Host: c.username, Joined: 1},
	})
	return true
}

// handlePassword carries double duty: the host sets the room password
// with it, a guest submits one to finish joining.
// roomOf resolves the room a client believes it is in. The room can
// vanish between a guest's JOIN and its follow-up commands; the stale
// membership flag would otherwise wedge the client out of NEW and JOIN
// for good.
func (l *Lobby) roomOf(c *Client) *Room {
	r, ok := l.rooms[c.roomName]
	if !ok {
		name := c.roomName
		c.joined = false
		c.roomName = ""
		c.ready = false
		l.sendError(c, fmt.Sprintf(errRoomNotFound, name))
		return nil
	}
	return r
}

func (l *Lobby) handlePassword(ctx context.Context, c *Client, password string) bool {
	r := l.roomOf(c)
	if r == nil {
		return false
	}

	if r.host == c {
		r.password = password
		r.protected = password != ""
		return true
	}

	if r.protected && r.password != password {
		c.joined = false
		l.sendError(c, errWrongPassword)
		return false
	}

	if !r.join(c) {
		c.joined = false
		l.sendError(c, fmt.Sprintf(errRoomFull, r.name))
		return false
	}

	l.logger.Info().Str("room", r.name).Str("user", c.username).Msg("user joined room")
	l.broadcast(r.players, protocol.Reply(protocol.ReplyJoin, r.name, c.username))
	l.updateStatus(r)
	l.updateRooms()
	l.sendSystemMsg(c, msgRoomChatHint)

	if c.version != r.host.version {
		l.sendSystemMsg(c, fmt.Sprintf(msgVersionMismatch, c.version, r.host.version))
	}

	l.bus.Emit(ctx, events.Event{
		Type:    events.EventRoomJoined,
		Source:  "lobby",
		Payload: events.RoomPayload{Room: r.name, Host: r.host.username, Joined: r.Joined(), Total: r.total},
	})
	return true
}

// handleCount finishes room creation by fixing the player capacity.
// The capacity is write-once; an out-of-range value destroys the room.
func (l *Lobby) handleCount(ctx context.Context, c *Client, value string) bool {
	r := l.roomOf(c)
	if r == nil {
		return false
	}
	if r.host != c {
		return true
	}

	if r.total != 1 {
		l.sendError(c, errRoomCapacitySet)
		return false
	}

	count, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || count < 2 || count > 8 {
		l.deleteRoom(ctx, r)
		l.sendError(c, errRoomBadCapacity)
		return false
	}

	r.total = count
	l.send(c, protocol.Reply(protocol.ReplyCreated, r.name))
	// Only now is the room announced to the rest of the lobby.
	l.send(c, protocol.Reply(protocol.ReplyJoin, r.name, c.username))
	l.updateStatus(r)
	l.updateRooms()
	l.sendSystemMsg(c, msgRoomChatHint)
	return true
}

// handleJoin marks the intent to join; the guest becomes a member when
// its password follows, even for unprotected rooms.
func (l *Lobby) handleJoin(c *Client, name string) bool {
	r, ok := l.rooms[name]
	if !ok {
		l.sendError(c, fmt.Sprintf(errRoomNotFound, name))
		return false
	}

	if r.Joined() >= r.total {
		l.sendError(c, fmt.Sprintf(errRoomFull, name))
		return false
	}

	if r.started {
		l.sendError(c, fmt.Sprintf(errRoomStarted, name))
		return false
	}

	c.joined = true
	c.ready = false
	c.roomName = name
	return true
}

func (l *Lobby) handleHostMode(c *Client, value string) bool {
	r := l.roomOf(c)
	if r == nil {
		return false
	}

	if r.host != c {
		l.sendError(c, errNoPermission)
		return false
	}

	mode, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return true
	}

	r.gameMode = mode
	l.broadcast(r.players, protocol.Reply(protocol.ReplyGameMode, fmt.Sprintf("%d", mode)))
	return true
}

// handleMods records the host's authoritative mod list and forwards
// guest lists to the host for comparison.
func (l *Lobby) handleMods(c *Client, value string) {
	r := l.roomOf(c)
	if r == nil {
		return
	}

	mods := parseMods(value)
	if r.host == c {
		r.setMods(mods)
	}

	l.send(c, protocol.Reply(protocol.ReplyMods, r.modsString()))

	if len(mods) > 0 && r.host.protocol >= 3 {
		fields := make([]string, 0, 2+2*len(mods))
		fields = append(fields, c.username, fmt.Sprintf("%d", len(mods)))
		for _, m := range mods {
			fields = append(fields, m.Name, m.Version)
		}
		l.send(r.host, protocol.Reply(protocol.ReplyModsOther, fields...))
	}
}

func (l *Lobby) handleLeave(ctx context.Context, c *Client) {
	r := l.roomOf(c)
	if r == nil {
		return
	}

	if r.host == c {
		l.deleteRoom(ctx, r)
	} else {
		l.broadcast(r.players, protocol.Reply(protocol.ReplyKick, r.name, c.username))
		r.leave(c)
		r.resetReady()
		c.joined = false
		l.logger.Info().Str("room", r.name).Str("user", c.username).Msg("user left room")
		l.updateStatus(r)

		l.bus.Emit(ctx, events.Event{
			Type:    events.EventRoomLeft,
			Source:  "lobby",
			Payload: events.RoomPayload{Room: r.name, Host: r.host.username, Joined: r.Joined(), Total: r.total},
		})
	}
	l.updateRooms()
}

// handleKick removes a named guest. Kicking resets nobody's ready flag,
// so a room that was one reluctant player away from starting starts.
func (l *Lobby) handleKick(ctx context.Context, c *Client, name string) bool {
	r := l.roomOf(c)
	if r == nil {
		return false
	}

	if r.host != c {
		l.sendError(c, errNoPermission)
		return false
	}

	for _, p := range r.players {
		if p == r.host || p.username != name {
			continue
		}

		l.broadcast(r.players, protocol.Reply(protocol.ReplyKick, r.name, p.username))
		r.leave(p)
		p.joined = false
		l.logger.Info().Str("room", r.name).Str("user", p.username).Msg("user kicked")
		l.updateStatus(r)

		l.bus.Emit(ctx, events.Event{
			Type:    events.EventUserKicked,
			Source:  "lobby",
			Payload: events.KickPayload{Room: r.name, Kicked: p.username, Host: c.username},
		})

		l.startRoomIfReady(ctx, r)
		l.updateRooms()
		break
	}
	return true
}

func (l *Lobby) handleReady(ctx context.Context, c *Client) {
	r := l.roomOf(c)
	if r == nil {
		return
	}

	c.ready = !c.ready
	l.updateStatus(r)

	// Early protocols had no FORCESTART; the host's ready doubles as it.
	if c.protocol < 3 && r.host == c {
		l.startRoom(ctx, r)
		l.updateRooms()
		return
	}

	if l.startRoomIfReady(ctx, r) {
		l.updateRooms()
	}
}

func (l *Lobby) handleForceStart(ctx context.Context, c *Client) bool {
	r := l.roomOf(c)
	if r == nil {
		return false
	}

	if r.host != c {
		l.sendError(c, errNoPermission)
		return false
	}

	l.startRoom(ctx, r)
	l.updateRooms()
	return true
}

// handleRoot answers a stats query by counter name.
func (l *Lobby) handleRoot(c *Client, key string) {
	l.logger.Warn().Str("addr", c.addr).Str("user", c.username).Str("key", key).Msg("root query")

	value, ok := l.stats.Get(key)
	if !ok {
		l.sendError(c, errUnknownCommand)
		return
	}
	l.sendSystemMsg(c, fmt.Sprintf("%d", value))
}

// handleHere answers a roster request: a USERS push for protocol 4,
// a readable chat message for older clients.
func (l *Lobby) handleHere(c *Client) {
	if c.protocol >= 4 {
		l.sendUsers(c)
		return
	}

	var sb strings.Builder
	sb.WriteString(msgPeopleInLobby)
	for cl := range l.clients {
		if cl.username == "" {
			continue
		}
		sb.WriteString("\n")
		sb.WriteString(cl.username)
		if cl.joined {
			fmt.Fprintf(&sb, "[room %s]", cl.roomName)
		}
	}
	l.sendSystemMsg(c, sb.String())
}
