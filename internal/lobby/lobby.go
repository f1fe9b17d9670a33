// Package lobby implements the matchmaking directory and the relay of
// started game sessions: user authentication, room lifecycle, chat, and
// the handoff of players into raw byte pipes.
package lobby

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vcmi/proxy-server/internal/config"
	"github.com/vcmi/proxy-server/internal/events"
	"github.com/vcmi/proxy-server/internal/protocol"
	"github.com/vcmi/proxy-server/internal/util"
)

// Lobby is the directory of connected clients, open rooms, and started
// sessions. One mutex guards all directory state; per-session relay
// traffic runs under the session's own lock.
type Lobby struct {
	cfg    *config.Config
	bus    *events.EventBus
	stats  *Stats
	logger zerolog.Logger

	mu       sync.Mutex
	clients  map[*Client]struct{}
	rooms    map[string]*Room
	sessions map[string]*Session // by room name

	// playing counts game connections currently relayed.
	playing atomic.Int32
}

// NewLobby creates an empty lobby directory.
func NewLobby(cfg *config.Config, bus *events.EventBus, stats *Stats) *Lobby {
	return &Lobby{
		cfg:      cfg,
		bus:      bus,
		stats:    stats,
		logger:   util.ComponentLogger("lobby"),
		clients:  make(map[*Client]struct{}),
		rooms:    make(map[string]*Room),
		sessions: make(map[string]*Session),
	}
}

// Stats returns the lifetime counters.
func (l *Lobby) Stats() *Stats {
	return l.stats
}

// ---- directory maintenance ----

func (l *Lobby) addClient(c *Client) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.clients[c] = struct{}{}
}

// Disconnect runs the cleanup for a dropped lobby connection: the room
// it was in is left or destroyed, and rosters are refreshed. Safe to
// call for clients already removed by a session start.
func (l *Lobby) Disconnect(ctx context.Context, c *Client) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.clients[c]; !ok {
		return
	}

	if c.joined {
		if r, ok := l.rooms[c.roomName]; ok && !r.started {
			if r.host == c {
				l.deleteRoom(ctx, r)
			} else {
				r.leave(c)
				c.joined = false
				l.broadcast(r.players, protocol.Reply(protocol.ReplyKick, r.name, c.username))
				l.updateStatus(r)
			}
			l.updateRooms()
		}
	}

	delete(l.clients, c)

	for cl := range l.clients {
		if cl.auth && cl.protocol >= 4 {
			l.sendUsers(cl)
		}
	}

	if c.auth {
		l.logger.Info().Str("user", c.username).Str("addr", c.addr).Msg("user disconnected")
		l.bus.Emit(ctx, events.Event{
			Type:    events.EventUserDisconnected,
			Source:  "lobby",
			Payload: events.UserPayload{Username: c.username, Protocol: c.protocol, Addr: c.addr},
		})
	}
}

// ---- outgoing replies ----

func (l *Lobby) send(c *Client, text string) {
	c.send(text)
}

// broadcast sends text to every authenticated client in the list.
func (l *Lobby) broadcast(clients []*Client, text string) {
	for _, c := range clients {
		if c.auth {
			c.send(text)
		}
	}
}

func (l *Lobby) sendError(c *Client, text string) {
	c.send(protocol.Reply(protocol.ReplyError, text))
}

func (l *Lobby) sendSystemMsg(c *Client, text string) {
	c.send(protocol.Reply(protocol.ReplyMessage, l.cfg.GetServer().SystemUser, text))
}

// sendRooms sends the list of open rooms to one client.
func (l *Lobby) sendRooms(c *Client) {
	var sb strings.Builder
	counter := 0
	for _, r := range l.rooms {
		if !r.started {
			fmt.Fprintf(&sb, ":%s:%d:%d:%s", r.name, r.Joined(), r.total, boolText(r.protected))
			counter++
		}
	}
	c.send(fmt.Sprintf("%s%s:%d%s", protocol.ReplyPrefix, protocol.ReplySessions, counter, sb.String()))
}

// sendUsers sends the roster of authenticated users to one client.
func (l *Lobby) sendUsers(c *Client) {
	names := make([]string, 0, len(l.clients))
	for cl := range l.clients {
		if cl.username != "" {
			names = append(names, cl.username)
		}
	}
	c.send(protocol.Reply(protocol.ReplyUsers, append([]string{fmt.Sprintf("%d", len(names))}, names...)...))
}

// sendCommonInfo greets a freshly authenticated client with lobby usage
// hints and occupancy numbers.
func (l *Lobby) sendCommonInfo(c *Client) {
	if c.protocol >= 4 {
		l.sendUsers(c)
	}

	authed := 0
	for cl := range l.clients {
		if cl.auth {
			authed++
		}
	}

	msg := fmt.Sprintf(msgCommonInfo, authed-1, l.playing.Load())
	if c.protocol < 4 {
		msg += msgHereHint
	}
	msg += msgDirectHint
	l.sendSystemMsg(c, msg)
}

func (l *Lobby) updateRooms() {
	for c := range l.clients {
		l.sendRooms(c)
	}
}

// updateStatus broadcasts the per-player ready state of a room.
func (l *Lobby) updateStatus(r *Room) {
	fields := make([]string, 0, 1+2*len(r.players))
	fields = append(fields, fmt.Sprintf("%d", r.Joined()))
	for _, p := range r.players {
		fields = append(fields, p.username, boolText(p.ready))
	}
	l.broadcast(r.players, protocol.Reply(protocol.ReplyStatus, fields...))
}

// ---- room lifecycle ----

// deleteRoom kicks every player out and removes the room. Caller holds
// the lobby mutex.
func (l *Lobby) deleteRoom(ctx context.Context, r *Room) {
	for _, p := range r.players {
		p.joined = false
		p.send(protocol.Reply(protocol.ReplyKick, r.name, p.username))
	}

	l.logger.Info().Str("room", r.name).Msg("destroying room")
	delete(l.rooms, r.name)

	l.bus.Emit(ctx, events.Event{
		Type:    events.EventRoomDestroyed,
		Source:  "lobby",
		Payload: events.RoomPayload{Room: r.name, Host: r.host.username},
	})
}

// startRoom converts a full room into a relay session. The HOST message
// reaches the hosting player before any START message so its game
// server is launched before remote clients try to bind. Every player's
// lobby connection is then closed; they return as game peers.
// Caller holds the lobby mutex.
func (l *Lobby) startRoom(ctx context.Context, r *Room) {
	l.stats.Inc(StatSessions)
	r.started = true

	hostUUID := uuid.NewString()
	clientUUIDs := make([]string, 0, r.Joined())

	l.logger.Info().Str("room", r.name).Int("players", r.Joined()).Msg("starting session")

	// The host's own game client connects locally, so the server
	// expects one remote connection fewer than there are players. The
	// HOST message must land before any START so the game server is up
	// when clients bind.
	l.send(r.host, protocol.Reply(protocol.ReplyHost, hostUUID, fmt.Sprintf("%d", r.Joined()-1)))

	for _, p := range r.players {
		cu := uuid.NewString()
		clientUUIDs = append(clientUUIDs, cu)
		l.send(p, protocol.Reply(protocol.ReplyStart, cu))
	}

	sess := newSession(uuid.NewString(), r.name, hostUUID, clientUUIDs, func(s *Session) {
		l.dropSession(s)
	})
	sess.armGrace(time.Duration(l.cfg.GetApplicationData().Timers.SessionGracePeriod) * time.Second)
	l.sessions[r.name] = sess

	for _, p := range r.players {
		p.conn.Close()
		delete(l.clients, p)
	}

	delete(l.rooms, r.name)
	l.logger.Info().Str("room", r.name).Msg("room closed, session live")

	l.bus.Emit(ctx, events.Event{
		Type:    events.EventSessionStarted,
		Source:  "lobby",
		Payload: events.SessionPayload{SessionID: sess.id, Name: sess.name, Players: len(clientUUIDs)},
	})
}

// startRoomIfReady starts the room once more than one player is in and
// everyone is ready. Caller holds the lobby mutex.
func (l *Lobby) startRoomIfReady(ctx context.Context, r *Room) bool {
	if r.Joined() > 1 && r.allReady() {
		l.startRoom(ctx, r)
		return true
	}
	return false
}

// ---- session lifecycle ----

// findSession locates the session a game peer may bind to with the
// given UUID and side.
func (l *Lobby) findSession(uuid string, isServer bool) *Session {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, s := range l.sessions {
		if s.acceptsUUID(uuid, isServer) {
			return s
		}
	}
	return nil
}

// dropSession removes an expired session from the directory.
func (l *Lobby) dropSession(s *Session) {
	l.mu.Lock()
	if cur, ok := l.sessions[s.name]; !ok || cur != s {
		l.mu.Unlock()
		return
	}
	delete(l.sessions, s.name)
	l.mu.Unlock()

	l.logger.Info().Str("session", s.name).Msg("session removed")
	l.bus.Emit(context.Background(), events.Event{
		Type:    events.EventSessionDestroyed,
		Source:  "lobby",
		Payload: events.SessionPayload{SessionID: s.id, Name: s.name},
	})
}

// ---- maintenance hooks, driven by the health manager ----

// HealthCheck drops protocol 4 clients whose liveness lapsed and pings
// the rest. ALIVE pongs push the deadline forward.
func (l *Lobby) HealthCheck() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	for c := range l.clients {
		if !c.auth || c.protocol < 4 {
			continue
		}
		if now.After(c.livenessDeadline) {
			l.logger.Warn().Str("user", c.username).Msg("liveness lapsed, closing connection")
			c.conn.Close()
			continue
		}
		c.send(protocol.Reply(protocol.ReplyHealth))
	}
}

// SweepIdle closes connections that never authenticated within the
// handshake window.
func (l *Lobby) SweepIdle(window time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	swept := 0
	cutoff := time.Now().Add(-window)
	for c := range l.clients {
		if !c.auth && c.conn.ConnectedAt().Before(cutoff) {
			l.logger.Debug().Str("addr", c.addr).Msg("closing idle unauthenticated connection")
			c.conn.Close()
			swept++
		}
	}
	return swept
}

// EmitStatsSnapshot publishes current occupancy for telemetry and
// persistence subscribers.
func (l *Lobby) EmitStatsSnapshot(ctx context.Context) {
	l.mu.Lock()
	users := 0
	for c := range l.clients {
		if c.auth {
			users++
		}
	}
	rooms := len(l.rooms)
	sessions := len(l.sessions)
	l.mu.Unlock()

	l.bus.Emit(ctx, events.Event{
		Type:   events.EventStatsSnapshot,
		Source: "lobby",
		Payload: events.StatsPayload{
			Users:       users,
			Rooms:       rooms,
			Sessions:    sessions,
			Connections: int(l.playing.Load()),
		},
	})
}

// ---- inspection, used by the API and CLI ----

// UserInfo describes one connected lobby user.
type UserInfo struct {
	Username  string    `json:"username"`
	Protocol  int       `json:"protocol"`
	Version   string    `json:"version"`
	Addr      string    `json:"addr"`
	Room      string    `json:"room,omitempty"`
	Ready     bool      `json:"ready"`
	Connected time.Time `json:"connected_at"`
}

// RoomInfo describes one open room.
type RoomInfo struct {
	Name      string `json:"name"`
	Host      string `json:"host"`
	Joined    int    `json:"joined"`
	Total     int    `json:"total"`
	Protected bool   `json:"protected"`
	GameMode  int    `json:"game_mode"`
}

// SessionInfo describes one live relay session.
type SessionInfo struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Pairs     int       `json:"pairs"`
	CreatedAt time.Time `json:"created_at"`
}

// Users returns a snapshot of authenticated users.
func (l *Lobby) Users() []UserInfo {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]UserInfo, 0, len(l.clients))
	for c := range l.clients {
		if !c.auth {
			continue
		}
		out = append(out, UserInfo{
			Username:  c.username,
			Protocol:  c.protocol,
			Version:   c.version,
			Addr:      c.addr,
			Room:      c.roomName,
			Ready:     c.ready,
			Connected: c.conn.ConnectedAt(),
		})
	}
	return out
}

// Rooms returns a snapshot of open rooms.
func (l *Lobby) Rooms() []RoomInfo {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]RoomInfo, 0, len(l.rooms))
	for _, r := range l.rooms {
		out = append(out, RoomInfo{
			Name:      r.name,
			Host:      r.host.username,
			Joined:    r.Joined(),
			Total:     r.total,
			Protected: r.protected,
			GameMode:  r.gameMode,
		})
	}
	return out
}

// Sessions returns a snapshot of live sessions.
func (l *Lobby) Sessions() []SessionInfo {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]SessionInfo, 0, len(l.sessions))
	for _, s := range l.sessions {
		out = append(out, SessionInfo{
			ID:        s.id,
			Name:      s.name,
			Pairs:     s.PairCount(),
			CreatedAt: s.createdAt,
		})
	}
	return out
}

// Announce broadcasts a chat message from the system user to every
// authenticated lobby client.
func (l *Lobby) Announce(text string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	sent := 0
	for c := range l.clients {
		if c.auth {
			l.sendSystemMsg(c, text)
			sent++
		}
	}
	return sent
}

// DropUser closes the named user's connection after sending an
// explanatory system message. The serve loop runs the usual
// disconnect cleanup once the read fails.
func (l *Lobby) DropUser(name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for c := range l.clients {
		if c.auth && c.username == name {
			l.sendSystemMsg(c, "You were disconnected by the server operator")
			c.conn.Close()
			l.logger.Info().Str("user", name).Msg("user dropped by operator")
			return nil
		}
	}
	return fmt.Errorf("no such user %q", name)
}

// Playing returns the number of game connections currently relayed.
func (l *Lobby) Playing() int {
	return int(l.playing.Load())
}

// Shutdown closes every connection and session.
func (l *Lobby) Shutdown() {
	l.mu.Lock()
	defer l.mu.Unlock()

	for c := range l.clients {
		c.conn.Close()
		delete(l.clients, c)
	}
	for name, s := range l.sessions {
		s.destroy()
		delete(l.sessions, name)
	}
	l.rooms = make(map[string]*Room)
	l.logger.Info().Msg("lobby shut down")
}
