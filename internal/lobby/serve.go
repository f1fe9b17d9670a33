package lobby

import (
	"context"
	"time"

	"github.com/vcmi/proxy-server/internal/events"
	"github.com/vcmi/proxy-server/internal/network"
	"github.com/vcmi/proxy-server/internal/protocol"
)

const relayBufferSize = 4096

// HandleConn owns one accepted connection for its lifetime. The first
// frame decides everything: lobby clients go through the tagged command
// loop, game peers are bound into a session and relayed raw.
func (l *Lobby) HandleConn(ctx context.Context, conn *network.Conn) {
	l.stats.Inc(StatLogins)
	l.stats.AddUnique(conn.RemoteIP())

	timers := l.cfg.GetApplicationData().Timers
	handshakeTimeout := time.Duration(timers.HandshakeTimeout) * time.Second

	payload, err := conn.ReadFrame(handshakeTimeout)
	if err != nil {
		l.logger.Debug().Err(err).Str("remote", conn.RemoteAddr().String()).Msg("handshake read failed")
		return
	}

	server := l.cfg.GetServer()
	hs, err := protocol.ParseHandshake(payload, server.ProtocolVersionMin, server.ProtocolVersionMax)
	if err != nil {
		l.logger.Warn().Err(err).Str("remote", conn.RemoteAddr().String()).Msg("rejecting connection")
		conn.WriteText(protocol.Reply(protocol.ReplyError, errProtocolMismatch))
		return
	}

	switch hs.Role {
	case protocol.RoleLobby:
		l.serveLobby(ctx, conn, hs)
	case protocol.RolePipe:
		l.servePipe(ctx, conn, hs)
	}
}

// serveLobby runs the framed message loop for a lobby client.
func (l *Lobby) serveLobby(ctx context.Context, conn *network.Conn, hs *protocol.Handshake) {
	conn.SetEncoding(hs.Encoding)

	budget := time.Duration(l.cfg.GetApplicationData().Timers.LivenessBudget) * time.Second
	c := newClient(conn, hs.Version, hs.Encoding, budget)
	l.addClient(c)
	defer l.Disconnect(ctx, c)

	l.logger.Debug().
		Str("remote", c.addr).
		Int("protocol", hs.Version).
		Str("encoding", hs.Encoding).
		Msg("lobby client connected")

	// The handshake frame carries the first lobby message.
	if len(hs.First) > 0 {
		l.HandleMessage(ctx, c, conn.Decode(hs.First))
	}

	for {
		payload, err := conn.ReadFrame(0)
		if err != nil {
			return
		}
		l.HandleMessage(ctx, c, conn.Decode(payload))
	}
}

// servePipe binds a game connection into its session and relays bytes
// until either side goes away.
func (l *Lobby) servePipe(ctx context.Context, conn *network.Conn, hs *protocol.Handshake) {
	l.stats.Inc(StatClients)
	isServer := hs.AppType == protocol.AppServer

	sess := l.findSession(hs.SessionUUID, isServer)
	if sess == nil {
		l.logger.Warn().
			Str("remote", conn.RemoteAddr().String()).
			Str("uuid", hs.SessionUUID).
			Str("side", hs.AppType.String()).
			Msg("game peer binds to unknown session")
		return
	}

	l.logger.Info().
		Str("session", sess.name).
		Str("side", hs.AppType.String()).
		Str("remote", conn.RemoteAddr().String()).
		Msg("binding game peer")

	end := sess.register(conn, isServer)
	defer sess.remove(end)

	l.playing.Add(1)
	defer l.playing.Add(-1)

	// The greeting frame is game traffic: the peer expects to receive
	// it, prefix and all, as the first message after pairing.
	sess.enqueue(end, protocol.Frame(hs.Raw))

	// One lone byte follows the greeting: the peer's byte-order flag.
	// It is opaque here and travels to the opposite side ahead of any
	// later traffic.
	timers := l.cfg.GetApplicationData().Timers
	flag, err := conn.ReadSingleByte(time.Duration(timers.HandshakeTimeout) * time.Second)
	if err != nil {
		l.logger.Debug().Err(err).Str("session", sess.name).Msg("game peer dropped before byte-order flag")
		return
	}
	sess.enqueue(end, []byte{flag})

	if sess.bind(end) {
		l.stats.Inc(StatConnections)
		l.bus.Emit(ctx, events.Event{
			Type:    events.EventPipePaired,
			Source:  "lobby",
			Payload: events.SessionPayload{SessionID: sess.id, Name: sess.name, Pairs: sess.PairCount()},
		})
	}

	buf := make([]byte, relayBufferSize)
	for {
		n, err := conn.ReadRaw(buf)
		if err != nil {
			l.bus.Emit(ctx, events.Event{
				Type:    events.EventPipeClosed,
				Source:  "lobby",
				Payload: events.SessionPayload{SessionID: sess.id, Name: sess.name},
			})
			return
		}
		sess.forward(end, buf[:n])
	}
}
