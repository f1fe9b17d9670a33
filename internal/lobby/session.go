package lobby

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vcmi/proxy-server/internal/network"
	"github.com/vcmi/proxy-server/internal/util"
)

// Session relays raw game traffic between paired peers after a room has
// started. Each pair couples the hosting player's game server process
// with one remote game client; bytes flow verbatim in both directions.
//
// Session state is guarded by its own mutex so relay traffic never
// contends with the lobby directory lock.
type Session struct {
	id          string
	name        string
	hostUUID    string
	clientUUIDs []string
	createdAt   time.Time

	mu          sync.Mutex
	pairs       []*gamePair
	grace       *time.Timer
	gracePeriod time.Duration
	closed      bool
	logger      zerolog.Logger

	// onEmpty fires after the grace period passes with no pairs left.
	onEmpty func(*Session)
}

type gamePair struct {
	server *pipeEnd
	client *pipeEnd
}

// pipeEnd is one side of a relay pair. Bytes that arrive before the
// opposite side has bound are queued and flushed on pairing.
type pipeEnd struct {
	conn     *network.Conn
	pair     *gamePair
	isServer bool
	bound    bool
	pending  [][]byte
}

func newSession(id, name, hostUUID string, clientUUIDs []string, onEmpty func(*Session)) *Session {
	s := &Session{
		id:          id,
		name:        name,
		hostUUID:    hostUUID,
		clientUUIDs: clientUUIDs,
		createdAt:   time.Now(),
		onEmpty:     onEmpty,
		logger:      util.ComponentLogger("session").With().Str("session", name).Logger(),
	}
	return s
}

// ID returns the session identifier the hosting game server binds with.
func (s *Session) ID() string { return s.id }

// Name returns the room name the session was started from.
func (s *Session) Name() string { return s.name }

// CreatedAt returns when the room was started.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// acceptsUUID reports whether the given bind UUID is valid for the
// given side of this session.
func (s *Session) acceptsUUID(uuid string, isServer bool) bool {
	if isServer {
		return uuid == s.hostUUID
	}
	for _, cu := range s.clientUUIDs {
		if cu == uuid {
			return true
		}
	}
	return false
}

// register attaches a game connection to the first pair missing its
// side, creating a new pair when all are complete. The end is not yet
// visible to the peer; bind makes it so.
func (s *Session) register(conn *network.Conn, isServer bool) *pipeEnd {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopGraceLocked()

	end := &pipeEnd{conn: conn, isServer: isServer}
	for _, pair := range s.pairs {
		if isServer && pair.server == nil {
			pair.server = end
			end.pair = pair
			return end
		}
		if !isServer && pair.client == nil {
			pair.client = end
			end.pair = pair
			return end
		}
	}

	pair := &gamePair{}
	if isServer {
		pair.server = end
	} else {
		pair.client = end
	}
	end.pair = pair
	s.pairs = append(s.pairs, pair)
	return end
}

// bind marks the end ready for traffic. When this completes a pair, the
// newly bound side's backlog is flushed to the peer first, then the
// peer's backlog back, and the pair goes live. Returns whether the pair
// is now complete.
func (s *Session) bind(end *pipeEnd) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	end.bound = true
	peer := end.peer()
	if peer == nil || !peer.bound {
		return false
	}

	s.logger.Info().
		Bool("server_side", end.isServer).
		Str("remote", end.conn.RemoteAddr().String()).
		Msg("relay pair complete")

	flush(end, peer)
	flush(peer, end)
	return true
}

// forward relays bytes from one end to its peer, queuing while the pair
// is incomplete.
func (s *Session) forward(end *pipeEnd, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	peer := end.peer()
	if peer == nil || !peer.bound || !end.bound {
		buf := make([]byte, len(data))
		copy(buf, data)
		end.pending = append(end.pending, buf)
		return
	}

	if err := peer.conn.WriteRaw(data); err != nil {
		s.logger.Debug().Err(err).Msg("relay write failed")
	}
}

// enqueue stores bytes read before the end was bound, preserving order
// ahead of any later traffic.
func (s *Session) enqueue(end *pipeEnd, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	buf := make([]byte, len(data))
	copy(buf, data)
	end.pending = append(end.pending, buf)
}

// remove detaches an end and tears down its whole pair: a half-open
// relay is useless, so the opposite connection is closed too. When the
// last pair goes away the grace timer starts.
func (s *Session) remove(end *pipeEnd) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pair := end.pair
	found := false
	for i, p := range s.pairs {
		if p == pair {
			s.pairs = append(s.pairs[:i], s.pairs[i+1:]...)
			found = true
			break
		}
	}
	if !found {
		return
	}

	if pair.server != nil {
		pair.server.conn.Close()
	}
	if pair.client != nil {
		pair.client.conn.Close()
	}

	s.logger.Info().Int("pairs_left", len(s.pairs)).Msg("relay pair removed")

	if len(s.pairs) == 0 {
		s.startGraceLocked()
	}
}

// PairCount returns the number of relay pairs, complete or half-open.
func (s *Session) PairCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pairs)
}

// armGrace starts the empty-session countdown. Called right after the
// session is created, before any game peer has connected.
func (s *Session) armGrace(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gracePeriod = d
	s.startGraceLocked()
}

func (s *Session) startGraceLocked() {
	if s.closed || s.gracePeriod <= 0 {
		return
	}
	s.stopGraceLocked()
	s.grace = time.AfterFunc(s.gracePeriod, func() {
		s.expire()
	})
}

func (s *Session) stopGraceLocked() {
	if s.grace != nil {
		s.grace.Stop()
		s.grace = nil
	}
}

func (s *Session) expire() {
	s.mu.Lock()
	if s.closed || len(s.pairs) > 0 {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.logger.Info().Msg("session expired with no connections")
	if s.onEmpty != nil {
		s.onEmpty(s)
	}
}

// destroy closes every connection and cancels the grace timer.
func (s *Session) destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.stopGraceLocked()
	for _, pair := range s.pairs {
		if pair.server != nil {
			pair.server.conn.Close()
		}
		if pair.client != nil {
			pair.client.conn.Close()
		}
	}
	s.pairs = nil
}

func (e *pipeEnd) peer() *pipeEnd {
	if e.pair == nil {
		return nil
	}
	if e.isServer {
		return e.pair.client
	}
	return e.pair.server
}

// flush drains src's backlog into dst. Caller holds the session mutex.
func flush(src, dst *pipeEnd) {
	for _, chunk := range src.pending {
		if err := dst.conn.WriteRaw(chunk); err != nil {
			break
		}
	}
	src.pending = nil
}
