package lobby

import (
	"bytes"
	"context"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vcmi/proxy-server/internal/config"
	"github.com/vcmi/proxy-server/internal/events"
	"github.com/vcmi/proxy-server/internal/network"
	"github.com/vcmi/proxy-server/internal/protocol"
)

// fakeConn is an in-memory net.Conn that records everything written to
// it. Reads are never exercised in these tests; messages are fed to the
// dispatcher directly.
type fakeConn struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	closed bool
}

func (f *fakeConn) Read(b []byte) (int, error) { return 0, net.ErrClosed }

func (f *fakeConn) Write(b []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.buf.Write(b)
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) LocalAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 5002}
}

func (f *fakeConn) RemoteAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 40000}
}

func (f *fakeConn) SetDeadline(t time.Time) error      { return nil }
func (f *fakeConn) SetReadDeadline(t time.Time) error  { return nil }
func (f *fakeConn) SetWriteDeadline(t time.Time) error { return nil }

func (f *fakeConn) output() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.buf.String()
}

func (f *fakeConn) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buf.Reset()
}

// scriptedConn feeds a fixed byte stream to the reader and records
// writes. Once the script is exhausted, reads block until Close so the
// relay loop stays alive while assertions run.
type scriptedConn struct {
	fakeConn
	feed *bytes.Reader
	done chan struct{}
	once sync.Once
}

func newScriptedConn(script []byte) *scriptedConn {
	return &scriptedConn{feed: bytes.NewReader(script), done: make(chan struct{})}
}

func (f *scriptedConn) Read(b []byte) (int, error) {
	if n, _ := f.feed.Read(b); n > 0 {
		return n, nil
	}
	<-f.done
	return 0, net.ErrClosed
}

func (f *scriptedConn) Close() error {
	f.once.Do(func() { close(f.done) })
	return f.fakeConn.Close()
}

func newTestLobby() *Lobby {
	return NewLobby(config.DefaultConfig(), events.NewEventBus(), NewStats())
}

func addTestClient(l *Lobby, proto int) (*Client, *fakeConn) {
	fc := &fakeConn{}
	c := newClient(network.NewConn(fc), proto, "utf-8", time.Minute)
	l.addClient(c)
	return c, fc
}

// authClient runs a GREETINGS for the client and clears its reply buffer.
func authClient(t *testing.T, l *Lobby, c *Client, fc *fakeConn, name string) {
	t.Helper()
	l.HandleMessage(context.Background(), c, "<GREETINGS>"+name)
	require.True(t, c.auth, "authentication for %s failed: %s", name, fc.output())
	fc.reset()
}

func TestGreetingsAuthenticates(t *testing.T) {
	l := newTestLobby()
	c, fc := addTestClient(l, 4)

	l.HandleMessage(context.Background(), c, "<GREETINGS>alice")

	assert.True(t, c.auth)
	assert.Equal(t, "alice", c.Username())
	out := fc.output()
	assert.Contains(t, out, ":>>SESSIONS:0")
	assert.Contains(t, out, ":>>USERS:1:alice")
}

func TestGreetingsRejectsBadNames(t *testing.T) {
	l := newTestLobby()

	cases := []struct {
		name    string
		wantErr string
	}{
		{"ab", "Too short username ab"},
		{"has space", "Invalid username"},
		{"all", "Invalid username"},
		{"System", "Invalid username"},
	}

	for _, tc := range cases {
		c, fc := addTestClient(l, 4)
		l.HandleMessage(context.Background(), c, "<GREETINGS>"+tc.name)
		assert.False(t, c.auth)
		assert.Contains(t, fc.output(), ":>>ERROR:"+tc.wantErr)
	}
}

func TestGreetingsRejectsDuplicateName(t *testing.T) {
	l := newTestLobby()
	first, ffc := addTestClient(l, 4)
	authClient(t, l, first, ffc, "alice")

	second, sfc := addTestClient(l, 4)
	l.HandleMessage(context.Background(), second, "<GREETINGS>alice")

	assert.False(t, second.auth)
	assert.Contains(t, sfc.output(), "This login is already occpupied")
}

func TestGreetingsTwiceIsAnError(t *testing.T) {
	l := newTestLobby()
	c, fc := addTestClient(l, 4)
	authClient(t, l, c, fc, "alice")

	l.HandleMessage(context.Background(), c, "<GREETINGS>bob")

	assert.Equal(t, "alice", c.Username())
	assert.Contains(t, fc.output(), errAlreadyAuthorized)
}

func TestCreateRoomWithCapacity(t *testing.T) {
	l := newTestLobby()
	c, fc := addTestClient(l, 4)
	authClient(t, l, c, fc, "host")

	l.HandleMessage(context.Background(), c, "<NEW>game<PSWD><COUNT>4")

	require.Contains(t, l.rooms, "game")
	r := l.rooms["game"]
	assert.Equal(t, 4, r.total)
	assert.False(t, r.protected)
	assert.True(t, c.joined)

	out := fc.output()
	assert.Contains(t, out, ":>>CREATED:game")
	assert.Contains(t, out, ":>>JOIN:game:host")
	assert.Contains(t, out, ":>>STATUS:1:host:False")
}

func TestCountIsWriteOnce(t *testing.T) {
	l := newTestLobby()
	c, fc := addTestClient(l, 4)
	authClient(t, l, c, fc, "host")

	l.HandleMessage(context.Background(), c, "<NEW>game<PSWD><COUNT>4")
	fc.reset()

	l.HandleMessage(context.Background(), c, "<COUNT>6")

	assert.Equal(t, 4, l.rooms["game"].total)
	assert.Contains(t, fc.output(), errRoomCapacitySet)
}

func TestCountOutOfRangeDestroysRoom(t *testing.T) {
	l := newTestLobby()
	c, fc := addTestClient(l, 4)
	authClient(t, l, c, fc, "host")

	l.HandleMessage(context.Background(), c, "<NEW>game<PSWD><COUNT>9")

	assert.NotContains(t, l.rooms, "game")
	assert.False(t, c.joined)
	out := fc.output()
	assert.Contains(t, out, ":>>KICK:game:host")
	assert.Contains(t, out, errRoomBadCapacity)
}

func TestDuplicateRoomNameRejected(t *testing.T) {
	l := newTestLobby()
	host, hfc := addTestClient(l, 4)
	authClient(t, l, host, hfc, "host")
	l.HandleMessage(context.Background(), host, "<NEW>game<PSWD><COUNT>4")

	other, ofc := addTestClient(l, 4)
	authClient(t, l, other, ofc, "other")
	l.HandleMessage(context.Background(), other, "<NEW>game<PSWD><COUNT>4")

	assert.False(t, other.joined)
	assert.Contains(t, ofc.output(), "session with this name already exists")
}

func TestJoinRoom(t *testing.T) {
	l := newTestLobby()
	host, hfc := addTestClient(l, 4)
	authClient(t, l, host, hfc, "host")
	l.HandleMessage(context.Background(), host, "<NEW>game<PSWD><COUNT>2")
	hfc.reset()

	guest, gfc := addTestClient(l, 4)
	authClient(t, l, guest, gfc, "guest")
	l.HandleMessage(context.Background(), guest, "<JOIN>game<PSWD>")

	require.True(t, guest.joined)
	assert.Equal(t, 2, l.rooms["game"].Joined())
	assert.Contains(t, hfc.output(), ":>>JOIN:game:guest")
	assert.Contains(t, gfc.output(), msgRoomChatHint)
}

func TestJoinUnknownRoom(t *testing.T) {
	l := newTestLobby()
	c, fc := addTestClient(l, 4)
	authClient(t, l, c, fc, "guest")

	l.HandleMessage(context.Background(), c, "<JOIN>nowhere<PSWD>")

	assert.False(t, c.joined)
	assert.Contains(t, fc.output(), "Room with name nowhere doesn't exist")
}

func TestJoinFullRoom(t *testing.T) {
	l := newTestLobby()
	host, hfc := addTestClient(l, 4)
	authClient(t, l, host, hfc, "host")
	l.HandleMessage(context.Background(), host, "<NEW>game<PSWD><COUNT>2")

	guest, gfc := addTestClient(l, 4)
	authClient(t, l, guest, gfc, "guest")
	l.HandleMessage(context.Background(), guest, "<JOIN>game<PSWD>")

	third, tfc := addTestClient(l, 4)
	authClient(t, l, third, tfc, "third")
	l.HandleMessage(context.Background(), third, "<JOIN>game<PSWD>")

	assert.False(t, third.joined)
	assert.Contains(t, tfc.output(), "Room game is full")
}

func TestPasswordProtectedJoin(t *testing.T) {
	l := newTestLobby()
	host, hfc := addTestClient(l, 4)
	authClient(t, l, host, hfc, "host")
	l.HandleMessage(context.Background(), host, "<NEW>game<PSWD>secret<COUNT>3")

	require.True(t, l.rooms["game"].protected)

	guest, gfc := addTestClient(l, 4)
	authClient(t, l, guest, gfc, "guest")

	l.HandleMessage(context.Background(), guest, "<JOIN>game<PSWD>wrong")
	assert.False(t, guest.joined)
	assert.Contains(t, gfc.output(), errWrongPassword)
	gfc.reset()

	l.HandleMessage(context.Background(), guest, "<JOIN>game<PSWD>secret")
	assert.True(t, guest.joined)
	assert.Equal(t, 2, l.rooms["game"].Joined())
}

func TestLeaveRoomAsGuest(t *testing.T) {
	l := newTestLobby()
	host, hfc := addTestClient(l, 4)
	authClient(t, l, host, hfc, "host")
	l.HandleMessage(context.Background(), host, "<NEW>game<PSWD><COUNT>3")

	guest, gfc := addTestClient(l, 4)
	authClient(t, l, guest, gfc, "guest")
	l.HandleMessage(context.Background(), guest, "<JOIN>game<PSWD>")
	hfc.reset()

	l.HandleMessage(context.Background(), guest, "<LEAVE>game")

	assert.False(t, guest.joined)
	assert.Equal(t, 1, l.rooms["game"].Joined())
	assert.Contains(t, hfc.output(), ":>>KICK:game:guest")
}

func TestLeaveRoomAsHostDestroysIt(t *testing.T) {
	l := newTestLobby()
	host, hfc := addTestClient(l, 4)
	authClient(t, l, host, hfc, "host")
	l.HandleMessage(context.Background(), host, "<NEW>game<PSWD><COUNT>3")

	guest, gfc := addTestClient(l, 4)
	authClient(t, l, guest, gfc, "guest")
	l.HandleMessage(context.Background(), guest, "<JOIN>game<PSWD>")
	gfc.reset()

	l.HandleMessage(context.Background(), host, "<LEAVE>game")

	assert.NotContains(t, l.rooms, "game")
	assert.False(t, host.joined)
	assert.False(t, guest.joined)
	assert.Contains(t, gfc.output(), ":>>KICK:game:guest")
}

func TestKickRequiresHost(t *testing.T) {
	l := newTestLobby()
	host, hfc := addTestClient(l, 4)
	authClient(t, l, host, hfc, "host")
	l.HandleMessage(context.Background(), host, "<NEW>game<PSWD><COUNT>3")

	guest, gfc := addTestClient(l, 4)
	authClient(t, l, guest, gfc, "guest")
	l.HandleMessage(context.Background(), guest, "<JOIN>game<PSWD>")
	gfc.reset()

	l.HandleMessage(context.Background(), guest, "<KICK>host")

	assert.True(t, host.joined)
	assert.Contains(t, gfc.output(), errNoPermission)
}

func TestKickRemovesGuest(t *testing.T) {
	l := newTestLobby()
	host, hfc := addTestClient(l, 4)
	authClient(t, l, host, hfc, "host")
	l.HandleMessage(context.Background(), host, "<NEW>game<PSWD><COUNT>3")

	guest, gfc := addTestClient(l, 4)
	authClient(t, l, guest, gfc, "guest")
	l.HandleMessage(context.Background(), guest, "<JOIN>game<PSWD>")
	gfc.reset()

	l.HandleMessage(context.Background(), host, "<KICK>guest")

	assert.False(t, guest.joined)
	assert.Equal(t, 1, l.rooms["game"].Joined())
	assert.Contains(t, gfc.output(), ":>>KICK:game:guest")
}

func TestStaleJoinClearedWhenRoomVanishes(t *testing.T) {
	l := newTestLobby()
	host, hfc := addTestClient(l, 4)
	authClient(t, l, host, hfc, "host")
	l.HandleMessage(context.Background(), host, "<NEW>game<PSWD><COUNT>2")

	guest, gfc := addTestClient(l, 4)
	authClient(t, l, guest, gfc, "guest")
	l.HandleMessage(context.Background(), guest, "<JOIN>game")
	require.True(t, guest.joined)

	// The room dies between the guest's JOIN and its PSWD.
	l.HandleMessage(context.Background(), host, "<LEAVE>game")
	gfc.reset()

	l.HandleMessage(context.Background(), guest, "<PSWD>")

	assert.Contains(t, gfc.output(), "Room with name game doesn't exist")
	assert.False(t, guest.joined)

	// The connection stays usable: the guest can host a fresh room.
	gfc.reset()
	l.HandleMessage(context.Background(), guest, "<NEW>fresh<PSWD><COUNT>2")
	assert.Contains(t, l.rooms, "fresh")
	assert.Contains(t, gfc.output(), ":>>CREATED:fresh")
}

func TestReadyStartsFullRoom(t *testing.T) {
	l := newTestLobby()
	host, hfc := addTestClient(l, 4)
	authClient(t, l, host, hfc, "host")
	l.HandleMessage(context.Background(), host, "<NEW>game<PSWD><COUNT>2")

	guest, gfc := addTestClient(l, 4)
	authClient(t, l, guest, gfc, "guest")
	l.HandleMessage(context.Background(), guest, "<JOIN>game<PSWD>")
	hfc.reset()
	gfc.reset()

	l.HandleMessage(context.Background(), host, "<READY>game")
	assert.NotContains(t, l.sessions, "game")

	l.HandleMessage(context.Background(), guest, "<READY>game")

	// The room became a session: the host gets HOST with the expected
	// remote client count before its own START, every player gets a
	// START with its own uuid, and both lobby sockets close.
	require.Contains(t, l.sessions, "game")
	assert.NotContains(t, l.rooms, "game")
	hostOut := hfc.output()
	assert.Contains(t, hostOut, ":>>HOST:")
	assert.Contains(t, hostOut, ":1")
	assert.Contains(t, hostOut, ":>>START:")
	assert.Less(t, strings.Index(hostOut, ":>>HOST:"), strings.Index(hostOut, ":>>START:"))
	assert.Contains(t, gfc.output(), ":>>START:")
	assert.Len(t, l.sessions["game"].clientUUIDs, 2)
	assert.True(t, hfc.closed)
	assert.True(t, gfc.closed)
	assert.NotContains(t, l.clients, host)
	assert.NotContains(t, l.clients, guest)

	sessions, _ := l.stats.Get(StatSessions)
	assert.Equal(t, 1, sessions)
}

func TestHostReadyStartsImmediatelyOnOldProtocol(t *testing.T) {
	l := newTestLobby()
	host, hfc := addTestClient(l, 2)
	authClient(t, l, host, hfc, "host")
	l.HandleMessage(context.Background(), host, "<NEW>game<PSWD><COUNT>2")

	guest, gfc := addTestClient(l, 2)
	authClient(t, l, guest, gfc, "guest")
	l.HandleMessage(context.Background(), guest, "<JOIN>game<PSWD>")
	hfc.reset()

	// Protocol 2 has no FORCESTART; the host toggling ready launches the
	// game regardless of guest readiness.
	l.HandleMessage(context.Background(), host, "<READY>game")

	assert.Contains(t, l.sessions, "game")
	assert.Contains(t, hfc.output(), ":>>HOST:")
}

func TestForceStartRequiresHost(t *testing.T) {
	l := newTestLobby()
	host, hfc := addTestClient(l, 4)
	authClient(t, l, host, hfc, "host")
	l.HandleMessage(context.Background(), host, "<NEW>game<PSWD><COUNT>3")

	guest, gfc := addTestClient(l, 4)
	authClient(t, l, guest, gfc, "guest")
	l.HandleMessage(context.Background(), guest, "<JOIN>game<PSWD>")
	gfc.reset()

	l.HandleMessage(context.Background(), guest, "<FORCESTART>game")
	assert.NotContains(t, l.sessions, "game")
	assert.Contains(t, gfc.output(), errNoPermission)

	l.HandleMessage(context.Background(), host, "<FORCESTART>game")
	assert.Contains(t, l.sessions, "game")
}

func TestKickCanTriggerStart(t *testing.T) {
	l := newTestLobby()
	host, hfc := addTestClient(l, 4)
	authClient(t, l, host, hfc, "host")
	l.HandleMessage(context.Background(), host, "<NEW>game<PSWD><COUNT>3")

	guest, gfc := addTestClient(l, 4)
	authClient(t, l, guest, gfc, "guest")
	l.HandleMessage(context.Background(), guest, "<JOIN>game<PSWD>")

	slow, sfc := addTestClient(l, 4)
	authClient(t, l, slow, sfc, "slow")
	l.HandleMessage(context.Background(), slow, "<JOIN>game<PSWD>")

	l.HandleMessage(context.Background(), host, "<READY>game")
	l.HandleMessage(context.Background(), guest, "<READY>game")
	assert.NotContains(t, l.sessions, "game")

	// Removing the lone unready player leaves everyone ready.
	l.HandleMessage(context.Background(), host, "<KICK>slow")

	assert.Contains(t, l.sessions, "game")
	assert.NotContains(t, l.rooms, "game")
}

func TestChatBroadcast(t *testing.T) {
	l := newTestLobby()
	a, afc := addTestClient(l, 4)
	authClient(t, l, a, afc, "alice")
	b, bfc := addTestClient(l, 4)
	authClient(t, l, b, bfc, "bob")

	l.HandleMessage(context.Background(), a, "<MSG>hello there")

	assert.Contains(t, afc.output(), ":>>MSG:alice:hello there")
	assert.Contains(t, bfc.output(), ":>>MSG:alice:hello there")
}

func TestChatDirectMessage(t *testing.T) {
	l := newTestLobby()
	a, afc := addTestClient(l, 4)
	authClient(t, l, a, afc, "alice")
	b, bfc := addTestClient(l, 4)
	authClient(t, l, b, bfc, "bob")
	c, cfc := addTestClient(l, 4)
	authClient(t, l, c, cfc, "carol")

	l.HandleMessage(context.Background(), a, "<MSG>@bob psst")

	assert.Contains(t, afc.output(), ":>>MSG:alice:psst")
	assert.Contains(t, bfc.output(), ":>>MSG:alice:psst")
	assert.NotContains(t, cfc.output(), "psst")
}

func TestChatRoomScopeAndEscape(t *testing.T) {
	l := newTestLobby()
	host, hfc := addTestClient(l, 4)
	authClient(t, l, host, hfc, "host")
	l.HandleMessage(context.Background(), host, "<NEW>game<PSWD><COUNT>3")

	guest, gfc := addTestClient(l, 4)
	authClient(t, l, guest, gfc, "guest")
	l.HandleMessage(context.Background(), guest, "<JOIN>game<PSWD>")

	outsider, ofc := addTestClient(l, 4)
	authClient(t, l, outsider, ofc, "outsider")
	ofc.reset()

	// Room members chat among themselves by default.
	l.HandleMessage(context.Background(), guest, "<MSG>room only")
	assert.NotContains(t, ofc.output(), "room only")

	// @all escapes back to the global channel.
	l.HandleMessage(context.Background(), guest, "<MSG>@all everyone")
	assert.Contains(t, ofc.output(), ":>>MSG:guest:everyone")
}

func TestChatTarget(t *testing.T) {
	target, body := chatTarget("@bob hello")
	assert.Equal(t, "bob", target)
	assert.Equal(t, "hello", body)

	target, body = chatTarget("plain text")
	assert.Equal(t, "", target)
	assert.Equal(t, "plain text", body)

	target, body = chatTarget("@")
	assert.Equal(t, "", target)
	assert.Equal(t, "@", body)
}

func TestHereOnOldProtocol(t *testing.T) {
	l := newTestLobby()
	host, hfc := addTestClient(l, 4)
	authClient(t, l, host, hfc, "host")
	l.HandleMessage(context.Background(), host, "<NEW>game<PSWD><COUNT>2")

	old, ofc := addTestClient(l, 2)
	authClient(t, l, old, ofc, "elder")
	ofc.reset()

	l.HandleMessage(context.Background(), old, "<HERE>")

	out := ofc.output()
	assert.Contains(t, out, msgPeopleInLobby)
	assert.Contains(t, out, "host[room game]")
	assert.Contains(t, out, "elder")
}

func TestRootStatsQuery(t *testing.T) {
	l := newTestLobby()
	c, fc := addTestClient(l, 4)
	authClient(t, l, c, fc, "admin")

	l.HandleMessage(context.Background(), c, "<ROOT>users")
	assert.Contains(t, fc.output(), ":>>MSG:System:1")
	fc.reset()

	l.HandleMessage(context.Background(), c, "<ROOT>bogus")
	assert.Contains(t, fc.output(), errUnknownCommand)
}

func TestAliveRefillsLiveness(t *testing.T) {
	l := newTestLobby()
	c, fc := addTestClient(l, 4)
	authClient(t, l, c, fc, "alice")

	c.livenessDeadline = time.Now().Add(-time.Minute)
	l.HandleMessage(context.Background(), c, "<ALIVE>")

	assert.True(t, c.livenessDeadline.After(time.Now()))
}

func TestVersionAnnouncement(t *testing.T) {
	l := newTestLobby()
	c, fc := addTestClient(l, 4)
	authClient(t, l, c, fc, "alice")

	l.HandleMessage(context.Background(), c, "<VER>1.5.7")
	assert.Equal(t, "1.5.7", c.version)
}

func TestModsForwardedToHost(t *testing.T) {
	l := newTestLobby()
	host, hfc := addTestClient(l, 4)
	authClient(t, l, host, hfc, "host")
	l.HandleMessage(context.Background(), host, "<NEW>game<PSWD><COUNT>2<MODS>wog&1.0")

	require.Equal(t, "1:wog:1.0", l.rooms["game"].modsString())

	guest, gfc := addTestClient(l, 4)
	authClient(t, l, guest, gfc, "guest")
	l.HandleMessage(context.Background(), guest, "<JOIN>game<PSWD>")
	hfc.reset()
	gfc.reset()

	l.HandleMessage(context.Background(), guest, "<MODS>hota&2.0")

	// The guest sees the host's authoritative list, the host gets the
	// guest's for comparison.
	assert.Contains(t, gfc.output(), ":>>MODS:1:wog:1.0")
	assert.Contains(t, hfc.output(), ":>>MODSOTHER:guest:1:hota:2.0")
}

func TestDisconnectGuestLeavesRoom(t *testing.T) {
	l := newTestLobby()
	host, hfc := addTestClient(l, 4)
	authClient(t, l, host, hfc, "host")
	l.HandleMessage(context.Background(), host, "<NEW>game<PSWD><COUNT>3")

	guest, gfc := addTestClient(l, 4)
	authClient(t, l, guest, gfc, "guest")
	l.HandleMessage(context.Background(), guest, "<JOIN>game<PSWD>")
	hfc.reset()

	l.Disconnect(context.Background(), guest)

	assert.NotContains(t, l.clients, guest)
	assert.Equal(t, 1, l.rooms["game"].Joined())
	assert.Contains(t, hfc.output(), ":>>KICK:game:guest")
}

func TestDisconnectHostDestroysRoom(t *testing.T) {
	l := newTestLobby()
	host, hfc := addTestClient(l, 4)
	authClient(t, l, host, hfc, "host")
	l.HandleMessage(context.Background(), host, "<NEW>game<PSWD><COUNT>3")

	guest, gfc := addTestClient(l, 4)
	authClient(t, l, guest, gfc, "guest")
	l.HandleMessage(context.Background(), guest, "<JOIN>game<PSWD>")
	gfc.reset()

	l.Disconnect(context.Background(), host)

	assert.NotContains(t, l.rooms, "game")
	assert.False(t, guest.joined)
	assert.Contains(t, gfc.output(), ":>>KICK:game:guest")
}

func TestHealthCheckPingsAndDrops(t *testing.T) {
	l := newTestLobby()
	fresh, ffc := addTestClient(l, 4)
	authClient(t, l, fresh, ffc, "fresh")

	stale, sfc := addTestClient(l, 4)
	authClient(t, l, stale, sfc, "stale")
	stale.livenessDeadline = time.Now().Add(-time.Second)

	old, ofc := addTestClient(l, 2)
	authClient(t, l, old, ofc, "elder")

	l.HealthCheck()

	assert.Contains(t, ffc.output(), ":>>HEALTH")
	assert.True(t, sfc.closed)
	// Older protocols know no HEALTH message and are left alone.
	assert.NotContains(t, ofc.output(), ":>>HEALTH")
	assert.False(t, ofc.closed)
}

func TestSweepIdleClosesUnauthenticated(t *testing.T) {
	l := newTestLobby()
	idle, ifc := addTestClient(l, 4)
	_ = idle

	authed, afc := addTestClient(l, 4)
	authClient(t, l, authed, afc, "alice")

	// Zero window makes every unauthenticated connection overdue.
	swept := l.SweepIdle(0)

	assert.Equal(t, 1, swept)
	assert.True(t, ifc.closed)
	assert.False(t, afc.closed)
}

func TestAnnounce(t *testing.T) {
	l := newTestLobby()
	a, afc := addTestClient(l, 4)
	authClient(t, l, a, afc, "alice")
	_, pending := addTestClient(l, 4)

	sent := l.Announce("maintenance at noon")

	assert.Equal(t, 1, sent)
	assert.Contains(t, afc.output(), ":>>MSG:System:maintenance at noon")
	assert.Empty(t, pending.output())
}

func TestPipeGreetingReplayedToPeer(t *testing.T) {
	l := newTestLobby()
	hostUUID := "11111111-1111-1111-1111-111111111111"
	clientUUID := "22222222-2222-2222-2222-222222222222"
	sess := newSession("sess-1", "game", hostUUID, []string{clientUUID}, func(*Session) {})
	l.sessions["game"] = sess

	serverGreeting := []byte("Aiya!(server)" + hostUUID)
	clientGreeting := []byte("Aiya!(client)" + clientUUID)

	serverConn := newScriptedConn(append(protocol.Frame(serverGreeting), 0x01))
	clientConn := newScriptedConn(append(protocol.Frame(clientGreeting), 0x00))
	defer serverConn.Close()
	defer clientConn.Close()

	go l.HandleConn(context.Background(), network.NewConn(serverConn))
	go l.HandleConn(context.Background(), network.NewConn(clientConn))

	// Each peer must see the other's greeting frame, prefix intact,
	// then the byte-order flag, before any game traffic.
	wantOnClient := string(append(protocol.Frame(serverGreeting), 0x01))
	wantOnServer := string(append(protocol.Frame(clientGreeting), 0x00))
	require.Eventually(t, func() bool {
		return clientConn.output() == wantOnClient && serverConn.output() == wantOnServer
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDropUser(t *testing.T) {
	l := newTestLobby()
	a, afc := addTestClient(l, 4)
	authClient(t, l, a, afc, "alice")

	err := l.DropUser("alice")

	require.NoError(t, err)
	assert.Contains(t, afc.output(), "disconnected by the server operator")
	assert.True(t, afc.closed)

	assert.Error(t, l.DropUser("nobody"))
}

func TestUpdateRoomsHidesStartedSessions(t *testing.T) {
	l := newTestLobby()
	host, hfc := addTestClient(l, 4)
	authClient(t, l, host, hfc, "host")
	l.HandleMessage(context.Background(), host, "<NEW>game<PSWD><COUNT>2")

	watcher, wfc := addTestClient(l, 4)
	authClient(t, l, watcher, wfc, "watcher")
	assert.Contains(t, wfc.output(), ":>>SESSIONS:1:game:1:2:False")
	wfc.reset()

	guest, gfc := addTestClient(l, 4)
	authClient(t, l, guest, gfc, "guest")
	l.HandleMessage(context.Background(), guest, "<JOIN>game<PSWD>")
	wfc.reset()

	l.HandleMessage(context.Background(), host, "<FORCESTART>game")

	lines := wfc.output()
	assert.True(t, strings.Contains(lines, ":>>SESSIONS:0"), "started room still advertised: %s", lines)
}
