// Package network implements the TCP listener and the connection wrapper
// shared by lobby and relayed game traffic.
package network

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"

	"github.com/vcmi/proxy-server/internal/protocol"
	"github.com/vcmi/proxy-server/internal/util"
)

// Conn wraps a TCP connection from a game client. Lobby traffic is read
// as length-prefixed frames and written as charset-encoded text; relayed
// game traffic bypasses both and moves raw bytes.
type Conn struct {
	mu     sync.Mutex
	conn   net.Conn
	logger zerolog.Logger

	encoder *encoding.Encoder
	decoder *encoding.Decoder

	connectedAt  time.Time
	lastActivity time.Time

	closed bool
}

// NewConn wraps an accepted net.Conn. The encoding defaults to UTF-8
// until the lobby handshake announces another charset.
func NewConn(conn net.Conn) *Conn {
	now := time.Now()
	return &Conn{
		conn:         conn,
		encoder:      encoding.ReplaceUnsupported(unicode.UTF8.NewEncoder()),
		decoder:      unicode.UTF8.NewDecoder(),
		connectedAt:  now,
		lastActivity: now,
		logger:       util.ComponentLogger("conn").With().Str("remote", conn.RemoteAddr().String()).Logger(),
	}
}

// SetEncoding switches text encoding to the charset the client announced
// in its handshake. Unknown names fall back to UTF-8.
func (c *Conn) SetEncoding(name string) {
	enc := protocol.ResolveEncoding(name)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.encoder = encoding.ReplaceUnsupported(enc.NewEncoder())
	c.decoder = enc.NewDecoder()
}

// ReadFrame reads a single length-prefixed message. A zero timeout
// blocks indefinitely.
func (c *Conn) ReadFrame(timeout time.Duration) ([]byte, error) {
	if timeout > 0 {
		c.conn.SetReadDeadline(time.Now().Add(timeout))
	} else {
		c.conn.SetReadDeadline(time.Time{})
	}

	payload, err := protocol.ReadMessage(c.conn)
	if err != nil {
		return nil, err
	}

	c.touch()
	return payload, nil
}

// ReadRaw reads whatever bytes are available into buf, for relayed game
// traffic that carries no framing.
func (c *Conn) ReadRaw(buf []byte) (int, error) {
	c.conn.SetReadDeadline(time.Time{})
	n, err := c.conn.Read(buf)
	if n > 0 {
		c.touch()
	}
	return n, err
}

// ReadSingleByte reads exactly one byte. Game peers send a lone
// byte-order flag right after their greeting, outside any frame.
func (c *Conn) ReadSingleByte(timeout time.Duration) (byte, error) {
	if timeout > 0 {
		c.conn.SetReadDeadline(time.Now().Add(timeout))
	}

	var b [1]byte
	if _, err := c.conn.Read(b[:]); err != nil {
		return 0, err
	}
	c.touch()
	return b[0], nil
}

// Decode converts received bytes to a string using the negotiated
// charset. Undecodable bytes are replaced, never fatal.
func (c *Conn) Decode(data []byte) string {
	c.mu.Lock()
	decoder := c.decoder
	c.mu.Unlock()

	out, err := decoder.Bytes(data)
	if err != nil {
		return string(data)
	}
	return string(out)
}

// WriteText encodes a lobby reply in the negotiated charset and writes
// it without a length prefix, which is how lobby clients expect replies.
func (c *Conn) WriteText(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("connection is closed")
	}

	data, err := c.encoder.Bytes([]byte(text))
	if err != nil {
		data = []byte(text)
	}

	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if _, err := c.conn.Write(data); err != nil {
		return fmt.Errorf("failed to write reply: %w", err)
	}

	c.lastActivity = time.Now()
	return nil
}

// WriteRaw writes bytes verbatim, for relayed game traffic.
func (c *Conn) WriteRaw(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("connection is closed")
	}

	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if _, err := c.conn.Write(data); err != nil {
		return fmt.Errorf("failed to write data: %w", err)
	}

	c.lastActivity = time.Now()
	return nil
}

// Close closes the connection. Safe to call more than once.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	c.closed = true
	c.logger.Debug().Msg("connection closed")
	return c.conn.Close()
}

// IsClosed returns whether the connection has been closed.
func (c *Conn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// LastActivity returns the time of the last read or write.
func (c *Conn) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity
}

// ConnectedAt returns the time the connection was accepted.
func (c *Conn) ConnectedAt() time.Time {
	return c.connectedAt
}

// RemoteAddr returns the remote address of the connection.
func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// RemoteIP returns just the IP part of the remote address.
func (c *Conn) RemoteIP() string {
	if addr, ok := c.conn.RemoteAddr().(*net.TCPAddr); ok {
		return addr.IP.String()
	}
	host, _, _ := net.SplitHostPort(c.conn.RemoteAddr().String())
	return host
}

func (c *Conn) touch() {
	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()
}
