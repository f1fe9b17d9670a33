package lobby

import (
	"time"

	"github.com/vcmi/proxy-server/internal/network"
)

// Client is the lobby-side state of one connected player. All mutable
// fields are guarded by the Lobby mutex.
type Client struct {
	conn *network.Conn
	addr string

	protocol int
	encoding string

	auth     bool
	username string
	version  string // game version announced via VER

	joined   bool
	ready    bool
	roomName string

	// livenessDeadline is pushed forward by ALIVE pongs; the health
	// sweep drops protocol 4 clients that let it lapse.
	livenessDeadline time.Time
}

func newClient(conn *network.Conn, protocol int, encoding string, livenessBudget time.Duration) *Client {
	return &Client{
		conn:             conn,
		addr:             conn.RemoteAddr().String(),
		protocol:         protocol,
		encoding:         encoding,
		livenessDeadline: time.Now().Add(livenessBudget),
	}
}

// Username returns the name the client authenticated with, empty until
// a successful GREETINGS.
func (c *Client) Username() string {
	return c.username
}

// Protocol returns the protocol version from the handshake.
func (c *Client) Protocol() int {
	return c.protocol
}

func (c *Client) send(text string) {
	if err := c.conn.WriteText(text); err != nil {
		// The read loop notices the broken socket and runs disconnect
		// cleanup, nothing more to do here.
		return
	}
}
