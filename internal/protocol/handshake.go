package protocol

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/encoding/unicode"
)

// Role classifies a connection after its first message.
type Role int

const (
	// RoleLobby speaks the tagged text protocol with framed messages.
	RoleLobby Role = iota
	// RolePipe is a game connection whose bytes are relayed verbatim.
	RolePipe
)

func (r Role) String() string {
	switch r {
	case RoleLobby:
		return "lobby"
	case RolePipe:
		return "pipe"
	default:
		return "unknown"
	}
}

// AppType distinguishes the two ends of a relayed game connection.
type AppType int

const (
	AppUnknown AppType = iota
	AppServer
	AppClient
)

func (a AppType) String() string {
	switch a {
	case AppServer:
		return "server"
	case AppClient:
		return "client"
	default:
		return "unknown"
	}
}

// Handshake is the parsed first message of a new connection.
type Handshake struct {
	Role Role

	// Lobby fields.
	Version  int
	Encoding string
	// First is the remainder of the handshake frame, already a complete
	// lobby message to dispatch.
	First []byte

	// Pipe fields. Raw is the greeting frame as received; it belongs
	// to the game traffic and is replayed to the peer once paired.
	AppType     AppType
	SessionUUID string
	Raw         []byte
}

var uuidPattern = regexp.MustCompile(`\w{8}-\w{4}-\w{4}-\w{4}-\w{12}`)

// ParseHandshake classifies the first framed message of a connection.
//
// Game connections announce themselves with a greeting containing the
// pipe marker, an application type token, and the session UUID they
// want to join. Everything else is a lobby handshake: one protocol
// version byte, one encoding-name length byte (zero means UTF-8), the
// encoding name, and then the first lobby message.
func ParseHandshake(payload []byte, versionMin, versionMax int) (*Handshake, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("empty handshake message")
	}

	if bytes.Contains(payload, []byte(PipeMarker)) {
		return parsePipeGreeting(payload)
	}

	version := int(payload[0])
	if version < versionMin || version > versionMax {
		return nil, fmt.Errorf("unsupported protocol version %d (supported %d-%d)", version, versionMin, versionMax)
	}

	if len(payload) < 2 {
		return nil, fmt.Errorf("handshake truncated after version byte")
	}

	encLen := int(payload[1])
	if len(payload) < 2+encLen {
		return nil, fmt.Errorf("handshake truncated inside encoding name (%d of %d bytes)", len(payload)-2, encLen)
	}

	encName := "utf-8"
	if encLen > 0 {
		encName = strings.ToLower(string(payload[2 : 2+encLen]))
	}

	return &Handshake{
		Role:     RoleLobby,
		Version:  version,
		Encoding: encName,
		First:    payload[2+encLen:],
	}, nil
}

func parsePipeGreeting(payload []byte) (*Handshake, error) {
	text := string(payload)

	appType := AppUnknown
	switch {
	case strings.Contains(text, AppTypeServer):
		appType = AppServer
	case strings.Contains(text, AppTypeClient):
		appType = AppClient
	}

	uuid := uuidPattern.FindString(text)
	if uuid == "" {
		return nil, fmt.Errorf("pipe greeting carries no session uuid")
	}

	return &Handshake{
		Role:        RolePipe,
		AppType:     appType,
		SessionUUID: uuid,
		Raw:         payload,
	}, nil
}

// ResolveEncoding maps a client-announced charset name to a decoder.
// Unknown or unmapped names fall back to UTF-8, matching how lenient
// the lobby has always been about this byte.
func ResolveEncoding(name string) encoding.Encoding {
	if name == "" || strings.EqualFold(name, "utf-8") || strings.EqualFold(name, "utf8") {
		return unicode.UTF8
	}
	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil || enc == nil {
		return unicode.UTF8
	}
	return enc
}
