package lobby

import (
	"fmt"
	"strings"
)

// Game modes settable by the host via HOSTMODE.
const (
	GameModeNew  = 0
	GameModeLoad = 1
)

// Room is a pre-game gathering of players. Guarded by the Lobby mutex.
type Room struct {
	name      string
	host      *Client
	players   []*Client // host first, then join order
	total     int       // capacity; 1 means not set yet
	password  string
	protected bool
	gameMode  int
	started   bool

	// mods is the host-announced mod list, name to version. It is the
	// authoritative set guests compare against.
	mods      map[string]string
	modsOrder []string
}

func newRoom(host *Client, name string) *Room {
	return &Room{
		name:     name,
		host:     host,
		players:  []*Client{host},
		total:    1,
		gameMode: GameModeNew,
		mods:     make(map[string]string),
	}
}

// Joined returns the number of players in the room, host included.
func (r *Room) Joined() int {
	return len(r.players)
}

func (r *Room) isMember(c *Client) bool {
	for _, p := range r.players {
		if p == c {
			return true
		}
	}
	return false
}

func (r *Room) join(c *Client) bool {
	if r.isMember(c) || len(r.players) >= r.total {
		return false
	}
	r.players = append(r.players, c)
	return true
}

func (r *Room) leave(c *Client) {
	if c == r.host {
		return
	}
	for i, p := range r.players {
		if p == c {
			r.players = append(r.players[:i], r.players[i+1:]...)
			return
		}
	}
}

// setMods replaces the authoritative mod list from the host's
// announcement, preserving announcement order.
func (r *Room) setMods(mods []Mod) {
	r.mods = make(map[string]string, len(mods))
	r.modsOrder = r.modsOrder[:0]
	for _, m := range mods {
		if _, seen := r.mods[m.Name]; !seen {
			r.modsOrder = append(r.modsOrder, m.Name)
		}
		r.mods[m.Name] = m.Version
	}
}

// modsString renders the mod list as "count:name:version:...".
func (r *Room) modsString() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d", len(r.mods)))
	for _, name := range r.modsOrder {
		sb.WriteString(":")
		sb.WriteString(name)
		sb.WriteString(":")
		sb.WriteString(r.mods[name])
	}
	return sb.String()
}

// allReady reports whether every player in the room toggled ready.
func (r *Room) allReady() bool {
	for _, p := range r.players {
		if !p.ready {
			return false
		}
	}
	return true
}

func (r *Room) resetReady() {
	for _, p := range r.players {
		p.ready = false
	}
}

// Mod is one entry of a client's mod announcement.
type Mod struct {
	Name    string
	Version string
}

// parseMods splits a MODS value, a semicolon list of name&version pairs.
func parseMods(value string) []Mod {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ";")
	mods := make([]Mod, 0, len(parts))
	for _, p := range parts {
		name, version, _ := strings.Cut(p, "&")
		mods = append(mods, Mod{Name: name, Version: version})
	}
	return mods
}
