// Package events defines event types and the publish-subscribe bus used
// to decouple the lobby core from telemetry, persistence, and the API.
package events

// EventType represents the type of event emitted through the EventBus.
type EventType string

const (
	// Lobby events
	EventUserAuthenticated EventType = "user_authenticated"
	EventUserDisconnected  EventType = "user_disconnected"
	EventRoomCreated       EventType = "room_created"
	EventRoomDestroyed     EventType = "room_destroyed"
	EventRoomJoined        EventType = "room_joined"
	EventRoomLeft          EventType = "room_left"
	EventUserKicked        EventType = "user_kicked"

	// Relay events
	EventSessionStarted   EventType = "session_started"
	EventSessionDestroyed EventType = "session_destroyed"
	EventPipePaired       EventType = "pipe_paired"
	EventPipeClosed       EventType = "pipe_closed"

	// System events
	EventStatsSnapshot EventType = "stats_snapshot"
	EventConfigChanged EventType = "config_changed"
	EventShutdown      EventType = "shutdown"
)

// Event represents a single event in the system.
type Event struct {
	Type    EventType
	Source  string
	Payload interface{}
}

// UserPayload accompanies user lifecycle events.
type UserPayload struct {
	Username string
	Version  string
	Protocol int
	Addr     string
}

// RoomPayload accompanies room lifecycle events.
type RoomPayload struct {
	Room      string
	Host      string
	Joined    int
	Total     int
	Protected bool
}

// KickPayload accompanies user kick events.
type KickPayload struct {
	Room   string
	Kicked string
	Host   string
}

// SessionPayload accompanies relay session lifecycle events.
type SessionPayload struct {
	SessionID string
	Name      string
	Players   int
	Pairs     int
}

// StatsPayload carries a point-in-time snapshot of the lobby counters.
type StatsPayload struct {
	Users       int
	Rooms       int
	Sessions    int
	Connections int
}

// ConfigChangedPayload is emitted when configuration changes occur.
type ConfigChangedPayload struct {
	Section string
	Key     string
	Value   interface{}
}
