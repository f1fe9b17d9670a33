package lobby

import "sync"

// Stat keys queryable through the ROOT command.
const (
	StatUniques     = "uniques"     // distinct source addresses
	StatUsers       = "users"       // distinct usernames ever authenticated
	StatLogins      = "logins"      // accepted sockets
	StatClients     = "clients"     // game connections recognized
	StatRooms       = "rooms"       // rooms created
	StatSessions    = "sessions"    // sessions started
	StatConnections = "connections" // completed relay pairs
)

// Stats tracks lifetime counters for the lobby. Counters only grow;
// point-in-time gauges (current users, rooms) come from the directory.
type Stats struct {
	mu        sync.Mutex
	uniques   map[string]struct{}
	usernames map[string]struct{}
	counters  map[string]int
}

// NewStats creates an empty counter set.
func NewStats() *Stats {
	return &Stats{
		uniques:   make(map[string]struct{}),
		usernames: make(map[string]struct{}),
		counters: map[string]int{
			StatLogins:      0,
			StatClients:     0,
			StatRooms:       0,
			StatSessions:    0,
			StatConnections: 0,
		},
	}
}

// AddUnique records a source address.
func (s *Stats) AddUnique(addr string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uniques[addr] = struct{}{}
}

// AddUsername records an authenticated username.
func (s *Stats) AddUsername(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usernames[name] = struct{}{}
}

// Inc increments a lifetime counter.
func (s *Stats) Inc(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[key]++
}

// Get returns the value of a stat key and whether the key exists.
// Set-valued stats report their cardinality.
func (s *Stats) Get(key string) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch key {
	case StatUniques:
		return len(s.uniques), true
	case StatUsers:
		return len(s.usernames), true
	default:
		v, ok := s.counters[key]
		return v, ok
	}
}

// Snapshot returns all stat values keyed by name.
func (s *Stats) Snapshot() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := make(map[string]int, len(s.counters)+2)
	for k, v := range s.counters {
		snap[k] = v
	}
	snap[StatUniques] = len(s.uniques)
	snap[StatUsers] = len(s.usernames)
	return snap
}

// Restore seeds lifetime counters from persisted values, used at startup
// so counters survive restarts.
func (s *Stats) Restore(values map[string]int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k, v := range values {
		if _, ok := s.counters[k]; ok && v > s.counters[k] {
			s.counters[k] = v
		}
	}
}
