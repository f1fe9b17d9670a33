package db

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/vcmi/proxy-server/internal/events"
)

// StatsStore persists lifetime counters keyed by name.
type StatsStore struct {
	db *Database
}

// NewStatsStore opens the store and creates its schema.
func NewStatsStore(db *Database) (*StatsStore, error) {
	schema := `
	CREATE TABLE IF NOT EXISTS counters (
		name  TEXT PRIMARY KEY,
		value INTEGER NOT NULL DEFAULT 0
	);
	CREATE TABLE IF NOT EXISTS snapshots (
		taken_at    INTEGER NOT NULL,
		users       INTEGER NOT NULL,
		rooms       INTEGER NOT NULL,
		sessions    INTEGER NOT NULL,
		connections INTEGER NOT NULL
	);`

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to create stats schema: %w", err)
	}

	return &StatsStore{db: db}, nil
}

// SaveCounters upserts all lifetime counters.
func (s *StatsStore) SaveCounters(values map[string]int) error {
	for name, value := range values {
		_, err := s.db.Exec(
			`INSERT INTO counters (name, value) VALUES (?, ?)
			 ON CONFLICT(name) DO UPDATE SET value = excluded.value`,
			name, value,
		)
		if err != nil {
			return fmt.Errorf("failed to save counter %s: %w", name, err)
		}
	}
	return nil
}

// LoadCounters reads all persisted counters.
func (s *StatsStore) LoadCounters() (map[string]int, error) {
	rows, err := s.db.Query(`SELECT name, value FROM counters`)
	if err != nil {
		return nil, fmt.Errorf("failed to load counters: %w", err)
	}
	defer rows.Close()

	values := make(map[string]int)
	for rows.Next() {
		var name string
		var value int
		if err := rows.Scan(&name, &value); err != nil {
			return nil, fmt.Errorf("failed to scan counter: %w", err)
		}
		values[name] = value
	}
	return values, rows.Err()
}

// RecordSnapshot appends an occupancy snapshot.
func (s *StatsStore) RecordSnapshot(takenAt int64, snap events.StatsPayload) error {
	_, err := s.db.Exec(
		`INSERT INTO snapshots (taken_at, users, rooms, sessions, connections) VALUES (?, ?, ?, ?, ?)`,
		takenAt, snap.Users, snap.Rooms, snap.Sessions, snap.Connections,
	)
	if err != nil {
		return fmt.Errorf("failed to record snapshot: %w", err)
	}
	return nil
}

// PruneSnapshots drops snapshots older than the cutoff timestamp.
func (s *StatsStore) PruneSnapshots(cutoff int64) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM snapshots WHERE taken_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune snapshots: %w", err)
	}
	return res.RowsAffected()
}

// CounterProvider supplies the current counter values at flush time.
type CounterProvider func() map[string]int

// Subscribe attaches the store to the event bus: occupancy snapshots
// are recorded as they are emitted, and counters are flushed alongside.
func (s *StatsStore) Subscribe(bus *events.EventBus, counters CounterProvider, now func() int64) {
	bus.Subscribe(events.EventStatsSnapshot, "stats_store", func(ctx context.Context, e events.Event) error {
		snap, ok := e.Payload.(events.StatsPayload)
		if !ok {
			return nil
		}

		if err := s.RecordSnapshot(now(), snap); err != nil {
			log.Warn().Err(err).Msg("failed to record stats snapshot")
		}
		if counters != nil {
			if err := s.SaveCounters(counters()); err != nil {
				log.Warn().Err(err).Msg("failed to persist counters")
			}
		}
		return nil
	})
}
