package lobby

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatsCounters(t *testing.T) {
	s := NewStats()

	s.Inc(StatSessions)
	s.Inc(StatSessions)

	v, ok := s.Get(StatSessions)
	require.True(t, ok)
	assert.Equal(t, 2, v)

	_, ok = s.Get("nonsense")
	assert.False(t, ok)
}

func TestStatsSets(t *testing.T) {
	s := NewStats()

	s.AddUnique("10.0.0.1")
	s.AddUnique("10.0.0.1")
	s.AddUnique("10.0.0.2")
	s.AddUsername("alice")
	s.AddUsername("alice")

	uniques, ok := s.Get(StatUniques)
	require.True(t, ok)
	assert.Equal(t, 2, uniques)

	users, ok := s.Get(StatUsers)
	require.True(t, ok)
	assert.Equal(t, 1, users)
}

func TestStatsRestoreMergesMax(t *testing.T) {
	s := NewStats()
	s.Inc(StatLogins)
	s.Inc(StatLogins)
	s.Inc(StatLogins)

	// Persisted values below the live counter never regress it.
	s.Restore(map[string]int{StatLogins: 1, StatSessions: 7})

	logins, _ := s.Get(StatLogins)
	assert.Equal(t, 3, logins)

	sessions, _ := s.Get(StatSessions)
	assert.Equal(t, 7, sessions)
}

func TestStatsSnapshot(t *testing.T) {
	s := NewStats()
	s.AddUnique("10.0.0.1")
	s.AddUsername("alice")
	s.Inc(StatRooms)

	snap := s.Snapshot()
	assert.Equal(t, 1, snap[StatUniques])
	assert.Equal(t, 1, snap[StatUsers])
	assert.Equal(t, 1, snap[StatRooms])
}
