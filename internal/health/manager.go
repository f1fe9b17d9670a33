// Package health runs the periodic maintenance loops of the proxy:
// client liveness pings, idle connection sweeps, and stats heartbeats.
package health

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/vcmi/proxy-server/internal/config"
	"github.com/vcmi/proxy-server/internal/lobby"
)

// Manager schedules the lobby's maintenance hooks.
type Manager struct {
	cfg   *config.Config
	lobby *lobby.Lobby
}

// NewManager creates a new health check manager.
func NewManager(cfg *config.Config, lb *lobby.Lobby) *Manager {
	return &Manager{
		cfg:   cfg,
		lobby: lb,
	}
}

// Start launches all maintenance goroutines and blocks until ctx is
// cancelled.
func (m *Manager) Start(ctx context.Context) {
	timers := m.cfg.GetApplicationData().Timers

	checks := []struct {
		name     string
		interval int
		fn       func(context.Context)
	}{
		{"client_liveness", timers.HealthcheckInterval, m.checkClientLiveness},
		{"idle_connections", timers.HandshakeTimeout, m.sweepIdleConnections},
		{"stats_heartbeat", timers.StatsHeartbeatInterval, m.emitStatsHeartbeat},
	}

	for _, check := range checks {
		if check.interval <= 0 {
			continue
		}

		check := check
		go func() {
			ticker := time.NewTicker(time.Duration(check.interval) * time.Second)
			defer ticker.Stop()

			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					check.fn(ctx)
				}
			}
		}()
	}

	log.Info().Int("checks", len(checks)).Msg("health check manager started")

	<-ctx.Done()
	log.Info().Msg("health check manager stopped")
}

// checkClientLiveness pings protocol 4 lobby clients and drops the ones
// that stopped answering with ALIVE.
func (m *Manager) checkClientLiveness(ctx context.Context) {
	m.lobby.HealthCheck()
}

// sweepIdleConnections closes sockets that connected but never finished
// authenticating within the handshake window.
func (m *Manager) sweepIdleConnections(ctx context.Context) {
	window := time.Duration(m.cfg.GetApplicationData().Timers.HandshakeTimeout) * time.Second
	if swept := m.lobby.SweepIdle(window); swept > 0 {
		log.Info().Int("swept", swept).Msg("closed idle unauthenticated connections")
	}
}

// emitStatsHeartbeat publishes an occupancy snapshot for telemetry and
// persistence subscribers.
func (m *Manager) emitStatsHeartbeat(ctx context.Context) {
	m.lobby.EmitStatsSnapshot(ctx)
}
