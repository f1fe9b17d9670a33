// Package scheduler implements nightly background maintenance for the proxy,
// including stats snapshot pruning and rotated log cleanup.
package scheduler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/vcmi/proxy-server/internal/config"
	"github.com/vcmi/proxy-server/internal/db"
)

// Scheduler manages periodic background tasks.
type Scheduler struct {
	cfg   *config.Config
	store *db.StatsStore
}

// NewScheduler creates a new task scheduler. The store may be nil when
// stats persistence is disabled.
func NewScheduler(cfg *config.Config, store *db.StatsStore) *Scheduler {
	return &Scheduler{
		cfg:   cfg,
		store: store,
	}
}

// Start begins running all scheduled tasks.
func (s *Scheduler) Start(ctx context.Context) {
	log.Info().Msg("scheduler started")

	go s.runMaintenanceLoop(ctx)

	<-ctx.Done()
	log.Info().Msg("scheduler stopped")
}

// runMaintenanceLoop runs the nightly maintenance at the configured time.
func (s *Scheduler) runMaintenanceLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		nextRun := s.calculateNextRunTime()
		sleepDuration := time.Until(nextRun)

		if sleepDuration <= 0 {
			sleepDuration = 24 * time.Hour
		}

		log.Info().
			Time("next_run", nextRun).
			Dur("sleep", sleepDuration).
			Msg("nightly maintenance scheduled")

		select {
		case <-ctx.Done():
			return
		case <-time.After(sleepDuration):
			s.runMaintenance()
		}
	}
}

// runMaintenance prunes old stats snapshots and rotated log files.
func (s *Scheduler) runMaintenance() {
	appData := s.cfg.GetApplicationData()

	if s.store != nil {
		retention := time.Duration(appData.Stats.SnapshotRetentionDays) * 24 * time.Hour
		cutoff := time.Now().Add(-retention).Unix()

		pruned, err := s.store.PruneSnapshots(cutoff)
		if err != nil {
			log.Warn().Err(err).Msg("snapshot prune failed")
		} else {
			log.Info().
				Int64("pruned", pruned).
				Int("retention_days", appData.Stats.SnapshotRetentionDays).
				Msg("stats snapshots pruned")
		}
	}

	s.cleanOldLogs(appData.Logging)
}

// cleanOldLogs removes rotated log files past the retention window.
func (s *Scheduler) cleanOldLogs(logCfg config.LoggingConfig) {
	retention := time.Duration(logCfg.RetentionDays) * 24 * time.Hour
	if retention <= 0 {
		return
	}

	var (
		deletedCount int
		deletedSize  int64
	)

	err := filepath.Walk(logCfg.Directory, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // Skip files we can't access
		}

		if info.IsDir() {
			return nil
		}

		if ext := strings.ToLower(filepath.Ext(info.Name())); ext != ".log" && ext != ".gz" {
			return nil
		}

		if time.Since(info.ModTime()) > retention {
			if err := os.Remove(path); err == nil {
				deletedCount++
				deletedSize += info.Size()
				log.Debug().Str("file", info.Name()).Msg("deleted old log file")
			}
		}

		return nil
	})

	if err != nil {
		log.Warn().Err(err).Msg("log cleanup encountered errors")
	}

	if deletedCount > 0 {
		log.Info().
			Int("deleted_files", deletedCount).
			Str("freed_space", formatBytes(deletedSize)).
			Msg("log cleanup completed")
	}
}

// calculateNextRunTime returns the next time the maintenance should run.
func (s *Scheduler) calculateNextRunTime() time.Time {
	maintenanceTime := s.cfg.GetApplicationData().Stats.MaintenanceTime
	parts := strings.Split(maintenanceTime, ":")

	hour, minute := 4, 0 // Default: 4:00 AM
	if len(parts) >= 2 {
		fmt.Sscanf(parts[0], "%d", &hour)
		fmt.Sscanf(parts[1], "%d", &minute)
	}

	now := time.Now()
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())

	if next.Before(now) {
		next = next.Add(24 * time.Hour)
	}

	return next
}

// formatBytes formats bytes into human-readable format.
func formatBytes(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.2f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.2f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.2f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
