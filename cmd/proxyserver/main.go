// VCMI proxy server - matchmaking lobby and game session relay.
//
// The proxy accepts both lobby chat clients and game connections on a
// single TCP port, matches players into rooms, and relays game traffic
// between paired server and client pipes once a session starts. It
// exposes a REST API for monitoring and publishes telemetry via MQTT.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/vcmi/proxy-server/internal/api"
	"github.com/vcmi/proxy-server/internal/cli"
	"github.com/vcmi/proxy-server/internal/config"
	"github.com/vcmi/proxy-server/internal/db"
	"github.com/vcmi/proxy-server/internal/events"
	"github.com/vcmi/proxy-server/internal/health"
	"github.com/vcmi/proxy-server/internal/lobby"
	"github.com/vcmi/proxy-server/internal/network"
	"github.com/vcmi/proxy-server/internal/scheduler"
	"github.com/vcmi/proxy-server/internal/telemetry"
	"github.com/vcmi/proxy-server/internal/util"
)

const (
	AppName    = "vcmi-proxy"
	AppVersion = "1.0.0"
	Banner     = `
 __      _______ __  __ _____   _____
 \ \    / / ____|  \/  |_   _| |  __ \ _ __ _____  ___   _
  \ \  / / |    | \  / | | |   | |__) | '__/ _ \ \/ / | | |
   \ \/ /| |    | |\/| | | |   |  ___/| | | (_) >  <| |_| |
    \  / | |____| |  | |_| |_  | |    | |  \___/_/\_\\__, |
     \/   \_____|_|  |_|_____| |_|    |_|             __/ |
                                                     |___/  v%s
 Matchmaking Lobby & Game Session Relay
`
)

func main() {
	fmt.Printf(Banner, AppVersion)
	fmt.Println()

	// Initialize logger with defaults first (reconfigured after config load)
	if err := util.InitLogger(util.DefaultLogConfig()); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.Info().
		Str("version", AppVersion).
		Str("platform", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Int("cpus", runtime.NumCPU()).
		Msg("starting proxy server")

	// Load configuration
	cfg, err := config.Load(config.DefaultConfigDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	// Re-initialize logger with config-based settings
	logging := cfg.GetApplicationData().Logging
	logCfg := util.LogConfig{
		Level:      logging.Level,
		Directory:  logging.Directory,
		MaxBackups: logging.MaxBackups,
		Console:    true,
	}
	if err := util.InitLogger(logCfg); err != nil {
		log.Warn().Err(err).Msg("failed to reconfigure logger, using defaults")
	}

	// Validate configuration
	validation := config.Validate(cfg)
	for _, w := range validation.Warnings {
		log.Warn().Msg(w)
	}
	if !validation.Valid() {
		for _, e := range validation.Errors {
			log.Error().Msg(e)
		}
		log.Fatal().Msg("configuration validation failed, please fix the errors above")
	}

	// Log system info
	sysInfo := util.GetSystemInfo()
	log.Info().
		Str("hostname", sysInfo.Hostname).
		Str("os", sysInfo.OS).
		Str("cpu", sysInfo.CPUModel).
		Int("cores", sysInfo.CPUCores).
		Uint64("memory_mb", sysInfo.TotalMemory).
		Msg("system information")

	// Create root context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize core components
	eventBus := events.NewEventBus()

	// Lifetime counters, restored from the stats database when available
	stats := lobby.NewStats()

	var statsStore *db.StatsStore
	dbPath := cfg.GetApplicationData().Stats.DatabasePath
	if dbPath != "" {
		database, err := db.NewDatabase(dbPath)
		if err != nil {
			log.Warn().Err(err).Str("path", dbPath).Msg("failed to open stats database, persistence disabled")
		} else {
			statsStore, err = db.NewStatsStore(database)
			if err != nil {
				log.Warn().Err(err).Msg("failed to initialize stats store, persistence disabled")
				statsStore = nil
			}
		}
	}

	if statsStore != nil {
		counters, err := statsStore.LoadCounters()
		if err != nil {
			log.Warn().Err(err).Msg("failed to load persisted counters")
		} else if len(counters) > 0 {
			stats.Restore(counters)
			log.Info().Int("counters", len(counters)).Msg("lifetime counters restored")
		}
		statsStore.Subscribe(eventBus, stats.Snapshot, func() int64 { return time.Now().Unix() })
	}

	// Lobby directory and session relay
	lb := lobby.NewLobby(cfg, eventBus, stats)

	// TCP listener for lobby and game connections
	listener := network.NewListener(cfg, lb)

	// REST monitoring API
	apiServer := api.NewServer(cfg, lb, AppVersion)

	// Health check manager
	healthMgr := health.NewManager(cfg, lb)

	// MQTT telemetry
	var mqttHandler *telemetry.MQTTHandler
	if cfg.GetApplicationData().MQTT.Enabled {
		mqttHandler, err = telemetry.NewMQTTHandler(cfg, eventBus, AppVersion)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize MQTT, telemetry disabled")
		}
	}

	// Nightly maintenance
	sched := scheduler.NewScheduler(cfg, statsStore)

	// Interactive CLI
	cliHandler := cli.NewCLI(cfg, eventBus, lb)

	// ---------------------------------------------------------------
	// Launch all concurrent tasks
	// ---------------------------------------------------------------
	var wg sync.WaitGroup
	errCh := make(chan error, 10)

	// Task 1: TCP listener for lobby and game connections
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Str("addr", cfg.GetServer().Addr()).Msg("starting lobby listener")
		if err := startWithRetry(ctx, "lobby listener", listener.Start, 15); err != nil {
			log.Error().Err(err).Msg("lobby listener failed after retries")
			errCh <- fmt.Errorf("lobby listener: %w", err)
		}
	}()

	// Task 2: REST API server
	if cfg.GetApplicationData().API.Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Int("port", cfg.GetApplicationData().API.Port).Msg("starting REST API server")
			if err := startWithRetry(ctx, "API server", apiServer.Start, 15); err != nil {
				log.Warn().Err(err).Msg("API server failed after retries (non-fatal)")
			}
		}()
	}

	// Task 3: Health check manager
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Msg("starting health check manager")
		healthMgr.Start(ctx)
	}()

	// Task 4: MQTT telemetry
	if mqttHandler != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Msg("starting MQTT telemetry")
			if err := mqttHandler.Start(ctx); err != nil {
				log.Warn().Err(err).Msg("MQTT telemetry failed")
			}
		}()
	}

	// Task 5: Scheduler (snapshot pruning, log cleanup)
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Msg("starting task scheduler")
		sched.Start(ctx)
	}()

	// Task 6: Interactive CLI
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Msg("starting interactive CLI")
		cliHandler.Start(ctx)
	}()

	// Shutdown requested from the CLI or API rides the same path as signals
	shutdownCh := make(chan struct{}, 1)
	eventBus.Subscribe(events.EventShutdown, "main.shutdown", func(ctx context.Context, event events.Event) error {
		select {
		case shutdownCh <- struct{}{}:
		default:
		}
		return nil
	})

	// ---------------------------------------------------------------
	// Graceful shutdown handling
	// ---------------------------------------------------------------
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case <-shutdownCh:
		log.Info().Msg("shutdown requested")
	case err := <-errCh:
		log.Error().Err(err).Msg("critical error, initiating shutdown")
	}

	log.Info().Msg("initiating graceful shutdown...")

	// Persist counters before connections drop
	if statsStore != nil {
		if err := statsStore.SaveCounters(stats.Snapshot()); err != nil {
			log.Warn().Err(err).Msg("failed to persist counters on shutdown")
		}
	}

	// Close every lobby and game connection
	lb.Shutdown()

	// Cancel the root context to signal all goroutines
	cancel()

	// Wait for all goroutines with timeout
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("all tasks stopped gracefully")
	case <-time.After(30 * time.Second):
		log.Warn().Msg("shutdown timed out after 30 seconds, forcing exit")
	}

	// Stop the event bus last
	eventBus.Stop()

	log.Info().Msg("proxy server stopped")
}

// startWithRetry attempts to start a listener/server with retry on bind
// errors. Uses a fixed 3-second interval between retries so the OS has
// time to release sockets after a previous instance exits.
func startWithRetry(ctx context.Context, name string, startFn func(context.Context) error, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = startFn(ctx)
		if lastErr == nil {
			return nil
		}
		if i < maxRetries {
			log.Warn().Err(lastErr).Str("component", name).Int("retry", i+1).Int("max", maxRetries).Msg("bind failed, retrying in 3s...")
			time.Sleep(3 * time.Second)
		}
	}
	return lastErr
}
