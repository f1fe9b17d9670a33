// Package config handles configuration loading, validation, and persistence
// for the proxy server.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
)

const (
	DefaultConfigDir  = "config"
	DefaultConfigFile = "config.json"
	DefaultLobbyPort  = 5002
	DefaultAPIPort    = 5003

	// Protocol versions the lobby has historically spoken.
	DefaultProtocolVersionMin = 1
	DefaultProtocolVersionMax = 4
)

// Config is the root configuration structure for the proxy server.
type Config struct {
	mu   sync.RWMutex
	path string

	Server          ServerData      `json:"server"`
	ApplicationData ApplicationData `json:"application_data"`
}

// ServerData contains lobby listener configuration.
type ServerData struct {
	// Listener
	Host           string `json:"host"`
	Port           int    `json:"port"`
	MaxConnections int    `json:"max_connections"`

	// Supported lobby protocol version range (inclusive).
	ProtocolVersionMin int `json:"protocol_version_min"`
	ProtocolVersionMax int `json:"protocol_version_max"`

	// SystemUser is the username system messages are sent from. The name
	// is reserved and cannot be claimed by clients.
	SystemUser string `json:"system_user"`
}

// Addr returns the "host:port" listen address for the lobby listener.
func (s ServerData) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// ApplicationData contains operational configuration.
type ApplicationData struct {
	Timers  TimerConfig   `json:"timers"`
	API     APIConfig     `json:"api"`
	MQTT    MQTTConfig    `json:"mqtt"`
	Stats   StatsConfig   `json:"stats"`
	Logging LoggingConfig `json:"logging"`
}

// TimerConfig holds health check and cleanup interval settings.
type TimerConfig struct {
	// HealthcheckInterval is how often HEALTH pings go out to protocol>=4
	// lobby clients, in seconds.
	HealthcheckInterval int `json:"healthcheck_interval_sec"`
	// LivenessBudget is the countdown each ALIVE pong refills, in seconds.
	LivenessBudget int `json:"liveness_budget_sec"`
	// SessionGracePeriod is how long an empty session survives before
	// teardown, tolerating brief game-peer reconnects, in seconds.
	SessionGracePeriod int `json:"session_grace_period_sec"`
	// HandshakeTimeout is how long an unclassified connection may idle
	// before being dropped, in seconds.
	HandshakeTimeout int `json:"handshake_timeout_sec"`
	// StatsHeartbeatInterval is how often lobby status telemetry is
	// emitted, in seconds.
	StatsHeartbeatInterval int `json:"stats_heartbeat_interval_sec"`
}

// APIConfig holds REST monitoring API settings.
type APIConfig struct {
	Enabled        bool     `json:"enabled"`
	Port           int      `json:"port"`
	Token          string   `json:"token"`
	AllowedOrigins []string `json:"allowed_origins"`
	RateLimitRPS   int      `json:"rate_limit_rps"`
}

// MQTTConfig holds MQTT telemetry settings.
type MQTTConfig struct {
	Enabled   bool   `json:"enabled"`
	BrokerURL string `json:"broker_url"`
	Port      int    `json:"port"`
	UseTLS    bool   `json:"use_tls"`
	CertFile  string `json:"cert_file"`
	KeyFile   string `json:"key_file"`
	ClientID  string `json:"client_id"`
}

// StatsConfig holds lifetime counter storage settings.
type StatsConfig struct {
	DatabasePath string `json:"database_path"`
	// SnapshotRetentionDays is how long historical stats snapshots are
	// kept before the nightly prune removes them.
	SnapshotRetentionDays int `json:"snapshot_retention_days"`
	// MaintenanceTime is the local HH:MM time the nightly maintenance
	// tasks run at.
	MaintenanceTime string `json:"maintenance_time"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level         string `json:"level"`
	Directory     string `json:"directory"`
	MaxBackups    int    `json:"max_backups"`
	RetentionDays int    `json:"retention_days"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerData{
			Host:               "0.0.0.0",
			Port:               DefaultLobbyPort,
			MaxConnections:     50,
			ProtocolVersionMin: DefaultProtocolVersionMin,
			ProtocolVersionMax: DefaultProtocolVersionMax,
			SystemUser:         "System",
		},
		ApplicationData: ApplicationData{
			Timers: TimerConfig{
				HealthcheckInterval:    30,
				LivenessBudget:         120,
				SessionGracePeriod:     60,
				HandshakeTimeout:       30,
				StatsHeartbeatInterval: 60,
			},
			API: APIConfig{
				Enabled:      true,
				Port:         DefaultAPIPort,
				RateLimitRPS: 100,
			},
			MQTT: MQTTConfig{
				Enabled: false,
				Port:    8883,
				UseTLS:  true,
			},
			Stats: StatsConfig{
				DatabasePath:          "config/stats.db",
				SnapshotRetentionDays: 30,
				MaintenanceTime:       "04:00",
			},
			Logging: LoggingConfig{
				Level:         "info",
				Directory:     "logs",
				MaxBackups:    5,
				RetentionDays: 14,
			},
		},
	}
}

// Load reads configuration from a JSON file, creating a default one if the
// file does not exist yet.
func Load(configDir string) (*Config, error) {
	configPath := filepath.Join(configDir, DefaultConfigFile)

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", configPath).Msg("config file not found, creating default")
			cfg := DefaultConfig()
			cfg.path = configPath
			if saveErr := cfg.Save(); saveErr != nil {
				return nil, fmt.Errorf("failed to save default config: %w", saveErr)
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig() // Start with defaults, then overlay
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	cfg.path = configPath
	log.Info().Str("path", configPath).Msg("configuration loaded")

	// Re-save config to persist any new default fields added in code updates.
	if saveErr := cfg.Save(); saveErr != nil {
		log.Warn().Err(saveErr).Msg("failed to re-save config with updated defaults")
	}

	return cfg, nil
}

// Save writes the current configuration to disk.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(c.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Debug().Str("path", c.path).Msg("configuration saved")
	return nil
}

// GetServer returns a copy of the server configuration.
func (c *Config) GetServer() ServerData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Server
}

// SetServer updates the server configuration.
func (c *Config) SetServer(data ServerData) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Server = data
}

// GetApplicationData returns a copy of the application data configuration.
func (c *Config) GetApplicationData() ApplicationData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ApplicationData
}

// SetApplicationData updates the application data configuration.
func (c *Config) SetApplicationData(data ApplicationData) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ApplicationData = data
}

// UpdateField updates one server configuration field by its JSON key.
func (c *Config) UpdateField(key string, value interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, _ := json.Marshal(c.Server)
	m := make(map[string]interface{})
	json.Unmarshal(data, &m)

	if _, ok := m[key]; !ok {
		return fmt.Errorf("unknown config field %q", key)
	}
	m[key] = value

	updated, _ := json.Marshal(m)
	if err := json.Unmarshal(updated, &c.Server); err != nil {
		return fmt.Errorf("failed to update field %s: %w", key, err)
	}

	return nil
}

// Path returns the config file path.
func (c *Config) Path() string {
	return c.path
}
