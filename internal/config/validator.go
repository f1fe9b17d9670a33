package config

import (
	"fmt"
	"strings"
)

// ValidationResult holds the result of config validation.
type ValidationResult struct {
	Errors   []string
	Warnings []string
}

// Valid returns true if no errors are present (warnings are allowed).
func (r *ValidationResult) Valid() bool {
	return len(r.Errors) == 0
}

// Summary returns a human-readable summary of the validation result.
func (r *ValidationResult) Summary() string {
	var sb strings.Builder
	if len(r.Errors) > 0 {
		sb.WriteString(fmt.Sprintf("%d error(s):\n", len(r.Errors)))
		for _, e := range r.Errors {
			sb.WriteString("  - " + e + "\n")
		}
	}
	if len(r.Warnings) > 0 {
		sb.WriteString(fmt.Sprintf("%d warning(s):\n", len(r.Warnings)))
		for _, w := range r.Warnings {
			sb.WriteString("  - " + w + "\n")
		}
	}
	if sb.Len() == 0 {
		return "configuration OK"
	}
	return sb.String()
}

// Validate checks a configuration for errors and suspicious values.
func Validate(cfg *Config) *ValidationResult {
	result := &ValidationResult{}

	server := cfg.GetServer()
	app := cfg.GetApplicationData()

	// Listener
	if server.Port < 1 || server.Port > 65535 {
		result.Errors = append(result.Errors, fmt.Sprintf("server port %d out of range (1-65535)", server.Port))
	}
	if server.MaxConnections < 1 {
		result.Errors = append(result.Errors, fmt.Sprintf("max_connections must be at least 1, got %d", server.MaxConnections))
	} else if server.MaxConnections > 10000 {
		result.Warnings = append(result.Warnings, fmt.Sprintf("max_connections %d is unusually high", server.MaxConnections))
	}

	// Protocol range
	if server.ProtocolVersionMin < 1 {
		result.Errors = append(result.Errors, fmt.Sprintf("protocol_version_min must be at least 1, got %d", server.ProtocolVersionMin))
	}
	if server.ProtocolVersionMax < server.ProtocolVersionMin {
		result.Errors = append(result.Errors, fmt.Sprintf("protocol_version_max %d below protocol_version_min %d",
			server.ProtocolVersionMax, server.ProtocolVersionMin))
	}
	if server.SystemUser == "" {
		result.Errors = append(result.Errors, "system_user must not be empty")
	}

	// Timers
	timers := app.Timers
	if timers.HealthcheckInterval < 1 {
		result.Errors = append(result.Errors, fmt.Sprintf("healthcheck_interval_sec must be positive, got %d", timers.HealthcheckInterval))
	}
	if timers.LivenessBudget < timers.HealthcheckInterval {
		result.Warnings = append(result.Warnings, fmt.Sprintf("liveness_budget_sec %d below healthcheck_interval_sec %d, clients may be dropped between pings",
			timers.LivenessBudget, timers.HealthcheckInterval))
	}
	if timers.SessionGracePeriod < 1 {
		result.Errors = append(result.Errors, fmt.Sprintf("session_grace_period_sec must be positive, got %d", timers.SessionGracePeriod))
	}
	if timers.HandshakeTimeout < 1 {
		result.Errors = append(result.Errors, fmt.Sprintf("handshake_timeout_sec must be positive, got %d", timers.HandshakeTimeout))
	}
	if timers.StatsHeartbeatInterval < 1 {
		result.Errors = append(result.Errors, fmt.Sprintf("stats_heartbeat_interval_sec must be positive, got %d", timers.StatsHeartbeatInterval))
	}

	// API
	if app.API.Enabled {
		if app.API.Port < 1 || app.API.Port > 65535 {
			result.Errors = append(result.Errors, fmt.Sprintf("api port %d out of range (1-65535)", app.API.Port))
		}
		if app.API.Port == server.Port {
			result.Errors = append(result.Errors, fmt.Sprintf("api port %d conflicts with lobby port", app.API.Port))
		}
		if app.API.Token == "" {
			result.Warnings = append(result.Warnings, "api enabled without an auth token, monitoring endpoints are open")
		}
		if app.API.RateLimitRPS < 1 {
			result.Warnings = append(result.Warnings, "api rate_limit_rps disabled")
		}
	}

	// MQTT
	if app.MQTT.Enabled {
		if app.MQTT.BrokerURL == "" {
			result.Errors = append(result.Errors, "mqtt enabled without broker_url")
		}
		if app.MQTT.UseTLS && (app.MQTT.CertFile == "" || app.MQTT.KeyFile == "") {
			result.Errors = append(result.Errors, "mqtt TLS enabled but cert_file or key_file not set")
		}
	}

	// Stats
	if app.Stats.DatabasePath == "" {
		result.Warnings = append(result.Warnings, "stats database_path empty, lifetime counters will not persist")
	}

	// Logging
	switch strings.ToLower(app.Logging.Level) {
	case "trace", "debug", "info", "warn", "error":
	default:
		result.Errors = append(result.Errors, fmt.Sprintf("unknown log level %q", app.Logging.Level))
	}

	return result
}
