// Package telemetry publishes proxy events to an MQTT broker.
package telemetry

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/vcmi/proxy-server/internal/config"
	"github.com/vcmi/proxy-server/internal/events"
	"github.com/vcmi/proxy-server/internal/util"
)

// MQTT topics
const (
	TopicProxyAdmin   = "proxy/admin"
	TopicProxyStats   = "proxy/stats"
	TopicLobbyRoom    = "proxy/lobby/room"
	TopicLobbyUser    = "proxy/lobby/user"
	TopicGameSession  = "proxy/game/session"
)

// MQTTHandler manages the MQTT connection and publishes lobby and
// session telemetry.
type MQTTHandler struct {
	mu sync.Mutex

	cfg      *config.Config
	eventBus *events.EventBus
	client   mqtt.Client

	// Metadata included in every message
	metadata map[string]interface{}
}

// NewMQTTHandler creates a new MQTT telemetry handler.
func NewMQTTHandler(cfg *config.Config, eventBus *events.EventBus, version string) (*MQTTHandler, error) {
	mqttCfg := cfg.GetApplicationData().MQTT

	if !mqttCfg.Enabled {
		return nil, fmt.Errorf("MQTT is disabled")
	}

	sysInfo := util.GetSystemInfo()
	metadata := map[string]interface{}{
		"hostname":    sysInfo.Hostname,
		"platform":    sysInfo.OS,
		"cpu_model":   sysInfo.CPUModel,
		"cpu_cores":   sysInfo.CPUCores,
		"memory_mb":   sysInfo.TotalMemory,
		"app_version": version,
	}

	handler := &MQTTHandler{
		cfg:      cfg,
		eventBus: eventBus,
		metadata: metadata,
	}

	opts := mqtt.NewClientOptions()
	scheme := "tcp"
	if mqttCfg.UseTLS {
		scheme = "ssl"
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, mqttCfg.BrokerURL, mqttCfg.Port))

	if mqttCfg.ClientID != "" {
		opts.SetClientID(mqttCfg.ClientID)
	} else {
		opts.SetClientID(fmt.Sprintf("vcmiproxy-%s", sysInfo.Hostname))
	}

	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetCleanSession(false)

	if mqttCfg.UseTLS {
		tlsConfig := &tls.Config{
			MinVersion: tls.VersionTLS12,
		}

		// mTLS: load client certificate
		if mqttCfg.CertFile != "" && mqttCfg.KeyFile != "" {
			cert, err := tls.LoadX509KeyPair(mqttCfg.CertFile, mqttCfg.KeyFile)
			if err != nil {
				return nil, fmt.Errorf("failed to load MQTT TLS certificate: %w", err)
			}
			tlsConfig.Certificates = []tls.Certificate{cert}
		}

		opts.SetTLSConfig(tlsConfig)
	}

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		log.Info().Msg("MQTT connected")
	})

	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Warn().Err(err).Msg("MQTT connection lost")
	})

	handler.client = mqtt.NewClient(opts)

	return handler, nil
}

// Start connects to the MQTT broker and subscribes to events.
func (h *MQTTHandler) Start(ctx context.Context) error {
	mqttCfg := h.cfg.GetApplicationData().MQTT
	log.Info().
		Str("broker", mqttCfg.BrokerURL).
		Int("port", mqttCfg.Port).
		Msg("connecting to MQTT broker")

	token := h.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("MQTT connect failed: %w", token.Error())
	}

	h.subscribeEvents()

	<-ctx.Done()

	h.PublishShutdown()
	h.client.Disconnect(5000)
	log.Info().Msg("MQTT disconnected")

	return nil
}

// subscribeEvents registers event handlers for MQTT publishing.
func (h *MQTTHandler) subscribeEvents() {
	h.eventBus.Subscribe(events.EventUserAuthenticated, "mqtt.userAuthenticated", h.onUserEvent("authenticated"))
	h.eventBus.Subscribe(events.EventUserDisconnected, "mqtt.userDisconnected", h.onUserEvent("disconnected"))
	h.eventBus.Subscribe(events.EventRoomCreated, "mqtt.roomCreated", h.onRoomEvent("created"))
	h.eventBus.Subscribe(events.EventRoomDestroyed, "mqtt.roomDestroyed", h.onRoomEvent("destroyed"))
	h.eventBus.Subscribe(events.EventRoomJoined, "mqtt.roomJoined", h.onRoomEvent("joined"))
	h.eventBus.Subscribe(events.EventSessionStarted, "mqtt.sessionStarted", h.onSessionEvent("started"))
	h.eventBus.Subscribe(events.EventSessionDestroyed, "mqtt.sessionDestroyed", h.onSessionEvent("destroyed"))
	h.eventBus.Subscribe(events.EventStatsSnapshot, "mqtt.statsSnapshot", h.onStatsSnapshot)
}

// publish sends a JSON message to an MQTT topic.
func (h *MQTTHandler) publish(topic string, payload interface{}) {
	if !h.client.IsConnected() {
		return
	}

	msg := h.buildMessage(payload)

	data, err := json.Marshal(msg)
	if err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("failed to marshal MQTT message")
		return
	}

	token := h.client.Publish(topic, 1, false, data) // QoS 1
	go func() {
		token.Wait()
		if token.Error() != nil {
			log.Warn().Err(token.Error()).Str("topic", topic).Msg("MQTT publish failed")
		}
	}()
}

// buildMessage combines metadata with the event payload.
func (h *MQTTHandler) buildMessage(payload interface{}) map[string]interface{} {
	msg := make(map[string]interface{})

	for k, v := range h.metadata {
		msg[k] = v
	}

	msg["payload"] = payload
	msg["timestamp"] = time.Now().UTC().Format(time.RFC3339)

	return msg
}

// Event handlers

func (h *MQTTHandler) onUserEvent(action string) events.HandlerFunc {
	return func(ctx context.Context, event events.Event) error {
		h.publish(TopicLobbyUser, map[string]interface{}{
			"event":   action,
			"payload": event.Payload,
		})
		return nil
	}
}

func (h *MQTTHandler) onRoomEvent(action string) events.HandlerFunc {
	return func(ctx context.Context, event events.Event) error {
		h.publish(TopicLobbyRoom, map[string]interface{}{
			"event":   action,
			"payload": event.Payload,
		})
		return nil
	}
}

func (h *MQTTHandler) onSessionEvent(action string) events.HandlerFunc {
	return func(ctx context.Context, event events.Event) error {
		h.publish(TopicGameSession, map[string]interface{}{
			"event":   action,
			"payload": event.Payload,
		})
		return nil
	}
}

func (h *MQTTHandler) onStatsSnapshot(ctx context.Context, event events.Event) error {
	h.publish(TopicProxyStats, event.Payload)
	return nil
}

// PublishShutdown sends a shutdown message to the MQTT broker.
func (h *MQTTHandler) PublishShutdown() {
	h.publish(TopicProxyAdmin, map[string]interface{}{
		"event":     "shutdown",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
