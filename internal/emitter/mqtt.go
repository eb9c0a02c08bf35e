package emitter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/e7canasta/orion-video-surface/internal/config"
)

// StatusMessage is one status update published on the status topic
type StatusMessage struct {
	InstanceID string            `json:"instance_id" msgpack:"instance_id"`
	SessionID  string            `json:"session_id,omitempty" msgpack:"session_id,omitempty"`
	Status     string            `json:"status" msgpack:"status"`
	Error      string            `json:"error,omitempty" msgpack:"error,omitempty"`
	Source     string            `json:"source,omitempty" msgpack:"source,omitempty"`
	Decoded    [2]int            `json:"decoded_size" msgpack:"decoded_size"`
	Target     [2]int            `json:"target_size" msgpack:"target_size"`
	Stats      map[string]uint64 `json:"stats,omitempty" msgpack:"stats,omitempty"`
	Timestamp  time.Time         `json:"timestamp" msgpack:"timestamp"`
}

// Encode marshals v as json or msgpack.
func Encode(encoding string, v any) ([]byte, error) {
	switch encoding {
	case "", "json":
		return json.Marshal(v)
	case "msgpack":
		return msgpack.Marshal(v)
	default:
		return nil, fmt.Errorf("emitter: unknown encoding '%s'", encoding)
	}
}

// StatusOffline is the last-will status published by the broker when the
// player drops off without disconnecting.
const StatusOffline = "offline"

const connectTimeout = 5 * time.Second

// MQTTEmitter publishes player status to the MQTT broker
type MQTTEmitter struct {
	cfg    *config.Config
	Client mqtt.Client // Exported for control plane

	mu        sync.RWMutex
	published map[string]uint64 // count per topic
	errors    uint64
	connected bool
}

// NewMQTTEmitter creates a new MQTT emitter
func NewMQTTEmitter(cfg *config.Config) *MQTTEmitter {
	return &MQTTEmitter{
		cfg:       cfg,
		published: make(map[string]uint64),
	}
}

// Connect dials the broker and waits up to connectTimeout for the session.
// The broker keeps reconnecting in the background afterwards.
func (e *MQTTEmitter) Connect(ctx context.Context) error {
	opts, err := e.clientOptions()
	if err != nil {
		return err
	}
	e.Client = mqtt.NewClient(opts)

	slog.Info("emitter: connecting to mqtt broker", "broker", e.cfg.MQTT.Broker, "client_id", opts.ClientID)

	token := e.Client.Connect()
	select {
	case <-token.Done():
	case <-time.After(connectTimeout):
		return fmt.Errorf("emitter: mqtt connect to %s: timeout after %s", e.cfg.MQTT.Broker, connectTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("emitter: mqtt connect to %s: %w", e.cfg.MQTT.Broker, err)
	}

	e.setConnected(true)
	return nil
}

// clientOptions builds the paho options. A retained "offline" status is
// registered as last will so subscribers see a crashed player.
func (e *MQTTEmitter) clientOptions() (*mqtt.ClientOptions, error) {
	broker := e.cfg.MQTT.Broker
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}

	will, err := Encode(e.cfg.MQTT.Encoding, StatusMessage{
		InstanceID: e.cfg.InstanceID,
		Status:     StatusOffline,
	})
	if err != nil {
		return nil, fmt.Errorf("emitter: last will: %w", err)
	}

	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID("videosurface-"+e.cfg.InstanceID).
		SetKeepAlive(30*time.Second).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(2*time.Second).
		SetMaxReconnectInterval(30*time.Second).
		SetBinaryWill(e.cfg.MQTT.Topics.Status, will, e.cfg.MQTT.QoS["status"], true)

	opts.OnConnect = func(mqtt.Client) {
		e.setConnected(true)
		slog.Info("emitter: mqtt connected", "broker", broker)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		e.setConnected(false)
		slog.Warn("emitter: mqtt connection lost, reconnecting", "broker", broker, "error", err)
	}
	return opts, nil
}

// PublishStatus publishes a status message on the status topic
func (e *MQTTEmitter) PublishStatus(msg StatusMessage) error {
	if msg.InstanceID == "" {
		msg.InstanceID = e.cfg.InstanceID
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	payload, err := Encode(e.cfg.MQTT.Encoding, msg)
	if err != nil {
		e.countError()
		return fmt.Errorf("emitter: marshal status: %w", err)
	}
	return e.Publish(e.cfg.MQTT.Topics.Status, e.cfg.MQTT.QoS["status"], payload)
}

// Publish sends a raw payload
func (e *MQTTEmitter) Publish(topic string, qos byte, payload []byte) error {
	if !e.isConnected() {
		e.countError()
		return fmt.Errorf("emitter: mqtt not connected")
	}

	token := e.Client.Publish(topic, qos, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		e.countError()
		return fmt.Errorf("emitter: publish timeout")
	}
	if err := token.Error(); err != nil {
		e.countError()
		return fmt.Errorf("emitter: publish failed: %w", err)
	}

	e.mu.Lock()
	e.published[topic]++
	e.mu.Unlock()

	slog.Debug("emitter: published",
		"topic", topic,
		"qos", qos,
		"size", len(payload),
	)
	return nil
}

// Disconnect closes the MQTT connection
func (e *MQTTEmitter) Disconnect() error {
	if e.Client != nil && e.Client.IsConnected() {
		e.Client.Disconnect(250) // 250ms grace period
		slog.Info("emitter: mqtt disconnected")
	}
	e.setConnected(false)
	return nil
}

// Stats returns emitter statistics
func (e *MQTTEmitter) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	published := make(map[string]uint64, len(e.published))
	for k, v := range e.published {
		published[k] = v
	}

	return Stats{
		Connected: e.connected,
		Published: published,
		Errors:    e.errors,
	}
}

// Stats contains emitter statistics
type Stats struct {
	Connected bool
	Published map[string]uint64
	Errors    uint64
}

func (e *MQTTEmitter) isConnected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.connected
}

func (e *MQTTEmitter) setConnected(v bool) {
	e.mu.Lock()
	e.connected = v
	e.mu.Unlock()
}

func (e *MQTTEmitter) countError() {
	e.mu.Lock()
	e.errors++
	e.mu.Unlock()
}
