// Package publish forwards prediction records to an MQTT broker so other
// devices can react to recognized signs.
package publish

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/ayusman/mudra/internal/store"
)

// DefaultTopic is the topic prefix used when none is configured.
const DefaultTopic = "mudra/predictions"

// ErrNotConnected is returned by Publish before Connect succeeds or after the
// broker connection is lost.
var ErrNotConnected = errors.New("mqtt not connected")

// Config selects the broker and topic layout.
type Config struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Topic    string `yaml:"topic"`
	QoS      byte   `yaml:"qos"`
}

// Enabled reports whether a broker is configured.
func (c Config) Enabled() bool {
	return c.Broker != ""
}

// Message is the payload published for each prediction.
type Message struct {
	ID        string `json:"id"`
	SessionID string `json:"session_id"`
	Mode      string `json:"mode"`
	Frames    int    `json:"frames"`
	Label     string `json:"label"`
	Sentence  string `json:"sentence,omitempty"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	LatencyMs int64  `json:"latency_ms"`
	Time      string `json:"time"`
}

// NewMessage builds the payload for a history record.
func NewMessage(p *store.Prediction) Message {
	return Message{
		ID:        p.ID,
		SessionID: p.SessionID,
		Mode:      p.Mode,
		Frames:    p.Frames,
		Label:     p.Label,
		Sentence:  p.Sentence,
		Status:    string(p.Status),
		Error:     p.Error,
		LatencyMs: p.LatencyMs,
		Time:      p.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// Topic returns the topic a session's predictions go to:
// <prefix>/<session>/<status>.
func Topic(prefix, sessionID string, status store.PredictionStatus) string {
	if prefix == "" {
		prefix = DefaultTopic
	}
	return fmt.Sprintf("%s/%s/%s", strings.TrimSuffix(prefix, "/"), sessionID, status)
}

// MQTTPublisher publishes prediction records to a broker.
type MQTTPublisher struct {
	cfg    Config
	client mqtt.Client

	mu        sync.RWMutex
	connected bool
	published uint64
	errors    uint64
}

// NewMQTTPublisher creates a publisher for cfg. Call Connect before Publish.
func NewMQTTPublisher(cfg Config) *MQTTPublisher {
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "mudra"
	}
	return &MQTTPublisher{cfg: cfg}
}

// Connect establishes the broker connection. Reconnects after a loss are
// automatic.
func (p *MQTTPublisher) Connect() error {
	broker := p.cfg.Broker
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(p.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnect = func(mqtt.Client) {
		p.setConnected(true)
		log.Printf("Connected to MQTT broker %s", broker)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		p.setConnected(false)
		log.Printf("MQTT connection lost: %v", err)
	}

	p.client = mqtt.NewClient(opts)
	token := p.client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}
	p.setConnected(true)
	return nil
}

// Publish sends one prediction record.
func (p *MQTTPublisher) Publish(pred *store.Prediction) error {
	if !p.isConnected() {
		p.countError()
		return ErrNotConnected
	}

	payload, err := json.Marshal(NewMessage(pred))
	if err != nil {
		p.countError()
		return fmt.Errorf("encode prediction: %w", err)
	}

	token := p.client.Publish(Topic(p.cfg.Topic, pred.SessionID, pred.Status), p.cfg.QoS, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		p.countError()
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		p.countError()
		return fmt.Errorf("publish failed: %w", err)
	}

	p.mu.Lock()
	p.published++
	p.mu.Unlock()
	return nil
}

// Close disconnects from the broker.
func (p *MQTTPublisher) Close() error {
	if p.client != nil && p.client.IsConnected() {
		p.client.Disconnect(250)
	}
	p.setConnected(false)
	return nil
}

// Stats returns the number of published messages and failed attempts.
func (p *MQTTPublisher) Stats() (published, failed uint64) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.published, p.errors
}

func (p *MQTTPublisher) setConnected(v bool) {
	p.mu.Lock()
	p.connected = v
	p.mu.Unlock()
}

func (p *MQTTPublisher) isConnected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.connected
}

func (p *MQTTPublisher) countError() {
	p.mu.Lock()
	p.errors++
	p.mu.Unlock()
}
