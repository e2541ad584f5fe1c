// Package mqtt publishes process-variable telemetry to an MQTT broker so
// loggers and graphing tools can consume it off the panel.
//
// Each telemetry broadcast is published as its raw field sequence joined
// with ";" to "{prefix}/telemetry". Publishing never waits on the broker.
package mqtt

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/kabili207/gasmix-go/core/dispatch"
)

// Compile-time interface check.
var _ dispatch.TelemetrySink = (*Publisher)(nil)

// ErrConnectTimeout is returned by Start when the broker does not accept the
// connection within the connect timeout.
var ErrConnectTimeout = errors.New("connection timeout")

const (
	// DefaultTopicPrefix is the default MQTT topic prefix.
	DefaultTopicPrefix = "gasmix"

	// DefaultConnectTimeout bounds the first connection attempt in Start.
	DefaultConnectTimeout = 30 * time.Second

	publishTimeout = 10 * time.Second
)

// Config holds the configuration for a telemetry publisher.
type Config struct {
	// Broker is the MQTT broker URL (e.g., "tcp://broker.example.com:1883").
	Broker string
	// Username for MQTT authentication. Leave empty if not required.
	Username string
	// Password for MQTT authentication. Leave empty if not required.
	Password string
	// UseTLS enables TLS for the MQTT connection.
	UseTLS bool
	// ClientID is the MQTT client identifier. If empty, a random one is generated.
	ClientID string
	// TopicPrefix is the MQTT topic prefix (default: "gasmix").
	TopicPrefix string
	// ConnectTimeout bounds Start. Defaults to DefaultConnectTimeout.
	ConnectTimeout time.Duration
	// Logger is the logger to use. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// client is the subset of paho.Client the publisher uses.
type client interface {
	Connect() paho.Token
	Disconnect(quiesce uint)
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
}

// Publisher implements dispatch.TelemetrySink over MQTT.
type Publisher struct {
	cfg       Config
	newClient func(*paho.ClientOptions) client
	client    client
	log       *slog.Logger
	mu        sync.RWMutex
	connected bool
}

// New creates a telemetry publisher with the given configuration.
func New(cfg Config) *Publisher {
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = DefaultTopicPrefix
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Publisher{
		cfg:       cfg,
		newClient: func(o *paho.ClientOptions) client { return paho.NewClient(o) },
		log:       cfg.Logger.WithGroup("mqtt"),
	}
}

// Start connects to the broker. The client reconnects on its own after a
// lost connection. If the first connection does not succeed within the
// connect timeout, or ctx is done first, the client is disconnected and
// Start returns an error; no background retries remain.
func (p *Publisher) Start(ctx context.Context) error {
	if p.cfg.Broker == "" {
		return errors.New("broker URL is required")
	}

	clientID := p.cfg.ClientID
	if clientID == "" {
		clientID = "gasmix-" + randomString(12)
	}

	opts := paho.NewClientOptions().
		AddBroker(p.cfg.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetMaxReconnectInterval(2 * time.Minute).
		SetKeepAlive(60 * time.Second).
		SetPingTimeout(10 * time.Second).
		SetCleanSession(true).
		SetOrderMatters(false).
		SetOnConnectHandler(p.onConnected).
		SetConnectionLostHandler(p.onConnectionLost)

	if p.cfg.Username != "" {
		opts.SetUsername(p.cfg.Username)
	}
	if p.cfg.Password != "" {
		opts.SetPassword(p.cfg.Password)
	}
	if p.cfg.UseTLS {
		opts.SetTLSConfig(&tls.Config{
			MinVersion: tls.VersionTLS12,
		})
	}

	c := p.newClient(opts)
	p.mu.Lock()
	p.client = c
	p.mu.Unlock()

	timer := time.NewTimer(p.cfg.ConnectTimeout)
	defer timer.Stop()

	var err error
	token := c.Connect()
	select {
	case <-token.Done():
		if err = token.Error(); err != nil {
			err = fmt.Errorf("connecting to broker: %w", err)
		}
	case <-ctx.Done():
		err = ctx.Err()
	case <-timer.C:
		err = ErrConnectTimeout
	}
	if err != nil {
		p.abandon(c)
		return err
	}
	return nil
}

// abandon stops connect retries on c and forgets it.
func (p *Publisher) abandon(c client) {
	c.Disconnect(0)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client == c {
		p.client = nil
		p.connected = false
	}
}

// Stop disconnects from the broker.
func (p *Publisher) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client != nil {
		p.client.Disconnect(250)
		p.connected = false
	}
	return nil
}

// IsConnected returns true if the publisher is connected to the broker.
func (p *Publisher) IsConnected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.connected && p.client != nil && p.client.IsConnected()
}

// Topic returns the telemetry topic.
func (p *Publisher) Topic() string {
	return p.cfg.TopicPrefix + "/telemetry"
}

// RecordTelemetry publishes a telemetry broadcast. It is dropped when the
// broker is unreachable.
func (p *Publisher) RecordTelemetry(t dispatch.Telemetry) {
	if !p.IsConnected() {
		p.log.Debug("dropping telemetry, not connected")
		return
	}

	p.mu.RLock()
	c := p.client
	p.mu.RUnlock()

	payload := strings.Join(t.Fields, ";")
	token := c.Publish(p.Topic(), 0, false, payload)

	go func() {
		if !token.WaitTimeout(publishTimeout) {
			p.log.Warn("telemetry publish timed out")
			return
		}
		if err := token.Error(); err != nil {
			p.log.Error("telemetry publish failed", "error", err)
		}
	}()
}

func (p *Publisher) onConnected(_ paho.Client) {
	p.mu.Lock()
	p.connected = true
	p.mu.Unlock()

	p.log.Info("connected to MQTT broker", "broker", p.cfg.Broker, "topic", p.Topic())
}

func (p *Publisher) onConnectionLost(_ paho.Client, err error) {
	p.mu.Lock()
	p.connected = false
	p.mu.Unlock()

	p.log.Error("MQTT connection lost", "error", err)
}

func randomString(n int) string {
	const alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	b := make([]byte, n)
	for i := range b {
		b[i] = alphabet[rand.IntN(len(alphabet))]
	}
	return string(b)
}
