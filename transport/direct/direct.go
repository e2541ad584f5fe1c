// Package direct provides the degraded serial link used when the buffered
// transport cannot be started. Every Send writes straight to the device on
// the caller's goroutine and nothing is ever read back, so telemetry is
// unavailable while this link is in use.
package direct

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/tarm/serial"

	"github.com/kabili207/gasmix-go/core/codec"
	"github.com/kabili207/gasmix-go/metrics"
	"github.com/kabili207/gasmix-go/transport"
)

// Compile-time interface check.
var _ transport.Link = (*Link)(nil)

// DefaultBaudRate matches the buffered transport.
const DefaultBaudRate = 9600

// Opener opens the device for writing.
type Opener func(path string, baudRate int) (io.WriteCloser, error)

// Config holds the configuration for a direct link.
type Config struct {
	// Port is the serial port path.
	Port string
	// BaudRate is the serial baud rate. Defaults to DefaultBaudRate.
	BaudRate int
	// Opener opens the device. Defaults to OpenPort.
	Opener Opener
	// Logger is the logger to use. If nil, slog.Default() is used.
	Logger *slog.Logger
	// Metrics records link counters. May be nil.
	Metrics *metrics.Metrics
}

// Link writes commands synchronously with no background reader.
type Link struct {
	cfg     Config
	log     *slog.Logger
	metrics *metrics.Metrics

	mu   sync.Mutex
	port io.WriteCloser
}

// OpenPort opens a serial device with github.com/tarm/serial.
func OpenPort(path string, baudRate int) (io.WriteCloser, error) {
	port, err := serial.OpenPort(&serial.Config{Name: path, Baud: baudRate})
	if err != nil {
		return nil, err
	}
	return port, nil
}

// Open opens the device and returns a ready link.
func Open(cfg Config) (*Link, error) {
	if cfg.Port == "" {
		return nil, errors.New("serial port is required")
	}
	if cfg.BaudRate == 0 {
		cfg.BaudRate = DefaultBaudRate
	}
	if cfg.Opener == nil {
		cfg.Opener = OpenPort
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	port, err := cfg.Opener(cfg.Port, cfg.BaudRate)
	if err != nil {
		return nil, fmt.Errorf("opening serial port %s: %w", cfg.Port, err)
	}

	l := &Link{
		cfg:     cfg,
		log:     cfg.Logger.WithGroup("direct"),
		metrics: cfg.Metrics,
		port:    port,
	}
	l.log.Warn("using direct serial link, telemetry unavailable", "port", cfg.Port, "baud", cfg.BaudRate)
	return l, nil
}

// Send writes msg and a line terminator to the device. Write failures are
// logged and the message is lost.
func (l *Link) Send(msg string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.port == nil {
		l.log.Warn("dropping command, serial port closed", "message", msg)
		return transport.ErrNotConnected
	}

	if _, err := l.port.Write(append([]byte(msg), codec.LineTerminator)); err != nil {
		l.metrics.IncWriteErrors()
		l.log.Error("serial write error", "error", err, "message", msg)
		return nil
	}
	l.metrics.IncFramesSent()
	return nil
}

// Poll always returns nil; the direct link has no reader.
func (l *Link) Poll() []codec.Frame {
	return nil
}

// State returns StateOpen until Stop is called.
func (l *Link) State() transport.State {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.port == nil {
		return transport.StateDisconnected
	}
	return transport.StateOpen
}

// Mode returns "direct".
func (l *Link) Mode() string {
	return "direct"
}

// Stop closes the device. It is idempotent.
func (l *Link) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.port == nil {
		return nil
	}
	err := l.port.Close()
	l.port = nil
	return err
}
