// Package serial provides the buffered serial link to the gas-mixing
// controller.
//
// Two goroutines run for as long as the port is open: a reader that feeds
// bounded reads through a codec.Framer into an inbound queue, and a writer
// that drains an outbound queue onto the port. Neither Send nor Poll touches
// the device, so callers on a UI loop never block on I/O.
package serial

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/kabili207/gasmix-go/core/codec"
	"github.com/kabili207/gasmix-go/core/queue"
	"github.com/kabili207/gasmix-go/metrics"
	"github.com/kabili207/gasmix-go/transport"
)

// Compile-time interface check.
var _ transport.Link = (*Transport)(nil)

const (
	// DefaultPort is the controller's usual device path.
	DefaultPort = "/dev/ttyACM0"
	// DefaultBaudRate is the controller's serial baud rate.
	DefaultBaudRate = 9600
	// DefaultReadTimeout bounds every device read.
	DefaultReadTimeout = 50 * time.Millisecond
	// DefaultQueueWait bounds how long the writer waits for a message before
	// checking for shutdown.
	DefaultQueueWait = 100 * time.Millisecond
	// DefaultRetryDelay is the pause after a failed read.
	DefaultRetryDelay = 200 * time.Millisecond

	// readBufSize is the size of the serial read buffer.
	readBufSize = 256
)

var ErrAlreadyStarted = errors.New("transport already started")

// Port is the device handle the transport reads from and writes to.
type Port interface {
	io.ReadWriteCloser
}

// Opener opens the device at path. Reads on the returned port must return
// (0, nil) after at most readTimeout when no data is available.
type Opener func(path string, baudRate int, readTimeout time.Duration) (Port, error)

// Config holds the configuration for a serial transport.
type Config struct {
	// Port is the serial port path. Defaults to DefaultPort.
	Port string
	// BaudRate is the serial baud rate. Defaults to DefaultBaudRate.
	BaudRate int
	// ReadTimeout bounds each read. Defaults to DefaultReadTimeout.
	ReadTimeout time.Duration
	// QueueWait bounds each wait on the outbound queue. Defaults to
	// DefaultQueueWait.
	QueueWait time.Duration
	// RetryDelay is the pause after a read failure. Defaults to
	// DefaultRetryDelay.
	RetryDelay time.Duration
	// Opener opens the device. Defaults to OpenPort.
	Opener Opener
	// Logger is the logger to use. If nil, slog.Default() is used.
	Logger *slog.Logger
	// Metrics records link counters. May be nil.
	Metrics *metrics.Metrics
}

// Transport implements transport.Link over a serial port.
type Transport struct {
	cfg     Config
	log     *slog.Logger
	metrics *metrics.Metrics

	framer   *codec.Framer
	inbound  *queue.Queue[codec.Frame]
	outbound *queue.Queue[string]

	mu      sync.RWMutex
	state   transport.State
	port    Port
	started bool

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
	stopErr  error
}

// New creates a serial transport with the given configuration. The port is
// not opened until Start.
func New(cfg Config) *Transport {
	if cfg.Port == "" {
		cfg.Port = DefaultPort
	}
	if cfg.BaudRate == 0 {
		cfg.BaudRate = DefaultBaudRate
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.QueueWait <= 0 {
		cfg.QueueWait = DefaultQueueWait
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.Opener == nil {
		cfg.Opener = OpenPort
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Transport{
		cfg:      cfg,
		log:      cfg.Logger.WithGroup("serial"),
		metrics:  cfg.Metrics,
		framer:   codec.NewFramer(),
		inbound:  queue.New[codec.Frame](),
		outbound: queue.New[string](),
		done:     make(chan struct{}),
	}
}

// OpenPort opens a real serial device with go.bug.st/serial.
func OpenPort(path string, baudRate int, readTimeout time.Duration) (Port, error) {
	port, err := serial.Open(path, &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, err
	}
	if err := port.SetReadTimeout(readTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("setting read timeout: %w", err)
	}
	return port, nil
}

// Start opens the serial port and launches the reader and writer. The
// transport stops when ctx is cancelled or Stop is called.
func (t *Transport) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return ErrAlreadyStarted
	}
	t.started = true
	t.state = transport.StateConnecting
	t.mu.Unlock()

	port, err := t.cfg.Opener(t.cfg.Port, t.cfg.BaudRate, t.cfg.ReadTimeout)
	if err != nil {
		t.setState(transport.StateDisconnected)
		return fmt.Errorf("opening serial port %s: %w", t.cfg.Port, err)
	}

	t.mu.Lock()
	select {
	case <-t.done:
		// Stopped while opening.
		t.state = transport.StateDisconnected
		t.mu.Unlock()
		port.Close()
		return transport.ErrNotConnected
	default:
	}
	t.port = port
	t.state = transport.StateOpen
	t.mu.Unlock()

	t.wg.Add(2)
	go t.readLoop(port)
	go t.writeLoop(port)

	go func() {
		select {
		case <-ctx.Done():
			t.Stop()
		case <-t.done:
		}
	}()

	t.log.Info("connected to serial port", "port", t.cfg.Port, "baud", t.cfg.BaudRate)
	return nil
}

// Stop signals both loops to exit, closes the port and waits for the loops
// to finish. Shutdown latency is bounded by the read timeout and queue wait.
// Calling Stop more than once is safe.
func (t *Transport) Stop() error {
	t.stopOnce.Do(func() {
		close(t.done)

		t.mu.Lock()
		port := t.port
		t.port = nil
		wasOpen := t.state == transport.StateOpen
		t.state = transport.StateDisconnected
		t.mu.Unlock()

		if port != nil {
			t.stopErr = port.Close()
		}
		t.wg.Wait()

		if wasOpen {
			t.log.Info("serial port closed", "port", t.cfg.Port)
		}
	})
	return t.stopErr
}

// Send queues msg for the writer. It never blocks; the queue is unbounded.
func (t *Transport) Send(msg string) error {
	if t.State() != transport.StateOpen {
		t.log.Warn("dropping command, serial port not open", "message", msg)
		return transport.ErrNotConnected
	}
	t.outbound.Push(msg)
	return nil
}

// Poll returns every frame received since the last call.
func (t *Transport) Poll() []codec.Frame {
	return t.inbound.Drain()
}

// State returns the connection state.
func (t *Transport) State() transport.State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// Mode returns "buffered".
func (t *Transport) Mode() string {
	return "buffered"
}

// Pending returns the number of queued outbound messages.
func (t *Transport) Pending() int {
	return t.outbound.Len()
}

func (t *Transport) setState(s transport.State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = s
}

// readLoop feeds bounded reads into the framer until the transport stops.
func (t *Transport) readLoop(port Port) {
	defer t.wg.Done()

	buf := make([]byte, readBufSize)
	for !t.stopping() {
		t.guard("read", func() { t.readOnce(port, buf) })
	}
}

func (t *Transport) readOnce(port Port, buf []byte) {
	n, err := port.Read(buf)
	if err != nil {
		if t.stopping() {
			return
		}
		t.metrics.IncReadErrors()
		t.log.Error("serial read error", "error", err)
		t.pause()
		return
	}
	if n == 0 {
		return
	}
	t.metrics.AddBytesRead(n)
	t.processFrames(buf[:n])
}

// processFrames runs a chunk through the framer and queues complete frames.
func (t *Transport) processFrames(chunk []byte) {
	resets := t.framer.Resets()
	frames := t.framer.Feed(chunk)
	t.metrics.AddGarbageResets(t.framer.Resets() - resets)

	t.metrics.AddFramesReceived(len(frames))
	for _, f := range frames {
		t.inbound.Push(f)
	}
}

// writeLoop writes queued messages in FIFO order until the transport stops.
// A failed write is logged and the message is dropped.
func (t *Transport) writeLoop(port Port) {
	defer t.wg.Done()

	for !t.stopping() {
		msg, ok := t.outbound.Wait(t.cfg.QueueWait, t.done)
		if !ok {
			continue
		}
		t.guard("write", func() { t.write(port, msg) })
	}
}

func (t *Transport) write(port Port, msg string) {
	data := make([]byte, 0, len(msg)+1)
	data = append(data, msg...)
	data = append(data, codec.LineTerminator)

	if _, err := port.Write(data); err != nil {
		if t.stopping() {
			return
		}
		t.metrics.IncWriteErrors()
		t.log.Error("serial write error", "error", err, "message", msg)
		return
	}
	t.metrics.IncFramesSent()
}

// guard runs one loop iteration, logging a panic instead of letting it end
// the goroutine.
func (t *Transport) guard(loop string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			t.log.Error("recovered from panic in serial loop", "loop", loop, "panic", r)
			t.pause()
		}
	}()
	fn()
}

func (t *Transport) pause() {
	timer := time.NewTimer(t.cfg.RetryDelay)
	defer timer.Stop()
	select {
	case <-t.done:
	case <-timer.C:
	}
}

func (t *Transport) stopping() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}
