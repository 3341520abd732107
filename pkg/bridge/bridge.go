// Package bridge is the host side of the LoRa bridge: a small MCU with an
// SX127x radio that relays frames over USB serial using the wire line
// protocol.
package bridge

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/itohio/garden/pkg/bridge/wire"
	"github.com/itohio/garden/pkg/radio"
	"go.bug.st/serial"
)

const (
	// DefaultBaudRate matches the bridge firmware.
	DefaultBaudRate = 115200
	// DefaultBufferSize is the number of received frames buffered.
	DefaultBufferSize = 16
	// DefaultAckTimeout bounds the wait for the bridge to acknowledge a
	// transmit; a LoRa frame at SF7 takes well under a second on air.
	DefaultAckTimeout = 2 * time.Second
	// MaxReconnectInterval caps the wait between reconnect attempts.
	MaxReconnectInterval = 30 * time.Second
)

// ErrTransmit is returned when the bridge reports a failed transmit.
var ErrTransmit = errors.New("bridge transmit failed")

var errClosed = errors.New("bridge closed")

// Port represents a serial port.
type Port struct {
	Name        string
	Description string
}

// Signal is the link quality of the last received frame.
type Signal struct {
	RSSI int       `json:"rssi"`
	SNR  float32   `json:"snr"`
	At   time.Time `json:"at"`
}

// Serial is a radio.Link over the bridge MCU.
type Serial struct {
	port       string
	baudRate   int
	bufSize    int
	AckTimeout time.Duration

	open      func() (io.ReadWriteCloser, error)
	conn      io.ReadWriteCloser
	frames    chan []byte
	acks      chan wire.Line
	mu        sync.RWMutex
	txMu      sync.Mutex
	done      chan struct{}
	connected bool
	closed    bool
	signal    Signal
}

var _ radio.Link = (*Serial)(nil)

// New creates a link for the bridge on port.
func New(port string, baudRate int, bufSize int) *Serial {
	if baudRate == 0 {
		baudRate = DefaultBaudRate
	}
	if bufSize == 0 {
		bufSize = DefaultBufferSize
	}
	d := &Serial{
		port:       port,
		baudRate:   baudRate,
		bufSize:    bufSize,
		AckTimeout: DefaultAckTimeout,
	}
	d.open = func() (io.ReadWriteCloser, error) {
		return serial.Open(d.port, &serial.Mode{BaudRate: d.baudRate})
	}
	return d
}

// Ports returns the available serial ports.
func Ports() ([]Port, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}
	result := make([]Port, 0, len(ports))
	for _, name := range ports {
		result = append(result, Port{Name: name, Description: name})
	}
	return result, nil
}

// Connect opens the serial port and starts reading lines.
func (d *Serial) Connect() error {
	port, err := d.open()
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", d.port, err)
	}
	if err := d.attach(port); err != nil {
		port.Close()
		return err
	}
	return nil
}

func (d *Serial) attach(conn io.ReadWriteCloser) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.connected {
		return fmt.Errorf("already connected")
	}
	d.conn = conn
	d.frames = make(chan []byte, d.bufSize)
	d.acks = make(chan wire.Line, 1)
	d.done = make(chan struct{})
	d.connected = true
	d.closed = false

	frames, acks, done := d.frames, d.acks, d.done
	go func() {
		d.readLines(conn, frames, acks, done)
		d.portLost(conn, done)
	}()
	return nil
}

// portLost tears down a connection whose reader stopped on its own, so
// callers see radio.ErrNotConnected and Supervise can reconnect.
func (d *Serial) portLost(conn io.ReadWriteCloser, done chan struct{}) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.connected || d.done != done {
		return
	}
	close(done)
	if err := conn.Close(); err != nil {
		log.Printf("Error closing serial port: %v", err)
	}
	d.conn = nil
	d.connected = false
	log.Printf("Lost bridge on %s", d.port)
}

// ReconnectBackOff retries forever with exponential delays up to
// MaxReconnectInterval.
func ReconnectBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.MaxInterval = MaxReconnectInterval
	b.MaxElapsedTime = 0
	return b
}

// Supervise reconnects whenever the port is lost, retrying with b, until
// ctx is cancelled or Close is called. It returns an error only when b gives
// up.
func (d *Serial) Supervise(ctx context.Context, b backoff.BackOff) error {
	for {
		d.mu.RLock()
		done, connected := d.done, d.connected
		d.mu.RUnlock()

		if connected {
			select {
			case <-done:
			case <-ctx.Done():
				return nil
			}
		}

		d.mu.RLock()
		closed := d.closed
		d.mu.RUnlock()
		if closed || ctx.Err() != nil {
			return nil
		}

		err := backoff.Retry(func() error {
			d.mu.RLock()
			closed := d.closed
			d.mu.RUnlock()
			if closed {
				return backoff.Permanent(errClosed)
			}
			if err := d.Connect(); err != nil {
				log.Printf("Bridge reconnect: %v", err)
				return err
			}
			return nil
		}, backoff.WithContext(b, ctx))
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, errClosed) {
				return nil
			}
			return fmt.Errorf("failed to reconnect bridge on %s: %w", d.port, err)
		}
		log.Printf("Reconnected to bridge on %s", d.port)
	}
}

// Close closes the port.
func (d *Serial) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.closed = true
	if !d.connected {
		return nil
	}
	close(d.done)
	if err := d.conn.Close(); err != nil {
		log.Printf("Error closing serial port: %v", err)
	}
	d.conn = nil
	d.connected = false
	return nil
}

// IsConnected returns whether the port is open.
func (d *Serial) IsConnected() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.connected
}

// Signal returns the link quality of the last received frame.
func (d *Serial) Signal() Signal {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.signal
}

// Receive implements radio.Link.
func (d *Serial) Receive(ctx context.Context, timeout time.Duration) ([]byte, error) {
	d.mu.RLock()
	frames, done, connected := d.frames, d.done, d.connected
	d.mu.RUnlock()
	if !connected {
		return nil, radio.ErrNotConnected
	}

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case frame, ok := <-frames:
		if !ok {
			return nil, radio.ErrNotConnected
		}
		return frame, nil
	case <-t.C:
		return nil, radio.ErrTimeout
	case <-done:
		return nil, radio.ErrNotConnected
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Transmit implements radio.Link. It returns once the bridge has
// acknowledged the frame.
func (d *Serial) Transmit(ctx context.Context, frame []byte) error {
	d.txMu.Lock()
	defer d.txMu.Unlock()

	d.mu.RLock()
	conn, acks, done, connected := d.conn, d.acks, d.done, d.connected
	d.mu.RUnlock()
	if !connected {
		return radio.ErrNotConnected
	}

	select {
	case stale := <-acks:
		log.Printf("Discarding stale bridge %v", stale.Kind)
	default:
	}

	if _, err := conn.Write(wire.TX(frame).Append(nil)); err != nil {
		return fmt.Errorf("failed to send frame to bridge: %w", err)
	}

	t := time.NewTimer(d.AckTimeout)
	defer t.Stop()
	select {
	case ack := <-acks:
		if ack.Kind == wire.KindErr {
			return fmt.Errorf("%w: %s", ErrTransmit, ack.Text)
		}
		return nil
	case <-t.C:
		return fmt.Errorf("%w: no acknowledgement within %v", radio.ErrTimeout, d.AckTimeout)
	case <-done:
		return radio.ErrNotConnected
	case <-ctx.Done():
		return ctx.Err()
	}
}

// readLines parses lines from the bridge until the port closes.
func (d *Serial) readLines(r io.Reader, frames chan<- []byte, acks chan<- wire.Line, done <-chan struct{}) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Panic in readLines: %v", r)
		}
	}()
	defer close(frames)

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if strings.TrimSpace(scanner.Text()) == "" {
			continue
		}
		line, err := wire.Parse(scanner.Text())
		if err != nil {
			log.Printf("Failed to parse bridge line %q: %v", scanner.Text(), err)
			continue
		}

		switch line.Kind {
		case wire.KindRX:
			d.mu.Lock()
			d.signal = Signal{RSSI: line.RSSI, SNR: line.SNR, At: time.Now()}
			d.mu.Unlock()
			select {
			case frames <- line.Frame:
			case <-done:
				return
			default:
				log.Printf("Frame buffer full, dropping frame")
			}
		case wire.KindOK, wire.KindErr:
			select {
			case acks <- line:
			default:
				log.Printf("Unexpected bridge %v", line.Kind)
			}
		default:
			log.Printf("Ignoring bridge line %v", line.Kind)
		}
	}
	if err := scanner.Err(); err != nil {
		select {
		case <-done:
		default:
			log.Printf("Error reading from serial port: %v", err)
		}
	}
}
