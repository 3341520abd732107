package radio

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Air is an in-memory half-duplex medium between one field unit and one base
// station. Frames sent to the field unit are only heard while it is in
// receive mode; the base station hears everything sent while it is running.
// Loss drops frames at random in both directions.
type Air struct {
	mu      sync.Mutex
	loss    float64
	rng     *rand.Rand
	airtime bool

	field *FieldEndpoint
	base  *BaseEndpoint
	sent  int
	lost  int
}

// AirOption configures an Air.
type AirOption func(*Air)

// WithLoss drops each frame with probability p, using a seeded source.
func WithLoss(p float64, seed int64) AirOption {
	return func(a *Air) {
		a.loss = p
		a.rng = rand.New(rand.NewSource(seed))
	}
}

// WithAirtime makes field-unit transmissions take their LoRa time on air.
func WithAirtime() AirOption {
	return func(a *Air) { a.airtime = true }
}

// NewAir returns a lossless, instantaneous medium unless configured otherwise.
func NewAir(opts ...AirOption) *Air {
	a := &Air{}
	for _, opt := range opts {
		opt(a)
	}
	a.field = &FieldEndpoint{air: a, cfg: DefaultConfig()}
	a.base = &BaseEndpoint{air: a, inbox: make(chan []byte, 16)}
	return a
}

// FieldUnit returns the field-unit side.
func (a *Air) FieldUnit() *FieldEndpoint { return a.field }

// BaseStation returns the base-station side.
func (a *Air) BaseStation() *BaseEndpoint { return a.base }

// Stats returns the number of frames sent and lost.
func (a *Air) Stats() (sent, lost int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sent, a.lost
}

// dropped must be called with a.mu held.
func (a *Air) dropped() bool {
	a.sent++
	if a.rng != nil && a.rng.Float64() < a.loss {
		a.lost++
		return true
	}
	return false
}

type fieldMode int

const (
	modeStandby fieldMode = iota
	modeTransmit
	modeReceive
)

// FieldEndpoint implements Transceiver.
type FieldEndpoint struct {
	air     *Air
	mode    fieldMode
	txDone  time.Time
	rxFrame []byte
	cfg     Config
}

var _ Transceiver = (*FieldEndpoint)(nil)

// StartTransmit implements Transceiver.
func (f *FieldEndpoint) StartTransmit(frame []byte) error {
	a := f.air
	a.mu.Lock()
	defer a.mu.Unlock()

	f.mode = modeTransmit
	f.rxFrame = nil
	f.txDone = time.Now()
	if a.airtime {
		f.txDone = f.txDone.Add(f.cfg.TimeOnAir(len(frame)))
	}
	if a.dropped() {
		return nil
	}
	select {
	case a.base.inbox <- append([]byte(nil), frame...):
	default:
		a.lost++
	}
	return nil
}

// TransmitDone implements Transceiver.
func (f *FieldEndpoint) TransmitDone() (bool, error) {
	f.air.mu.Lock()
	defer f.air.mu.Unlock()
	if f.mode != modeTransmit {
		return true, nil
	}
	if time.Now().Before(f.txDone) {
		return false, nil
	}
	f.mode = modeStandby
	return true, nil
}

// StartReceive implements Transceiver.
func (f *FieldEndpoint) StartReceive() error {
	f.air.mu.Lock()
	defer f.air.mu.Unlock()
	f.mode = modeReceive
	f.rxFrame = nil
	return nil
}

// CheckReceive implements Transceiver.
func (f *FieldEndpoint) CheckReceive() (bool, error) {
	f.air.mu.Lock()
	defer f.air.mu.Unlock()
	if f.mode != modeReceive {
		return false, ErrBusy
	}
	return f.rxFrame != nil, nil
}

// Received implements Transceiver.
func (f *FieldEndpoint) Received(buf []byte) (int, error) {
	f.air.mu.Lock()
	defer f.air.mu.Unlock()
	if f.rxFrame == nil {
		return 0, ErrBusy
	}
	n := copy(buf, f.rxFrame)
	f.rxFrame = nil
	return n, nil
}

// Reset implements Transceiver.
func (f *FieldEndpoint) Reset() error {
	f.air.mu.Lock()
	defer f.air.mu.Unlock()
	f.mode = modeStandby
	f.rxFrame = nil
	return nil
}

// Configure implements Transceiver.
func (f *FieldEndpoint) Configure(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	f.air.mu.Lock()
	defer f.air.mu.Unlock()
	f.cfg = cfg
	return nil
}

// BaseEndpoint implements Link.
type BaseEndpoint struct {
	air   *Air
	inbox chan []byte
}

var _ Link = (*BaseEndpoint)(nil)

// Receive implements Link.
func (b *BaseEndpoint) Receive(ctx context.Context, timeout time.Duration) ([]byte, error) {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case frame := <-b.inbox:
		return frame, nil
	case <-t.C:
		return nil, ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Transmit implements Link. The frame is lost unless the field unit is
// listening and has no unread frame.
func (b *BaseEndpoint) Transmit(ctx context.Context, frame []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a := b.air
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.dropped() {
		return nil
	}
	f := a.field
	if f.mode != modeReceive || f.rxFrame != nil {
		a.lost++
		return nil
	}
	f.rxFrame = append([]byte(nil), frame...)
	return nil
}
