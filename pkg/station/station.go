// Package station is the base-station relay: it owns the radio link,
// reconciles the field unit's actuators with the operator's desired state,
// and feeds accepted reports to fusion and the status cell.
package station

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/itohio/garden/pkg/protocol"
	"github.com/itohio/garden/pkg/radio"
	"github.com/itohio/garden/pkg/watch"
)

// Config holds the relay's addressing and timing.
type Config struct {
	Address        protocol.DevAddr `yaml:"address"`
	FieldAddress   protocol.DevAddr `yaml:"field_address"`
	ReceiveTimeout time.Duration    `yaml:"receive_timeout"`
	GuardDelay     time.Duration    `yaml:"guard_delay"`
}

// DefaultConfig returns the deployed relay settings.
func DefaultConfig() Config {
	return Config{
		Address:        protocol.BaseStationAddr,
		FieldAddress:   protocol.FieldUnitAddr,
		ReceiveTimeout: time.Second,
		GuardDelay:     10 * time.Millisecond,
	}
}

// ErrForeignSender marks frames from an address other than the field unit.
var ErrForeignSender = errors.New("frame from unexpected sender")

// Submitter consumes accepted messages.
type Submitter interface {
	Submit(ctx context.Context, msg protocol.Message) error
}

// Station runs the receive loop. It is the only user of its link.
type Station struct {
	cfg      Config
	link     radio.Link
	desired  *Desired
	exporter Submitter
	status   *watch.Cell[protocol.DeviceStatus]
}

// New returns a relay over link.
func New(cfg Config, link radio.Link, desired *Desired, exporter Submitter, status *watch.Cell[protocol.DeviceStatus]) *Station {
	return &Station{
		cfg:      cfg,
		link:     link,
		desired:  desired,
		exporter: exporter,
		status:   status,
	}
}

// Step runs one receive cycle: receive, decode, filter by source, send a
// pending reset, reconcile flags, then submit. It returns radio.ErrTimeout
// when nothing arrived.
func (s *Station) Step(ctx context.Context) error {
	frame, err := s.link.Receive(ctx, s.cfg.ReceiveTimeout)
	if err != nil {
		return err
	}
	t, err := protocol.UnmarshalMessage(frame)
	if err != nil {
		return fmt.Errorf("failed to decode frame: %w", err)
	}
	if t.Src != s.cfg.FieldAddress {
		return fmt.Errorf("%w: %d", ErrForeignSender, t.Src)
	}

	if seen, ok := s.desired.ResetRequest(); ok {
		if err := s.send(ctx, protocol.Reset{}); err != nil {
			return err
		}
		s.desired.ClearReset(seen)
	}

	update, isStatus := t.Msg.(protocol.StatusUpdate)
	if isStatus {
		if desired := s.desired.Flags(); update.Status.Flags != desired {
			if err := s.send(ctx, protocol.SyncFlags{Flags: desired}); err != nil {
				return err
			}
		}
	}

	if err := s.exporter.Submit(ctx, t.Msg); err != nil {
		return fmt.Errorf("rejected %T: %w", t.Msg, err)
	}
	if isStatus {
		s.status.Set(update.Status)
	}
	return nil
}

// send transmits cmd after the guard delay that lets the field unit switch
// to receive.
func (s *Station) send(ctx context.Context, cmd protocol.Command) error {
	frame, err := protocol.MarshalCommand(protocol.Transmission[protocol.Command]{Src: s.cfg.Address, Msg: cmd})
	if err != nil {
		return fmt.Errorf("failed to encode %T: %w", cmd, err)
	}
	if err := sleep(ctx, s.cfg.GuardDelay); err != nil {
		return err
	}
	log.Printf("Transmitting %T %v", cmd, cmd)
	if err := s.link.Transmit(ctx, frame); err != nil {
		return fmt.Errorf("failed to transmit %T: %w", cmd, err)
	}
	return nil
}

// Run steps until ctx is cancelled. Per-cycle errors are logged and the loop
// continues.
func (s *Station) Run(ctx context.Context) error {
	log.Printf("Base station %d listening for field unit %d", s.cfg.Address, s.cfg.FieldAddress)
	for {
		err := s.Step(ctx)
		switch {
		case err == nil, errors.Is(err, radio.ErrTimeout):
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, radio.ErrNotConnected):
			log.Printf("Radio unavailable: %v", err)
			if err := sleep(ctx, s.cfg.ReceiveTimeout); err != nil {
				return nil
			}
		default:
			log.Printf("Receive cycle: %v", err)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
