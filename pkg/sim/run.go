package sim

import (
	"context"
	"fmt"
	"log"

	"github.com/itohio/garden/pkg/fieldunit"
	"github.com/itohio/garden/pkg/radio"
)

// NewAir returns the radio medium described by cfg.
func NewAir(cfg Config) *radio.Air {
	var opts []radio.AirOption
	if cfg.Loss > 0 {
		opts = append(opts, radio.WithLoss(cfg.Loss, cfg.Seed))
	}
	if cfg.Airtime {
		opts = append(opts, radio.WithAirtime())
	}
	return radio.NewAir(opts...)
}

// Run operates a field unit on the simulated hardware until ctx is
// cancelled. The unit is rebooted whenever it requests a reset or its
// watchdog expires.
func Run(ctx context.Context, cfg fieldunit.Config, field *Field) error {
	for {
		app, err := fieldunit.New(cfg, field.Hardware(cfg.WatchdogTimeout))
		if err != nil {
			field.Close()
			return fmt.Errorf("failed to boot simulated field unit: %w", err)
		}
		if err := field.Start(app.EdgeInterrupt); err != nil {
			field.Close()
			return err
		}

		appCtx, cancel := context.WithCancel(ctx)
		done := make(chan error, 1)
		go func() { done <- app.Run(appCtx) }()

		var reason string
		select {
		case <-ctx.Done():
			cancel()
			err = <-done
		case reason = <-field.Reboots():
			cancel()
			err = <-done
		case err = <-done:
			cancel()
			if err == nil {
				err = fmt.Errorf("field unit stopped unexpectedly")
			}
		}
		field.Close()

		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return err
		}
		log.Printf("Simulated field unit rebooting: %s", reason)
	}
}
