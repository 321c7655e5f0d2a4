// Package watch adapts the backing cluster API into per-kind change event
// streams and pumps them into the dispatcher, one goroutine per kind so
// per-kind event ordering is preserved end to end.
package watch

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/fleet-dashboard/internal/model"
)

// ShootSource emits shoot change events. Run blocks until ctx is cancelled
// or the underlying stream fails irrecoverably; events must be sent in the
// order the backing API produced them.
type ShootSource interface {
	// Name returns the source identifier for logging.
	Name() string

	// Run delivers events to out until ctx is cancelled.
	Run(ctx context.Context, out chan<- model.ShootEvent) error
}

// ShootSink consumes shoot events; implemented by the dispatcher.
type ShootSink interface {
	OnShootEvent(ev model.ShootEvent)
}

// Runner drives one source into one sink on a dedicated goroutine. Exactly
// one sink invocation is in flight at a time per kind.
type Runner struct {
	source ShootSource
	sink   ShootSink
	logger zerolog.Logger
}

// NewRunner creates a runner for the shoots kind.
func NewRunner(source ShootSource, sink ShootSink, logger zerolog.Logger) *Runner {
	return &Runner{
		source: source,
		sink:   sink,
		logger: logger.With().Str("component", "watch").Str("source", source.Name()).Logger(),
	}
}

// Run starts the source and applies its events to the sink serially.
// Returns when ctx is cancelled or the source stops.
func (r *Runner) Run(ctx context.Context) error {
	out := make(chan model.ShootEvent, 64)
	errCh := make(chan error, 1)

	go func() {
		errCh <- r.source.Run(ctx, out)
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errCh:
			if err != nil && ctx.Err() == nil {
				return fmt.Errorf("shoot source %s stopped: %w", r.source.Name(), err)
			}
			return err
		case ev := <-out:
			r.sink.OnShootEvent(ev)
		}
	}
}
