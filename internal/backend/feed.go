package backend

import (
	"context"
	"time"

	"github.com/storyline-ai/storyline/internal/engine"
	"github.com/storyline-ai/storyline/internal/events"
	"github.com/storyline-ai/storyline/internal/logging"
)

const (
	feedInitialBackoff    = time.Second
	feedMaxBackoff        = 30 * time.Second
	feedBackoffMultiplier = 2.0
)

// Feed pumps the backend event stream into the run registry. A broken
// stream is announced on the bus and reopened with exponential backoff;
// events inside a connection are applied in delivery order.
type Feed struct {
	client   *Client
	registry *engine.Registry
	bus      *events.EventBus
	logger   *logging.Logger
}

// NewFeed creates a feed consumer.
func NewFeed(client *Client, registry *engine.Registry, bus *events.EventBus, logger *logging.Logger) *Feed {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Feed{
		client:   client,
		registry: registry,
		bus:      bus,
		logger:   logger,
	}
}

// Run consumes the stream until ctx is canceled. It only returns early
// when no backend is configured.
func (f *Feed) Run(ctx context.Context) error {
	if !f.client.Configured() {
		f.logger.Info("no backend configured, event feed disabled")
		return nil
	}

	backoff := feedInitialBackoff
	attempt := 0
	for {
		delivered, err := f.consume(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if delivered > 0 {
			backoff = feedInitialBackoff
			attempt = 0
		}
		attempt++

		message := "event stream closed"
		if err != nil {
			message = err.Error()
		}
		f.logger.Warn("event stream interrupted",
			"error", message, "attempt", attempt, "retry_in", backoff)
		if f.bus != nil {
			f.bus.Publish(events.NewTransportErrorEvent("", message, attempt, backoff))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff = time.Duration(float64(backoff) * feedBackoffMultiplier)
		if backoff > feedMaxBackoff {
			backoff = feedMaxBackoff
		}
	}
}

// consume opens one stream and drains it, returning how many envelopes it
// delivered before the connection broke.
func (f *Feed) consume(ctx context.Context) (int, error) {
	ch, cancel, err := f.client.Events(ctx)
	if err != nil {
		return 0, err
	}
	defer cancel()

	delivered := 0
	for {
		select {
		case <-ctx.Done():
			return delivered, ctx.Err()
		case env, ok := <-ch:
			if !ok {
				return delivered, nil
			}
			delivered++
			// Malformed events are logged inside; keep the stream alive.
			_ = f.registry.Apply(env)
		}
	}
}
