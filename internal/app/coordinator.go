package app

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/akorchemkin/confpanel/internal/retry"
)

// ErrBusNotRegistered reports a subscribe attempt racing the bus handshake:
// the upstream side has not registered the just-opened connection yet. The
// only subscribe error worth retrying.
var ErrBusNotRegistered = errors.New("bus connection not registered")

// ConferenceAPI is what the coordinator needs from the REST surface.
type ConferenceAPI interface {
	Join(ctx context.Context, conferenceID, busID string) error
	Subscribe(ctx context.Context, conferenceID string) error
}

type CoordinatorConfig struct {
	BusIDPollTimeout  time.Duration
	BusIDPollInterval time.Duration
	ConnectionWait    time.Duration
	SubscribeSettle   time.Duration
	SubscribeAttempts int
	BackoffBase       time.Duration
	BackoffCap        time.Duration
}

func DefaultCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{
		BusIDPollTimeout:  5 * time.Second,
		BusIDPollInterval: 100 * time.Millisecond,
		ConnectionWait:    15 * time.Second,
		SubscribeSettle:   time.Second,
		SubscribeAttempts: 5,
		BackoffBase:       time.Second,
		BackoffCap:        5 * time.Second,
	}
}

// Coordinator sequences the join/subscribe REST calls against the event
// channel lifecycle: join needs the bus identifier the handshake mints, and
// subscribe must not race the upstream registering the new bus.
type Coordinator struct {
	bridge *Bridge
	api    ConferenceAPI
	cfg    CoordinatorConfig
}

func NewCoordinator(bridge *Bridge, api ConferenceAPI, cfg CoordinatorConfig) *Coordinator {
	return &Coordinator{bridge: bridge, api: api, cfg: cfg}
}

// WaitForConnection resolves once the bridge is connected, immediately if it
// already is.
func (c *Coordinator) WaitForConnection(ctx context.Context, timeout time.Duration) error {
	return c.bridge.WaitForConnection(ctx, timeout)
}

// JoinThenSubscribe joins the conference with the current bus identifier and
// then subscribes to its events. A missing busId degrades the join rather
// than blocking it; only bus-not-registered subscribe failures are retried.
func (c *Coordinator) JoinThenSubscribe(ctx context.Context, conferenceID string) error {
	err := retry.WaitFor(ctx, func() bool { return c.bridge.BusID() != "" },
		retry.WithTimeout(c.cfg.BusIDPollTimeout),
		retry.WithInterval(c.cfg.BusIDPollInterval),
	)
	if err != nil {
		if !errors.Is(err, retry.ErrConditionTimeout) {
			return err
		}
		// Degraded but available: join proceeds without a bus identifier.
		log.Warn().Str("module", "app.coordinator").Str("conference", conferenceID).Msg("no busId within poll window, joining without one")
	}
	busID := c.bridge.BusID()

	if err := c.api.Join(ctx, conferenceID, busID); err != nil {
		return err
	}
	log.Info().Str("module", "app.coordinator").Str("conference", conferenceID).Str("bus_id", busID).Msg("joined conference")

	if err := c.bridge.WaitForConnection(ctx, c.cfg.ConnectionWait); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		// Subscription is still attempted; the retry loop absorbs the race.
		log.Warn().Err(err).Str("module", "app.coordinator").Msg("event channel not connected, subscribing anyway")
	} else {
		// Give the upstream a moment to register the freshly opened bus.
		if err := retry.Sleep(ctx, c.cfg.SubscribeSettle); err != nil {
			return err
		}
	}

	return retry.Do(ctx,
		func() error { return c.api.Subscribe(ctx, conferenceID) },
		retry.WithMaxAttempts(c.cfg.SubscribeAttempts),
		retry.WithInitialDelay(c.cfg.BackoffBase),
		retry.WithMaxDelay(c.cfg.BackoffCap),
		retry.WithShouldRetry(func(err error) bool { return errors.Is(err, ErrBusNotRegistered) }),
		retry.WithOnRetry(func(attempt int, err error) {
			log.Warn().Err(err).Str("module", "app.coordinator").Int("attempt", attempt).Msg("subscribe retry")
		}),
	)
}
