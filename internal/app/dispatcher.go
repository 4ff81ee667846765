package app

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/akorchemkin/confpanel/internal/core"
	"github.com/akorchemkin/confpanel/internal/domain"
)

// Dispatcher interprets raw bus payloads and fans conference events out to
// subscribers. Subscriptions survive bridge stop/reconnect; payloads from a
// bus other than the current one are dropped so stale in-flight events never
// leak past a reconnect.
type Dispatcher struct {
	mu      sync.Mutex
	busID   string
	lastSeq int64
	haveSeq bool

	subs core.CallbackList[domain.Event]
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{}
}

// Subscribe registers fn for every decoded conference event, in registration
// order. The returned func removes the subscription and is safe to call from
// inside a dispatch.
func (d *Dispatcher) Subscribe(fn func(domain.Event)) func() {
	cancel := d.subs.Add(fn)
	log.Debug().Str("module", "app.dispatcher").Int("total", d.subs.Len()).Msg("subscriber registered")
	return cancel
}

func (d *Dispatcher) Subscribers() int {
	return d.subs.Len()
}

// ResetBus marks busID as the current bus and restarts sequence tracking.
// Called by the bridge on every connected handshake.
func (d *Dispatcher) ResetBus(busID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.busID = busID
	d.lastSeq = 0
	d.haveSeq = false
}

// Dispatch classifies one raw bus message and delivers its events. Malformed
// payloads are logged and dropped; they never break the stream.
func (d *Dispatcher) Dispatch(busID string, payload core.Frame) {
	d.mu.Lock()
	current := d.busID
	d.mu.Unlock()
	if busID != current {
		log.Debug().Str("module", "app.dispatcher").Str("bus_id", busID).Str("current", current).Msg("dropping frame from stale bus")
		return
	}

	env, ok := domain.DecodeEnvelope(payload)
	if !ok {
		log.Warn().Str("module", "app.dispatcher").Msg("unclassified payload dropped")
		return
	}

	switch env.Class {
	case domain.ClassNumberedMessage:
		d.trackSequence(env.Sequence)
		if len(env.Message) == 0 {
			// Sync marker: catch-up to live state is complete.
			log.Info().Str("module", "app.dispatcher").Int64("seq", env.Sequence).Msg("sync marker received")
			return
		}
		ev, ok := domain.DecodeEvent(env.Message)
		if !ok {
			log.Warn().Str("module", "app.dispatcher").Int64("seq", env.Sequence).Msg("undecodable event dropped")
			return
		}
		ev.Sequence = env.Sequence
		ev.BusID = busID
		d.deliver(ev)

	case domain.ClassBulkMessage:
		log.Info().Str("module", "app.dispatcher").Int("count", len(env.Events)).Msg("bulk events")
		for _, raw := range env.Events {
			ev, ok := domain.DecodeEvent(raw)
			if !ok {
				log.Warn().Str("module", "app.dispatcher").Msg("undecodable bulk event dropped")
				continue
			}
			ev.BusID = busID
			d.deliver(ev)
		}

	default:
		log.Debug().Str("module", "app.dispatcher").Str("class", env.Class).Msg("unknown message class dropped")
	}
}

func (d *Dispatcher) trackSequence(seq int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.haveSeq && seq != d.lastSeq+1 {
		log.Warn().Str("module", "app.dispatcher").Int64("expected", d.lastSeq+1).Int64("got", seq).Msg("sequence gap detected")
	}
	d.lastSeq = seq
	d.haveSeq = true
}

// deliver invokes every subscriber for one event. A panicking subscriber is
// isolated and logged; the remaining subscribers still run.
func (d *Dispatcher) deliver(ev domain.Event) {
	for i, fn := range d.subs.Snapshot() {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error().Str("module", "app.dispatcher").Int("subscriber", i).Any("panic", r).Str("class", ev.Class).Msg("subscriber panicked")
				}
			}()
			fn(ev)
		}()
	}
}
