package app

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/akorchemkin/confpanel/internal/core"
	"github.com/akorchemkin/confpanel/internal/domain"
)

type bridgeEntry struct {
	Bridge *Bridge
	Disp   *Dispatcher
	Cancel context.CancelFunc
}

// Registry owns one bridge per active session key. Create always tears down
// any prior bridge for the same key, so at most one live connector exists per
// session. This is the only shared mutable structure on the server side.
type Registry struct {
	dialer  core.BusDialer
	policy  ReconnectPolicy
	mu      sync.Mutex
	bridges map[core.SessionKey]*bridgeEntry
}

func NewRegistry(dialer core.BusDialer, policy ReconnectPolicy) *Registry {
	return &Registry{
		dialer:  dialer,
		policy:  policy,
		bridges: make(map[core.SessionKey]*bridgeEntry),
	}
}

// Create starts a bridge for cred and registers it. Any existing bridge for
// the same session is disposed first.
func (r *Registry) Create(ctx context.Context, cred domain.Credential) (*Bridge, *Dispatcher, error) {
	key := core.SessionKey(cred.Key())
	r.Dispose(key)

	disp := NewDispatcher()
	bridge := NewBridge(r.dialer, disp,
		WithReconnectPolicy(r.policy),
		WithAuthInvalidHandler(func() { r.Dispose(key) }),
	)

	ctx, cancel := context.WithCancel(ctx)
	if err := bridge.Start(ctx, cred); err != nil {
		cancel()
		return nil, nil, err
	}

	r.mu.Lock()
	r.bridges[key] = &bridgeEntry{Bridge: bridge, Disp: disp, Cancel: cancel}
	r.mu.Unlock()
	log.Info().Str("module", "app.registry").Msg("bridge registered")
	return bridge, disp, nil
}

func (r *Registry) Lookup(key core.SessionKey) (*Bridge, *Dispatcher, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.bridges[key]; ok {
		return e.Bridge, e.Disp, true
	}
	return nil, nil, false
}

// Dispose stops and removes the bridge for key, if any.
func (r *Registry) Dispose(key core.SessionKey) {
	r.mu.Lock()
	e, ok := r.bridges[key]
	if ok {
		delete(r.bridges, key)
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	e.Bridge.Stop()
	e.Cancel()
	log.Info().Str("module", "app.registry").Msg("bridge disposed")
}

func (r *Registry) DisposeAll() {
	r.mu.Lock()
	entries := r.bridges
	r.bridges = make(map[core.SessionKey]*bridgeEntry)
	r.mu.Unlock()
	for _, e := range entries {
		e.Bridge.Stop()
		e.Cancel()
	}
	log.Info().Str("module", "app.registry").Int("count", len(entries)).Msg("all bridges disposed")
}

func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.bridges)
}
