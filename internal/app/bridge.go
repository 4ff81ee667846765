package app

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/akorchemkin/confpanel/internal/core"
	"github.com/akorchemkin/confpanel/internal/domain"
	"github.com/akorchemkin/confpanel/internal/retry"
)

// ErrConnectionTimeout is returned by WaitForConnection when the bridge does
// not reach connected in time.
var ErrConnectionTimeout = errors.New("event channel connection timeout")

type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// WebSocket close codes the upstream uses for policy/auth violations.
func isAuthCloseCode(code int) bool {
	switch code {
	case 1008, 4001, 4002, 4003:
		return true
	}
	return false
}

// Upstream error payloads carry auth rejections as text, not close codes.
var authErrorHints = []string{"auth", "session", "401", "403"}

func isAuthErrorText(s string) bool {
	s = strings.ToLower(s)
	for _, hint := range authErrorHints {
		if strings.Contains(s, hint) {
			return true
		}
	}
	return false
}

type closeDecision int

const (
	decideTerminal closeDecision = iota
	decideAuthInvalid
	decideReconnect
)

type ReconnectPolicy struct {
	MaxAttempts int
	BackoffBase time.Duration
	BackoffCap  time.Duration
}

func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{MaxAttempts: 5, BackoffBase: time.Second, BackoffCap: 5 * time.Second}
}

// Bridge owns at most one upstream bus connection for a user session, relays
// its frames to server-push consumers, forwards payloads to the dispatcher
// and drives the reconnect policy. All policy lives here; the connector is a
// single-attempt primitive.
type Bridge struct {
	dialer core.BusDialer
	disp   *Dispatcher
	policy ReconnectPolicy

	// onAuthInvalid fires on any terminal auth-class close. The session
	// credential must be treated as dead by the caller.
	onAuthInvalid func()

	frames core.CallbackList[core.PushFrame]

	mu        sync.Mutex
	cred      domain.Credential
	conn      core.BusConn
	state     State
	busID     string
	connected bool
	attempts  int
	waiters   []chan struct{}
	timer     *time.Timer
}

type BridgeOption func(*Bridge)

func WithReconnectPolicy(p ReconnectPolicy) BridgeOption {
	return func(b *Bridge) { b.policy = p }
}

// WithAuthInvalidHandler installs the terminal auth-failure hook.
func WithAuthInvalidHandler(fn func()) BridgeOption {
	return func(b *Bridge) { b.onAuthInvalid = fn }
}

func NewBridge(dialer core.BusDialer, disp *Dispatcher, opts ...BridgeOption) *Bridge {
	b := &Bridge{
		dialer: dialer,
		disp:   disp,
		policy: DefaultReconnectPolicy(),
		state:  StateIdle,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Start opens a fresh bus connection for cred, tearing down any prior one
// first. The reconnect counter and connected flag reset; event subscribers
// registered on the dispatcher are preserved.
func (b *Bridge) Start(ctx context.Context, cred domain.Credential) error {
	if cred.IsZero() {
		return errors.New("bridge: empty credential")
	}

	b.mu.Lock()
	b.teardownLocked()
	b.cred = cred
	b.attempts = 0
	b.mu.Unlock()

	return b.open(ctx)
}

// open dials one connector attempt. Unlike Start it keeps the reconnect
// counter, so the retry path reuses it.
func (b *Bridge) open(ctx context.Context) error {
	b.mu.Lock()
	cred := b.cred
	b.state = StateConnecting
	b.connected = false
	b.mu.Unlock()

	conn, err := b.dialer.Dial(ctx, cred)
	if err != nil {
		b.mu.Lock()
		b.state = StateClosed
		b.mu.Unlock()
		return err
	}

	b.mu.Lock()
	b.conn = conn
	b.mu.Unlock()

	go b.loop(ctx, conn)
	return nil
}

func (b *Bridge) loop(ctx context.Context, conn core.BusConn) {
	for ev := range conn.Events() {
		b.mu.Lock()
		current := b.conn == conn
		b.mu.Unlock()
		if !current {
			// Torn-down connector still draining; nothing it says matters.
			continue
		}
		b.handle(ctx, conn, ev)
	}
}

func (b *Bridge) handle(ctx context.Context, conn core.BusConn, ev core.BusEvent) {
	switch ev.Type {
	case core.BusConnecting:
		b.pushFrame(core.PushFrame{Type: "connecting", Message: "Connecting to Event Channel..."})

	case core.BusConnected:
		b.mu.Lock()
		if b.conn != conn {
			// Torn down between the loop's check and here; a dead
			// connector must not flip the bridge back to connected.
			b.mu.Unlock()
			return
		}
		b.busID = ev.BusID
		b.connected = true
		b.state = StateConnected
		b.attempts = 0
		waiters := b.waiters
		b.waiters = nil
		b.mu.Unlock()

		b.disp.ResetBus(ev.BusID)
		for _, w := range waiters {
			close(w)
		}
		log.Info().Str("module", "app.bridge").Str("bus_id", ev.BusID).Msg("event channel connected")
		b.pushFrame(core.PushFrame{Type: "connected", Message: "Connected to Event Channel", BusID: ev.BusID})

	case core.BusMessage:
		b.disp.Dispatch(ev.BusID, ev.Payload)
		b.pushFrame(core.PushFrame{Type: "message", Data: json.RawMessage(ev.Payload)})

	case core.BusPong:
		data, _ := json.Marshal(string(ev.Payload))
		b.pushFrame(core.PushFrame{Type: "pong", Data: data})

	case core.BusError:
		log.Error().Err(ev.Err).Str("module", "app.bridge").Msg("bus error")
		b.pushFrame(core.PushFrame{Type: "error", Error: ev.Err.Error()})
		b.onError(conn, ev)

	case core.BusClosed:
		b.pushFrame(core.PushFrame{Type: "closed", Code: ev.Code, Reason: ev.Reason})
		b.onClosed(ctx, conn, ev)
	}
}

// onError classifies upstream error payloads. Auth-related wording ends the
// session right away instead of burning reconnect attempts on a credential
// the upstream already rejected; any other error is only relayed, and the
// close event that follows drives the policy.
func (b *Bridge) onError(conn core.BusConn, ev core.BusEvent) {
	if ev.Err == nil {
		return
	}
	b.mu.Lock()
	if b.conn != conn {
		b.mu.Unlock()
		return
	}
	if b.closePolicy(0, ev.Err.Error()) != decideAuthInvalid {
		b.mu.Unlock()
		return
	}
	b.conn = nil
	b.connected = false
	b.busID = ""
	b.state = StateClosed
	b.cred = domain.Credential{}
	b.mu.Unlock()

	conn.Close()
	log.Error().Err(ev.Err).Str("module", "app.bridge").Msg("authentication error, session cleared")
	if b.onAuthInvalid != nil {
		b.onAuthInvalid()
	}
}

func (b *Bridge) onClosed(ctx context.Context, conn core.BusConn, ev core.BusEvent) {
	b.mu.Lock()
	if b.conn != conn {
		b.mu.Unlock()
		return
	}
	b.conn = nil
	b.connected = false
	b.busID = ""

	switch b.closePolicy(ev.Code, "") {
	case decideTerminal:
		b.state = StateClosed
		b.mu.Unlock()
		log.Info().Str("module", "app.bridge").Int("code", ev.Code).Msg("event channel closed")

	case decideAuthInvalid:
		b.state = StateClosed
		b.cred = domain.Credential{}
		b.mu.Unlock()
		log.Error().Str("module", "app.bridge").Int("code", ev.Code).Str("reason", ev.Reason).Msg("authentication invalid, session cleared")
		if b.onAuthInvalid != nil {
			b.onAuthInvalid()
		}

	case decideReconnect:
		b.attempts++
		attempt := b.attempts
		b.state = StateReconnecting
		delay := retry.Backoff(b.policy.BackoffBase, b.policy.BackoffCap, attempt)
		b.timer = time.AfterFunc(delay, func() { b.reconnect(ctx) })
		b.mu.Unlock()
		log.Warn().Str("module", "app.bridge").Int("code", ev.Code).Int("attempt", attempt).Int("max", b.policy.MaxAttempts).Dur("delay", delay).Msg("scheduling reconnect")
	}
}

// closePolicy is the single decision point for what a failure means. Error
// text with auth-related wording invalidates the session outright. A normal
// close is terminal. Auth-class codes invalidate the session. Anything else
// reconnects while attempts remain; exhaustion is treated as session loss,
// the same as an explicit auth violation. Called with b.mu held.
func (b *Bridge) closePolicy(code int, errText string) closeDecision {
	if errText != "" && isAuthErrorText(errText) {
		return decideAuthInvalid
	}
	if code == 1000 {
		return decideTerminal
	}
	if isAuthCloseCode(code) {
		return decideAuthInvalid
	}
	if b.attempts < b.policy.MaxAttempts {
		return decideReconnect
	}
	return decideAuthInvalid
}

func (b *Bridge) reconnect(ctx context.Context) {
	b.mu.Lock()
	if b.state != StateReconnecting || b.cred.IsZero() {
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()

	if err := b.open(ctx); err != nil {
		log.Error().Err(err).Str("module", "app.bridge").Msg("reconnect dial failed")
	}
}

// Stop tears the connector down and resets counters and flags. Idempotent.
// Dispatcher subscriptions survive, so a later Start does not silently drop
// application listeners.
func (b *Bridge) Stop() {
	b.mu.Lock()
	b.teardownLocked()
	b.cred = domain.Credential{}
	b.state = StateClosed
	b.mu.Unlock()
}

// teardownLocked enforces the at-most-one-connector invariant.
func (b *Bridge) teardownLocked() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	if b.conn != nil {
		b.conn.Close()
		b.conn = nil
	}
	b.connected = false
	b.busID = ""
	b.attempts = 0
	b.waiters = nil
}

// WaitForConnection blocks until the bridge reaches connected, resolving
// immediately when it already is. Safe to call before Start.
func (b *Bridge) WaitForConnection(ctx context.Context, timeout time.Duration) error {
	b.mu.Lock()
	if b.connected {
		b.mu.Unlock()
		return nil
	}
	w := make(chan struct{})
	b.waiters = append(b.waiters, w)
	b.mu.Unlock()

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-w:
		return nil
	case <-t.C:
		return ErrConnectionTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Bridge) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Bridge) IsActive() bool {
	return b.State() == StateConnected
}

// BusID returns the live bus identifier, or "" before the handshake and
// after any close.
func (b *Bridge) BusID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.busID
}

// Send writes one frame on the live bus connection.
func (b *Bridge) Send(f core.Frame) error {
	b.mu.Lock()
	conn := b.conn
	connected := b.connected
	b.mu.Unlock()
	if conn == nil || !connected {
		return ErrBusNotRegistered
	}
	return conn.Send(f)
}

// SubscribeFrames mirrors every server-push frame to fn, in order. Used by
// the SSE handler; the returned func cancels the mirror.
func (b *Bridge) SubscribeFrames(fn func(core.PushFrame)) func() {
	return b.frames.Add(fn)
}

func (b *Bridge) pushFrame(f core.PushFrame) {
	for _, fn := range b.frames.Snapshot() {
		fn(f)
	}
}
