package bus

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/akorchemkin/confpanel/internal/core"
	"github.com/akorchemkin/confpanel/internal/domain"
)

const (
	defaultPingPeriod     = 25 * time.Second
	defaultConnectTimeout = 10 * time.Second

	writeWait = 5 * time.Second
)

// Dialer opens single-attempt event-bus connections against the upstream
// conferencing host. Retry policy lives in the bridge, not here.
type Dialer struct {
	Host           string
	PingPeriod     time.Duration
	ConnectTimeout time.Duration

	// Scheme defaults to wss; ws is for plaintext local upstreams.
	Scheme string
}

func (d *Dialer) Dial(ctx context.Context, cred domain.Credential) (core.BusConn, error) {
	if cred.IsZero() {
		return nil, errors.New("bus: empty credential")
	}

	busID := uuid.NewString()
	c := &Conn{
		busID:  busID,
		events: make(chan core.BusEvent, 32),
		done:   make(chan struct{}),
	}

	pingPeriod := d.PingPeriod
	if pingPeriod <= 0 {
		pingPeriod = defaultPingPeriod
	}
	connectTimeout := d.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = defaultConnectTimeout
	}

	go c.run(ctx, d.busURL(busID, cred), authHeader(cred), connectTimeout, pingPeriod)
	return c, nil
}

func (d *Dialer) busURL(busID string, cred domain.Credential) string {
	scheme := d.Scheme
	if scheme == "" {
		scheme = "wss"
	}
	u := fmt.Sprintf("%s://%s/websocket/eventbus/%s/json/source/VIDEOCONFERENCE", scheme, d.Host, busID)
	// EventSource-style clients cannot attach headers, the upstream accepts
	// the session id as a query parameter as well. Send it both ways.
	if cred.SessionID != "" {
		u += "?Session=" + url.QueryEscape(cred.SessionID)
	}
	return u
}

func authHeader(cred domain.Credential) http.Header {
	h := http.Header{}
	if cred.SessionID != "" {
		h.Set("Session", cred.SessionID)
	} else if cred.Token != "" {
		h.Set("Authorization", "Bearer "+cred.Token)
	}
	return h
}

// Conn is one live bus connection. All lifecycle is reported on Events; the
// channel is closed after the final closed event.
type Conn struct {
	busID  string
	events chan core.BusEvent
	done   chan struct{}

	mu     sync.Mutex
	ws     *websocket.Conn
	cancel context.CancelFunc
	closed bool
}

func (c *Conn) BusID() string                { return c.busID }
func (c *Conn) Events() <-chan core.BusEvent { return c.events }

func (c *Conn) run(ctx context.Context, wsURL string, header http.Header, connectTimeout, pingPeriod time.Duration) {
	defer close(c.events)

	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	c.emit(core.BusEvent{Type: core.BusConnecting, BusID: c.busID})

	dialCtx, dialCancel := context.WithTimeout(ctx, connectTimeout)
	defer dialCancel()

	ws, _, err := websocket.DefaultDialer.DialContext(dialCtx, wsURL, header)
	if err != nil {
		log.Error().Err(err).Str("module", "bus").Str("bus_id", c.busID).Msg("dial failed")
		c.emit(core.BusEvent{Type: core.BusError, BusID: c.busID, Err: err})
		c.emit(core.BusEvent{Type: core.BusClosed, BusID: c.busID, Code: websocket.CloseAbnormalClosure, Reason: err.Error()})
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = ws.Close()
		c.emit(core.BusEvent{Type: core.BusClosed, BusID: c.busID, Code: websocket.CloseNormalClosure, Reason: "closed before connect"})
		return
	}
	c.ws = ws
	c.mu.Unlock()

	log.Info().Str("module", "bus").Str("bus_id", c.busID).Msg("connected to event bus")
	c.emit(core.BusEvent{Type: core.BusConnected, BusID: c.busID})

	go c.pingLoop(ctx, pingPeriod)
	c.readLoop()
}

func (c *Conn) readLoop() {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			code, reason := closeInfo(err)
			log.Info().Str("module", "bus").Str("bus_id", c.busID).Int("code", code).Str("reason", reason).Msg("bus closed")
			c.emit(core.BusEvent{Type: core.BusClosed, BusID: c.busID, Code: code, Reason: reason})
			c.Close()
			return
		}

		text := string(data)
		if strings.HasPrefix(text, "pong-") {
			log.Debug().Str("module", "bus").Str("bus_id", c.busID).Str("pong", text).Msg("heartbeat ack")
			c.emit(core.BusEvent{Type: core.BusPong, BusID: c.busID, Payload: core.Frame(data)})
			continue
		}
		c.emit(core.BusEvent{Type: core.BusMessage, BusID: c.busID, Payload: core.Frame(data)})
	}
}

// pingLoop probes liveness with application-level ping-<unix-ms> frames. A
// missing acknowledgement is tolerated; only a write failure ends the loop,
// and the resulting read error surfaces the close.
func (c *Conn) pingLoop(ctx context.Context, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-ticker.C:
			probe := fmt.Sprintf("ping-%d", time.Now().UnixMilli())
			if err := c.Send(core.Frame(probe)); err != nil {
				log.Warn().Err(err).Str("module", "bus").Str("bus_id", c.busID).Msg("ping write failed")
				return
			}
			log.Debug().Str("module", "bus").Str("bus_id", c.busID).Str("ping", probe).Msg("heartbeat sent")
		}
	}
}

func (c *Conn) Send(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.ws == nil {
		return errors.New("bus: connection not open")
	}
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, f)
}

func (c *Conn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.done)
	if c.cancel != nil {
		c.cancel()
	}
	ws := c.ws
	c.mu.Unlock()

	if ws != nil {
		_ = ws.Close()
	}
}

func (c *Conn) emit(ev core.BusEvent) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

func closeInfo(err error) (int, string) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code, ce.Text
	}
	return websocket.CloseAbnormalClosure, err.Error()
}
