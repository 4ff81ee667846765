package bus

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/akorchemkin/confpanel/internal/core"
	"github.com/akorchemkin/confpanel/internal/domain"
)

var upgrader = websocket.Upgrader{}

// busServer fakes the upstream event bus for one connection.
type busServer struct {
	*httptest.Server

	mu       sync.Mutex
	path     string
	session  string
	received []string
	conn     *websocket.Conn
}

func newBusServer(t *testing.T, script func(ws *websocket.Conn)) *busServer {
	t.Helper()
	s := &busServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.path = r.URL.Path
		s.session = r.Header.Get("Session")
		s.mu.Unlock()

		ws, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		s.mu.Lock()
		s.conn = ws
		s.mu.Unlock()

		go func() {
			for {
				_, data, err := ws.ReadMessage()
				if err != nil {
					return
				}
				s.mu.Lock()
				s.received = append(s.received, string(data))
				s.mu.Unlock()
			}
		}()
		if script != nil {
			script(ws)
		}
	}))
	return s
}

func (s *busServer) host() string {
	return strings.TrimPrefix(s.URL, "http://")
}

func collect(t *testing.T, events <-chan core.BusEvent, want core.BusEventType, timeout time.Duration) core.BusEvent {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatalf("event stream closed before %v", want)
			}
			if ev.Type == want {
				return ev
			}
		case <-deadline:
			t.Fatalf("no %v event within %v", want, timeout)
		}
	}
}

func TestDialerHandshakeAndClassification(t *testing.T) {
	srv := newBusServer(t, func(ws *websocket.Conn) {
		require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("pong-123")))
		require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"_class":"NumberedMessage","sequenceNumber":1}`)))
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"), time.Now().Add(time.Second))
		time.Sleep(50 * time.Millisecond)
		_ = ws.Close()
	})
	defer srv.Close()

	d := &Dialer{Host: srv.host(), Scheme: "ws", PingPeriod: time.Hour}
	conn, err := d.Dial(context.Background(), domain.Credential{SessionID: "sess-1"})
	require.NoError(t, err)
	defer conn.Close()

	connected := collect(t, conn.Events(), core.BusConnected, 2*time.Second)
	require.Equal(t, conn.BusID(), connected.BusID)

	pong := collect(t, conn.Events(), core.BusPong, 2*time.Second)
	require.Equal(t, "pong-123", string(pong.Payload))

	msg := collect(t, conn.Events(), core.BusMessage, 2*time.Second)
	require.Contains(t, string(msg.Payload), "NumberedMessage")

	closed := collect(t, conn.Events(), core.BusClosed, 2*time.Second)
	require.Equal(t, websocket.CloseNormalClosure, closed.Code)

	srv.mu.Lock()
	path, session := srv.path, srv.session
	srv.mu.Unlock()
	require.True(t, strings.HasPrefix(path, "/websocket/eventbus/"), "path: %s", path)
	require.True(t, strings.HasSuffix(path, "/json/source/VIDEOCONFERENCE"), "path: %s", path)
	require.Contains(t, path, conn.BusID())
	require.Equal(t, "sess-1", session)
}

func TestDialerSendsHeartbeatPings(t *testing.T) {
	hold := make(chan struct{})
	srv := newBusServer(t, func(ws *websocket.Conn) { <-hold })
	defer srv.Close()
	defer close(hold)

	d := &Dialer{Host: srv.host(), Scheme: "ws", PingPeriod: 20 * time.Millisecond}
	conn, err := d.Dial(context.Background(), domain.Credential{SessionID: "s"})
	require.NoError(t, err)
	defer conn.Close()

	collect(t, conn.Events(), core.BusConnected, 2*time.Second)

	require.Eventually(t, func() bool {
		srv.mu.Lock()
		defer srv.mu.Unlock()
		for _, m := range srv.received {
			if strings.HasPrefix(m, "ping-") {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDialerPolicyCloseCodeSurfaces(t *testing.T) {
	srv := newBusServer(t, func(ws *websocket.Conn) {
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "invalid session"), time.Now().Add(time.Second))
		time.Sleep(50 * time.Millisecond)
		_ = ws.Close()
	})
	defer srv.Close()

	d := &Dialer{Host: srv.host(), Scheme: "ws", PingPeriod: time.Hour}
	conn, err := d.Dial(context.Background(), domain.Credential{SessionID: "s"})
	require.NoError(t, err)
	defer conn.Close()

	closed := collect(t, conn.Events(), core.BusClosed, 2*time.Second)
	require.Equal(t, websocket.ClosePolicyViolation, closed.Code)
	require.Equal(t, "invalid session", closed.Reason)
}

func TestDialerFailureEmitsErrorThenClosed(t *testing.T) {
	d := &Dialer{Host: "127.0.0.1:1", Scheme: "ws", ConnectTimeout: 200 * time.Millisecond}
	conn, err := d.Dial(context.Background(), domain.Credential{SessionID: "s"})
	require.NoError(t, err)
	defer conn.Close()

	collect(t, conn.Events(), core.BusError, 2*time.Second)
	closed := collect(t, conn.Events(), core.BusClosed, 2*time.Second)
	require.Equal(t, websocket.CloseAbnormalClosure, closed.Code)
}

func TestDialerRejectsEmptyCredential(t *testing.T) {
	d := &Dialer{Host: "example.com"}
	_, err := d.Dial(context.Background(), domain.Credential{})
	require.Error(t, err)
}

func TestConnSendRequiresOpenSocket(t *testing.T) {
	c := &Conn{events: make(chan core.BusEvent, 1), done: make(chan struct{})}
	require.Error(t, c.Send(core.Frame("x")))
	c.Close()
	c.Close()
}
