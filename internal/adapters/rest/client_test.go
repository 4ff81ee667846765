package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/akorchemkin/confpanel/internal/domain"
)

func TestAuthHeaderPrecedence(t *testing.T) {
	h := AuthHeader(domain.Credential{SessionID: "s1", Token: "t1"})
	require.Equal(t, "s1", h.Get("Session"))
	require.Empty(t, h.Get("Authorization"))

	h = AuthHeader(domain.Credential{Token: "t1"})
	require.Empty(t, h.Get("Session"))
	require.Equal(t, "Bearer t1", h.Get("Authorization"))
}

func TestLoginExtractsSessionID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/security/login", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "alice", body["login"])
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"sessionId":"sess-9","token":"ignored"}`))
	}))
	defer srv.Close()

	cred, raw, err := NewClient(srv.URL).Login(context.Background(), "alice", "pw")
	require.NoError(t, err)
	require.Equal(t, "sess-9", cred.SessionID)
	require.Empty(t, cred.Token)
	require.JSONEq(t, `{"sessionId":"sess-9","token":"ignored"}`, string(raw))
}

func TestLoginTokenFallbackPrecedence(t *testing.T) {
	cases := []struct {
		body string
		want string
	}{
		{`{"loginToken":"lt","token":"t","access_token":"at","authToken":"au"}`, "lt"},
		{`{"token":"t","access_token":"at"}`, "t"},
		{`{"access_token":"at","authToken":"au"}`, "at"},
		{`{"authToken":"au"}`, "au"},
	}
	for _, tc := range cases {
		body := tc.body
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(body))
		}))
		cred, _, err := NewClient(srv.URL).Login(context.Background(), "a", "b")
		srv.Close()
		require.NoError(t, err)
		require.Equal(t, tc.want, cred.Token, "body %s", tc.body)
	}
}

func TestLoginRejectsEmptyCredential(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"user":"alice"}`))
	}))
	defer srv.Close()

	_, _, err := NewClient(srv.URL).Login(context.Background(), "a", "b")
	require.Error(t, err)
}

func TestLoginAuthFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, _, err := NewClient(srv.URL).Login(context.Background(), "a", "b")
	require.ErrorIs(t, err, ErrAuthInvalid)
}

func TestJoinSendsBusIDAndProtocols(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/conference-sessions/conf-1/join", r.URL.Path)
		require.Equal(t, "sess-1", r.Header.Get("Session"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	err := NewClient(srv.URL).Join(context.Background(), domain.Credential{SessionID: "sess-1"}, "conf-1", "bus-7")
	require.NoError(t, err)
	require.Equal(t, "bus-7", got["eventBusId"])
	require.Equal(t, []any{"WEBRTC2"}, got["supportedProtocols"])
}

func TestJoinUpstreamErrorKeepsStatusAndBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"already joined"}`))
	}))
	defer srv.Close()

	err := NewClient(srv.URL).Join(context.Background(), domain.Credential{SessionID: "s"}, "conf-1", "")
	var ue *UpstreamError
	require.ErrorAs(t, err, &ue)
	require.Equal(t, http.StatusConflict, ue.Status)
	require.JSONEq(t, `{"error":"already joined"}`, string(ue.Body))
}

func TestSignallingURLStripsRestSuffix(t *testing.T) {
	c := NewClient("https://host.example/api/rest")
	require.Equal(t, "https://host.example/api/rs/media/proxy/media/x", c.SignallingURL("/api/rs/media/proxy/media/x"))
	require.Equal(t, "https://host.example/p", c.SignallingURL("p"))
}
