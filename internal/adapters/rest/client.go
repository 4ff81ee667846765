package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/akorchemkin/confpanel/internal/domain"
)

// ErrAuthInvalid covers any 401/403 from the upstream API. Never retried;
// the session credential must be dropped and the operator sent back to login.
var ErrAuthInvalid = errors.New("authentication invalid")

// UpstreamError carries the upstream status and error body through the proxy
// layer unchanged.
type UpstreamError struct {
	Status int
	Body   []byte
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream returned %d: %s", e.Status, string(e.Body))
}

// Client talks to the external conferencing REST API. It holds no credential;
// every call is passed the session credential it should authenticate with.
type Client struct {
	baseURL string
	hc      *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		hc:      &http.Client{},
	}
}

// AuthHeader builds the upstream auth headers for cred. The Session header
// (IvcsAuthSession) wins over the bearer token (JWTAuth).
func AuthHeader(cred domain.Credential) http.Header {
	h := http.Header{}
	if cred.SessionID != "" {
		h.Set("Session", cred.SessionID)
	} else if cred.Token != "" {
		h.Set("Authorization", "Bearer "+cred.Token)
	}
	return h
}

// Login authenticates against the upstream and extracts the credential.
// Precedence mirrors the upstream response shape: sessionId first, then the
// login token, then any of the bearer-token aliases.
func (c *Client) Login(ctx context.Context, login, password string) (domain.Credential, json.RawMessage, error) {
	body, _ := json.Marshal(map[string]string{"login": login, "password": password})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/security/login", bytes.NewReader(body))
	if err != nil {
		return domain.Credential{}, nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return domain.Credential{}, nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.Credential{}, nil, err
	}
	if err := classifyStatus(resp.StatusCode, raw); err != nil {
		return domain.Credential{}, nil, err
	}

	var fields struct {
		SessionID   string `json:"sessionId"`
		LoginToken  string `json:"loginToken"`
		Token       string `json:"token"`
		AccessToken string `json:"access_token"`
		AuthToken   string `json:"authToken"`
	}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return domain.Credential{}, nil, fmt.Errorf("decode login response: %w", err)
	}

	cred := domain.Credential{SessionID: fields.SessionID}
	if cred.SessionID == "" {
		for _, t := range []string{fields.LoginToken, fields.Token, fields.AccessToken, fields.AuthToken} {
			if t != "" {
				cred.Token = t
				break
			}
		}
	}
	if cred.IsZero() {
		return domain.Credential{}, nil, errors.New("login response carried no credential")
	}
	return cred, raw, nil
}

// Join registers this user (and its event bus) with a conference session.
// busID may be empty when the event channel never produced one; the join is
// degraded but still valid.
func (c *Client) Join(ctx context.Context, cred domain.Credential, conferenceSessionID, busID string) error {
	payload := map[string]any{
		"eventBusId":         busID,
		"supportedProtocols": []string{"WEBRTC2"},
	}
	resp, err := c.Do(ctx, cred, http.MethodPost, "/conference-sessions/"+conferenceSessionID+"/join", nil, payload)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	return classifyStatus(resp.StatusCode, raw)
}

func (c *Client) Leave(ctx context.Context, cred domain.Credential, conferenceSessionID string) error {
	resp, err := c.Do(ctx, cred, http.MethodPost, "/conference-sessions/"+conferenceSessionID+"/leave", nil, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	return classifyStatus(resp.StatusCode, raw)
}

// Do issues one authenticated request against the upstream. The response is
// returned as-is; callers own closing the body. Used directly by the proxy
// handlers so upstream status codes and error bodies pass through unchanged.
func (c *Client) Do(ctx context.Context, cred domain.Credential, method, path string, query url.Values, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		switch v := body.(type) {
		case io.Reader:
			reader = v
		case []byte:
			reader = bytes.NewReader(v)
		default:
			b, err := json.Marshal(v)
			if err != nil {
				return nil, err
			}
			reader = bytes.NewReader(b)
		}
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, err
	}
	req.Header = AuthHeader(cred)
	req.Header.Set("Content-Type", "application/json")

	log.Debug().Str("module", "rest").Str("method", method).Str("path", path).Msg("upstream request")
	return c.hc.Do(req)
}

// BaseURL returns the configured upstream base, e.g. https://host/api/rest.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// SignallingURL resolves a signalling path against the upstream host, above
// the /api/rest prefix.
func (c *Client) SignallingURL(path string) string {
	base := strings.TrimSuffix(c.baseURL, "/api/rest")
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return base + path
}

func classifyStatus(status int, body []byte) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: upstream returned %d", ErrAuthInvalid, status)
	default:
		return &UpstreamError{Status: status, Body: body}
	}
}
