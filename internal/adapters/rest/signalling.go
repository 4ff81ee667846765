package rest

import (
	"bytes"
	"context"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/akorchemkin/confpanel/internal/adapters/rtc"
	"github.com/akorchemkin/confpanel/internal/domain"
)

// SignallingClient posts WebRTC offers to the upstream signalling endpoint
// for one session and hands back the streamed answer body.
type SignallingClient struct {
	client *Client
	cred   domain.Credential
}

func NewSignallingClient(client *Client, cred domain.Credential) *SignallingClient {
	return &SignallingClient{client: client, cred: cred}
}

func (s *SignallingClient) PostSignalling(ctx context.Context, target rtc.SignallingTarget, body []byte) (io.ReadCloser, error) {
	u := s.client.SignallingURL(target.Path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header = AuthHeader(s.cred)
	req.Header.Set("Content-Type", "application/json")
	if target.Signature != "" {
		// Placement upstream expects is unconfirmed; the signature also
		// stays in the URL when the transform retained it there.
		req.Header.Set("X-Signature", target.Signature)
	}

	log.Info().Str("module", "rest").Str("path", target.Path).Msg("signalling post")
	resp, err := s.client.hc.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		return nil, classifyStatus(resp.StatusCode, raw)
	}
	return resp.Body, nil
}
