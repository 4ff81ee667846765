package rest

import (
	"context"

	"github.com/akorchemkin/confpanel/internal/app"
	"github.com/akorchemkin/confpanel/internal/domain"
)

// SessionAPI binds a Client to one session's credential and bridge, giving
// the coordinator its ConferenceAPI: join goes upstream over REST, subscribe
// goes out over the session's own bus connection.
type SessionAPI struct {
	client *Client
	cred   domain.Credential
	bridge *app.Bridge
}

func NewSessionAPI(client *Client, cred domain.Credential, bridge *app.Bridge) *SessionAPI {
	return &SessionAPI{client: client, cred: cred, bridge: bridge}
}

func (s *SessionAPI) Join(ctx context.Context, conferenceID, busID string) error {
	return s.client.Join(ctx, s.cred, conferenceID, busID)
}

func (s *SessionAPI) Subscribe(ctx context.Context, conferenceID string) error {
	return app.SubscribeConference(s.bridge, conferenceID)
}
