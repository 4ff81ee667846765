package app

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/akorchemkin/confpanel/internal/core"
)

// Subscription endpoints the upstream expects for active-conference events.
var subscribeEndpoints = []string{
	"/websocket/chatActiveConferenceEvents",
	"/websocket/commonActiveConferenceEvents",
	"/websocket/participantActiveConferenceEvents",
}

// SubscribeEndpoints lists the endpoints a successful subscription covers.
func SubscribeEndpoints() []string {
	out := make([]string, len(subscribeEndpoints))
	copy(out, subscribeEndpoints)
	return out
}

type subscribeEnvelope struct {
	Type                string `json:"type"`
	Endpoint            string `json:"endpoint"`
	ConferenceSessionID string `json:"conferenceSessionId"`
}

// SubscribeConference sends the subscription envelopes for one conference
// over the bridge's live bus connection. Returns ErrBusNotRegistered while
// no bus is registered for the session yet.
func SubscribeConference(bridge *Bridge, conferenceSessionID string) error {
	for _, endpoint := range subscribeEndpoints {
		env := subscribeEnvelope{
			Type:                "subscribe",
			Endpoint:            endpoint,
			ConferenceSessionID: conferenceSessionID,
		}
		b, err := json.Marshal(env)
		if err != nil {
			return err
		}
		if err := bridge.Send(core.Frame(b)); err != nil {
			return err
		}
		log.Info().Str("module", "app.subscribe").Str("endpoint", endpoint).Str("conference", conferenceSessionID).Msg("subscription sent")
	}
	return nil
}
