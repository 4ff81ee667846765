package http

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/akorchemkin/confpanel/internal/app"
	"github.com/akorchemkin/confpanel/internal/core"
)

// HandleEventChannel streams the session's bus frames to the browser over
// SSE. The bridge outlives the stream: closing the tab drops the SSE
// subscription but leaves the upstream bus connection running, and a
// reattaching client gets a synthetic connected frame with the current busId
// instead of waiting for a handshake that already happened.
func (ctl *Controller) HandleEventChannel(ctx context.Context, c *gin.Context) {
	cred := credentialFrom(c)
	if cred.IsZero() {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Session ID is required (Session header, Bearer token or ?session=)"})
		return
	}

	key := core.SessionKey(cred.Key())
	bridge, _, ok := ctl.Registry.Lookup(key)
	if !ok {
		var err error
		bridge, _, err = ctl.Registry.Create(ctx, cred)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
	}

	// Buffered so a stalled browser never blocks the bridge loop; overflow
	// drops the frame for this subscriber only.
	frames := make(chan core.PushFrame, 64)
	unsubscribe := bridge.SubscribeFrames(func(f core.PushFrame) {
		select {
		case frames <- f:
		default:
			log.Warn().Str("module", "adapters.http").Str("type", f.Type).Msg("slow event-channel consumer, frame dropped")
		}
	})
	defer unsubscribe()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")

	if bridge.IsActive() {
		_ = sse.Encode(c.Writer, sse.Event{Data: core.PushFrame{Type: "connected", BusID: bridge.BusID()}})
		c.Writer.Flush()
	}

	log.Info().Str("module", "adapters.http").Str("state", bridge.State().String()).Msg("event channel attached")

	clientGone := c.Request.Context().Done()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-clientGone:
			return false
		case <-ctx.Done():
			return false
		case f := <-frames:
			if err := sse.Encode(w, sse.Event{Data: f}); err != nil {
				return false
			}
			// Terminal close ends the stream; the registry entry is
			// already gone or on its way out.
			if f.Type == "closed" && bridge.State() == app.StateClosed {
				return false
			}
			return true
		}
	})

	log.Info().Str("module", "adapters.http").Msg("event channel detached")
}

// HandleSubscribeConference sends the active-conference subscription
// envelopes over the session's live bus connection.
func (ctl *Controller) HandleSubscribeConference(c *gin.Context) {
	cred := credentialFrom(c)
	if cred.IsZero() {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Session ID is required"})
		return
	}

	var req struct {
		ConferenceSessionID string `json:"conferenceSessionId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.ConferenceSessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "conferenceSessionId is required"})
		return
	}

	bridge, _, ok := ctl.Registry.Lookup(core.SessionKey(cred.Key()))
	if !ok {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Event bus connection not found. Connect the event channel first."})
		return
	}

	if err := app.SubscribeConference(bridge, req.ConferenceSessionID); err != nil {
		if errors.Is(err, app.ErrBusNotRegistered) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "subscriptions": app.SubscribeEndpoints()})
}
