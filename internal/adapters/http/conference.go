package http

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/akorchemkin/confpanel/internal/adapters/rest"
	"github.com/akorchemkin/confpanel/internal/app"
	"github.com/akorchemkin/confpanel/internal/config"
	"github.com/akorchemkin/confpanel/internal/core"
)

// HandleJoin runs the full join sequence for a conference: wait for the
// session's bus identifier, join upstream with it, then subscribe to the
// conference's event endpoints once the channel settles. Without a bridge
// the join still goes upstream, just without an eventBusId.
func (ctl *Controller) HandleJoin(ctx context.Context, c *gin.Context) {
	cred := credentialFrom(c)
	if cred.IsZero() {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Session ID is required"})
		return
	}
	conferenceID := c.Param("id")

	bridge, _, ok := ctl.Registry.Lookup(core.SessionKey(cred.Key()))
	if !ok {
		log.Warn().Str("module", "adapters.http").Str("conference", conferenceID).Msg("join without event channel")
		if err := ctl.REST.Join(c.Request.Context(), cred, conferenceID, ""); err != nil {
			ctl.writeUpstreamError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "busId": ""})
		return
	}

	coord := app.NewCoordinator(bridge, rest.NewSessionAPI(ctl.REST, cred, bridge), coordinatorConfig(ctl.Cfg))
	if err := coord.JoinThenSubscribe(c.Request.Context(), conferenceID); err != nil {
		ctl.writeUpstreamError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "busId": bridge.BusID()})
}

func coordinatorConfig(cfg *config.Config) app.CoordinatorConfig {
	return app.CoordinatorConfig{
		BusIDPollTimeout:  cfg.BusIDPollTimeout,
		BusIDPollInterval: cfg.BusIDPollInterval,
		ConnectionWait:    cfg.ConnectionWait,
		SubscribeSettle:   cfg.SubscribeSettle,
		SubscribeAttempts: cfg.SubscribeAttempts,
		BackoffBase:       cfg.ReconnectBackoffBase,
		BackoffCap:        cfg.ReconnectBackoffCap,
	}
}

// Forward relays one request to the upstream REST API, passing the status,
// content type and body back unchanged.
func (ctl *Controller) Forward(c *gin.Context, method, path string) {
	cred := credentialFrom(c)
	if cred.IsZero() {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization token is missing"})
		return
	}

	query := c.Request.URL.Query()
	query.Del("session")

	resp, err := ctl.REST.Do(c.Request.Context(), cred, method, path, query, c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	defer resp.Body.Close()

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/json"
	}
	c.Status(resp.StatusCode)
	c.Header("Content-Type", contentType)
	copyBody(c.Writer, resp.Body)
}
