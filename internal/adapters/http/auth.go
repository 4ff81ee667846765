package http

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/akorchemkin/confpanel/internal/adapters/rest"
	"github.com/akorchemkin/confpanel/internal/core"
)

// HandleLogin authenticates against the upstream and mirrors its response
// back unchanged, so the browser sees whatever credential shape the upstream
// produced. The extracted credential is also stored in the cookie session.
func (ctl *Controller) HandleLogin(c *gin.Context) {
	var req struct {
		Login    string `json:"login" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "login and password are required"})
		return
	}

	cred, raw, err := ctl.REST.Login(c.Request.Context(), req.Login, req.Password)
	if err != nil {
		ctl.writeUpstreamError(c, err)
		return
	}

	sess := sessions.Default(c)
	sess.Set("session_id", cred.SessionID)
	sess.Set("token", cred.Token)
	if err := sess.Save(); err != nil {
		log.Warn().Err(err).Str("module", "adapters.http").Msg("session save failed")
	}

	log.Info().Str("module", "adapters.http").Msg("login ok")
	c.Data(http.StatusOK, "application/json", raw)
}

// HandleMe proxies the current-user lookup, doubling as a credential check.
func (ctl *Controller) HandleMe(c *gin.Context) {
	ctl.Forward(c, http.MethodGet, "/auth/me")
}

// HandleLogout tears down the session's bridge and clears the cookie
// session. The upstream session itself is left to expire.
func (ctl *Controller) HandleLogout(c *gin.Context) {
	cred := credentialFrom(c)
	if !cred.IsZero() {
		ctl.Registry.Dispose(core.SessionKey(cred.Key()))
	}

	sess := sessions.Default(c)
	sess.Clear()
	_ = sess.Save()

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// writeUpstreamError maps REST client errors onto proxy responses: auth
// failures become 401, upstream errors keep their status and body, anything
// else is a bad gateway.
func (ctl *Controller) writeUpstreamError(c *gin.Context, err error) {
	var ue *rest.UpstreamError
	switch {
	case errors.Is(err, rest.ErrAuthInvalid):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication invalid"})
	case errors.As(err, &ue):
		c.Data(ue.Status, "application/json", ue.Body)
	default:
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	}
}

func copyBody(dst gin.ResponseWriter, src io.Reader) {
	if _, err := io.Copy(dst, src); err != nil {
		log.Debug().Err(err).Str("module", "adapters.http").Msg("response copy interrupted")
	}
}
