package http

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/akorchemkin/confpanel/internal/adapters/rest"
	"github.com/akorchemkin/confpanel/internal/adapters/rtc"
)

// HandleSignallingProxy posts a WebRTC offer to the upstream signalling
// endpoint named by ?path= and streams the newline-delimited answer back
// chunk by chunk, so trickled candidates reach the browser as they arrive.
func (ctl *Controller) HandleSignallingProxy(c *gin.Context) {
	cred := credentialFrom(c)
	if cred.IsZero() {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Session ID is required"})
		return
	}

	path := c.Query("path")
	if path == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "path query parameter is required"})
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}

	target := rtc.SignallingTarget{Path: path, Signature: c.Query("signature")}
	answer, err := rest.NewSignallingClient(ctl.REST, cred).PostSignalling(c.Request.Context(), target, body)
	if err != nil {
		ctl.writeUpstreamError(c, err)
		return
	}
	defer answer.Close()

	log.Info().Str("module", "adapters.http").Str("path", path).Msg("signalling proxied")

	c.Status(http.StatusOK)
	c.Header("Content-Type", "application/x-ndjson")
	c.Header("X-Accel-Buffering", "no")

	buf := make([]byte, 4096)
	for {
		n, err := answer.Read(buf)
		if n > 0 {
			if _, werr := c.Writer.Write(buf[:n]); werr != nil {
				return
			}
			c.Writer.Flush()
		}
		if err != nil {
			if err != io.EOF {
				log.Debug().Err(err).Str("module", "adapters.http").Msg("answer stream ended")
			}
			return
		}
	}
}
