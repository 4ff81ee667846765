package http

import (
	"strings"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"

	"github.com/akorchemkin/confpanel/internal/domain"
)

const credentialKey = "credential"

// CredentialMiddleware extracts the session credential from the request.
// The Session header (IvcsAuthSession) wins over the bearer token; a
// ?session= query parameter covers browser transports that cannot attach
// headers (EventSource, <img>), and the cookie session stored at login is
// the last resort.
func CredentialMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		var cred domain.Credential
		if s := c.GetHeader("Session"); s != "" {
			cred.SessionID = s
		} else if auth := c.GetHeader("Authorization"); auth != "" {
			cred.Token = strings.TrimPrefix(auth, "Bearer ")
		} else if s := c.Query("session"); s != "" {
			cred.SessionID = s
		} else {
			cred = cookieCredential(c)
		}
		c.Set(credentialKey, cred)
		c.Next()
	}
}

// cookieCredential reads the credential HandleLogin stored in the cookie
// session. Tolerates the sessions middleware being absent.
func cookieCredential(c *gin.Context) domain.Credential {
	v, ok := c.Get(sessions.DefaultKey)
	if !ok {
		return domain.Credential{}
	}
	sess, ok := v.(sessions.Session)
	if !ok {
		return domain.Credential{}
	}
	var cred domain.Credential
	if id, _ := sess.Get("session_id").(string); id != "" {
		cred.SessionID = id
	} else if tok, _ := sess.Get("token").(string); tok != "" {
		cred.Token = tok
	}
	return cred
}

func credentialFrom(c *gin.Context) domain.Credential {
	if v, ok := c.Get(credentialKey); ok {
		if cred, ok := v.(domain.Credential); ok {
			return cred
		}
	}
	return domain.Credential{}
}
