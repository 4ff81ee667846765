package domain

// Credential is the authentication artifact issued by the upstream API at
// login. Two mutually exclusive forms exist: a session id (IvcsAuthSession,
// sent in a Session header) and a bearer token (JWTAuth). When both are
// present the session id wins.
type Credential struct {
	SessionID string
	Token     string
}

func (c Credential) IsZero() bool {
	return c.SessionID == "" && c.Token == ""
}

// Key returns the registry key for this credential. One bridge may exist
// per key at any time.
func (c Credential) Key() string {
	if c.SessionID != "" {
		return c.SessionID
	}
	return c.Token
}
