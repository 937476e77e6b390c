package client

import (
	"encoding/base64"

	"github.com/sardanioss/cloakfetch/headers"
)

// Auth adds credentials to an outgoing header set.
type Auth interface {
	// Apply sets the credentials on h. It must not replace an
	// Authorization header the caller already set.
	Apply(h *headers.HeaderSet) error
}

// BasicAuth implements HTTP Basic authentication
type BasicAuth struct {
	Username string
	Password string
}

// NewBasicAuth creates a new BasicAuth
func NewBasicAuth(username, password string) *BasicAuth {
	return &BasicAuth{
		Username: username,
		Password: password,
	}
}

// Apply applies the Basic auth header
func (a *BasicAuth) Apply(h *headers.HeaderSet) error {
	if h.Has("Authorization") {
		return nil
	}
	encoded := base64.StdEncoding.EncodeToString([]byte(a.Username + ":" + a.Password))
	h.Append("Authorization", "Basic "+encoded)
	return nil
}

// BearerAuth implements Bearer token authentication
type BearerAuth struct {
	Token string
}

// NewBearerAuth creates a new BearerAuth
func NewBearerAuth(token string) *BearerAuth {
	return &BearerAuth{Token: token}
}

// Apply applies the Bearer token header
func (a *BearerAuth) Apply(h *headers.HeaderSet) error {
	if h.Has("Authorization") {
		return nil
	}
	h.Append("Authorization", "Bearer "+a.Token)
	return nil
}
