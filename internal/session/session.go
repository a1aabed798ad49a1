// Package session is the cookie session provider backed by Redis. The admin
// gate only reads the authenticated user from it.
package session

import (
	"context"
	"net/http"
	"strings"
	"time"
)

// HeaderToken carries the session ID for non-browser clients.
const HeaderToken = "X-Session-Token"

// User is the authenticated principal as stored by the session provider.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
	// Role is the provider's flat role field, possibly comma separated. It is
	// informational only; authorization reads roles from RBAC.
	Role string `json:"role,omitempty"`
}

// Session holds one authenticated browser or API session.
type Session struct {
	ID             string    `json:"id"`
	User           User      `json:"user"`
	ImpersonatedBy *User     `json:"impersonatedBy,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Impersonating reports whether the session acts on behalf of another user.
func (s *Session) Impersonating() bool {
	return s != nil && s.ImpersonatedBy != nil
}

// Provider yields the session for inbound request headers. A nil session with
// a nil error means the caller is not signed in.
type Provider interface {
	Session(ctx context.Context, headers http.Header) (*Session, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, headers http.Header) (*Session, error)

// Session implements Provider.
func (f ProviderFunc) Session(ctx context.Context, headers http.Header) (*Session, error) {
	return f(ctx, headers)
}

// ExternalRoles splits the provider's flat, comma separated role field.
func ExternalRoles(raw string) []string {
	parts := strings.Split(raw, ",")
	roles := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			roles = append(roles, p)
		}
	}
	return roles
}
