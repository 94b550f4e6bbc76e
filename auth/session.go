package auth

import (
	"context"
	"net/http"

	"github.com/campusgate/seuauth/cas"
)

// Session is an authenticated provider session. It owns the underlying
// transport and its cookies; call Close when done (e.g. defer
// session.Close()) to release connections.
type Session struct {
	client      *cas.Client
	ticket      string
	redirectURL string
}

// Client returns the authenticated HTTP client, ticket cookie included,
// for requests to downstream services.
func (s *Session) Client() *http.Client { return s.client.HTTPClient() }

// Ticket returns the session ticket. Its expiry is enforced by the
// provider, not locally.
func (s *Session) Ticket() string { return s.ticket }

// RedirectURL returns the decoded target-service redirect issued at login,
// or "" when no service was requested.
func (s *Session) RedirectURL() string { return s.redirectURL }

// Logout invalidates the session at the provider and releases the
// transport.
func (s *Session) Logout(ctx context.Context) error {
	defer s.Close()
	return s.client.Logout(ctx)
}

// Close releases the underlying transport. The ticket itself is left
// untouched; use Logout to invalidate it.
func (s *Session) Close() { s.client.Close() }
