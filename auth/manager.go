// Package auth orchestrates the login protocol against the university's
// CAS-like single-sign-on provider: per-session RSA key exchange, optional
// captcha and SMS one-time-code challenges, and correlation of the
// short-lived cookies the provider threads through the sequence.
//
// Manager is the entry point. One Manager serves one identity and may be
// used for repeated logins; each Login call owns a private transport and
// attempt state, so independent Managers (or sequential calls) never share
// key material or cookies. Challenge handling is delegated to the
// CaptchaSolver and CodeProvider capabilities; persistence of resumable
// session state to a storage.Store. Both are optional.
package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/campusgate/seuauth/cas"
	"github.com/campusgate/seuauth/internal/util"
	"github.com/campusgate/seuauth/storage"
)

// Manager authenticates one identity against the provider.
type Manager struct {
	creds   Credentials
	store   storage.Store
	captcha CaptchaSolver
	sms     CodeProvider
	log     *slog.Logger

	fingerprint string
	baseURL     string
	timeout     time.Duration
	httpClient  *http.Client
	sendRetry   SendCodeRetry
}

// New creates a Manager for the given account.
func New(username, password string, opts ...Option) (*Manager, error) {
	creds, err := NewCredentials(username, password)
	if err != nil {
		return nil, err
	}
	m := &Manager{
		creds:     creds,
		log:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		sendRetry: DefaultSendCodeRetry,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.sendRetry.MaxAttempts < 1 {
		m.sendRetry.MaxAttempts = 1
	}
	return m, nil
}

// Login authenticates and returns a Session owning the authenticated
// transport, plus the target-service redirect URL when service is
// non-empty. On any failure or cancellation the transport is torn down
// before returning; a partially authenticated state is never exposed.
//
// When a store holds a still-valid ticket for this identity, the full
// protocol is skipped and the persisted session is resumed (unless
// ForceRefresh is given).
func (m *Manager) Login(ctx context.Context, service string, opts ...LoginOption) (*Session, error) {
	var lo loginOptions
	for _, opt := range opts {
		opt(&lo)
	}

	client, err := m.newClient()
	if err != nil {
		return nil, err
	}

	session, err := m.login(ctx, client, service, lo)
	if err != nil {
		client.Close()
		return nil, err
	}
	return session, nil
}

// Logout restores the persisted ticket, invalidates it at the provider,
// and removes it from the store. Absence of a persisted session is not an
// error.
func (m *Manager) Logout(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	ticket, err := m.store.LoadTicket(ctx, m.creds.Username())
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	client, err := m.newClient()
	if err != nil {
		return err
	}
	defer client.Close()

	client.SetTicket(ticket.Value)
	if err := client.Logout(ctx); err != nil {
		return err
	}
	return m.store.DeleteTicket(ctx, m.creds.Username())
}

func (m *Manager) newClient() (*cas.Client, error) {
	opts := []cas.Option{cas.WithLogger(m.log)}
	if m.baseURL != "" {
		opts = append(opts, cas.WithBaseURL(m.baseURL))
	}
	if m.timeout > 0 {
		opts = append(opts, cas.WithTimeout(m.timeout))
	}
	if m.httpClient != nil {
		opts = append(opts, cas.WithHTTPClient(m.httpClient))
	}
	return cas.New(opts...)
}

func (m *Manager) login(ctx context.Context, client *cas.Client, service string, lo loginOptions) (*Session, error) {
	fingerprint, err := m.resolveFingerprint(ctx)
	if err != nil {
		return nil, err
	}

	if !lo.forceRefresh {
		if session, ok := m.resumeSession(ctx, client, service); ok {
			return session, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	result, err := m.runFlow(ctx, client, service, fingerprint)
	if err != nil {
		return nil, err
	}

	ticket := result.Ticket
	if ticket == "" {
		ticket = client.Ticket()
	}
	m.persistTicket(ctx, ticket, result.MaxAge)

	return &Session{
		client:      client,
		ticket:      ticket,
		redirectURL: result.RedirectURL,
	}, nil
}

// resumeSession validates a persisted ticket, if any. Validation is a
// pure short circuit: any failure falls through to the full login, after
// dropping a ticket the provider explicitly rejected.
func (m *Manager) resumeSession(ctx context.Context, client *cas.Client, service string) (*Session, bool) {
	if m.store == nil {
		return nil, false
	}
	ticket, err := m.store.LoadTicket(ctx, m.creds.Username())
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			m.log.Warn("loading persisted ticket failed", "error", err)
		}
		return nil, false
	}

	client.SetTicket(ticket.Value)
	result, err := client.VerifyTicket(ctx, service)
	if err != nil {
		client.ClearTicket()
		if errors.Is(err, cas.ErrSessionExpired) {
			m.log.Debug("persisted ticket no longer valid")
			if err := m.store.DeleteTicket(ctx, m.creds.Username()); err != nil {
				m.log.Warn("dropping expired ticket failed", "error", err)
			}
		} else {
			m.log.Warn("ticket verification failed", "error", err)
		}
		return nil, false
	}

	m.log.Info("resumed persisted session")
	return &Session{
		client:      client,
		ticket:      ticket.Value,
		redirectURL: result.RedirectURL,
	}, true
}

// resolveFingerprint picks the device fingerprint for this session:
// explicit option, then persisted value, then a fresh token. The provider
// scores fingerprints for trust, so keeping one stable across runs avoids
// repeated second-factor challenges.
func (m *Manager) resolveFingerprint(ctx context.Context) (string, error) {
	if m.fingerprint != "" {
		m.saveFingerprint(ctx, m.fingerprint)
		return m.fingerprint, nil
	}

	if m.store != nil {
		fingerprint, err := m.store.LoadFingerprint(ctx)
		if err == nil {
			return fingerprint, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return "", fmt.Errorf("loading fingerprint: %w", err)
		}
	}

	fingerprint, err := util.RandomHex(16)
	if err != nil {
		return "", err
	}
	m.log.Debug("generated device fingerprint")
	m.saveFingerprint(ctx, fingerprint)
	return fingerprint, nil
}

func (m *Manager) saveFingerprint(ctx context.Context, fingerprint string) {
	if m.store == nil {
		return
	}
	if err := m.store.SaveFingerprint(ctx, fingerprint); err != nil {
		m.log.Warn("persisting fingerprint failed", "error", err)
	}
}

// persistTicket writes the ticket after a fully validated success; it is
// never called on any other path.
func (m *Manager) persistTicket(ctx context.Context, ticket string, maxAge int) {
	if m.store == nil || ticket == "" {
		return
	}
	record := storage.Ticket{Value: ticket}
	if maxAge > 0 {
		record.ExpiresAt = time.Now().Add(time.Duration(maxAge) * time.Second)
	}
	if err := m.store.SaveTicket(ctx, m.creds.Username(), record); err != nil {
		m.log.Warn("persisting ticket failed", "error", err)
	}
}
