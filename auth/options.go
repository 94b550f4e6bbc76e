package auth

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/campusgate/seuauth/storage"
)

// Option configures a Manager.
type Option func(*Manager)

// WithStore sets the persisted-session store used to resume sessions,
// recover correlation tokens, and keep the device fingerprint stable
// across runs. Without a store every run performs a full login with a
// fresh fingerprint, which makes second-factor challenges more likely.
func WithStore(store storage.Store) Option {
	return func(m *Manager) { m.store = store }
}

// WithCaptchaSolver sets the captcha challenge provider.
func WithCaptchaSolver(solver CaptchaSolver) Option {
	return func(m *Manager) { m.captcha = solver }
}

// WithCodeProvider sets the SMS one-time-code challenge provider.
func WithCodeProvider(provider CodeProvider) Option {
	return func(m *Manager) { m.sms = provider }
}

// WithFingerprint pins the device fingerprint instead of loading or
// generating one. The value is persisted when a store is configured.
func WithFingerprint(fingerprint string) Option {
	return func(m *Manager) { m.fingerprint = fingerprint }
}

// WithLogger sets the structured logger. The default discards.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.log = logger }
}

// WithBaseURL overrides the provider origin, e.g. for a test double.
func WithBaseURL(baseURL string) Option {
	return func(m *Manager) { m.baseURL = baseURL }
}

// WithTimeout sets the per-request network timeout.
func WithTimeout(d time.Duration) Option {
	return func(m *Manager) { m.timeout = d }
}

// WithHTTPClient supplies the transport the per-login session client is
// built on. Mostly useful for proxies and tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(m *Manager) { m.httpClient = hc }
}

// WithSendCodeRetry tunes the one-time-code dispatch retry budget.
func WithSendCodeRetry(retry SendCodeRetry) Option {
	return func(m *Manager) { m.sendRetry = retry }
}

// LoginOption configures a single Login call.
type LoginOption func(*loginOptions)

type loginOptions struct {
	forceRefresh bool
}

// ForceRefresh skips the persisted-ticket short circuit and performs a
// full login.
func ForceRefresh() LoginOption {
	return func(o *loginOptions) { o.forceRefresh = true }
}
