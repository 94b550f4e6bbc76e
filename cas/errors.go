package cas

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidCredentials indicates the provider rejected the username or
	// password. Retrying with the same inputs cannot succeed.
	ErrInvalidCredentials = errors.New("invalid username or password")
	// ErrMalformedIdentifier indicates the account identifier failed the
	// provider's format check before credentials were even evaluated.
	ErrMalformedIdentifier = errors.New("malformed account identifier")
	// ErrCaptchaRequired indicates a captcha answer was required but absent.
	ErrCaptchaRequired = errors.New("captcha required")
	// ErrCaptchaIncorrect indicates the submitted captcha answer was wrong.
	ErrCaptchaIncorrect = errors.New("captcha answer incorrect")
	// ErrSecondFactorIncorrect indicates the submitted SMS one-time code was
	// rejected.
	ErrSecondFactorIncorrect = errors.New("sms verification code incorrect")
	// ErrKeyCorrelation indicates the correlation token pairing this session
	// with its public key is missing or expired. Fatal to the attempt: the
	// flow must start over from a fresh key fetch, not retry blindly.
	ErrKeyCorrelation = errors.New("key correlation token missing or expired")
	// ErrSessionExpired indicates a previously issued session ticket is no
	// longer accepted by the provider.
	ErrSessionExpired = errors.New("session ticket expired or invalid")
	// ErrUnexpectedStage2 indicates the provider demanded a second-factor
	// round again after one was already completed. Observed provider
	// behavior never does this; treat it as a protocol anomaly instead of
	// looping.
	ErrUnexpectedStage2 = errors.New("unexpected repeat second-factor challenge")
)

// ProtocolError is a structured provider failure that does not map to a
// more specific kind.
type ProtocolError struct {
	Code int
	Info string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("provider error %d: %s", e.Code, e.Info)
}

// RateLimitError indicates the provider refused an operation because of
// request frequency. RetryAfter is zero when the provider did not specify
// a cool-down; callers fall back to their configured interval.
type RateLimitError struct {
	Code       int
	Info       string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited by provider (%d): %s", e.Code, e.Info)
}

// TransportError wraps a network, HTTP status, or decoding failure.
// Retryable at the caller's discretion; the engine itself never retries
// transport failures.
type TransportError struct {
	Endpoint string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("cas %s: %v", e.Endpoint, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
