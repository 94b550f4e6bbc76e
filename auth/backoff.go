package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/campusgate/seuauth/cas"
)

// SendCodeRetry bounds the one-time-code dispatch retries. The provider
// enforces a minimum interval between SMS dispatches; Cooldown is the wait
// applied when it reports a rate-limit outcome without naming one.
type SendCodeRetry struct {
	MaxAttempts int
	Cooldown    time.Duration
}

// DefaultSendCodeRetry matches the provider's observed inter-SMS interval.
var DefaultSendCodeRetry = SendCodeRetry{MaxAttempts: 3, Cooldown: 70 * time.Second}

// retryRateLimited runs op, retrying only on RateLimitError outcomes with
// the mandated cool-down between attempts. Every other error, and
// exhaustion of the attempt budget, is returned to the caller. This policy
// wraps the code dispatch only: credential submissions are never retried,
// since a retry with unchanged inputs reproduces the same outcome.
func retryRateLimited(ctx context.Context, log *slog.Logger, cfg SendCodeRetry, op func(context.Context) error) error {
	for attempt := 1; ; attempt++ {
		err := op(ctx)

		var rateLimited *cas.RateLimitError
		if err == nil || !errors.As(err, &rateLimited) {
			return err
		}
		if attempt >= cfg.MaxAttempts {
			return err
		}

		wait := rateLimited.RetryAfter
		if wait <= 0 {
			wait = cfg.Cooldown
		}
		log.Warn("rate limited, cooling down", "attempt", attempt, "wait", wait)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
