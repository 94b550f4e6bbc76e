package auth

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/awnumar/memguard"
	"github.com/google/uuid"

	"github.com/campusgate/seuauth/cas"
	"github.com/campusgate/seuauth/crypto"
)

// runFlow executes the full login sequence for one attempt:
//
//	NeedCaptcha? → [FetchCaptcha] → FetchKey → SubmitLogin →
//	  {Success | Stage2 → SendCode → FetchKey2 → SubmitLogin2 →
//	    {Success | Failure}} | Failure
//
// Every step's input depends on the previous step's output, so the flow is
// strictly sequential. There is no cycle: the only bounded repetition is
// the rate-limited code dispatch inside retryRateLimited, and a stage-2
// demand after the stage-2 round is surfaced as an anomaly, never looped.
func (m *Manager) runFlow(ctx context.Context, client *cas.Client, service, fingerprint string) (*cas.LoginResult, error) {
	log := m.log.With("attempt_id", uuid.NewString())
	keys := &keyStore{client: client, store: m.store, log: log}

	// The captcha requirement must be known before the key fetch: the
	// submission the key is consumed by carries the answer field, with the
	// empty string as the accepted "not needed" sentinel.
	captcha, err := m.solveCaptchaIfNeeded(ctx, client, log)
	if err != nil {
		return nil, err
	}

	result, err := m.submit(ctx, client, keys, submission{
		service:     service,
		fingerprint: fingerprint,
		captcha:     captcha,
	})
	if err != nil {
		return nil, err
	}
	if !result.Stage2Required {
		log.Info("authenticated")
		return result, nil
	}

	log.Info("device not trusted, second factor required")
	if m.sms == nil {
		return nil, ErrCodeProviderMissing
	}

	var sent *cas.SendCodeResult
	err = retryRateLimited(ctx, log, m.sendRetry, func(ctx context.Context) error {
		var err error
		sent, err = client.SendStage2Code(ctx, m.creds.Username())
		return err
	})
	if err != nil {
		return nil, err
	}

	code, err := m.sms.Code(ctx, sent.Phone)
	if err != nil {
		return nil, fmt.Errorf("obtaining sms code: %w", err)
	}
	if code == "" {
		return nil, fmt.Errorf("%w: empty sms code", ErrChallengeAborted)
	}

	// Second round: a fresh key, both secrets encoded under it. The captcha
	// field stays empty even when the first submission carried one; the
	// provider does not re-demand a captcha on the resubmission.
	result, err = m.submit(ctx, client, keys, submission{
		service:     service,
		fingerprint: fingerprint,
		smsCode:     memguard.NewEnclave([]byte(code)),
	})
	if err != nil {
		return nil, err
	}
	if result.Stage2Required {
		return nil, cas.ErrUnexpectedStage2
	}
	log.Info("authenticated with second factor")
	return result, nil
}

func (m *Manager) solveCaptchaIfNeeded(ctx context.Context, client *cas.Client, log *slog.Logger) (string, error) {
	need, err := client.NeedCaptcha(ctx)
	if err != nil {
		return "", err
	}
	if !need {
		return "", nil
	}
	if m.captcha == nil {
		return "", ErrCaptchaSolverMissing
	}

	image, err := client.Captcha(ctx)
	if err != nil {
		return "", err
	}
	answer, err := m.captcha.Solve(ctx, image)
	if err != nil {
		return "", fmt.Errorf("solving captcha: %w", err)
	}
	if answer == "" {
		return "", fmt.Errorf("%w: empty captcha answer", ErrChallengeAborted)
	}
	log.Debug("captcha solved")
	return answer, nil
}

// submission is the variable part of one credential submission.
type submission struct {
	service     string
	fingerprint string
	captcha     string
	smsCode     *memguard.Enclave
}

// submit acquires key material and consumes it with exactly one login
// request. Keys are never reused across submissions: their lifetime is
// bounded server-side and consumption invalidates them.
func (m *Manager) submit(ctx context.Context, client *cas.Client, keys *keyStore, sub submission) (*cas.LoginResult, error) {
	material, err := keys.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	req := cas.LoginRequest{
		Service:     sub.service,
		Username:    m.creds.Username(),
		Captcha:     sub.captcha,
		Fingerprint: sub.fingerprint,
	}
	err = m.creds.withSecret(func(password string) error {
		encrypted, err := crypto.Encrypt(password, material.PublicKey)
		if err != nil {
			return fmt.Errorf("encoding password: %w", err)
		}
		req.EncryptedPassword = encrypted
		return nil
	})
	if err != nil {
		return nil, err
	}

	if sub.smsCode != nil {
		buf, err := sub.smsCode.Open()
		if err != nil {
			return nil, err
		}
		encrypted, err := crypto.Encrypt(buf.String(), material.PublicKey)
		buf.Destroy()
		if err != nil {
			return nil, fmt.Errorf("encoding sms code: %w", err)
		}
		req.EncryptedSMSCode = encrypted
	}

	return client.Login(ctx, req)
}
