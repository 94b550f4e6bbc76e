package auth_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campusgate/seuauth/auth"
	"github.com/campusgate/seuauth/cas"
	"github.com/campusgate/seuauth/internal/castest"
	"github.com/campusgate/seuauth/storage"
	"github.com/campusgate/seuauth/storage/memory"
)

const (
	testUser = "213210001"
	testPass = "pa55word!"
)

func newManager(t *testing.T, srv *castest.Server, opts ...auth.Option) *auth.Manager {
	t.Helper()
	opts = append([]auth.Option{auth.WithBaseURL(srv.BaseURL())}, opts...)
	m, err := auth.New(testUser, testPass, opts...)
	require.NoError(t, err)
	return m
}

func staticCaptcha(answer string) auth.CaptchaSolver {
	return auth.CaptchaSolverFunc(func(_ context.Context, image []byte) (string, error) {
		if len(image) == 0 {
			return "", errors.New("no image")
		}
		return answer, nil
	})
}

func staticCode(code string) auth.CodeProvider {
	return auth.CodeProviderFunc(func(_ context.Context, _ string) (string, error) {
		return code, nil
	})
}

func TestNewValidation(t *testing.T) {
	_, err := auth.New("", testPass)
	assert.Error(t, err)
	_, err = auth.New(testUser, "")
	assert.Error(t, err)
}

func TestLoginHappyPath(t *testing.T) {
	srv := castest.New(t, castest.Config{Username: testUser, Password: testPass})
	m := newManager(t, srv)

	session, err := m.Login(context.Background(), "http://ehall.example.edu/login")
	require.NoError(t, err)
	defer session.Close()

	assert.NotEmpty(t, session.Ticket())
	assert.True(t, srv.IssuedTicket(session.Ticket()))
	assert.Contains(t, session.RedirectURL(), "http://ehall.example.edu/login?ticket=ST-")
	assert.NotNil(t, session.Client())

	// One key, one submission, no captcha, no second factor.
	assert.Equal(t, 1, srv.KeyFetches())
	assert.Equal(t, 1, srv.LoginCalls())
	assert.Equal(t, 0, srv.SendCalls())

	subs := srv.Submissions()
	require.Len(t, subs, 1)
	assert.Equal(t, testPass, subs[0].Password)
	assert.Empty(t, subs[0].Captcha)
	assert.NotEmpty(t, subs[0].Fingerprint)
	assert.NotEmpty(t, subs[0].Correlation)
}

func TestLoginWithoutService(t *testing.T) {
	srv := castest.New(t, castest.Config{Username: testUser, Password: testPass})
	m := newManager(t, srv)

	session, err := m.Login(context.Background(), "")
	require.NoError(t, err)
	defer session.Close()

	assert.NotEmpty(t, session.Ticket())
	assert.Empty(t, session.RedirectURL())
}

func TestLoginInvalidCredentials(t *testing.T) {
	srv := castest.New(t, castest.Config{Username: testUser, Password: "something-else"})
	m := newManager(t, srv)

	_, err := m.Login(context.Background(), "")
	assert.ErrorIs(t, err, cas.ErrInvalidCredentials)
}

func TestLoginCaptcha(t *testing.T) {
	t.Run("solved answer travels with the submission", func(t *testing.T) {
		srv := castest.New(t, castest.Config{
			Username: testUser, Password: testPass,
			CaptchaRequired: true, CaptchaAnswer: "7xk2",
		})
		m := newManager(t, srv, auth.WithCaptchaSolver(staticCaptcha("7xk2")))

		session, err := m.Login(context.Background(), "")
		require.NoError(t, err)
		defer session.Close()

		assert.Equal(t, 1, srv.CaptchaGets())
		subs := srv.Submissions()
		require.Len(t, subs, 1)
		assert.Equal(t, "7xk2", subs[0].Captcha)
	})

	t.Run("wrong answer", func(t *testing.T) {
		srv := castest.New(t, castest.Config{
			Username: testUser, Password: testPass,
			CaptchaRequired: true, CaptchaAnswer: "7xk2",
		})
		m := newManager(t, srv, auth.WithCaptchaSolver(staticCaptcha("zzzz")))

		_, err := m.Login(context.Background(), "")
		assert.ErrorIs(t, err, cas.ErrCaptchaIncorrect)
	})

	t.Run("no solver configured", func(t *testing.T) {
		srv := castest.New(t, castest.Config{
			Username: testUser, Password: testPass, CaptchaRequired: true,
		})
		m := newManager(t, srv)

		_, err := m.Login(context.Background(), "")
		assert.ErrorIs(t, err, auth.ErrCaptchaSolverMissing)
		// The requirement is checked before any key or credentials move.
		assert.Equal(t, 0, srv.KeyFetches())
		assert.Equal(t, 0, srv.LoginCalls())
	})

	t.Run("empty answer aborts", func(t *testing.T) {
		srv := castest.New(t, castest.Config{
			Username: testUser, Password: testPass, CaptchaRequired: true,
		})
		m := newManager(t, srv, auth.WithCaptchaSolver(staticCaptcha("")))

		_, err := m.Login(context.Background(), "")
		assert.ErrorIs(t, err, auth.ErrChallengeAborted)
		assert.Equal(t, 0, srv.LoginCalls())
	})
}

func TestLoginSecondFactor(t *testing.T) {
	srv := castest.New(t, castest.Config{
		Username: testUser, Password: testPass,
		Stage2: true, SMSCode: "998877",
	})
	m := newManager(t, srv, auth.WithCodeProvider(staticCode("998877")))

	session, err := m.Login(context.Background(), "")
	require.NoError(t, err)
	defer session.Close()
	assert.NotEmpty(t, session.Ticket())

	// Exactly one code dispatch, one fresh key per submission, no third
	// round of anything.
	assert.Equal(t, 1, srv.SendCalls())
	assert.Equal(t, 2, srv.KeyFetches())
	assert.Equal(t, 2, srv.LoginCalls())

	subs := srv.Submissions()
	require.Len(t, subs, 2)
	assert.False(t, subs[0].HadSMSCode)
	assert.True(t, subs[1].HadSMSCode)
	assert.Equal(t, "998877", subs[1].SMSCode)
	assert.Equal(t, testPass, subs[1].Password, "password is re-encoded under the second key")
	assert.Empty(t, subs[1].Captcha, "the resubmission never carries a captcha")
	assert.NotEqual(t, subs[0].Correlation, subs[1].Correlation,
		"each submission consumes its own key")
}

func TestLoginSecondFactorFailures(t *testing.T) {
	t.Run("no code provider", func(t *testing.T) {
		srv := castest.New(t, castest.Config{
			Username: testUser, Password: testPass, Stage2: true,
		})
		m := newManager(t, srv)

		_, err := m.Login(context.Background(), "")
		assert.ErrorIs(t, err, auth.ErrCodeProviderMissing)
		assert.Equal(t, 0, srv.SendCalls())
	})

	t.Run("wrong code", func(t *testing.T) {
		srv := castest.New(t, castest.Config{
			Username: testUser, Password: testPass,
			Stage2: true, SMSCode: "998877",
		})
		m := newManager(t, srv, auth.WithCodeProvider(staticCode("000000")))

		_, err := m.Login(context.Background(), "")
		assert.ErrorIs(t, err, cas.ErrSecondFactorIncorrect)
	})

	t.Run("empty code aborts", func(t *testing.T) {
		srv := castest.New(t, castest.Config{
			Username: testUser, Password: testPass,
			Stage2: true, SMSCode: "998877",
		})
		m := newManager(t, srv, auth.WithCodeProvider(staticCode("")))

		_, err := m.Login(context.Background(), "")
		assert.ErrorIs(t, err, auth.ErrChallengeAborted)
		assert.Equal(t, 1, srv.LoginCalls(), "aborted before the second submission")
	})

	t.Run("repeat stage2 demand is an anomaly", func(t *testing.T) {
		srv := castest.New(t, castest.Config{
			Username: testUser, Password: testPass,
			AlwaysStage2: true, SMSCode: "998877",
		})
		m := newManager(t, srv, auth.WithCodeProvider(staticCode("998877")))

		_, err := m.Login(context.Background(), "")
		assert.ErrorIs(t, err, cas.ErrUnexpectedStage2)
		assert.Equal(t, 2, srv.LoginCalls(), "the engine never loops the second factor")
		assert.Equal(t, 1, srv.SendCalls())
	})
}

func TestSendCodeRateLimitRetry(t *testing.T) {
	srv := castest.New(t, castest.Config{
		Username: testUser, Password: testPass,
		Stage2: true, SMSCode: "998877",
		RateLimitSendCode: 2,
	})
	m := newManager(t, srv,
		auth.WithCodeProvider(staticCode("998877")),
		auth.WithSendCodeRetry(auth.SendCodeRetry{MaxAttempts: 3, Cooldown: 30 * time.Millisecond}),
	)

	start := time.Now()
	session, err := m.Login(context.Background(), "")
	require.NoError(t, err)
	defer session.Close()

	assert.Equal(t, 3, srv.SendCalls())
	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond,
		"each retry must wait out the cool-down")
}

func TestSendCodeRetryBudgetExhausted(t *testing.T) {
	srv := castest.New(t, castest.Config{
		Username: testUser, Password: testPass,
		Stage2: true, SMSCode: "998877",
		RateLimitSendCode: 5,
	})
	m := newManager(t, srv,
		auth.WithCodeProvider(staticCode("998877")),
		auth.WithSendCodeRetry(auth.SendCodeRetry{MaxAttempts: 2, Cooldown: time.Millisecond}),
	)

	_, err := m.Login(context.Background(), "")
	var rateLimited *cas.RateLimitError
	assert.ErrorAs(t, err, &rateLimited)
	assert.Equal(t, 2, srv.SendCalls())
}

func TestKeyReuseWithoutTokenFailsBeforeSubmission(t *testing.T) {
	srv := castest.New(t, castest.Config{
		Username: testUser, Password: testPass,
		ReuseKey: true,
	})
	m := newManager(t, srv, auth.WithStore(memory.NewStore()))

	_, err := m.Login(context.Background(), "")
	assert.ErrorIs(t, err, cas.ErrKeyCorrelation)
	assert.Equal(t, 0, srv.LoginCalls(),
		"credentials must never be submitted under an uncorrelated key")
}

func TestResumePersistedSession(t *testing.T) {
	srv := castest.New(t, castest.Config{Username: testUser, Password: testPass, MaxAge: 3600})
	store := memory.NewStore()
	m := newManager(t, srv, auth.WithStore(store))

	first, err := m.Login(context.Background(), "")
	require.NoError(t, err)
	first.Close()

	record, err := store.LoadTicket(context.Background(), testUser)
	require.NoError(t, err)
	assert.Equal(t, first.Ticket(), record.Value)
	assert.True(t, record.ExpiresAt.After(time.Now()), "maxAge must translate into an expiry")

	// Second login resumes: the ticket is verified, never re-earned.
	second, err := m.Login(context.Background(), "")
	require.NoError(t, err)
	defer second.Close()

	assert.Equal(t, first.Ticket(), second.Ticket())
	assert.GreaterOrEqual(t, srv.VerifyCalls(), 1)
	assert.Equal(t, 1, srv.KeyFetches(), "resume must not touch key material")
	assert.Equal(t, 1, srv.LoginCalls())
}

func TestResumeExpiredTicketFallsThrough(t *testing.T) {
	srv := castest.New(t, castest.Config{Username: testUser, Password: testPass})
	store := memory.NewStore()
	require.NoError(t, store.SaveTicket(context.Background(), testUser, storage.Ticket{Value: "tgt-stale"}))

	m := newManager(t, srv, auth.WithStore(store))
	session, err := m.Login(context.Background(), "")
	require.NoError(t, err)
	defer session.Close()

	assert.NotEqual(t, "tgt-stale", session.Ticket())
	assert.Equal(t, 1, srv.LoginCalls(), "rejection falls through to a full login")

	// The rejected ticket was dropped and replaced.
	record, err := store.LoadTicket(context.Background(), testUser)
	require.NoError(t, err)
	assert.Equal(t, session.Ticket(), record.Value)
}

func TestForceRefreshSkipsResume(t *testing.T) {
	srv := castest.New(t, castest.Config{Username: testUser, Password: testPass})
	store := memory.NewStore()
	m := newManager(t, srv, auth.WithStore(store))

	first, err := m.Login(context.Background(), "")
	require.NoError(t, err)
	first.Close()
	verifies := srv.VerifyCalls()

	second, err := m.Login(context.Background(), "", auth.ForceRefresh())
	require.NoError(t, err)
	defer second.Close()

	assert.Equal(t, verifies, srv.VerifyCalls(), "force refresh must not verify")
	assert.Equal(t, 2, srv.LoginCalls())
	assert.NotEqual(t, first.Ticket(), second.Ticket())
}

func TestFingerprintStability(t *testing.T) {
	srv := castest.New(t, castest.Config{Username: testUser, Password: testPass})
	store := memory.NewStore()

	m := newManager(t, srv, auth.WithStore(store))
	first, err := m.Login(context.Background(), "")
	require.NoError(t, err)
	first.Close()

	// A separate Manager over the same store presents the same device.
	m2 := newManager(t, srv, auth.WithStore(store))
	second, err := m2.Login(context.Background(), "", auth.ForceRefresh())
	require.NoError(t, err)
	second.Close()

	subs := srv.Submissions()
	require.Len(t, subs, 2)
	assert.Equal(t, subs[0].Fingerprint, subs[1].Fingerprint)
}

func TestPinnedFingerprintAvoidsSecondFactor(t *testing.T) {
	srv := castest.New(t, castest.Config{
		Username: testUser, Password: testPass,
		Stage2: true, TrustedFingerprints: []string{"known-laptop"},
	})
	m := newManager(t, srv, auth.WithFingerprint("known-laptop"))

	session, err := m.Login(context.Background(), "")
	require.NoError(t, err)
	defer session.Close()
	assert.Equal(t, 0, srv.SendCalls())
}

func TestManagerLogout(t *testing.T) {
	srv := castest.New(t, castest.Config{Username: testUser, Password: testPass})
	store := memory.NewStore()
	m := newManager(t, srv, auth.WithStore(store))

	session, err := m.Login(context.Background(), "")
	require.NoError(t, err)
	ticket := session.Ticket()
	session.Close()

	require.NoError(t, m.Logout(context.Background()))
	assert.False(t, srv.IssuedTicket(ticket))
	_, err = store.LoadTicket(context.Background(), testUser)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// Nothing persisted means nothing to do.
	require.NoError(t, m.Logout(context.Background()))
}

func TestSessionLogout(t *testing.T) {
	srv := castest.New(t, castest.Config{Username: testUser, Password: testPass})
	m := newManager(t, srv)

	session, err := m.Login(context.Background(), "")
	require.NoError(t, err)
	ticket := session.Ticket()

	require.NoError(t, session.Logout(context.Background()))
	assert.False(t, srv.IssuedTicket(ticket))
}

func TestLoginCancelled(t *testing.T) {
	srv := castest.New(t, castest.Config{Username: testUser, Password: testPass})
	m := newManager(t, srv)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := m.Login(ctx, "")
	assert.ErrorIs(t, err, context.Canceled)
}
