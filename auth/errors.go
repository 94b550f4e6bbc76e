package auth

import "errors"

var (
	// ErrChallengeAborted indicates a challenge provider returned an empty
	// answer, which the engine treats as caller cancellation.
	ErrChallengeAborted = errors.New("challenge aborted by provider")
	// ErrCaptchaSolverMissing indicates the provider demanded a captcha but
	// no CaptchaSolver is configured.
	ErrCaptchaSolverMissing = errors.New("captcha required but no solver configured")
	// ErrCodeProviderMissing indicates the provider demanded a second
	// factor but no CodeProvider is configured.
	ErrCodeProviderMissing = errors.New("second factor required but no code provider configured")
)
