package auth

import "context"

// CaptchaSolver produces the answer to an image captcha. Implementations
// range from an OCR service to a human at a terminal; Solve may therefore
// block for human-scale durations and must honor ctx cancellation. An
// empty answer aborts the login attempt.
type CaptchaSolver interface {
	Solve(ctx context.Context, image []byte) (string, error)
}

// CaptchaSolverFunc adapts a function to CaptchaSolver.
type CaptchaSolverFunc func(ctx context.Context, image []byte) (string, error)

func (f CaptchaSolverFunc) Solve(ctx context.Context, image []byte) (string, error) {
	return f(ctx, image)
}

// CodeProvider supplies the SMS one-time code dispatched to the identity's
// registered phone. The phone argument is the (masked) number the provider
// reported the code was sent to; it may be empty. Code may block on a
// human or an inbox poller and must honor ctx cancellation. An empty code
// aborts the login attempt.
type CodeProvider interface {
	Code(ctx context.Context, phone string) (string, error)
}

// CodeProviderFunc adapts a function to CodeProvider.
type CodeProviderFunc func(ctx context.Context, phone string) (string, error)

func (f CodeProviderFunc) Code(ctx context.Context, phone string) (string, error) {
	return f(ctx, phone)
}
