package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/campusgate/seuauth/auth"
)

var (
	service     string
	force       bool
	fingerprint string
	timeout     time.Duration
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Authenticate and persist the session ticket",
	RunE: func(cmd *cobra.Command, args []string) error {
		if username == "" {
			return fmt.Errorf("a username is required (-u)")
		}

		password := os.Getenv("SEUAUTH_PASSWORD")
		if password == "" {
			var err error
			password, err = promptPassword("Password: ")
			if err != nil {
				return err
			}
		}

		store, err := openStore()
		if err != nil {
			return err
		}

		opts := []auth.Option{
			auth.WithStore(store),
			auth.WithLogger(logger()),
			auth.WithTimeout(timeout),
			auth.WithCaptchaSolver(auth.CaptchaSolverFunc(solveCaptchaInteractive)),
			auth.WithCodeProvider(auth.CodeProviderFunc(promptSMSCode)),
		}
		if fingerprint != "" {
			opts = append(opts, auth.WithFingerprint(fingerprint))
		}

		manager, err := auth.New(username, password, opts...)
		if err != nil {
			return err
		}

		var loginOpts []auth.LoginOption
		if force {
			loginOpts = append(loginOpts, auth.ForceRefresh())
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		session, err := manager.Login(ctx, service, loginOpts...)
		if err != nil {
			return err
		}
		defer session.Close()

		fmt.Printf("Logged in as %s\n", username)
		fmt.Printf("Ticket: %s\n", session.Ticket())
		if session.RedirectURL() != "" {
			fmt.Printf("Service redirect: %s\n", session.RedirectURL())
		}
		return nil
	},
}

// solveCaptchaInteractive saves the captcha image to a temporary file and
// asks the operator to read it.
func solveCaptchaInteractive(_ context.Context, image []byte) (string, error) {
	f, err := os.CreateTemp("", "seuauth-captcha-*.jpg")
	if err != nil {
		return "", fmt.Errorf("failed to save captcha image: %w", err)
	}
	if _, err := f.Write(image); err != nil {
		f.Close()
		return "", fmt.Errorf("failed to save captcha image: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", err
	}

	fmt.Printf("Captcha image saved to %s\n", f.Name())
	return promptLine("Captcha answer: ")
}

func promptSMSCode(_ context.Context, phone string) (string, error) {
	if phone != "" {
		fmt.Printf("A verification code was sent to %s\n", phone)
	} else {
		fmt.Println("A verification code was sent to your registered phone")
	}
	return promptLine("Verification code: ")
}

func init() {
	rootCmd.AddCommand(loginCmd)
	loginCmd.Flags().StringVarP(&service, "service", "s", "", "Target service URL to obtain a redirect for")
	loginCmd.Flags().BoolVar(&force, "force", false, "Skip the persisted session and perform a full login")
	loginCmd.Flags().StringVar(&fingerprint, "fingerprint", "", "Pin the device fingerprint instead of the stored one")
	loginCmd.Flags().DurationVar(&timeout, "timeout", 15*time.Second, "Per-request network timeout")
}
