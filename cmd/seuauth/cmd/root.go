package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	filestorage "github.com/campusgate/seuauth/storage/file"
)

var (
	username  string
	storePath string
	verbose   bool
)

var rootCmd = &cobra.Command{
	Use:   "seuauth",
	Short: "seuauth authenticates against the university single-sign-on service",
	Long: `Log into the university's CAS-like single-sign-on service from the command
line, handling the key exchange and any captcha or SMS challenges, and keep
the resulting session ticket for later runs.`,
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&username, "username", "u", "", "Account identifier (student or staff ID)")
	rootCmd.PersistentFlags().StringVar(&storePath, "store", defaultStorePath(), "Path to the persisted session file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}

func logger() *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func defaultStorePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "seuauth-session.json"
	}
	return filepath.Join(home, ".seuauth", "session.json")
}

func openStore() (*filestorage.Store, error) {
	if err := os.MkdirAll(filepath.Dir(storePath), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}
	store, err := filestorage.NewStore(storePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}
	return store, nil
}
