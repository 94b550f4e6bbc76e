package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/campusgate/seuauth/cas"
	"github.com/campusgate/seuauth/storage"
)

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Invalidate the persisted session ticket",
	RunE: func(cmd *cobra.Command, args []string) error {
		if username == "" {
			return fmt.Errorf("a username is required (-u)")
		}

		store, err := openStore()
		if err != nil {
			return err
		}

		ticket, err := store.LoadTicket(cmd.Context(), username)
		if errors.Is(err, storage.ErrNotFound) {
			fmt.Println("No persisted session")
			return nil
		}
		if err != nil {
			return err
		}

		client, err := cas.New(cas.WithLogger(logger()))
		if err != nil {
			return err
		}
		defer client.Close()

		client.SetTicket(ticket.Value)
		if err := client.Logout(cmd.Context()); err != nil {
			return err
		}
		if err := store.DeleteTicket(cmd.Context(), username); err != nil {
			return err
		}
		fmt.Println("Logged out")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(logoutCmd)
}
