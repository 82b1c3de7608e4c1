package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/EternisAI/silo-kiosk/internal/offlineauth"
)

var pinHashCmd = &cobra.Command{
	Use:   "pin-hash",
	Short: "Hash an admin PIN for the backend config",
	PersistentPreRunE: func(*cobra.Command, []string) error {
		initLogger(LOG_LEVEL_WARNING)
		return nil
	},
	RunE: func(cmd *cobra.Command, _ []string) error {
		fmt.Fprint(os.Stderr, "PIN: ")
		pin, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return fmt.Errorf("failed to read PIN: %w", err)
		}

		fmt.Fprint(os.Stderr, "Repeat PIN: ")
		confirm, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return fmt.Errorf("failed to read PIN: %w", err)
		}

		if len(pin) == 0 {
			return errors.New("PIN is empty")
		}
		if string(pin) != string(confirm) {
			return errors.New("PINs do not match")
		}

		hash, err := offlineauth.HashPIN(string(pin))
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), hash)
		return nil
	},
}
