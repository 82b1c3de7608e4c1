package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "silo-kiosk-agent",
	Short: "Offline-resilient kiosk agent",
	Long: `silo-kiosk-agent keeps a kiosk usable while the backend is unreachable.

Tickets are queued in an encrypted file and delivered when connectivity
returns. Config is cached locally and admin PINs are checked offline.`,
	PersistentPreRunE: func(*cobra.Command, []string) error {
		return InitConfig(cfgFile)
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./application.yml)")

	rootCmd.AddCommand(serveCmd, queueCmd, statusCmd, pinHashCmd, versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the agent version",
	PersistentPreRunE: func(*cobra.Command, []string) error {
		return nil
	},
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintln(cmd.OutOrStdout(), AppVersion)
	},
}
