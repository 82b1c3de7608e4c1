package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/EternisAI/silo-kiosk/internal/activation"
	"github.com/EternisAI/silo-kiosk/internal/kiosk"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the persisted kiosk state",
	Long: `Show activation, config cache and queue state as stored on disk.

The backend is not contacted.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		k, err := kiosk.New(config.Kiosk)
		if err != nil {
			return err
		}
		status := k.Status()

		out := cmd.OutOrStdout()
		label := color.New(color.Bold).SprintFunc()

		fmt.Fprintf(out, "%s %s\n", label("Device:     "), config.Kiosk.Backend.DeviceID)
		fmt.Fprintf(out, "%s %s\n", label("Activation: "), activationColor(status.Activation.State).Sprint(status.Activation.State))
		if status.Activation.Reason != "" {
			fmt.Fprintf(out, "%s %s\n", label("Reason:     "), status.Activation.Reason)
		}
		if !status.Activation.CheckedAt.IsZero() {
			fmt.Fprintf(out, "%s %s\n", label("Checked:    "), status.Activation.CheckedAt.Local().Format(time.DateTime))
		}

		lastSync := "never"
		if !status.LastSync.IsZero() {
			lastSync = status.LastSync.Local().Format(time.DateTime)
		}
		fmt.Fprintf(out, "%s %s\n", label("Last sync:  "), lastSync)
		fmt.Fprintf(out, "%s %s\n", label("Offline ok: "), yesNo(status.CanOperateOffline))

		pending := color.New(color.FgGreen)
		if status.PendingCount > 0 {
			pending = color.New(color.FgYellow)
		}
		fmt.Fprintf(out, "%s %s\n", label("Pending:    "), pending.Sprint(status.PendingCount))
		if status.QueueCorruptions > 0 {
			fmt.Fprintf(out, "%s %s\n", label("Corruption: "), color.RedString("queue file was quarantined"))
		}
		if status.KeyReplaced {
			fmt.Fprintf(out, "%s %s\n", label("Key:        "), color.RedString("encryption key was invalid and has been replaced"))
		}
		return nil
	},
}

func activationColor(s activation.State) *color.Color {
	switch s {
	case activation.StateActivated:
		return color.New(color.FgGreen)
	case activation.StateRevoked, activation.StateExpired, activation.StateError:
		return color.New(color.FgRed)
	default:
		return color.New(color.FgYellow)
	}
}

func yesNo(b bool) string {
	if b {
		return color.GreenString("yes")
	}
	return color.RedString("no")
}
