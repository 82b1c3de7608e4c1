package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/EternisAI/silo-kiosk/internal/kiosk"
)

var jsonOutput bool

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect the pending submission queue",
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List submissions waiting for delivery",
	RunE: func(cmd *cobra.Command, _ []string) error {
		k, err := kiosk.New(config.Kiosk)
		if err != nil {
			return err
		}
		pending := k.Queue.ListPending()

		out := cmd.OutOrStdout()
		if jsonOutput {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(pending)
		}

		if len(pending) == 0 {
			fmt.Fprintln(out, "No pending submissions")
			return nil
		}

		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tENQUEUED\tATTEMPTS\tLAST ERROR")
		for _, s := range pending {
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", s.ID, s.EnqueuedAt.Local().Format(time.DateTime), s.Attempts, s.LastError)
		}
		return w.Flush()
	},
}

func init() {
	queueListCmd.Flags().BoolVar(&jsonOutput, "json", false, "print as JSON")
	queueCmd.AddCommand(queueListCmd)
}
