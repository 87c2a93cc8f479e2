package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"analysisweb/pkg/api"

	"github.com/spf13/cobra"
)

const maxErrorWidth = 50

var dlqCmd = &cobra.Command{
	Use:   "dlq",
	Short: "Inspect and retry dead-lettered job dispatches",
	Long: `Jobs whose dispatch kept failing until the attempt limit was reached are
moved to the dead letter queue. These commands need the internal secret
(--token or ANALYSISWEB_TOKEN).`,
}

var dlqListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show dead-lettered dispatches",
	Run: func(cmd *cobra.Command, args []string) {
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		entries, err := newClient().ListDLQ(limit, offset)
		if err != nil {
			printError(cmd, err)
			return
		}
		switch {
		case len(entries) > 0:
			writeDLQTable(cmd.OutOrStdout(), entries)
		case offset > 0:
			cmd.Println("No more dispatches found in DLQ.")
		default:
			cmd.Println("No dispatches found in DLQ.")
		}
	},
}

var dlqRetryCmd = &cobra.Command{
	Use:   "retry [job_id]",
	Short: "Put a dead-lettered job back on the dispatch queue",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		resp, err := newClient().RetryDLQ(args[0])
		if err != nil {
			printError(cmd, err)
			return
		}
		cmd.Printf("✓ Job %s %s.\n", args[0], resp.Status)
	},
}

func writeDLQTable(out io.Writer, entries []api.DLQEntry) {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, "JOB ID\tLABEL\tATTEMPTS\tFAILED AT\tERROR")
	for _, e := range entries {
		var failedAt, reason string
		if e.FailedAt != nil {
			failedAt = e.FailedAt.Format(time.RFC3339)
		}
		if e.ErrorMessage != nil {
			reason = truncate(*e.ErrorMessage, maxErrorWidth)
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", e.JobID, e.JobLabel, e.Attempts, failedAt, reason)
	}
}

func truncate(s string, width int) string {
	if len(s) <= width {
		return s
	}
	return s[:width-3] + "..."
}

func init() {
	dlqListCmd.Flags().IntP("limit", "l", 20, "Maximum number of entries")
	dlqListCmd.Flags().IntP("offset", "o", 0, "Number of entries to skip")

	dlqCmd.AddCommand(dlqListCmd, dlqRetryCmd)
	rootCmd.AddCommand(dlqCmd)
}
