package cmd

import (
	"fmt"
	"time"

	"analysisweb/pkg/api"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status [job_id]",
	Short: "Get status of a job",
	Long:  `Retrieve a job with its current state (SUBMITTED, COMPLETED), resolved inputs and the outputs posted so far.`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		job, err := newClient().GetJob(args[0])
		if err != nil {
			printError(cmd, err)
			return
		}
		printStatus(cmd, job)
	},
}

func printStatus(cmd *cobra.Command, job *api.Job) {
	icon := statusIcon(job.Status)
	cmd.Printf("%s %sJob Details%s\n", icon, colorBold, colorReset)
	cmd.Println("──────────────────────────────")

	cmd.Printf("%sID:%s          %s\n", colorDim, colorReset, job.ID)
	cmd.Printf("%sLabel:%s       %s\n", colorDim, colorReset, job.Label)
	cmd.Printf("%sStatus:%s      %s\n", colorDim, colorReset, colorizeStatus(job.Status))
	cmd.Printf("%sAnalysis:%s    %s\n", colorDim, colorReset, job.Analysis)
	if job.Measurement != nil {
		cmd.Printf("%sMeasurement:%s %s\n", colorDim, colorReset, *job.Measurement)
	}
	cmd.Printf("%sSubmitted:%s   %s\n", colorDim, colorReset, formatTimeWithRelative(&job.Date))

	if len(job.Input) > 0 {
		cmd.Printf("%sInputs:%s\n", colorDim, colorReset)
		for _, in := range job.Input {
			cmd.Printf("  %s = %s %s(%s)%s\n", in.Label, in.Value, colorDim, in.Source, colorReset)
		}
	}

	var outputs []string
	for _, f := range job.Table {
		outputs = append(outputs, fmt.Sprintf("%s %s", f.Label, f.URL))
	}
	for _, f := range job.Figure {
		outputs = append(outputs, fmt.Sprintf("%s %s", f.Label, f.URL))
	}
	for _, f := range job.Reports {
		outputs = append(outputs, fmt.Sprintf("%s %s", f.Label, f.URL))
	}
	if len(outputs) > 0 {
		cmd.Printf("%sOutputs:%s\n", colorDim, colorReset)
		for _, o := range outputs {
			cmd.Printf("  %s\n", o)
		}
	}

	if job.Log != nil {
		cmd.Printf("%sLog:%s         %s\n", colorDim, colorReset, job.Log.URL)
	} else {
		cmd.Printf("%sLog:%s         -\n", colorDim, colorReset)
	}
}

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
)

func statusIcon(status string) string {
	switch status {
	case "COMPLETED":
		return colorGreen + "✓" + colorReset
	case "SUBMITTED":
		return colorYellow + "⏳" + colorReset
	default:
		return "•"
	}
}

func colorizeStatus(status string) string {
	icon := statusIcon(status)
	switch status {
	case "COMPLETED":
		return icon + " " + colorGreen + status + colorReset
	case "SUBMITTED":
		return icon + " " + colorYellow + status + colorReset
	default:
		return status
	}
}

func formatTimeWithRelative(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	relative := relativeTime(*t)
	return fmt.Sprintf("%s %s(%s ago)%s", t.Format("Mon, 02 Jan 2006 15:04:05 MST"), colorDim, relative, colorReset)
}

func relativeTime(t time.Time) string {
	duration := time.Since(t)

	if duration < time.Minute {
		return fmt.Sprintf("%ds", int(duration.Seconds()))
	} else if duration < time.Hour {
		return fmt.Sprintf("%dm", int(duration.Minutes()))
	} else if duration < 24*time.Hour {
		return fmt.Sprintf("%dh", int(duration.Hours()))
	} else {
		days := int(duration.Hours() / 24)
		if days == 1 {
			return "1 day"
		}
		return fmt.Sprintf("%d days", days)
	}
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
