package cmd

import (
	"html"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var (
	follow       bool
	pollInterval = 2 * time.Second
)

var (
	lineBreak = regexp.MustCompile(`(?i)<br\s*/?>\n?`)
	anyTag    = regexp.MustCompile(`<[^>]*>`)
)

// logText turns the stored HTML execution log back into plain lines.
func logText(page string) string {
	text := lineBreak.ReplaceAllString(page, "\n")
	text = anyTag.ReplaceAllString(text, "")
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, html.UnescapeString(line))
	}
	return strings.Join(lines, "\n")
}

var logsCmd = &cobra.Command{
	Use:   "logs [job_id]",
	Short: "Print the execution log of a job",
	Long: `Print the execution log of a job. The log is posted when the analysis
finishes, so a SUBMITTED job has none yet; with --follow the command waits
until the job completes.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := newClient()

		for {
			job, err := client.GetJob(args[0])
			if err != nil {
				printError(cmd, err)
				return
			}

			if job.Log != nil {
				page, err := client.Fetch(job.Log.URL)
				if err != nil {
					printError(cmd, err)
					return
				}
				cmd.Println(logText(string(page)))
				return
			}

			if !follow {
				cmd.Printf("Job %s is %s, no log yet.\n", job.ID, job.Status)
				return
			}

			select {
			case <-cmd.Context().Done():
				return
			case <-time.After(pollInterval):
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(logsCmd)
	logsCmd.Flags().BoolVarP(&follow, "follow", "f", false, "Wait for the job to complete")
}
