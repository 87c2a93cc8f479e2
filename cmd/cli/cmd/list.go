package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

const dateLayout = "2006-01-02 15:04"

var listCmd = &cobra.Command{
	Use:       "list [measurements|analyses|jobs]",
	Short:     "List measurements, analyses or jobs",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"measurements", "analyses", "jobs"},
	Run: func(cmd *cobra.Command, args []string) {
		client := newClient()
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
		defer w.Flush()

		switch args[0] {
		case "measurements":
			list, err := client.ListMeasurements()
			if err != nil {
				printError(cmd, err)
				return
			}
			fmt.Fprintln(w, "ID\tLABEL\tSTART\tEND\tFILES\tJOBS")
			for _, m := range list {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\n",
					m.ID, m.Label, m.StartDate.Format(dateLayout), m.EndDate.Format(dateLayout), len(m.Files), len(m.Jobs))
			}
		case "analyses":
			list, err := client.ListAnalyses()
			if err != nil {
				printError(cmd, err)
				return
			}
			fmt.Fprintln(w, "ID\tLABEL\tBUNDLE\tINPUTS\tOUTPUTS\tJOBS")
			for _, a := range list {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\n",
					a.ID, a.Label, a.Bundle.Label, len(a.Input), len(a.Output), len(a.Jobs))
			}
		case "jobs":
			list, err := client.ListJobs()
			if err != nil {
				printError(cmd, err)
				return
			}
			fmt.Fprintln(w, "ID\tLABEL\tSTATUS\tANALYSIS\tSUBMITTED")
			for _, j := range list {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					j.ID, j.Label, j.Status, j.Analysis, j.Date.Local().Format(time.RFC3339))
			}
		}
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete [measurement|analysis|job] [id]",
	Short: "Delete a measurement, an analysis or a job",
	Long: `Delete an entity and its stored files.

A measurement or an analysis that is still referenced by a job cannot be
deleted; delete its jobs first.`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		collections := map[string]string{
			"measurement": "measurements",
			"analysis":    "analyses",
			"job":         "jobs",
		}
		collection, ok := collections[args[0]]
		if !ok {
			cmd.Printf("Error: unknown kind %q, expected measurement, analysis or job\n", args[0])
			return
		}

		if err := newClient().Delete(collection, args[1]); err != nil {
			printError(cmd, err)
			return
		}
		cmd.Printf("✓ Deleted %s %s\n", args[0], args[1])
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(deleteCmd)
}
