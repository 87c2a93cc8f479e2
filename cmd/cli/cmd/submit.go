package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// jobForm builds the POST /jobs body. Files are given as KEY=PATH and
// referenced from an input as $file:KEY.
func jobForm(label, analysis, measurement string, inputs, files []string) (*Form, error) {
	if label == "" {
		return nil, fmt.Errorf("--label is required")
	}
	if analysis == "" {
		return nil, fmt.Errorf("--analysis is required")
	}

	form := &Form{}
	form.Add("label", label)
	form.Add("analysis", analysis)
	if measurement != "" {
		form.Add("measurement", measurement)
	}
	for _, in := range inputs {
		form.Add("input", in)
	}
	for _, f := range files {
		key, path, ok := strings.Cut(f, "=")
		if !ok || key == "" || path == "" {
			return nil, fmt.Errorf("invalid --file %q, expected KEY=PATH", f)
		}
		form.AddFile(key, path)
	}
	return form, nil
}

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a job that runs an analysis",
	Long: `Submit a job. The job is stored with its resolved inputs and the analysis
is dispatched immediately; use 'status' or 'logs' to follow it.

Inputs are given in the order of the analysis inputs:
  a literal value        --input 0.5
  a measurement file     --input '$measurement'
  an uploaded file       --input '$file:calib' --file calib=./calib.csv

Example:
  awctl submit --label run1 --analysis <id> --measurement <id> --input 0.5 --input '$measurement'`,
	Run: func(cmd *cobra.Command, args []string) {
		flags := cmd.Flags()
		label, _ := flags.GetString("label")
		analysis, _ := flags.GetString("analysis")
		measurement, _ := flags.GetString("measurement")
		inputs, _ := flags.GetStringArray("input")
		files, _ := flags.GetStringArray("file")

		form, err := jobForm(label, analysis, measurement, inputs, files)
		if err != nil {
			printError(cmd, err)
			return
		}

		result, err := newClient().SubmitJob(form)
		if err != nil {
			printError(cmd, err)
			return
		}

		cmd.Printf("✓ Job submitted!\nJob ID: %s\n", result.ID)
	},
}

func init() {
	flags := submitCmd.Flags()
	flags.StringP("label", "l", "", "Label of the job (required)")
	flags.StringP("analysis", "a", "", "Analysis id (required)")
	flags.StringP("measurement", "m", "", "Measurement id")
	flags.StringArrayP("input", "i", nil, "Input value, repeat in the order of the analysis inputs")
	flags.StringArray("file", nil, "File to upload as KEY=PATH")

	rootCmd.AddCommand(submitCmd)
}
