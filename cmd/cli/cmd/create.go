package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// measurementDefinition is the YAML file read by "create measurement".
// File paths are relative to the definition file.
type measurementDefinition struct {
	Label     string                 `yaml:"label"`
	StartDate string                 `yaml:"start_date"`
	EndDate   string                 `yaml:"end_date"`
	MetaData  map[string]interface{} `yaml:"meta_data"`
	Files     map[string]string      `yaml:"files"`
}

type templateItem struct {
	Label string `yaml:"label" json:"label"`
	Type  string `yaml:"type" json:"type"`
}

// analysisDefinition is the YAML file read by "create analysis".
type analysisDefinition struct {
	Label    string                 `yaml:"label"`
	Bundle   string                 `yaml:"bundle"`
	Inputs   []templateItem         `yaml:"inputs"`
	Outputs  []templateItem         `yaml:"outputs"`
	MetaData map[string]interface{} `yaml:"meta_data"`
}

func readDefinition(path string, out interface{}) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return "", fmt.Errorf("invalid definition %s: %w", path, err)
	}
	return filepath.Dir(path), nil
}

func resolvePath(dir, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}

func addMetaData(form *Form, meta map[string]interface{}) error {
	if meta == nil {
		return nil
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("invalid meta_data: %w", err)
	}
	form.Add("meta_data", string(data))
	return nil
}

// measurementForm builds the POST /measurements body. Every file is sent
// under its label as the form field.
func measurementForm(path string) (*Form, error) {
	var def measurementDefinition
	dir, err := readDefinition(path, &def)
	if err != nil {
		return nil, err
	}
	if def.Label == "" {
		return nil, fmt.Errorf("label is required")
	}
	if len(def.Files) == 0 {
		return nil, fmt.Errorf("at least one file is required")
	}

	form := &Form{}
	form.Add("label", def.Label)
	form.Add("start_date", def.StartDate)
	form.Add("end_date", def.EndDate)
	if err := addMetaData(form, def.MetaData); err != nil {
		return nil, err
	}
	for label, file := range def.Files {
		form.AddFile(label, resolvePath(dir, file))
	}
	return form, nil
}

// analysisForm builds the POST /analyses body with one input or output
// field per template item and the bundle file.
func analysisForm(path string) (*Form, error) {
	var def analysisDefinition
	dir, err := readDefinition(path, &def)
	if err != nil {
		return nil, err
	}
	if def.Label == "" {
		return nil, fmt.Errorf("label is required")
	}
	if def.Bundle == "" {
		return nil, fmt.Errorf("bundle is required")
	}

	form := &Form{}
	form.Add("label", def.Label)
	for _, item := range def.Inputs {
		data, _ := json.Marshal(item)
		form.Add("input", string(data))
	}
	for _, item := range def.Outputs {
		data, _ := json.Marshal(item)
		form.Add("output", string(data))
	}
	if err := addMetaData(form, def.MetaData); err != nil {
		return nil, err
	}
	form.AddFile("bundle", resolvePath(dir, def.Bundle))
	return form, nil
}

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Register a measurement or an analysis",
}

var createMeasurementCmd = &cobra.Command{
	Use:   "measurement",
	Short: "Register a measurement from a YAML definition",
	Long: `Register a measurement with its data files.

Example definition:
  label: run-42
  start_date: "2024-03-01 08:00"
  end_date: "2024-03-01 17:30"
  meta_data:
    operator: Alice
  files:
    raw: ./raw.csv
    calibration: ./calib.csv

Example:
  awctl create measurement -f measurement.yaml`,
	Run: func(cmd *cobra.Command, args []string) {
		file, _ := cmd.Flags().GetString("file")
		if file == "" {
			cmd.Println("Error: --file is required")
			return
		}

		form, err := measurementForm(file)
		if err != nil {
			printError(cmd, err)
			return
		}

		result, err := newClient().CreateMeasurement(form)
		if err != nil {
			printError(cmd, err)
			return
		}

		labels := make([]string, 0, len(form.Files))
		for label := range form.Files {
			labels = append(labels, label)
		}
		sort.Strings(labels)
		cmd.Printf("✓ Measurement created!\nID: %s\nFiles: %v\n", result.ID, labels)
	},
}

var createAnalysisCmd = &cobra.Command{
	Use:   "analysis",
	Short: "Register an analysis from a YAML definition",
	Long: `Register an analysis with its bundle and input/output templates.

Example definition:
  label: peak-finder
  bundle: ./peaks.syx
  inputs:
    - {label: threshold, type: value}
    - {label: data, type: measurement}
  outputs:
    - {label: peaks, type: table}
    - {label: plot, type: figure}

Example:
  awctl create analysis -f analysis.yaml`,
	Run: func(cmd *cobra.Command, args []string) {
		file, _ := cmd.Flags().GetString("file")
		if file == "" {
			cmd.Println("Error: --file is required")
			return
		}

		form, err := analysisForm(file)
		if err != nil {
			printError(cmd, err)
			return
		}

		result, err := newClient().CreateAnalysis(form)
		if err != nil {
			printError(cmd, err)
			return
		}

		cmd.Printf("✓ Analysis created!\nID: %s\n", result.ID)
	},
}

func init() {
	createMeasurementCmd.Flags().StringP("file", "f", "", "Measurement definition file (required)")
	createAnalysisCmd.Flags().StringP("file", "f", "", "Analysis definition file (required)")

	createCmd.AddCommand(createMeasurementCmd)
	createCmd.AddCommand(createAnalysisCmd)
	rootCmd.AddCommand(createCmd)
}
