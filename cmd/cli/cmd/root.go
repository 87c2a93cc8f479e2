package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "awctl",
	Short: "awctl is a command line tool for the analysisweb API",
	Long: `awctl is the command-line interface for analysisweb.

analysisweb stores measurements and analyses, and runs jobs that apply an
analysis to a set of inputs. Each job runs the analysis executable
asynchronously; the executable posts its outputs and reports back, and the
execution log completes the job.

Common workflows:

  Register a measurement or an analysis from a YAML definition:
    awctl create measurement -f measurement.yaml
    awctl create analysis -f analysis.yaml

  Submit a job:
    awctl submit --label run1 --analysis <id> --measurement <id> \
      --input 0.5 --input '$measurement' --input '$file:calib' --file calib=./calib.csv

  Check a job and read its log:
    awctl status <job-id>
    awctl logs <job-id> --follow

Configuration:
  Set the API endpoint and credentials via environment variables or a config file:
    ANALYSISWEB_URL      API endpoint (default: http://localhost:6161)
    ANALYSISWEB_TOKEN    Internal secret, needed for the dlq commands`,
}

func Execute() error {
	return rootCmd.Execute()
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}

		// Search config in home directory with name ".awctl"
		viper.AddConfigPath(home)
		viper.SetConfigName(".awctl")
		viper.SetConfigType("yaml")
	}

	// Read environment variables that match "ANALYSISWEB_VARNAME"
	viper.SetEnvPrefix("ANALYSISWEB")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.awctl.yaml)")

	rootCmd.PersistentFlags().String("url", "http://localhost:6161", "analysisweb controller URL")
	viper.BindPFlag("url", rootCmd.PersistentFlags().Lookup("url"))

	rootCmd.PersistentFlags().StringP("token", "t", "", "Internal secret for dispatch administration")
	viper.BindPFlag("token", rootCmd.PersistentFlags().Lookup("token"))
}

func newClient() *Client {
	return NewClient(viper.GetString("url"), viper.GetString("token"))
}

// printError reports err on the command output, with the status of API errors.
func printError(cmd *cobra.Command, err error) {
	if apiErr, ok := err.(*APIError); ok {
		cmd.Printf("Error (%d): %s\n", apiErr.StatusCode, apiErr.Message)
		return
	}
	cmd.Printf("Error: %v\n", err)
}
