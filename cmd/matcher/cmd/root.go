package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"golang-payment-matcher/cmd/matcher/config"
	"golang-payment-matcher/pkg/errors"
	"golang-payment-matcher/pkg/logger"
)

var (
	cfgFile   string
	verbose   bool
	logFormat string
	version   = "dev"
	commit    = "unknown"
	date      = "unknown"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "matcher",
	Short: "Invoice and bank movement matching tool",
	Long: `Matcher pairs issued invoices with the bank movements that pay them.

Invoices and movements are grouped per owner and counterparty, candidate
pairs of invoice groups and movement groups are scored on amount, date and
group size, and an assignment solver accepts matches so that every invoice
and movement is used at most once. Stages run in order: exact amounts,
similar amounts, grouped amounts and optionally description groups.

Examples:
  matcher match --invoices invoices.csv --movements movements.csv
  matcher match --invoices inv.csv --movements mov.csv --output-format csv --output-file matches.csv
  matcher evaluate --result matches.csv --reference reference.csv
  matcher config --preset strict
  matcher version`,
	Version:           getVersionString(),
	SilenceErrors:     true,
	SilenceUsage:      true,
	PersistentPreRunE: setupLogging,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (optional, yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format: text, json")

	// Bind flags to viper
	viper.BindPFlag(config.KeyVerbose, rootCmd.PersistentFlags().Lookup("verbose"))
	viper.BindPFlag(config.KeyLogFormat, rootCmd.PersistentFlags().Lookup("log-format"))
}

// initConfig reads in config file and ENV variables.
func initConfig() {
	config.Configure(viper.GetViper())

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)

		if err := viper.ReadInConfig(); err != nil {
			fmt.Fprintf(os.Stderr, "Error reading config file: %s\n", err)
			os.Exit(errors.ConfigurationError(errors.CodeInvalidConfig, "config", cfgFile, err).GetExitCode())
		}

		if viper.GetBool(config.KeyVerbose) {
			fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
		}
	}
}

// setupLogging installs the global logger before any command runs
func setupLogging(cmd *cobra.Command, args []string) error {
	loggerConfig, err := config.CreateLoggerConfig(viper.GetViper())
	if err != nil {
		return err
	}
	log, err := logger.NewLogger(loggerConfig)
	if err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "logger", nil, err)
	}
	logger.SetGlobalLogger(log)
	return nil
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = getVersionString()
}

func getVersionString() string {
	if version == "dev" {
		return fmt.Sprintf("%s (commit %s, built %s)", version, commit, date)
	}
	return version
}

// progressWriter is where progress lines go; tests replace it
var progressWriter io.Writer = os.Stderr
