package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"golang-payment-matcher/cmd/matcher/config"
	"golang-payment-matcher/internal/reconciler"
	"golang-payment-matcher/pkg/errors"
)

// configCmd prints the effective configuration
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective matching configuration as YAML",
	Long: `Config resolves the preset, the config file, MATCHER_ environment variables
and the tuning flags exactly like the match command and prints the result.
The output can be saved and passed back with --config.

Examples:
  matcher config
  matcher config --preset relaxed --max-group-len 5 > matcher.yaml
  MATCHER_MATCHING_MAX_GROUP_LEN=3 matcher config`,

	PreRunE: func(cmd *cobra.Command, args []string) error {
		return bindFlags(cmd, tunableKeys)
	},
	RunE: runConfig,
}

func init() {
	rootCmd.AddCommand(configCmd)
	addTunableFlags(configCmd)
}

// effectiveConfig is the document written by the config command
type effectiveConfig struct {
	Preset string            `yaml:"preset"`
	Config reconciler.Config `yaml:",inline"`
	Stages []string          `yaml:"enabled_stages"`
}

func runConfig(cmd *cobra.Command, args []string) error {
	reconcilerConfig, err := config.CreateReconcilerConfig(viper.GetViper())
	if err != nil {
		return err
	}

	preset := viper.GetString(config.KeyPreset)
	if preset == "" {
		preset = config.PresetDefault
	}

	encoder := yaml.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent(2)
	doc := effectiveConfig{
		Preset: preset,
		Config: *reconcilerConfig,
		Stages: reconcilerConfig.EnabledStages(),
	}
	if err := encoder.Encode(doc); err != nil {
		return errors.InternalError(errors.CodeUnexpectedError, "config output", err)
	}
	return encoder.Close()
}
