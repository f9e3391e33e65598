package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"golang-payment-matcher/cmd/matcher/config"
	"golang-payment-matcher/internal/reconciler"
	"golang-payment-matcher/pkg/errors"
)

// tunableKeys maps the tuning flags shared by match and config to viper keys
var tunableKeys = map[string]string{
	"preset":                     config.KeyPreset,
	"max-group-len":              config.KeyMaxGroupLen,
	"max-group-date-diff":        config.KeyMaxGroupDateDiff,
	"max-days-before":            config.KeyMaxMovDaysBeforeInv,
	"max-days-after":             config.KeyMaxMovDaysAfterInv,
	"max-rel-amount-diff":        config.KeyMaxRelAmountDiff,
	"similarity-scale":           config.KeySimilarityScale,
	"min-similarity":             config.KeyMinSimilarity,
	"amount-bin":                 config.KeyAmountBin,
	"window-size":                config.KeyWindowSize,
	"date-decay-days":            config.KeyDateDecayDays,
	"combination":                config.KeyCombination,
	"solver-time-limit":          config.KeySolverTimeLimit,
	"solver-gap":                 config.KeySolverRelativeGap,
	"exact-strategy":             config.KeyExactStageStrategy,
	"max-concurrency":            config.KeyMaxConcurrency,
	"description-stage":          config.KeyDescriptionStage,
	"description-similarity":     config.KeyDescriptionSimilarity,
	"description-max-days-apart": config.KeyDescriptionMaxDaysApart,
	"stages":                     config.KeyStages,
	"delimiter":                  config.KeyDelimiter,
	"max-errors":                 config.KeyMaxErrors,
}

// addTunableFlags registers the tuning flags. Defaults are shown for help
// only; a flag overrides the preset only when it is given.
func addTunableFlags(cmd *cobra.Command) {
	defaults := reconciler.DefaultConfig()
	m := defaults.Matching

	flags := cmd.Flags()
	flags.String("preset", config.PresetDefault, "matching preset: default, strict, relaxed")
	flags.Int("max-group-len", m.MaxGroupLen, "largest number of records in a group")
	flags.Int("max-group-date-diff", m.MaxGroupDateDiff, "largest date span of a group in days")
	flags.Int("max-days-before", m.MaxMovDaysBeforeInv, "days a movement may precede the invoice")
	flags.Int("max-days-after", m.MaxMovDaysAfterInv, "days a movement may follow the invoice")
	flags.Float64("max-rel-amount-diff", m.MaxRelAmountDiff, "largest relative amount difference")
	flags.Float64("similarity-scale", m.GaussianSimilarityScale, "scale of the gaussian amount similarity")
	flags.Float64("min-similarity", m.MinSimilarity, "amount similarity floor of the similar stage")
	flags.String("amount-bin", m.AmountBin.String(), "width of the amount buckets used for blocking")
	flags.Int("window-size", m.WindowSize, "sorted neighbourhood window over amount sorted groups")
	flags.Int("date-decay-days", m.DateDecayDays, "date difference at which the date score reaches zero")
	flags.String("combination", string(m.Combination), "score combination: product, weighted_sum")
	flags.Duration("solver-time-limit", m.SolverTimeLimit, "time limit of one exact solve")
	flags.Float64("solver-gap", m.SolverRelativeGap, "relative optimality gap of the exact solver")
	flags.String("exact-strategy", string(defaults.ExactStageStrategy), "solver of the exact stage: greedy, exact")
	flags.Int("max-concurrency", defaults.MaxConcurrency, "partitions solved concurrently")
	flags.Bool("description-stage", defaults.EnableDescriptionStage, "run the description grouping stage")
	flags.Float64("description-similarity", defaults.DescriptionSimilarity, "description similarity threshold (0-1]")
	flags.Int("description-max-days-apart", defaults.DescriptionMaxDaysApart, "days between movements of a description group")
	flags.StringSlice("stages", nil, "stages to run: exact, similar, grouped, description (default: all but description)")
	flags.String("delimiter", ",", "CSV field delimiter of the input files")
	flags.Int("max-errors", 100, "invalid rows skipped before a file is rejected (0: unlimited)")
}

// bindFlags binds the flags of the running command to their viper keys.
// match and config share flag names, so it is called from PreRunE.
func bindFlags(cmd *cobra.Command, keys map[string]string) error {
	for name, key := range keys {
		flag := cmd.Flags().Lookup(name)
		if flag == nil {
			continue
		}
		if err := viper.BindPFlag(key, flag); err != nil {
			return errors.InternalError(errors.CodeUnexpectedError, "bind flag "+name, err)
		}
	}
	return nil
}

// validateFileExists checks that an input file exists and is readable
func validateFileExists(filePath, description string) error {
	if filePath == "" {
		return errors.ConfigurationError(errors.CodeMissingConfig, description, "", nil).
			WithSuggestion("provide the path of the " + description)
	}

	info, err := os.Stat(filePath)
	if os.IsNotExist(err) {
		return errors.FileError(errors.CodeFileNotFound, filePath, err).
			WithContext("file", description)
	}
	if err != nil {
		return errors.FileError(errors.CodeFilePermission, filePath, err)
	}
	if info.IsDir() {
		return errors.FileError(errors.CodeDirectoryError, filePath, nil).
			WithContext("file", description).
			WithSuggestion("expected a file, got a directory")
	}

	file, err := os.Open(filePath)
	if err != nil {
		return errors.FileError(errors.CodeFilePermission, filePath, err)
	}
	file.Close()
	return nil
}

// validateOutputPath checks that the directory of an output file exists
func validateOutputPath(outputPath string) error {
	if outputPath == "" {
		return nil
	}
	dir := filepath.Dir(outputPath)
	if dir == "." {
		return nil
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return errors.FileError(errors.CodeDirectoryError, dir, err).
			WithSuggestion("create the output directory first")
	}
	return nil
}

// validateTunables builds the reconciler configuration once so bad tuning is
// reported before any file is read
func validateTunables() error {
	_, err := config.CreateReconcilerConfig(viper.GetViper())
	return err
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// presetDescription lists the presets for help texts
func presetDescription() string {
	var b strings.Builder
	for _, name := range config.Presets() {
		m, _ := config.MatchingPreset(name)
		fmt.Fprintf(&b, "  %-8s %s\n", name, m)
	}
	return b.String()
}
