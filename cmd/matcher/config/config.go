package config

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"golang-payment-matcher/internal/matcher"
	"golang-payment-matcher/internal/parsers"
	"golang-payment-matcher/internal/reconciler"
	"golang-payment-matcher/internal/reporter"
	"golang-payment-matcher/internal/solver"
	"golang-payment-matcher/pkg/errors"
	"golang-payment-matcher/pkg/logger"
)

// EnvPrefix is the prefix of environment variables read by the CLI
const EnvPrefix = "MATCHER"

// Viper keys. Nested keys mirror the yaml layout of reconciler.Config so a
// config file can be written as the output of `matcher config`.
const (
	KeyPreset = "preset"

	KeyMaxGroupLen         = "matching.max_group_len"
	KeyMaxGroupDateDiff    = "matching.max_group_date_diff"
	KeyMaxMovDaysBeforeInv = "matching.max_mov_days_before_inv"
	KeyMaxMovDaysAfterInv  = "matching.max_mov_days_after_inv"
	KeyMaxRelAmountDiff    = "matching.max_rel_amount_diff"
	KeySimilarityScale     = "matching.gaussian_similarity_scale"
	KeyMinSimilarity       = "matching.min_similarity"
	KeyAmountBin           = "matching.amount_bin"
	KeyWindowSize          = "matching.window_size"
	KeyDateDecayDays       = "matching.date_decay_days"
	KeyClampDateScore      = "matching.clamp_date_score"
	KeyCombination         = "matching.combination"
	KeyWeightSimilarity    = "matching.weights.similarity"
	KeyWeightDate          = "matching.weights.date"
	KeyWeightSize          = "matching.weights.size"
	KeyMaxGreedyIterations = "matching.max_greedy_iterations"
	KeySolverTimeLimit     = "matching.solver_time_limit"
	KeySolverRelativeGap   = "matching.solver_relative_gap"
	KeyMaxSubsetsPerWindow = "matching.max_subsets_per_window"

	KeyMaxConcurrency          = "max_concurrency"
	KeyExactStageStrategy      = "exact_stage_strategy"
	KeyDescriptionStage        = "enable_description_stage"
	KeyDescriptionSimilarity   = "description_similarity"
	KeyDescriptionMaxDaysApart = "description_max_days_apart"
	KeyStages                  = "stages"

	KeyDelimiter = "input.delimiter"
	KeyMaxErrors = "input.max_errors"

	KeyVerbose   = "verbose"
	KeyLogFormat = "log_format"
)

// Preset names accepted by --preset
const (
	PresetDefault = "default"
	PresetStrict  = "strict"
	PresetRelaxed = "relaxed"
)

// Presets lists the preset names in display order
func Presets() []string {
	return []string{PresetDefault, PresetStrict, PresetRelaxed}
}

// MatchingPreset returns the matching configuration of a named preset
func MatchingPreset(name string) (*matcher.MatchingConfig, error) {
	switch strings.ToLower(name) {
	case "", PresetDefault:
		return matcher.DefaultMatchingConfig(), nil
	case PresetStrict:
		return matcher.StrictMatchingConfig(), nil
	case PresetRelaxed:
		return matcher.RelaxedMatchingConfig(), nil
	default:
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, KeyPreset, name, nil).
			WithSuggestion(fmt.Sprintf("valid presets are %s", strings.Join(Presets(), ", ")))
	}
}

// NewViper creates a viper instance reading MATCHER_ environment variables.
// Nested keys map to variables with '.' replaced by '_', for example
// MATCHER_MATCHING_MAX_GROUP_LEN.
func NewViper() *viper.Viper {
	v := viper.New()
	Configure(v)
	return v
}

// Configure sets up environment variable lookup on v
func Configure(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
}

// CreateReconcilerConfig builds a validated reconciler configuration. The
// preset is the base; every key set in a flag, the environment or a config
// file overrides it.
func CreateReconcilerConfig(v *viper.Viper) (*reconciler.Config, error) {
	matching, err := MatchingPreset(v.GetString(KeyPreset))
	if err != nil {
		return nil, err
	}

	config := reconciler.DefaultConfig()
	config.Matching = matching

	overrideInt(v, KeyMaxGroupLen, &matching.MaxGroupLen)
	overrideInt(v, KeyMaxGroupDateDiff, &matching.MaxGroupDateDiff)
	overrideInt(v, KeyMaxMovDaysBeforeInv, &matching.MaxMovDaysBeforeInv)
	overrideInt(v, KeyMaxMovDaysAfterInv, &matching.MaxMovDaysAfterInv)
	overrideFloat(v, KeyMaxRelAmountDiff, &matching.MaxRelAmountDiff)
	overrideFloat(v, KeySimilarityScale, &matching.GaussianSimilarityScale)
	overrideFloat(v, KeyMinSimilarity, &matching.MinSimilarity)
	overrideInt(v, KeyWindowSize, &matching.WindowSize)
	overrideInt(v, KeyDateDecayDays, &matching.DateDecayDays)
	overrideBool(v, KeyClampDateScore, &matching.ClampDateScore)
	overrideFloat(v, KeyWeightSimilarity, &matching.Weights.Similarity)
	overrideFloat(v, KeyWeightDate, &matching.Weights.Date)
	overrideFloat(v, KeyWeightSize, &matching.Weights.Size)
	overrideInt(v, KeyMaxGreedyIterations, &matching.MaxGreedyIterations)
	overrideFloat(v, KeySolverRelativeGap, &matching.SolverRelativeGap)
	overrideInt(v, KeyMaxSubsetsPerWindow, &matching.MaxSubsetsPerWindow)
	if v.IsSet(KeyCombination) {
		matching.Combination = matcher.Combination(strings.ToLower(v.GetString(KeyCombination)))
	}
	if v.IsSet(KeySolverTimeLimit) {
		matching.SolverTimeLimit = v.GetDuration(KeySolverTimeLimit)
	}
	if v.IsSet(KeyAmountBin) {
		bin, err := decimal.NewFromString(strings.TrimSpace(v.GetString(KeyAmountBin)))
		if err != nil {
			return nil, errors.ConfigurationError(errors.CodeInvalidConfig, KeyAmountBin, v.GetString(KeyAmountBin), err).
				WithSuggestion("amount_bin must be a decimal number such as 1000")
		}
		matching.AmountBin = bin
	}

	overrideInt(v, KeyMaxConcurrency, &config.MaxConcurrency)
	overrideBool(v, KeyDescriptionStage, &config.EnableDescriptionStage)
	overrideFloat(v, KeyDescriptionSimilarity, &config.DescriptionSimilarity)
	overrideInt(v, KeyDescriptionMaxDaysApart, &config.DescriptionMaxDaysApart)
	if v.IsSet(KeyExactStageStrategy) {
		config.ExactStageStrategy = solver.Strategy(strings.ToLower(v.GetString(KeyExactStageStrategy)))
	}
	if v.IsSet(KeyStages) {
		config.Stages = normalizeStages(v.GetStringSlice(KeyStages))
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// normalizeStages accepts both repeated flags and comma separated values
func normalizeStages(values []string) []string {
	var stages []string
	for _, value := range values {
		for _, name := range strings.Split(value, ",") {
			if name = strings.ToLower(strings.TrimSpace(name)); name != "" {
				stages = append(stages, name)
			}
		}
	}
	return stages
}

func overrideInt(v *viper.Viper, key string, dst *int) {
	if v.IsSet(key) {
		*dst = v.GetInt(key)
	}
}

func overrideFloat(v *viper.Viper, key string, dst *float64) {
	if v.IsSet(key) {
		*dst = v.GetFloat64(key)
	}
}

func overrideBool(v *viper.Viper, key string, dst *bool) {
	if v.IsSet(key) {
		*dst = v.GetBool(key)
	}
}

// CreateParseConfig creates the CSV input configuration
func CreateParseConfig(v *viper.Viper) (*parsers.ParseConfig, error) {
	config := parsers.DefaultParseConfig()

	if v.IsSet(KeyDelimiter) {
		delimiter := v.GetString(KeyDelimiter)
		if delimiter == `\t` || delimiter == "tab" {
			delimiter = "\t"
		}
		r, size := utf8.DecodeRuneInString(delimiter)
		if size == 0 || size != len(delimiter) {
			return nil, errors.ConfigurationError(errors.CodeInvalidConfig, KeyDelimiter, delimiter, nil).
				WithSuggestion("the delimiter must be a single character")
		}
		config.Delimiter = r
	}
	overrideInt(v, KeyMaxErrors, &config.MaxErrors)

	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "input", nil, err)
	}
	return config, nil
}

// CreateReportConfig creates a report configuration for the specified output format
func CreateReportConfig(format string) (*reporter.ReportConfig, error) {
	config := reporter.DefaultReportConfig()
	config.Format = reporter.OutputFormat(strings.ToLower(format))

	switch config.Format {
	case reporter.FormatConsole:
		config.IncludeMatches = true
		config.IncludePendingInvoices = true
		config.IncludePendingMovements = true
	case reporter.FormatJSON:
		config.IncludeMatches = true
		config.IncludePendingInvoices = true
		config.IncludePendingMovements = true
		config.MaxListItems = 0
	case reporter.FormatCSV:
		config.CSVHeaders = true
		config.CSVDelimiter = ','
	default:
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "output-format", format, nil).
			WithSuggestion("valid formats are console, json, csv")
	}
	return config, nil
}

// CreateLoggerConfig creates the logger configuration of the CLI. Logs go to
// stderr so stdout only carries the report.
func CreateLoggerConfig(v *viper.Viper) (*logger.Config, error) {
	config := logger.DefaultConfig()
	config.Level = logger.WarnLevel
	if v.GetBool(KeyVerbose) {
		config = logger.DebugConfig()
		config.CallerInfo = false
	}
	if format := v.GetString(KeyLogFormat); format != "" {
		config.Format = logger.Format(strings.ToLower(format))
	}
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, KeyLogFormat, v.GetString(KeyLogFormat), err).
			WithSuggestion("use 'text' or 'json'")
	}
	return config, nil
}
