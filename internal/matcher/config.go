// Package matcher generates and scores match candidates between invoice groups
// and movement groups.
//
// The package covers three concerns:
//   - MatchingConfig: every tunable of the engine, with presets and validation
//   - Indexer: partition, amount-bin and sorted-neighbourhood blocking, so a
//     full cross product of groups is never materialised
//   - Scorer: the hard amount and date gates plus the gaussian amount
//     similarity, the date score and the group size penalty
//
// Example usage:
//
//	config := matcher.DefaultMatchingConfig()
//	config.MaxRelAmountDiff = 0.02
//
//	indexer := matcher.NewIndexer(config)
//	scorer := matcher.NewScorer(config)
//
//	pairs, _ := indexer.Index(invoiceGroups, movementGroups)
//	candidates, err := scorer.ScoreAll(pairs, true)
package matcher

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"golang-payment-matcher/pkg/errors"
)

// Combination selects how the partial scores are folded into the final score
type Combination string

const (
	// CombineProduct multiplies the weighted partial scores
	CombineProduct Combination = "product"
	// CombineWeightedSum takes the weight-normalised sum of the partial scores
	CombineWeightedSum Combination = "weighted_sum"
)

// IsValid checks if the combination is known
func (c Combination) IsValid() bool {
	return c == CombineProduct || c == CombineWeightedSum
}

// ScoringWeights are the swappable weights of the three partial scores
type ScoringWeights struct {
	Similarity float64 `json:"similarity" yaml:"similarity"`
	Date       float64 `json:"date" yaml:"date"`
	Size       float64 `json:"size" yaml:"size"`
}

// Validate checks if the weights are usable with the given combination
func (w ScoringWeights) Validate(combination Combination) error {
	for name, v := range map[string]float64{"similarity": w.Similarity, "date": w.Date, "size": w.Size} {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return errors.ConfigurationError(errors.CodeInvalidConfig, "weights."+name, v, nil).
				WithSuggestion("weights must be finite and non-negative")
		}
		if combination == CombineProduct && v == 0 {
			return errors.ConfigurationError(errors.CodeConfigConflict, "weights."+name, v, nil).
				WithSuggestion("a zero weight zeroes every product score; use weighted_sum to ignore a term")
		}
	}
	if w.Similarity+w.Date+w.Size == 0 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "weights", "all zero", nil)
	}
	return nil
}

// MatchingConfig holds every tunable of candidate generation, scoring and assignment.
//
// Use the provided factory functions for common scenarios:
//   - DefaultMatchingConfig(): the reference tuning
//   - StrictMatchingConfig(): tight amount and date windows, small groups
//   - RelaxedMatchingConfig(): wide windows for exploratory runs
type MatchingConfig struct {
	// MaxGroupLen is the sliding window length used to enumerate groups, and the
	// largest group size
	MaxGroupLen int `json:"max_group_len" yaml:"max_group_len"`

	// MaxGroupDateDiff is the largest allowed span in days between the members of a group
	MaxGroupDateDiff int `json:"max_group_date_diff" yaml:"max_group_date_diff"`

	// MaxMovDaysBeforeInv is how many days a movement may precede the first invoice
	MaxMovDaysBeforeInv int `json:"max_mov_days_before_inv" yaml:"max_mov_days_before_inv"`

	// MaxMovDaysAfterInv is how many days the last movement may follow the first invoice
	MaxMovDaysAfterInv int `json:"max_mov_days_after_inv" yaml:"max_mov_days_after_inv"`

	// MaxRelAmountDiff is the hard gate on |inv-mov|/inv
	MaxRelAmountDiff float64 `json:"max_rel_amount_diff" yaml:"max_rel_amount_diff"`

	// GaussianSimilarityScale is the scale of exp(-(d/scale)^2)
	GaussianSimilarityScale float64 `json:"gaussian_similarity_scale" yaml:"gaussian_similarity_scale"`

	// MinSimilarity is the amount similarity floor of the similar-amount stage
	MinSimilarity float64 `json:"min_similarity" yaml:"min_similarity"`

	// AmountBin is the width of the amount buckets used for blocking
	AmountBin decimal.Decimal `json:"amount_bin" yaml:"amount_bin"`

	// WindowSize is the sorted-neighbourhood window over amount-sorted groups
	WindowSize int `json:"window_size" yaml:"window_size"`

	// DateDecayDays is the date difference at which the date score reaches zero
	DateDecayDays int `json:"date_decay_days" yaml:"date_decay_days"`

	// ClampDateScore keeps the date score within [0, 1]
	ClampDateScore bool `json:"clamp_date_score" yaml:"clamp_date_score"`

	// Combination folds the partial scores into the final score
	Combination Combination `json:"combination" yaml:"combination"`

	// Weights of the partial scores
	Weights ScoringWeights `json:"weights" yaml:"weights"`

	// MaxGreedyIterations bounds the mutual-best rounds of the greedy solver
	MaxGreedyIterations int `json:"max_greedy_iterations" yaml:"max_greedy_iterations"`

	// SolverTimeLimit is the wall-clock ceiling of one exact solve
	SolverTimeLimit time.Duration `json:"solver_time_limit" yaml:"solver_time_limit"`

	// SolverRelativeGap lets the exact solver stop once within this gap of its bound
	SolverRelativeGap float64 `json:"solver_relative_gap" yaml:"solver_relative_gap"`

	// MaxSubsetsPerWindow caps the 2^L-L-1 subsets enumerated per window
	MaxSubsetsPerWindow int `json:"max_subsets_per_window" yaml:"max_subsets_per_window"`
}

// DefaultMatchingConfig returns the reference configuration
func DefaultMatchingConfig() *MatchingConfig {
	return &MatchingConfig{
		MaxGroupLen:             4,
		MaxGroupDateDiff:        90,
		MaxMovDaysBeforeInv:     14,
		MaxMovDaysAfterInv:      90,
		MaxRelAmountDiff:        0.05,
		GaussianSimilarityScale: 0.05,
		MinSimilarity:           0.2,
		AmountBin:               decimal.NewFromInt(1000),
		WindowSize:              10,
		DateDecayDays:           180,
		ClampDateScore:          true,
		Combination:             CombineProduct,
		Weights:                 ScoringWeights{Similarity: 1, Date: 1, Size: 1},
		MaxGreedyIterations:     100,
		SolverTimeLimit:         90 * time.Second,
		SolverRelativeGap:       0.01,
		MaxSubsetsPerWindow:     1 << 16,
	}
}

// StrictMatchingConfig returns a configuration for strict matching
func StrictMatchingConfig() *MatchingConfig {
	config := DefaultMatchingConfig()
	config.MaxGroupLen = 3
	config.MaxGroupDateDiff = 30
	config.MaxMovDaysBeforeInv = 3
	config.MaxMovDaysAfterInv = 45
	config.MaxRelAmountDiff = 0.01
	config.GaussianSimilarityScale = 0.01
	config.MinSimilarity = 0.5
	config.SolverRelativeGap = 0
	return config
}

// RelaxedMatchingConfig returns a configuration for relaxed matching
func RelaxedMatchingConfig() *MatchingConfig {
	config := DefaultMatchingConfig()
	config.MaxGroupLen = 5
	config.MaxGroupDateDiff = 120
	config.MaxMovDaysBeforeInv = 30
	config.MaxMovDaysAfterInv = 180
	config.MaxRelAmountDiff = 0.1
	config.GaussianSimilarityScale = 0.1
	config.WindowSize = 20
	config.DateDecayDays = 365
	config.SolverRelativeGap = 0.05
	return config
}

// SubsetsPerWindow returns the number of groups of size >= 2 a full window enumerates
func SubsetsPerWindow(maxGroupLen int) float64 {
	l := float64(maxGroupLen)
	return math.Pow(2, l) - l - 1
}

// Validate checks if the matching configuration is feasible. It is called before
// any stage runs.
func (mc *MatchingConfig) Validate() error {
	if mc.MaxGroupLen < 1 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "max_group_len", mc.MaxGroupLen, nil).
			WithSuggestion("max_group_len must be at least 1")
	}
	if mc.MaxSubsetsPerWindow < 1 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "max_subsets_per_window", mc.MaxSubsetsPerWindow, nil)
	}
	if SubsetsPerWindow(mc.MaxGroupLen) > float64(mc.MaxSubsetsPerWindow) {
		return errors.ConfigurationError(errors.CodeCombinatorialLimit, "max_group_len", mc.MaxGroupLen, nil).
			WithContext("subsets_per_window", SubsetsPerWindow(mc.MaxGroupLen))
	}

	windows := []struct {
		name string
		days int
	}{
		{"max_group_date_diff", mc.MaxGroupDateDiff},
		{"max_mov_days_before_inv", mc.MaxMovDaysBeforeInv},
		{"max_mov_days_after_inv", mc.MaxMovDaysAfterInv},
	}
	for _, w := range windows {
		if w.days < 0 {
			return errors.ConfigurationError(errors.CodeInvalidConfig, w.name, w.days, nil).
				WithSuggestion("day windows cannot be negative")
		}
	}

	if mc.MaxRelAmountDiff < 0 || math.IsNaN(mc.MaxRelAmountDiff) {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "max_rel_amount_diff", mc.MaxRelAmountDiff, nil)
	}
	if mc.GaussianSimilarityScale <= 0 || math.IsNaN(mc.GaussianSimilarityScale) {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "gaussian_similarity_scale", mc.GaussianSimilarityScale, nil).
			WithSuggestion("the similarity scale must be strictly positive")
	}
	if mc.MinSimilarity < 0 || mc.MinSimilarity > 1 {
		return errors.ConfigurationError(errors.CodeOutOfRange, "min_similarity", mc.MinSimilarity, nil)
	}
	if !mc.AmountBin.IsPositive() {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "amount_bin", mc.AmountBin.String(), nil).
			WithSuggestion("amount_bin must be a positive amount")
	}
	if mc.WindowSize < 2 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "window_size", mc.WindowSize, nil).
			WithSuggestion("window_size must cover at least two groups")
	}
	if mc.DateDecayDays <= 0 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "date_decay_days", mc.DateDecayDays, nil)
	}
	if !mc.Combination.IsValid() {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "combination", mc.Combination, nil).
			WithSuggestion("use 'product' or 'weighted_sum'")
	}
	if err := mc.Weights.Validate(mc.Combination); err != nil {
		return err
	}
	if mc.MaxGreedyIterations < 1 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "max_greedy_iterations", mc.MaxGreedyIterations, nil)
	}
	if mc.SolverTimeLimit <= 0 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "solver_time_limit", mc.SolverTimeLimit, nil)
	}
	if mc.SolverRelativeGap < 0 || mc.SolverRelativeGap >= 1 {
		return errors.ConfigurationError(errors.CodeOutOfRange, "solver_relative_gap", mc.SolverRelativeGap, nil).
			WithSuggestion("the relative gap must be in [0, 1)")
	}

	return nil
}

// Clone creates a copy of the matching configuration
func (mc *MatchingConfig) Clone() *MatchingConfig {
	if mc == nil {
		return nil
	}
	clone := *mc
	return &clone
}

// String returns a human-readable description of the configuration
func (mc *MatchingConfig) String() string {
	return fmt.Sprintf("MatchingConfig{GroupLen: %d, GroupSpan: %dd, Window: -%dd/+%dd, MaxRelDiff: %.4f, Scale: %.4f, Bin: %s, Combination: %s}",
		mc.MaxGroupLen, mc.MaxGroupDateDiff, mc.MaxMovDaysBeforeInv, mc.MaxMovDaysAfterInv,
		mc.MaxRelAmountDiff, mc.GaussianSimilarityScale, mc.AmountBin.String(), mc.Combination)
}
