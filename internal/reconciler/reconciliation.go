package reconciler

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"golang-payment-matcher/internal/matcher"
	"golang-payment-matcher/internal/models"
	"golang-payment-matcher/internal/solver"
	"golang-payment-matcher/pkg/errors"
)

// Config holds configuration options for a reconciliation run
type Config struct {
	// Matching holds the grouping, indexing, scoring and solver tunables
	Matching *matcher.MatchingConfig `json:"matching" yaml:"matching"`

	// MaxConcurrency bounds how many partitions are solved at once
	MaxConcurrency int `json:"max_concurrency" yaml:"max_concurrency"`

	// ExactStageStrategy selects the solver of the exact amount stage
	ExactStageStrategy solver.Strategy `json:"exact_stage_strategy" yaml:"exact_stage_strategy"`

	// Description stage options
	EnableDescriptionStage  bool    `json:"enable_description_stage" yaml:"enable_description_stage"`
	DescriptionSimilarity   float64 `json:"description_similarity" yaml:"description_similarity"`
	DescriptionMaxDaysApart int     `json:"description_max_days_apart" yaml:"description_max_days_apart"`

	// Stages restricts the run to a subset of stages; empty runs the default sequence
	Stages []string `json:"stages,omitempty" yaml:"stages,omitempty"`
}

// DefaultConfig returns a default configuration for a reconciliation run
func DefaultConfig() *Config {
	return &Config{
		Matching:                matcher.DefaultMatchingConfig(),
		MaxConcurrency:          4,
		ExactStageStrategy:      solver.StrategyGreedy,
		EnableDescriptionStage:  false,
		DescriptionSimilarity:   0.9,
		DescriptionMaxDaysApart: 14,
	}
}

// stageOrder is the order stages always run in
var stageOrder = []string{StageExact, StageSimilar, StageGrouped, StageDescription}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Matching == nil {
		return errors.ConfigurationError(errors.CodeMissingConfig, "matching", nil, nil)
	}
	if err := c.Matching.Validate(); err != nil {
		return err
	}

	if c.MaxConcurrency <= 0 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "max_concurrency", c.MaxConcurrency, nil).
			WithSuggestion("max_concurrency must be at least 1")
	}
	if !c.ExactStageStrategy.IsValid() {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "exact_stage_strategy", c.ExactStageStrategy, nil).
			WithSuggestion("use 'greedy' or 'exact'")
	}
	if c.DescriptionSimilarity <= 0 || c.DescriptionSimilarity > 1 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "description_similarity", c.DescriptionSimilarity, nil).
			WithSuggestion("description_similarity must be in (0, 1]")
	}
	if c.DescriptionMaxDaysApart < 0 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "description_max_days_apart", c.DescriptionMaxDaysApart, nil)
	}

	seen := make(map[string]bool)
	for _, name := range c.Stages {
		if !isKnownStage(name) {
			return errors.ConfigurationError(errors.CodeInvalidConfig, "stages", name, nil).
				WithSuggestion(fmt.Sprintf("valid stages are %v", stageOrder))
		}
		if seen[name] {
			return errors.ConfigurationError(errors.CodeConfigConflict, "stages", name, nil).
				WithSuggestion("list every stage at most once")
		}
		seen[name] = true
	}
	return nil
}

// EnabledStages returns the stage names that will run, in execution order
func (c *Config) EnabledStages() []string {
	enabled := make(map[string]bool)
	if len(c.Stages) == 0 {
		enabled[StageExact] = true
		enabled[StageSimilar] = true
		enabled[StageGrouped] = true
		enabled[StageDescription] = c.EnableDescriptionStage
	} else {
		for _, name := range c.Stages {
			enabled[name] = true
		}
	}

	var out []string
	for _, name := range stageOrder {
		if enabled[name] {
			out = append(out, name)
		}
	}
	return out
}

func isKnownStage(name string) bool {
	for _, s := range stageOrder {
		if s == name {
			return true
		}
	}
	return false
}

// Result contains the complete outcome of a reconciliation run
type Result struct {
	RunID            uuid.UUID                 `json:"run_id"`
	Matches          []*models.MatchRecord     `json:"matches"`
	Assignments      []*models.Assignment      `json:"-"`
	PendingInvoices  []*models.Record          `json:"pending_invoices"`
	PendingMovements []*models.Record          `json:"pending_movements"`
	Stages           []StageSummary            `json:"stages"`
	Owners           []OwnerSummary            `json:"owners"`
	Duplicates       []*matcher.DuplicateGroup `json:"suspected_duplicates,omitempty"`
	StartedAt        time.Time                 `json:"started_at"`
	Duration         time.Duration             `json:"duration"`
}

// MatchedInvoices returns the number of distinct matched invoices
func (r *Result) MatchedInvoices() int {
	return countDistinct(r.Matches, func(m *models.MatchRecord) string { return m.OwnerID + "\x1f" + m.InvoiceID })
}

// MatchedMovements returns the number of distinct matched movements
func (r *Result) MatchedMovements() int {
	return countDistinct(r.Matches, func(m *models.MatchRecord) string { return m.OwnerID + "\x1f" + m.MovementID })
}

func countDistinct(matches []*models.MatchRecord, key func(*models.MatchRecord) string) int {
	seen := make(map[string]struct{}, len(matches))
	for _, m := range matches {
		seen[key(m)] = struct{}{}
	}
	return len(seen)
}

// StageSummary aggregates the assignments of one stage
type StageSummary struct {
	Stage       string        `json:"stage"`
	Strategy    string        `json:"strategy"`
	Partitions  int           `json:"partitions"`
	Candidates  int           `json:"candidates"`
	Selected    int           `json:"selected"`
	Matches     int           `json:"matches"`
	Objective   float64       `json:"objective"`
	Certified   int           `json:"certified_partitions"`
	TimeLimited int           `json:"time_limited_partitions"`
	Duration    time.Duration `json:"duration"`
}

// OwnerSummary reports, per owner, how much of the input was matched
type OwnerSummary struct {
	OwnerID                  string          `json:"owner_id"`
	TotalInvoices            int             `json:"total_invoices"`
	TotalMovements           int             `json:"total_movements"`
	MatchedInvoices          int             `json:"matched_invoices"`
	MatchedMovements         int             `json:"matched_movements"`
	MatchedInvoicesPct       float64         `json:"matched_invoices_pct"`
	MatchedMovementsPct      float64         `json:"matched_movements_pct"`
	InvoiceAmount            decimal.Decimal `json:"invoice_amount"`
	MovementAmount           decimal.Decimal `json:"movement_amount"`
	MatchedInvoiceAmountPct  float64         `json:"matched_invoice_amount_pct"`
	MatchedMovementAmountPct float64         `json:"matched_movement_amount_pct"`
}

type ownerTotals struct {
	matchedInv, matchedMov       map[string]decimal.Decimal
	pendingInv, pendingMov       int
	pendingInvAmt, pendingMovAmt decimal.Decimal
}

// SummarizeOwners computes the per owner coverage of a set of matches and the
// remaining pending records. Owners are sorted by matched invoice percentage
// descending, then by id.
func SummarizeOwners(matches []*models.MatchRecord, pendingInvoices, pendingMovements []*models.Record) []OwnerSummary {
	totals := make(map[string]*ownerTotals)
	get := func(owner string) *ownerTotals {
		t, ok := totals[owner]
		if !ok {
			t = &ownerTotals{
				matchedInv: make(map[string]decimal.Decimal),
				matchedMov: make(map[string]decimal.Decimal),
			}
			totals[owner] = t
		}
		return t
	}

	for _, m := range matches {
		t := get(m.OwnerID)
		t.matchedInv[m.InvoiceID] = m.InvoiceAmount
		t.matchedMov[m.MovementID] = m.MovementAmount
	}
	for _, r := range pendingInvoices {
		t := get(r.OwnerID)
		t.pendingInv++
		t.pendingInvAmt = t.pendingInvAmt.Add(r.Amount)
	}
	for _, r := range pendingMovements {
		t := get(r.OwnerID)
		t.pendingMov++
		t.pendingMovAmt = t.pendingMovAmt.Add(r.Amount)
	}

	out := make([]OwnerSummary, 0, len(totals))
	for owner, t := range totals {
		matchedInvAmt := sumValues(t.matchedInv)
		matchedMovAmt := sumValues(t.matchedMov)
		s := OwnerSummary{
			OwnerID:          owner,
			MatchedInvoices:  len(t.matchedInv),
			MatchedMovements: len(t.matchedMov),
			TotalInvoices:    len(t.matchedInv) + t.pendingInv,
			TotalMovements:   len(t.matchedMov) + t.pendingMov,
			InvoiceAmount:    matchedInvAmt.Add(t.pendingInvAmt),
			MovementAmount:   matchedMovAmt.Add(t.pendingMovAmt),
		}
		s.MatchedInvoicesPct = percent(decimal.NewFromInt(int64(s.MatchedInvoices)), decimal.NewFromInt(int64(s.TotalInvoices)))
		s.MatchedMovementsPct = percent(decimal.NewFromInt(int64(s.MatchedMovements)), decimal.NewFromInt(int64(s.TotalMovements)))
		s.MatchedInvoiceAmountPct = percent(matchedInvAmt, s.InvoiceAmount)
		s.MatchedMovementAmountPct = percent(matchedMovAmt, s.MovementAmount)
		out = append(out, s)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].MatchedInvoicesPct != out[j].MatchedInvoicesPct {
			return out[i].MatchedInvoicesPct > out[j].MatchedInvoicesPct
		}
		return out[i].OwnerID < out[j].OwnerID
	})
	return out
}

func sumValues(m map[string]decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range m {
		total = total.Add(v)
	}
	return total
}

// percent returns 100*part/total rounded to two decimals; zero when total is zero
func percent(part, total decimal.Decimal) float64 {
	if total.IsZero() {
		return 0
	}
	pct, _ := part.Mul(decimal.NewFromInt(100)).Div(total).Round(2).Float64()
	return pct
}
