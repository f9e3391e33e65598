// Package solver selects a conflict-free subset of scored candidates.
//
// Two strategies are provided behind the Solver interface:
//   - GreedySolver: iterated mutual-best selection, fast and deterministic
//   - ExactSolver: weighted set packing solved by a pluggable PackingSolver
//     (BranchAndBound by default), warm-started from the greedy result and
//     bounded by a wall-clock limit and a relative optimality gap
//
// Both guarantee that no elementary invoice or movement appears in more than one
// selected candidate; Verify checks that guarantee on any assignment.
package solver

import (
	"context"
	"sort"
	"time"

	"golang-payment-matcher/internal/matcher"
	"golang-payment-matcher/internal/models"
	"golang-payment-matcher/pkg/errors"
)

// Strategy names a solver implementation
type Strategy string

const (
	// StrategyGreedy selects iterated mutual-best candidates
	StrategyGreedy Strategy = "greedy"
	// StrategyExact solves the set packing program
	StrategyExact Strategy = "exact"
)

// IsValid checks if the strategy is known
func (s Strategy) IsValid() bool {
	return s == StrategyGreedy || s == StrategyExact
}

// Limits bound a single solve
type Limits struct {
	TimeLimit     time.Duration
	RelativeGap   float64
	MaxIterations int
}

// LimitsFromConfig extracts the solver limits of a matching configuration
func LimitsFromConfig(config *matcher.MatchingConfig) Limits {
	return Limits{
		TimeLimit:     config.SolverTimeLimit,
		RelativeGap:   config.SolverRelativeGap,
		MaxIterations: config.MaxGreedyIterations,
	}
}

// Solver selects a conflict-free subset of candidates
//
//go:generate mockgen -destination=mocks/mock_solver.go -package=mocks -source=solver.go Solver
type Solver interface {
	Name() Strategy
	Solve(ctx context.Context, candidates []*models.Candidate, limits Limits) (*models.Assignment, error)
}

// New returns the solver for a strategy
func New(strategy Strategy) (Solver, error) {
	switch strategy {
	case StrategyGreedy:
		return NewGreedySolver(), nil
	case StrategyExact:
		return NewExactSolver(NewBranchAndBound()), nil
	default:
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "strategy", strategy, nil).
			WithSuggestion("use 'greedy' or 'exact'")
	}
}

// SortCandidates returns a copy ordered by score descending, then date difference
// ascending, then invoice and movement group keys.
func SortCandidates(candidates []*models.Candidate) []*models.Candidate {
	sorted := append([]*models.Candidate(nil), candidates...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.DateDiff != b.DateDiff {
			return a.DateDiff < b.DateDiff
		}
		if a.Invoices.Key != b.Invoices.Key {
			return a.Invoices.Key < b.Invoices.Key
		}
		return a.Movements.Key < b.Movements.Key
	})
	return sorted
}

// Objective returns the sum of the candidates' scores
func Objective(candidates []*models.Candidate) float64 {
	total := 0.0
	for _, c := range candidates {
		total += c.Score
	}
	return total
}

// Verify checks that no elementary record is consumed by two selected candidates
func Verify(assignment *models.Assignment) error {
	owner := make(map[models.ElementKey]*models.Candidate)
	for _, c := range assignment.Selected {
		for _, k := range c.ElementKeys() {
			if prev, dup := owner[k]; dup {
				return errors.ReconciliationError(errors.CodeDataInconsistent, assignment.Stage, nil).
					WithContext("element", k.String()).
					WithContext("first", prev.String()).
					WithContext("second", c.String())
			}
			owner[k] = c
		}
	}
	return nil
}
