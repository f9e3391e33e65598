package solver

import (
	"context"
	"time"

	"golang-payment-matcher/internal/models"
)

// GreedySolver implements iterated mutual-best selection. In every round each
// elementary record points at the best remaining candidate containing it; a
// candidate is accepted when every one of its records points at it. Accepted
// records are removed from the pool before the next round.
type GreedySolver struct{}

// NewGreedySolver creates a greedy solver
func NewGreedySolver() *GreedySolver {
	return &GreedySolver{}
}

// Name returns the strategy name
func (g *GreedySolver) Name() Strategy {
	return StrategyGreedy
}

// Solve runs at most limits.MaxIterations rounds; zero means until the pool is empty.
// The best remaining candidate is always mutual-best, so each round accepts at
// least one candidate.
func (g *GreedySolver) Solve(ctx context.Context, candidates []*models.Candidate, limits Limits) (*models.Assignment, error) {
	start := time.Now()
	pool := SortCandidates(candidates)

	var selected []*models.Candidate
	rounds := 0
	for len(pool) > 0 && (limits.MaxIterations <= 0 || rounds < limits.MaxIterations) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rounds++

		best := make(map[models.ElementKey]int)
		for i, c := range pool {
			for _, k := range c.ElementKeys() {
				if _, ok := best[k]; !ok {
					best[k] = i
				}
			}
		}

		consumed := make(map[models.ElementKey]struct{})
		for i, c := range pool {
			if isMutualBest(c, i, best) {
				selected = append(selected, c)
				for _, k := range c.ElementKeys() {
					consumed[k] = struct{}{}
				}
			}
		}

		next := make([]*models.Candidate, 0, len(pool))
		for _, c := range pool {
			if !touches(c, consumed) {
				next = append(next, c)
			}
		}
		pool = next
	}

	return &models.Assignment{
		Strategy:  string(StrategyGreedy),
		Selected:  selected,
		Objective: Objective(selected),
		Status:    models.StatusHeuristic,
		Rounds:    rounds,
		Pool:      len(candidates),
		Duration:  time.Since(start),
	}, nil
}

func isMutualBest(c *models.Candidate, index int, best map[models.ElementKey]int) bool {
	for _, k := range c.ElementKeys() {
		if best[k] != index {
			return false
		}
	}
	return true
}

func touches(c *models.Candidate, consumed map[models.ElementKey]struct{}) bool {
	for _, k := range c.ElementKeys() {
		if _, ok := consumed[k]; ok {
			return true
		}
	}
	return false
}
