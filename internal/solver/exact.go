package solver

import (
	"context"
	"time"

	"golang-payment-matcher/internal/models"
	"golang-payment-matcher/pkg/errors"
	"golang-payment-matcher/pkg/logger"
)

// ExactSolver maximises the total score of the selected candidates subject to
// each elementary record being used at most once. The program is handed to a
// PackingSolver under a wall-clock limit; on timeout the best solution found so
// far is returned without an optimality certificate.
type ExactSolver struct {
	packing PackingSolver
	greedy  *GreedySolver
	logger  logger.Logger
}

// NewExactSolver creates an exact solver on top of a packing solver
func NewExactSolver(packing PackingSolver) *ExactSolver {
	return &ExactSolver{
		packing: packing,
		greedy:  NewGreedySolver(),
		logger:  logger.WithComponent("solver"),
	}
}

// WithLogger replaces the solver's logger
func (s *ExactSolver) WithLogger(l logger.Logger) *ExactSolver {
	s.logger = l.WithComponent("solver")
	return s
}

// Name returns the strategy name
func (s *ExactSolver) Name() Strategy {
	return StrategyExact
}

// Solve builds the set packing program, warm-starts it with the greedy
// selection and solves it within limits.TimeLimit.
func (s *ExactSolver) Solve(ctx context.Context, candidates []*models.Candidate, limits Limits) (*models.Assignment, error) {
	start := time.Now()
	sorted := SortCandidates(candidates)

	warm, err := s.greedy.Solve(ctx, sorted, Limits{MaxIterations: limits.MaxIterations})
	if err != nil {
		return nil, err
	}

	problem := BuildProblem(sorted, warm.Selected)

	solveCtx := ctx
	if limits.TimeLimit > 0 {
		var cancel context.CancelFunc
		solveCtx, cancel = context.WithTimeout(ctx, limits.TimeLimit)
		defer cancel()
	}

	solution, err := s.packing.SolvePacking(solveCtx, problem, limits)
	if err != nil {
		return nil, errors.ReconciliationError(errors.CodeSolverFailed, "exact assignment", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := checkFeasible(problem, solution); err != nil {
		return nil, err
	}

	selected := make([]*models.Candidate, len(solution.Selected))
	for i, v := range solution.Selected {
		selected[i] = sorted[v]
	}

	assignment := &models.Assignment{
		Strategy:  string(StrategyExact),
		Selected:  selected,
		Objective: Objective(selected),
		BestBound: solution.BestBound,
		Status:    solution.Status,
		Optimal:   solution.Status == models.StatusOptimal,
		Nodes:     solution.Nodes,
		Pool:      len(candidates),
		Duration:  time.Since(start),
	}

	if assignment.Status == models.StatusTimeLimit {
		s.logger.WithFields(logger.Fields{
			"candidates": len(candidates),
			"objective":  assignment.Objective,
			"best_bound": assignment.BestBound,
			"nodes":      assignment.Nodes,
			"time_limit": limits.TimeLimit.String(),
		}).Warn("Exact solver hit the time limit, keeping best solution found")
	}

	return assignment, nil
}

// BuildProblem converts candidates into a packing program with one element per
// distinct elementary key; invoice keys are side 0 and movement keys side 1.
// Candidates in initial become the starting incumbent.
func BuildProblem(candidates []*models.Candidate, initial []*models.Candidate) *PackingProblem {
	problem := &PackingProblem{
		Weights: make([]float64, len(candidates)),
		Sets:    make([][]int, len(candidates)),
	}

	elements := make(map[models.ElementKey]int)
	index := make(map[*models.Candidate]int, len(candidates))
	for v, c := range candidates {
		index[c] = v
		problem.Weights[v] = c.Score
		for _, k := range c.ElementKeys() {
			e, ok := elements[k]
			if !ok {
				e = len(problem.Sides)
				elements[k] = e
				side := 0
				if k.Kind == models.KindMovement {
					side = 1
				}
				problem.Sides = append(problem.Sides, side)
			}
			problem.Sets[v] = append(problem.Sets[v], e)
		}
	}

	for _, c := range initial {
		if v, ok := index[c]; ok {
			problem.Initial = append(problem.Initial, v)
		}
	}
	return problem
}

func checkFeasible(problem *PackingProblem, solution *PackingSolution) error {
	covered := make([]bool, problem.Elements())
	for _, v := range solution.Selected {
		if v < 0 || v >= len(problem.Sets) {
			return errors.ReconciliationError(errors.CodeDataInconsistent, "exact assignment", nil).
				WithContext("variable", v)
		}
		for _, e := range problem.Sets[v] {
			if covered[e] {
				return errors.ReconciliationError(errors.CodeDataInconsistent, "exact assignment", nil).
					WithContext("element", e).
					WithContext("variable", v)
			}
			covered[e] = true
		}
	}
	return nil
}
