package reconciler

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"golang-payment-matcher/internal/models"
	"golang-payment-matcher/internal/solver"
	"golang-payment-matcher/internal/solver/mocks"
	"golang-payment-matcher/pkg/errors"
	"golang-payment-matcher/pkg/logger"
)

func exactOnlyReconciler(config *Config, s solver.Solver) *Reconciler {
	return New(config,
		WithLogger(logger.NewNopLogger()),
		WithStages(NewExactStage(config.Matching, s)),
	)
}

func TestOrchestrator_PassesLimitsToSolver(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockSolver := mocks.NewMockSolver(ctrl)
	config := DefaultConfig()

	mockSolver.EXPECT().
		Solve(gomock.Any(), gomock.Len(1), solver.LimitsFromConfig(config.Matching)).
		DoAndReturn(func(ctx context.Context, candidates []*models.Candidate, limits solver.Limits) (*models.Assignment, error) {
			return &models.Assignment{Strategy: "mock", Selected: candidates}, nil
		})

	result, err := exactOnlyReconciler(config, mockSolver).Run(context.Background(),
		[]*models.Record{createTestInvoice("F1", 100000, 0)},
		[]*models.Record{createTestMovement("M1", 100000, 5)},
	)
	require.NoError(t, err)
	require.Len(t, result.Matches, 1)
	assert.Equal(t, StageExact, result.Matches[0].Stage)
	require.Len(t, result.Stages, 1)
	assert.Equal(t, "mock", result.Stages[0].Strategy)
	assert.Equal(t, 1, result.Stages[0].Partitions)
}

func TestOrchestrator_SolverErrorAbortsRun(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockSolver := mocks.NewMockSolver(ctrl)
	boom := stderrors.New("solver backend down")

	mockSolver.EXPECT().Solve(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, boom)

	_, err := exactOnlyReconciler(DefaultConfig(), mockSolver).Run(context.Background(),
		[]*models.Record{createTestInvoice("F1", 100000, 0)},
		[]*models.Record{createTestMovement("M1", 100000, 5)},
	)
	assert.ErrorIs(t, err, boom)
}

func TestOrchestrator_RejectsReusedElements(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockSolver := mocks.NewMockSolver(ctrl)

	mockSolver.EXPECT().
		Solve(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, candidates []*models.Candidate, limits solver.Limits) (*models.Assignment, error) {
			return &models.Assignment{Selected: []*models.Candidate{candidates[0], candidates[0]}}, nil
		})

	_, err := exactOnlyReconciler(DefaultConfig(), mockSolver).Run(context.Background(),
		[]*models.Record{createTestInvoice("F1", 100000, 0)},
		[]*models.Record{createTestMovement("M1", 100000, 5)},
	)
	assert.True(t, errors.HasCodeInChain(err, errors.CodeDataInconsistent), "got %v", err)
}

func TestOrchestrator_RejectsRecordsThatAreNotPending(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockSolver := mocks.NewMockSolver(ctrl)

	ghost, err := models.NewGroup(createTestInvoice("GHOST", 100000, 0))
	require.NoError(t, err)

	mockSolver.EXPECT().
		Solve(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, candidates []*models.Candidate, limits solver.Limits) (*models.Assignment, error) {
			forged := *candidates[0]
			forged.Invoices = ghost
			return &models.Assignment{Selected: []*models.Candidate{&forged}}, nil
		})

	_, err = exactOnlyReconciler(DefaultConfig(), mockSolver).Run(context.Background(),
		[]*models.Record{createTestInvoice("F1", 100000, 0)},
		[]*models.Record{createTestMovement("M1", 100000, 5)},
	)
	matcherErr, ok := errors.AsMatcherError(err)
	require.True(t, ok, "got %v", err)
	assert.Equal(t, errors.CodeDataInconsistent, matcherErr.Code)
	assert.Equal(t, "not pending", matcherErr.Context["reason"])
}

func TestOrchestrator_InvalidConfigNeverReachesSolver(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockSolver := mocks.NewMockSolver(ctrl)

	config := DefaultConfig()
	config.Matching.MaxMovDaysBeforeInv = -3

	_, err := exactOnlyReconciler(config, mockSolver).Run(context.Background(),
		[]*models.Record{createTestInvoice("F1", 100000, 0)},
		[]*models.Record{createTestMovement("M1", 100000, 5)},
	)
	matcherErr, ok := errors.AsMatcherError(err)
	require.True(t, ok, "got %v", err)
	assert.Equal(t, errors.CategoryConfiguration, matcherErr.Category)
}

func TestOrchestrator_OnePartitionPerSolve(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockSolver := mocks.NewMockSolver(ctrl)

	var invoices, movements []*models.Record
	for _, cp := range []string{"C1", "C2", "C3", "C4", "C5", "C6"} {
		invoices = append(invoices, models.NewInvoice("O1", cp, "F-"+cp, decimal.NewFromInt(500), testBaseDate))
		movements = append(movements, models.NewMovement("O1", cp, "M-"+cp, decimal.NewFromInt(500), testBaseDate, ""))
	}

	mockSolver.EXPECT().
		Solve(gomock.Any(), gomock.Len(1), gomock.Any()).
		Times(6).
		DoAndReturn(func(ctx context.Context, candidates []*models.Candidate, limits solver.Limits) (*models.Assignment, error) {
			return solver.NewGreedySolver().Solve(ctx, candidates, limits)
		})

	config := DefaultConfig()
	config.MaxConcurrency = 3
	result, err := exactOnlyReconciler(config, mockSolver).Run(context.Background(), invoices, movements)
	require.NoError(t, err)

	assert.Len(t, result.Matches, 6)
	require.Len(t, result.Assignments, 6)
	for i := 1; i < len(result.Assignments); i++ {
		assert.True(t, result.Assignments[i-1].Partition.Less(result.Assignments[i].Partition),
			"assignments should be ordered by partition")
	}
	for _, m := range result.Matches {
		assert.Equal(t, m.InvoiceID[2:], m.CounterpartyID)
		assert.Equal(t, m.MovementID[2:], m.CounterpartyID)
	}
}
