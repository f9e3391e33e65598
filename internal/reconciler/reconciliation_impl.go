package reconciler

import (
	"context"
	"sort"
	"time"

	"github.com/sourcegraph/conc/pool"

	"golang-payment-matcher/internal/models"
	"golang-payment-matcher/internal/solver"
	"golang-payment-matcher/pkg/errors"
	"golang-payment-matcher/pkg/logger"
)

// stageOutcome is what one stage contributes to the run
type stageOutcome struct {
	assignments []*models.Assignment
	matches     []*models.MatchRecord
	consumed    map[models.ElementKey]struct{}
	summary     StageSummary
}

// prepareRecords validates the input and returns date sorted copies of both
// sides. Records must be of the right kind and unique per owner and id.
func prepareRecords(invoices, movements []*models.Record) ([]*models.Record, []*models.Record, error) {
	seen := make(map[models.ElementKey]struct{}, len(invoices)+len(movements))

	check := func(records []*models.Record, kind models.Kind) ([]*models.Record, error) {
		out := make([]*models.Record, 0, len(records))
		for i, r := range records {
			if r == nil {
				return nil, errors.ValidationError(errors.CodeMissingField, string(kind), i, nil)
			}
			if err := r.Validate(); err != nil {
				return nil, err
			}
			if r.Kind != kind {
				return nil, errors.ValidationError(errors.CodeInvalidData, "kind", r.Kind, nil).
					WithContext("expected", kind).
					WithContext("element", r.ElementKey().String())
			}
			key := r.ElementKey()
			if _, dup := seen[key]; dup {
				return nil, errors.ValidationError(errors.CodeDuplicateRecord, "id", r.ID, nil).
					WithContext("element", key.String()).
					WithSuggestion("ids must be unique per owner")
			}
			seen[key] = struct{}{}
			out = append(out, r)
		}
		models.SortRecords(out)
		return out, nil
	}

	inv, err := check(invoices, models.KindInvoice)
	if err != nil {
		return nil, nil, err
	}
	mov, err := check(movements, models.KindMovement)
	if err != nil {
		return nil, nil, err
	}
	return inv, mov, nil
}

// partitionInputs splits the pending records by the stage's scope. Only
// partitions with records on both sides are returned, in key order.
func partitionInputs(scope Scope, invoices, movements []*models.Record) []*PartitionInput {
	keyOf := func(r *models.Record) models.PartitionKey {
		if scope == ScopeOwner {
			return models.PartitionKey{OwnerID: r.OwnerID}
		}
		return r.Key()
	}

	inv := make(map[models.PartitionKey][]*models.Record)
	for _, r := range invoices {
		inv[keyOf(r)] = append(inv[keyOf(r)], r)
	}
	mov := make(map[models.PartitionKey][]*models.Record)
	for _, r := range movements {
		mov[keyOf(r)] = append(mov[keyOf(r)], r)
	}

	var inputs []*PartitionInput
	for _, key := range models.SortedPartitionKeys(inv) {
		if len(mov[key]) == 0 {
			continue
		}
		inputs = append(inputs, &PartitionInput{
			Partition: key,
			Invoices:  inv[key],
			Movements: mov[key],
		})
	}
	return inputs
}

// runStage solves every partition of a stage on the worker pool and applies
// the verified assignments.
func (r *Reconciler) runStage(ctx context.Context, stage Stage, invoices, movements []*models.Record) (*stageOutcome, error) {
	start := time.Now()
	inputs := partitionInputs(stage.Scope(), invoices, movements)
	r.stageStarted(stage.Name(), len(inputs))

	tracker := logger.NewProgressTracker(logger.ProgressConfig{
		Operation: "stage " + stage.Name(),
		Total:     int64(len(inputs)),
		Logger:    r.logger,
	})

	p := pool.NewWithResults[*models.Assignment]().
		WithContext(ctx).
		WithMaxGoroutines(r.config.MaxConcurrency).
		WithCancelOnError().
		WithFirstError()

	for _, input := range inputs {
		input := input
		p.Go(func(ctx context.Context) (*models.Assignment, error) {
			assignment, err := stage.Run(ctx, input)
			if err != nil {
				return nil, err
			}
			if assignment == nil {
				return nil, errors.InternalError(errors.CodeUnexpectedError, stage.Name(), nil).
					WithContext("partition", input.Partition.String())
			}
			tracker.Increment()
			r.partitionDone(explodedSize(assignment.Selected))
			return assignment, nil
		})
	}

	assignments, err := p.Wait()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}
	tracker.Complete()

	sort.Slice(assignments, func(i, j int) bool {
		return assignments[i].Partition.Less(assignments[j].Partition)
	})

	outcome, err := applyAssignments(stage.Name(), assignments, invoices, movements)
	if err != nil {
		return nil, err
	}

	outcome.summary.Partitions = len(inputs)
	outcome.summary.Duration = time.Since(start)
	return outcome, nil
}

func explodedSize(candidates []*models.Candidate) int {
	n := 0
	for _, c := range candidates {
		n += c.Size()
	}
	return n
}

// applyAssignments verifies every assignment and explodes the accepted
// candidates. A candidate consuming a record that is not pending, or one that
// another partition already consumed, is an inconsistency.
func applyAssignments(stage string, assignments []*models.Assignment, invoices, movements []*models.Record) (*stageOutcome, error) {
	pending := make(map[models.ElementKey]struct{}, len(invoices)+len(movements))
	for _, rec := range invoices {
		pending[rec.ElementKey()] = struct{}{}
	}
	for _, rec := range movements {
		pending[rec.ElementKey()] = struct{}{}
	}

	outcome := &stageOutcome{
		assignments: assignments,
		consumed:    make(map[models.ElementKey]struct{}),
		summary:     StageSummary{Stage: stage},
	}

	for _, a := range assignments {
		if err := solver.Verify(a); err != nil {
			return nil, err
		}

		for _, c := range a.Selected {
			for _, key := range c.ElementKeys() {
				if _, ok := pending[key]; !ok {
					return nil, errors.ReconciliationError(errors.CodeDataInconsistent, stage, nil).
						WithContext("element", key.String()).
						WithContext("reason", "not pending")
				}
				if _, dup := outcome.consumed[key]; dup {
					return nil, errors.ReconciliationError(errors.CodeDataInconsistent, stage, nil).
						WithContext("element", key.String()).
						WithContext("reason", "consumed by two partitions")
				}
				outcome.consumed[key] = struct{}{}
			}
			outcome.matches = append(outcome.matches, models.Explode(stage, c)...)
		}

		outcome.summary.Strategy = a.Strategy
		outcome.summary.Candidates += a.Pool
		outcome.summary.Selected += len(a.Selected)
		outcome.summary.Objective += a.Objective
		if a.Optimal {
			outcome.summary.Certified++
		}
		if a.Status == models.StatusTimeLimit {
			outcome.summary.TimeLimited++
		}
	}

	outcome.summary.Matches = len(outcome.matches)
	return outcome, nil
}

// removeConsumed returns the records not in consumed, preserving order
func removeConsumed(records []*models.Record, consumed map[models.ElementKey]struct{}) []*models.Record {
	out := make([]*models.Record, 0, len(records))
	for _, r := range records {
		if _, ok := consumed[r.ElementKey()]; !ok {
			out = append(out, r)
		}
	}
	return out
}
