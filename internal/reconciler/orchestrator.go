// Package reconciler runs the matching stages over invoices and movements.
//
// A run validates its configuration and input records, then applies each
// enabled stage to the records still pending after the previous one:
//  1. exact: equal amounts, singleton or one-sided groups
//  2. similar: singleton pairs with close amounts
//  3. grouped: groups against groups with the size penalty
//  4. description: orphan movements grouped by description (optional)
//
// Inside a stage every partition is solved independently on a bounded worker
// pool. Accepted candidates are verified, exploded into match records and
// their members removed from the pending sets.
//
// Example usage:
//
//	r := reconciler.New(reconciler.DefaultConfig(),
//		reconciler.WithProgressCallback(func(p reconciler.Progress) {
//			fmt.Printf("%s: %d/%d partitions\n", p.Stage, p.PartitionsDone, p.PartitionsTotal)
//		}))
//
//	result, err := r.Run(ctx, invoices, movements)
package reconciler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"golang-payment-matcher/internal/matcher"
	"golang-payment-matcher/internal/models"
	"golang-payment-matcher/internal/solver"
	"golang-payment-matcher/pkg/logger"
)

// Reconciler threads pending invoices and movements through the stages
type Reconciler struct {
	config *Config
	stages []Stage
	logger logger.Logger

	// Progress tracking
	progressCallbacks []ProgressCallback
	currentProgress   Progress
	startTime         time.Time
	progressMutex     sync.Mutex
}

// Progress describes how far a run has got
type Progress struct {
	Stage           string        `json:"stage"`
	CompletedStages int           `json:"completed_stages"`
	TotalStages     int           `json:"total_stages"`
	PartitionsDone  int           `json:"partitions_done"`
	PartitionsTotal int           `json:"partitions_total"`
	MatchesFound    int           `json:"matches_found"`
	ElapsedTime     time.Duration `json:"elapsed_time"`
}

// PercentComplete returns the stage level completion in percent
func (p Progress) PercentComplete() float64 {
	if p.TotalStages == 0 {
		return 100
	}
	done := float64(p.CompletedStages)
	if p.PartitionsTotal > 0 && p.CompletedStages < p.TotalStages {
		done += float64(p.PartitionsDone) / float64(p.PartitionsTotal)
	}
	return done / float64(p.TotalStages) * 100
}

// ProgressCallback is called to report progress. Calls are serialised.
type ProgressCallback func(Progress)

// Option configures a Reconciler
type Option func(*Reconciler)

// WithLogger sets the logger of the reconciler
func WithLogger(l logger.Logger) Option {
	return func(r *Reconciler) {
		r.logger = l.WithComponent("reconciler")
	}
}

// WithProgressCallback adds a progress callback
func WithProgressCallback(cb ProgressCallback) Option {
	return func(r *Reconciler) {
		r.progressCallbacks = append(r.progressCallbacks, cb)
	}
}

// WithStages replaces the stages built from the configuration
func WithStages(stages ...Stage) Option {
	return func(r *Reconciler) {
		r.stages = stages
	}
}

// New creates a reconciler. A nil config selects DefaultConfig. The
// configuration is validated by Run.
func New(config *Config, opts ...Option) *Reconciler {
	if config == nil {
		config = DefaultConfig()
	}
	r := &Reconciler{
		config: config,
		logger: logger.WithComponent("reconciler"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Config returns the configuration of the reconciler
func (r *Reconciler) Config() *Config {
	return r.config
}

// buildStages creates the enabled stages of the configuration
func (r *Reconciler) buildStages() ([]Stage, error) {
	if len(r.stages) > 0 {
		return r.stages, nil
	}

	mc := r.config.Matching
	var stages []Stage
	for _, name := range r.config.EnabledStages() {
		switch name {
		case StageExact:
			s, err := solver.New(r.config.ExactStageStrategy)
			if err != nil {
				return nil, err
			}
			stages = append(stages, NewExactStage(mc, s))
		case StageSimilar:
			stages = append(stages, NewSimilarStage(mc, solver.NewGreedySolver()))
		case StageGrouped:
			exact := solver.NewExactSolver(solver.NewBranchAndBound()).WithLogger(r.logger)
			stages = append(stages, NewGroupedStage(mc, exact))
		case StageDescription:
			stages = append(stages, NewDescriptionStage(mc, solver.NewGreedySolver(),
				r.config.DescriptionSimilarity, r.config.DescriptionMaxDaysApart))
		}
	}
	return stages, nil
}

// Run reconciles invoices against movements. The configuration is checked
// before any stage runs and every record is validated; a record id may appear
// only once per owner and kind. Cancelling ctx aborts the run with ctx's error.
func (r *Reconciler) Run(ctx context.Context, invoices, movements []*models.Record) (*Result, error) {
	op := logger.NewOperationLogger("reconciliation", r.logger).
		WithField("invoices", len(invoices)).
		WithField("movements", len(movements))

	if err := r.config.Validate(); err != nil {
		op.Error(err, "Invalid configuration")
		return nil, err
	}
	stages, err := r.buildStages()
	if err != nil {
		op.Error(err, "Failed to build stages")
		return nil, err
	}

	pendingInv, pendingMov, err := prepareRecords(invoices, movements)
	if err != nil {
		op.Error(err, "Invalid input records")
		return nil, err
	}

	result := &Result{
		RunID:     uuid.New(),
		StartedAt: time.Now(),
	}
	op = op.WithField("run_id", result.RunID.String())

	result.Duplicates = append(matcher.DetectDuplicates(pendingInv), matcher.DetectDuplicates(pendingMov)...)
	if len(result.Duplicates) > 0 {
		op.WithField("suspected_duplicates", len(result.Duplicates)).Warning("Suspected duplicate records found")
	}
	for _, dup := range result.Duplicates {
		r.logger.WithFields(logger.Fields{
			"owner_id":        dup.OwnerID,
			"counterparty_id": dup.CounterpartyID,
			"ids":             dup.IDs,
		}).Warn("Suspected duplicate records: " + dup.Reason)
	}
	r.initializeProgress(len(stages))

	for i, stage := range stages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		op.Step(stage.Name())

		outcome, err := r.runStage(ctx, stage, pendingInv, pendingMov)
		if err != nil {
			op.Error(err, "Stage failed")
			return nil, err
		}

		pendingInv = removeConsumed(pendingInv, outcome.consumed)
		pendingMov = removeConsumed(pendingMov, outcome.consumed)
		result.Matches = append(result.Matches, outcome.matches...)
		result.Assignments = append(result.Assignments, outcome.assignments...)
		result.Stages = append(result.Stages, outcome.summary)

		r.logger.WithFields(logger.Fields{
			"stage":             stage.Name(),
			"partitions":        outcome.summary.Partitions,
			"selected":          outcome.summary.Selected,
			"matches":           outcome.summary.Matches,
			"pending_invoices":  len(pendingInv),
			"pending_movements": len(pendingMov),
			"duration":          outcome.summary.Duration.String(),
		}).Info("Stage completed")

		r.stageCompleted(i+1, len(result.Matches))
	}

	result.PendingInvoices = pendingInv
	result.PendingMovements = pendingMov
	result.Owners = SummarizeOwners(result.Matches, pendingInv, pendingMov)
	result.Duration = time.Since(result.StartedAt)

	op.WithField("matches", len(result.Matches)).Success("Reconciliation completed")
	return result, nil
}

func (r *Reconciler) initializeProgress(totalStages int) {
	r.progressMutex.Lock()
	defer r.progressMutex.Unlock()

	r.startTime = time.Now()
	r.currentProgress = Progress{TotalStages: totalStages}
}

func (r *Reconciler) stageStarted(stage string, partitions int) {
	r.updateProgress(func(p *Progress) {
		p.Stage = stage
		p.PartitionsDone = 0
		p.PartitionsTotal = partitions
	})
}

func (r *Reconciler) partitionDone(found int) {
	r.updateProgress(func(p *Progress) {
		p.PartitionsDone++
		p.MatchesFound += found
	})
}

func (r *Reconciler) stageCompleted(completed, matches int) {
	r.updateProgress(func(p *Progress) {
		p.CompletedStages = completed
		p.MatchesFound = matches
	})
}

func (r *Reconciler) updateProgress(update func(*Progress)) {
	r.progressMutex.Lock()
	defer r.progressMutex.Unlock()

	update(&r.currentProgress)
	r.currentProgress.ElapsedTime = time.Since(r.startTime)

	for _, callback := range r.progressCallbacks {
		callback(r.currentProgress)
	}
}
