package reconciler

import (
	"context"

	"golang-payment-matcher/internal/grouping"
	"golang-payment-matcher/internal/matcher"
	"golang-payment-matcher/internal/models"
	"golang-payment-matcher/internal/solver"
	"golang-payment-matcher/pkg/logger"
)

// Stage names
const (
	StageExact       = "exact"
	StageSimilar     = "similar"
	StageGrouped     = "grouped"
	StageDescription = "description"
)

// Scope is the partitioning a stage runs under
type Scope int

const (
	// ScopeCounterparty partitions by (owner, counterparty)
	ScopeCounterparty Scope = iota
	// ScopeOwner partitions by owner only
	ScopeOwner
)

// PartitionInput is the pending residue of one partition handed to a stage.
// Both slices are sorted by date then id.
type PartitionInput struct {
	Partition models.PartitionKey
	Invoices  []*models.Record
	Movements []*models.Record
}

// Stage is one pass of the matching pipeline over a single partition
type Stage interface {
	Name() string
	Scope() Scope
	Run(ctx context.Context, input *PartitionInput) (*models.Assignment, error)
}

// stageBase carries what every stage shares
type stageBase struct {
	config *matcher.MatchingConfig
	scorer *matcher.Scorer
	solver solver.Solver
	limits solver.Limits
	logger logger.Logger
}

func newStageBase(config *matcher.MatchingConfig, s solver.Solver, name string) stageBase {
	return stageBase{
		config: config,
		scorer: matcher.NewScorer(config),
		solver: s,
		limits: solver.LimitsFromConfig(config),
		logger: logger.WithComponent("reconciler").WithField("stage", name),
	}
}

func (b stageBase) solve(ctx context.Context, name string, input *PartitionInput, candidates []*models.Candidate) (*models.Assignment, error) {
	assignment, err := b.solver.Solve(ctx, candidates, b.limits)
	if err != nil {
		return nil, err
	}
	assignment.Stage = name
	assignment.Partition = input.Partition
	return assignment, nil
}

// ExactStage matches records whose amounts are equal. Besides singleton pairs
// it materialises groups on one side only when their total equals a singleton
// amount on the other side. Groups are built only from records that are not
// already part of a singleton candidate.
type ExactStage struct {
	stageBase
	builder *grouping.Builder
}

// NewExactStage creates the exact amount stage
func NewExactStage(config *matcher.MatchingConfig, s solver.Solver) *ExactStage {
	return &ExactStage{
		stageBase: newStageBase(config, s, StageExact),
		builder:   grouping.NewBuilder(config),
	}
}

// Name returns the stage name
func (s *ExactStage) Name() string { return StageExact }

// Scope returns the partitioning of the stage
func (s *ExactStage) Scope() Scope { return ScopeCounterparty }

// Run builds zero-difference candidates and solves them
func (s *ExactStage) Run(ctx context.Context, input *PartitionInput) (*models.Assignment, error) {
	invSingles := grouping.Singletons(input.Invoices)
	movSingles := grouping.Singletons(input.Movements)
	invByAmount := matcher.NewExactAmountIndex(invSingles)
	movByAmount := matcher.NewExactAmountIndex(movSingles)

	var candidates []*models.Candidate
	paired := make(map[models.ElementKey]bool)
	add := func(inv, mov *models.Group) (bool, error) {
		c, _, err := s.scorer.Score(inv, mov, false)
		if err != nil || c == nil || c.RelAmountDiff != 0 {
			return false, err
		}
		candidates = append(candidates, c)
		return true, nil
	}

	for _, inv := range invSingles {
		for _, mov := range movByAmount.Get(inv.Amount) {
			ok, err := add(inv, mov)
			if err != nil {
				return nil, err
			}
			if ok {
				paired[inv.Members[0].ElementKey()] = true
				paired[mov.Members[0].ElementKey()] = true
			}
		}
	}

	movGroups, err := s.builder.Build(unpaired(input.Movements, paired))
	if err != nil {
		return nil, err
	}
	for _, mov := range movGroups {
		for _, inv := range invByAmount.Get(mov.Amount) {
			if _, err := add(inv, mov); err != nil {
				return nil, err
			}
		}
	}

	invGroups, err := s.builder.Build(unpaired(input.Invoices, paired))
	if err != nil {
		return nil, err
	}
	for _, inv := range invGroups {
		for _, mov := range movByAmount.Get(inv.Amount) {
			if _, err := add(inv, mov); err != nil {
				return nil, err
			}
		}
	}

	s.logger.WithFields(logger.Fields{
		"partition":       input.Partition.String(),
		"movement_groups": len(movGroups),
		"invoice_groups":  len(invGroups),
		"candidates":      len(candidates),
	}).Debug("Built exact candidates")

	return s.solve(ctx, StageExact, input, candidates)
}

// unpaired keeps the records that are not part of any singleton exact candidate
func unpaired(records []*models.Record, paired map[models.ElementKey]bool) []*models.Record {
	out := make([]*models.Record, 0, len(records))
	for _, r := range records {
		if !paired[r.ElementKey()] {
			out = append(out, r)
		}
	}
	return out
}

// SimilarStage matches singleton pairs whose amounts are close
type SimilarStage struct {
	stageBase
	indexer *matcher.Indexer
}

// NewSimilarStage creates the similar amount stage
func NewSimilarStage(config *matcher.MatchingConfig, s solver.Solver) *SimilarStage {
	return &SimilarStage{
		stageBase: newStageBase(config, s, StageSimilar),
		indexer:   matcher.NewIndexer(config),
	}
}

// Name returns the stage name
func (s *SimilarStage) Name() string { return StageSimilar }

// Scope returns the partitioning of the stage
func (s *SimilarStage) Scope() Scope { return ScopeCounterparty }

// Run scores indexed singleton pairs and keeps those above MinSimilarity
func (s *SimilarStage) Run(ctx context.Context, input *PartitionInput) (*models.Assignment, error) {
	pairs, _ := s.indexer.IndexPartition(grouping.Singletons(input.Invoices), grouping.Singletons(input.Movements))
	scored, stats, err := s.scorer.ScoreAll(pairs, false)
	if err != nil {
		return nil, err
	}

	candidates := scored[:0]
	for _, c := range scored {
		if c.AmountSimilarity >= s.config.MinSimilarity {
			candidates = append(candidates, c)
		}
	}

	s.logger.WithFields(logger.Fields{
		"partition":  input.Partition.String(),
		"pairs":      len(pairs),
		"scored":     stats.Kept,
		"candidates": len(candidates),
	}).Debug("Built similar candidates")

	return s.solve(ctx, StageSimilar, input, candidates)
}

// GroupedStage matches groups against groups with the size penalty applied
type GroupedStage struct {
	stageBase
	builder *grouping.Builder
	indexer *matcher.Indexer
}

// NewGroupedStage creates the grouped stage
func NewGroupedStage(config *matcher.MatchingConfig, s solver.Solver) *GroupedStage {
	return &GroupedStage{
		stageBase: newStageBase(config, s, StageGrouped),
		builder:   grouping.NewBuilder(config),
		indexer:   matcher.NewIndexer(config),
	}
}

// Name returns the stage name
func (s *GroupedStage) Name() string { return StageGrouped }

// Scope returns the partitioning of the stage
func (s *GroupedStage) Scope() Scope { return ScopeCounterparty }

// Run builds singletons and groups on both sides, indexes, scores and solves
func (s *GroupedStage) Run(ctx context.Context, input *PartitionInput) (*models.Assignment, error) {
	invGroups, err := s.builder.BuildAll(input.Invoices)
	if err != nil {
		return nil, err
	}
	movGroups, err := s.builder.BuildAll(input.Movements)
	if err != nil {
		return nil, err
	}

	pairs, indexStats := s.indexer.IndexPartition(invGroups, movGroups)
	candidates, scoreStats, err := s.scorer.ScoreAll(pairs, true)
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logger.Fields{
		"partition":       input.Partition.String(),
		"invoice_groups":  len(invGroups),
		"movement_groups": len(movGroups),
		"pairs":           indexStats.Pairs,
		"cross_product":   indexStats.CrossProduct,
		"candidates":      len(candidates),
		"rejections":      scoreStats.Rejections,
	}).Debug("Built grouped candidates")

	return s.solve(ctx, StageGrouped, input, candidates)
}

// DescriptionStage runs per owner. Movements whose counterparty has no pending
// invoice are grouped by description similarity, and those groups are matched
// at equal amount against invoices whose counterparty has no pending movement.
type DescriptionStage struct {
	stageBase
	grouper *grouping.DescriptionGrouper
}

// NewDescriptionStage creates the description grouping stage
func NewDescriptionStage(config *matcher.MatchingConfig, s solver.Solver, threshold float64, maxDaysApart int) *DescriptionStage {
	return &DescriptionStage{
		stageBase: newStageBase(config, s, StageDescription),
		grouper:   grouping.NewDescriptionGrouper(threshold, maxDaysApart, config.MaxGroupLen),
	}
}

// Name returns the stage name
func (s *DescriptionStage) Name() string { return StageDescription }

// Scope returns the partitioning of the stage
func (s *DescriptionStage) Scope() Scope { return ScopeOwner }

// Run groups orphan movements by description and matches them exactly
func (s *DescriptionStage) Run(ctx context.Context, input *PartitionInput) (*models.Assignment, error) {
	invCounterparties := make(map[string]bool)
	for _, r := range input.Invoices {
		invCounterparties[r.CounterpartyID] = true
	}
	movCounterparties := make(map[string]bool)
	for _, r := range input.Movements {
		movCounterparties[r.CounterpartyID] = true
	}

	var orphanInvoices []*models.Record
	for _, r := range input.Invoices {
		if !movCounterparties[r.CounterpartyID] {
			orphanInvoices = append(orphanInvoices, r)
		}
	}
	orphanMovements := make(map[models.PartitionKey][]*models.Record)
	orphans := 0
	for _, r := range input.Movements {
		if !invCounterparties[r.CounterpartyID] {
			orphanMovements[r.Key()] = append(orphanMovements[r.Key()], r)
			orphans++
		}
	}

	invByAmount := matcher.NewExactAmountIndex(grouping.Singletons(orphanInvoices))

	var candidates []*models.Candidate
	groups := 0
	for _, key := range models.SortedPartitionKeys(orphanMovements) {
		built, err := s.grouper.Build(orphanMovements[key])
		if err != nil {
			return nil, err
		}
		groups += len(built)

		for _, mov := range built {
			for _, inv := range invByAmount.Get(mov.Amount) {
				c, _, err := s.scorer.Score(inv, mov, false)
				if err != nil {
					return nil, err
				}
				if c != nil && c.RelAmountDiff == 0 {
					candidates = append(candidates, c)
				}
			}
		}
	}

	s.logger.WithFields(logger.Fields{
		"owner":            input.Partition.OwnerID,
		"orphan_invoices":  len(orphanInvoices),
		"orphan_movements": orphans,
		"groups":           groups,
		"candidates":       len(candidates),
	}).Debug("Built description candidates")

	return s.solve(ctx, StageDescription, input, candidates)
}
