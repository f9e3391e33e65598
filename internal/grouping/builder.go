// Package grouping enumerates the candidate groups of one partition: every
// combination of at least two records that falls inside a sliding window of
// MaxGroupLen date-ordered records and whose members span at most
// MaxGroupDateDiff days.
package grouping

import (
	"golang-payment-matcher/internal/matcher"
	"golang-payment-matcher/internal/models"
	"golang-payment-matcher/pkg/errors"
	"golang-payment-matcher/pkg/logger"
)

// Builder enumerates window-bounded groups of same-kind records
type Builder struct {
	MaxGroupLen         int
	MaxGroupDateDiff    int
	MaxSubsetsPerWindow int
	logger              logger.Logger
}

// NewBuilder creates a builder from the matching configuration
func NewBuilder(config *matcher.MatchingConfig) *Builder {
	return &Builder{
		MaxGroupLen:         config.MaxGroupLen,
		MaxGroupDateDiff:    config.MaxGroupDateDiff,
		MaxSubsetsPerWindow: config.MaxSubsetsPerWindow,
		logger:              logger.WithComponent("group_builder"),
	}
}

// WithLogger replaces the builder's logger
func (b *Builder) WithLogger(l logger.Logger) *Builder {
	b.logger = l.WithComponent("group_builder")
	return b
}

// Validate rejects window settings that cannot be enumerated safely
func (b *Builder) Validate() error {
	if b.MaxGroupLen < 1 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "max_group_len", b.MaxGroupLen, nil)
	}
	if b.MaxGroupDateDiff < 0 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "max_group_date_diff", b.MaxGroupDateDiff, nil)
	}
	if matcher.SubsetsPerWindow(b.MaxGroupLen) > float64(b.MaxSubsetsPerWindow) {
		return errors.ConfigurationError(errors.CodeCombinatorialLimit, "max_group_len", b.MaxGroupLen, nil)
	}
	return nil
}

// Build returns every group of size 2..MaxGroupLen found inside a sliding window
// over the records. Records must be valid, of one kind and one partition, and
// sorted by date ascending. Records sharing a date are ordered by ID, so the
// result does not depend on the caller's tie order. Singletons are not emitted.
func (b *Builder) Build(records []*models.Record) ([]*models.Group, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	if err := checkSequence(records); err != nil {
		return nil, err
	}
	records = append([]*models.Record(nil), records...)
	models.SortRecords(records)

	n := len(records)
	if n < 2 || b.MaxGroupLen < 2 {
		return nil, nil
	}

	windows := n - b.MaxGroupLen + 1
	if windows < 1 {
		windows = 1
	}

	seen := make(map[models.GroupKey]struct{})
	var groups []*models.Group
	enumerated := 0

	for start := 0; start < windows; start++ {
		windowLen := b.MaxGroupLen
		if n-start < windowLen {
			windowLen = n - start
		}
		window := records[start : start+windowLen]

		for size := 2; size <= windowLen; size++ {
			forEachCombination(windowLen, size, func(idx []int) {
				enumerated++
				ids := make([]string, size)
				for i, j := range idx {
					ids[i] = window[j].ID
				}
				key := models.NewGroupKey(window[0].OwnerID, ids)
				if _, dup := seen[key]; dup {
					return
				}
				seen[key] = struct{}{}

				first, last := window[idx[0]], window[idx[size-1]]
				if models.DaysBetween(first.Date, last.Date) > b.MaxGroupDateDiff {
					return
				}

				members := make([]*models.Record, size)
				for i, j := range idx {
					members[i] = window[j]
				}
				groups = append(groups, newOrderedGroup(key, members))
			})
		}
	}

	b.logger.WithFields(logger.Fields{
		"partition":  records[0].Key().String(),
		"kind":       records[0].Kind,
		"records":    n,
		"enumerated": enumerated,
		"groups":     len(groups),
	}).Debug("Built groups")

	return groups, nil
}

// BuildAll returns the singletons of every record followed by the Build groups
func (b *Builder) BuildAll(records []*models.Record) ([]*models.Group, error) {
	groups, err := b.Build(records)
	if err != nil {
		return nil, err
	}

	out := make([]*models.Group, 0, len(records)+len(groups))
	for _, r := range records {
		out = append(out, models.Singleton(r))
	}
	return append(out, groups...), nil
}

// Singletons wraps each record in its own group
func Singletons(records []*models.Record) []*models.Group {
	out := make([]*models.Group, len(records))
	for i, r := range records {
		out[i] = models.Singleton(r)
	}
	return out
}

// newOrderedGroup builds a group from members already in date order and of one partition
func newOrderedGroup(key models.GroupKey, members []*models.Record) *models.Group {
	first := members[0]
	return &models.Group{
		Kind:           first.Kind,
		OwnerID:        first.OwnerID,
		CounterpartyID: first.CounterpartyID,
		Members:        members,
		Amount:         models.SumAmounts(members),
		Key:            key,
		FirstDate:      first.Date,
		LastDate:       members[len(members)-1].Date,
	}
}

// checkSequence validates the Build preconditions
func checkSequence(records []*models.Record) error {
	for i, r := range records {
		if err := r.Validate(); err != nil {
			return err
		}
		if i == 0 {
			continue
		}
		prev := records[i-1]
		if r.Kind != prev.Kind {
			return errors.ValidationError(errors.CodeMixedPartition, "kind", r.Kind, nil).
				WithContext("element", r.ElementKey().String())
		}
		if r.Key() != prev.Key() {
			return errors.ValidationError(errors.CodeMixedPartition, "partition", r.Key().String(), nil).
				WithContext("expected", prev.Key().String())
		}
		if r.Date.Before(prev.Date) {
			return errors.ValidationError(errors.CodeUnsortedInput, "date", i, nil).
				WithContext("element", r.ElementKey().String())
		}
	}
	return nil
}

// forEachCombination calls fn with every k-combination of 0..n-1 in lexicographic
// order. The index slice is reused between calls.
func forEachCombination(n, k int, fn func(idx []int)) {
	if k > n || k <= 0 {
		return
	}
	idx := make([]int, k)
	for i := range idx {
		idx[i] = i
	}
	for {
		fn(idx)

		i := k - 1
		for i >= 0 && idx[i] == n-k+i {
			i--
		}
		if i < 0 {
			return
		}
		idx[i]++
		for j := i + 1; j < k; j++ {
			idx[j] = idx[j-1] + 1
		}
	}
}
