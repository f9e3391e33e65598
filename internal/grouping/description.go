package grouping

import (
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"

	"golang-payment-matcher/internal/models"
	"golang-payment-matcher/pkg/errors"
	"golang-payment-matcher/pkg/logger"
)

// DescriptionGrouper groups movements that carry no counterparty but share a
// near-identical description, such as repeated transfers from one payer whose
// bank omits the payer identifier.
type DescriptionGrouper struct {
	// Threshold is the minimum normalised Levenshtein similarity in [0, 1]
	Threshold float64
	// MaxDaysApart bounds the distance between an anchor and the movements grouped with it
	MaxDaysApart int
	// MaxGroupLen bounds the group size
	MaxGroupLen int
	// MaxWindow bounds how many similar followers of an anchor are combined
	MaxWindow int
	logger    logger.Logger
}

// NewDescriptionGrouper creates a grouper with the given similarity threshold and day window
func NewDescriptionGrouper(threshold float64, maxDaysApart, maxGroupLen int) *DescriptionGrouper {
	return &DescriptionGrouper{
		Threshold:    threshold,
		MaxDaysApart: maxDaysApart,
		MaxGroupLen:  maxGroupLen,
		MaxWindow:    2 * maxGroupLen,
		logger:       logger.WithComponent("description_grouper"),
	}
}

// Validate checks the grouper settings
func (d *DescriptionGrouper) Validate() error {
	if d.Threshold < 0 || d.Threshold > 1 {
		return errors.ConfigurationError(errors.CodeOutOfRange, "description_similarity", d.Threshold, nil)
	}
	if d.MaxDaysApart < 0 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "description_max_days_apart", d.MaxDaysApart, nil)
	}
	if d.MaxGroupLen < 2 || d.MaxWindow < 1 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "max_group_len", d.MaxGroupLen, nil).
			WithSuggestion("description grouping needs groups of at least two movements")
	}
	return nil
}

// Similarity returns 1 - distance/maxLen over the normalised descriptions
func Similarity(a, b string) float64 {
	a, b = normalizeDescription(a), normalizeDescription(b)
	if a == "" && b == "" {
		return 1
	}

	maxLen := utf8.RuneCountInString(a)
	if l := utf8.RuneCountInString(b); l > maxLen {
		maxLen = l
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(maxLen)
}

func normalizeDescription(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// Build groups date-sorted movements of one owner. For every anchor, the later
// movements within MaxDaysApart whose description is similar to the anchor's
// form a window; every subset of 1..MaxGroupLen-1 of that window joined with the
// anchor is a group. Movements with an empty description are skipped.
func (d *DescriptionGrouper) Build(movements []*models.Record) ([]*models.Group, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	if err := checkSequence(movements); err != nil {
		return nil, err
	}

	seen := make(map[models.GroupKey]struct{})
	var groups []*models.Group

	for i, anchor := range movements {
		if anchor.Kind != models.KindMovement || normalizeDescription(anchor.Description) == "" {
			continue
		}

		var window []*models.Record
		for _, next := range movements[i+1:] {
			if models.DaysBetween(anchor.Date, next.Date) > d.MaxDaysApart {
				break
			}
			if Similarity(anchor.Description, next.Description) >= d.Threshold {
				window = append(window, next)
				if len(window) == d.MaxWindow {
					break
				}
			}
		}

		maxExtra := d.MaxGroupLen - 1
		if len(window) < maxExtra {
			maxExtra = len(window)
		}
		for size := 1; size <= maxExtra; size++ {
			forEachCombination(len(window), size, func(idx []int) {
				members := make([]*models.Record, 0, size+1)
				ids := make([]string, 0, size+1)
				members = append(members, anchor)
				ids = append(ids, anchor.ID)
				for _, j := range idx {
					members = append(members, window[j])
					ids = append(ids, window[j].ID)
				}

				key := models.NewGroupKey(anchor.OwnerID, ids)
				if _, dup := seen[key]; dup {
					return
				}
				seen[key] = struct{}{}
				groups = append(groups, newOrderedGroup(key, members))
			})
		}
	}

	if len(movements) > 0 {
		d.logger.WithFields(logger.Fields{
			"owner":     movements[0].OwnerID,
			"movements": len(movements),
			"groups":    len(groups),
		}).Debug("Built description groups")
	}

	return groups, nil
}
