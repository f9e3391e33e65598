package matcher

import (
	"math"

	"golang-payment-matcher/internal/models"
	"golang-payment-matcher/pkg/errors"
)

// Rejection explains why a pair did not become a candidate
type Rejection string

const (
	// RejectNone marks an accepted pair
	RejectNone Rejection = ""
	// RejectMovementTooLate means the last movement is too far after the first invoice
	RejectMovementTooLate Rejection = "movement_too_late"
	// RejectMovementTooEarly means the first movement is too far before the first invoice
	RejectMovementTooEarly Rejection = "movement_too_early"
	// RejectAmount means the relative amount difference exceeds the gate
	RejectAmount Rejection = "amount"
	// RejectScore means the combined score is not positive
	RejectScore Rejection = "score"
)

// Scorer turns group pairs into scored candidates
type Scorer struct {
	config *MatchingConfig
}

// NewScorer creates a scorer bound to a configuration
func NewScorer(config *MatchingConfig) *Scorer {
	return &Scorer{config: config}
}

// ScoreStats counts the outcome of a batch of pairs
type ScoreStats struct {
	Scored     int               `json:"scored"`
	Kept       int               `json:"kept"`
	Rejections map[Rejection]int `json:"rejections"`
}

// AmountSimilarity returns exp(-(rel/scale)^2)
func AmountSimilarity(relDiff, scale float64) float64 {
	x := relDiff / scale
	return math.Exp(-x * x)
}

// DateScore returns 1 - dateDiff/decayDays, clamped to [0, 1] when clamp is set
func DateScore(dateDiff, decayDays int, clamp bool) float64 {
	score := 1 - float64(dateDiff)/float64(decayDays)
	if clamp {
		return math.Max(0, math.Min(1, score))
	}
	return score
}

// SizeScore returns 1 - ((size-1)/(maxGroupLen^2-1))/2. A 1x1 pair scores 1 and
// the largest possible pair scores 0.5.
func SizeScore(size, maxGroupLen int) float64 {
	if maxGroupLen <= 1 {
		return 1
	}
	denom := float64(maxGroupLen*maxGroupLen - 1)
	return 1 - (float64(size-1)/denom)/2
}

// Combine folds the partial scores according to the configured combination
func (s *Scorer) Combine(similarity, date, size float64) float64 {
	w := s.config.Weights
	if s.config.Combination == CombineWeightedSum {
		return (w.Similarity*similarity + w.Date*date + w.Size*size) / (w.Similarity + w.Date + w.Size)
	}
	return (w.Similarity * similarity) * (w.Date * date) * (w.Size * size)
}

// Score gates and scores one pair. It returns (nil, rejection, nil) for pairs
// outside the amount or date windows, and an error for a non-positive invoice
// amount. When useSizePenalty is false the size score is fixed at 1.
func (s *Scorer) Score(inv, mov *models.Group, useSizePenalty bool) (*models.Candidate, Rejection, error) {
	if !inv.Amount.IsPositive() {
		return nil, RejectNone, errors.ValidationError(errors.CodeInvalidAmount, "invoice_amount", inv.Amount.String(), nil).
			WithContext("invoices", inv.MemberIDs())
	}

	after := models.DaysBetween(inv.FirstDate, mov.LastDate)
	before := models.DaysBetween(mov.FirstDate, inv.FirstDate)
	if after > s.config.MaxMovDaysAfterInv {
		return nil, RejectMovementTooLate, nil
	}
	if before > s.config.MaxMovDaysBeforeInv {
		return nil, RejectMovementTooEarly, nil
	}

	relDiff, _ := inv.Amount.Sub(mov.Amount).Abs().Div(inv.Amount).Float64()
	if relDiff > s.config.MaxRelAmountDiff {
		return nil, RejectAmount, nil
	}

	dateDiff := maxAbs(after, before, models.DaysBetween(mov.FirstDate, inv.LastDate))

	c := &models.Candidate{
		Invoices:         inv,
		Movements:        mov,
		RelAmountDiff:    relDiff,
		AmountSimilarity: AmountSimilarity(relDiff, s.config.GaussianSimilarityScale),
		DateDiff:         dateDiff,
		DateScore:        DateScore(dateDiff, s.config.DateDecayDays, s.config.ClampDateScore),
		SizeScore:        1,
	}
	if useSizePenalty {
		c.SizeScore = SizeScore(inv.Len()*mov.Len(), s.config.MaxGroupLen)
	}
	c.Score = s.Combine(c.AmountSimilarity, c.DateScore, c.SizeScore)

	if !(c.Score > 0) {
		return nil, RejectScore, nil
	}
	return c, RejectNone, nil
}

// ScoreAll scores a batch of pairs and keeps the accepted candidates. The first
// domain error aborts the batch.
func (s *Scorer) ScoreAll(pairs []Pair, useSizePenalty bool) ([]*models.Candidate, ScoreStats, error) {
	stats := ScoreStats{Rejections: make(map[Rejection]int)}
	candidates := make([]*models.Candidate, 0, len(pairs)/2)

	for _, p := range pairs {
		stats.Scored++
		c, rejection, err := s.Score(p.Invoice, p.Movement, useSizePenalty)
		if err != nil {
			return nil, stats, err
		}
		if c == nil {
			stats.Rejections[rejection]++
			continue
		}
		candidates = append(candidates, c)
	}

	stats.Kept = len(candidates)
	return candidates, stats, nil
}

func maxAbs(values ...int) int {
	m := 0
	for _, v := range values {
		if v < 0 {
			v = -v
		}
		if v > m {
			m = v
		}
	}
	return m
}
