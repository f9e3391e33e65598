package matcher

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"

	"golang-payment-matcher/internal/models"
	"golang-payment-matcher/pkg/errors"
)

func TestAmountSimilarity(t *testing.T) {
	if got := AmountSimilarity(0, 0.05); got != 1 {
		t.Errorf("identical amounts should score 1, got %f", got)
	}
	if got := AmountSimilarity(0.05, 0.05); math.Abs(got-math.Exp(-1)) > 1e-12 {
		t.Errorf("expected exp(-1) at d = scale, got %f", got)
	}

	prev := 1.0
	for d := 0.001; d <= 0.2; d += 0.001 {
		got := AmountSimilarity(d, 0.05)
		if got > prev {
			t.Fatalf("similarity must not increase with the difference: %f at %f after %f", got, d, prev)
		}
		if got < 0 || got > 1 {
			t.Fatalf("similarity out of [0,1]: %f", got)
		}
		prev = got
	}
}

func TestDateScore(t *testing.T) {
	tests := []struct {
		name  string
		diff  int
		clamp bool
		want  float64
	}{
		{"same day", 0, true, 1},
		{"half decay", 90, true, 0.5},
		{"at decay", 180, true, 0},
		{"past decay clamped", 200, true, 0},
		{"past decay unclamped", 270, false, -0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DateScore(tt.diff, 180, tt.clamp); math.Abs(got-tt.want) > 1e-12 {
				t.Errorf("expected %f, got %f", tt.want, got)
			}
		})
	}
}

func TestSizeScore(t *testing.T) {
	if got := SizeScore(1, 4); got != 1 {
		t.Errorf("1x1 should score 1, got %f", got)
	}
	if got := SizeScore(16, 4); math.Abs(got-0.5) > 1e-12 {
		t.Errorf("largest pair should score 0.5, got %f", got)
	}
	if got := SizeScore(3, 1); got != 1 {
		t.Errorf("no penalty without grouping, got %f", got)
	}
	if SizeScore(2, 4) <= SizeScore(4, 4) {
		t.Error("larger groups must be penalised more")
	}
}

func TestScoreGates(t *testing.T) {
	scorer := NewScorer(DefaultMatchingConfig())

	tests := []struct {
		name       string
		invAmount  string
		invDay     int
		movAmount  string
		movDay     int
		wantReject Rejection
	}{
		{"exact same day", "1000", 10, "1000", 10, RejectNone},
		{"movement 90 days after", "1000", 0, "1000", 90, RejectNone},
		{"movement 91 days after", "1000", 0, "1000", 91, RejectMovementTooLate},
		{"movement 14 days before", "1000", 20, "1000", 6, RejectNone},
		{"movement 15 days before", "1000", 20, "1000", 5, RejectMovementTooEarly},
		{"amount at gate", "1000", 0, "950", 0, RejectNone},
		{"amount past gate", "1000", 0, "949", 0, RejectAmount},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := createTestGroup(models.KindInvoice, "C1", "F1", tt.invAmount, tt.invDay)
			mov := createTestGroup(models.KindMovement, "C1", "M1", tt.movAmount, tt.movDay)

			c, rejection, err := scorer.Score(inv, mov, false)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if rejection != tt.wantReject {
				t.Fatalf("expected rejection %q, got %q", tt.wantReject, rejection)
			}
			if tt.wantReject == RejectNone && c == nil {
				t.Fatal("expected a candidate")
			}
		})
	}
}

func TestScoreValues(t *testing.T) {
	config := DefaultMatchingConfig()
	scorer := NewScorer(config)

	inv := createTestGroup(models.KindInvoice, "C1", "F1", "1000", 0)
	mov := createTestGroup(models.KindMovement, "C1", "M1", "990", 18)

	c, _, err := scorer.Score(inv, mov, false)
	if err != nil || c == nil {
		t.Fatalf("expected candidate, got %v %v", c, err)
	}
	if math.Abs(c.RelAmountDiff-0.01) > 1e-12 {
		t.Errorf("expected rel diff 0.01, got %f", c.RelAmountDiff)
	}
	if c.DateDiff != 18 {
		t.Errorf("expected date diff 18, got %d", c.DateDiff)
	}
	wantSim := math.Exp(-math.Pow(0.01/0.05, 2))
	wantDate := 1 - 18.0/180
	if math.Abs(c.Score-wantSim*wantDate) > 1e-12 {
		t.Errorf("expected score %f, got %f", wantSim*wantDate, c.Score)
	}
	if c.Score < 0 || c.Score > 1 {
		t.Errorf("score out of [0,1]: %f", c.Score)
	}
}

func TestScoreGroupDateDiffAndSizePenalty(t *testing.T) {
	config := DefaultMatchingConfig()
	scorer := NewScorer(config)

	r1 := models.NewInvoice("O1", "C1", "F1", decimal.NewFromInt(400), testBaseDate)
	r2 := models.NewInvoice("O1", "C1", "F2", decimal.NewFromInt(600), testBaseDate.AddDate(0, 0, 30))
	inv, _ := models.NewGroup(r1, r2)
	mov := createTestGroup(models.KindMovement, "C1", "M1", "1000", 10)

	c, _, err := scorer.Score(inv, mov, true)
	if err != nil || c == nil {
		t.Fatalf("expected candidate, got %v %v", c, err)
	}
	// |last_mov-first_inv| = 10, |first_inv-first_mov| = 10, |last_inv-first_mov| = 20
	if c.DateDiff != 20 {
		t.Errorf("expected date diff 20, got %d", c.DateDiff)
	}
	if math.Abs(c.SizeScore-SizeScore(2, 4)) > 1e-12 {
		t.Errorf("expected size score %f, got %f", SizeScore(2, 4), c.SizeScore)
	}
}

func TestScoreRejectsNonPositiveInvoiceAmount(t *testing.T) {
	scorer := NewScorer(DefaultMatchingConfig())
	inv := createTestGroup(models.KindInvoice, "C1", "F1", "1", 0)
	inv.Amount = decimal.Zero
	mov := createTestGroup(models.KindMovement, "C1", "M1", "1", 0)

	_, _, err := scorer.Score(inv, mov, false)
	if !errors.HasCodeInChain(err, errors.CodeInvalidAmount) {
		t.Fatalf("expected invalid amount error, got %v", err)
	}
}

func TestCombineWeightedSum(t *testing.T) {
	config := DefaultMatchingConfig()
	config.Combination = CombineWeightedSum
	config.Weights = ScoringWeights{Similarity: 2, Date: 1, Size: 1}
	scorer := NewScorer(config)

	got := scorer.Combine(1, 0.5, 0.5)
	if math.Abs(got-0.75) > 1e-12 {
		t.Errorf("expected 0.75, got %f", got)
	}
}

func TestScoreAllCountsRejections(t *testing.T) {
	scorer := NewScorer(DefaultMatchingConfig())
	inv := createTestGroup(models.KindInvoice, "C1", "F1", "1000", 0)
	pairs := []Pair{
		{Invoice: inv, Movement: createTestGroup(models.KindMovement, "C1", "M1", "1000", 1)},
		{Invoice: inv, Movement: createTestGroup(models.KindMovement, "C1", "M2", "10", 1)},
		{Invoice: inv, Movement: createTestGroup(models.KindMovement, "C1", "M3", "1000", 200)},
	}

	candidates, stats, err := scorer.ScoreAll(pairs, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(candidates) != 1 || stats.Kept != 1 || stats.Scored != 3 {
		t.Errorf("unexpected result: %d candidates, stats %+v", len(candidates), stats)
	}
	if stats.Rejections[RejectAmount] != 1 || stats.Rejections[RejectMovementTooLate] != 1 {
		t.Errorf("unexpected rejections %v", stats.Rejections)
	}
}

func TestDateScoreClampKeepsScoresInUnitInterval(t *testing.T) {
	config := DefaultMatchingConfig()
	config.MaxMovDaysAfterInv = 400
	scorer := NewScorer(config)

	inv := createTestGroup(models.KindInvoice, "C1", "F1", "1000", 0)
	mov := createTestGroup(models.KindMovement, "C1", "M1", "1000", 300)

	c, rejection, err := scorer.Score(inv, mov, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c != nil || rejection != RejectScore {
		t.Errorf("a zero date score should drop the candidate, got %v %q", c, rejection)
	}
}
