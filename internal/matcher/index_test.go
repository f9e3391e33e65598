package matcher

import (
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"golang-payment-matcher/internal/models"
)

var testBaseDate = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func createTestGroup(kind models.Kind, counterparty, id, amount string, day int) *models.Group {
	var r *models.Record
	if kind == models.KindInvoice {
		r = models.NewInvoice("O1", counterparty, id, decimal.RequireFromString(amount), testBaseDate.AddDate(0, 0, day))
	} else {
		r = models.NewMovement("O1", counterparty, id, decimal.RequireFromString(amount), testBaseDate.AddDate(0, 0, day), "")
	}
	return models.Singleton(r)
}

func pairSet(pairs []Pair) map[string]bool {
	set := make(map[string]bool, len(pairs))
	for _, p := range pairs {
		set[p.Invoice.Members[0].ID+"/"+p.Movement.Members[0].ID] = true
	}
	return set
}

func TestIndexerBinsAndNeighbourhood(t *testing.T) {
	ix := &Indexer{AmountBin: decimal.NewFromInt(1000), WindowSize: 2}

	invoices := []*models.Group{
		createTestGroup(models.KindInvoice, "C1", "F1", "999", 0),
		createTestGroup(models.KindInvoice, "C1", "F2", "5000", 0),
		createTestGroup(models.KindInvoice, "C1", "F3", "9100", 0),
	}
	movements := []*models.Group{
		createTestGroup(models.KindMovement, "C1", "M1", "1001", 0),
		createTestGroup(models.KindMovement, "C1", "M2", "5500", 0),
		createTestGroup(models.KindMovement, "C1", "M3", "20000", 0),
	}

	pairs, stats := ix.Index(invoices, movements)
	got := pairSet(pairs)

	tests := []struct {
		pair string
		want bool
	}{
		{"F1/M1", true},  // straddles a bucket boundary, caught by the neighbourhood pass
		{"F2/M2", true},  // same bucket
		{"F3/M3", true},  // adjacent in amount order
		{"F1/M3", false}, // far apart in both passes
		{"F2/M3", false},
	}
	for _, tt := range tests {
		if got[tt.pair] != tt.want {
			t.Errorf("pair %s: expected %v, got %v (all: %v)", tt.pair, tt.want, got[tt.pair], got)
		}
	}

	if stats.CrossProduct != 9 {
		t.Errorf("expected cross product 9, got %d", stats.CrossProduct)
	}
	if stats.Pairs != len(pairs) || stats.BinPairs+stats.NeighbourPairs != stats.Pairs {
		t.Errorf("inconsistent stats %+v for %d pairs", stats, len(pairs))
	}
	if stats.Pairs >= stats.CrossProduct {
		t.Errorf("blocking should compare fewer pairs than the cross product, got %d", stats.Pairs)
	}
}

func TestIndexerOnlyPairsWithinPartition(t *testing.T) {
	ix := NewIndexer(DefaultMatchingConfig())

	invoices := []*models.Group{
		createTestGroup(models.KindInvoice, "C1", "F1", "100", 0),
		createTestGroup(models.KindInvoice, "C2", "F2", "100", 0),
	}
	movements := []*models.Group{
		createTestGroup(models.KindMovement, "C1", "M1", "100", 0),
		createTestGroup(models.KindMovement, "C3", "M3", "100", 0),
	}

	pairs, stats := ix.Index(invoices, movements)
	if len(pairs) != 1 || pairs[0].Invoice.Members[0].ID != "F1" || pairs[0].Movement.Members[0].ID != "M1" {
		t.Fatalf("expected only F1/M1, got %v", pairSet(pairs))
	}
	if stats.Partitions != 1 {
		t.Errorf("expected 1 shared partition, got %d", stats.Partitions)
	}
}

func TestIndexerDeduplicatesAndIsDeterministic(t *testing.T) {
	ix := &Indexer{AmountBin: decimal.NewFromInt(100), WindowSize: 10}

	var invoices, movements []*models.Group
	for i := 0; i < 6; i++ {
		invoices = append(invoices, createTestGroup(models.KindInvoice, "C1", fmt.Sprintf("F%d", i), "50", i))
		movements = append(movements, createTestGroup(models.KindMovement, "C1", fmt.Sprintf("M%d", i), "50", i))
	}

	first, _ := ix.Index(invoices, movements)
	second, _ := ix.Index(invoices, movements)

	if len(first) != 36 {
		t.Errorf("expected every same-bucket pair exactly once, got %d", len(first))
	}
	if len(pairSet(first)) != len(first) {
		t.Error("pairs must be unique")
	}
	for i := range first {
		if first[i].Invoice.Key != second[i].Invoice.Key || first[i].Movement.Key != second[i].Movement.Key {
			t.Fatalf("index order differs at %d", i)
		}
	}
}

func TestIndexerEmptySide(t *testing.T) {
	ix := NewIndexer(DefaultMatchingConfig())
	invoices := []*models.Group{createTestGroup(models.KindInvoice, "C1", "F1", "100", 0)}

	pairs, stats := ix.IndexPartition(invoices, nil)
	if len(pairs) != 0 {
		t.Errorf("expected no pairs, got %d", len(pairs))
	}
	if stats.CrossProduct != 0 {
		t.Errorf("expected empty cross product, got %d", stats.CrossProduct)
	}
}

func TestBucket(t *testing.T) {
	ix := &Indexer{AmountBin: decimal.NewFromInt(1000)}
	tests := []struct {
		amount string
		want   int64
	}{
		{"0.01", 0},
		{"999.99", 0},
		{"1000", 1},
		{"25999", 25},
	}
	for _, tt := range tests {
		if got := ix.Bucket(decimal.RequireFromString(tt.amount)); got != tt.want {
			t.Errorf("Bucket(%s) = %d, want %d", tt.amount, got, tt.want)
		}
	}
}

func TestExactAmountIndex(t *testing.T) {
	a := createTestGroup(models.KindMovement, "C1", "M1", "100.00", 0)
	b := createTestGroup(models.KindMovement, "C1", "M2", "100", 1)
	c := createTestGroup(models.KindMovement, "C1", "M3", "100.01", 1)

	index := NewExactAmountIndex([]*models.Group{a, b, c})
	if got := index.Get(decimal.NewFromInt(100)); len(got) != 2 {
		t.Errorf("expected 2 groups at 100, got %d", len(got))
	}
	if !index.Has(decimal.RequireFromString("100.010")) {
		t.Error("expected 100.010 to match 100.01")
	}
	if index.Has(decimal.NewFromInt(99)) {
		t.Error("did not expect a group at 99")
	}
}
