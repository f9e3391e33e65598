package matcher

import (
	"testing"

	"github.com/shopspring/decimal"

	"golang-payment-matcher/internal/models"
)

func TestDetectDuplicates(t *testing.T) {
	inv := func(counterparty, id, amount string, day int) *models.Record {
		return models.NewInvoice("O1", counterparty, id, decimal.RequireFromString(amount), testBaseDate.AddDate(0, 0, day))
	}
	mov := func(counterparty, id, amount string, day int) *models.Record {
		return models.NewMovement("O1", counterparty, id, decimal.RequireFromString(amount), testBaseDate.AddDate(0, 0, day), "")
	}

	records := []*models.Record{
		inv("C1", "F2", "100.00", 0),
		inv("C1", "F1", "100", 0),
		inv("C1", "F3", "100", 1), // other day
		inv("C2", "F4", "100", 0), // other counterparty
		mov("C1", "M1", "100", 0), // other kind
		mov("", "M2", "50", 3),
		mov("", "M3", "50", 3),
		mov("", "M4", "50", 3),
	}

	groups := DetectDuplicates(records)
	if len(groups) != 2 {
		t.Fatalf("Expected 2 duplicate groups, got %d: %+v", len(groups), groups)
	}

	first := groups[0]
	if first.Kind != models.KindInvoice || len(first.IDs) != 2 || first.IDs[0] != "F1" || first.IDs[1] != "F2" {
		t.Errorf("Unexpected invoice group: %+v", first)
	}
	if first.GroupID != "DUP_invoice_F1" {
		t.Errorf("Unexpected group id %s", first.GroupID)
	}

	second := groups[1]
	if second.Kind != models.KindMovement || len(second.IDs) != 3 || second.CounterpartyID != "" {
		t.Errorf("Unexpected movement group: %+v", second)
	}
	if second.Reason != "3 movements with amount 50 on 2024-01-04" {
		t.Errorf("Unexpected reason %q", second.Reason)
	}
}

func TestDetectDuplicates_None(t *testing.T) {
	records := []*models.Record{
		models.NewInvoice("O1", "C1", "F1", decimal.NewFromInt(10), testBaseDate),
		models.NewInvoice("O2", "C1", "F1", decimal.NewFromInt(10), testBaseDate),
	}
	if groups := DetectDuplicates(records); len(groups) != 0 {
		t.Errorf("Records of different owners are not duplicates, got %+v", groups)
	}
}
