// Package models holds the data types shared by every matching component:
// elementary invoice and movement records, the groups built from them, scored
// candidates, solver assignments and the exploded match records that form the
// output of a run.
package models

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"golang-payment-matcher/pkg/errors"
)

// DateLayout is the canonical date-only layout used in inputs and outputs
const DateLayout = "2006-01-02"

// Kind distinguishes the two sides of a match
type Kind string

const (
	// KindInvoice marks an issued invoice
	KindInvoice Kind = "invoice"
	// KindMovement marks a bank deposit
	KindMovement Kind = "movement"
)

// String returns the string representation of Kind
func (k Kind) String() string {
	return string(k)
}

// IsValid checks if the kind is known
func (k Kind) IsValid() bool {
	return k == KindInvoice || k == KindMovement
}

// Opposite returns the other side of a match
func (k Kind) Opposite() Kind {
	if k == KindInvoice {
		return KindMovement
	}
	return KindInvoice
}

// PartitionKey identifies the (owner, counterparty) slice that candidates are generated in
type PartitionKey struct {
	OwnerID        string
	CounterpartyID string
}

// String returns "owner|counterparty"
func (p PartitionKey) String() string {
	return p.OwnerID + "|" + p.CounterpartyID
}

// Less orders partition keys by owner then counterparty
func (p PartitionKey) Less(other PartitionKey) bool {
	if p.OwnerID != other.OwnerID {
		return p.OwnerID < other.OwnerID
	}
	return p.CounterpartyID < other.CounterpartyID
}

// ElementKey is the identity of an elementary record. Invoice numbers are only
// unique within an owner, so the owner is part of the key.
type ElementKey struct {
	Kind    Kind
	OwnerID string
	ID      string
}

// String returns a readable form of the key
func (e ElementKey) String() string {
	return fmt.Sprintf("%s:%s/%s", e.Kind, e.OwnerID, e.ID)
}

// Record is an elementary invoice or movement
type Record struct {
	Kind           Kind            `json:"kind"`
	OwnerID        string          `json:"owner_id"`
	CounterpartyID string          `json:"counterparty_id"`
	ID             string          `json:"id"`
	Amount         decimal.Decimal `json:"amount"`
	Date           time.Time       `json:"date"`
	Description    string          `json:"description,omitempty"`
}

// NewInvoice creates an invoice record; the date is truncated to the day
func NewInvoice(ownerID, counterpartyID, number string, amount decimal.Decimal, date time.Time) *Record {
	return &Record{
		Kind:           KindInvoice,
		OwnerID:        ownerID,
		CounterpartyID: counterpartyID,
		ID:             number,
		Amount:         amount,
		Date:           NormalizeDate(date),
	}
}

// NewMovement creates a movement record; the date is truncated to the day
func NewMovement(ownerID, counterpartyID, movementID string, amount decimal.Decimal, date time.Time, description string) *Record {
	return &Record{
		Kind:           KindMovement,
		OwnerID:        ownerID,
		CounterpartyID: counterpartyID,
		ID:             movementID,
		Amount:         amount,
		Date:           NormalizeDate(date),
		Description:    description,
	}
}

// Validate performs the record-level checks required before grouping
func (r *Record) Validate() error {
	if !r.Kind.IsValid() {
		return errors.ValidationError(errors.CodeOutOfRange, "kind", r.Kind, nil)
	}
	if strings.TrimSpace(r.OwnerID) == "" {
		return errors.ValidationError(errors.CodeMissingField, "owner_id", r.OwnerID, nil).
			WithContext("id", r.ID)
	}
	if strings.TrimSpace(r.ID) == "" {
		return errors.ValidationError(errors.CodeMissingField, "id", r.ID, nil).
			WithContext("owner_id", r.OwnerID)
	}
	if !r.Amount.IsPositive() {
		return errors.ValidationError(errors.CodeInvalidAmount, "amount", r.Amount.String(), nil).
			WithContext("element", r.ElementKey().String())
	}
	if r.Date.IsZero() {
		return errors.ValidationError(errors.CodeInvalidDate, "date", r.Date, nil).
			WithContext("element", r.ElementKey().String())
	}
	return nil
}

// Key returns the partition the record belongs to
func (r *Record) Key() PartitionKey {
	return PartitionKey{OwnerID: r.OwnerID, CounterpartyID: r.CounterpartyID}
}

// ElementKey returns the elementary identity of the record
func (r *Record) ElementKey() ElementKey {
	return ElementKey{Kind: r.Kind, OwnerID: r.OwnerID, ID: r.ID}
}

// String returns a string representation of the Record
func (r *Record) String() string {
	return fmt.Sprintf("%s{Owner: %s, Counterparty: %s, ID: %s, Amount: %s, Date: %s}",
		r.Kind, r.OwnerID, r.CounterpartyID, r.ID, r.Amount.String(), r.Date.Format(DateLayout))
}

// MarshalJSON writes the amount as a string and the date as YYYY-MM-DD
func (r *Record) MarshalJSON() ([]byte, error) {
	type Alias Record
	return json.Marshal(&struct {
		Amount string `json:"amount"`
		Date   string `json:"date"`
		*Alias
	}{
		Amount: r.Amount.String(),
		Date:   r.Date.Format(DateLayout),
		Alias:  (*Alias)(r),
	})
}

// NormalizeDate drops the time of day and location, keeping the calendar date
func NormalizeDate(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns the signed number of calendar days from "from" to "to"
func DaysBetween(from, to time.Time) int {
	return int(NormalizeDate(to).Sub(NormalizeDate(from)).Hours() / 24)
}

// SortRecords sorts records in place by date, then ID
func SortRecords(records []*Record) {
	sort.SliceStable(records, func(i, j int) bool {
		if !records[i].Date.Equal(records[j].Date) {
			return records[i].Date.Before(records[j].Date)
		}
		return records[i].ID < records[j].ID
	})
}

// PartitionRecords splits records by (owner, counterparty), keeping input order inside each slice
func PartitionRecords(records []*Record) map[PartitionKey][]*Record {
	partitions := make(map[PartitionKey][]*Record)
	for _, r := range records {
		partitions[r.Key()] = append(partitions[r.Key()], r)
	}
	return partitions
}

// SortedPartitionKeys returns the keys of a partition map in deterministic order
func SortedPartitionKeys[V any](partitions map[PartitionKey]V) []PartitionKey {
	keys := make([]PartitionKey, 0, len(partitions))
	for k := range partitions {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	return keys
}

// SumAmounts returns the total amount of the records
func SumAmounts(records []*Record) decimal.Decimal {
	total := decimal.Zero
	for _, r := range records {
		total = total.Add(r.Amount)
	}
	return total
}
