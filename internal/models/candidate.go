package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Candidate is a scored pairing of an invoice group with a movement group
type Candidate struct {
	Invoices         *Group  `json:"-"`
	Movements        *Group  `json:"-"`
	RelAmountDiff    float64 `json:"rel_amount_diff"`
	AmountSimilarity float64 `json:"amount_similarity"`
	DateDiff         int     `json:"date_diff"`
	DateScore        float64 `json:"date_score"`
	SizeScore        float64 `json:"size_score"`
	Score            float64 `json:"score"`
}

// Size returns len(invoices) * len(movements)
func (c *Candidate) Size() int {
	return c.Invoices.Len() * c.Movements.Len()
}

// PairKey identifies the candidate by its two group keys
func (c *Candidate) PairKey() string {
	return string(c.Invoices.Key) + "=>" + string(c.Movements.Key)
}

// Partition returns the invoice-side partition of the candidate
func (c *Candidate) Partition() PartitionKey {
	return c.Invoices.Partition()
}

// ElementKeys returns every elementary key the candidate would consume
func (c *Candidate) ElementKeys() []ElementKey {
	return append(c.Invoices.ElementKeys(), c.Movements.ElementKeys()...)
}

// String returns a short description of the candidate
func (c *Candidate) String() string {
	return fmt.Sprintf("Candidate{inv: %v, mov: %v, score: %.4f}",
		c.Invoices.MemberIDs(), c.Movements.MemberIDs(), c.Score)
}

// SolveStatus describes how an assignment was obtained
type SolveStatus string

const (
	// StatusHeuristic is a greedy result without an optimality certificate
	StatusHeuristic SolveStatus = "heuristic"
	// StatusOptimal is a proven optimum
	StatusOptimal SolveStatus = "optimal"
	// StatusGapLimit is within the configured relative gap of the optimum
	StatusGapLimit SolveStatus = "gap_limit"
	// StatusTimeLimit is the best solution found before the time limit
	StatusTimeLimit SolveStatus = "time_limit"
)

// Assignment is the set of candidates a solver selected for one partition
type Assignment struct {
	Stage     string        `json:"stage"`
	Strategy  string        `json:"strategy"`
	Partition PartitionKey  `json:"partition"`
	Selected  []*Candidate  `json:"selected"`
	Objective float64       `json:"objective"`
	BestBound float64       `json:"best_bound"`
	Status    SolveStatus   `json:"status"`
	Optimal   bool          `json:"optimal"`
	Rounds    int           `json:"rounds,omitempty"`
	Nodes     int           `json:"nodes,omitempty"`
	Pool      int           `json:"pool"`
	Duration  time.Duration `json:"duration"`
}

// MatchRecord is one exploded (invoice, movement) pair of an accepted candidate
type MatchRecord struct {
	Stage               string          `json:"stage"`
	OwnerID             string          `json:"owner_id"`
	CounterpartyID      string          `json:"counterparty_id"`
	InvoiceID           string          `json:"invoice_id"`
	InvoiceAmount       decimal.Decimal `json:"invoice_amount"`
	InvoiceDate         time.Time       `json:"invoice_date"`
	MovementID          string          `json:"movement_id"`
	MovementAmount      decimal.Decimal `json:"movement_amount"`
	MovementDate        time.Time       `json:"movement_date"`
	MovementDescription string          `json:"movement_description,omitempty"`
	InvoiceGroupSize    int             `json:"invoice_group_size"`
	MovementGroupSize   int             `json:"movement_group_size"`
	GroupRef            string          `json:"group_ref"`
	Score               float64         `json:"score"`
	DateDiff            int             `json:"date_diff"`
}

// Explode turns an accepted candidate into the cross product of its members
func Explode(stage string, c *Candidate) []*MatchRecord {
	out := make([]*MatchRecord, 0, c.Size())
	ref := c.PairKey()
	for _, inv := range c.Invoices.Members {
		for _, mov := range c.Movements.Members {
			out = append(out, &MatchRecord{
				Stage:               stage,
				OwnerID:             inv.OwnerID,
				CounterpartyID:      inv.CounterpartyID,
				InvoiceID:           inv.ID,
				InvoiceAmount:       inv.Amount,
				InvoiceDate:         inv.Date,
				MovementID:          mov.ID,
				MovementAmount:      mov.Amount,
				MovementDate:        mov.Date,
				MovementDescription: mov.Description,
				InvoiceGroupSize:    c.Invoices.Len(),
				MovementGroupSize:   c.Movements.Len(),
				GroupRef:            ref,
				Score:               c.Score,
				DateDiff:            c.DateDiff,
			})
		}
	}
	return out
}

// MatchRef is the movement an invoice was matched to, as read back from a
// match file or taken from a result
type MatchRef struct {
	OwnerID        string          `json:"owner_id"`
	CounterpartyID string          `json:"counterparty_id"`
	InvoiceID      string          `json:"invoice_id"`
	MovementID     string          `json:"movement_id"`
	MovementAmount decimal.Decimal `json:"movement_amount"`
	MovementDate   time.Time       `json:"movement_date"`
}

// Ref returns the match reference of a match record
func (m *MatchRecord) Ref() *MatchRef {
	return &MatchRef{
		OwnerID:        m.OwnerID,
		CounterpartyID: m.CounterpartyID,
		InvoiceID:      m.InvoiceID,
		MovementID:     m.MovementID,
		MovementAmount: m.MovementAmount,
		MovementDate:   m.MovementDate,
	}
}
