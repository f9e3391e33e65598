// Package evaluation compares a set of matches against a reference set.
//
// Both sets are keyed by (owner, counterparty, invoice). Within a key, every
// result match is paired with at most one reference match:
//   - correct: movement amounts are equal and movement dates are at most
//     DateTolerance days apart
//   - mismatch: both sides matched the invoice, but differently
//   - extra: the invoice was matched only in the result
//   - missing: the invoice was matched only in the reference
//
// Percentages are taken over the number of evaluated rows, that is the
// union of both sets after pairing.
package evaluation

import (
	"sort"

	"github.com/shopspring/decimal"

	"golang-payment-matcher/internal/models"
	"golang-payment-matcher/pkg/errors"
	"golang-payment-matcher/pkg/logger"
)

// DefaultDateTolerance is the default number of days movement dates may differ
const DefaultDateTolerance = 7

// Outcome classifies one evaluated row
type Outcome string

const (
	OutcomeCorrect  Outcome = "correct"
	OutcomeMismatch Outcome = "mismatch"
	OutcomeExtra    Outcome = "extra"
	OutcomeMissing  Outcome = "missing"
)

// Options configures an evaluation
type Options struct {
	DateTolerance int `json:"date_tolerance" yaml:"date_tolerance"`
}

// DefaultOptions returns the default evaluation options
func DefaultOptions() Options {
	return Options{DateTolerance: DefaultDateTolerance}
}

// InvoiceKey identifies an invoice across both match sets
type InvoiceKey struct {
	OwnerID        string `json:"owner_id"`
	CounterpartyID string `json:"counterparty_id"`
	InvoiceID      string `json:"invoice_id"`
}

func keyOf(m *models.MatchRef) InvoiceKey {
	return InvoiceKey{OwnerID: m.OwnerID, CounterpartyID: m.CounterpartyID, InvoiceID: m.InvoiceID}
}

func (k InvoiceKey) less(other InvoiceKey) bool {
	if k.OwnerID != other.OwnerID {
		return k.OwnerID < other.OwnerID
	}
	if k.CounterpartyID != other.CounterpartyID {
		return k.CounterpartyID < other.CounterpartyID
	}
	return k.InvoiceID < other.InvoiceID
}

// Row is one evaluated pairing. Result or Reference is nil for extra and
// missing rows.
type Row struct {
	InvoiceKey
	Outcome   Outcome          `json:"outcome"`
	Result    *models.MatchRef `json:"result,omitempty"`
	Reference *models.MatchRef `json:"reference,omitempty"`
	// DateDiff is the absolute movement date difference in days; -1 when one side is absent
	DateDiff int `json:"date_diff"`
}

// Report is the outcome of an evaluation
type Report struct {
	Options     Options `json:"options"`
	Rows        []*Row  `json:"rows"`
	Total       int     `json:"total"`
	Correct     int     `json:"correct"`
	Mismatch    int     `json:"mismatch"`
	Extra       int     `json:"extra"`
	Missing     int     `json:"missing"`
	CorrectPct  float64 `json:"correct_pct"`
	MismatchPct float64 `json:"mismatch_pct"`
	ExtraPct    float64 `json:"extra_pct"`
	MissingPct  float64 `json:"missing_pct"`
}

// RowsWith returns the rows with the given outcome
func (r *Report) RowsWith(outcome Outcome) []*Row {
	var out []*Row
	for _, row := range r.Rows {
		if row.Outcome == outcome {
			out = append(out, row)
		}
	}
	return out
}

// Evaluate compares result against reference
func Evaluate(result, reference []*models.MatchRef, opts Options) (*Report, error) {
	if opts.DateTolerance < 0 {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "date_tolerance", opts.DateTolerance, nil).
			WithSuggestion("date_tolerance must be zero or positive")
	}

	byKey := make(map[InvoiceKey]*keyed)
	collect := func(refs []*models.MatchRef, side string, add func(*keyed, *models.MatchRef)) error {
		for i, m := range refs {
			if m == nil {
				return errors.ValidationError(errors.CodeMissingField, side, i, nil)
			}
			k := keyOf(m)
			entry, ok := byKey[k]
			if !ok {
				entry = &keyed{}
				byKey[k] = entry
			}
			add(entry, m)
		}
		return nil
	}
	if err := collect(result, "result", func(e *keyed, m *models.MatchRef) { e.result = append(e.result, m) }); err != nil {
		return nil, err
	}
	if err := collect(reference, "reference", func(e *keyed, m *models.MatchRef) { e.reference = append(e.reference, m) }); err != nil {
		return nil, err
	}

	keys := make([]InvoiceKey, 0, len(byKey))
	for k := range byKey {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].less(keys[j]) })

	report := &Report{Options: opts}
	for _, k := range keys {
		report.Rows = append(report.Rows, pairKey(k, byKey[k], opts.DateTolerance)...)
	}
	report.tally()

	logger.WithComponent("evaluation").WithFields(logger.Fields{
		"result":      len(result),
		"reference":   len(reference),
		"rows":        report.Total,
		"correct_pct": report.CorrectPct,
	}).Info("Evaluation completed")
	return report, nil
}

type keyed struct {
	result, reference []*models.MatchRef
}

// pairKey pairs the matches of one invoice. Correct pairings are taken first,
// same movement id before closest date; the rest are paired in date order as
// mismatches and any surplus is extra or missing.
func pairKey(k InvoiceKey, e *keyed, tolerance int) []*Row {
	sortRefs(e.result)
	sortRefs(e.reference)

	usedRes := make([]bool, len(e.result))
	usedRef := make([]bool, len(e.reference))
	var rows []*Row

	type pairing struct {
		res, ref int
		sameID   bool
		diff     int
	}
	var correct []pairing
	for i, res := range e.result {
		for j, ref := range e.reference {
			diff := absDays(res, ref)
			if res.MovementAmount.Equal(ref.MovementAmount) && diff <= tolerance {
				correct = append(correct, pairing{res: i, ref: j, sameID: res.MovementID == ref.MovementID, diff: diff})
			}
		}
	}
	sort.SliceStable(correct, func(a, b int) bool {
		if correct[a].sameID != correct[b].sameID {
			return correct[a].sameID
		}
		return correct[a].diff < correct[b].diff
	})
	for _, p := range correct {
		if usedRes[p.res] || usedRef[p.ref] {
			continue
		}
		usedRes[p.res], usedRef[p.ref] = true, true
		rows = append(rows, &Row{InvoiceKey: k, Outcome: OutcomeCorrect,
			Result: e.result[p.res], Reference: e.reference[p.ref], DateDiff: p.diff})
	}

	j := 0
	for i, res := range e.result {
		if usedRes[i] {
			continue
		}
		for j < len(e.reference) && usedRef[j] {
			j++
		}
		if j == len(e.reference) {
			rows = append(rows, &Row{InvoiceKey: k, Outcome: OutcomeExtra, Result: res, DateDiff: -1})
			continue
		}
		usedRef[j] = true
		rows = append(rows, &Row{InvoiceKey: k, Outcome: OutcomeMismatch,
			Result: res, Reference: e.reference[j], DateDiff: absDays(res, e.reference[j])})
	}
	for j, ref := range e.reference {
		if !usedRef[j] {
			rows = append(rows, &Row{InvoiceKey: k, Outcome: OutcomeMissing, Reference: ref, DateDiff: -1})
		}
	}
	return rows
}

func sortRefs(refs []*models.MatchRef) {
	sort.SliceStable(refs, func(i, j int) bool {
		if !refs[i].MovementDate.Equal(refs[j].MovementDate) {
			return refs[i].MovementDate.Before(refs[j].MovementDate)
		}
		return refs[i].MovementID < refs[j].MovementID
	})
}

func absDays(a, b *models.MatchRef) int {
	d := models.DaysBetween(a.MovementDate, b.MovementDate)
	if d < 0 {
		return -d
	}
	return d
}

func (r *Report) tally() {
	r.Total = len(r.Rows)
	for _, row := range r.Rows {
		switch row.Outcome {
		case OutcomeCorrect:
			r.Correct++
		case OutcomeMismatch:
			r.Mismatch++
		case OutcomeExtra:
			r.Extra++
		case OutcomeMissing:
			r.Missing++
		}
	}
	r.CorrectPct = percent(r.Correct, r.Total)
	r.MismatchPct = percent(r.Mismatch, r.Total)
	r.ExtraPct = percent(r.Extra, r.Total)
	r.MissingPct = percent(r.Missing, r.Total)
}

func percent(part, total int) float64 {
	if total == 0 {
		return 0
	}
	pct, _ := decimal.NewFromInt(int64(part)).Mul(decimal.NewFromInt(100)).
		Div(decimal.NewFromInt(int64(total))).Round(2).Float64()
	return pct
}
