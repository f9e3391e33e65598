package matcher

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"golang-payment-matcher/internal/models"
)

// DuplicateGroup is a set of records of one kind and partition sharing the
// same amount and date under different ids. They are still matched
// independently.
type DuplicateGroup struct {
	GroupID        string          `json:"group_id"`
	Kind           models.Kind     `json:"kind"`
	OwnerID        string          `json:"owner_id"`
	CounterpartyID string          `json:"counterparty_id"`
	Amount         decimal.Decimal `json:"amount"`
	Date           time.Time       `json:"date"`
	IDs            []string        `json:"ids"`
	Reason         string          `json:"reason"`
}

type duplicateKey struct {
	kind      models.Kind
	partition models.PartitionKey
	amount    string
	date      time.Time
}

// DetectDuplicates returns the suspected duplicate groups among records,
// ordered by owner, kind and first id
func DetectDuplicates(records []*models.Record) []*DuplicateGroup {
	buckets := make(map[duplicateKey][]*models.Record)
	var order []duplicateKey
	for _, r := range records {
		key := duplicateKey{
			kind:      r.Kind,
			partition: r.Key(),
			amount:    r.Amount.String(),
			date:      r.Date,
		}
		if _, seen := buckets[key]; !seen {
			order = append(order, key)
		}
		buckets[key] = append(buckets[key], r)
	}

	var groups []*DuplicateGroup
	for _, key := range order {
		bucket := buckets[key]
		if len(bucket) < 2 {
			continue
		}
		ids := make([]string, len(bucket))
		for i, r := range bucket {
			ids[i] = r.ID
		}
		sort.Strings(ids)

		groups = append(groups, &DuplicateGroup{
			GroupID:        fmt.Sprintf("DUP_%s_%s", key.kind, ids[0]),
			Kind:           key.kind,
			OwnerID:        key.partition.OwnerID,
			CounterpartyID: key.partition.CounterpartyID,
			Amount:         bucket[0].Amount,
			Date:           key.date,
			IDs:            ids,
			Reason: fmt.Sprintf("%d %ss with amount %s on %s",
				len(ids), key.kind, bucket[0].Amount.String(), key.date.Format(models.DateLayout)),
		})
	}

	sort.SliceStable(groups, func(i, j int) bool {
		a, b := groups[i], groups[j]
		if a.OwnerID != b.OwnerID {
			return a.OwnerID < b.OwnerID
		}
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		return a.IDs[0] < b.IDs[0]
	})
	return groups
}
