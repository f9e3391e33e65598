package models

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"golang-payment-matcher/pkg/errors"
)

// GroupKey is the immutable identity of a group: the owner followed by the
// lexicographically sorted member IDs.
type GroupKey string

const groupKeySeparator = "\x1f"

// NewGroupKey builds the key for a set of member IDs of one owner
func NewGroupKey(ownerID string, ids []string) GroupKey {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	return GroupKey(ownerID + groupKeySeparator + strings.Join(sorted, groupKeySeparator))
}

// Group is a non-empty set of same-kind records of one partition, matched as a unit
type Group struct {
	Kind           Kind
	OwnerID        string
	CounterpartyID string
	Members        []*Record
	Amount         decimal.Decimal
	Key            GroupKey
	FirstDate      time.Time
	LastDate       time.Time
}

// NewGroup builds a group and its derived fields. Members are copied and kept in
// date order; mixing kinds or partitions is rejected.
func NewGroup(members ...*Record) (*Group, error) {
	if len(members) == 0 {
		return nil, errors.ValidationError(errors.CodeMissingField, "members", 0, nil)
	}

	first := members[0]
	ids := make([]string, 0, len(members))
	for _, m := range members {
		if m.Kind != first.Kind {
			return nil, errors.ValidationError(errors.CodeMixedPartition, "kind", m.Kind, nil).
				WithContext("element", m.ElementKey().String())
		}
		if m.Key() != first.Key() {
			return nil, errors.ValidationError(errors.CodeMixedPartition, "partition", m.Key().String(), nil).
				WithContext("expected", first.Key().String())
		}
		ids = append(ids, m.ID)
	}

	sorted := append([]*Record(nil), members...)
	SortRecords(sorted)

	return &Group{
		Kind:           first.Kind,
		OwnerID:        first.OwnerID,
		CounterpartyID: first.CounterpartyID,
		Members:        sorted,
		Amount:         SumAmounts(sorted),
		Key:            NewGroupKey(first.OwnerID, ids),
		FirstDate:      sorted[0].Date,
		LastDate:       sorted[len(sorted)-1].Date,
	}, nil
}

// Singleton wraps a single record in a group
func Singleton(r *Record) *Group {
	return &Group{
		Kind:           r.Kind,
		OwnerID:        r.OwnerID,
		CounterpartyID: r.CounterpartyID,
		Members:        []*Record{r},
		Amount:         r.Amount,
		Key:            NewGroupKey(r.OwnerID, []string{r.ID}),
		FirstDate:      r.Date,
		LastDate:       r.Date,
	}
}

// Len returns the number of members
func (g *Group) Len() int {
	return len(g.Members)
}

// IsSingleton reports whether the group has exactly one member
func (g *Group) IsSingleton() bool {
	return len(g.Members) == 1
}

// Partition returns the partition key of the group
func (g *Group) Partition() PartitionKey {
	return PartitionKey{OwnerID: g.OwnerID, CounterpartyID: g.CounterpartyID}
}

// Span returns the number of days between the earliest and the latest member
func (g *Group) Span() int {
	return DaysBetween(g.FirstDate, g.LastDate)
}

// MemberIDs returns the member IDs in date order
func (g *Group) MemberIDs() []string {
	ids := make([]string, len(g.Members))
	for i, m := range g.Members {
		ids[i] = m.ID
	}
	return ids
}

// ElementKeys returns the elementary keys covered by the group
func (g *Group) ElementKeys() []ElementKey {
	keys := make([]ElementKey, len(g.Members))
	for i, m := range g.Members {
		keys[i] = m.ElementKey()
	}
	return keys
}
