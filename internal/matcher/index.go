package matcher

import (
	"sort"

	"github.com/shopspring/decimal"

	"golang-payment-matcher/internal/models"
)

// Pair is an (invoice group, movement group) combination selected for scoring
type Pair struct {
	Invoice  *models.Group
	Movement *models.Group
}

// IndexStats describes how much blocking saved compared to a full cross product
type IndexStats struct {
	Partitions     int `json:"partitions"`
	InvoiceGroups  int `json:"invoice_groups"`
	MovementGroups int `json:"movement_groups"`
	BinPairs       int `json:"bin_pairs"`
	NeighbourPairs int `json:"neighbour_pairs"`
	Pairs          int `json:"pairs"`
	CrossProduct   int `json:"cross_product"`
}

// Add accumulates other into s
func (s *IndexStats) Add(other IndexStats) {
	s.Partitions += other.Partitions
	s.InvoiceGroups += other.InvoiceGroups
	s.MovementGroups += other.MovementGroups
	s.BinPairs += other.BinPairs
	s.NeighbourPairs += other.NeighbourPairs
	s.Pairs += other.Pairs
	s.CrossProduct += other.CrossProduct
}

// Indexer selects the group pairs worth scoring. Pairs are only formed inside a
// partition, between groups whose amounts fall in the same AmountBin bucket or
// lie within WindowSize positions of each other in amount order.
type Indexer struct {
	AmountBin  decimal.Decimal
	WindowSize int
}

// NewIndexer creates an indexer from the matching configuration
func NewIndexer(config *MatchingConfig) *Indexer {
	return &Indexer{
		AmountBin:  config.AmountBin,
		WindowSize: config.WindowSize,
	}
}

// PartitionGroups splits groups by (owner, counterparty), keeping input order
func PartitionGroups(groups []*models.Group) map[models.PartitionKey][]*models.Group {
	partitions := make(map[models.PartitionKey][]*models.Group)
	for _, g := range groups {
		partitions[g.Partition()] = append(partitions[g.Partition()], g)
	}
	return partitions
}

// Index partitions both sides and returns the blocked pairs of every partition
// present on both sides, in deterministic order.
func (ix *Indexer) Index(invoices, movements []*models.Group) ([]Pair, IndexStats) {
	invParts := PartitionGroups(invoices)
	movParts := PartitionGroups(movements)

	var pairs []Pair
	var stats IndexStats
	for _, key := range models.SortedPartitionKeys(invParts) {
		movs, ok := movParts[key]
		if !ok {
			continue
		}
		partPairs, partStats := ix.IndexPartition(invParts[key], movs)
		pairs = append(pairs, partPairs...)
		stats.Add(partStats)
	}
	return pairs, stats
}

// IndexPartition returns the blocked pairs of one partition's groups
func (ix *Indexer) IndexPartition(invoices, movements []*models.Group) ([]Pair, IndexStats) {
	stats := IndexStats{
		Partitions:     1,
		InvoiceGroups:  len(invoices),
		MovementGroups: len(movements),
		CrossProduct:   len(invoices) * len(movements),
	}
	if len(invoices) == 0 || len(movements) == 0 {
		return nil, stats
	}

	seen := make(map[[2]models.GroupKey]struct{})
	var pairs []Pair
	add := func(inv, mov *models.Group) bool {
		k := [2]models.GroupKey{inv.Key, mov.Key}
		if _, dup := seen[k]; dup {
			return false
		}
		seen[k] = struct{}{}
		pairs = append(pairs, Pair{Invoice: inv, Movement: mov})
		return true
	}

	invBins := ix.bin(invoices)
	movBins := ix.bin(movements)
	bins := make([]int64, 0, len(invBins))
	for b := range invBins {
		if _, ok := movBins[b]; ok {
			bins = append(bins, b)
		}
	}
	sort.Slice(bins, func(i, j int) bool { return bins[i] < bins[j] })

	for _, b := range bins {
		for _, inv := range invBins[b] {
			for _, mov := range movBins[b] {
				if add(inv, mov) {
					stats.BinPairs++
				}
			}
		}
	}

	sorted := sortByAmount(invoices, movements)
	for i, g := range sorted {
		end := i + ix.WindowSize
		if end > len(sorted) {
			end = len(sorted)
		}
		for _, h := range sorted[i+1 : end] {
			if g.Kind == h.Kind {
				continue
			}
			inv, mov := g, h
			if inv.Kind != models.KindInvoice {
				inv, mov = h, g
			}
			if add(inv, mov) {
				stats.NeighbourPairs++
			}
		}
	}

	stats.Pairs = len(pairs)
	return pairs, stats
}

// Bucket returns floor(amount / AmountBin)
func (ix *Indexer) Bucket(amount decimal.Decimal) int64 {
	return amount.Div(ix.AmountBin).Floor().IntPart()
}

func (ix *Indexer) bin(groups []*models.Group) map[int64][]*models.Group {
	bins := make(map[int64][]*models.Group)
	for _, g := range groups {
		b := ix.Bucket(g.Amount)
		bins[b] = append(bins[b], g)
	}
	return bins
}

// sortByAmount merges both sides into one amount-ordered list; ties put invoices
// first, then order by group key.
func sortByAmount(invoices, movements []*models.Group) []*models.Group {
	all := make([]*models.Group, 0, len(invoices)+len(movements))
	all = append(all, invoices...)
	all = append(all, movements...)
	sort.SliceStable(all, func(i, j int) bool {
		if c := all[i].Amount.Cmp(all[j].Amount); c != 0 {
			return c < 0
		}
		if all[i].Kind != all[j].Kind {
			return all[i].Kind == models.KindInvoice
		}
		return all[i].Key < all[j].Key
	})
	return all
}

// ExactAmountIndex maps normalised amounts to the groups carrying them
type ExactAmountIndex map[string][]*models.Group

// NewExactAmountIndex indexes groups by exact amount
func NewExactAmountIndex(groups []*models.Group) ExactAmountIndex {
	index := make(ExactAmountIndex)
	for _, g := range groups {
		index.Add(g)
	}
	return index
}

// Add indexes one more group
func (idx ExactAmountIndex) Add(g *models.Group) {
	key := AmountKey(g.Amount)
	idx[key] = append(idx[key], g)
}

// Get returns the groups whose amount equals amount
func (idx ExactAmountIndex) Get(amount decimal.Decimal) []*models.Group {
	return idx[AmountKey(amount)]
}

// Has reports whether any group carries amount
func (idx ExactAmountIndex) Has(amount decimal.Decimal) bool {
	return len(idx[AmountKey(amount)]) > 0
}

// AmountKey normalises an amount so that 100 and 100.00 share a key
func AmountKey(amount decimal.Decimal) string {
	return amount.String()
}
