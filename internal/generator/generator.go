// Package generator produces synthetic invoice and movement datasets together
// with the reference matches that were planted in them. Datasets are fully
// determined by the seed, so they can be used for benchmarks and for
// checking the engine end to end with the evaluation package.
package generator

import (
	"encoding/csv"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"golang-payment-matcher/internal/models"
	"golang-payment-matcher/internal/parsers"
	"golang-payment-matcher/pkg/errors"
	"golang-payment-matcher/pkg/logger"
)

// Pattern is a kind of planted match
type Pattern string

const (
	// PatternExact plants one invoice and one movement of equal amount
	PatternExact Pattern = "exact"
	// PatternSimilar plants one invoice and one movement whose amounts differ by 1 to 3 percent
	PatternSimilar Pattern = "similar"
	// PatternInvoiceGroup plants several invoices paid by a single movement
	PatternInvoiceGroup Pattern = "invoice_group"
	// PatternMovementGroup plants one invoice paid in several movements
	PatternMovementGroup Pattern = "movement_group"
)

// AllPatterns returns every pattern in a stable order
func AllPatterns() []Pattern {
	return []Pattern{PatternExact, PatternSimilar, PatternInvoiceGroup, PatternMovementGroup}
}

// ParsePatterns converts a comma separated list into patterns
func ParsePatterns(value string) ([]Pattern, error) {
	var patterns []Pattern
	for _, part := range strings.Split(value, ",") {
		name := strings.ToLower(strings.TrimSpace(part))
		if name == "" {
			continue
		}
		if name == "all" {
			return AllPatterns(), nil
		}
		pattern := Pattern(name)
		if !pattern.IsValid() {
			return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "patterns", part, nil).
				WithSuggestion("use exact, similar, invoice_group, movement_group or all")
		}
		patterns = append(patterns, pattern)
	}
	if len(patterns) == 0 {
		return nil, errors.ConfigurationError(errors.CodeMissingConfig, "patterns", value, nil)
	}
	return patterns, nil
}

// IsValid reports whether p is a known pattern
func (p Pattern) IsValid() bool {
	for _, known := range AllPatterns() {
		if p == known {
			return true
		}
	}
	return false
}

// Config controls the shape of a generated dataset
type Config struct {
	Seed                   int64     `json:"seed" yaml:"seed"`
	Owners                 int       `json:"owners" yaml:"owners"`
	CounterpartiesPerOwner int       `json:"counterparties_per_owner" yaml:"counterparties_per_owner"`
	MatchesPerCounterparty int       `json:"matches_per_counterparty" yaml:"matches_per_counterparty"`
	NoiseRatio             float64   `json:"noise_ratio" yaml:"noise_ratio"`
	StartDate              time.Time `json:"start_date" yaml:"start_date"`
	Days                   int       `json:"days" yaml:"days"`
	MaxGroupLen            int       `json:"max_group_len" yaml:"max_group_len"`
	Patterns               []Pattern `json:"patterns" yaml:"patterns"`
}

// DefaultConfig returns a small dataset using every pattern
func DefaultConfig() *Config {
	return &Config{
		Seed:                   1,
		Owners:                 2,
		CounterpartiesPerOwner: 20,
		MatchesPerCounterparty: 2,
		NoiseRatio:             0.1,
		StartDate:              time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Days:                   180,
		MaxGroupLen:            3,
		Patterns:               AllPatterns(),
	}
}

// Validate checks the configuration
func (c *Config) Validate() error {
	positive := []struct {
		setting string
		value   int
	}{
		{"owners", c.Owners},
		{"counterparties_per_owner", c.CounterpartiesPerOwner},
		{"matches_per_counterparty", c.MatchesPerCounterparty},
		{"days", c.Days},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return errors.ConfigurationError(errors.CodeInvalidConfig, p.setting, p.value, nil).
				WithSuggestion("use a value greater than zero")
		}
	}
	if c.NoiseRatio < 0 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "noise_ratio", c.NoiseRatio, nil)
	}
	if c.MaxGroupLen < 2 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "max_group_len", c.MaxGroupLen, nil).
			WithSuggestion("groups need at least two records")
	}
	if c.StartDate.IsZero() {
		return errors.ConfigurationError(errors.CodeMissingConfig, "start_date", c.StartDate, nil)
	}
	if len(c.Patterns) == 0 {
		return errors.ConfigurationError(errors.CodeMissingConfig, "patterns", c.Patterns, nil)
	}
	for _, p := range c.Patterns {
		if !p.IsValid() {
			return errors.ConfigurationError(errors.CodeInvalidConfig, "patterns", p, nil)
		}
	}
	return nil
}

// Dataset is a generated set of records and the matches planted in it
type Dataset struct {
	Invoices  []*models.Record
	Movements []*models.Record
	// Reference holds one elementary (invoice, movement) pair per planted link
	Reference []*models.MatchRef
	Planted   map[Pattern]int
}

// Generator builds datasets from a Config
type Generator struct {
	config *Config
	rng    *rand.Rand
	logger logger.Logger

	invoiceSeq  int
	movementSeq int
	noiseSeq    int
}

// New creates a generator; the configuration is validated
func New(config *Config) (*Generator, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Generator{
		config: config,
		rng:    rand.New(rand.NewSource(config.Seed)),
		logger: logger.GetGlobalLogger().WithComponent("generator"),
	}, nil
}

// Generate builds a dataset. Every owner gets CounterpartiesPerOwner
// counterparties, each holding MatchesPerCounterparty planted matches whose
// pattern is drawn from the configured list. Noise records are placed on
// counterparties of their own so they never take part in a planted match.
func (g *Generator) Generate() *Dataset {
	ds := &Dataset{Planted: make(map[Pattern]int)}

	for o := 0; o < g.config.Owners; o++ {
		owner := fmt.Sprintf("76%06d", o+1)
		for c := 0; c < g.config.CounterpartiesPerOwner; c++ {
			counterparty := fmt.Sprintf("99%06d", o*g.config.CounterpartiesPerOwner+c+1)
			for m := 0; m < g.config.MatchesPerCounterparty; m++ {
				pattern := g.config.Patterns[g.rng.Intn(len(g.config.Patterns))]
				g.plant(ds, pattern, owner, counterparty)
				ds.Planted[pattern]++
			}
		}

		planted := g.config.CounterpartiesPerOwner * g.config.MatchesPerCounterparty
		noise := int(float64(planted)*g.config.NoiseRatio + 0.5)
		for n := 0; n < noise; n++ {
			g.addNoise(ds, owner)
		}
	}

	models.SortRecords(ds.Invoices)
	models.SortRecords(ds.Movements)
	sort.SliceStable(ds.Reference, func(i, j int) bool {
		a, b := ds.Reference[i], ds.Reference[j]
		if a.OwnerID != b.OwnerID {
			return a.OwnerID < b.OwnerID
		}
		if a.InvoiceID != b.InvoiceID {
			return a.InvoiceID < b.InvoiceID
		}
		return a.MovementID < b.MovementID
	})

	g.logger.WithFields(logger.Fields{
		"seed":      g.config.Seed,
		"invoices":  len(ds.Invoices),
		"movements": len(ds.Movements),
		"reference": len(ds.Reference),
	}).Info("Generated dataset")

	return ds
}

// plant adds the records of one planted match and its reference pairs
func (g *Generator) plant(ds *Dataset, pattern Pattern, owner, counterparty string) {
	amount := g.randomAmount()
	invDate := g.randomDate()

	var invoices, movements []*models.Record
	switch pattern {
	case PatternExact:
		invoices = append(invoices, g.invoice(owner, counterparty, amount, invDate))
		movements = append(movements, g.movement(owner, counterparty, amount, g.paymentDate(invDate)))

	case PatternSimilar:
		invoices = append(invoices, g.invoice(owner, counterparty, amount, invDate))
		movements = append(movements, g.movement(owner, counterparty, g.similarAmount(amount), g.paymentDate(invDate)))

	case PatternInvoiceGroup:
		latest := invDate
		for _, part := range g.split(amount) {
			date := invDate.AddDate(0, 0, g.rng.Intn(5))
			if date.After(latest) {
				latest = date
			}
			invoices = append(invoices, g.invoice(owner, counterparty, part, date))
		}
		movements = append(movements, g.movement(owner, counterparty, amount, g.paymentDate(latest)))

	case PatternMovementGroup:
		invoices = append(invoices, g.invoice(owner, counterparty, amount, invDate))
		for _, part := range g.split(amount) {
			movements = append(movements, g.movement(owner, counterparty, part, g.paymentDate(invDate)))
		}
	}

	ds.Invoices = append(ds.Invoices, invoices...)
	ds.Movements = append(ds.Movements, movements...)
	for _, inv := range invoices {
		for _, mov := range movements {
			ds.Reference = append(ds.Reference, &models.MatchRef{
				OwnerID:        owner,
				CounterpartyID: counterparty,
				InvoiceID:      inv.ID,
				MovementID:     mov.ID,
				MovementAmount: mov.Amount,
				MovementDate:   mov.Date,
			})
		}
	}
}

// addNoise adds one unmatched record. Half of the noise movements carry no
// counterparty.
func (g *Generator) addNoise(ds *Dataset, owner string) {
	g.noiseSeq++
	counterparty := fmt.Sprintf("98%06d", g.noiseSeq)

	if g.rng.Intn(2) == 0 {
		ds.Invoices = append(ds.Invoices, g.invoice(owner, counterparty, g.randomAmount(), g.randomDate()))
		return
	}
	if g.rng.Intn(2) == 0 {
		counterparty = ""
	}
	ds.Movements = append(ds.Movements, g.movement(owner, counterparty, g.randomAmount(), g.randomDate()))
}

func (g *Generator) invoice(owner, counterparty string, amount decimal.Decimal, date time.Time) *models.Record {
	g.invoiceSeq++
	return models.NewInvoice(owner, counterparty, fmt.Sprintf("F-%06d", g.invoiceSeq), amount, date)
}

func (g *Generator) movement(owner, counterparty string, amount decimal.Decimal, date time.Time) *models.Record {
	g.movementSeq++
	description := "TRANSFER"
	if counterparty != "" {
		description = fmt.Sprintf("TRANSFER FROM %s", counterparty)
	}
	return models.NewMovement(owner, counterparty, fmt.Sprintf("M-%06d", g.movementSeq), amount, date, description)
}

// randomAmount returns a whole amount between 10,000 and 5,000,000
func (g *Generator) randomAmount() decimal.Decimal {
	return decimal.NewFromInt(int64(10000 + g.rng.Intn(4990000)))
}

func (g *Generator) randomDate() time.Time {
	return g.config.StartDate.AddDate(0, 0, g.rng.Intn(g.config.Days))
}

// paymentDate returns a date zero to seven days after the invoice date
func (g *Generator) paymentDate(invDate time.Time) time.Time {
	return invDate.AddDate(0, 0, g.rng.Intn(8))
}

// similarAmount moves amount up or down by 1 to 3 percent
func (g *Generator) similarAmount(amount decimal.Decimal) decimal.Decimal {
	rel := 0.01 + g.rng.Float64()*0.02
	if g.rng.Intn(2) == 0 {
		rel = -rel
	}
	similar := amount.Mul(decimal.NewFromFloat(1 + rel)).Round(0)
	if similar.Equal(amount) {
		similar = similar.Add(decimal.NewFromInt(1))
	}
	return similar
}

// split divides amount into 2..MaxGroupLen whole parts. Part weights are
// drawn from [1, 3], so no part reaches the whole amount and the parts always
// add up exactly.
func (g *Generator) split(amount decimal.Decimal) []decimal.Decimal {
	n := 2 + g.rng.Intn(g.config.MaxGroupLen-1)

	weights := make([]float64, n)
	var total float64
	for i := range weights {
		weights[i] = 1 + g.rng.Float64()*2
		total += weights[i]
	}

	parts := make([]decimal.Decimal, n)
	remaining := amount
	for i := 0; i < n-1; i++ {
		parts[i] = amount.Mul(decimal.NewFromFloat(weights[i] / total)).Floor()
		remaining = remaining.Sub(parts[i])
	}
	parts[n-1] = remaining
	return parts
}

// Reference CSV columns; they match the match file layout read by the parsers
var referenceHeaders = []string{
	parsers.ColumnOwnerID,
	parsers.ColumnCounterpartyID,
	parsers.ColumnInvoiceNumber,
	parsers.ColumnMovementID,
	parsers.ColumnMovementAmount,
	parsers.ColumnMovementDate,
}

// Output file names written by WriteCSV
const (
	InvoicesFile  = "invoices.csv"
	MovementsFile = "movements.csv"
	ReferenceFile = "reference.csv"
)

// WriteCSV writes invoices.csv, movements.csv and reference.csv into dir,
// creating it if needed
func (ds *Dataset) WriteCSV(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.FileError(errors.CodeDirectoryError, dir, err)
	}

	invoices := [][]string{{
		parsers.ColumnOwnerID, parsers.ColumnCounterpartyID, parsers.ColumnAmount,
		parsers.ColumnDate, parsers.ColumnInvoiceNumber,
	}}
	for _, r := range ds.Invoices {
		invoices = append(invoices, []string{
			r.OwnerID, r.CounterpartyID, r.Amount.String(), r.Date.Format(models.DateLayout), r.ID,
		})
	}

	movements := [][]string{{
		parsers.ColumnOwnerID, parsers.ColumnCounterpartyID, parsers.ColumnAmount,
		parsers.ColumnDate, parsers.ColumnMovementID, parsers.ColumnDescription,
	}}
	for _, r := range ds.Movements {
		movements = append(movements, []string{
			r.OwnerID, r.CounterpartyID, r.Amount.String(), r.Date.Format(models.DateLayout), r.ID, r.Description,
		})
	}

	reference := [][]string{referenceHeaders}
	for _, m := range ds.Reference {
		reference = append(reference, []string{
			m.OwnerID, m.CounterpartyID, m.InvoiceID, m.MovementID,
			m.MovementAmount.String(), m.MovementDate.Format(models.DateLayout),
		})
	}

	files := []struct {
		name string
		rows [][]string
	}{
		{InvoicesFile, invoices},
		{MovementsFile, movements},
		{ReferenceFile, reference},
	}
	for _, f := range files {
		if err := writeCSV(filepath.Join(dir, f.name), f.rows); err != nil {
			return err
		}
	}
	return nil
}

func writeCSV(path string, rows [][]string) error {
	file, err := os.Create(path)
	if err != nil {
		if os.IsPermission(err) {
			return errors.FileError(errors.CodeFilePermission, path, err)
		}
		return errors.FileError(errors.CodeDirectoryError, path, err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.WriteAll(rows); err != nil {
		return errors.FileError(errors.CodeDirectoryError, path, err).
			WithContext("operation", "write")
	}
	return nil
}
