// Package reporter renders reconciliation results.
//
// Supported output formats:
//   - Console: human-readable summary for terminal display
//   - JSON: structured data for programmatic consumption
//   - CSV: one row per matched (invoice, movement) pair
//
// The CSV output is a match file: it carries the owner_id, counterparty_id,
// invoice_number, movement_id, movement_amount and movement_date columns, so
// it can be read back by the parsers package and evaluated against a
// reference.
//
// Example usage:
//
//	generator, err := reporter.NewReportGenerator(&reporter.ReportConfig{Format: reporter.FormatJSON})
//	err = generator.GenerateReport(result, os.Stdout)
package reporter

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"golang-payment-matcher/internal/models"
	"golang-payment-matcher/internal/reconciler"
)

// OutputFormat represents the supported report output formats
type OutputFormat string

const (
	FormatConsole OutputFormat = "console"
	FormatJSON    OutputFormat = "json"
	FormatCSV     OutputFormat = "csv"
)

// IsValid checks if the output format is supported
func (f OutputFormat) IsValid() bool {
	switch f {
	case FormatConsole, FormatJSON, FormatCSV:
		return true
	default:
		return false
	}
}

// ReportConfig holds configuration options for report generation
type ReportConfig struct {
	// Output format
	Format OutputFormat `json:"format" yaml:"format"`

	// Detail level options
	IncludeMatches          bool `json:"include_matches" yaml:"include_matches"`
	IncludePendingInvoices  bool `json:"include_pending_invoices" yaml:"include_pending_invoices"`
	IncludePendingMovements bool `json:"include_pending_movements" yaml:"include_pending_movements"`
	IncludeStageSummary     bool `json:"include_stage_summary" yaml:"include_stage_summary"`
	IncludeOwnerSummary     bool `json:"include_owner_summary" yaml:"include_owner_summary"`

	// Console formatting options
	MaxListItems int  `json:"max_list_items" yaml:"max_list_items"`
	SortByAmount bool `json:"sort_by_amount" yaml:"sort_by_amount"`

	// CSV options
	CSVDelimiter rune `json:"csv_delimiter" yaml:"csv_delimiter"`
	CSVHeaders   bool `json:"csv_headers" yaml:"csv_headers"`
}

// DefaultReportConfig returns a default report configuration
func DefaultReportConfig() *ReportConfig {
	return &ReportConfig{
		Format:                  FormatConsole,
		IncludeMatches:          true,
		IncludePendingInvoices:  true,
		IncludePendingMovements: true,
		IncludeStageSummary:     true,
		IncludeOwnerSummary:     true,
		MaxListItems:            10,
		SortByAmount:            false,
		CSVDelimiter:            ',',
		CSVHeaders:              true,
	}
}

// Validate validates the report configuration
func (c *ReportConfig) Validate() error {
	if !c.Format.IsValid() {
		return fmt.Errorf("invalid output format: %s", c.Format)
	}
	if c.MaxListItems < 0 {
		return fmt.Errorf("max list items cannot be negative, got %d", c.MaxListItems)
	}
	if c.CSVDelimiter == 0 || c.CSVDelimiter == '"' || c.CSVDelimiter == '\n' {
		return fmt.Errorf("invalid CSV delimiter %q", c.CSVDelimiter)
	}
	return nil
}

// ReportGenerator generates reconciliation reports in various formats
type ReportGenerator struct {
	config *ReportConfig
}

// NewReportGenerator creates a new report generator with the specified configuration
func NewReportGenerator(config *ReportConfig) (*ReportGenerator, error) {
	if config == nil {
		config = DefaultReportConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid report configuration: %w", err)
	}
	return &ReportGenerator{config: config}, nil
}

// GenerateReport writes a report of result to writer
func (rg *ReportGenerator) GenerateReport(result *reconciler.Result, writer io.Writer) error {
	if result == nil {
		return fmt.Errorf("reconciliation result cannot be nil")
	}

	switch rg.config.Format {
	case FormatConsole:
		return rg.generateConsoleReport(result, writer)
	case FormatJSON:
		return rg.generateJSONReport(result, writer)
	case FormatCSV:
		return rg.generateCSVReport(result, writer)
	default:
		return fmt.Errorf("unsupported output format: %s", rg.config.Format)
	}
}

// generateConsoleReport generates a human-readable console report
func (rg *ReportGenerator) generateConsoleReport(result *reconciler.Result, writer io.Writer) error {
	ew := &errWriter{w: writer}

	ew.printf("RECONCILIATION REPORT\n")
	ew.printf("Run:      %s\n", result.RunID)
	ew.printf("Started:  %s\n", result.StartedAt.Format(time.RFC3339))
	ew.printf("Duration: %v\n\n", result.Duration.Round(time.Millisecond))

	ew.printf("=== SUMMARY ===\n")
	rg.printSummary(result, ew)
	ew.printf("\n")

	if rg.config.IncludeStageSummary && len(result.Stages) > 0 {
		ew.printf("=== STAGES ===\n")
		rg.printStages(result.Stages, ew)
		ew.printf("\n")
	}

	if rg.config.IncludeOwnerSummary && len(result.Owners) > 0 {
		ew.printf("=== OWNERS ===\n")
		rg.printOwners(result.Owners, ew)
		ew.printf("\n")
	}

	if len(result.Duplicates) > 0 {
		ew.printf("=== SUSPECTED DUPLICATES ===\n")
		for _, dup := range result.Duplicates {
			ew.printf("  %s/%s: %s (%s)\n", dup.OwnerID, dup.CounterpartyID, strings.Join(dup.IDs, ", "), dup.Reason)
		}
		ew.printf("\n")
	}

	if rg.config.IncludeMatches && len(result.Matches) > 0 {
		ew.printf("=== MATCHES ===\n")
		rg.printMatches(result.Matches, ew)
		ew.printf("\n")
	}

	if rg.config.IncludePendingInvoices && len(result.PendingInvoices) > 0 {
		ew.printf("=== PENDING INVOICES ===\n")
		rg.printRecords(result.PendingInvoices, ew)
		ew.printf("\n")
	}

	if rg.config.IncludePendingMovements && len(result.PendingMovements) > 0 {
		ew.printf("=== PENDING MOVEMENTS ===\n")
		rg.printRecords(result.PendingMovements, ew)
	}

	return ew.err
}

// generateJSONReport generates a structured JSON report
func (rg *ReportGenerator) generateJSONReport(result *reconciler.Result, writer io.Writer) error {
	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(rg.filterResultForOutput(result))
}

// MatchCSVHeaders are the columns of the CSV match output
var MatchCSVHeaders = []string{
	"stage",
	"owner_id",
	"counterparty_id",
	"invoice_number",
	"invoice_amount",
	"invoice_date",
	"movement_id",
	"movement_amount",
	"movement_date",
	"movement_description",
	"invoice_group_size",
	"movement_group_size",
	"group_ref",
	"score",
	"date_diff",
}

// generateCSVReport writes one row per matched pair
func (rg *ReportGenerator) generateCSVReport(result *reconciler.Result, writer io.Writer) error {
	csvWriter := csv.NewWriter(writer)
	csvWriter.Comma = rg.config.CSVDelimiter

	if rg.config.CSVHeaders {
		if err := csvWriter.Write(MatchCSVHeaders); err != nil {
			return fmt.Errorf("failed to write CSV headers: %w", err)
		}
	}

	for _, m := range result.Matches {
		record := []string{
			m.Stage,
			m.OwnerID,
			m.CounterpartyID,
			m.InvoiceID,
			m.InvoiceAmount.String(),
			m.InvoiceDate.Format(models.DateLayout),
			m.MovementID,
			m.MovementAmount.String(),
			m.MovementDate.Format(models.DateLayout),
			m.MovementDescription,
			strconv.Itoa(m.InvoiceGroupSize),
			strconv.Itoa(m.MovementGroupSize),
			m.GroupRef,
			strconv.FormatFloat(m.Score, 'f', 6, 64),
			strconv.Itoa(m.DateDiff),
		}
		if err := csvWriter.Write(record); err != nil {
			return fmt.Errorf("failed to write match record: %w", err)
		}
	}

	csvWriter.Flush()
	return csvWriter.Error()
}

// GeneratePendingCSV writes the records left pending by a run, invoices
// first, in the layout of the input files plus a kind column
func (rg *ReportGenerator) GeneratePendingCSV(result *reconciler.Result, writer io.Writer) error {
	if result == nil {
		return fmt.Errorf("reconciliation result cannot be nil")
	}

	csvWriter := csv.NewWriter(writer)
	csvWriter.Comma = rg.config.CSVDelimiter

	if rg.config.CSVHeaders {
		headers := []string{"kind", "owner_id", "counterparty_id", "id", "amount", "date", "description"}
		if err := csvWriter.Write(headers); err != nil {
			return fmt.Errorf("failed to write CSV headers: %w", err)
		}
	}

	for _, records := range [][]*models.Record{result.PendingInvoices, result.PendingMovements} {
		for _, r := range records {
			record := []string{
				string(r.Kind),
				r.OwnerID,
				r.CounterpartyID,
				r.ID,
				r.Amount.String(),
				r.Date.Format(models.DateLayout),
				r.Description,
			}
			if err := csvWriter.Write(record); err != nil {
				return fmt.Errorf("failed to write pending record: %w", err)
			}
		}
	}

	csvWriter.Flush()
	return csvWriter.Error()
}

// Helper methods for console output formatting

func (rg *ReportGenerator) printSummary(result *reconciler.Result, ew *errWriter) {
	matchedInv := result.MatchedInvoices()
	matchedMov := result.MatchedMovements()
	totalInv := matchedInv + len(result.PendingInvoices)
	totalMov := matchedMov + len(result.PendingMovements)

	ew.printf("Invoices:\n")
	ew.printf("  Total:   %d\n", totalInv)
	ew.printf("  Matched: %d (%.1f%%)\n", matchedInv, calculatePercentage(matchedInv, totalInv))
	ew.printf("  Pending: %d (%.1f%%)\n", len(result.PendingInvoices), calculatePercentage(len(result.PendingInvoices), totalInv))

	ew.printf("\nMovements:\n")
	ew.printf("  Total:   %d\n", totalMov)
	ew.printf("  Matched: %d (%.1f%%)\n", matchedMov, calculatePercentage(matchedMov, totalMov))
	ew.printf("  Pending: %d (%.1f%%)\n", len(result.PendingMovements), calculatePercentage(len(result.PendingMovements), totalMov))

	ew.printf("\nMatch records: %d\n", len(result.Matches))
	ew.printf("Pending invoice amount:  %s\n", models.SumAmounts(result.PendingInvoices).StringFixed(2))
	ew.printf("Pending movement amount: %s\n", models.SumAmounts(result.PendingMovements).StringFixed(2))
}

func (rg *ReportGenerator) printStages(stages []reconciler.StageSummary, ew *errWriter) {
	ew.printf("%-12s %-8s %10s %10s %9s %8s %10s %9s %12s\n",
		"Stage", "Solver", "Partitions", "Candidates", "Selected", "Matches", "Objective", "Certified", "Duration")
	for _, s := range stages {
		ew.printf("%-12s %-8s %10d %10d %9d %8d %10.3f %9d %12v\n",
			s.Stage, s.Strategy, s.Partitions, s.Candidates, s.Selected, s.Matches,
			s.Objective, s.Certified, s.Duration.Round(time.Millisecond))
		if s.TimeLimited > 0 {
			ew.printf("  %d partition(s) hit the solver time limit; best found solutions were kept\n", s.TimeLimited)
		}
	}
}

func (rg *ReportGenerator) printOwners(owners []reconciler.OwnerSummary, ew *errWriter) {
	ew.printf("%-16s %9s %9s %9s %9s %12s %12s\n",
		"Owner", "Invoices", "Matched", "Movements", "Matched", "Inv amount%", "Mov amount%")
	for i, o := range owners {
		if rg.truncated(i, len(owners), ew) {
			break
		}
		ew.printf("%-16s %9d %8.2f%% %9d %8.2f%% %11.2f%% %11.2f%%\n",
			o.OwnerID, o.TotalInvoices, o.MatchedInvoicesPct, o.TotalMovements, o.MatchedMovementsPct,
			o.MatchedInvoiceAmountPct, o.MatchedMovementAmountPct)
	}
}

func (rg *ReportGenerator) printMatches(matches []*models.MatchRecord, ew *errWriter) {
	ew.printf("Total Match Records: %d\n\n", len(matches))
	for i, m := range matches {
		if rg.truncated(i, len(matches), ew) {
			break
		}
		ew.printf("  %d. [%s] %s/%s invoice %s (%s, %s) <-> movement %s (%s, %s) score %.3f\n",
			i+1, m.Stage, m.OwnerID, m.CounterpartyID,
			m.InvoiceID, m.InvoiceAmount.StringFixed(2), m.InvoiceDate.Format(models.DateLayout),
			m.MovementID, m.MovementAmount.StringFixed(2), m.MovementDate.Format(models.DateLayout),
			m.Score)
	}
}

func (rg *ReportGenerator) printRecords(records []*models.Record, ew *errWriter) {
	if rg.config.SortByAmount {
		records = append([]*models.Record(nil), records...)
		sort.SliceStable(records, func(i, j int) bool {
			return records[i].Amount.GreaterThan(records[j].Amount)
		})
	}

	ew.printf("Total: %d, Amount: %s\n\n", len(records), models.SumAmounts(records).StringFixed(2))
	for i, r := range records {
		if rg.truncated(i, len(records), ew) {
			break
		}
		ew.printf("  %d. Owner: %s, Counterparty: %s, ID: %s, Amount: %s, Date: %s\n",
			i+1, r.OwnerID, r.CounterpartyID, r.ID, r.Amount.StringFixed(2), r.Date.Format(models.DateLayout))
	}
}

// truncated prints the "and N more" line once index i passes the list limit
func (rg *ReportGenerator) truncated(i, total int, ew *errWriter) bool {
	if rg.config.MaxListItems == 0 || i < rg.config.MaxListItems {
		return false
	}
	ew.printf("  ... and %d more\n", total-i)
	return true
}

// Helper methods

func calculatePercentage(part, total int) float64 {
	if total == 0 {
		return 0.0
	}
	pct, _ := decimal.NewFromInt(int64(part)).Mul(decimal.NewFromInt(100)).
		Div(decimal.NewFromInt(int64(total))).Round(2).Float64()
	return pct
}

func (rg *ReportGenerator) filterResultForOutput(result *reconciler.Result) map[string]interface{} {
	output := map[string]interface{}{
		"run_id":            result.RunID,
		"started_at":        result.StartedAt,
		"duration":          result.Duration.String(),
		"matched_invoices":  result.MatchedInvoices(),
		"matched_movements": result.MatchedMovements(),
		"pending_invoices":  len(result.PendingInvoices),
		"pending_movements": len(result.PendingMovements),
	}

	if rg.config.IncludeMatches {
		output["matches"] = matchesForOutput(result.Matches)
	}
	if rg.config.IncludePendingInvoices {
		output["pending_invoice_records"] = result.PendingInvoices
	}
	if rg.config.IncludePendingMovements {
		output["pending_movement_records"] = result.PendingMovements
	}
	if rg.config.IncludeStageSummary {
		output["stages"] = result.Stages
	}
	if rg.config.IncludeOwnerSummary {
		output["owners"] = result.Owners
	}
	if len(result.Duplicates) > 0 {
		output["suspected_duplicates"] = result.Duplicates
	}
	return output
}

type matchOutput struct {
	*models.MatchRecord
	InvoiceAmount  string `json:"invoice_amount"`
	InvoiceDate    string `json:"invoice_date"`
	MovementAmount string `json:"movement_amount"`
	MovementDate   string `json:"movement_date"`
}

// matchesForOutput renders amounts as strings and dates as YYYY-MM-DD
func matchesForOutput(matches []*models.MatchRecord) []matchOutput {
	out := make([]matchOutput, len(matches))
	for i, m := range matches {
		out[i] = matchOutput{
			MatchRecord:    m,
			InvoiceAmount:  m.InvoiceAmount.String(),
			InvoiceDate:    m.InvoiceDate.Format(models.DateLayout),
			MovementAmount: m.MovementAmount.String(),
			MovementDate:   m.MovementDate.Format(models.DateLayout),
		}
	}
	return out
}

// UpdateConfiguration updates the report generator configuration
func (rg *ReportGenerator) UpdateConfiguration(config *ReportConfig) error {
	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid report configuration: %w", err)
	}
	rg.config = config
	return nil
}

// GetConfiguration returns the current configuration
func (rg *ReportGenerator) GetConfiguration() *ReportConfig {
	return rg.config
}

// errWriter keeps the first write error so console output can be written
// without checking every call
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...interface{}) {
	if ew.err != nil {
		return
	}
	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}
