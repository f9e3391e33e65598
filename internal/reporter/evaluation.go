package reporter

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"golang-payment-matcher/internal/evaluation"
	"golang-payment-matcher/internal/models"
)

// GenerateEvaluationReport writes an evaluation report in the configured format
func (rg *ReportGenerator) GenerateEvaluationReport(report *evaluation.Report, writer io.Writer) error {
	if report == nil {
		return fmt.Errorf("evaluation report cannot be nil")
	}

	switch rg.config.Format {
	case FormatConsole:
		return rg.generateEvaluationConsole(report, writer)
	case FormatJSON:
		encoder := json.NewEncoder(writer)
		encoder.SetIndent("", "  ")
		return encoder.Encode(report)
	case FormatCSV:
		return rg.generateEvaluationCSV(report, writer)
	default:
		return fmt.Errorf("unsupported output format: %s", rg.config.Format)
	}
}

func (rg *ReportGenerator) generateEvaluationConsole(report *evaluation.Report, writer io.Writer) error {
	ew := &errWriter{w: writer}

	ew.printf("EVALUATION REPORT\n")
	ew.printf("Date tolerance: %d days\n\n", report.Options.DateTolerance)

	ew.printf("=== SUMMARY ===\n")
	ew.printf("Evaluated rows: %d\n", report.Total)
	ew.printf("  Correct:  %d (%.2f%%)\n", report.Correct, report.CorrectPct)
	ew.printf("  Mismatch: %d (%.2f%%)\n", report.Mismatch, report.MismatchPct)
	ew.printf("  Extra:    %d (%.2f%%)\n", report.Extra, report.ExtraPct)
	ew.printf("  Missing:  %d (%.2f%%)\n", report.Missing, report.MissingPct)

	if !rg.config.IncludeMatches {
		return ew.err
	}

	sections := []struct {
		title   string
		outcome evaluation.Outcome
	}{
		{"MISMATCHES", evaluation.OutcomeMismatch},
		{"EXTRA MATCHES", evaluation.OutcomeExtra},
		{"MISSING MATCHES", evaluation.OutcomeMissing},
	}
	for _, section := range sections {
		rows := report.RowsWith(section.outcome)
		if len(rows) == 0 {
			continue
		}
		ew.printf("\n=== %s ===\n", section.title)
		for i, row := range rows {
			if rg.truncated(i, len(rows), ew) {
				break
			}
			ew.printf("  %d. %s/%s invoice %s: result %s, reference %s\n",
				i+1, row.OwnerID, row.CounterpartyID, row.InvoiceID, describeRef(row.Result), describeRef(row.Reference))
		}
	}
	return ew.err
}

func describeRef(m *models.MatchRef) string {
	if m == nil {
		return "-"
	}
	return fmt.Sprintf("%s (%s, %s)", m.MovementID, m.MovementAmount.StringFixed(2), m.MovementDate.Format(models.DateLayout))
}

func (rg *ReportGenerator) generateEvaluationCSV(report *evaluation.Report, writer io.Writer) error {
	csvWriter := csv.NewWriter(writer)
	csvWriter.Comma = rg.config.CSVDelimiter

	if rg.config.CSVHeaders {
		headers := []string{
			"outcome", "owner_id", "counterparty_id", "invoice_number",
			"result_movement_id", "result_movement_amount", "result_movement_date",
			"reference_movement_id", "reference_movement_amount", "reference_movement_date",
			"date_diff",
		}
		if err := csvWriter.Write(headers); err != nil {
			return fmt.Errorf("failed to write CSV headers: %w", err)
		}
	}

	for _, row := range report.Rows {
		record := []string{string(row.Outcome), row.OwnerID, row.CounterpartyID, row.InvoiceID}
		record = append(record, refColumns(row.Result)...)
		record = append(record, refColumns(row.Reference)...)
		record = append(record, strconv.Itoa(row.DateDiff))
		if err := csvWriter.Write(record); err != nil {
			return fmt.Errorf("failed to write evaluation row: %w", err)
		}
	}

	csvWriter.Flush()
	return csvWriter.Error()
}

func refColumns(m *models.MatchRef) []string {
	if m == nil {
		return []string{"", "", ""}
	}
	return []string{m.MovementID, m.MovementAmount.String(), m.MovementDate.Format(models.DateLayout)}
}
