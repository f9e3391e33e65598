package reporter

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	stderrors "errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"golang-payment-matcher/internal/matcher"
	"golang-payment-matcher/internal/models"
	"golang-payment-matcher/internal/parsers"
	"golang-payment-matcher/internal/reconciler"
	"golang-payment-matcher/pkg/errors"
	"golang-payment-matcher/pkg/logger"
)

var sampleDate = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

// createSampleResult runs a small reconciliation: one exact match, one
// pending invoice and one pending movement
func createSampleResult(t *testing.T) *reconciler.Result {
	t.Helper()

	invoices := []*models.Record{
		models.NewInvoice("76000001", "99000001", "F-1", decimal.NewFromInt(100000), sampleDate),
		models.NewInvoice("76000001", "99000002", "F-2", decimal.NewFromInt(55555), sampleDate),
	}
	movements := []*models.Record{
		models.NewMovement("76000001", "99000001", "M-1", decimal.NewFromInt(100000), sampleDate.AddDate(0, 0, 5), "TRANSF ACME"),
		models.NewMovement("76000001", "99000003", "M-2", decimal.NewFromInt(777), sampleDate, ""),
	}

	r := reconciler.New(reconciler.DefaultConfig(), reconciler.WithLogger(logger.NewNopLogger()))
	result, err := r.Run(context.Background(), invoices, movements)
	require.NoError(t, err)
	require.Len(t, result.Matches, 1)
	return result
}

func TestNewReportGenerator(t *testing.T) {
	tests := []struct {
		name        string
		config      *ReportConfig
		expectError bool
	}{
		{
			name:   "default config",
			config: nil,
		},
		{
			name:   "valid config",
			config: DefaultReportConfig(),
		},
		{
			name: "invalid format",
			config: &ReportConfig{
				Format:       "xml",
				CSVDelimiter: ',',
			},
			expectError: true,
		},
		{
			name: "negative list limit",
			config: &ReportConfig{
				Format:       FormatConsole,
				MaxListItems: -1,
				CSVDelimiter: ',',
			},
			expectError: true,
		},
		{
			name: "quote delimiter",
			config: &ReportConfig{
				Format:       FormatCSV,
				CSVDelimiter: '"',
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			generator, err := NewReportGenerator(tt.config)

			if tt.expectError {
				if err == nil {
					t.Errorf("expected error but got none")
				}
			} else {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				if generator == nil {
					t.Errorf("expected generator but got nil")
				}
			}
		})
	}
}

func TestOutputFormatValidation(t *testing.T) {
	for _, format := range []OutputFormat{FormatConsole, FormatJSON, FormatCSV} {
		if !format.IsValid() {
			t.Errorf("format %s should be valid", format)
		}
	}
	if OutputFormat("html").IsValid() {
		t.Error("format html should be invalid")
	}
}

func TestGenerateReport_NilResult(t *testing.T) {
	generator, err := NewReportGenerator(nil)
	require.NoError(t, err)
	assert.Error(t, generator.GenerateReport(nil, &bytes.Buffer{}))
}

func TestConsoleOutputSections(t *testing.T) {
	result := createSampleResult(t)

	minimal := DefaultReportConfig()
	minimal.IncludeMatches = false
	minimal.IncludePendingInvoices = false
	minimal.IncludePendingMovements = false
	minimal.IncludeStageSummary = false
	minimal.IncludeOwnerSummary = false

	tests := []struct {
		name             string
		config           *ReportConfig
		shouldContain    []string
		shouldNotContain []string
	}{
		{
			name:   "all sections enabled",
			config: DefaultReportConfig(),
			shouldContain: []string{
				"=== SUMMARY ===",
				"=== STAGES ===",
				"=== OWNERS ===",
				"=== MATCHES ===",
				"=== PENDING INVOICES ===",
				"=== PENDING MOVEMENTS ===",
				"F-2",
				"M-2",
				"Matched: 1 (50.0%)",
			},
		},
		{
			name:          "minimal sections",
			config:        minimal,
			shouldContain: []string{"=== SUMMARY ==="},
			shouldNotContain: []string{
				"=== STAGES ===",
				"=== OWNERS ===",
				"=== MATCHES ===",
				"=== PENDING INVOICES ===",
				"=== PENDING MOVEMENTS ===",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			generator, err := NewReportGenerator(tt.config)
			if err != nil {
				t.Fatalf("failed to create report generator: %v", err)
			}

			var buffer bytes.Buffer
			if err := generator.GenerateReport(result, &buffer); err != nil {
				t.Fatalf("failed to generate report: %v", err)
			}
			output := buffer.String()

			for _, section := range tt.shouldContain {
				if !strings.Contains(output, section) {
					t.Errorf("output should contain: %s", section)
				}
			}
			for _, section := range tt.shouldNotContain {
				if strings.Contains(output, section) {
					t.Errorf("output should not contain: %s", section)
				}
			}
		})
	}
}

func TestConsoleOutput_TruncatesLongLists(t *testing.T) {
	result := &reconciler.Result{}
	for i := 0; i < 15; i++ {
		result.PendingInvoices = append(result.PendingInvoices,
			models.NewInvoice("O1", "C1", "F"+strings.Repeat("x", i), decimal.NewFromInt(int64(i+1)), sampleDate))
	}

	generator, err := NewReportGenerator(nil)
	require.NoError(t, err)

	var buffer bytes.Buffer
	require.NoError(t, generator.GenerateReport(result, &buffer))
	assert.Contains(t, buffer.String(), "... and 5 more")
}

func TestJSONReport(t *testing.T) {
	result := createSampleResult(t)

	config := DefaultReportConfig()
	config.Format = FormatJSON
	generator, err := NewReportGenerator(config)
	require.NoError(t, err)

	var buffer bytes.Buffer
	require.NoError(t, generator.GenerateReport(result, &buffer))

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(buffer.Bytes(), &decoded))

	assert.Equal(t, result.RunID.String(), decoded["run_id"])
	assert.EqualValues(t, 1, decoded["matched_invoices"])
	assert.EqualValues(t, 1, decoded["pending_invoices"])

	matches, ok := decoded["matches"].([]interface{})
	require.True(t, ok)
	require.Len(t, matches, 1)
	match := matches[0].(map[string]interface{})
	assert.Equal(t, "F-1", match["invoice_id"])
	assert.Equal(t, "100000", match["invoice_amount"])
	assert.Equal(t, "2024-03-06", match["movement_date"])
	assert.Equal(t, reconciler.StageExact, match["stage"])

	pending := decoded["pending_movement_records"].([]interface{})
	require.Len(t, pending, 1)
	assert.Equal(t, "777", pending[0].(map[string]interface{})["amount"])
}

func TestFilterResultForOutput(t *testing.T) {
	result := createSampleResult(t)

	config := DefaultReportConfig()
	config.IncludeMatches = false
	config.IncludeOwnerSummary = false
	generator, err := NewReportGenerator(config)
	require.NoError(t, err)

	output := generator.filterResultForOutput(result)
	assert.NotContains(t, output, "matches")
	assert.NotContains(t, output, "owners")
	assert.Contains(t, output, "stages")
	assert.Contains(t, output, "pending_invoice_records")
}

func TestCSVReport_RoundTripsThroughMatchParser(t *testing.T) {
	result := createSampleResult(t)

	config := DefaultReportConfig()
	config.Format = FormatCSV
	generator, err := NewReportGenerator(config)
	require.NoError(t, err)

	var buffer bytes.Buffer
	require.NoError(t, generator.GenerateReport(result, &buffer))

	rows, err := csv.NewReader(bytes.NewReader(buffer.Bytes())).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, MatchCSVHeaders, rows[0])
	assert.Equal(t, "exact", rows[1][0])
	assert.Equal(t, "TRANSF ACME", rows[1][9])

	path := filepath.Join(t.TempDir(), "matches.csv")
	require.NoError(t, os.WriteFile(path, buffer.Bytes(), 0o600))

	parser, err := parsers.NewRecordParser(nil)
	require.NoError(t, err)
	refs, stats, err := parser.ParseMatchFile(context.Background(), path)
	require.NoError(t, err)
	require.False(t, stats.HasErrors(), stats.String())
	require.Len(t, refs, 1)
	assert.Equal(t, result.Matches[0].Ref(), refs[0])
}

func TestGeneratePendingCSV(t *testing.T) {
	result := createSampleResult(t)

	generator, err := NewReportGenerator(nil)
	require.NoError(t, err)

	var buffer bytes.Buffer
	require.NoError(t, generator.GeneratePendingCSV(result, &buffer))

	rows, err := csv.NewReader(&buffer).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"invoice", "76000001", "99000002", "F-2", "55555", "2024-03-01", ""}, rows[1])
	assert.Equal(t, []string{"movement", "76000001", "99000003", "M-2", "777", "2024-03-01", ""}, rows[2])
}

func TestCalculatePercentage(t *testing.T) {
	tests := []struct {
		part, total int
		expected    float64
	}{
		{0, 0, 0},
		{1, 2, 50},
		{2, 3, 66.67},
		{3, 3, 100},
	}
	for _, tt := range tests {
		if got := calculatePercentage(tt.part, tt.total); got != tt.expected {
			t.Errorf("calculatePercentage(%d, %d) = %v, want %v", tt.part, tt.total, got, tt.expected)
		}
	}
}

func TestUpdateConfiguration(t *testing.T) {
	generator, err := NewReportGenerator(nil)
	require.NoError(t, err)

	assert.Error(t, generator.UpdateConfiguration(&ReportConfig{Format: "bogus", CSVDelimiter: ','}))
	assert.Equal(t, FormatConsole, generator.GetConfiguration().Format)

	updated := DefaultReportConfig()
	updated.Format = FormatJSON
	require.NoError(t, generator.UpdateConfiguration(updated))
	assert.Equal(t, FormatJSON, generator.GetConfiguration().Format)
}

type failingWriter struct{}

func (failingWriter) Write(p []byte) (int, error) {
	return 0, stderrors.New("sink unavailable")
}

func TestSafeReportGenerator(t *testing.T) {
	result := createSampleResult(t)

	t.Run("nil result", func(t *testing.T) {
		srg, err := NewSafeReportGenerator(nil, logger.NewNopLogger())
		require.NoError(t, err)
		err = srg.GenerateReportSafely(nil, &bytes.Buffer{})
		assert.True(t, errors.HasCodeInChain(err, errors.CodeMissingField), "got %v", err)
	})

	t.Run("invalid config", func(t *testing.T) {
		_, err := NewSafeReportGenerator(&ReportConfig{Format: "pdf"}, logger.NewNopLogger())
		assert.True(t, errors.HasCodeInChain(err, errors.CodeInvalidConfig), "got %v", err)
	})

	t.Run("failing writer", func(t *testing.T) {
		config := DefaultReportConfig()
		config.Format = FormatJSON
		srg, err := NewSafeReportGenerator(config, logger.NewNopLogger())
		require.NoError(t, err)
		err = srg.GenerateReportSafely(result, failingWriter{})
		assert.True(t, errors.HasCodeInChain(err, errors.CodeUnexpectedError), "got %v", err)
	})

	t.Run("report and pending files", func(t *testing.T) {
		config := DefaultReportConfig()
		config.Format = FormatCSV
		srg, err := NewSafeReportGenerator(config, logger.NewNopLogger())
		require.NoError(t, err)

		dir := t.TempDir()
		require.NoError(t, srg.WriteReportFile(result, filepath.Join(dir, "matches.csv")))
		require.NoError(t, srg.WritePendingFile(result, filepath.Join(dir, "pending.csv")))

		content, err := os.ReadFile(filepath.Join(dir, "pending.csv"))
		require.NoError(t, err)
		assert.Contains(t, string(content), "F-2")
	})

	t.Run("missing directory", func(t *testing.T) {
		srg, err := NewSafeReportGenerator(nil, logger.NewNopLogger())
		require.NoError(t, err)
		err = srg.WriteReportFile(result, filepath.Join(t.TempDir(), "nope", "report.txt"))
		matcherErr, ok := errors.AsMatcherError(err)
		require.True(t, ok, "got %v", err)
		assert.Equal(t, errors.CategoryFile, matcherErr.Category)
	})
}

func TestReports_ListSuspectedDuplicates(t *testing.T) {
	result := &reconciler.Result{
		Duplicates: []*matcher.DuplicateGroup{{
			GroupID:        "DUP_invoice_F-1",
			Kind:           models.KindInvoice,
			OwnerID:        "76000001",
			CounterpartyID: "99000001",
			Amount:         decimal.NewFromInt(500),
			Date:           time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
			IDs:            []string{"F-1", "F-9"},
			Reason:         "2 invoices with amount 500 on 2024-03-01",
		}},
	}

	console, err := NewReportGenerator(DefaultReportConfig())
	require.NoError(t, err)
	var out bytes.Buffer
	require.NoError(t, console.GenerateReport(result, &out))
	assert.Contains(t, out.String(), "=== SUSPECTED DUPLICATES ===")
	assert.Contains(t, out.String(), "76000001/99000001: F-1, F-9")

	jsonConfig := DefaultReportConfig()
	jsonConfig.Format = FormatJSON
	jsonReport, err := NewReportGenerator(jsonConfig)
	require.NoError(t, err)
	out.Reset()
	require.NoError(t, jsonReport.GenerateReport(result, &out))

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(out.Bytes(), &decoded))
	assert.Len(t, decoded["suspected_duplicates"], 1)
}
