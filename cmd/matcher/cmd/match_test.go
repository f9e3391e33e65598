package cmd

import (
	"bytes"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"golang-payment-matcher/internal/reconciler"
	"golang-payment-matcher/pkg/logger"
)

const (
	testInvoices = `owner_id,counterparty_id,amount,date,invoice_number
76000001,99000001,100000,2024-03-01,F-1
76000001,99000001,40000,2024-03-02,F-2
76000001,99000001,60000,2024-03-03,F-3
76000001,99000002,55555,2024-03-01,F-4
`
	testMovements = `rut,counterparty_rut,mov_amount,mov_date,mov_id,mov_description
76000001,99000001,100000,2024-03-04,M-1,TRANSF ACME
76000001,99000001,100000,2024-03-10,M-2,TRANSF ACME
76000001,99000003,777,2024-03-01,M-3,
`
)

// writeInputs writes an invoice and a movement file into a temporary directory
func writeInputs(t *testing.T) (dir, invoices, movements string) {
	t.Helper()
	dir = t.TempDir()
	invoices = filepath.Join(dir, "invoices.csv")
	movements = filepath.Join(dir, "movements.csv")
	if err := os.WriteFile(invoices, []byte(testInvoices), 0644); err != nil {
		t.Fatalf("failed to create invoices file: %v", err)
	}
	if err := os.WriteFile(movements, []byte(testMovements), 0644); err != nil {
		t.Fatalf("failed to create movements file: %v", err)
	}
	return dir, invoices, movements
}

func resetViper(t *testing.T) {
	t.Helper()
	viper.Reset()
	logger.SetGlobalLogger(logger.NewNopLogger())
	t.Cleanup(viper.Reset)
}

func TestValidateFileExists(t *testing.T) {
	tmpDir := t.TempDir()
	validFile := filepath.Join(tmpDir, "valid.csv")
	if err := os.WriteFile(validFile, []byte("test"), 0644); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}

	tests := []struct {
		name        string
		filePath    string
		expectError bool
	}{
		{name: "valid file", filePath: validFile},
		{name: "empty path", filePath: "", expectError: true},
		{name: "missing file", filePath: filepath.Join(tmpDir, "missing.csv"), expectError: true},
		{name: "directory", filePath: tmpDir, expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateFileExists(tt.filePath, "test file")
			if tt.expectError && err == nil {
				t.Errorf("expected error but got none")
			}
			if !tt.expectError && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestValidateMatchFlags(t *testing.T) {
	dir, invoices, movements := writeInputs(t)

	tests := []struct {
		name          string
		setupFlags    func()
		errorContains string
	}{
		{
			name: "valid flags",
			setupFlags: func() {
				viper.Set("invoices", invoices)
				viper.Set("movements", movements)
				viper.Set("output-format", "json")
			},
		},
		{
			name: "missing invoices",
			setupFlags: func() {
				viper.Set("movements", movements)
			},
			errorContains: "missing required configuration: invoices",
		},
		{
			name: "movements file not found",
			setupFlags: func() {
				viper.Set("invoices", invoices)
				viper.Set("movements", filepath.Join(dir, "nope.csv"))
			},
			errorContains: "file not found",
		},
		{
			name: "invalid output format",
			setupFlags: func() {
				viper.Set("invoices", invoices)
				viper.Set("movements", movements)
				viper.Set("output-format", "xml")
			},
			errorContains: "invalid configuration for 'output-format'",
		},
		{
			name: "missing output directory",
			setupFlags: func() {
				viper.Set("invoices", invoices)
				viper.Set("movements", movements)
				viper.Set("output-file", filepath.Join(dir, "missing", "out.csv"))
			},
			errorContains: "directory error",
		},
		{
			name: "invalid tuning",
			setupFlags: func() {
				viper.Set("invoices", invoices)
				viper.Set("movements", movements)
				viper.Set("matching.max_group_len", 0)
			},
			errorContains: "max_group_len",
		},
		{
			name: "invalid delimiter",
			setupFlags: func() {
				viper.Set("invoices", invoices)
				viper.Set("movements", movements)
				viper.Set("input.delimiter", ";;")
			},
			errorContains: "input.delimiter",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetViper(t)
			tt.setupFlags()

			err := validateMatchFlags(&cobra.Command{}, []string{})

			if tt.errorContains == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Errorf("expected error but got none")
			} else if !strings.Contains(err.Error(), tt.errorContains) {
				t.Errorf("expected error to contain '%s', got: %v", tt.errorContains, err)
			}
		})
	}
}

func TestRunMatch_Console(t *testing.T) {
	_, invoices, movements := writeInputs(t)
	resetViper(t)
	viper.Set("invoices", invoices)
	viper.Set("movements", movements)

	cmd := &cobra.Command{}
	var out bytes.Buffer
	cmd.SetOut(&out)

	if err := validateMatchFlags(cmd, nil); err != nil {
		t.Fatalf("validation failed: %v", err)
	}
	if err := runMatch(cmd, nil); err != nil {
		t.Fatalf("match failed: %v", err)
	}

	output := out.String()
	for _, want := range []string{"RECONCILIATION REPORT", "=== SUMMARY ===", "=== MATCHES ===", "F-4", "M-3"} {
		if !strings.Contains(output, want) {
			t.Errorf("output should contain %q\n%s", want, output)
		}
	}
}

func TestRunMatch_CSVThenEvaluate(t *testing.T) {
	dir, invoices, movements := writeInputs(t)
	matchesFile := filepath.Join(dir, "matches.csv")
	pending := filepath.Join(dir, "pending.csv")

	resetViper(t)
	viper.Set("invoices", invoices)
	viper.Set("movements", movements)
	viper.Set("output-format", "csv")
	viper.Set("output-file", matchesFile)
	viper.Set("pending-file", pending)

	cmd := &cobra.Command{}
	if err := validateMatchFlags(cmd, nil); err != nil {
		t.Fatalf("validation failed: %v", err)
	}
	if err := runMatch(cmd, nil); err != nil {
		t.Fatalf("match failed: %v", err)
	}

	rows := readCSV(t, matchesFile)
	// F-1 pays M-1 exactly; F-2 and F-3 together pay M-2
	if len(rows) != 4 {
		t.Fatalf("expected header and 3 match rows, got %d rows: %v", len(rows), rows)
	}
	stages := map[string]string{}
	for _, row := range rows[1:] {
		stages[row[3]] = row[0]
	}
	if stages["F-1"] != "exact" || stages["F-2"] != "grouped" || stages["F-3"] != "grouped" {
		t.Errorf("unexpected stages per invoice: %v", stages)
	}

	pendingRows := readCSV(t, pending)
	if len(pendingRows) != 3 {
		t.Errorf("expected header, F-4 and M-3 in the pending file, got %v", pendingRows)
	}

	// A match file evaluated against itself is entirely correct
	resetViper(t)
	viper.Set("evaluate.result", matchesFile)
	viper.Set("evaluate.reference", matchesFile)
	viper.Set("evaluate.output_format", "json")

	evalCmd := &cobra.Command{}
	var out bytes.Buffer
	evalCmd.SetOut(&out)
	if err := validateEvaluateFlags(evalCmd, nil); err != nil {
		t.Fatalf("evaluate validation failed: %v", err)
	}
	if dateTolerance != 7 {
		t.Errorf("expected the default date tolerance, got %d", dateTolerance)
	}
	if err := runEvaluate(evalCmd, nil); err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	if !strings.Contains(out.String(), `"correct_pct": 100`) {
		t.Errorf("expected 100%% correct, got:\n%s", out.String())
	}
}

func TestValidateEvaluateFlags(t *testing.T) {
	_, invoices, _ := writeInputs(t)

	resetViper(t)
	viper.Set("evaluate.result", invoices)
	if err := validateEvaluateFlags(&cobra.Command{}, nil); err == nil || !strings.Contains(err.Error(), "reference") {
		t.Errorf("expected missing reference error, got %v", err)
	}

	resetViper(t)
	viper.Set("evaluate.result", invoices)
	viper.Set("evaluate.reference", invoices)
	viper.Set("evaluate.date_tolerance", -1)
	if err := validateEvaluateFlags(&cobra.Command{}, nil); err == nil || !strings.Contains(err.Error(), "date-tolerance") {
		t.Errorf("expected date tolerance error, got %v", err)
	}
}

func TestRunEvaluate_RejectsRecordFile(t *testing.T) {
	_, invoices, _ := writeInputs(t)

	resetViper(t)
	viper.Set("evaluate.result", invoices)
	viper.Set("evaluate.reference", invoices)

	cmd := &cobra.Command{}
	if err := validateEvaluateFlags(cmd, nil); err != nil {
		t.Fatalf("validation failed: %v", err)
	}
	err := runEvaluate(cmd, nil)
	if err == nil || !strings.Contains(err.Error(), "movement_id") {
		t.Errorf("expected a missing column error, got %v", err)
	}
}

func TestRunConfig(t *testing.T) {
	resetViper(t)
	viper.Set("preset", "strict")
	viper.Set("matching.window_size", 12)
	viper.Set("stages", []string{"exact"})

	cmd := &cobra.Command{}
	var out bytes.Buffer
	cmd.SetOut(&out)
	if err := runConfig(cmd, nil); err != nil {
		t.Fatalf("config failed: %v", err)
	}

	var doc struct {
		Preset   string `yaml:"preset"`
		Matching struct {
			MaxGroupLen     int    `yaml:"max_group_len"`
			WindowSize      int    `yaml:"window_size"`
			AmountBin       string `yaml:"amount_bin"`
			SolverTimeLimit string `yaml:"solver_time_limit"`
		} `yaml:"matching"`
		EnabledStages []string `yaml:"enabled_stages"`
	}
	if err := yaml.Unmarshal(out.Bytes(), &doc); err != nil {
		t.Fatalf("output is not yaml: %v\n%s", err, out.String())
	}
	if doc.Preset != "strict" || doc.Matching.MaxGroupLen != 3 || doc.Matching.WindowSize != 12 {
		t.Errorf("unexpected effective config: %+v", doc)
	}
	if doc.Matching.AmountBin != "1000" || doc.Matching.SolverTimeLimit != "1m30s" {
		t.Errorf("amount bin and time limit should be readable: %+v", doc.Matching)
	}
	if len(doc.EnabledStages) != 1 || doc.EnabledStages[0] != "exact" {
		t.Errorf("unexpected stages: %v", doc.EnabledStages)
	}
}

func TestCommandHelp(t *testing.T) {
	for _, name := range []string{"match", "evaluate", "config", "version"} {
		found := false
		for _, c := range rootCmd.Commands() {
			if c.Name() == name {
				found = true
				if c.Short == "" {
					t.Errorf("command %s has no short description", name)
				}
			}
		}
		if !found {
			t.Errorf("command %s is not registered", name)
		}
	}

	if !strings.Contains(matchCmd.Long, "strict") {
		t.Errorf("match help should list the presets")
	}
}

func TestFlagBinding(t *testing.T) {
	for _, c := range []*cobra.Command{matchCmd, configCmd} {
		for name := range tunableKeys {
			if c.Flags().Lookup(name) == nil {
				t.Errorf("command %s: flag '%s' not found", c.Name(), name)
			}
		}
	}
	for name := range matchKeys {
		if matchCmd.Flags().Lookup(name) == nil {
			t.Errorf("match: flag '%s' not found", name)
		}
	}
	for name := range evaluateKeys {
		if evaluateCmd.Flags().Lookup(name) == nil {
			t.Errorf("evaluate: flag '%s' not found", name)
		}
	}
}

func TestPrintProgress(t *testing.T) {
	var buf bytes.Buffer
	previous := progressWriter
	progressWriter = &buf
	defer func() { progressWriter = previous }()

	printProgress(reconciler.Progress{
		Stage:           "similar",
		CompletedStages: 1,
		TotalStages:     3,
		PartitionsDone:  2,
		PartitionsTotal: 4,
		MatchesFound:    5,
	})

	if !strings.Contains(buf.String(), "[1/3] similar") || !strings.Contains(buf.String(), "partitions 2/4") {
		t.Errorf("unexpected progress line: %q", buf.String())
	}
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("failed to open %s: %v", path, err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("failed to read %s: %v", path, err)
	}
	return rows
}
