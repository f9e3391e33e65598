package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"golang-payment-matcher/cmd/matcher/config"
	"golang-payment-matcher/internal/parsers"
	"golang-payment-matcher/internal/reconciler"
	"golang-payment-matcher/internal/reporter"
	"golang-payment-matcher/pkg/errors"
	"golang-payment-matcher/pkg/logger"
)

// Flags for the match command
var (
	invoicesFile  string
	movementsFile string
	outputFormat  string
	outputFile    string
	pendingFile   string
	showProgress  bool
)

// matchKeys maps the match specific flags to viper keys
var matchKeys = map[string]string{
	"invoices":      "invoices",
	"movements":     "movements",
	"output-format": "output-format",
	"output-file":   "output-file",
	"pending-file":  "pending-file",
	"progress":      "progress",
}

// matchCmd represents the match command
var matchCmd = &cobra.Command{
	Use:   "match",
	Short: "Match invoices with bank movements",
	Long: `Match reads an invoice file and a movement file, runs the matching stages and
writes the accepted matches together with the invoices and movements left
pending.

Invoices CSV columns:  owner_id, counterparty_id, amount, date, invoice_number
Movements CSV columns: owner_id, counterparty_id, amount, date, movement_id[, description]
Dates use YYYY-MM-DD. Common aliases such as rut, counterparty_rut, inv_amount
and mov_amount are accepted as headers.

Presets:
` + presetDescription() + `
Examples:
  # Default tuning, console report
  matcher match --invoices invoices.csv --movements movements.csv

  # Match file for the evaluate command, pending records in a second file
  matcher match -i inv.csv -m mov.csv --output-format csv --output-file matches.csv \
    --pending-file pending.csv

  # Strict preset with the exact solver on the exact stage
  matcher match -i inv.csv -m mov.csv --preset strict --exact-strategy exact

  # Only the grouped stage, with larger groups
  matcher match -i inv.csv -m mov.csv --stages grouped --max-group-len 5

  # Description grouping stage with progress indicators
  matcher match -i inv.csv -m mov.csv --description-stage --progress`,

	PreRunE: validateMatchFlags,
	RunE:    runMatch,
}

func init() {
	rootCmd.AddCommand(matchCmd)

	// Input flags
	matchCmd.Flags().StringVarP(&invoicesFile, "invoices", "i", "", "path to the invoice CSV file (required)")
	matchCmd.Flags().StringVarP(&movementsFile, "movements", "m", "", "path to the movement CSV file (required)")

	// Output flags
	matchCmd.Flags().StringVarP(&outputFormat, "output-format", "f", "console", "output format: console, json, csv")
	matchCmd.Flags().StringVarP(&outputFile, "output-file", "o", "", "output file path (default: stdout)")
	matchCmd.Flags().StringVar(&pendingFile, "pending-file", "", "write pending invoices and movements as CSV to this file")

	// UI flags
	matchCmd.Flags().BoolVar(&showProgress, "progress", false, "show progress indicators")

	addTunableFlags(matchCmd)
}

func validateMatchFlags(cmd *cobra.Command, args []string) error {
	if err := bindFlags(cmd, matchKeys); err != nil {
		return err
	}
	if err := bindFlags(cmd, tunableKeys); err != nil {
		return err
	}

	// Get values from viper (allows override from config file)
	invoicesFile = viper.GetString("invoices")
	movementsFile = viper.GetString("movements")
	outputFormat = viper.GetString("output-format")
	outputFile = viper.GetString("output-file")
	pendingFile = viper.GetString("pending-file")
	showProgress = viper.GetBool("progress")

	if outputFormat == "" {
		outputFormat = string(reporter.FormatConsole)
	}

	if err := validateFileExists(invoicesFile, "invoices"); err != nil {
		return err
	}
	if err := validateFileExists(movementsFile, "movements"); err != nil {
		return err
	}
	if _, err := config.CreateReportConfig(outputFormat); err != nil {
		return err
	}
	if err := validateOutputPath(outputFile); err != nil {
		return err
	}
	if err := validateOutputPath(pendingFile); err != nil {
		return err
	}
	if _, err := config.CreateParseConfig(viper.GetViper()); err != nil {
		return err
	}
	return validateTunables()
}

func runMatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt)
	defer stop()

	log := logger.GetGlobalLogger().WithComponent("cli")

	reconcilerConfig, err := config.CreateReconcilerConfig(viper.GetViper())
	if err != nil {
		return err
	}
	parseConfig, err := config.CreateParseConfig(viper.GetViper())
	if err != nil {
		return err
	}
	reportConfig, err := config.CreateReportConfig(outputFormat)
	if err != nil {
		return err
	}

	if viper.GetBool(config.KeyVerbose) {
		fmt.Fprintf(os.Stderr, "Invoices file: %s\n", invoicesFile)
		fmt.Fprintf(os.Stderr, "Movements file: %s\n", movementsFile)
		fmt.Fprintf(os.Stderr, "Stages: %s\n", strings.Join(reconcilerConfig.EnabledStages(), ", "))
		fmt.Fprintf(os.Stderr, "Matching: %s\n", reconcilerConfig.Matching)
		fmt.Fprintf(os.Stderr, "Output format: %s\n", outputFormat)
		if outputFile != "" {
			fmt.Fprintf(os.Stderr, "Output file: %s\n", outputFile)
		}
	}

	parser, err := parsers.NewRecordParser(parseConfig)
	if err != nil {
		return err
	}
	inputs, err := parser.ParseInputs(ctx, invoicesFile, movementsFile)
	if err != nil {
		return err
	}
	reportSkippedRows(inputs.InvoiceStats, log)
	reportSkippedRows(inputs.MovementStats, log)

	options := []reconciler.Option{reconciler.WithLogger(logger.GetGlobalLogger())}
	if showProgress {
		options = append(options, reconciler.WithProgressCallback(printProgress))
	}

	result, err := reconciler.New(reconcilerConfig, options...).Run(ctx, inputs.Invoices, inputs.Movements)
	if showProgress {
		fmt.Fprintln(progressWriter)
	}
	if err != nil {
		return err
	}

	generator, err := reporter.NewSafeReportGenerator(reportConfig, logger.GetGlobalLogger())
	if err != nil {
		return err
	}
	if outputFile != "" {
		err = generator.WriteReportFile(result, outputFile)
	} else {
		err = generator.GenerateReportSafely(result, cmd.OutOrStdout())
	}
	if err != nil {
		return err
	}
	if pendingFile != "" {
		if err := generator.WritePendingFile(result, pendingFile); err != nil {
			return err
		}
	}

	if viper.GetBool(config.KeyVerbose) {
		fmt.Fprintf(os.Stderr, "\nMatching completed successfully (run %s).\n", result.RunID)
		fmt.Fprintf(os.Stderr, "Processed %d invoices and %d movements.\n", len(inputs.Invoices), len(inputs.Movements))
		fmt.Fprintf(os.Stderr, "Matched %d invoices and %d movements; %d invoices and %d movements pending.\n",
			result.MatchedInvoices(), result.MatchedMovements(), len(result.PendingInvoices), len(result.PendingMovements))
		fmt.Fprintf(os.Stderr, "Processing time: %v\n", result.Duration)
	}
	return nil
}

// reportSkippedRows warns about rows that were skipped while parsing
func reportSkippedRows(stats *parsers.ParseStats, log logger.Logger) {
	if stats == nil || !stats.HasErrors() {
		return
	}
	log.WithFields(logger.Fields{
		"file":    stats.File,
		"skipped": len(stats.Errors),
		"valid":   stats.RecordsValid,
	}).Warn("Invalid rows were skipped")

	if viper.GetBool(config.KeyVerbose) {
		fmt.Fprintf(os.Stderr, "%s\n", errors.FormatRowErrorsForUser(stats.Errors))
	}
}

func printProgress(p reconciler.Progress) {
	fmt.Fprintf(progressWriter, "\r[%d/%d] %-12s partitions %d/%d, %d matches (%.1f%% complete)",
		p.CompletedStages, p.TotalStages, p.Stage,
		p.PartitionsDone, p.PartitionsTotal, p.MatchesFound, p.PercentComplete())
}
