package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"golang-payment-matcher/cmd/matcher/config"
	"golang-payment-matcher/internal/evaluation"
	"golang-payment-matcher/internal/parsers"
	"golang-payment-matcher/internal/reporter"
	"golang-payment-matcher/pkg/errors"
	"golang-payment-matcher/pkg/logger"
)

// Flags for the evaluate command
var (
	resultFile      string
	referenceFile   string
	dateTolerance   int
	evalFormat      string
	evalOutputFile  string
	showEvalDetails bool
)

var evaluateKeys = map[string]string{
	"result":         "evaluate.result",
	"reference":      "evaluate.reference",
	"date-tolerance": "evaluate.date_tolerance",
	"output-format":  "evaluate.output_format",
	"output-file":    "evaluate.output_file",
	"details":        "evaluate.details",
	"delimiter":      config.KeyDelimiter,
	"max-errors":     config.KeyMaxErrors,
}

// evaluateCmd represents the evaluate command
var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Compare a match file against a reference match file",
	Long: `Evaluate compares the matches produced by 'matcher match --output-format csv'
with a reference match file. Both files are keyed by owner, counterparty and
invoice number.

A pairing is correct when the movement amounts are equal and the movement
dates are at most --date-tolerance days apart. Invoices matched on both sides
but differently are mismatches, invoices matched only in the result are
extra and invoices matched only in the reference are missing.

Reference CSV columns: owner_id, counterparty_id, invoice_number, movement_id,
movement_amount, movement_date

Examples:
  matcher evaluate --result matches.csv --reference reference.csv
  matcher evaluate -r matches.csv -R reference.csv --date-tolerance 3 --output-format json`,

	PreRunE: validateEvaluateFlags,
	RunE:    runEvaluate,
}

func init() {
	rootCmd.AddCommand(evaluateCmd)

	evaluateCmd.Flags().StringVarP(&resultFile, "result", "r", "", "match file produced by the match command (required)")
	evaluateCmd.Flags().StringVarP(&referenceFile, "reference", "R", "", "reference match file (required)")
	evaluateCmd.Flags().IntVarP(&dateTolerance, "date-tolerance", "d", evaluation.DefaultDateTolerance, "days movement dates may differ in a correct pairing")
	evaluateCmd.Flags().StringVarP(&evalFormat, "output-format", "f", "console", "output format: console, json, csv")
	evaluateCmd.Flags().StringVarP(&evalOutputFile, "output-file", "o", "", "output file path (default: stdout)")
	evaluateCmd.Flags().BoolVar(&showEvalDetails, "details", true, "list mismatched, extra and missing invoices in the console report")
	evaluateCmd.Flags().String("delimiter", ",", "CSV field delimiter of the input files")
	evaluateCmd.Flags().Int("max-errors", 100, "invalid rows skipped before a file is rejected (0: unlimited)")
}

func validateEvaluateFlags(cmd *cobra.Command, args []string) error {
	if err := bindFlags(cmd, evaluateKeys); err != nil {
		return err
	}

	resultFile = viper.GetString("evaluate.result")
	referenceFile = viper.GetString("evaluate.reference")
	dateTolerance = viper.GetInt("evaluate.date_tolerance")
	evalFormat = viper.GetString("evaluate.output_format")
	evalOutputFile = viper.GetString("evaluate.output_file")
	showEvalDetails = viper.GetBool("evaluate.details")

	if evalFormat == "" {
		evalFormat = string(reporter.FormatConsole)
	}
	if !viper.IsSet("evaluate.date_tolerance") {
		dateTolerance = evaluation.DefaultDateTolerance
	}

	if err := validateFileExists(resultFile, "result"); err != nil {
		return err
	}
	if err := validateFileExists(referenceFile, "reference"); err != nil {
		return err
	}
	if dateTolerance < 0 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "date-tolerance", dateTolerance, nil).
			WithSuggestion("date tolerance cannot be negative")
	}
	if _, err := config.CreateReportConfig(evalFormat); err != nil {
		return err
	}
	if err := validateOutputPath(evalOutputFile); err != nil {
		return err
	}
	_, err := config.CreateParseConfig(viper.GetViper())
	return err
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)

	parseConfig, err := config.CreateParseConfig(viper.GetViper())
	if err != nil {
		return err
	}
	reportConfig, err := config.CreateReportConfig(evalFormat)
	if err != nil {
		return err
	}
	reportConfig.IncludeMatches = showEvalDetails

	parser, err := parsers.NewRecordParser(parseConfig)
	if err != nil {
		return err
	}
	result, resultStats, err := parser.ParseMatchFile(ctx, resultFile)
	if err != nil {
		return err
	}
	reference, referenceStats, err := parser.ParseMatchFile(ctx, referenceFile)
	if err != nil {
		return err
	}
	log := logger.GetGlobalLogger().WithComponent("cli")
	reportSkippedRows(resultStats, log)
	reportSkippedRows(referenceStats, log)

	report, err := evaluation.Evaluate(result, reference, evaluation.Options{DateTolerance: dateTolerance})
	if err != nil {
		return err
	}

	generator, err := reporter.NewSafeReportGenerator(reportConfig, logger.GetGlobalLogger())
	if err != nil {
		return err
	}
	if evalOutputFile != "" {
		err = generator.WriteEvaluationFile(report, evalOutputFile)
	} else {
		err = generator.GenerateEvaluationReport(report, cmd.OutOrStdout())
	}
	if err != nil {
		return err
	}

	if viper.GetBool(config.KeyVerbose) {
		fmt.Fprintf(os.Stderr, "\nEvaluated %d result rows against %d reference rows: %.2f%% correct.\n",
			len(result), len(reference), report.CorrectPct)
	}
	return nil
}
