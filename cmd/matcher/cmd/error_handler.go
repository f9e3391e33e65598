package cmd

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"syscall"

	"github.com/spf13/viper"

	"golang-payment-matcher/cmd/matcher/config"
	"golang-payment-matcher/pkg/errors"
	"golang-payment-matcher/pkg/logger"
)

// CLIErrorHandler provides user-friendly error handling for CLI operations
type CLIErrorHandler struct {
	logger  logger.Logger
	out     io.Writer
	verbose bool
}

// NewCLIErrorHandler creates a new CLI error handler writing to out
func NewCLIErrorHandler(out io.Writer) *CLIErrorHandler {
	return &CLIErrorHandler{
		logger:  logger.GetGlobalLogger().WithComponent("cli"),
		out:     out,
		verbose: viper.GetBool(config.KeyVerbose),
	}
}

// HandleError prints err and returns the process exit code
func (h *CLIErrorHandler) HandleError(err error) int {
	if err == nil {
		return 0
	}

	h.logger.WithError(err).Debug("Command failed")

	var summary *errors.ErrorSummary
	if errors.As(err, &summary) {
		return h.handleSummary(summary, err)
	}
	if matcherErr, ok := errors.AsMatcherError(err); ok {
		return h.handleMatcherError(matcherErr)
	}
	return h.handleGenericError(err)
}

// handleMatcherError handles MatcherError with detailed context
func (h *CLIErrorHandler) handleMatcherError(err *errors.MatcherError) int {
	fmt.Fprintf(h.out, "Error: %s\n", err.Message)

	if len(err.Context) > 0 {
		keys := make([]string, 0, len(err.Context))
		for key := range err.Context {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		fmt.Fprintf(h.out, "\nContext:\n")
		for _, key := range keys {
			fmt.Fprintf(h.out, "  %s: %v\n", key, err.Context[key])
		}
	}

	if err.Suggestion != "" {
		fmt.Fprintf(h.out, "\nSuggestion: %s\n", err.Suggestion)
	}

	fmt.Fprintf(h.out, "\n%s\n", getCategoryHelp(err.Category))

	if h.verbose && err.Cause != nil {
		fmt.Fprintf(h.out, "\nUnderlying error: %v\n", err.Cause)
	}

	return err.GetExitCode()
}

// handleSummary prints the rows of a file rejected for too many errors
func (h *CLIErrorHandler) handleSummary(summary *errors.ErrorSummary, err error) int {
	if matcherErr, ok := errors.AsMatcherError(err); ok {
		fmt.Fprintf(h.out, "Error: %s\n", matcherErr.Message)
	}
	fmt.Fprintf(h.out, "%s\n", summary.Error())

	limit := len(summary.Errors)
	if !h.verbose && limit > 10 {
		limit = 10
	}
	for i, rowErr := range summary.Errors[:limit] {
		fmt.Fprintf(h.out, "  %d. %s\n", i+1, rowErr.Message)
	}
	if limit < len(summary.Errors) {
		fmt.Fprintf(h.out, "  ... and %d more errors (use --verbose to list them all)\n", len(summary.Errors)-limit)
	}

	fmt.Fprintf(h.out, "\n%s\n", getCategoryHelp(errors.CategoryParse))
	return summary.GetExitCode()
}

// handleGenericError handles errors that are not MatcherErrors
func (h *CLIErrorHandler) handleGenericError(err error) int {
	if isFileNotFoundError(err) {
		fmt.Fprintf(h.out, "Error: File not found\n")
		fmt.Fprintf(h.out, "Suggestion: Check if the file path is correct and the file exists\n")
		return 2
	}

	if isPermissionError(err) {
		fmt.Fprintf(h.out, "Error: Permission denied\n")
		fmt.Fprintf(h.out, "Suggestion: Check file permissions and ensure you have read access\n")
		return 2
	}

	if isDiskFullError(err) {
		fmt.Fprintf(h.out, "Error: Insufficient disk space\n")
		fmt.Fprintf(h.out, "Suggestion: Free up disk space and try again\n")
		return 2
	}

	// Flag parsing and unknown command errors from cobra end up here
	fmt.Fprintf(h.out, "Error: %v\n", err)
	fmt.Fprintf(h.out, "Run 'matcher --help' for usage.\n")
	return 1
}

// getCategoryHelp returns category-specific help text
func getCategoryHelp(category errors.ErrorCategory) string {
	switch category {
	case errors.CategoryFile:
		return `File error help:
• Check if the file exists and is readable
• Verify the file path is correct (use absolute paths if needed)
• Make sure the output directory exists`

	case errors.CategoryParse:
		return `Parse error help:
• Invoices need owner_id, counterparty_id, amount, date, invoice_number
• Movements need owner_id, counterparty_id, amount, date, movement_id
• Dates use YYYY-MM-DD and amounts are positive decimals without symbols
• Ensure the file uses UTF-8 encoding and the --delimiter matches
• Raise --max-errors to skip more invalid rows`

	case errors.CategoryValidation:
		return `Validation error help:
• Check that all required fields have values
• Invoice numbers and movement ids must be unique per owner
• Amounts must be positive`

	case errors.CategoryConfiguration:
		return `Configuration error help:
• Check your command-line flags and arguments
• Verify configuration file syntax if using --config
• Run 'matcher config' to see the effective configuration
• Try a preset first: --preset default, strict or relaxed`

	case errors.CategoryReconciliation:
		return `Matching error help:
• Retry with --exact-strategy greedy or a longer --solver-time-limit
• Lower --max-group-len to reduce the number of candidates
• Run a single stage with --stages to isolate the problem`

	default:
		return `For more help:
• Use 'matcher --help' for general help
• Use 'matcher match --help' for command-specific help
• Re-run with --verbose for more details`
	}
}

// Error detection helpers

func isFileNotFoundError(err error) bool {
	return os.IsNotExist(err) || strings.Contains(err.Error(), "no such file or directory")
}

func isPermissionError(err error) bool {
	return os.IsPermission(err) ||
		strings.Contains(err.Error(), "permission denied") ||
		strings.Contains(err.Error(), "access denied")
}

func isDiskFullError(err error) bool {
	if errors.Is(err, syscall.ENOSPC) {
		return true
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "no space left") ||
		strings.Contains(errStr, "disk full")
}
