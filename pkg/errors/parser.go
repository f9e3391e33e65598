package errors

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ParseContext provides context information for parsing operations
type ParseContext struct {
	File     string `json:"file"`
	Line     int    `json:"line"`
	Column   string `json:"column"`
	Value    string `json:"value"`
	Expected string `json:"expected,omitempty"`
}

// RowError is a parse failure tied to one row of an input file.
type RowError struct {
	*MatcherError
	Location    *ParseContext `json:"location"`
	Recoverable bool          `json:"recoverable"`
	Examples    []string      `json:"examples,omitempty"`
}

// Error implements the error interface with the file location appended
func (e *RowError) Error() string {
	msg := e.MatcherError.Error()
	if e.Location == nil {
		return msg
	}

	location := fmt.Sprintf("at %s", filepath.Base(e.Location.File))
	if e.Location.Line > 0 {
		location += fmt.Sprintf(":%d", e.Location.Line)
	}
	if e.Location.Column != "" {
		location += fmt.Sprintf(" column '%s'", e.Location.Column)
	}
	return msg + " " + location
}

// Unwrap exposes the underlying MatcherError to errors.As
func (e *RowError) Unwrap() error {
	return e.MatcherError
}

// GetDetailedError returns a detailed multi-line error description
func (e *RowError) GetDetailedError() string {
	lines := []string{fmt.Sprintf("ERROR: %s", e.Message)}

	if e.Location != nil {
		lines = append(lines, fmt.Sprintf("  -> File: %s", e.Location.File))
		if e.Location.Line > 0 {
			lines = append(lines, fmt.Sprintf("  -> Line: %d", e.Location.Line))
		}
		if e.Location.Column != "" {
			lines = append(lines, fmt.Sprintf("  -> Column: %s", e.Location.Column))
		}
		if e.Location.Value != "" {
			lines = append(lines, fmt.Sprintf("  -> Value: '%s'", e.Location.Value))
		}
		if e.Location.Expected != "" {
			lines = append(lines, fmt.Sprintf("  -> Expected: %s", e.Location.Expected))
		}
	}
	if e.Suggestion != "" {
		lines = append(lines, fmt.Sprintf("  -> Suggestion: %s", e.Suggestion))
	}
	if len(e.Examples) > 0 {
		lines = append(lines, fmt.Sprintf("  -> Examples: %s", strings.Join(e.Examples, ", ")))
	}

	return strings.Join(lines, "\n")
}

// NewRowError creates a parse error located at a file row
func NewRowError(code ErrorCode, location *ParseContext, message string, cause error) *RowError {
	base := newOrWrap(cause, CategoryParse, code, message)
	if location != nil {
		base.WithContext("file", location.File).
			WithContext("line", location.Line).
			WithContext("column", location.Column).
			WithContext("value", location.Value)
	}

	return &RowError{
		MatcherError: base,
		Location:     location,
		Recoverable:  true,
	}
}

// WithExamples adds example values to help fix the error
func (e *RowError) WithExamples(examples ...string) *RowError {
	e.Examples = examples
	return e
}

// WithSuggestion adds a suggestion and returns the RowError
func (e *RowError) WithSuggestion(suggestion string) *RowError {
	e.MatcherError.WithSuggestion(suggestion)
	return e
}

// InvalidAmountError creates an error for an unparsable or non-positive amount
func InvalidAmountError(file string, line int, column string, value string) *RowError {
	return NewRowError(CodeInvalidAmount, &ParseContext{
		File:     file,
		Line:     line,
		Column:   column,
		Value:    value,
		Expected: "positive decimal number",
	}, "invalid amount", nil).
		WithExamples("12.34", "1250", "480000").
		WithSuggestion("remove currency symbols and thousands separators")
}

// InvalidDateError creates an error for an unparsable date
func InvalidDateError(file string, line int, column string, value string) *RowError {
	return NewRowError(CodeInvalidDate, &ParseContext{
		File:     file,
		Line:     line,
		Column:   column,
		Value:    value,
		Expected: "date in YYYY-MM-DD format",
	}, "invalid date format", nil).
		WithExamples("2024-01-15", "2024-12-31").
		WithSuggestion("use YYYY-MM-DD")
}

// EmptyValueError creates an error for an empty required value
func EmptyValueError(file string, line int, column string) *RowError {
	return NewRowError(CodeMissingField, &ParseContext{
		File:     file,
		Line:     line,
		Column:   column,
		Expected: "non-empty value",
	}, "required field is empty", nil).
		WithSuggestion("provide a value for this required field")
}

// DuplicateIDError creates an error for an identifier repeated within an owner
func DuplicateIDError(file string, line int, column string, value string) *RowError {
	return NewRowError(CodeDuplicateRecord, &ParseContext{
		File:     file,
		Line:     line,
		Column:   column,
		Value:    value,
		Expected: "identifier unique per owner",
	}, "duplicate identifier", nil).
		WithSuggestion("remove the duplicated row or give it a distinct identifier")
}

// MissingColumnError creates an error for missing required columns
func MissingColumnError(file string, expectedColumns []string, actualColumns []string) *RowError {
	missing := findMissingColumns(expectedColumns, actualColumns)

	err := NewRowError(CodeMissingColumn, &ParseContext{
		File:     file,
		Line:     1,
		Expected: fmt.Sprintf("columns: %s", strings.Join(expectedColumns, ", ")),
	}, fmt.Sprintf("missing required columns: %s", strings.Join(missing, ", ")), nil).
		WithSuggestion("add the missing columns to the CSV header")
	err.Recoverable = false
	return err
}

// ParseErrorCollector collects row errors while a file is being read
type ParseErrorCollector struct {
	errors    []*RowError
	maxErrors int
}

// NewParseErrorCollector creates a new error collector
func NewParseErrorCollector(maxErrors int) *ParseErrorCollector {
	return &ParseErrorCollector{maxErrors: maxErrors}
}

// Add records an error and reports whether parsing may continue
func (c *ParseErrorCollector) Add(err *RowError) bool {
	if err == nil {
		return true
	}

	c.errors = append(c.errors, err)
	if c.maxErrors > 0 && len(c.errors) >= c.maxErrors {
		return false
	}
	return err.Recoverable
}

// HasErrors returns true if any errors have been collected
func (c *ParseErrorCollector) HasErrors() bool {
	return len(c.errors) > 0
}

// GetErrors returns all collected errors
func (c *ParseErrorCollector) GetErrors() []*RowError {
	return c.errors
}

// GetSummary returns an error summary for all collected errors
func (c *ParseErrorCollector) GetSummary() *ErrorSummary {
	base := make([]*MatcherError, len(c.errors))
	for i, err := range c.errors {
		base[i] = err.MatcherError
	}
	return NewErrorSummary(base)
}

func findMissingColumns(expected, actual []string) []string {
	actualSet := make(map[string]bool)
	for _, col := range actual {
		actualSet[strings.ToLower(strings.TrimSpace(col))] = true
	}

	var missing []string
	for _, col := range expected {
		if !actualSet[strings.ToLower(strings.TrimSpace(col))] {
			missing = append(missing, col)
		}
	}
	return missing
}

// FormatRowErrorsForUser formats collected row errors for terminal output
func FormatRowErrorsForUser(errs []*RowError) string {
	if len(errs) == 0 {
		return "No parse errors"
	}
	if len(errs) == 1 {
		return errs[0].GetDetailedError()
	}

	const maxDetailed = 3
	lines := []string{fmt.Sprintf("Found %d parse errors:", len(errs))}
	for i, err := range errs {
		if i == maxDetailed {
			lines = append(lines, "", fmt.Sprintf("... and %d more", len(errs)-maxDetailed))
			break
		}
		lines = append(lines, "", err.GetDetailedError())
	}
	return strings.Join(lines, "\n")
}
