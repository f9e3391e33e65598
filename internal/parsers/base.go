// Package parsers loads already cleaned invoice, movement and match files.
//
// Files are CSV with a header row. Columns are found by their standard name
// or by one of the configured aliases, case insensitively, so exports of
// different systems can be read without renaming columns first.
//
// Invoice files carry owner_id, counterparty_id, amount, date and
// invoice_number. Movement files carry owner_id, counterparty_id, amount,
// date, movement_id and an optional description. Match files, either a
// result written by the reporter or a reference produced elsewhere, carry
// owner_id, counterparty_id, invoice_number, movement_id, movement_amount and
// movement_date.
//
// Rows that cannot be parsed are collected as row errors and skipped; parsing
// stops once MaxErrors rows have failed.
//
// Example usage:
//
//	parser, err := NewRecordParser(DefaultParseConfig())
//	invoices, stats, err := parser.ParseInvoices(ctx, "invoices.csv")
//	if stats.HasErrors() {
//		fmt.Println(errors.FormatRowErrorsForUser(stats.Errors))
//	}
package parsers

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"golang-payment-matcher/pkg/errors"
	"golang-payment-matcher/pkg/logger"
)

// BaseParser provides common CSV parsing functionality
type BaseParser struct {
	config *ParseConfig
	logger logger.Logger
}

// NewBaseParser creates a new BaseParser with the given configuration
func NewBaseParser(config *ParseConfig) *BaseParser {
	if config == nil {
		config = DefaultParseConfig()
	}

	log := logger.WithComponent("parser")
	log.WithFields(logger.Fields{
		"has_header":        config.HasHeader,
		"delimiter":         string(config.Delimiter),
		"validate_encoding": config.ValidateEncoding,
		"max_errors":        config.MaxErrors,
	}).Debug("Created base parser")

	return &BaseParser{
		config: config,
		logger: log,
	}
}

// ParseContext holds state during parsing operations
type ParseContext struct {
	File       string
	LineNumber int
	Headers    []string
	HeaderMap  map[string]int
	Columns    map[string]int
	ctx        context.Context
}

// NewParseContext creates a new parsing context
func NewParseContext(ctx context.Context, file string) *ParseContext {
	if ctx == nil {
		ctx = context.Background()
	}
	return &ParseContext{
		File:      file,
		HeaderMap: make(map[string]int),
		Columns:   make(map[string]int),
		ctx:       ctx,
	}
}

// IsCancelled checks if the parsing context has been cancelled
func (pc *ParseContext) IsCancelled() bool {
	select {
	case <-pc.ctx.Done():
		return true
	default:
		return false
	}
}

// GetColumnIndex returns the index of a header, or -1 if not found
func (pc *ParseContext) GetColumnIndex(name string) int {
	if index, exists := pc.HeaderMap[strings.ToLower(strings.TrimSpace(name))]; exists {
		return index
	}
	return -1
}

// OpenFile opens a CSV file and returns a csv.Reader
func (bp *BaseParser) OpenFile(filePath string) (*os.File, *csv.Reader, error) {
	bp.logger.WithField("file_path", filePath).Debug("Opening CSV file")

	file, err := os.Open(filePath)
	if err != nil {
		bp.logger.WithError(err).WithField("file_path", filePath).Error("Failed to open CSV file")

		if os.IsNotExist(err) {
			return nil, nil, errors.FileError(errors.CodeFileNotFound, filePath, err)
		}
		if os.IsPermission(err) {
			return nil, nil, errors.FileError(errors.CodeFilePermission, filePath, err)
		}
		return nil, nil, errors.FileError(errors.CodeDirectoryError, filePath, err)
	}

	if bp.config.ValidateEncoding {
		if err := bp.validateEncoding(file, filePath); err != nil {
			file.Close()
			bp.logger.WithError(err).WithField("file_path", filePath).Error("File encoding validation failed")
			return nil, nil, err
		}

		if _, err := file.Seek(0, io.SeekStart); err != nil {
			file.Close()
			return nil, nil, errors.FileError(errors.CodeDirectoryError, filePath, err)
		}
	}

	return file, bp.NewReader(file), nil
}

// NewReader wraps r in a csv.Reader configured for this parser
func (bp *BaseParser) NewReader(r io.Reader) *csv.Reader {
	reader := csv.NewReader(r)
	reader.Comma = bp.config.Delimiter
	reader.Comment = bp.config.Comment
	reader.TrimLeadingSpace = bp.config.TrimLeadingSpace
	reader.FieldsPerRecord = -1
	reader.ReuseRecord = false
	return reader
}

// validateEncoding checks that the first lines of the file are valid UTF-8
func (bp *BaseParser) validateEncoding(file *os.File, filePath string) error {
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() && lineNum < 100 {
		lineNum++
		if !utf8.Valid(scanner.Bytes()) {
			return errors.ParseError(
				errors.CodeInvalidFormat,
				filePath,
				lineNum,
				"encoding",
				"",
				fmt.Errorf("invalid UTF-8 encoding detected"),
			).WithSuggestion("Save the file in UTF-8 encoding and try again")
		}
	}

	if err := scanner.Err(); err != nil {
		return errors.FileError(errors.CodeDirectoryError, filePath, err)
	}
	return nil
}

// ReadHeaders reads the header row and resolves the layout's columns.
// Without a header row the layout's column order is assumed.
func (bp *BaseParser) ReadHeaders(reader *csv.Reader, parseCtx *ParseContext, layout fileLayout) error {
	if !bp.config.HasHeader {
		parseCtx.Headers = layout.columns()
		bp.buildHeaderMap(parseCtx)
		bp.resolveColumns(parseCtx, layout)
		return nil
	}

	headers, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return errors.ValidationError(
				errors.CodeMissingField,
				"file_content",
				"empty",
				nil,
			).WithContext("file", parseCtx.File).
				WithSuggestion("Ensure the file contains header and data rows")
		}
		return errors.ParseError(
			errors.CodeInvalidFormat,
			parseCtx.File,
			1,
			"headers",
			"",
			err,
		).WithSuggestion("Check the file format and ensure it's a valid CSV")
	}

	parseCtx.LineNumber++
	parseCtx.Headers = cleanHeaders(headers)
	bp.buildHeaderMap(parseCtx)

	if missing := bp.resolveColumns(parseCtx, layout); len(missing) > 0 {
		bp.logger.WithFields(logger.Fields{
			"file_path":         parseCtx.File,
			"missing_headers":   missing,
			"available_headers": parseCtx.Headers,
		}).Error("Required headers are missing")
		resolved := make([]string, 0, len(parseCtx.Columns))
		for column := range parseCtx.Columns {
			resolved = append(resolved, column)
		}
		rowErr := errors.MissingColumnError(parseCtx.File, layout.required, resolved).
			WithSuggestion("add the missing columns to the CSV header or configure an alias for them")
		rowErr.Location.Value = strings.Join(missing, ", ")
		rowErr.WithContext("value", rowErr.Location.Value)
		return rowErr
	}

	bp.logger.WithFields(logger.Fields{
		"file_path": parseCtx.File,
		"headers":   parseCtx.Headers,
	}).Debug("Successfully read headers")
	return nil
}

// cleanHeaders removes whitespace and a leading byte order mark
func cleanHeaders(headers []string) []string {
	cleaned := make([]string, len(headers))
	for i, header := range headers {
		if i == 0 {
			header = strings.TrimPrefix(header, "\uFEFF")
		}
		cleaned[i] = strings.TrimSpace(header)
	}
	return cleaned
}

// buildHeaderMap maps lower cased header names to column indices; the first
// occurrence of a repeated header wins
func (bp *BaseParser) buildHeaderMap(parseCtx *ParseContext) {
	parseCtx.HeaderMap = make(map[string]int, len(parseCtx.Headers))
	for i, header := range parseCtx.Headers {
		key := strings.ToLower(header)
		if _, exists := parseCtx.HeaderMap[key]; !exists {
			parseCtx.HeaderMap[key] = i
		}
	}
}

// resolveColumns finds every layout column by name or alias and returns the
// required columns that could not be found
func (bp *BaseParser) resolveColumns(parseCtx *ParseContext, layout fileLayout) []string {
	parseCtx.Columns = make(map[string]int)
	find := func(column string) bool {
		for _, name := range bp.config.HeaderNames(column) {
			if index := parseCtx.GetColumnIndex(name); index != -1 {
				parseCtx.Columns[column] = index
				return true
			}
		}
		return false
	}

	var missing []string
	for _, column := range layout.required {
		if !find(column) {
			missing = append(missing, column)
		}
	}
	for _, column := range layout.optional {
		find(column)
	}
	return missing
}

// ReadRecord reads the next non empty CSV record
func (bp *BaseParser) ReadRecord(reader *csv.Reader, parseCtx *ParseContext) ([]string, error) {
	for {
		if parseCtx.IsCancelled() {
			return nil, parseCtx.ctx.Err()
		}

		record, err := reader.Read()
		if err != nil {
			if err == io.EOF {
				return nil, err
			}
			parseCtx.LineNumber++
			bp.logger.WithError(err).WithField("line_number", parseCtx.LineNumber).Warn("Failed to read CSV record")
			return nil, errors.NewRowError(errors.CodeInvalidFormat, &errors.ParseContext{
				File: parseCtx.File,
				Line: parseCtx.LineNumber,
			}, "malformed CSV row", err)
		}

		parseCtx.LineNumber++

		if bp.config.SkipEmptyRows && isEmptyRecord(record) {
			continue
		}

		if bp.config.MaxFieldSize > 0 {
			for i, field := range record {
				if len(field) > bp.config.MaxFieldSize {
					return nil, errors.NewRowError(errors.CodeInvalidData, &errors.ParseContext{
						File:     parseCtx.File,
						Line:     parseCtx.LineNumber,
						Column:   headerAt(parseCtx, i),
						Value:    truncate(field, 50),
						Expected: fmt.Sprintf("at most %d bytes", bp.config.MaxFieldSize),
					}, "field size limit exceeded", nil)
				}
			}
		}

		return record, nil
	}
}

func truncate(value string, n int) string {
	if len(value) <= n {
		return value
	}
	return value[:n] + "..."
}

func headerAt(parseCtx *ParseContext, index int) string {
	if index < len(parseCtx.Headers) {
		return parseCtx.Headers[index]
	}
	return fmt.Sprintf("field_%d", index)
}

// isEmptyRecord checks if all fields in a record are empty or whitespace
func isEmptyRecord(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}

// GetFieldValue returns the trimmed value of a resolved column. Optional
// columns that are absent yield an empty string.
func (bp *BaseParser) GetFieldValue(record []string, parseCtx *ParseContext, column string) (string, *errors.RowError) {
	index, ok := parseCtx.Columns[column]
	if !ok {
		return "", nil
	}
	if index >= len(record) {
		return "", errors.NewRowError(errors.CodeInvalidData, &errors.ParseContext{
			File:     parseCtx.File,
			Line:     parseCtx.LineNumber,
			Column:   column,
			Expected: fmt.Sprintf("%d fields", len(parseCtx.Headers)),
		}, fmt.Sprintf("row has %d fields", len(record)), nil).
			WithSuggestion("Check that all rows have the same number of columns as the header")
	}
	return strings.TrimSpace(record[index]), nil
}

// RequiredFieldValue is GetFieldValue for a value that must not be empty
func (bp *BaseParser) RequiredFieldValue(record []string, parseCtx *ParseContext, column string) (string, *errors.RowError) {
	value, rowErr := bp.GetFieldValue(record, parseCtx, column)
	if rowErr != nil {
		return "", rowErr
	}
	if value == "" {
		return "", errors.EmptyValueError(parseCtx.File, parseCtx.LineNumber, column)
	}
	return value, nil
}

// ParseStats holds statistics about a parsing operation
type ParseStats struct {
	File          string
	TotalLines    int
	RecordsParsed int
	RecordsValid  int
	Errors        []*errors.RowError
}

// HasErrors returns true if there were any parsing errors
func (ps *ParseStats) HasErrors() bool {
	return len(ps.Errors) > 0
}

// String returns a human-readable summary of parsing statistics
func (ps *ParseStats) String() string {
	return fmt.Sprintf("Parsed %d lines, %d records (%d valid), %d errors",
		ps.TotalLines, ps.RecordsParsed, ps.RecordsValid, len(ps.Errors))
}

// GetSampleErrors returns a sample of the parsing errors for logging
func (ps *ParseStats) GetSampleErrors(maxSamples int) []string {
	limit := len(ps.Errors)
	if maxSamples > 0 && maxSamples < limit {
		limit = maxSamples
	}

	samples := make([]string, 0, limit)
	for i := 0; i < limit; i++ {
		samples = append(samples, ps.Errors[i].Error())
	}
	return samples
}
