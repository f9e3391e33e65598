package parsers

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc/pool"

	"golang-payment-matcher/internal/models"
	"golang-payment-matcher/pkg/errors"
	"golang-payment-matcher/pkg/logger"
)

// RecordParser reads invoice, movement and match files
type RecordParser struct {
	*BaseParser
	config *ParseConfig
	logger logger.Logger
}

// NewRecordParser creates a new record parser. A nil config selects DefaultParseConfig.
func NewRecordParser(config *ParseConfig) (*RecordParser, error) {
	if config == nil {
		config = DefaultParseConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "parser", nil, err)
	}

	return &RecordParser{
		BaseParser: NewBaseParser(config),
		config:     config,
		logger:     logger.WithComponent("parser"),
	}, nil
}

// ParseInvoices parses an invoice file
func (rp *RecordParser) ParseInvoices(ctx context.Context, filePath string) ([]*models.Record, *ParseStats, error) {
	return rp.parseRecordFile(ctx, filePath, models.KindInvoice)
}

// ParseMovements parses a movement file
func (rp *RecordParser) ParseMovements(ctx context.Context, filePath string) ([]*models.Record, *ParseStats, error) {
	return rp.parseRecordFile(ctx, filePath, models.KindMovement)
}

// Inputs is the parsed content of an invoice file and a movement file
type Inputs struct {
	Invoices      []*models.Record
	Movements     []*models.Record
	InvoiceStats  *ParseStats
	MovementStats *ParseStats
}

// ParseInputs parses an invoice file and a movement file concurrently
func (rp *RecordParser) ParseInputs(ctx context.Context, invoicePath, movementPath string) (*Inputs, error) {
	in := &Inputs{}
	p := pool.New().WithContext(ctx).WithCancelOnError()

	p.Go(func(ctx context.Context) error {
		records, stats, err := rp.ParseInvoices(ctx, invoicePath)
		in.Invoices, in.InvoiceStats = records, stats
		return err
	})
	p.Go(func(ctx context.Context) error {
		records, stats, err := rp.ParseMovements(ctx, movementPath)
		in.Movements, in.MovementStats = records, stats
		return err
	})

	if err := p.Wait(); err != nil {
		return nil, err
	}
	return in, nil
}

func (rp *RecordParser) parseRecordFile(ctx context.Context, filePath string, kind models.Kind) ([]*models.Record, *ParseStats, error) {
	layout := invoiceLayout
	if kind == models.KindMovement {
		layout = movementLayout
	}

	var records []*models.Record
	seen := make(map[models.ElementKey]int)
	idColumn := layout.required[len(layout.required)-1]

	stats, err := rp.parseFile(ctx, filePath, layout, func(row []string, parseCtx *ParseContext) *errors.RowError {
		record, rowErr := rp.recordFromRow(row, parseCtx, kind)
		if rowErr != nil {
			return rowErr
		}
		if first, dup := seen[record.ElementKey()]; dup {
			return errors.DuplicateIDError(filePath, parseCtx.LineNumber, idColumn, record.ID).
				WithSuggestion(fmt.Sprintf("first seen on line %d for owner %s", first, record.OwnerID))
		}
		seen[record.ElementKey()] = parseCtx.LineNumber
		records = append(records, record)
		return nil
	})
	if err != nil {
		return nil, stats, err
	}
	return records, stats, nil
}

// ParseMatchFile parses a match file: a result written by the reporter or a
// reference set of matches
func (rp *RecordParser) ParseMatchFile(ctx context.Context, filePath string) ([]*models.MatchRef, *ParseStats, error) {
	var refs []*models.MatchRef

	stats, err := rp.parseFile(ctx, filePath, matchLayout, func(row []string, parseCtx *ParseContext) *errors.RowError {
		ref, rowErr := rp.matchRefFromRow(row, parseCtx)
		if rowErr != nil {
			return rowErr
		}
		refs = append(refs, ref)
		return nil
	})
	if err != nil {
		return nil, stats, err
	}
	return refs, stats, nil
}

// parseFile drives a layout's rows through handle, collecting row errors
func (rp *RecordParser) parseFile(ctx context.Context, filePath string, layout fileLayout, handle func([]string, *ParseContext) *errors.RowError) (*ParseStats, error) {
	op := logger.NewOperationLogger("parse_"+layout.name, rp.logger).WithField("file_path", filePath)

	file, reader, err := rp.OpenFile(filePath)
	if err != nil {
		op.Error(err, "Failed to open file")
		return nil, err
	}
	defer file.Close()

	stats, err := rp.parseReader(ctx, reader, filePath, layout, handle)
	if err != nil {
		op.Error(err, "Parsing failed")
		return stats, err
	}

	op.WithField("total_lines", stats.TotalLines).
		WithField("records_valid", stats.RecordsValid).
		WithField("error_count", len(stats.Errors)).
		Success("Parsing completed")
	if stats.HasErrors() {
		op.WithField("sample_errors", stats.GetSampleErrors(3)).Warning("Encountered errors during parsing")
	}
	return stats, nil
}

func (rp *RecordParser) parseReader(ctx context.Context, reader *csv.Reader, filePath string, layout fileLayout, handle func([]string, *ParseContext) *errors.RowError) (*ParseStats, error) {
	parseCtx := NewParseContext(ctx, filePath)
	stats := &ParseStats{File: filePath}
	collector := errors.NewParseErrorCollector(rp.config.MaxErrors)

	if err := rp.ReadHeaders(reader, parseCtx, layout); err != nil {
		return stats, err
	}

	for {
		row, err := rp.ReadRecord(reader, parseCtx)
		if err == io.EOF {
			break
		}
		if err != nil {
			rowErr, ok := err.(*errors.RowError)
			if !ok {
				return stats, err
			}
			if !collector.Add(rowErr) {
				stats.Errors = collector.GetErrors()
				return stats, tooManyErrors(filePath, collector)
			}
			continue
		}

		stats.RecordsParsed++
		if rowErr := handle(row, parseCtx); rowErr != nil {
			if !collector.Add(rowErr) {
				stats.Errors = collector.GetErrors()
				return stats, tooManyErrors(filePath, collector)
			}
			continue
		}
		stats.RecordsValid++
	}

	stats.TotalLines = parseCtx.LineNumber
	stats.Errors = collector.GetErrors()
	return stats, nil
}

func tooManyErrors(filePath string, collector *errors.ParseErrorCollector) error {
	return errors.Wrap(collector.GetSummary(), errors.CategoryParse, errors.CodeInvalidData,
		fmt.Sprintf("too many invalid rows in %s", filePath)).
		WithContext("file", filePath).
		WithSuggestion("fix the reported rows or raise max_errors")
}

func (rp *RecordParser) recordFromRow(row []string, parseCtx *ParseContext, kind models.Kind) (*models.Record, *errors.RowError) {
	idColumn := ColumnInvoiceNumber
	if kind == models.KindMovement {
		idColumn = ColumnMovementID
	}

	values := make(map[string]string, 6)
	for _, column := range []string{ColumnOwnerID, ColumnAmount, ColumnDate, idColumn} {
		value, rowErr := rp.RequiredFieldValue(row, parseCtx, column)
		if rowErr != nil {
			return nil, rowErr
		}
		values[column] = value
	}
	// Empty counterparties are kept: orphan movements are matched by description.
	for _, column := range []string{ColumnCounterpartyID, ColumnDescription} {
		value, rowErr := rp.GetFieldValue(row, parseCtx, column)
		if rowErr != nil {
			return nil, rowErr
		}
		values[column] = value
	}

	amount, rowErr := rp.parseAmount(parseCtx, ColumnAmount, values[ColumnAmount])
	if rowErr != nil {
		return nil, rowErr
	}
	date, rowErr := rp.parseDate(parseCtx, ColumnDate, values[ColumnDate])
	if rowErr != nil {
		return nil, rowErr
	}

	if kind == models.KindMovement {
		return models.NewMovement(values[ColumnOwnerID], values[ColumnCounterpartyID], values[idColumn],
			amount, date, values[ColumnDescription]), nil
	}
	return models.NewInvoice(values[ColumnOwnerID], values[ColumnCounterpartyID], values[idColumn], amount, date), nil
}

func (rp *RecordParser) matchRefFromRow(row []string, parseCtx *ParseContext) (*models.MatchRef, *errors.RowError) {
	values := make(map[string]string, len(matchLayout.required))
	for _, column := range matchLayout.required {
		required := rp.RequiredFieldValue
		if column == ColumnCounterpartyID {
			required = rp.GetFieldValue
		}
		value, rowErr := required(row, parseCtx, column)
		if rowErr != nil {
			return nil, rowErr
		}
		values[column] = value
	}

	amount, rowErr := rp.parseAmount(parseCtx, ColumnMovementAmount, values[ColumnMovementAmount])
	if rowErr != nil {
		return nil, rowErr
	}
	date, rowErr := rp.parseDate(parseCtx, ColumnMovementDate, values[ColumnMovementDate])
	if rowErr != nil {
		return nil, rowErr
	}

	return &models.MatchRef{
		OwnerID:        values[ColumnOwnerID],
		CounterpartyID: values[ColumnCounterpartyID],
		InvoiceID:      values[ColumnInvoiceNumber],
		MovementID:     values[ColumnMovementID],
		MovementAmount: amount,
		MovementDate:   date,
	}, nil
}

// parseAmount accepts plain decimal amounts; amounts must be positive
func (rp *RecordParser) parseAmount(parseCtx *ParseContext, column, value string) (decimal.Decimal, *errors.RowError) {
	amount, err := decimal.NewFromString(value)
	if err != nil || !amount.IsPositive() {
		return decimal.Zero, errors.InvalidAmountError(parseCtx.File, parseCtx.LineNumber, column, value)
	}
	return amount, nil
}

func (rp *RecordParser) parseDate(parseCtx *ParseContext, column, value string) (time.Time, *errors.RowError) {
	date, err := rp.config.ParseDate(value)
	if err != nil {
		return time.Time{}, errors.InvalidDateError(parseCtx.File, parseCtx.LineNumber, column, value)
	}
	return date, nil
}
