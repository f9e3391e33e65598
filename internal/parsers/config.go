package parsers

import (
	"fmt"
	"strings"
	"time"

	"golang-payment-matcher/internal/models"
)

// Standard column names
const (
	ColumnOwnerID        = "owner_id"
	ColumnCounterpartyID = "counterparty_id"
	ColumnAmount         = "amount"
	ColumnDate           = "date"
	ColumnInvoiceNumber  = "invoice_number"
	ColumnMovementID     = "movement_id"
	ColumnDescription    = "description"
	ColumnMovementAmount = "movement_amount"
	ColumnMovementDate   = "movement_date"
)

// ParseConfig holds configuration for CSV parsing
type ParseConfig struct {
	HasHeader        bool     `json:"has_header" yaml:"has_header"`
	Delimiter        rune     `json:"delimiter" yaml:"delimiter"`
	Comment          rune     `json:"comment" yaml:"comment"`
	TrimLeadingSpace bool     `json:"trim_leading_space" yaml:"trim_leading_space"`
	SkipEmptyRows    bool     `json:"skip_empty_rows" yaml:"skip_empty_rows"`
	MaxFieldSize     int      `json:"max_field_size" yaml:"max_field_size"`
	ValidateEncoding bool     `json:"validate_encoding" yaml:"validate_encoding"`
	MaxErrors        int      `json:"max_errors" yaml:"max_errors"`
	DateFormats      []string `json:"date_formats" yaml:"date_formats"`

	// ColumnAliases lists, per standard column, other header names accepted for it
	ColumnAliases map[string][]string `json:"column_aliases,omitempty" yaml:"column_aliases,omitempty"`
}

// DefaultColumnAliases returns the header aliases accepted out of the box
func DefaultColumnAliases() map[string][]string {
	return map[string][]string{
		ColumnOwnerID:        {"rut", "owner"},
		ColumnCounterpartyID: {"counterparty_rut", "counterparty"},
		ColumnAmount:         {"inv_amount", "mov_amount"},
		ColumnDate:           {"inv_date", "mov_date"},
		ColumnInvoiceNumber:  {"inv_number", "invoice_id"},
		ColumnMovementID:     {"mov_id"},
		ColumnDescription:    {"mov_description"},
		ColumnMovementAmount: {"mov_amount"},
		ColumnMovementDate:   {"mov_date"},
	}
}

// DefaultParseConfig returns a configuration with sensible defaults
func DefaultParseConfig() *ParseConfig {
	return &ParseConfig{
		HasHeader:        true,
		Delimiter:        ',',
		TrimLeadingSpace: true,
		SkipEmptyRows:    true,
		MaxFieldSize:     1000000, // 1MB per field
		ValidateEncoding: true,
		MaxErrors:        100,
		DateFormats:      []string{models.DateLayout, time.RFC3339},
		ColumnAliases:    DefaultColumnAliases(),
	}
}

// Validate checks if the parse configuration is usable
func (c *ParseConfig) Validate() error {
	if c.Delimiter == 0 || c.Delimiter == '\n' || c.Delimiter == '\r' || c.Delimiter == '"' {
		return fmt.Errorf("invalid delimiter %q", c.Delimiter)
	}
	if c.Comment != 0 && c.Comment == c.Delimiter {
		return fmt.Errorf("comment character cannot equal the delimiter")
	}
	if c.MaxErrors < 0 {
		return fmt.Errorf("max errors cannot be negative")
	}
	if len(c.DateFormats) == 0 {
		return fmt.Errorf("at least one date format is required")
	}
	for _, layout := range c.DateFormats {
		if strings.TrimSpace(layout) == "" {
			return fmt.Errorf("date format cannot be empty")
		}
	}
	return nil
}

// HeaderNames returns the accepted header names of a standard column,
// the standard name first
func (c *ParseConfig) HeaderNames(standardName string) []string {
	return append([]string{standardName}, c.ColumnAliases[standardName]...)
}

// ParseDate parses a date with the first matching layout
func (c *ParseConfig) ParseDate(value string) (time.Time, error) {
	for _, layout := range c.DateFormats {
		if t, err := time.Parse(layout, value); err == nil {
			return models.NormalizeDate(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("date %q does not match any of %v", value, c.DateFormats)
}

// fileLayout describes the columns of one kind of input file
type fileLayout struct {
	name     string
	required []string
	optional []string
}

var (
	invoiceLayout = fileLayout{
		name:     "invoices",
		required: []string{ColumnOwnerID, ColumnCounterpartyID, ColumnAmount, ColumnDate, ColumnInvoiceNumber},
	}
	movementLayout = fileLayout{
		name:     "movements",
		required: []string{ColumnOwnerID, ColumnCounterpartyID, ColumnAmount, ColumnDate, ColumnMovementID},
		optional: []string{ColumnDescription},
	}
	matchLayout = fileLayout{
		name:     "matches",
		required: []string{ColumnOwnerID, ColumnCounterpartyID, ColumnInvoiceNumber, ColumnMovementID, ColumnMovementAmount, ColumnMovementDate},
	}
)

// columns returns every column of the layout, required first
func (l fileLayout) columns() []string {
	return append(append([]string{}, l.required...), l.optional...)
}
