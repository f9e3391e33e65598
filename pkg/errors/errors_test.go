package errors

import (
	"errors"
	"strings"
	"testing"
)

func TestMatcherError(t *testing.T) {
	tests := []struct {
		name       string
		category   ErrorCategory
		code       ErrorCode
		message    string
		cause      error
		expectCode int
	}{
		{
			name:       "file error",
			category:   CategoryFile,
			code:       CodeFileNotFound,
			message:    "file not found",
			cause:      errors.New("no such file"),
			expectCode: 2,
		},
		{
			name:       "validation error",
			category:   CategoryValidation,
			code:       CodeUnsortedInput,
			message:    "unsorted",
			expectCode: 3,
		},
		{
			name:       "configuration error",
			category:   CategoryConfiguration,
			code:       CodeInvalidConfig,
			message:    "invalid config",
			cause:      errors.New("negative window"),
			expectCode: 4,
		},
		{
			name:       "reconciliation error",
			category:   CategoryReconciliation,
			code:       CodeDataInconsistent,
			message:    "element used twice",
			expectCode: 5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var err *MatcherError
			if tt.cause != nil {
				err = Wrap(tt.cause, tt.category, tt.code, tt.message)
			} else {
				err = New(tt.category, tt.code, tt.message)
			}

			if err.Category != tt.category {
				t.Errorf("expected category %s, got %s", tt.category, err.Category)
			}
			if err.Code != tt.code {
				t.Errorf("expected code %s, got %s", tt.code, err.Code)
			}
			if err.GetExitCode() != tt.expectCode {
				t.Errorf("expected exit code %d, got %d", tt.expectCode, err.GetExitCode())
			}
			if err.Error() != tt.message {
				t.Errorf("expected error string %s, got %s", tt.message, err.Error())
			}
			if tt.cause != nil && err.Unwrap() != tt.cause {
				t.Errorf("expected to unwrap to %v, got %v", tt.cause, err.Unwrap())
			}
			if len(err.StackTrace) == 0 {
				t.Error("expected a captured stack trace")
			}
		})
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(nil, CategoryInternal, CodeUnexpectedError, "x") != nil {
		t.Error("wrapping nil should return nil")
	}
	if WrapIfNeeded(nil, CategoryInternal, CodeUnexpectedError, "x") != nil {
		t.Error("WrapIfNeeded(nil) should return nil")
	}
}

func TestSpecificErrorConstructors(t *testing.T) {
	t.Run("ValidationError", func(t *testing.T) {
		err := ValidationError(CodeInvalidAmount, "amount", "0", nil)
		if err.Category != CategoryValidation {
			t.Errorf("expected validation category, got %s", err.Category)
		}
		if err.Context["field"] != "amount" {
			t.Errorf("expected field context, got %v", err.Context["field"])
		}
		if err.Suggestion == "" {
			t.Error("expected suggestion to be set")
		}
	})

	t.Run("ConfigurationError", func(t *testing.T) {
		err := ConfigurationError(CodeCombinatorialLimit, "max_group_len", 30, nil)
		if err.Category != CategoryConfiguration {
			t.Errorf("expected configuration category, got %s", err.Category)
		}
		if !strings.Contains(err.Message, "max_group_len") {
			t.Errorf("expected setting in message, got %s", err.Message)
		}
	})

	t.Run("ReconciliationError", func(t *testing.T) {
		cause := errors.New("element reused")
		err := ReconciliationError(CodeDataInconsistent, "grouped stage", cause)
		if err.Context["operation"] != "grouped stage" {
			t.Errorf("expected operation context, got %v", err.Context["operation"])
		}
		if !errors.Is(err, cause) {
			t.Error("expected cause to be reachable through errors.Is")
		}
	})
}

func TestAsMatcherError(t *testing.T) {
	base := ValidationError(CodeMissingField, "owner_id", "", nil)
	wrapped := errors.Join(errors.New("outer"), base)

	got, ok := AsMatcherError(wrapped)
	if !ok {
		t.Fatal("expected to find MatcherError in chain")
	}
	if got.Code != CodeMissingField {
		t.Errorf("expected missing field code, got %s", got.Code)
	}
	if !HasCodeInChain(wrapped, CodeMissingField) {
		t.Error("expected HasCodeInChain to match")
	}
	if HasCodeInChain(errors.New("plain"), CodeMissingField) {
		t.Error("plain errors carry no code")
	}

	if WrapIfNeeded(base, CategoryInternal, CodeUnexpectedError, "x") != base {
		t.Error("WrapIfNeeded should return existing MatcherError unchanged")
	}
}

func TestErrorSummary(t *testing.T) {
	errs := []*MatcherError{
		New(CategoryFile, CodeFileNotFound, "error 1"),
		New(CategoryParse, CodeInvalidFormat, "error 2"),
		New(CategoryParse, CodeInvalidData, "error 3"),
		New(CategoryConfiguration, CodeInvalidConfig, "error 4"),
	}

	summary := NewErrorSummary(errs)
	if summary.Total != 4 {
		t.Errorf("expected total 4, got %d", summary.Total)
	}
	if summary.ByCategory[CategoryParse] != 2 {
		t.Errorf("expected 2 parse errors, got %d", summary.ByCategory[CategoryParse])
	}
	if !summary.HasCode(CodeInvalidConfig) {
		t.Error("expected invalid config code")
	}
	if summary.HasCategory(CategoryReconciliation) {
		t.Error("expected no reconciliation errors")
	}
	if summary.GetExitCode() != 4 {
		t.Errorf("expected exit code 4, got %d", summary.GetExitCode())
	}

	empty := NewErrorSummary(nil)
	if empty.Error() != "no errors" || empty.GetExitCode() != 0 {
		t.Errorf("unexpected empty summary: %q %d", empty.Error(), empty.GetExitCode())
	}
}

func TestParseErrorCollector(t *testing.T) {
	collector := NewParseErrorCollector(2)

	if !collector.Add(InvalidAmountError("inv.csv", 3, "amount", "abc")) {
		t.Error("first recoverable error should allow continuing")
	}
	if collector.Add(InvalidDateError("inv.csv", 4, "date", "31/12")) {
		t.Error("collector should stop at max errors")
	}
	if len(collector.GetErrors()) != 2 {
		t.Fatalf("expected 2 errors, got %d", len(collector.GetErrors()))
	}

	summary := collector.GetSummary()
	if summary.ByCode[CodeInvalidDate] != 1 {
		t.Errorf("expected one invalid date, got %d", summary.ByCode[CodeInvalidDate])
	}

	missing := MissingColumnError("mov.csv", []string{"owner_id", "amount"}, []string{"owner_id"})
	if missing.Recoverable {
		t.Error("missing columns are not recoverable")
	}
	if !strings.Contains(missing.Message, "amount") {
		t.Errorf("expected missing column in message, got %s", missing.Message)
	}
	if !strings.Contains(missing.Error(), "mov.csv:1") {
		t.Errorf("expected location in error, got %s", missing.Error())
	}

	formatted := FormatRowErrorsForUser(collector.GetErrors())
	if !strings.Contains(formatted, "Found 2 parse errors") {
		t.Errorf("unexpected format: %s", formatted)
	}
}
