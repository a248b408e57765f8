package utils_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/digitax/fbr_backend/utils"
	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
)

func TestProcessValidationErrors_FieldMap(t *testing.T) {
	type invoiceInput struct {
		InvoiceNumber string `validate:"required"`
		BuyerName     string
	}

	err := validator.New().Struct(invoiceInput{})
	if err == nil {
		t.Fatal("expected a validation failure")
	}

	fields := utils.ProcessValidationErrors(err)
	if fields == nil {
		t.Fatal("expected a field map for validator errors")
	}
	if fields["InvoiceNumber"] != "required" {
		t.Fatalf("expected InvoiceNumber=required, got %v", fields)
	}
	if _, ok := fields["BuyerName"]; ok {
		t.Fatalf("untagged field must not appear: %v", fields)
	}
}

func TestProcessValidationErrors_NonValidatorError(t *testing.T) {
	if fields := utils.ProcessValidationErrors(errors.New("unexpected EOF")); fields != nil {
		t.Fatalf("expected nil for a non-validator error, got %v", fields)
	}
}

func TestWrapReadError_MissingRow(t *testing.T) {
	err := utils.WrapReadError("GetInvoice", gorm.ErrRecordNotFound)
	if !errors.Is(err, utils.ErrorRecordNotFound) {
		t.Fatalf("expected ErrorRecordNotFound, got %v", err)
	}

	wrapped := fmt.Errorf("find invoice: %w", gorm.ErrRecordNotFound)
	if err := utils.WrapReadError("GetInvoice", wrapped); !errors.Is(err, utils.ErrorRecordNotFound) {
		t.Fatalf("expected ErrorRecordNotFound for wrapped cause, got %v", err)
	}
}

func TestWrapReadError_StorageFailure(t *testing.T) {
	cause := errors.New("driver: bad connection")
	err := utils.WrapReadError("GetBackupSummary", cause)
	if errors.Is(err, utils.ErrorRecordNotFound) {
		t.Fatalf("a storage failure must not map to not-found: %v", err)
	}
	if !utils.IsStorageError(err) {
		t.Fatalf("expected a storage error, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected the cause to stay unwrappable, got %v", err)
	}
}
