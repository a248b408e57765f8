package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/digitax/fbr_backend/config"
	"github.com/gin-gonic/gin"
)

func TestCreateInvoiceHandler_MissingFieldsListedInResponse(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/invoices", createInvoiceHandler(config.GetLogger()))

	req := httptest.NewRequest(http.MethodPost, "/invoices", strings.NewReader(`{"buyer_name":"Ali"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}

	var body struct {
		Error  string            `json:"error"`
		Fields map[string]string `json:"fields"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Error != "validation failed" {
		t.Fatalf("expected validation failed, got %q", body.Error)
	}
	if body.Fields["InvoiceNumber"] != "required" {
		t.Fatalf("expected InvoiceNumber=required in fields, got %v", body.Fields)
	}
	if body.Fields["InvoiceDate"] != "required" {
		t.Fatalf("expected InvoiceDate=required in fields, got %v", body.Fields)
	}
}

func TestCreateInvoiceHandler_MalformedJSON(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/invoices", createInvoiceHandler(config.GetLogger()))

	req := httptest.NewRequest(http.MethodPost, "/invoices", strings.NewReader(`{"invoice_number":`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}

	var body struct {
		Error  string            `json:"error"`
		Fields map[string]string `json:"fields"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Error == "" || body.Error == "validation failed" {
		t.Fatalf("malformed JSON must surface the parse error, got %q", body.Error)
	}
	if body.Fields != nil {
		t.Fatalf("malformed JSON must not produce a field map, got %v", body.Fields)
	}
}
