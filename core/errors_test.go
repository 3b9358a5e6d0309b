package core

import (
	"context"
	stderrors "errors"
	"net/http"
	"strings"
	"testing"

	goerrors "github.com/goliatone/go-errors"
)

func TestNewAPIError_CarriesResponseDetails(t *testing.T) {
	err := NewAPIError(APIFailure{
		Method:     "get",
		Endpoint:   "/orders/1",
		StatusCode: http.StatusNotFound,
		Body:       []byte(`{"success":false,"error":{"message":"Order not found"}}`),
		Headers:    map[string]string{"Retry-After": "4"},
		Attempts:   1,
	})
	if err.TextCode != ErrorAPI || err.Code != http.StatusNotFound {
		t.Fatalf("unexpected envelope %s/%d", err.TextCode, err.Code)
	}
	if err.Category != goerrors.CategoryNotFound {
		t.Fatalf("expected not found category, got %q", err.Category)
	}
	if !strings.Contains(err.Message, "Order not found") {
		t.Fatalf("expected upstream message, got %q", err.Message)
	}
	if err.Metadata["method"] != "GET" || err.Metadata["retry_after"] != "4" {
		t.Fatalf("unexpected metadata %+v", err.Metadata)
	}

	long := NewAPIError(APIFailure{StatusCode: 500, Body: []byte(strings.Repeat("x", 5000))})
	if body, _ := long.Metadata["body"].(string); len(body) > maxErrorBodyExcerpt+3 {
		t.Fatalf("expected truncated body, got %d bytes", len(body))
	}
}

func TestErrorKinds_HaveStableCodes(t *testing.T) {
	cases := []struct {
		err  error
		code string
	}{
		{NewRefreshError("", nil), ErrorRefreshFailed},
		{NewRetryExhaustedError("get", "/orders", 4), ErrorRetryExhausted},
		{NewInvalidSignatureError(nil), ErrorInvalidSignature},
		{NewUnsupportedOperationError("order", "delete"), ErrorUnsupportedOperation},
		{NewMissingCredentialsError(), ErrorMissingCredentials},
		{NewValidationError("id", "required"), ErrorBadInput},
	}
	for _, tc := range cases {
		if !IsErrorCode(tc.err, tc.code) {
			t.Fatalf("expected %s, got %v", tc.code, tc.err)
		}
	}
	if IsErrorCode(stderrors.New("plain"), ErrorAPI) {
		t.Fatalf("plain errors carry no code")
	}
}

func TestMapError_AssignsStableCodes(t *testing.T) {
	mapped := MapError(stderrors.New("salla: no credentials found"))
	if mapped.TextCode != ErrorMissingCredentials || mapped.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected mapping %s/%d", mapped.TextCode, mapped.Code)
	}
	mapped = MapError(stderrors.New("core: credential key is required"))
	if mapped.TextCode != ErrorBadInput {
		t.Fatalf("expected bad input, got %s", mapped.TextCode)
	}
	original := NewRetryExhaustedError("get", "/orders", 2)
	if MapError(original) != original {
		t.Fatalf("expected rich errors passed through")
	}
	if MapError(nil) != nil {
		t.Fatalf("expected nil for nil")
	}
	if mapped := MapError(context.Canceled); mapped == nil || mapped.TextCode == "" {
		t.Fatalf("expected envelope for context errors")
	}
}
