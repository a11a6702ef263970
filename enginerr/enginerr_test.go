package enginerr

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassifySQL(t *testing.T) {
	tests := []struct {
		msg  string
		want Type
	}{
		{"no such table: orders", TypeTableNotFound},
		{`pq: relation "orders" does not exist`, TypeTableNotFound},
		{"Table 'shop.orders' doesn't exist", TypeTableNotFound},
		{"dial tcp 10.0.0.1:5432: connection refused", TypeDatabaseConnection},
		{"context deadline exceeded", TypeDatabaseConnection},
		{"pq: password authentication failed for user", TypeDatabaseConnection},
		{"near \"SELEC\": syntax error", TypeSQLSyntax},
		{"constraint failed: UNIQUE", TypeDatabase},
	}

	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			if got := ClassifySQL(errors.New(tt.msg)); got != tt.want {
				t.Errorf("ClassifySQL(%q) = %s, want %s", tt.msg, got, tt.want)
			}
		})
	}
}

func TestClassifySQLTableBeatsConnection(t *testing.T) {
	// Both phrase families present: missing-table wins.
	err := errors.New(`connection ok but relation "x" does not exist`)
	if got := ClassifySQL(err); got != TypeTableNotFound {
		t.Errorf("ClassifySQL() = %s, want %s", got, TypeTableNotFound)
	}
}

func TestWrapMessageIdempotent(t *testing.T) {
	first := WrapMessage("no such table: orders", TypeTableNotFound, map[string]any{"query": "SELECT 1"})
	second := WrapMessage(first, TypeDatabase, nil)

	if first != second {
		t.Errorf("re-wrapping changed payload:\nfirst:  %s\nsecond: %s", first, second)
	}
}

func TestWrapMessagePlainText(t *testing.T) {
	wrapped := WrapMessage("boom", TypeGeneral, nil)
	if !IsStructured(wrapped) {
		t.Errorf("WrapMessage() produced non-structured payload: %s", wrapped)
	}
	if IsStructured("boom") {
		t.Error("IsStructured() true for plain text")
	}
	if IsStructured(`{"success": true}`) {
		t.Error("IsStructured() true for payload without error_type")
	}
}

func TestTypeOfPrefersAttachedType(t *testing.T) {
	err := fmt.Errorf("resolving requirement: %w", Newf(TypeSQLSyntax, "bad query"))
	if got := TypeOf(err); got != TypeSQLSyntax {
		t.Errorf("TypeOf() = %s, want %s", got, TypeSQLSyntax)
	}
}

func TestEnvelopeCarriesContext(t *testing.T) {
	err := &Error{
		Type:    TypeTableNotFound,
		Err:     errors.New("no such table: orders"),
		Context: map[string]any{"requirement": "order_count"},
	}

	resp := Envelope(err)
	if resp.Success {
		t.Error("Envelope() success should be false")
	}
	if resp.ErrorType != TypeTableNotFound {
		t.Errorf("Envelope() error_type = %s, want %s", resp.ErrorType, TypeTableNotFound)
	}
	if resp.Context["requirement"] != "order_count" {
		t.Errorf("Envelope() lost context: %#v", resp.Context)
	}
}
