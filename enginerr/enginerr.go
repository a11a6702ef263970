// Package enginerr defines the structured error envelope carried through
// violation messages, and the classification of SQL and evaluation failures
// into a stable machine-readable taxonomy.
package enginerr

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Type identifies a failure category. The string values are part of the wire
// contract: callers pattern-match on error_type.
type Type string

const (
	TypeDatabase           Type = "database_error"
	TypeDatabaseConnection Type = "database_connection_error"
	TypeTableNotFound      Type = "database_table_not_found"
	TypeSQLSyntax          Type = "sql_syntax_error"
	TypeExpression         Type = "expression_evaluation_error"
	TypeRuleEvaluation     Type = "rule_evaluation_error"
	TypeValidation         Type = "validation_error"
	TypeConfiguration      Type = "configuration_error"
	TypeAuthentication     Type = "authentication_error"
	TypePermission         Type = "permission_error"
	TypeGeneral            Type = "general_error"
)

// Response is the JSON envelope embedded inside violation message/details
// fields so failures stay inspectable across the tool boundary.
type Response struct {
	Success   bool           `json:"success"`
	ErrorType Type           `json:"error_type,omitempty"`
	ErrorCode string         `json:"error_code,omitempty"`
	Message   string         `json:"message,omitempty"`
	Details   string         `json:"details,omitempty"`
	Context   map[string]any `json:"context,omitempty"`
}

// JSON serializes the response. Marshalling a plain struct of scalars cannot
// fail, so the error is ignored.
func (r *Response) JSON() string {
	raw, _ := json.Marshal(r)
	return string(raw)
}

// New builds a failure response of the given type.
func New(t Type, message string, context map[string]any) *Response {
	return &Response{Success: false, ErrorType: t, Message: message, Context: context}
}

// Error is an error carrying a stable classification plus optional context.
type Error struct {
	Type    Type
	Err     error
	Context map[string]any
}

func (e *Error) Error() string { return e.Err.Error() }

func (e *Error) Unwrap() error { return e.Err }

// Newf builds a classified error.
func Newf(t Type, format string, args ...any) *Error {
	return &Error{Type: t, Err: fmt.Errorf(format, args...)}
}

// TypeOf returns the classification of err, inferring one from the message
// when err does not already carry a Type.
func TypeOf(err error) Type {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Type
	}
	return Infer(err)
}

// Envelope converts err into a structured response, preserving any
// classification and context already attached.
func Envelope(err error) *Response {
	var ce *Error
	if errors.As(err, &ce) {
		return &Response{Success: false, ErrorType: ce.Type, Message: ce.Err.Error(), Context: ce.Context}
	}
	return &Response{Success: false, ErrorType: Infer(err), Message: err.Error()}
}

// ClassifySQL classifies a database failure by message phrase. Precedence:
// missing table, then connection/timeout/auth, then syntax, then generic.
func ClassifySQL(err error) Type {
	msg := strings.ToLower(err.Error())

	for _, phrase := range []string{"no such table", "does not exist", "doesn't exist", "relation", "unknown table"} {
		if strings.Contains(msg, phrase) {
			return TypeTableNotFound
		}
	}
	for _, phrase := range []string{"connection", "timeout", "timed out", "could not connect", "unable to open", "refused", "deadline exceeded", "authentication", "access denied", "password"} {
		if strings.Contains(msg, phrase) {
			return TypeDatabaseConnection
		}
	}
	for _, phrase := range []string{"syntax error", "syntax", "parse error", "malformed"} {
		if strings.Contains(msg, phrase) {
			return TypeSQLSyntax
		}
	}
	return TypeDatabase
}

// Infer guesses the failure category for errors that arrive unclassified.
func Infer(err error) Type {
	msg := strings.ToLower(err.Error())

	switch {
	case containsAny(msg, "no such table", "relation", "doesn't exist", "unknown table"):
		return TypeTableNotFound
	case containsAny(msg, "connection", "timeout", "could not connect", "unable to open"):
		return TypeDatabaseConnection
	case containsAny(msg, "syntax error"):
		return TypeSQLSyntax
	case containsAny(msg, "database", "sqlite", "mysql", "postgres", "sql"):
		return TypeDatabase
	case containsAny(msg, "expression", "evaluation", "eval", "overload"):
		return TypeExpression
	case containsAny(msg, "authentication", "auth", "login"):
		return TypeAuthentication
	case containsAny(msg, "permission", "access denied"):
		return TypePermission
	default:
		return TypeGeneral
	}
}

// WrapMessage envelopes msg as a structured payload of the given type.
// Wrapping is idempotent: a message that already parses as a structured error
// is returned unchanged so payloads never get double-enveloped.
func WrapMessage(msg string, t Type, context map[string]any) string {
	if IsStructured(msg) {
		return msg
	}
	return New(t, msg, context).JSON()
}

// IsStructured reports whether msg is already a serialized Response.
func IsStructured(msg string) bool {
	trimmed := strings.TrimSpace(msg)
	if !strings.HasPrefix(trimmed, "{") {
		return false
	}
	var probe struct {
		Success   *bool  `json:"success"`
		ErrorType string `json:"error_type"`
	}
	if err := json.Unmarshal([]byte(trimmed), &probe); err != nil {
		return false
	}
	return probe.Success != nil && probe.ErrorType != ""
}

func containsAny(s string, phrases ...string) bool {
	for _, p := range phrases {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
