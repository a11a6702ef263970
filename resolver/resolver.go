// Package resolver fetches requirement values from heterogeneous sources
// (caller context, SQL databases, HTTP APIs, static literals) and normalizes
// them into the shapes the expression evaluator expects.
package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rulekit/rulekit/enginerr"
	"github.com/rulekit/rulekit/placeholder"
)

// Source is the closed set of places a requirement can be resolved from.
// Unknown tags are rejected when the requirement is parsed, not at call time.
type Source int

const (
	SourceStatic Source = iota
	SourceLocal
	SourceContext
	SourceDatabase
	SourceAPI
)

var sourceNames = map[Source]string{
	SourceStatic:   "static",
	SourceLocal:    "local",
	SourceContext:  "context",
	SourceDatabase: "database",
	SourceAPI:      "api",
}

func (s Source) String() string {
	if name, ok := sourceNames[s]; ok {
		return name
	}
	return fmt.Sprintf("source(%d)", int(s))
}

// parseSource folds the historical source/type synonyms into one enum:
// source=local and source=db are accepted alongside type=context and
// type=database.
func parseSource(source, typ string) (Source, error) {
	tag := source
	if tag == "" {
		tag = typ
	}
	switch tag {
	case "", "context":
		return SourceContext, nil
	case "local":
		return SourceLocal, nil
	case "static":
		return SourceStatic, nil
	case "db", "database":
		return SourceDatabase, nil
	case "api":
		return SourceAPI, nil
	default:
		return 0, enginerr.Newf(enginerr.TypeValidation, "unknown requirement source %q", tag)
	}
}

// FailurePolicy controls whether a resolution failure propagates (fail-closed)
// or degrades the value to nil (fail-open).
type FailurePolicy int

const (
	PolicyDefault FailurePolicy = iota
	PolicyFailClosed
	PolicyFailOpen
)

// Requirement describes one piece of data to fetch and the key to bind it to.
type Requirement struct {
	Name     string
	Source   Source
	Field    string
	Query    string
	DBType   string
	DBURL    string
	DBSource string
	URL      string
	Method   string
	Headers  map[string]any
	Params   map[string]any
	Body     any
	Value    any
	OnError  FailurePolicy
}

type requirementJSON struct {
	Name     string         `json:"name"`
	Source   string         `json:"source,omitempty"`
	Type     string         `json:"type,omitempty"`
	Field    string         `json:"field,omitempty"`
	Query    string         `json:"query,omitempty"`
	DBType   string         `json:"db_type,omitempty"`
	DBURL    string         `json:"db_url,omitempty"`
	DBSource string         `json:"db_source,omitempty"`
	URL      string         `json:"url,omitempty"`
	Method   string         `json:"method,omitempty"`
	Headers  map[string]any `json:"headers,omitempty"`
	Params   map[string]any `json:"params,omitempty"`
	Body     any            `json:"body,omitempty"`
	Value    any            `json:"value,omitempty"`
	OnError  string         `json:"on_error,omitempty"`
}

func (r *Requirement) UnmarshalJSON(data []byte) error {
	var raw requirementJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	source, err := parseSource(raw.Source, raw.Type)
	if err != nil {
		return err
	}

	policy := PolicyDefault
	switch raw.OnError {
	case "":
	case "fail":
		policy = PolicyFailClosed
	case "ignore":
		policy = PolicyFailOpen
	default:
		return enginerr.Newf(enginerr.TypeValidation, "unknown on_error policy %q", raw.OnError)
	}

	*r = Requirement{
		Name:     raw.Name,
		Source:   source,
		Field:    raw.Field,
		Query:    raw.Query,
		DBType:   raw.DBType,
		DBURL:    raw.DBURL,
		DBSource: raw.DBSource,
		URL:      raw.URL,
		Method:   raw.Method,
		Headers:  raw.Headers,
		Params:   raw.Params,
		Body:     raw.Body,
		Value:    raw.Value,
		OnError:  policy,
	}
	return nil
}

func (r Requirement) MarshalJSON() ([]byte, error) {
	raw := requirementJSON{
		Name:     r.Name,
		Source:   r.Source.String(),
		Field:    r.Field,
		Query:    r.Query,
		DBType:   r.DBType,
		DBURL:    r.DBURL,
		DBSource: r.DBSource,
		URL:      r.URL,
		Method:   r.Method,
		Headers:  r.Headers,
		Params:   r.Params,
		Body:     r.Body,
		Value:    r.Value,
	}
	switch r.OnError {
	case PolicyFailClosed:
		raw.OnError = "fail"
	case PolicyFailOpen:
		raw.OnError = "ignore"
	}
	return json.Marshal(raw)
}

// Priority orders requirements so cheap local sources resolve before
// expensive remote ones; earlier results are then available as placeholder
// inputs for later ones. Requirements sharing a tier may resolve concurrently.
func (r Requirement) Priority() int {
	switch r.Source {
	case SourceStatic:
		return 0
	case SourceLocal:
		return 1
	case SourceContext:
		return 2
	case SourceDatabase:
		if r.DBSource == "rule" {
			return 3
		}
		return 4
	case SourceAPI:
		return 5
	default:
		return 6
	}
}

// Resolver fetches requirement values. Database connections are pooled
// process-wide by URL; the resolver itself holds no per-evaluation state and
// is safe for concurrent use.
type Resolver struct {
	BusinessDBURL string
	RuleDBURL     string
	HTTPClient    *http.Client
	Timeout       time.Duration
	Pools         *PoolRegistry

	// Policies overrides the default failure policy per source. Absent
	// entries fall back to the defaults: api fails open, everything else
	// fails closed.
	Policies map[Source]FailurePolicy
}

// DefaultTimeout bounds each database query and HTTP call. Timeouts are
// classified as connection errors.
const DefaultTimeout = 10 * time.Second

// New creates a resolver targeting the given business and rule database URLs.
// Either may be empty when no database requirements are expected.
func New(businessDBURL, ruleDBURL string) *Resolver {
	return &Resolver{
		BusinessDBURL: businessDBURL,
		RuleDBURL:     ruleDBURL,
		HTTPClient:    &http.Client{Timeout: DefaultTimeout},
		Timeout:       DefaultTimeout,
		Pools:         DefaultPools,
	}
}

// Resolve fetches the requirement's value against data. A nil error with a
// nil value means the requirement legitimately resolved to nothing (zero
// rows, swallowed API failure, missing context key).
func (rv *Resolver) Resolve(ctx context.Context, req Requirement, data map[string]any) (any, error) {
	value, err := rv.resolve(ctx, req, data)
	if err != nil && rv.failsOpen(req) {
		return nil, nil
	}
	return value, err
}

func (rv *Resolver) resolve(ctx context.Context, req Requirement, data map[string]any) (any, error) {
	switch req.Source {
	case SourceStatic:
		return req.Value, nil
	case SourceContext:
		value, _ := placeholder.Lookup(req.Field, data)
		return value, nil
	case SourceLocal:
		path := strings.TrimPrefix(req.Query, "input.")
		if path == "" {
			path = req.Field
		}
		value, _ := placeholder.Lookup(path, data)
		return CoerceScalar(value), nil
	case SourceDatabase:
		return rv.resolveDatabase(ctx, req, data)
	case SourceAPI:
		return rv.resolveAPI(ctx, req, data)
	default:
		return nil, enginerr.Newf(enginerr.TypeValidation, "unknown requirement source %q", req.Source)
	}
}

func (rv *Resolver) failsOpen(req Requirement) bool {
	switch req.OnError {
	case PolicyFailClosed:
		return false
	case PolicyFailOpen:
		return true
	}
	if p, ok := rv.Policies[req.Source]; ok && p != PolicyDefault {
		return p == PolicyFailOpen
	}
	return req.Source == SourceAPI
}

// CoerceScalar opportunistically converts string values: int first, then
// float, then case-insensitive true/false. Non-strings pass through.
func CoerceScalar(value any) any {
	s, ok := value.(string)
	if !ok {
		return value
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	switch strings.ToLower(s) {
	case "true":
		return true
	case "false":
		return false
	}
	return value
}
