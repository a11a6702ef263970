package rules

import (
	"time"

	"github.com/rulekit/rulekit/resolver"
)

// Rule is a single named check inside a rule set. Rules may declare their own
// requirements, resolved into a rule-scoped context before evaluation.
type Rule struct {
	ID         string                 `json:"id"`
	Name       string                 `json:"name,omitempty"`
	Type       string                 `json:"type,omitempty"`
	Expression *Expression            `json:"expression"`
	Message    string                 `json:"message,omitempty"`
	Requires   []resolver.Requirement `json:"requires,omitempty"`
}

// Condition gates whether a rule set applies to the given context. Two forms
// are accepted: a legacy bare comparison (field/operator/value) and the
// richer requires+expression pair.
type Condition struct {
	Field    string `json:"field,omitempty"`
	Operator string `json:"operator,omitempty"`
	Value    any    `json:"value,omitempty"`

	Requires   []resolver.Requirement `json:"requires,omitempty"`
	Expression *Expression            `json:"expression,omitempty"`

	Message string `json:"message,omitempty"`
}

// OnFailPolicy tells the caller what to do when the rule set does not pass.
// The engine only echoes it; enforcement belongs to the caller.
type OnFailPolicy struct {
	Action string   `json:"action,omitempty"`
	Notify []string `json:"notify,omitempty"`
}

// RuleSet is the unit of evaluation: gating conditions, shared data
// requirements, the rules themselves and a failure policy.
type RuleSet struct {
	ID          string                 `json:"id,omitempty"`
	Target      string                 `json:"target,omitempty"`
	Name        string                 `json:"name,omitempty"`
	Description string                 `json:"description,omitempty"`
	AppliesWhen []Condition            `json:"applies_when,omitempty"`
	Requires    []resolver.Requirement `json:"requires,omitempty"`
	Rules       []Rule                 `json:"rules"`
	OnFail      *OnFailPolicy          `json:"on_fail,omitempty"`
	CreatedAt   time.Time              `json:"created_at,omitzero"`
	UpdatedAt   time.Time              `json:"updated_at,omitzero"`
}

// Violation records why a single check failed, or that it passed. Message
// carries the human-readable text; Type and Details carry the structured
// error for programmatic handling.
type Violation struct {
	ID      string `json:"id"`
	Pass    bool   `json:"pass"`
	Message string `json:"message,omitempty"`
	Type    string `json:"type,omitempty"`
	Details string `json:"details,omitempty"`
}

// ExecutionResult is the outcome of one rule-set evaluation. Violations is
// the subsequence of Results with Pass=false. Produced fresh per evaluation,
// never persisted.
type ExecutionResult struct {
	Pass        bool          `json:"pass"`
	Violations  []Violation   `json:"violations"`
	Results     []Violation   `json:"results"`
	RuleSetID   string        `json:"rule_set_id,omitempty"`
	RuleSetName string        `json:"rule_set_name,omitempty"`
	OnFail      *OnFailPolicy `json:"on_fail,omitempty"`
	Applies     bool          `json:"applies"`
	Error       string        `json:"error,omitempty"`
}
