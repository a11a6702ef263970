package main

import "github.com/rulekit/rulekit/rules"

// EvaluateRequest asks for one rule-set evaluation. Exactly one of RuleSetID
// and RuleSet must be set; database URLs override the server defaults for
// this evaluation only.
type EvaluateRequest struct {
	RuleSetID     string         `json:"rule_set_id,omitempty"`
	RuleSet       *rules.RuleSet `json:"rule_set,omitempty"`
	Context       map[string]any `json:"context"`
	BusinessDBURL string         `json:"business_db_url,omitempty"`
	RuleDBURL     string         `json:"rule_db_url,omitempty"`
}

// EvaluateResponse wraps the execution result with timing.
type EvaluateResponse struct {
	Result         *rules.ExecutionResult `json:"result"`
	EvaluationTime string                 `json:"evaluation_time"`
}

// RuleSetListResponse carries rule-set listings.
type RuleSetListResponse struct {
	RuleSets []*rules.RuleSet `json:"rule_sets"`
}
