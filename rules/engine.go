package rules

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"

	"github.com/google/cel-go/cel"
	"golang.org/x/sync/errgroup"

	"github.com/rulekit/rulekit/enginerr"
	"github.com/rulekit/rulekit/internal/logger"
	"github.com/rulekit/rulekit/resolver"
)

// Engine executes rule sets: it resolves declared data requirements,
// evaluates applies_when gating, evaluates each rule's expression against a
// rule-scoped context copy, and aggregates violations. Safe for concurrent
// use; compiled custom-expression programs are cached under an RWMutex.
type Engine struct {
	env      *cel.Env
	resolver *resolver.Resolver
	programs map[string]cel.Program
	mu       sync.RWMutex
	workers  int
}

// DefaultWorkers bounds concurrent requirement resolutions within one
// priority tier.
const DefaultWorkers = 4

// NewEngine creates an engine using the given resolver for requirement
// resolution.
func NewEngine(rv *resolver.Resolver) (*Engine, error) {
	env, err := newCustomEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to create expression environment: %w", err)
	}
	return &Engine{
		env:      env,
		resolver: rv,
		programs: make(map[string]cel.Program),
		workers:  DefaultWorkers,
	}, nil
}

// ExecuteRuleSet evaluates ruleSet against input. The result is always
// well-formed; no failure mode escapes as a panic or error.
func (en *Engine) ExecuteRuleSet(ctx context.Context, ruleSet *RuleSet, input map[string]any) *ExecutionResult {
	if ruleSet == nil || ruleSet.Rules == nil {
		return &ExecutionResult{
			Pass:       false,
			Violations: []Violation{},
			Results:    []Violation{},
			Error:      "Invalid rule set",
		}
	}

	// Gating runs before any rule-set requirement resolution. A condition
	// that evaluates false, or whose own requirements fail to resolve,
	// fails the whole set closed: silently skipping enforcement is worse
	// than blocking.
	for _, cond := range ruleSet.AppliesWhen {
		ok, err := en.evaluateCondition(ctx, cond, input)
		if err != nil || !ok {
			message := cond.Message
			if message == "" {
				message = "Rule set does not apply"
			}
			if err != nil {
				logger.WarnGating("applies_when condition failed",
					"rule_set_id", ruleSet.ID, "error", err)
				message = enginerr.WrapMessage(message+": "+err.Error(), enginerr.TypeOf(err), nil)
			}
			v := Violation{ID: "applies_when", Pass: false, Message: message}
			return &ExecutionResult{
				Pass:        false,
				Violations:  []Violation{v},
				Results:     []Violation{v},
				RuleSetID:   ruleSet.ID,
				RuleSetName: ruleSet.Name,
				OnFail:      ruleSet.OnFail,
				Applies:     false,
			}
		}
	}

	results := make([]Violation, 0, len(ruleSet.Rules))

	// Rule-set level requirements resolve into a shared context visible to
	// every rule. Failures degrade the key to nil; database failures also
	// surface as an up-front synthetic violation.
	resolved := maps.Clone(input)
	if resolved == nil {
		resolved = map[string]any{}
	}
	results = append(results, en.resolveRequirements(ctx, ruleSet.Requires, resolved)...)

	for _, rule := range ruleSet.Rules {
		// Each rule gets its own derived copy so sibling rules never see
		// each other's rule-scoped values.
		ruleCtx := maps.Clone(resolved)
		results = append(results, en.resolveRequirements(ctx, rule.Requires, ruleCtx)...)

		passed, err := en.EvaluateExpression(rule.Expression, ruleCtx)
		if err != nil {
			errType := enginerr.TypeOf(err)
			logger.ErrorEvaluation("rule evaluation failed",
				"rule_id", rule.ID, "error_type", string(errType), "error", err)
			results = append(results, Violation{
				ID:      rule.ID,
				Pass:    false,
				Message: enginerr.WrapMessage(err.Error(), errType, map[string]any{"rule_id": rule.ID}),
				Type:    string(errType),
				Details: enginerr.Envelope(err).JSON(),
			})
			continue
		}

		v := Violation{ID: rule.ID, Pass: passed}
		if !passed {
			v.Message = rule.Message
			if v.Message == "" {
				v.Message = "Rule failed"
			}
		}
		results = append(results, v)
	}

	violations := make([]Violation, 0)
	for _, r := range results {
		if !r.Pass {
			violations = append(violations, r)
		}
	}

	return &ExecutionResult{
		Pass:        len(violations) == 0,
		Violations:  violations,
		Results:     results,
		RuleSetID:   ruleSet.ID,
		RuleSetName: ruleSet.Name,
		OnFail:      ruleSet.OnFail,
		Applies:     true,
	}
}

// evaluateCondition evaluates one applies_when condition. Requirement
// resolution failures escalate as errors here rather than degrading, since a
// gate that cannot be evaluated must not silently pass.
func (en *Engine) evaluateCondition(ctx context.Context, cond Condition, input map[string]any) (bool, error) {
	scoped := maps.Clone(input)
	if scoped == nil {
		scoped = map[string]any{}
	}

	if len(cond.Requires) > 0 || cond.Expression != nil {
		if err := en.resolveStrict(ctx, cond.Requires, scoped); err != nil {
			return false, err
		}
		return en.EvaluateExpression(cond.Expression, scoped)
	}

	// Legacy bare field/operator/value condition.
	if cond.Field == "" && cond.Operator == "" {
		return true, nil
	}
	return en.EvaluateExpression(Comparison(cond.Field, cond.Operator, cond.Value), scoped)
}

// resolveRequirements resolves each requirement into data, in priority-tier
// order, parallelizing within a tier. Failures never abort siblings: the key
// degrades to nil and database-related failures are returned as synthetic
// db_error_<name> violations.
func (en *Engine) resolveRequirements(ctx context.Context, reqs []resolver.Requirement, data map[string]any) []Violation {
	var violations []Violation
	en.resolveTiers(ctx, reqs, data, func(req resolver.Requirement, err error) {
		logger.WarnResolver("requirement resolution failed",
			"requirement", req.Name, "source", req.Source.String(), "error", err)

		switch enginerr.TypeOf(err) {
		case enginerr.TypeDatabase, enginerr.TypeDatabaseConnection,
			enginerr.TypeTableNotFound, enginerr.TypeSQLSyntax:
			violations = append(violations, Violation{
				ID:      "db_error_" + req.Name,
				Pass:    false,
				Message: enginerr.WrapMessage(err.Error(), enginerr.TypeOf(err), map[string]any{"requirement": req.Name}),
				Type:    string(enginerr.TypeOf(err)),
				Details: enginerr.Envelope(err).JSON(),
			})
		}
	})
	return violations
}

// resolveStrict resolves requirements but propagates the first failure
// instead of degrading. Used for applies_when gating.
func (en *Engine) resolveStrict(ctx context.Context, reqs []resolver.Requirement, data map[string]any) error {
	var firstErr error
	en.resolveTiers(ctx, reqs, data, func(req resolver.Requirement, err error) {
		if firstErr == nil {
			firstErr = fmt.Errorf("resolving requirement %q: %w", req.Name, err)
		}
	})
	return firstErr
}

// resolveTiers groups requirements by source priority and resolves tier by
// tier: tiers run sequentially so a later requirement whose query carries a
// placeholder sees earlier values, while members of one tier resolve
// concurrently under a bounded group. Every requirement completes (with its
// value or with nil plus a reported failure) before this returns.
func (en *Engine) resolveTiers(ctx context.Context, reqs []resolver.Requirement, data map[string]any, onError func(resolver.Requirement, error)) {
	if len(reqs) == 0 {
		return
	}

	sorted := make([]resolver.Requirement, len(reqs))
	copy(sorted, reqs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority() < sorted[j].Priority()
	})

	var mu sync.Mutex
	for start := 0; start < len(sorted); {
		end := start + 1
		for end < len(sorted) && sorted[end].Priority() == sorted[start].Priority() {
			end++
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(en.workers)
		for _, req := range sorted[start:end] {
			g.Go(func() error {
				mu.Lock()
				snapshot := maps.Clone(data)
				mu.Unlock()

				value, err := en.resolver.Resolve(gctx, req, snapshot)

				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					data[req.Name] = nil
					onError(req, err)
					return nil
				}
				data[req.Name] = value
				return nil
			})
		}
		// Goroutines report failures through onError, never as errors.
		_ = g.Wait()

		start = end
	}
}

// Resolver exposes the engine's resolver, mainly so callers can rebind
// database URLs per evaluation.
func (en *Engine) Resolver() *resolver.Resolver { return en.resolver }
