package policy

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
	"github.com/rs/zerolog"

	"github.com/openfroyo/scenarioflow/pkg/engine"
)

// Options configure a policy engine.
type Options struct {
	// Environment is exposed to policies as input.context.environment.
	Environment string

	// MaxNodes is exposed as input.context.max_nodes. Defaults to DefaultMaxNodes.
	MaxNodes int

	// Paths are .rego/.json files or directories loaded on creation and reload.
	Paths []string
}

// Engine compiles Rego policies and evaluates them against scenario graphs.
// It satisfies runner.PolicyChecker.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]*compiledPolicy
	loader   *Loader
	logger   zerolog.Logger
	opts     Options
	now      func() time.Time
}

// compiledPolicy is a policy with its deny query prepared.
type compiledPolicy struct {
	policy   *Policy
	query    rego.PreparedEvalQuery
	compiled time.Time
}

// NewEngine creates a policy engine with the built-in policies and any policies
// found under opts.Paths.
func NewEngine(ctx context.Context, logger zerolog.Logger, opts Options) (*Engine, error) {
	if opts.MaxNodes <= 0 {
		opts.MaxNodes = DefaultMaxNodes
	}

	e := &Engine{
		policies: make(map[string]*compiledPolicy),
		logger:   logger.With().Str("component", "policy-engine").Logger(),
		opts:     opts,
		now:      time.Now,
	}
	e.loader = NewLoader(e.logger)

	if err := e.loadBuiltinPolicies(ctx); err != nil {
		return nil, fmt.Errorf("failed to load built-in policies: %w", err)
	}
	if len(opts.Paths) > 0 {
		if err := e.LoadPolicies(ctx, opts.Paths); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// CheckScenario evaluates the policies for an execution and converts a denial
// into a non-retryable POLICY_VIOLATION error. Non-blocking findings are logged.
func (e *Engine) CheckScenario(ctx context.Context, scenario *engine.Scenario, graph *engine.Graph) error {
	result, err := e.EvaluateScenario(ctx, scenario, graph, "execute")
	if err != nil {
		return engine.NewError(engine.ErrCodeInternal, "policy evaluation failed", err)
	}

	for _, w := range result.Warnings {
		e.logger.Warn().
			Str("scenario_id", scenario.ID).
			Str("policy", w.Policy).
			Str("node_id", w.NodeID).
			Msg(w.Message)
	}
	if result.Allowed {
		return nil
	}

	msgs := make([]string, 0, len(result.Violations))
	for _, v := range result.Violations {
		msgs = append(msgs, v.Message)
	}
	return engine.Errorf(engine.ErrCodePolicyViolation, "scenario denied by policy: %s", strings.Join(msgs, "; ")).
		WithDetail("violations", result.Violations).
		WithRetryable(false)
}

// EvaluateScenario evaluates every enabled policy against a scenario graph.
func (e *Engine) EvaluateScenario(ctx context.Context, scenario *engine.Scenario, graph *engine.Graph, operation string) (*Result, error) {
	input := NewInput(scenario, graph, Context{
		Operation:   operation,
		Environment: e.opts.Environment,
		MaxNodes:    e.opts.MaxNodes,
		Timestamp:   e.now().UTC(),
	})
	return e.Evaluate(ctx, input)
}

// Evaluate evaluates every enabled policy against input. A policy that fails
// to evaluate is reported in Result.Errors and does not deny.
func (e *Engine) Evaluate(ctx context.Context, input *Input) (*Result, error) {
	if input == nil {
		return nil, fmt.Errorf("policy input is required")
	}
	start := e.now()

	e.mu.RLock()
	defer e.mu.RUnlock()

	result := &Result{Allowed: true, EvaluatedAt: start.UTC()}
	for _, name := range e.sortedNames() {
		cp := e.policies[name]
		if !cp.policy.Enabled {
			continue
		}
		result.EvaluatedPolicies = append(result.EvaluatedPolicies, name)

		violations, err := e.evaluatePolicy(ctx, cp, input)
		if err != nil {
			e.logger.Error().Err(err).Str("policy", name).Msg("Policy evaluation failed")
			result.Errors = append(result.Errors, fmt.Sprintf("policy %s evaluation failed: %v", name, err))
			continue
		}

		for _, v := range violations {
			if v.Severity.Blocking() {
				result.Allowed = false
				result.Violations = append(result.Violations, v)
			} else {
				result.Warnings = append(result.Warnings, v)
			}
		}
	}

	// Critical findings first, then policy order.
	sort.SliceStable(result.Violations, func(i, j int) bool {
		return result.Violations[i].Severity == SeverityCritical && result.Violations[j].Severity != SeverityCritical
	})

	result.Duration = e.now().Sub(start)
	e.logger.Debug().
		Str("scenario_id", input.Scenario.ID).
		Str("operation", input.Context.Operation).
		Bool("allowed", result.Allowed).
		Int("violations", len(result.Violations)).
		Int("warnings", len(result.Warnings)).
		Dur("duration", result.Duration).
		Msg("Policy evaluation completed")

	return result, nil
}

// evaluatePolicy evaluates a single compiled policy.
func (e *Engine) evaluatePolicy(ctx context.Context, cp *compiledPolicy, input *Input) ([]Violation, error) {
	results, err := cp.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("policy evaluation error: %w", err)
	}

	var violations []Violation
	for _, result := range results {
		if len(result.Expressions) == 0 {
			continue
		}
		denySet, ok := result.Expressions[0].Value.([]interface{})
		if !ok {
			continue
		}
		for _, d := range denySet {
			violations = append(violations, createViolation(cp.policy, d))
		}
	}
	return violations, nil
}

// createViolation creates a Violation from a deny set member.
func createViolation(policy *Policy, result interface{}) Violation {
	violation := Violation{
		Policy:   policy.Name,
		Severity: policy.Severity,
	}

	switch v := result.(type) {
	case string:
		violation.Message = v
	case map[string]interface{}:
		if msg, ok := v["message"].(string); ok {
			violation.Message = msg
		}
		if sev, ok := v["severity"].(string); ok && sev != "" {
			violation.Severity = Severity(sev)
		}
		if node, ok := v["node"].(string); ok {
			violation.NodeID = node
		}
	default:
		violation.Message = fmt.Sprintf("%v", result)
	}

	return violation
}

// compile parses a policy and prepares its deny query.
func compile(ctx context.Context, policy *Policy) (*compiledPolicy, error) {
	module, err := ast.ParseModule(policy.Name, policy.Rego)
	if err != nil {
		return nil, fmt.Errorf("failed to parse policy: %w", err)
	}

	query, err := rego.New(
		rego.Module(policy.Name, policy.Rego),
		rego.Query(module.Package.Path.String()+".deny"),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare query: %w", err)
	}

	return &compiledPolicy{policy: policy, query: query, compiled: time.Now()}, nil
}

// AddPolicy compiles and registers a policy, replacing one of the same name.
func (e *Engine) AddPolicy(ctx context.Context, policy Policy) error {
	if policy.Name == "" {
		return fmt.Errorf("policy name is required")
	}
	if policy.Severity == "" {
		policy.Severity = SeverityWarning
	}
	cp, err := compile(ctx, &policy)
	if err != nil {
		return fmt.Errorf("failed to compile policy %s: %w", policy.Name, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.policies[policy.Name] = cp
	return nil
}

// LoadPolicies loads and compiles policy files. All policies are compiled
// before any is registered, so a bad file leaves the engine unchanged.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	policies, err := e.loader.LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}

	compiled, err := compileAll(ctx, policies)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, cp := range compiled {
		e.policies[cp.policy.Name] = cp
	}

	e.logger.Info().Int("count", len(compiled)).Msg("Policies loaded successfully")
	return nil
}

func compileAll(ctx context.Context, policies []Policy) ([]*compiledPolicy, error) {
	compiled := make([]*compiledPolicy, 0, len(policies))
	for i := range policies {
		cp, err := compile(ctx, &policies[i])
		if err != nil {
			return nil, fmt.Errorf("failed to compile policy %s: %w", policies[i].Name, err)
		}
		compiled = append(compiled, cp)
	}
	return compiled, nil
}

// loadBuiltinPolicies loads the built-in policies.
func (e *Engine) loadBuiltinPolicies(ctx context.Context) error {
	compiled, err := compileAll(ctx, GetBuiltinPolicies())
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, cp := range compiled {
		e.policies[cp.policy.Name] = cp
	}

	e.logger.Debug().Int("count", len(compiled)).Msg("Built-in policies loaded")
	return nil
}

// ReloadPolicies drops every loaded policy, restores the built-ins and reloads
// the configured paths.
func (e *Engine) ReloadPolicies(ctx context.Context) error {
	e.loader.ClearCache()

	var loaded []Policy
	if len(e.opts.Paths) > 0 {
		var err error
		if loaded, err = e.loader.LoadFromPaths(ctx, e.opts.Paths); err != nil {
			return fmt.Errorf("failed to reload policies: %w", err)
		}
	}
	return e.replace(ctx, loaded)
}

// replace swaps the loaded policies for policies, keeping the built-ins.
func (e *Engine) replace(ctx context.Context, policies []Policy) error {
	compiled, err := compileAll(ctx, append(GetBuiltinPolicies(), policies...))
	if err != nil {
		return err
	}

	next := make(map[string]*compiledPolicy, len(compiled))
	for _, cp := range compiled {
		next[cp.policy.Name] = cp
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	// Keep enable/disable decisions across reloads.
	for name, cp := range next {
		if prev, ok := e.policies[name]; ok {
			cp.policy.Enabled = prev.policy.Enabled
		}
	}
	e.policies = next
	return nil
}

// Watch reloads the configured policy paths whenever a policy file changes,
// until ctx is done.
func (e *Engine) Watch(ctx context.Context) error {
	if len(e.opts.Paths) == 0 {
		return fmt.Errorf("no policy paths configured")
	}
	return e.loader.Watch(ctx, e.opts.Paths, func(policies []Policy) error {
		return e.replace(ctx, policies)
	})
}

// GetPolicy returns a policy by name.
func (e *Engine) GetPolicy(name string) (*Policy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cp, exists := e.policies[name]
	if !exists {
		return nil, fmt.Errorf("policy not found: %s", name)
	}
	p := *cp.policy
	return &p, nil
}

// ListPolicies returns all loaded policies sorted by name.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	policies := make([]Policy, 0, len(e.policies))
	for _, name := range e.sortedNames() {
		policies = append(policies, *e.policies[name].policy)
	}
	return policies
}

func (e *Engine) sortedNames() []string {
	names := make([]string, 0, len(e.policies))
	for name := range e.policies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// EnablePolicy enables a policy by name.
func (e *Engine) EnablePolicy(name string) error {
	return e.setEnabled(name, true)
}

// DisablePolicy disables a policy by name.
func (e *Engine) DisablePolicy(name string) error {
	return e.setEnabled(name, false)
}

func (e *Engine) setEnabled(name string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, exists := e.policies[name]
	if !exists {
		return fmt.Errorf("policy not found: %s", name)
	}
	cp.policy.Enabled = enabled
	e.logger.Info().Str("policy", name).Bool("enabled", enabled).Msg("Policy toggled")
	return nil
}
