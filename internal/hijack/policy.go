package hijack

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
)

const policyPackagePath = "authguard.hijack"

// Default Rego policy: a network mismatch or token reuse raises suspicion; the
// lineage is revoked only when reuse is involved or the deployment opts into
// revoke mode. A client-only mismatch is observed but not acted on.
const defaultRegoPolicy = `package authguard.hijack

default suspect = false
default revoke = false

suspect if {
	input.network_mismatch
}

suspect if {
	input.reuse_detected
}

revoke if {
	input.reuse_detected
}

revoke if {
	input.network_mismatch
	input.response_mode == "revoke"
}
`

// Decision is the policy outcome for one refresh attempt.
type Decision struct {
	// Suspect records the attempt as suspicious (hijack_suspected event).
	Suspect bool
	// Revoke terminates the session lineage.
	Revoke bool
}

// PolicyInput is the fact set the policy decides on.
type PolicyInput struct {
	NetworkMismatch bool
	ClientMismatch  bool
	ReuseDetected   bool
	// ResponseMode is the deployment-level setting: "log" or "revoke".
	ResponseMode string
}

// OPAEvaluator decides the response to fingerprint anomalies using OPA Rego.
// The compiled-in default policy applies unless an override is supplied.
type OPAEvaluator struct {
	policy string
	logger *slog.Logger
}

// NewOPAEvaluator returns an evaluator. policyOverride replaces the default
// Rego module when non-empty; it must define suspect and revoke under
// package authguard.hijack.
func NewOPAEvaluator(policyOverride string, logger *slog.Logger) *OPAEvaluator {
	policy := defaultRegoPolicy
	if policyOverride != "" {
		policy = policyOverride
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OPAEvaluator{policy: policy, logger: logger}
}

// HealthCheck verifies that the configured policy compiles and evaluates.
// Returns nil on success.
func (e *OPAEvaluator) HealthCheck(ctx context.Context) error {
	_, err := e.eval(ctx, PolicyInput{})
	if err != nil {
		return fmt.Errorf("hijack policy health check: %w", err)
	}
	return nil
}

// Evaluate runs the policy over the input. On evaluation failure the safest
// conservative decision is returned: suspect when anything mismatched, revoke
// only on reuse.
func (e *OPAEvaluator) Evaluate(ctx context.Context, in PolicyInput) Decision {
	d, err := e.eval(ctx, in)
	if err != nil {
		e.logger.Error("hijack policy evaluation failed, using fallback", "error", err)
		return Decision{
			Suspect: in.NetworkMismatch || in.ReuseDetected,
			Revoke:  in.ReuseDetected,
		}
	}
	return d
}

func (e *OPAEvaluator) eval(ctx context.Context, in PolicyInput) (Decision, error) {
	compiler, err := ast.CompileModules(map[string]string{"hijack.rego": e.policy})
	if err != nil {
		return Decision{}, fmt.Errorf("compile policy: %w", err)
	}
	input := map[string]interface{}{
		"network_mismatch": in.NetworkMismatch,
		"client_mismatch":  in.ClientMismatch,
		"reuse_detected":   in.ReuseDetected,
		"response_mode":    in.ResponseMode,
	}

	var out Decision
	suspect, err := evalBool(ctx, compiler, input, "data."+policyPackagePath+".suspect")
	if err != nil {
		return Decision{}, err
	}
	out.Suspect = suspect
	revoke, err := evalBool(ctx, compiler, input, "data."+policyPackagePath+".revoke")
	if err != nil {
		return Decision{}, err
	}
	out.Revoke = revoke
	return out, nil
}

func evalBool(ctx context.Context, compiler *ast.Compiler, input map[string]interface{}, query string) (bool, error) {
	rs, err := rego.New(
		rego.Query(query),
		rego.Compiler(compiler),
		rego.Input(input),
	).Eval(ctx)
	if err != nil {
		return false, fmt.Errorf("eval %s: %w", query, err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return false, fmt.Errorf("query %s returned no result", query)
	}
	v, ok := rs[0].Expressions[0].Value.(bool)
	if !ok {
		return false, fmt.Errorf("query %s returned non-boolean %T", query, rs[0].Expressions[0].Value)
	}
	return v, nil
}
