package verify

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"
)

// celEnv builds the environment invariant expressions evaluate in.
// Expressions see the pass snapshot as top-level variables.
func celEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("state", cel.StringType),
		cel.Variable("pendingApprovals", cel.IntType),
		cel.Variable("eventCount", cel.IntType),
		cel.Variable("success", cel.BoolType),
	)
}

// CELInvariant compiles a boolean CEL expression into an invariant.
// Compilation happens here, at registration time, so a malformed
// expression fails fast instead of on the hot path.
func CELInvariant(id, severity, expr string) (Invariant, error) {
	env, err := celEnv()
	if err != nil {
		return Invariant{}, fmt.Errorf("cel environment: %w", err)
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return Invariant{}, fmt.Errorf("compile %q: %w", expr, issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return Invariant{}, fmt.Errorf("expression %q must evaluate to bool, got %s", expr, ast.OutputType())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return Invariant{}, fmt.Errorf("program %q: %w", expr, err)
	}

	return Invariant{
		ID:       id,
		Severity: severity,
		Check: func(_ context.Context, ic *InvariantContext) (bool, error) {
			out, _, err := prg.Eval(map[string]any{
				"state":            ic.State,
				"pendingApprovals": ic.PendingApprovals,
				"eventCount":       ic.EventCount,
				"success":          ic.Success,
			})
			if err != nil {
				return false, fmt.Errorf("evaluate %q: %w", expr, err)
			}
			ok, isBool := out.Value().(bool)
			if !isBool {
				return false, fmt.Errorf("expression %q returned non-bool %v", expr, out.Value())
			}
			return ok, nil
		},
	}, nil
}

// MustCELInvariant is CELInvariant for expressions known at compile time.
func MustCELInvariant(id, severity, expr string) Invariant {
	inv, err := CELInvariant(id, severity, expr)
	if err != nil {
		panic(err)
	}
	return inv
}
