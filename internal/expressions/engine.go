package expressions

import "context"

// Engine evaluates expressions against workflow data.
// Three implementations: CEL (guard conditions), Expr (alternate guard
// syntax), GoJQ (output projections).
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}
