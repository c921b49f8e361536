package adapter

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"

	"bidhub/internal/service/negotiation/domain/port"
)

// CELPolicyAdapter 用 CEL 表达式实现出价准入规则，例如：
//
//	quantity <= 500 && total <= 250000.0
//	actor == "vendor" || amount >= 1.0
//
// 可用变量：amount(单价), quantity, total, actor, productId
type CELPolicyAdapter struct {
	expr    string
	program cel.Program
}

func NewCELPolicyAdapter(expr string) (*CELPolicyAdapter, error) {
	env, err := cel.NewEnv(
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("quantity", cel.IntType),
		cel.Variable("total", cel.DoubleType),
		cel.Variable("actor", cel.StringType),
		cel.Variable("productId", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("cel env: %w", err)
	}
	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("compile admission rule %q: %w", expr, iss.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("admission rule %q must evaluate to bool, got %s", expr, ast.OutputType())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("build admission program: %w", err)
	}
	return &CELPolicyAdapter{expr: expr, program: prg}, nil
}

func (a *CELPolicyAdapter) Admit(ctx context.Context, fact port.AdmissionFact) (bool, error) {
	out, _, err := a.program.ContextEval(ctx, map[string]interface{}{
		"amount":    fact.Amount,
		"quantity":  int64(fact.Quantity),
		"total":     fact.Amount * float64(fact.Quantity),
		"actor":     fact.Actor,
		"productId": fact.ProductID,
	})
	if err != nil {
		return false, fmt.Errorf("evaluate admission rule: %w", err)
	}
	allowed, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("admission rule returned %T", out.Value())
	}
	return allowed, nil
}
