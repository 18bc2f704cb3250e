package symbolic

import (
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"
)

// Parse reads an infix expression such as
//
//	-7976.15 + 137.093038*T - 24.3671976*T*ln(T)
//
// Identifiers become symbols. Supported calls are ln, log (natural), exp,
// abs, sqrt and pow(base, exp). Identifiers may contain '-', so binary minus
// must be separated from a preceding name by whitespace.
func Parse(src string) (Expr, error) {
	node, diags := hclsyntax.ParseExpression([]byte(src), "expression", hcl.Pos{Line: 1, Column: 1})
	if diags.HasErrors() {
		return nil, fmt.Errorf("parse %q: %s", src, diags.Error())
	}
	e, err := fromSyntax(node)
	if err != nil {
		return nil, fmt.Errorf("parse %q: %w", src, err)
	}
	return e, nil
}

// MustParse is like Parse but panics on error. Intended for tests and
// package-level tables.
func MustParse(src string) Expr {
	e, err := Parse(src)
	if err != nil {
		panic(err)
	}
	return e
}

func fromSyntax(node hclsyntax.Expression) (Expr, error) {
	switch e := node.(type) {
	case *hclsyntax.LiteralValueExpr:
		if e.Val.IsNull() || !e.Val.IsKnown() || e.Val.Type() != cty.Number {
			return nil, fmt.Errorf("unsupported literal of type %s", e.Val.Type().FriendlyName())
		}
		f, _ := e.Val.AsBigFloat().Float64()
		return N(f), nil

	case *hclsyntax.ScopeTraversalExpr:
		if len(e.Traversal) != 1 {
			return nil, fmt.Errorf("attribute access is not supported: %s", e.Traversal.RootName())
		}
		return S(e.Traversal.RootName()), nil

	case *hclsyntax.ParenthesesExpr:
		return fromSyntax(e.Expression)

	case *hclsyntax.UnaryOpExpr:
		if e.Op != hclsyntax.OpNegate {
			return nil, fmt.Errorf("unsupported unary operator")
		}
		v, err := fromSyntax(e.Val)
		if err != nil {
			return nil, err
		}
		return Neg(v), nil

	case *hclsyntax.BinaryOpExpr:
		lhs, err := fromSyntax(e.LHS)
		if err != nil {
			return nil, err
		}
		rhs, err := fromSyntax(e.RHS)
		if err != nil {
			return nil, err
		}
		switch e.Op {
		case hclsyntax.OpAdd:
			return AddOf(lhs, rhs), nil
		case hclsyntax.OpSubtract:
			return SubOf(lhs, rhs), nil
		case hclsyntax.OpMultiply:
			return MulOf(lhs, rhs), nil
		case hclsyntax.OpDivide:
			return DivOf(lhs, rhs), nil
		}
		return nil, fmt.Errorf("unsupported binary operator")

	case *hclsyntax.FunctionCallExpr:
		args := make([]Expr, len(e.Args))
		for i, a := range e.Args {
			v, err := fromSyntax(a)
			if err != nil {
				return nil, fmt.Errorf("%s: argument %d: %w", e.Name, i, err)
			}
			args[i] = v
		}
		return call(e.Name, args)
	}
	return nil, fmt.Errorf("unsupported expression %T", node)
}

func call(name string, args []Expr) (Expr, error) {
	want := 1
	if name == "pow" {
		want = 2
	}
	if len(args) != want {
		return nil, fmt.Errorf("%s expects %d argument(s), got %d", name, want, len(args))
	}
	switch name {
	case "ln", "log":
		return LnOf(args[0]), nil
	case "exp":
		return ExpOf(args[0]), nil
	case "abs":
		return AbsOf(args[0]), nil
	case "sqrt":
		return SqrtOf(args[0]), nil
	case "pow":
		return PowOf(args[0], args[1]), nil
	}
	return nil, fmt.Errorf("unknown function %q", name)
}
