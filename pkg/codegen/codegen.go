// Package codegen turns symbolic expressions into numeric callables.
//
// A callable is positional: its first argument vector follows the variable
// ordering it was compiled with, and its second holds parameter values in the
// order of the parameter symbols it was compiled with. Compiled values are
// immutable and safe for concurrent use, so one callable may be shared by
// any number of phase records.
package codegen

import (
	"fmt"
	"strings"

	"github.com/openfroyo/phasec/pkg/symbolic"
	"github.com/openfroyo/phasec/pkg/variables"
)

// Options selects which callables Build produces.
type Options struct {
	// IncludeObjective requests the scalar objective.
	IncludeObjective bool

	// IncludeGradient requests the gradient with respect to the ordering.
	IncludeGradient bool
}

// Compiler builds callables for an expression over a fixed ordering.
type Compiler interface {
	Build(expr symbolic.Expr, vars []variables.Variable, params []string, opts Options) (*Function, *Gradient, error)
}

// evalFunc evaluates a compiled node.
type evalFunc func(dof, params []float64) float64

// signature records what a callable was compiled against.
type signature struct {
	vars   []string
	params []string
}

func newSignature(vars []variables.Variable, params []string) signature {
	p := make([]string, len(params))
	copy(p, params)
	return signature{vars: variables.Strings(vars), params: p}
}

func (s signature) check(dof, params []float64) {
	if len(dof) != len(s.vars) {
		panic(fmt.Sprintf("codegen: got %d degrees of freedom, want %d (%s)",
			len(dof), len(s.vars), strings.Join(s.vars, ", ")))
	}
	if len(params) != len(s.params) {
		panic(fmt.Sprintf("codegen: got %d parameters, want %d", len(params), len(s.params)))
	}
}

// Function is a compiled scalar objective.
type Function struct {
	sig  signature
	expr string
	eval evalFunc
}

// Eval evaluates the objective. It panics when the argument lengths do not
// match the compiled ordering.
func (f *Function) Eval(dof, params []float64) float64 {
	f.sig.check(dof, params)
	return f.eval(dof, params)
}

// Variables returns the ordering the function was compiled with.
func (f *Function) Variables() []string { return append([]string(nil), f.sig.vars...) }

// Parameters returns the parameter symbols the function was compiled with.
func (f *Function) Parameters() []string { return append([]string(nil), f.sig.params...) }

func (f *Function) String() string { return f.expr }

// Gradient is a compiled gradient of a scalar objective.
type Gradient struct {
	sig   signature
	parts []evalFunc
}

// Eval writes the gradient into out, which must have one slot per variable.
func (g *Gradient) Eval(dof, params, out []float64) {
	g.sig.check(dof, params)
	if len(out) != len(g.parts) {
		panic(fmt.Sprintf("codegen: gradient output has %d slots, want %d", len(out), len(g.parts)))
	}
	for i, part := range g.parts {
		out[i] = part(dof, params)
	}
}

// Len returns the number of gradient components.
func (g *Gradient) Len() int { return len(g.parts) }

// DefaultCompiler compiles expressions into closure trees.
type DefaultCompiler struct{}

// NewCompiler returns the default compiler.
func NewCompiler() *DefaultCompiler { return &DefaultCompiler{} }

// Build compiles expr. Every free symbol of expr must appear either in vars
// or in params.
func (c *DefaultCompiler) Build(expr symbolic.Expr, vars []variables.Variable, params []string, opts Options) (*Function, *Gradient, error) {
	sig := newSignature(vars, params)
	scope, err := newScope(sig)
	if err != nil {
		return nil, nil, err
	}

	var fn *Function
	if opts.IncludeObjective {
		eval, err := scope.compile(expr)
		if err != nil {
			return nil, nil, err
		}
		fn = &Function{sig: sig, expr: expr.String(), eval: eval}
	}

	var grad *Gradient
	if opts.IncludeGradient {
		parts, err := scope.compileAll(symbolic.Gradient(expr, sig.vars))
		if err != nil {
			return nil, nil, err
		}
		grad = &Gradient{sig: sig, parts: parts}
	}

	return fn, grad, nil
}
