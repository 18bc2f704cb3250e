package codegen

import (
	"fmt"
	"math"

	"github.com/openfroyo/phasec/pkg/symbolic"
)

// scope resolves symbol names to argument slots.
type scope struct {
	dof    map[string]int
	params map[string]int
}

func newScope(sig signature) (*scope, error) {
	s := &scope{
		dof:    make(map[string]int, len(sig.vars)),
		params: make(map[string]int, len(sig.params)),
	}
	for i, name := range sig.vars {
		if _, dup := s.dof[name]; dup {
			return nil, fmt.Errorf("codegen: variable %s appears twice in ordering", name)
		}
		s.dof[name] = i
	}
	for i, name := range sig.params {
		if _, clash := s.dof[name]; clash {
			return nil, fmt.Errorf("codegen: parameter %s is also a variable", name)
		}
		s.params[name] = i
	}
	return s, nil
}

func (s *scope) compileAll(exprs []symbolic.Expr) ([]evalFunc, error) {
	out := make([]evalFunc, len(exprs))
	for i, e := range exprs {
		fn, err := s.compile(e)
		if err != nil {
			return nil, err
		}
		out[i] = fn
	}
	return out, nil
}

func (s *scope) compile(e symbolic.Expr) (evalFunc, error) {
	switch v := e.(type) {
	case *symbolic.Num:
		c := v.Float64()
		return func(_, _ []float64) float64 { return c }, nil

	case *symbolic.Sym:
		if i, ok := s.dof[v.Name()]; ok {
			return func(x, _ []float64) float64 { return x[i] }, nil
		}
		if i, ok := s.params[v.Name()]; ok {
			return func(_, p []float64) float64 { return p[i] }, nil
		}
		return nil, fmt.Errorf("codegen: symbol %s is neither a variable nor a parameter", v.Name())

	case *symbolic.Add:
		terms, err := s.compileAll(v.Terms())
		if err != nil {
			return nil, err
		}
		return func(x, p []float64) float64 {
			acc := 0.0
			for _, t := range terms {
				acc += t(x, p)
			}
			return acc
		}, nil

	case *symbolic.Mul:
		factors, err := s.compileAll(v.Factors())
		if err != nil {
			return nil, err
		}
		return func(x, p []float64) float64 {
			acc := 1.0
			for _, f := range factors {
				acc *= f(x, p)
			}
			return acc
		}, nil

	case *symbolic.Pow:
		base, err := s.compile(v.Base())
		if err != nil {
			return nil, err
		}
		if n, ok := v.Exponent().(*symbolic.Num); ok {
			k := n.Float64()
			switch k {
			case -1:
				return func(x, p []float64) float64 { return 1 / base(x, p) }, nil
			case 2:
				return func(x, p []float64) float64 { b := base(x, p); return b * b }, nil
			}
			return func(x, p []float64) float64 { return math.Pow(base(x, p), k) }, nil
		}
		exp, err := s.compile(v.Exponent())
		if err != nil {
			return nil, err
		}
		return func(x, p []float64) float64 { return math.Pow(base(x, p), exp(x, p)) }, nil

	case *symbolic.Func:
		fn, ok := symbolic.Elementary(v.Name())
		if !ok {
			return nil, fmt.Errorf("codegen: unsupported function %s", v.Name())
		}
		arg, err := s.compile(v.Arg())
		if err != nil {
			return nil, err
		}
		return func(x, p []float64) float64 { return fn(arg(x, p)) }, nil
	}
	return nil, fmt.Errorf("codegen: unsupported node %T", e)
}
