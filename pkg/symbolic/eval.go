package symbolic

import (
	"fmt"
	"math"
)

// UnboundSymbolError is returned when evaluation meets a symbol with no value.
type UnboundSymbolError struct {
	Name string
}

func (e *UnboundSymbolError) Error() string {
	return fmt.Sprintf("symbolic: unbound symbol %q", e.Name)
}

// Eval evaluates e with the symbol values in env.
func Eval(e Expr, env map[string]float64) (float64, error) {
	switch v := e.(type) {
	case *Num:
		return v.val, nil
	case *Sym:
		x, ok := env[v.name]
		if !ok {
			return 0, &UnboundSymbolError{Name: v.name}
		}
		return x, nil
	case *Add:
		acc := 0.0
		for _, t := range v.terms {
			x, err := Eval(t, env)
			if err != nil {
				return 0, err
			}
			acc += x
		}
		return acc, nil
	case *Mul:
		acc := 1.0
		for _, f := range v.factors {
			x, err := Eval(f, env)
			if err != nil {
				return 0, err
			}
			acc *= x
		}
		return acc, nil
	case *Pow:
		b, err := Eval(v.base, env)
		if err != nil {
			return 0, err
		}
		x, err := Eval(v.exp, env)
		if err != nil {
			return 0, err
		}
		return math.Pow(b, x), nil
	case *Func:
		x, err := Eval(v.arg, env)
		if err != nil {
			return 0, err
		}
		fn, ok := Elementary(v.name)
		if !ok {
			return 0, fmt.Errorf("symbolic: unknown function %q", v.name)
		}
		return fn(x), nil
	}
	return 0, fmt.Errorf("symbolic: cannot evaluate %T", e)
}

// Elementary returns the float64 implementation of a supported function.
func Elementary(name string) (func(float64) float64, bool) {
	switch name {
	case FuncLn:
		return math.Log, true
	case FuncExp:
		return math.Exp, true
	case FuncAbs:
		return math.Abs, true
	}
	return nil, false
}
