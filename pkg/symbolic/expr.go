// Package symbolic is a small, deterministic expression kernel used to
// describe phase energies. It supports the operations the callable compiler
// needs: substitution, differentiation, free-symbol discovery and numeric
// evaluation. Constructors fold constants eagerly so structurally equal
// inputs produce identical trees.
package symbolic

import (
	"math"
	"sort"
	"strconv"
	"strings"
)

// Expr is an immutable expression node.
type Expr interface {
	String() string
	Sub(name string, value Expr) Expr
	Diff(name string) Expr
	Equal(other Expr) bool
}

// ============================================================
// Num
// ============================================================

type Num struct{ val float64 }

func N(v float64) *Num          { return &Num{val: v} }
func (n *Num) Float64() float64 { return n.val }
func (n *Num) IsZero() bool     { return n.val == 0 }
func (n *Num) IsOne() bool      { return n.val == 1 }

func (n *Num) String() string        { return strconv.FormatFloat(n.val, 'g', -1, 64) }
func (n *Num) Sub(string, Expr) Expr { return n }
func (n *Num) Diff(string) Expr      { return N(0) }
func (n *Num) Equal(other Expr) bool {
	o, ok := other.(*Num)
	return ok && (n.val == o.val || (math.IsNaN(n.val) && math.IsNaN(o.val)))
}

// ============================================================
// Sym
// ============================================================

type Sym struct{ name string }

func S(name string) *Sym        { return &Sym{name: name} }
func (s *Sym) Name() string     { return s.name }
func (s *Sym) String() string   { return s.name }
func (s *Sym) Equal(o Expr) bool { x, ok := o.(*Sym); return ok && x.name == s.name }

func (s *Sym) Sub(name string, value Expr) Expr {
	if s.name == name {
		return value
	}
	return s
}

func (s *Sym) Diff(name string) Expr {
	if s.name == name {
		return N(1)
	}
	return N(0)
}

// ============================================================
// Add
// ============================================================

type Add struct{ terms []Expr }

// AddOf returns the simplified sum of terms.
func AddOf(terms ...Expr) Expr {
	flat := make([]Expr, 0, len(terms))
	acc := 0.0
	for _, t := range terms {
		switch v := t.(type) {
		case *Add:
			for _, inner := range v.terms {
				if n, ok := inner.(*Num); ok {
					acc += n.val
					continue
				}
				flat = append(flat, inner)
			}
		case *Num:
			acc += v.val
		default:
			flat = append(flat, t)
		}
	}
	if acc != 0 {
		flat = append(flat, N(acc))
	}
	switch len(flat) {
	case 0:
		return N(0)
	case 1:
		return flat[0]
	}
	return &Add{terms: flat}
}

func (a *Add) Terms() []Expr { return a.terms }

func (a *Add) String() string {
	parts := make([]string, len(a.terms))
	for i, t := range a.terms {
		parts[i] = t.String()
	}
	return strings.Join(parts, " + ")
}

func (a *Add) Sub(name string, value Expr) Expr {
	out := make([]Expr, len(a.terms))
	for i, t := range a.terms {
		out[i] = t.Sub(name, value)
	}
	return AddOf(out...)
}

func (a *Add) Diff(name string) Expr {
	out := make([]Expr, len(a.terms))
	for i, t := range a.terms {
		out[i] = t.Diff(name)
	}
	return AddOf(out...)
}

func (a *Add) Equal(other Expr) bool {
	o, ok := other.(*Add)
	return ok && equalAll(a.terms, o.terms)
}

// ============================================================
// Mul
// ============================================================

type Mul struct{ factors []Expr }

// MulOf returns the simplified product of factors. A zero constant factor
// collapses the product.
func MulOf(factors ...Expr) Expr {
	flat := make([]Expr, 0, len(factors))
	coeff := 1.0
	for _, f := range factors {
		switch v := f.(type) {
		case *Mul:
			for _, inner := range v.factors {
				if n, ok := inner.(*Num); ok {
					coeff *= n.val
					continue
				}
				flat = append(flat, inner)
			}
		case *Num:
			coeff *= v.val
		default:
			flat = append(flat, f)
		}
	}
	if coeff == 0 {
		return N(0)
	}
	if len(flat) == 0 {
		return N(coeff)
	}
	if coeff != 1 {
		flat = append([]Expr{N(coeff)}, flat...)
	}
	if len(flat) == 1 {
		return flat[0]
	}
	return &Mul{factors: flat}
}

func (m *Mul) Factors() []Expr { return m.factors }

func (m *Mul) String() string {
	parts := make([]string, len(m.factors))
	for i, f := range m.factors {
		if _, isAdd := f.(*Add); isAdd {
			parts[i] = "(" + f.String() + ")"
		} else {
			parts[i] = f.String()
		}
	}
	return strings.Join(parts, "*")
}

func (m *Mul) Sub(name string, value Expr) Expr {
	out := make([]Expr, len(m.factors))
	for i, f := range m.factors {
		out[i] = f.Sub(name, value)
	}
	return MulOf(out...)
}

// Diff applies the product rule.
func (m *Mul) Diff(name string) Expr {
	terms := make([]Expr, 0, len(m.factors))
	for i, fi := range m.factors {
		d := fi.Diff(name)
		if n, ok := d.(*Num); ok && n.IsZero() {
			continue
		}
		rest := make([]Expr, 0, len(m.factors))
		rest = append(rest, d)
		for j, fj := range m.factors {
			if j != i {
				rest = append(rest, fj)
			}
		}
		terms = append(terms, MulOf(rest...))
	}
	return AddOf(terms...)
}

func (m *Mul) Equal(other Expr) bool {
	o, ok := other.(*Mul)
	return ok && equalAll(m.factors, o.factors)
}

// ============================================================
// Pow
// ============================================================

type Pow struct{ base, exp Expr }

// PowOf returns base^exp, folding constant and trivial exponents.
func PowOf(base, exp Expr) Expr {
	if en, ok := exp.(*Num); ok {
		switch {
		case en.IsZero():
			return N(1)
		case en.IsOne():
			return base
		}
		if bn, ok := base.(*Num); ok {
			v := math.Pow(bn.val, en.val)
			if !math.IsNaN(v) && !math.IsInf(v, 0) {
				return N(v)
			}
		}
	}
	if inner, ok := base.(*Pow); ok {
		if _, ok := inner.exp.(*Num); ok {
			if _, ok := exp.(*Num); ok {
				return PowOf(inner.base, MulOf(inner.exp, exp))
			}
		}
	}
	return &Pow{base: base, exp: exp}
}

func (p *Pow) Base() Expr     { return p.base }
func (p *Pow) Exponent() Expr { return p.exp }

func (p *Pow) String() string {
	b := p.base.String()
	switch p.base.(type) {
	case *Add, *Mul, *Pow:
		b = "(" + b + ")"
	}
	e := p.exp.String()
	switch p.exp.(type) {
	case *Add, *Mul, *Pow:
		e = "(" + e + ")"
	}
	return b + "^" + e
}

func (p *Pow) Sub(name string, value Expr) Expr {
	return PowOf(p.base.Sub(name, value), p.exp.Sub(name, value))
}

func (p *Pow) Diff(name string) Expr {
	du := p.base.Diff(name)
	dv := p.exp.Diff(name)
	if _, ok := p.exp.(*Num); ok {
		return MulOf(p.exp, PowOf(p.base, AddOf(p.exp, N(-1))), du)
	}
	// d(u^v) = u^v * (v' ln u + v u'/u)
	return MulOf(p, AddOf(
		MulOf(dv, LnOf(p.base)),
		MulOf(p.exp, du, PowOf(p.base, N(-1))),
	))
}

func (p *Pow) Equal(other Expr) bool {
	o, ok := other.(*Pow)
	return ok && p.base.Equal(o.base) && p.exp.Equal(o.exp)
}

// ============================================================
// Func
// ============================================================

// Func is a named elementary function of one argument.
type Func struct {
	name string
	arg  Expr
}

// Supported function names.
const (
	FuncLn  = "ln"
	FuncExp = "exp"
	FuncAbs = "abs"
)

func LnOf(arg Expr) Expr {
	if n, ok := arg.(*Num); ok && n.val > 0 {
		return N(math.Log(n.val))
	}
	if f, ok := arg.(*Func); ok && f.name == FuncExp {
		return f.arg
	}
	return &Func{name: FuncLn, arg: arg}
}

func ExpOf(arg Expr) Expr {
	if n, ok := arg.(*Num); ok {
		return N(math.Exp(n.val))
	}
	if f, ok := arg.(*Func); ok && f.name == FuncLn {
		return f.arg
	}
	return &Func{name: FuncExp, arg: arg}
}

func AbsOf(arg Expr) Expr {
	if n, ok := arg.(*Num); ok {
		return N(math.Abs(n.val))
	}
	return &Func{name: FuncAbs, arg: arg}
}

func SqrtOf(arg Expr) Expr { return PowOf(arg, N(0.5)) }

func (f *Func) Name() string   { return f.name }
func (f *Func) Arg() Expr      { return f.arg }
func (f *Func) String() string { return f.name + "(" + f.arg.String() + ")" }

func (f *Func) Sub(name string, value Expr) Expr {
	return apply(f.name, f.arg.Sub(name, value))
}

func (f *Func) Diff(name string) Expr {
	du := f.arg.Diff(name)
	if n, ok := du.(*Num); ok && n.IsZero() {
		return N(0)
	}
	var outer Expr
	switch f.name {
	case FuncLn:
		outer = PowOf(f.arg, N(-1))
	case FuncExp:
		outer = f
	case FuncAbs:
		outer = MulOf(f.arg, PowOf(f, N(-1)))
	}
	return MulOf(outer, du)
}

func (f *Func) Equal(other Expr) bool {
	o, ok := other.(*Func)
	return ok && f.name == o.name && f.arg.Equal(o.arg)
}

func apply(name string, arg Expr) Expr {
	switch name {
	case FuncLn:
		return LnOf(arg)
	case FuncExp:
		return ExpOf(arg)
	case FuncAbs:
		return AbsOf(arg)
	}
	return &Func{name: name, arg: arg}
}

func equalAll(a, b []Expr) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}

// ============================================================
// Convenience
// ============================================================

// Neg returns -e.
func Neg(e Expr) Expr { return MulOf(N(-1), e) }

// SubOf returns a - b.
func SubOf(a, b Expr) Expr { return AddOf(a, Neg(b)) }

// DivOf returns a / b.
func DivOf(a, b Expr) Expr { return MulOf(a, PowOf(b, N(-1))) }

// Diff differentiates e with respect to name.
func Diff(e Expr, name string) Expr { return e.Diff(name) }

// Gradient returns the partial derivatives of e in the order of names.
func Gradient(e Expr, names []string) []Expr {
	out := make([]Expr, len(names))
	for i, n := range names {
		out[i] = e.Diff(n)
	}
	return out
}

// Xreplace substitutes every symbol named in repl simultaneously.
func Xreplace(e Expr, repl map[string]Expr) Expr {
	if len(repl) == 0 {
		return e
	}
	switch v := e.(type) {
	case *Sym:
		if r, ok := repl[v.name]; ok {
			return r
		}
		return v
	case *Add:
		out := make([]Expr, len(v.terms))
		for i, t := range v.terms {
			out[i] = Xreplace(t, repl)
		}
		return AddOf(out...)
	case *Mul:
		out := make([]Expr, len(v.factors))
		for i, f := range v.factors {
			out[i] = Xreplace(f, repl)
		}
		return MulOf(out...)
	case *Pow:
		return PowOf(Xreplace(v.base, repl), Xreplace(v.exp, repl))
	case *Func:
		return apply(v.name, Xreplace(v.arg, repl))
	}
	return e
}

// FreeSymbols returns the names of all symbols in e.
func FreeSymbols(e Expr) map[string]struct{} {
	out := map[string]struct{}{}
	collectSymbols(e, out)
	return out
}

// SortedSymbols returns the free symbol names of e in lexical order.
func SortedSymbols(e Expr) []string {
	set := FreeSymbols(e)
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func collectSymbols(e Expr, out map[string]struct{}) {
	switch v := e.(type) {
	case *Sym:
		out[v.name] = struct{}{}
	case *Add:
		for _, t := range v.terms {
			collectSymbols(t, out)
		}
	case *Mul:
		for _, f := range v.factors {
			collectSymbols(f, out)
		}
	case *Pow:
		collectSymbols(v.base, out)
		collectSymbols(v.exp, out)
	case *Func:
		collectSymbols(v.arg, out)
	}
}
