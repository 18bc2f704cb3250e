package codegen

import (
	"fmt"

	"github.com/openfroyo/phasec/pkg/symbolic"
	"github.com/openfroyo/phasec/pkg/variables"
)

// VectorFunction is a compiled system of scalar expressions, such as a set
// of equality constraints.
type VectorFunction struct {
	sig  signature
	rows []evalFunc
}

// Eval writes one value per row into out.
func (v *VectorFunction) Eval(dof, params, out []float64) {
	v.sig.check(dof, params)
	if len(out) != len(v.rows) {
		panic(fmt.Sprintf("codegen: vector output has %d slots, want %d", len(out), len(v.rows)))
	}
	for i, row := range v.rows {
		out[i] = row(dof, params)
	}
}

// Len returns the number of rows.
func (v *VectorFunction) Len() int { return len(v.rows) }

// Jacobian is the compiled jacobian of a VectorFunction.
type Jacobian struct {
	sig   signature
	cells [][]evalFunc
}

// Eval writes the jacobian into out, one row per constraint and one column
// per variable.
func (j *Jacobian) Eval(dof, params []float64, out [][]float64) {
	j.sig.check(dof, params)
	if len(out) != len(j.cells) {
		panic(fmt.Sprintf("codegen: jacobian output has %d rows, want %d", len(out), len(j.cells)))
	}
	for r, row := range j.cells {
		if len(out[r]) != len(row) {
			panic(fmt.Sprintf("codegen: jacobian row %d has %d columns, want %d", r, len(out[r]), len(row)))
		}
		for c, cell := range row {
			out[r][c] = cell(dof, params)
		}
	}
}

// Rows returns the number of constraint rows.
func (j *Jacobian) Rows() int { return len(j.cells) }

// Cols returns the number of variables.
func (j *Jacobian) Cols() int { return len(j.sig.vars) }

// BuildVector compiles a system of expressions and, when withJacobian is
// set, its jacobian with respect to vars.
func BuildVector(exprs []symbolic.Expr, vars []variables.Variable, params []string, withJacobian bool) (*VectorFunction, *Jacobian, error) {
	sig := newSignature(vars, params)
	scope, err := newScope(sig)
	if err != nil {
		return nil, nil, err
	}

	rows, err := scope.compileAll(exprs)
	if err != nil {
		return nil, nil, err
	}
	fn := &VectorFunction{sig: sig, rows: rows}
	if !withJacobian {
		return fn, nil, nil
	}

	cells := make([][]evalFunc, len(exprs))
	for i, e := range exprs {
		cells[i], err = scope.compileAll(symbolic.Gradient(e, sig.vars))
		if err != nil {
			return nil, nil, err
		}
	}
	return fn, &Jacobian{sig: sig, cells: cells}, nil
}
