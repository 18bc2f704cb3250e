package codegen

import (
	"math"
	"testing"

	"github.com/openfroyo/phasec/pkg/symbolic"
	"github.com/openfroyo/phasec/pkg/variables"
	"github.com/stretchr/testify/require"
)

var (
	yA = variables.Y("LIQUID", 0, "A")
	yB = variables.Y("LIQUID", 0, "B")
)

func TestBuild_ObjectiveAndGradient(t *testing.T) {
	// G = L*yA*yB + 8.3145*T*(yA ln yA + yB ln yB)
	expr := symbolic.MustParse("L*Y_LIQUID_0_A*Y_LIQUID_0_B + 8.3145*T*(Y_LIQUID_0_A*ln(Y_LIQUID_0_A) + Y_LIQUID_0_B*ln(Y_LIQUID_0_B))")
	vars := []variables.Variable{variables.T, yA, yB}

	fn, grad, err := NewCompiler().Build(expr, vars, []string{"L"}, Options{IncludeObjective: true, IncludeGradient: true})
	require.NoError(t, err)
	require.NotNil(t, fn)
	require.NotNil(t, grad)

	dof := []float64{1000, 0.4, 0.6}
	params := []float64{-5000}
	ideal := 0.4*math.Log(0.4) + 0.6*math.Log(0.6)
	require.InDelta(t, -5000*0.24+8.3145*1000*ideal, fn.Eval(dof, params), 1e-6)

	out := make([]float64, 3)
	grad.Eval(dof, params, out)
	require.InDelta(t, 8.3145*ideal, out[0], 1e-9)
	require.InDelta(t, -5000*0.6+8.3145*1000*(math.Log(0.4)+1), out[1], 1e-6)
	require.InDelta(t, -5000*0.4+8.3145*1000*(math.Log(0.6)+1), out[2], 1e-6)

	require.Equal(t, []string{"T", "Y_LIQUID_0_A", "Y_LIQUID_0_B"}, fn.Variables())
	require.Equal(t, []string{"L"}, fn.Parameters())
}

func TestBuild_GradientOnly(t *testing.T) {
	fn, grad, err := NewCompiler().Build(symbolic.MustParse("T*T"), []variables.Variable{variables.T}, nil,
		Options{IncludeGradient: true})
	require.NoError(t, err)
	require.Nil(t, fn)
	out := []float64{0}
	grad.Eval([]float64{3}, nil, out)
	require.InDelta(t, 6.0, out[0], 1e-12)
}

func TestBuild_UnboundSymbol(t *testing.T) {
	_, _, err := NewCompiler().Build(symbolic.MustParse("T + Q"), []variables.Variable{variables.T}, nil,
		Options{IncludeObjective: true})
	require.ErrorContains(t, err, "Q")
}

func TestBuild_ParameterClashesWithVariable(t *testing.T) {
	_, _, err := NewCompiler().Build(symbolic.S("T"), []variables.Variable{variables.T}, []string{"T"},
		Options{IncludeObjective: true})
	require.Error(t, err)
}

func TestFunction_PanicsOnWrongArity(t *testing.T) {
	fn, _, err := NewCompiler().Build(symbolic.S("T"), []variables.Variable{variables.T}, nil,
		Options{IncludeObjective: true})
	require.NoError(t, err)
	require.Panics(t, func() { fn.Eval([]float64{1, 2}, nil) })
	require.Panics(t, func() { fn.Eval([]float64{1}, []float64{1}) })
}

func TestBuildVector_Jacobian(t *testing.T) {
	exprs := []symbolic.Expr{
		symbolic.MustParse("Y_LIQUID_0_A + Y_LIQUID_0_B - 1"),
		symbolic.MustParse("Y_LIQUID_0_A*T"),
	}
	vars := []variables.Variable{variables.T, yA, yB}

	fn, jac, err := BuildVector(exprs, vars, nil, true)
	require.NoError(t, err)
	require.Equal(t, 2, fn.Len())
	require.Equal(t, 2, jac.Rows())
	require.Equal(t, 3, jac.Cols())

	dof := []float64{500, 0.25, 0.5}
	out := make([]float64, 2)
	fn.Eval(dof, nil, out)
	require.InDelta(t, -0.25, out[0], 1e-12)
	require.InDelta(t, 125.0, out[1], 1e-12)

	m := [][]float64{make([]float64, 3), make([]float64, 3)}
	jac.Eval(dof, nil, m)
	require.Equal(t, []float64{0, 1, 1}, m[0])
	require.Equal(t, []float64{0.25, 500, 0}, m[1])
}
