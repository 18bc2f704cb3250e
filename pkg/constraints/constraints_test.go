package constraints

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openfroyo/phasec/pkg/database"
	"github.com/openfroyo/phasec/pkg/model"
	"github.com/openfroyo/phasec/pkg/variables"
)

func setupModel(t *testing.T, phase string) (*database.Database, model.Model) {
	t.Helper()
	db, err := database.Load(filepath.Join("..", "database", "testdata", "alni.yaml"))
	require.NoError(t, err)
	m, err := model.NewCompoundEnergyModel(model.Args{
		Database:   db,
		Components: []string{"AL", "NI", "VA"},
		Phase:      phase,
	})
	require.NoError(t, err)
	return db, m
}

func TestBuild_InternalPerSublattice(t *testing.T) {
	db, m := setupModel(t, "BCC_A2")
	vars := variables.Concat([]variables.Variable{variables.T}, m.SiteFractions())

	fns, err := NewBuilder(db).Build(m, vars, map[variables.Variable]float64{variables.T: 800}, nil)
	require.NoError(t, err)
	require.Equal(t, 2, fns.NumInternalCons)
	require.Equal(t, 0, fns.NumMultiphaseCons)

	// T, Y0_AL, Y0_NI, Y0_VA, Y1_VA
	dof := []float64{800, 0.2, 0.3, 0.4, 1}
	out := make([]float64, 2)
	fns.InternalCons.Eval(dof, nil, out)
	require.InDelta(t, -0.1, out[0], 1e-12)
	require.InDelta(t, 0.0, out[1], 1e-12)

	jac := [][]float64{make([]float64, 5), make([]float64, 5)}
	fns.InternalJac.Eval(dof, nil, jac)
	require.Equal(t, []float64{0, 1, 1, 1, 0}, jac[0])
	require.Equal(t, []float64{0, 0, 0, 0, 1}, jac[1])
}

func TestBuild_MoleAndMassFractions(t *testing.T) {
	db, m := setupModel(t, "LIQUID")
	vars := variables.Concat([]variables.Variable{variables.P, variables.T}, m.SiteFractions())
	conds := map[variables.Variable]float64{
		variables.T:        1000,
		variables.P:        101325,
		variables.X("AL"):  0.3,
		variables.W("NI"):  0.5,
		variables.MU("NI"): -1000,
	}

	fns, err := NewBuilder(db).Build(m, vars, conds, nil)
	require.NoError(t, err)
	require.Equal(t, 1, fns.NumInternalCons)
	require.Equal(t, 2, fns.NumMultiphaseCons)
	require.Equal(t, 2, fns.MultiphaseJac.Rows())
	require.Equal(t, 4, fns.MultiphaseJac.Cols())

	dof := []float64{101325, 1000, 0.4, 0.6}
	out := make([]float64, 2)
	fns.MultiphaseCons.Eval(dof, nil, out)

	// Rows follow condition key order: W_NI then X_AL.
	wNi := 0.6 * 58.69 / (0.4*26.981539 + 0.6*58.69)
	require.InDelta(t, wNi-0.5, out[0], 1e-12)
	require.InDelta(t, 0.1, out[1], 1e-12)
}

func TestBuild_UnknownMass(t *testing.T) {
	_, m := setupModel(t, "LIQUID")
	vars := variables.Concat([]variables.Variable{variables.T}, m.SiteFractions())

	_, err := NewBuilder(nil).Build(m, vars, map[variables.Variable]float64{variables.W("AL"): 0.1}, nil)
	require.ErrorContains(t, err, "no mass known for element AL")
}

func TestInternalConstraints_Order(t *testing.T) {
	_, m := setupModel(t, "BCC_A2")
	exprs := InternalConstraints(m)
	require.Len(t, exprs, 2)
	require.Contains(t, exprs[1].String(), "Y_BCC_A2_1_VA")
}
