package model

import (
	"errors"
	"math"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openfroyo/phasec/pkg/database"
	"github.com/openfroyo/phasec/pkg/symbolic"
	"github.com/openfroyo/phasec/pkg/variables"
)

func loadDatabase(t *testing.T) *database.Database {
	t.Helper()
	db, err := database.Load(filepath.Join("..", "database", "testdata", "alni.yaml"))
	require.NoError(t, err)
	return db
}

func evalAt(t *testing.T, e symbolic.Expr, env map[string]float64) float64 {
	t.Helper()
	v, err := symbolic.Eval(e, env)
	require.NoError(t, err)
	return v
}

// stubModel exposes nothing beyond the required interface.
type stubModel struct{ name string }

func (s *stubModel) PhaseName() string { return s.name }

func (s *stubModel) SiteFractions() []variables.Variable { return nil }

func (s *stubModel) StateVariables() []variables.Variable {
	return []variables.Variable{variables.T}
}

func (s *stubModel) Moles(string) symbolic.Expr { return symbolic.N(0) }

func (s *stubModel) GM() symbolic.Expr { return symbolic.S("T") }

func TestOutput_CapabilityMap(t *testing.T) {
	e, err := Output(&stubModel{name: "STUB"}, "GM")
	require.NoError(t, err)
	require.Equal(t, "T", e.String())

	_, err = Output(&stubModel{name: "STUB"}, "HM")
	var missing *MissingOutputError
	require.True(t, errors.As(err, &missing))
	require.Equal(t, "HM", missing.Property)
	require.Equal(t, "STUB", missing.Phase)

	_, err = Output(&stubModel{name: "STUB"}, "volume")
	require.ErrorAs(t, err, &missing)

	require.Equal(t, []string{"CPM", "G", "GM", "HM", "SM"}, SupportedOutputs())
}

func TestRegistry_MaterializeIsIdempotent(t *testing.T) {
	calls := 0
	ctor := func(Args) (Model, error) {
		calls++
		return &stubModel{name: "STUB"}, nil
	}

	reg := NewRegistry(ctor)
	first, err := reg.Materialize("liquid", Args{})
	require.NoError(t, err)
	second, err := reg.Materialize("LIQUID", Args{})
	require.NoError(t, err)

	require.Equal(t, 1, calls)
	require.Same(t, first, second)

	entry, ok := reg.Entry("Liquid")
	require.True(t, ok)
	require.True(t, entry.IsMaterialized())
	require.Equal(t, []string{"LIQUID"}, reg.Phases())
}

func TestRegistry_PerPhaseEntries(t *testing.T) {
	reg := NewRegistry(func(Args) (Model, error) {
		t.Fatal("fallback must not run")
		return nil, nil
	})

	var seen Args
	reg.Set("fcc_a1", Unmaterialized(func(a Args) (Model, error) {
		seen = a
		return &stubModel{name: "STUB"}, nil
	}))
	pre := &stubModel{name: "BCC_A2"}
	reg.Set("BCC_A2", Materialized(pre))

	_, err := reg.Materialize("FCC_A1", Args{Components: []string{"AL"}, Parameters: []string{"VV0001"}})
	require.NoError(t, err)
	require.Equal(t, "FCC_A1", seen.Phase)
	require.Equal(t, []string{"VV0001"}, seen.Parameters)

	got, err := reg.Materialize("bcc_a2", Args{})
	require.NoError(t, err)
	require.Same(t, pre, got)
	require.Len(t, reg.Models(), 2)
}

func TestRegistry_ConstructorError(t *testing.T) {
	boom := errors.New("boom")
	reg := NewRegistry(func(Args) (Model, error) { return nil, boom })

	_, err := reg.Materialize("LIQUID", Args{})
	require.ErrorIs(t, err, boom)
	require.Empty(t, reg.Models())
}

func TestRegistry_ConcurrentMaterialize(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	reg := NewRegistry(func(Args) (Model, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		return &stubModel{name: "STUB"}, nil
	})

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := reg.Materialize("LIQUID", Args{})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	require.Equal(t, 1, calls)
}

func TestCompoundEnergyModel_Liquid(t *testing.T) {
	db := loadDatabase(t)
	m, err := NewCompoundEnergyModel(Args{Database: db, Components: []string{"AL", "NI", "VA"}, Phase: "LIQUID"})
	require.NoError(t, err)

	yAl := variables.Y("LIQUID", 0, "AL")
	yNi := variables.Y("LIQUID", 0, "NI")
	require.Equal(t, []variables.Variable{yAl, yNi}, m.SiteFractions())
	require.Equal(t, []variables.Variable{variables.T}, m.StateVariables())

	const temp = 1000.0
	env := map[string]float64{"T": temp, yAl.String(): 0.4, yNi.String(): 0.6}

	gliqal, _ := db.Symbol("GLIQAL")
	gliqni, _ := db.Symbol("GLIQNI")
	ghser := map[string]float64{"T": temp}
	ghserAl, _ := db.Symbol("GHSERAL")
	ghserNi, _ := db.Symbol("GHSERNI")
	ghser["GHSERAL"] = evalAt(t, ghserAl, ghser)
	ghser["GHSERNI"] = evalAt(t, ghserNi, ghser)

	want := 0.4*evalAt(t, gliqal, ghser) + 0.6*evalAt(t, gliqni, ghser) +
		GasConstant*temp*(0.4*math.Log(0.4)+0.6*math.Log(0.6)) +
		0.24*(-207109.4+41.3*temp) +
		0.24*(-0.2)*(-10185.8+5.87*temp)
	require.InDelta(t, want, evalAt(t, m.GM(), env), 1e-6)

	sumMoles := evalAt(t, m.Moles("AL"), env) + evalAt(t, m.Moles("NI"), env)
	require.InDelta(t, 1.0, sumMoles, 1e-12)
	require.InDelta(t, 0.4, evalAt(t, m.Moles("al"), env), 1e-12)
	require.Equal(t, "0", m.Moles("CR").String())
}

func TestCompoundEnergyModel_DerivedProperties(t *testing.T) {
	db := loadDatabase(t)
	m, err := NewCompoundEnergyModel(Args{Database: db, Components: []string{"AL", "NI"}, Phase: "LIQUID"})
	require.NoError(t, err)

	env := map[string]float64{"T": 1200, "Y_LIQUID_0_AL": 0.3, "Y_LIQUID_0_NI": 0.7}
	gm := evalAt(t, m.GM(), env)

	cem := m.(*CompoundEnergyModel)
	sm := evalAt(t, cem.SM(), env)
	hm := evalAt(t, cem.HM(), env)
	require.InDelta(t, gm+1200*sm, hm, 1e-6)

	// Central difference check of the entropy.
	const h = 1e-3
	up := map[string]float64{"T": 1200 + h, "Y_LIQUID_0_AL": 0.3, "Y_LIQUID_0_NI": 0.7}
	down := map[string]float64{"T": 1200 - h, "Y_LIQUID_0_AL": 0.3, "Y_LIQUID_0_NI": 0.7}
	numeric := -(evalAt(t, m.GM(), up) - evalAt(t, m.GM(), down)) / (2 * h)
	require.InDelta(t, numeric, sm, 1e-4)

	cpm, err := Output(m, "CPM")
	require.NoError(t, err)
	require.Greater(t, evalAt(t, cpm, env), 0.0)
}

func TestCompoundEnergyModel_TwoSublattices(t *testing.T) {
	db := loadDatabase(t)
	m, err := NewCompoundEnergyModel(Args{
		Database:   db,
		Components: []string{"AL", "NI", "VA"},
		Phase:      "bcc_a2",
		Parameters: []string{"GHSERAL"},
	})
	require.NoError(t, err)

	cem := m.(*CompoundEnergyModel)
	require.Len(t, cem.Sublattices(), 2)
	require.Equal(t, []string{
		"Y_BCC_A2_0_AL", "Y_BCC_A2_0_NI", "Y_BCC_A2_0_VA", "Y_BCC_A2_1_VA",
	}, variables.Strings(m.SiteFractions()))

	free := symbolic.FreeSymbols(m.GM())
	require.Contains(t, free, "GHSERAL")
	require.NotContains(t, free, "GHSERNI")
	require.Contains(t, free, "VV0001")

	// Vacancies carry no atoms.
	env := map[string]float64{
		"T": 800, "GHSERAL": 0, "VV0001": 0,
		"Y_BCC_A2_0_AL": 0.25, "Y_BCC_A2_0_NI": 0.25, "Y_BCC_A2_0_VA": 0.5, "Y_BCC_A2_1_VA": 1,
	}
	require.InDelta(t, 0.5, evalAt(t, m.Moles("AL"), env), 1e-12)
}

func TestCompoundEnergyModel_Errors(t *testing.T) {
	db := loadDatabase(t)

	_, err := NewCompoundEnergyModel(Args{Database: db, Components: []string{"AL"}, Phase: "SIGMA"})
	require.ErrorIs(t, err, ErrUnknownPhase)

	_, err = NewCompoundEnergyModel(Args{Database: db, Components: []string{"AL", "NI"}, Phase: "BCC_A2"})
	require.ErrorIs(t, err, ErrNoActiveConstituents)
}
