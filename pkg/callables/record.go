package callables

import (
	"fmt"
	"strings"

	"github.com/openfroyo/phasec/pkg/codegen"
	"github.com/openfroyo/phasec/pkg/variables"
)

// PhaseRecord bundles everything the solver needs for one phase. Records
// share callables with the Result that produced them; treat them as
// read-only and use Patch to change parameter values.
type PhaseRecord struct {
	Name           string
	Components     []string
	PureElements   []string
	StateVariables []variables.Variable

	// Variables holds the phase's site fractions sorted by key.
	Variables []variables.Variable

	// Parameters is the parameter vector passed to every callable.
	Parameters []float64

	Energy         *codegen.Function
	EnergyGradient *codegen.Gradient
	Mass           []*codegen.Function
	MassGradient   []*codegen.Gradient

	InternalCons      *codegen.VectorFunction
	InternalJac       *codegen.Jacobian
	MultiphaseCons    *codegen.VectorFunction
	MultiphaseJac     *codegen.Jacobian
	NumInternalCons   int
	NumMultiphaseCons int
}

// Patch returns a copy of r carrying values as its parameter vector. The
// callables are shared with r.
func (r *PhaseRecord) Patch(values []float64) (*PhaseRecord, error) {
	if len(r.Parameters) != len(values) {
		return nil, NewParameterIncompatibleError(r.Name, len(r.Parameters), len(values))
	}
	out := *r
	out.Parameters = append([]float64(nil), values...)
	return &out, nil
}

// Ordering returns the state variables followed by the sorted site fractions.
func (r *PhaseRecord) Ordering() []variables.Variable {
	return variables.Concat(r.StateVariables, r.Variables)
}

// EvalEnergy evaluates the energy callable at point, which maps variable
// keys to values.
func (r *PhaseRecord) EvalEnergy(point map[string]float64) (float64, error) {
	if r.Energy == nil {
		return 0, fmt.Errorf("phase %s has no energy callable", r.Name)
	}
	if err := r.checkParameters(r.Energy); err != nil {
		return 0, err
	}
	dof, err := dofVector(r.Energy.Variables(), point)
	if err != nil {
		return 0, err
	}
	return r.Energy.Eval(dof, r.Parameters), nil
}

// EvalEnergyGradient evaluates the energy gradient at point, ordered like
// the energy callable's variables.
func (r *PhaseRecord) EvalEnergyGradient(point map[string]float64) ([]float64, error) {
	if r.EnergyGradient == nil || r.Energy == nil {
		return nil, fmt.Errorf("phase %s was built without gradients", r.Name)
	}
	if err := r.checkParameters(r.Energy); err != nil {
		return nil, err
	}
	dof, err := dofVector(r.Energy.Variables(), point)
	if err != nil {
		return nil, err
	}
	out := make([]float64, r.EnergyGradient.Len())
	r.EnergyGradient.Eval(dof, r.Parameters, out)
	return out, nil
}

// EvalMoles evaluates the moles of each pure element at point.
func (r *PhaseRecord) EvalMoles(point map[string]float64) (map[string]float64, error) {
	out := make(map[string]float64, len(r.Mass))
	for i, fn := range r.Mass {
		if err := r.checkParameters(fn); err != nil {
			return nil, err
		}
		dof, err := dofVector(fn.Variables(), point)
		if err != nil {
			return nil, err
		}
		out[r.PureElements[i]] = fn.Eval(dof, r.Parameters)
	}
	return out, nil
}

// checkParameters reports a parameter vector that does not fit fn.
func (r *PhaseRecord) checkParameters(fn *codegen.Function) error {
	if want := len(fn.Parameters()); len(r.Parameters) != want {
		return NewParameterIncompatibleError(r.Name, want, len(r.Parameters))
	}
	return nil
}

// EvalMoleFractions normalizes EvalMoles to unit sum.
func (r *PhaseRecord) EvalMoleFractions(point map[string]float64) (map[string]float64, error) {
	moles, err := r.EvalMoles(point)
	if err != nil {
		return nil, err
	}
	total := 0.0
	for _, n := range moles {
		total += n
	}
	if total == 0 {
		return nil, fmt.Errorf("phase %s has no moles at this point", r.Name)
	}
	for el, n := range moles {
		moles[el] = n / total
	}
	return moles, nil
}

func dofVector(names []string, point map[string]float64) ([]float64, error) {
	dof := make([]float64, len(names))
	var missing []string
	for i, name := range names {
		v, ok := point[name]
		if !ok {
			missing = append(missing, name)
			continue
		}
		dof[i] = v
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing values for %s", strings.Join(missing, ", "))
	}
	return dof, nil
}

func upper(name string) string { return strings.ToUpper(name) }
