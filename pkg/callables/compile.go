package callables

import (
	"context"

	"github.com/openfroyo/phasec/pkg/codegen"
	"github.com/openfroyo/phasec/pkg/constraints"
	"github.com/openfroyo/phasec/pkg/model"
	"github.com/openfroyo/phasec/pkg/symbolic"
	"github.com/openfroyo/phasec/pkg/telemetry"
	"github.com/openfroyo/phasec/pkg/variables"
)

// Stats counts callable slots that were compiled or taken from the cache.
// Mass slots count once per phase, not once per element.
type Stats struct {
	Compiled map[Kind]int `json:"compiled"`
	Reused   map[Kind]int `json:"reused"`
}

func newStats() Stats {
	return Stats{Compiled: map[Kind]int{}, Reused: map[Kind]int{}}
}

func (s Stats) record(kind Kind, reused bool) {
	if reused {
		s.Reused[kind]++
	} else {
		s.Compiled[kind]++
	}
}

func (s Stats) merge(other Stats) {
	for k, n := range other.Compiled {
		s.Compiled[k] += n
	}
	for k, n := range other.Reused {
		s.Reused[k] += n
	}
}

// Total returns the compiled and reused slot counts over all kinds.
func (s Stats) Total() (compiled, reused int) {
	for _, n := range s.Compiled {
		compiled += n
	}
	for _, n := range s.Reused {
		reused += n
	}
	return compiled, reused
}

// phaseOutput is what one phase contributes to a Result.
type phaseOutput struct {
	energy      *codegen.Function
	energyGrad  *codegen.Gradient
	mass        []*codegen.Function
	massGrad    []*codegen.Gradient
	constraints *constraints.Functions
	record      *PhaseRecord
	stats       Stats
}

// phaseCompiler holds the inputs shared by every phase of one build.
type phaseCompiler struct {
	output       string
	gradients    bool
	components   []string
	pureElements []string
	stateVars    []variables.Variable
	conds        map[variables.Variable]float64
	haveConds    bool
	binding      ParameterBinding
	args         model.Args
	registry     *model.Registry
	cache        *Result
	compiler     codegen.Compiler
	constraints  constraints.Builder
}

func (c *phaseCompiler) compile(ctx context.Context, name string) (*phaseOutput, error) {
	logger := telemetry.FromContext(ctx)

	m, err := c.registry.Materialize(name, c.args)
	if err != nil {
		return nil, classify(name, c.output, err)
	}
	siteFracs := m.SiteFractions()
	ordering := variables.Concat(c.stateVars, siteFracs)
	massOrdering := variables.Concat(c.stateVars, variables.Sorted(siteFracs))

	out := &phaseOutput{stats: newStats()}

	var energyReused bool
	out.energy, out.energyGrad, energyReused, err = c.energy(ctx, name, m, ordering, out.stats)
	if err != nil {
		return nil, err
	}

	out.mass, out.massGrad, err = c.mass(ctx, name, m, massOrdering, out.stats)
	if err != nil {
		return nil, err
	}

	if c.haveConds {
		out.constraints, err = c.constraints.Build(m, ordering, c.conds, c.binding.Symbols)
		if err != nil {
			return nil, classify(name, "", err)
		}
	} else {
		out.constraints = &constraints.Functions{}
	}

	params := append([]float64(nil), c.binding.Values...)
	if energyReused {
		if rec, ok := c.cache.LookupRecord(name).Get(); ok {
			logger.Debug("Copying parameter vector from cached record")
			params = append([]float64(nil), rec.Parameters...)
		}
	}

	out.record = &PhaseRecord{
		Name:              upper(name),
		Components:        c.components,
		PureElements:      c.pureElements,
		StateVariables:    c.stateVars,
		Variables:         variables.Sorted(siteFracs),
		Parameters:        params,
		Energy:            out.energy,
		EnergyGradient:    out.energyGrad,
		Mass:              out.mass,
		MassGradient:      out.massGrad,
		InternalCons:      out.constraints.InternalCons,
		InternalJac:       out.constraints.InternalJac,
		MultiphaseCons:    out.constraints.MultiphaseCons,
		MultiphaseJac:     out.constraints.MultiphaseJac,
		NumInternalCons:   out.constraints.NumInternalCons,
		NumMultiphaseCons: out.constraints.NumMultiphaseCons,
	}
	return out, nil
}

func (c *phaseCompiler) energy(ctx context.Context, name string, m model.Model, ordering []variables.Variable, stats Stats) (*codegen.Function, *codegen.Gradient, bool, error) {
	fn, grad, reused, err := resolvePair(
		c.cache.LookupEnergy(name),
		c.cache.LookupEnergyGradient(name),
		c.gradients,
		func() (*codegen.Function, *codegen.Gradient, error) {
			expr, err := model.Output(m, c.output)
			if err != nil {
				return nil, nil, err
			}
			expr = c.zeroUndefined(ctx, expr)
			return c.compiler.Build(expr, ordering, c.binding.Symbols, codegen.Options{
				IncludeObjective: true,
				IncludeGradient:  c.gradients,
			})
		},
	)
	if err != nil {
		return nil, nil, false, classify(name, c.output, err)
	}

	c.count(ctx, stats, KindEnergy, reused)
	if c.gradients {
		c.count(ctx, stats, KindEnergyGradient, reused)
	}
	return fn, grad, reused, nil
}

func (c *phaseCompiler) mass(ctx context.Context, name string, m model.Model, ordering []variables.Variable, stats Stats) ([]*codegen.Function, []*codegen.Gradient, error) {
	n := len(c.pureElements)
	fns, grads, reused, err := resolvePair(
		c.cache.LookupMass(name, n),
		c.cache.LookupMassGradient(name, n),
		c.gradients,
		func() ([]*codegen.Function, []*codegen.Gradient, error) {
			fns := make([]*codegen.Function, n)
			var grads []*codegen.Gradient
			if c.gradients {
				grads = make([]*codegen.Gradient, n)
			}
			for i, el := range c.pureElements {
				expr := c.zeroUndefined(ctx, m.Moles(el))
				fn, grad, err := c.compiler.Build(expr, ordering, c.binding.Symbols, codegen.Options{
					IncludeObjective: true,
					IncludeGradient:  c.gradients,
				})
				if err != nil {
					return nil, nil, err
				}
				fns[i] = fn
				if c.gradients {
					grads[i] = grad
				}
			}
			return fns, grads, nil
		},
	)
	if err != nil {
		return nil, nil, classify(name, "", err)
	}

	c.count(ctx, stats, KindMass, reused)
	if c.gradients {
		c.count(ctx, stats, KindMassGradient, reused)
	}
	return fns, grads, nil
}

func (c *phaseCompiler) count(ctx context.Context, stats Stats, kind Kind, reused bool) {
	stats.record(kind, reused)
	telemetry.RecordCallable(ctx, string(kind), reused)
	telemetry.FromContext(ctx).WithField("kind", string(kind)).WithField("cache_hit", reused).Debug("Resolved callable")
}

// zeroUndefined replaces every free symbol that is neither a recognised
// variable nor a bound parameter with zero.
func (c *phaseCompiler) zeroUndefined(ctx context.Context, e symbolic.Expr) symbolic.Expr {
	repl := map[string]symbolic.Expr{}
	for _, sym := range symbolic.SortedSymbols(e) {
		if variables.IsDefined(sym) || c.binding.Has(sym) {
			continue
		}
		repl[sym] = symbolic.N(0)
	}
	if len(repl) == 0 {
		return e
	}
	telemetry.FromContext(ctx).WithField("symbols", len(repl)).Debug("Zeroing undefined symbols")
	return symbolic.Xreplace(e, repl)
}
