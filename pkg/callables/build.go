// Package callables compiles the symbolic models of a set of phases into
// the numeric callables and phase records an equilibrium solver consumes.
//
// Build resolves the shared state variables, compiles per phase the energy
// callable, per-element mass callables and, when conditions are given,
// constraint functions, then assembles one PhaseRecord per phase. Callables
// from a previous Result passed as Options.Cache are reused by identity.
package callables

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/openfroyo/phasec/pkg/codegen"
	"github.com/openfroyo/phasec/pkg/constraints"
	"github.com/openfroyo/phasec/pkg/database"
	"github.com/openfroyo/phasec/pkg/model"
	"github.com/openfroyo/phasec/pkg/telemetry"
	"github.com/openfroyo/phasec/pkg/variables"
)

// Options configures Build.
type Options struct {
	// Components are the requested component names. Unknown names are dropped.
	Components []string

	// Phases are the phases to compile, in order.
	Phases []string

	// Conditions are the equilibrium conditions. Constraints are only
	// built when at least one is given.
	Conditions map[variables.Variable]float64

	// StateVariables, when non-nil, replaces state variable resolution.
	StateVariables []variables.Variable

	// Models supplies per-phase model entries. Nil selects a registry of
	// compound energy models.
	Models *model.Registry

	// Parameters overrides database symbols by name.
	Parameters map[string]float64

	// Cache is a previous Result whose callables may be reused. It is never
	// modified.
	Cache *Result

	// Output is the model property to compile. Defaults to GM.
	Output string

	// NoGradients skips gradient compilation. Gradient slots are then nil.
	NoGradients bool

	// Verbose logs each compiled phase at info level.
	Verbose bool

	// Compiler defaults to codegen.NewCompiler().
	Compiler codegen.Compiler

	// ConstraintBuilder defaults to constraints.NewBuilder(db).
	ConstraintBuilder constraints.Builder

	// Telemetry defaults to the telemetry in the context, if any.
	Telemetry *telemetry.Telemetry

	// Parallelism bounds concurrent phase compilation. Zero means one.
	Parallelism int
}

// Result holds the callables of a build keyed by phase name as requested,
// and the phase records keyed by upper-cased phase name.
type Result struct {
	BuildID        string
	Output         string
	Components     []string
	PureElements   []string
	StateVariables []variables.Variable
	Parameters     ParameterBinding
	BuildGradients bool

	Energy         map[string]*codegen.Function
	EnergyGradient map[string]*codegen.Gradient
	Mass           map[string][]*codegen.Function
	MassGradient   map[string][]*codegen.Gradient

	InternalCons      map[string]*codegen.VectorFunction
	InternalJac       map[string]*codegen.Jacobian
	MultiphaseCons    map[string]*codegen.VectorFunction
	MultiphaseJac     map[string]*codegen.Jacobian
	NumInternalCons   map[string]int
	NumMultiphaseCons map[string]int

	Models       *model.Registry
	PhaseRecords map[string]*PhaseRecord
	Stats        Stats
}

func newResult(buildID, output string) *Result {
	return &Result{
		BuildID:           buildID,
		Output:            output,
		Energy:            map[string]*codegen.Function{},
		EnergyGradient:    map[string]*codegen.Gradient{},
		Mass:              map[string][]*codegen.Function{},
		MassGradient:      map[string][]*codegen.Gradient{},
		InternalCons:      map[string]*codegen.VectorFunction{},
		InternalJac:       map[string]*codegen.Jacobian{},
		MultiphaseCons:    map[string]*codegen.VectorFunction{},
		MultiphaseJac:     map[string]*codegen.Jacobian{},
		NumInternalCons:   map[string]int{},
		NumMultiphaseCons: map[string]int{},
		PhaseRecords:      map[string]*PhaseRecord{},
		Stats:             newStats(),
	}
}

// RecordNames returns the sorted phase record keys.
func (r *Result) RecordNames() []string {
	out := make([]string, 0, len(r.PhaseRecords))
	for name := range r.PhaseRecords {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (o Options) withDefaults(db *database.Database) Options {
	if o.Output == "" {
		o.Output = model.DefaultOutput
	}
	if o.Models == nil {
		o.Models = model.NewRegistry(nil)
	}
	if o.Compiler == nil {
		o.Compiler = codegen.NewCompiler()
	}
	if o.ConstraintBuilder == nil {
		o.ConstraintBuilder = constraints.NewBuilder(db)
	}
	if o.Parallelism == 0 {
		o.Parallelism = 1
	}
	return o
}

func (o Options) validate() error {
	if o.Parallelism < 0 {
		return NewValidationError(fmt.Sprintf("parallelism must be positive, got %d", o.Parallelism))
	}
	seen := make(map[string]struct{}, len(o.Phases))
	for _, name := range o.Phases {
		if strings.TrimSpace(name) == "" {
			return NewValidationError("phase name must not be empty")
		}
		key := upper(name)
		if _, dup := seen[key]; dup {
			return NewValidationError(fmt.Sprintf("phase %s requested twice", key))
		}
		seen[key] = struct{}{}
	}
	return nil
}

// Build compiles the callables and phase records for opts.Phases.
func Build(ctx context.Context, db *database.Database, opts Options) (*Result, error) {
	if db == nil {
		return nil, NewValidationError("database is required")
	}
	opts = opts.withDefaults(db)
	if err := opts.validate(); err != nil {
		return nil, err
	}

	tel := opts.Telemetry
	if tel != nil {
		ctx = tel.WithContext(ctx)
	} else {
		tel = telemetry.FromTelemetryContext(ctx)
	}

	buildID := uuid.NewString()
	ctx = telemetry.WithBuildContext(ctx, buildID, opts.Output, opts.Phases)

	res, err := build(ctx, tel, db, buildID, opts)
	telemetry.EndBuildContext(ctx, buildID, CodeOf(err), err)
	if err != nil {
		return nil, err
	}
	return res, nil
}

func build(ctx context.Context, tel *telemetry.Telemetry, db *database.Database, buildID string, opts Options) (*Result, error) {
	logger := telemetry.FromContext(ctx)

	binding := NormalizeParameters(opts.Parameters)
	components, pureElements := NormalizeComponents(db, opts.Components)
	args := model.Args{
		Database:   db,
		Components: components,
		Parameters: binding.Symbols,
	}

	var stateVars []variables.Variable
	if opts.StateVariables != nil {
		stateVars = variables.Sorted(opts.StateVariables)
	} else {
		sv, err := ResolveStateVariables(opts.Models, args, opts.Phases, opts.Conditions)
		if err != nil {
			return nil, err
		}
		stateVars = sv.Variables
		reportUnresolved(tel, logger, buildID, sv.Unresolved, len(opts.Conditions) > 0)
	}

	logger.WithFields(map[string]interface{}{
		"components":      components,
		"state_variables": variables.Strings(stateVars),
		"parameters":      binding.Len(),
		"phases":          len(opts.Phases),
	}).Debug("Resolved build inputs")

	pc := &phaseCompiler{
		output:       opts.Output,
		gradients:    !opts.NoGradients,
		components:   components,
		pureElements: pureElements,
		stateVars:    stateVars,
		conds:        ActiveConditions(opts.Conditions, pureElements),
		haveConds:    len(opts.Conditions) > 0,
		binding:      binding,
		args:         args,
		registry:     opts.Models,
		cache:        opts.Cache,
		compiler:     opts.Compiler,
		constraints:  opts.ConstraintBuilder,
	}

	outputs := make([]*phaseOutput, len(opts.Phases))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Parallelism)
	for i, name := range opts.Phases {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return classify(name, "", err)
			}
			phaseCtx := telemetry.WithPhaseContext(gctx, buildID, name)
			out, err := pc.compile(phaseCtx, name)
			if err != nil {
				telemetry.EndPhaseContext(phaseCtx, buildID, name, 0, 0, err)
				return err
			}
			compiled, reused := out.stats.Total()
			telemetry.EndPhaseContext(phaseCtx, buildID, name, compiled, reused, nil)
			if opts.Verbose {
				logger.WithPhase(name).Info("Compiled phase")
			}
			outputs[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := newResult(buildID, opts.Output)
	res.Components = components
	res.PureElements = pureElements
	res.StateVariables = stateVars
	res.Parameters = binding
	res.BuildGradients = !opts.NoGradients
	res.Models = opts.Models

	for i, name := range opts.Phases {
		out := outputs[i]
		res.Energy[name] = out.energy
		res.EnergyGradient[name] = out.energyGrad
		res.Mass[name] = out.mass
		res.MassGradient[name] = out.massGrad
		res.InternalCons[name] = out.constraints.InternalCons
		res.InternalJac[name] = out.constraints.InternalJac
		res.MultiphaseCons[name] = out.constraints.MultiphaseCons
		res.MultiphaseJac[name] = out.constraints.MultiphaseJac
		res.NumInternalCons[name] = out.constraints.NumInternalCons
		res.NumMultiphaseCons[name] = out.constraints.NumMultiphaseCons
		res.PhaseRecords[out.record.Name] = out.record
		res.Stats.merge(out.stats)
	}

	if binding.Len() > 0 {
		for _, key := range res.RecordNames() {
			patched, err := res.PhaseRecords[key].Patch(binding.Values)
			if err != nil {
				return nil, err
			}
			res.PhaseRecords[key] = patched
		}
	}

	compiled, reused := res.Stats.Total()
	logger.WithFields(map[string]interface{}{
		"compiled": compiled,
		"reused":   reused,
	}).Debug("Build finished")
	return res, nil
}

func reportUnresolved(tel *telemetry.Telemetry, logger *telemetry.Logger, buildID string, unresolved []variables.Variable, haveConditions bool) {
	if len(unresolved) == 0 {
		return
	}
	names := variables.Strings(unresolved)
	if !haveConditions {
		logger.WithField("state_variables", names).Debug("State variables left free")
		return
	}
	logger.WithField("state_variables", names).Warn("State variables are not fixed by any condition")
	if tel != nil {
		_ = tel.Events.PublishStateVariablesUnresolved(buildID, names)
	}
}
