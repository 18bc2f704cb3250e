package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/phasec/pkg/callables"
	"github.com/openfroyo/phasec/pkg/config"
	"github.com/openfroyo/phasec/pkg/database"
	"github.com/openfroyo/phasec/pkg/stores"
	"github.com/openfroyo/phasec/pkg/telemetry"
	"github.com/openfroyo/phasec/pkg/variables"
)

// buildFlags are the flags shared by commands that run a build. A profile
// supplies the options; explicit flags override it.
type buildFlags struct {
	database    string
	profile     string
	profileName string
	set         []string

	components  []string
	phases      []string
	conditions  []string
	parameters  []string
	output      string
	noGradients bool
	parallelism int
}

func (f *buildFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringVarP(&f.database, "db", "d", "", "thermodynamic database (.yaml, .yml, .toml)")
	fl.StringVarP(&f.profile, "profile", "p", "", "build profile (.cue, .star or CUE package directory)")
	fl.StringVar(&f.profileName, "profile-name", "", "profile to select when the file defines several")
	fl.StringSliceVar(&f.set, "set", nil, "Starlark profile input as KEY=VALUE (semicolon-separated values become lists)")
	fl.StringSliceVarP(&f.components, "components", "c", nil, "components, e.g. AL,NI,VA")
	fl.StringSliceVar(&f.phases, "phases", nil, "phases to compile")
	fl.StringSliceVar(&f.conditions, "cond", nil, "condition as VAR=VALUE, e.g. T=1000 or X_AL=0.3")
	fl.StringSliceVar(&f.parameters, "param", nil, "parameter override as SYMBOL=VALUE")
	fl.StringVarP(&f.output, "output", "o", "", "model property to compile (GM, G, HM, SM, CPM)")
	fl.BoolVar(&f.noGradients, "no-gradients", false, "skip gradient compilation")
	fl.IntVar(&f.parallelism, "parallelism", 0, "phases compiled concurrently")
}

// resolve merges the profile, if any, with explicit flags and returns the
// database path and build options.
func (f *buildFlags) resolve(cmd *cobra.Command) (string, callables.Options, error) {
	var opts callables.Options
	dbPath := f.database

	if f.profile != "" {
		input, err := parseInput(f.set)
		if err != nil {
			return "", opts, err
		}
		p, err := config.NewLoader(0).LoadProfile(cmd.Context(), f.profile, f.profileName, input)
		if err != nil {
			return "", opts, err
		}
		if opts, err = p.Options(); err != nil {
			return "", opts, err
		}
		if dbPath == "" {
			dbPath = p.Database
		}
	}

	fl := cmd.Flags()
	if fl.Changed("components") {
		opts.Components = f.components
	}
	if fl.Changed("phases") {
		opts.Phases = f.phases
	}
	if fl.Changed("cond") {
		conds, err := parseConditions(f.conditions)
		if err != nil {
			return "", opts, err
		}
		opts.Conditions = conds
	}
	if fl.Changed("param") {
		params, err := parseAssignments(f.parameters)
		if err != nil {
			return "", opts, err
		}
		opts.Parameters = params
	}
	if fl.Changed("output") {
		opts.Output = f.output
	}
	if fl.Changed("no-gradients") {
		opts.NoGradients = f.noGradients
	}
	if fl.Changed("parallelism") {
		opts.Parallelism = f.parallelism
	}

	if dbPath == "" {
		return "", opts, fmt.Errorf("a database is required: use --db or --profile")
	}
	if len(opts.Components) == 0 || len(opts.Phases) == 0 {
		return "", opts, fmt.Errorf("components and phases are required: use --components/--phases or --profile")
	}
	return dbPath, opts, nil
}

// parseAssignments parses KEY=VALUE pairs with numeric values.
func parseAssignments(pairs []string) (map[string]float64, error) {
	out := make(map[string]float64, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid assignment %q: want KEY=VALUE", pair)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid value for %s: %w", key, err)
		}
		out[key] = v
	}
	return out, nil
}

// parseConditions parses VAR=VALUE pairs whose keys name variables.
func parseConditions(pairs []string) (map[variables.Variable]float64, error) {
	raw, err := parseAssignments(pairs)
	if err != nil {
		return nil, err
	}
	out := make(map[variables.Variable]float64, len(raw))
	for k, v := range raw {
		vr, ok := variables.Parse(strings.ToUpper(k))
		if !ok {
			return nil, fmt.Errorf("unknown condition variable %q", k)
		}
		out[vr] = v
	}
	return out, nil
}

// parseInput parses --set values for Starlark profiles. Numbers and
// booleans are typed; a semicolon-separated value becomes a list.
func parseInput(pairs []string) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --set %q: want KEY=VALUE", pair)
		}
		if strings.Contains(raw, ";") {
			parts := strings.Split(raw, ";")
			list := make([]interface{}, len(parts))
			for i, p := range parts {
				list[i] = scalar(p)
			}
			out[key] = list
			continue
		}
		out[key] = scalar(raw)
	}
	return out, nil
}

func scalar(s string) interface{} {
	s = strings.TrimSpace(s)
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return s
}

// openLedger opens the build ledger when --ledger is set and subscribes it
// to build events. The returned close function is never nil on success.
func openLedger(ctx context.Context) (*stores.Ledger, stores.Store, func(), error) {
	if ledgerPath == "" {
		return nil, nil, func() {}, nil
	}
	if ledgerPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(ledgerPath), 0o755); err != nil {
			return nil, nil, nil, fmt.Errorf("failed to create ledger directory: %w", err)
		}
	}

	store, err := stores.NewSQLiteStore(stores.Config{Path: ledgerPath})
	if err != nil {
		return nil, nil, nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, nil, nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, nil, nil, err
	}
	closeFn := func() {
		if err := store.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close ledger")
		}
	}

	ledger := stores.NewLedger(store)
	if tel := telemetry.FromTelemetryContext(ctx); tel != nil {
		tel.Events.Subscribe(ledger.Subscriber(ctx, tel.Logger), nil)
	}
	return ledger, store, closeFn, nil
}

// runBuild runs callables.Build, recording it in ledger when non-nil.
func runBuild(ctx context.Context, ledger *stores.Ledger, dbPath string, db *database.Database, opts callables.Options) (*callables.Result, error) {
	if ledger == nil {
		return callables.Build(ctx, db, opts)
	}

	id, err := ledger.Begin(ctx, stores.BuildInput{
		DatabasePath:   dbPath,
		DatabaseDigest: db.Digest(),
		Output:         opts.Output,
		Components:     opts.Components,
		Phases:         opts.Phases,
		Conditions:     opts.Conditions,
		Parameters:     opts.Parameters,
		Gradients:      !opts.NoGradients,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record build: %w", err)
	}

	res, buildErr := callables.Build(ctx, db, opts)
	if err := ledger.Finish(context.WithoutCancel(ctx), id, res, buildErr); err != nil {
		log.Warn().Err(err).Str("ledger_id", id).Msg("Failed to finish ledger entry")
	}
	return res, buildErr
}

// buildSummary is the printable outcome of a build.
type buildSummary struct {
	BuildID        string         `json:"build_id"`
	Output         string         `json:"output"`
	Components     []string       `json:"components"`
	PureElements   []string       `json:"pure_elements"`
	StateVariables []string       `json:"state_variables"`
	Gradients      bool           `json:"gradients"`
	Compiled       int            `json:"compiled"`
	Reused         int            `json:"reused"`
	Duration       string         `json:"duration"`
	Phases         []phaseSummary `json:"phases"`
}

type phaseSummary struct {
	Phase             string   `json:"phase"`
	Variables         []string `json:"variables"`
	Parameters        int      `json:"parameters"`
	NumInternalCons   int      `json:"num_internal_cons"`
	NumMultiphaseCons int      `json:"num_multiphase_cons"`
}

func summarize(res *callables.Result, elapsed time.Duration) buildSummary {
	compiled, reused := res.Stats.Total()
	s := buildSummary{
		BuildID:        res.BuildID,
		Output:         res.Output,
		Components:     res.Components,
		PureElements:   res.PureElements,
		StateVariables: variables.Strings(res.StateVariables),
		Gradients:      res.BuildGradients,
		Compiled:       compiled,
		Reused:         reused,
		Duration:       elapsed.Round(time.Microsecond).String(),
	}
	for _, name := range res.RecordNames() {
		rec := res.PhaseRecords[name]
		s.Phases = append(s.Phases, phaseSummary{
			Phase:             name,
			Variables:         variables.Strings(rec.Variables),
			Parameters:        len(rec.Parameters),
			NumInternalCons:   rec.NumInternalCons,
			NumMultiphaseCons: rec.NumMultiphaseCons,
		})
	}
	return s
}

func printSummary(w io.Writer, s buildSummary) error {
	if jsonOutput {
		return writeJSON(w, s)
	}
	fmt.Fprintf(w, "Build %s (%s)\n", s.BuildID, s.Output)
	fmt.Fprintf(w, "  components:      %s\n", strings.Join(s.Components, ", "))
	fmt.Fprintf(w, "  pure elements:   %s\n", strings.Join(s.PureElements, ", "))
	fmt.Fprintf(w, "  state variables: %s\n", strings.Join(s.StateVariables, ", "))
	fmt.Fprintf(w, "  gradients:       %v\n", s.Gradients)
	fmt.Fprintf(w, "  callables:       %d compiled, %d reused in %s\n", s.Compiled, s.Reused, s.Duration)
	for _, p := range s.Phases {
		fmt.Fprintf(w, "  %-12s %2d dof, %d internal / %d multiphase constraints\n",
			p.Phase, len(p.Variables), p.NumInternalCons, p.NumMultiphaseCons)
	}
	return nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
