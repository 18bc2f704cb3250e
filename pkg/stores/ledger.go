package stores

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/openfroyo/phasec/pkg/callables"
	"github.com/openfroyo/phasec/pkg/telemetry"
	"github.com/openfroyo/phasec/pkg/variables"
)

// BuildInput describes a build request before it runs.
type BuildInput struct {
	DatabasePath   string
	DatabaseDigest string
	Output         string
	Components     []string
	Phases         []string
	Conditions     map[variables.Variable]float64
	Parameters     map[string]float64
	Gradients      bool
}

// Ledger records builds through a Store.
type Ledger struct {
	store Store
}

// NewLedger wraps store.
func NewLedger(store Store) *Ledger {
	return &Ledger{store: store}
}

// Begin inserts a running build row and returns its ID.
func (l *Ledger) Begin(ctx context.Context, in BuildInput) (string, error) {
	conds := make(map[string]float64, len(in.Conditions))
	for v, x := range in.Conditions {
		conds[v.String()] = x
	}

	build := &Build{
		ID:             uuid.NewString(),
		DatabasePath:   in.DatabasePath,
		DatabaseDigest: in.DatabaseDigest,
		Output:         in.Output,
		Gradients:      in.Gradients,
		Status:         BuildStatusRunning,
	}
	var err error
	if build.Components, err = toJSON(in.Components); err != nil {
		return "", err
	}
	if build.Phases, err = toJSON(in.Phases); err != nil {
		return "", err
	}
	if build.Conditions, err = toJSON(conds); err != nil {
		return "", err
	}
	if build.Parameters, err = toJSON(in.Parameters); err != nil {
		return "", err
	}
	if err := l.store.CreateBuild(ctx, build); err != nil {
		return "", err
	}
	return build.ID, nil
}

// Finish records the outcome of the build with ID id. On success the
// result's phase records are stored as summaries.
func (l *Ledger) Finish(ctx context.Context, id string, res *callables.Result, buildErr error) error {
	if buildErr != nil {
		code := callables.CodeOf(buildErr)
		msg := buildErr.Error()
		return l.store.CompleteBuild(ctx, id, BuildStatusFailed, 0, 0, &code, &msg)
	}

	summaries, err := Summaries(id, res)
	if err != nil {
		return err
	}
	if err := l.store.SavePhaseSummaries(ctx, summaries); err != nil {
		return err
	}
	compiled, reused := res.Stats.Total()
	return l.store.CompleteBuild(ctx, id, BuildStatusCompleted, compiled, reused, nil, nil)
}

// Subscriber returns an event subscriber that appends telemetry events to
// the store. Write failures are logged and dropped.
func (l *Ledger) Subscriber(ctx context.Context, logger *telemetry.Logger) telemetry.EventSubscriber {
	return func(e telemetry.Event) {
		row := &Event{
			Type:      e.Type,
			Level:     EventLevel(e.Level),
			Message:   e.Message,
			Timestamp: e.Timestamp,
		}
		if e.BuildID != "" {
			row.BuildID = &e.BuildID
		}
		if e.Phase != "" {
			row.Phase = &e.Phase
		}
		if len(e.Data) > 0 {
			if details, err := toJSON(e.Data); err == nil {
				row.Details = &details
			}
		}
		if err := l.store.AppendEvent(ctx, row); err != nil {
			logger.WithError(err).Warn("Failed to persist event")
		}
	}
}

// Summaries converts the phase records of res into rows for build id,
// ordered by phase name.
func Summaries(id string, res *callables.Result) ([]*PhaseSummary, error) {
	out := make([]*PhaseSummary, 0, len(res.PhaseRecords))
	for _, name := range res.RecordNames() {
		rec := res.PhaseRecords[name]
		energy := ""
		if rec.Energy != nil {
			energy = rec.Energy.String()
		}
		params, err := toJSON(rec.Parameters)
		if err != nil {
			return nil, fmt.Errorf("phase %s: %w", name, err)
		}
		stateVars, _ := toJSON(variables.Strings(rec.StateVariables))
		vars, _ := toJSON(variables.Strings(rec.Variables))
		elements, _ := toJSON(rec.PureElements)
		out = append(out, &PhaseSummary{
			ID:                uuid.NewString(),
			BuildID:           id,
			Phase:             name,
			StateVariables:    stateVars,
			Variables:         vars,
			Parameters:        params,
			PureElements:      elements,
			NumInternalCons:   rec.NumInternalCons,
			NumMultiphaseCons: rec.NumMultiphaseCons,
			Energy:            energy,
		})
	}
	return out, nil
}

func toJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode %T: %w", v, err)
	}
	return string(b), nil
}
