package config

import (
	"context"
	"fmt"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// profileGlobals are the top-level names a Starlark script may bind to
// declare its default profile.
var profileGlobals = []string{
	"database", "components", "phases", "conditions",
	"parameters", "output", "gradients", "parallelism",
}

// StarlarkResult is the outcome of a script execution.
type StarlarkResult struct {
	// Output holds the public globals converted to Go values.
	Output map[string]interface{}

	// ExecutionTime is the wall time spent executing.
	ExecutionTime time.Duration

	// Error is the execution error message, if any.
	Error string
}

// StarlarkEvaluator executes profile scripts with a timeout and a step
// budget. Scripts have no I/O.
type StarlarkEvaluator struct {
	timeout  time.Duration
	maxSteps uint64
}

// NewStarlarkEvaluator creates a new Starlark evaluator.
func NewStarlarkEvaluator(timeout time.Duration) *StarlarkEvaluator {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &StarlarkEvaluator{
		timeout:  timeout,
		maxSteps: 10_000_000,
	}
}

// Evaluate executes script with input predeclared and returns its globals.
// The thread is cancelled when ctx is done or the timeout elapses.
func (se *StarlarkEvaluator) Evaluate(ctx context.Context, filename, script string, input map[string]interface{}) (*StarlarkResult, error) {
	startTime := time.Now()

	evalCtx, cancel := context.WithTimeout(ctx, se.timeout)
	defer cancel()

	thread := &starlark.Thread{
		Name:  "phasec",
		Print: func(_ *starlark.Thread, _ string) {},
	}
	thread.SetMaxExecutionSteps(se.maxSteps)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-evalCtx.Done():
			thread.Cancel(evalCtx.Err().Error())
		case <-done:
		}
	}()

	output, err := se.exec(thread, filename, script, input)
	result := &StarlarkResult{
		Output:        output,
		ExecutionTime: time.Since(startTime),
	}
	if err != nil {
		if ctxErr := evalCtx.Err(); ctxErr != nil {
			err = fmt.Errorf("starlark execution interrupted after %v: %w", result.ExecutionTime, ctxErr)
		}
		result.Error = err.Error()
		return result, err
	}
	return result, nil
}

func (se *StarlarkEvaluator) exec(thread *starlark.Thread, filename, script string, input map[string]interface{}) (map[string]interface{}, error) {
	predeclared := starlark.StringDict{
		"struct": starlarkstruct.Default,
		"kelvin": starlark.NewBuiltin("kelvin", builtinKelvin),
	}

	for key, val := range input {
		starlarkVal, err := toStarlarkValue(val)
		if err != nil {
			return nil, fmt.Errorf("failed to convert input %s: %w", key, err)
		}
		predeclared[key] = starlarkVal
	}

	globals, err := starlark.ExecFile(thread, filename, script, predeclared)
	if err != nil {
		return nil, fmt.Errorf("starlark execution failed: %w", err)
	}

	output := make(map[string]interface{})
	for name, val := range globals {
		if len(name) > 0 && name[0] == '_' {
			continue
		}
		if _, ok := val.(starlark.Callable); ok {
			continue
		}
		goVal, err := fromStarlarkValue(val)
		if err != nil {
			return nil, fmt.Errorf("failed to convert output %s: %w", name, err)
		}
		output[name] = goVal
	}

	return output, nil
}

// profileData splits script globals into profile documents keyed by name.
// A `profiles` dict declares named profiles; the top-level profile fields
// declare the default one.
func profileData(globals map[string]interface{}) (map[string]map[string]interface{}, error) {
	out := make(map[string]map[string]interface{})

	top := make(map[string]interface{})
	for _, name := range profileGlobals {
		if v, ok := globals[name]; ok {
			top[name] = v
		}
	}
	if len(top) > 0 {
		out[DefaultProfileName] = top
	}

	if raw, ok := globals["profiles"]; ok {
		named, ok := raw.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("profiles must be a dict, got %T", raw)
		}
		for name, v := range named {
			doc, ok := v.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("profile %q must be a dict or struct, got %T", name, v)
			}
			if _, dup := out[name]; dup {
				return nil, fmt.Errorf("duplicate profile %q", name)
			}
			out[name] = doc
		}
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("script declares no profile")
	}
	return out, nil
}

// toStarlarkValue converts a Go value to a Starlark value.
func toStarlarkValue(v interface{}) (starlark.Value, error) {
	if v == nil {
		return starlark.None, nil
	}

	switch val := v.(type) {
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case float64:
		return starlark.Float(val), nil
	case string:
		return starlark.String(val), nil
	case []string:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			list[i] = starlark.String(item)
		}
		return starlark.NewList(list), nil
	case []interface{}:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			starlarkItem, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = starlarkItem
		}
		return starlark.NewList(list), nil
	case map[string]interface{}:
		dict := starlark.NewDict(len(val))
		for k, v := range val {
			starlarkVal, err := toStarlarkValue(v)
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), starlarkVal); err != nil {
				return nil, err
			}
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

// fromStarlarkValue converts a Starlark value to a Go value.
func fromStarlarkValue(v starlark.Value) (interface{}, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		i, ok := val.Int64()
		if !ok {
			return nil, fmt.Errorf("integer too large")
		}
		return i, nil
	case starlark.Float:
		return float64(val), nil
	case starlark.String:
		return string(val), nil
	case starlark.Tuple:
		return fromIterable(val, val.Len())
	case *starlark.List:
		return fromIterable(val, val.Len())
	case *starlark.Dict:
		dict := make(map[string]interface{})
		for _, item := range val.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key must be string")
			}
			value, err := fromStarlarkValue(item[1])
			if err != nil {
				return nil, err
			}
			dict[string(key)] = value
		}
		return dict, nil
	case *starlarkstruct.Struct:
		dict := make(map[string]interface{})
		for _, name := range val.AttrNames() {
			attr, err := val.Attr(name)
			if err != nil {
				continue
			}
			value, err := fromStarlarkValue(attr)
			if err != nil {
				return nil, err
			}
			dict[name] = value
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported starlark type: %s", v.Type())
	}
}

func fromIterable(it starlark.Indexable, n int) ([]interface{}, error) {
	list := make([]interface{}, n)
	for i := 0; i < n; i++ {
		item, err := fromStarlarkValue(it.Index(i))
		if err != nil {
			return nil, err
		}
		list[i] = item
	}
	return list, nil
}

// builtinKelvin converts degrees Celsius to kelvin.
func builtinKelvin(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var celsius starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &celsius); err != nil {
		return nil, err
	}
	c, ok := starlark.AsFloat(celsius)
	if !ok {
		return nil, fmt.Errorf("%s: want number, got %s", b.Name(), celsius.Type())
	}
	return starlark.Float(c + 273.15), nil
}
