package config

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"
)

func TestStarlarkEvaluator_Evaluate(t *testing.T) {
	evaluator := NewStarlarkEvaluator(5 * time.Second)
	ctx := context.Background()

	tests := []struct {
		name      string
		script    string
		input     map[string]interface{}
		checkFunc func(*testing.T, *StarlarkResult)
		wantErr   bool
	}{
		{
			name:   "simple arithmetic",
			script: `result = 2 + 2`,
			checkFunc: func(t *testing.T, sr *StarlarkResult) {
				if sr.Output["result"] != int64(4) {
					t.Errorf("expected result=4, got %v", sr.Output["result"])
				}
			},
		},
		{
			name:   "input variables",
			script: `phases = [p.upper() for p in names]`,
			input:  map[string]interface{}{"names": []string{"liquid", "fcc_a1"}},
			checkFunc: func(t *testing.T, sr *StarlarkResult) {
				list, ok := sr.Output["phases"].([]interface{})
				if !ok || len(list) != 2 || list[1] != "FCC_A1" {
					t.Errorf("expected upper-cased phases, got %v", sr.Output["phases"])
				}
			},
		},
		{
			name:   "kelvin builtin",
			script: `t = kelvin(25)`,
			checkFunc: func(t *testing.T, sr *StarlarkResult) {
				if got, ok := sr.Output["t"].(float64); !ok || math.Abs(got-298.15) > 1e-9 {
					t.Errorf("expected 298.15, got %v", sr.Output["t"])
				}
			},
		},
		{
			name: "private names and functions skipped",
			script: `
_hidden = 1
def helper():
    return 2
shown = helper()
`,
			checkFunc: func(t *testing.T, sr *StarlarkResult) {
				if _, ok := sr.Output["_hidden"]; ok {
					t.Error("private global leaked into output")
				}
				if _, ok := sr.Output["helper"]; ok {
					t.Error("function leaked into output")
				}
				if sr.Output["shown"] != int64(2) {
					t.Errorf("expected shown=2, got %v", sr.Output["shown"])
				}
			},
		},
		{
			name: "struct converted to map",
			script: `
s = struct(database = "x.yaml", phases = ("LIQUID",))
`,
			checkFunc: func(t *testing.T, sr *StarlarkResult) {
				m, ok := sr.Output["s"].(map[string]interface{})
				if !ok || m["database"] != "x.yaml" {
					t.Fatalf("expected struct as map, got %v", sr.Output["s"])
				}
				if list, ok := m["phases"].([]interface{}); !ok || len(list) != 1 {
					t.Errorf("expected tuple as list, got %v", m["phases"])
				}
			},
		},
		{
			name:    "syntax error",
			script:  `x = = 1`,
			wantErr: true,
		},
		{
			name:    "undefined name",
			script:  `x = missing + 1`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := evaluator.Evaluate(ctx, "test.star", tt.script, tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				if result == nil || result.Error == "" {
					t.Error("expected error message in result")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.checkFunc != nil {
				tt.checkFunc(t, result)
			}
		})
	}
}

func TestStarlarkEvaluator_Timeout(t *testing.T) {
	evaluator := NewStarlarkEvaluator(50 * time.Millisecond)
	evaluator.maxSteps = 0

	script := `
def slow_function():
    result = 0
    for i in range(1000000000):
        result = result + i
    return result

output = slow_function()
`

	result, err := evaluator.Evaluate(context.Background(), "slow.star", script, nil)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if result.Error == "" {
		t.Error("expected timeout error in result")
	}
	if result.ExecutionTime > 5*time.Second {
		t.Errorf("cancellation took too long: %v", result.ExecutionTime)
	}
}

func TestStarlarkEvaluator_ContextCanceled(t *testing.T) {
	evaluator := NewStarlarkEvaluator(time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := evaluator.Evaluate(ctx, "loop.star", `
def spin():
    n = 0
    for i in range(1000000000):
        n += 1
    return n
x = spin()
`, nil)
	if err == nil {
		t.Fatal("expected cancellation error")
	}
}

func TestStarlarkEvaluator_StepBudget(t *testing.T) {
	evaluator := NewStarlarkEvaluator(time.Minute)
	evaluator.maxSteps = 1000

	_, err := evaluator.Evaluate(context.Background(), "budget.star", `
def count():
    n = 0
    for i in range(100000):
        n += 1
    return n
x = count()
`, nil)
	if err == nil {
		t.Fatal("expected step budget error")
	}
}

func TestStarlarkEvaluator_PrintSuppressed(t *testing.T) {
	evaluator := NewStarlarkEvaluator(5 * time.Second)

	result, err := evaluator.Evaluate(context.Background(), "print.star", `
print("this should not appear")
result = "done"
`, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Output["result"] != "done" {
		t.Errorf("expected result='done', got %v", result.Output["result"])
	}
}

func TestLoader_Starlark(t *testing.T) {
	loader := NewLoader(5 * time.Second)
	ctx := context.Background()

	pp, err := loader.Load(ctx, filepath.Join("testdata", "alni.star"), map[string]interface{}{
		"sweep": []interface{}{900, 1200},
	})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(pp.Errors) > 0 {
		t.Fatalf("unexpected validation errors: %v", pp.Errors)
	}

	names := pp.Names()
	if len(names) != 3 || names[0] != "default" || names[1] != "t1200" || names[2] != "t900" {
		t.Fatalf("unexpected profiles: %v", names)
	}

	def := pp.Profiles["default"]
	if def.Output != "GM" || !def.Gradients || def.Parallelism != 1 {
		t.Errorf("schema defaults not applied: %+v", def)
	}
	if len(def.Phases) != 2 {
		t.Errorf("expected 2 phases, got %v", def.Phases)
	}

	hot := pp.Profiles["t1200"]
	if hot.Gradients {
		t.Error("expected gradients off")
	}
	if got := hot.Conditions["T"]; math.Abs(got-1473.15) > 1e-9 {
		t.Errorf("expected T=1473.15, got %v", got)
	}
	if filepath.Base(hot.Database) != "alni.yaml" || hot.Database == "../../database/testdata/alni.yaml" {
		t.Errorf("database path not resolved: %s", hot.Database)
	}
}

func TestLoader_StarlarkInvalidProfile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.star")
	writeFile(t, path, `
database = "x.yaml"
components = ["AL"]
phases = []
`)

	pp, err := NewLoader(0).Load(context.Background(), path, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pp.Errors) == 0 {
		t.Fatal("expected validation errors for empty phases")
	}
	if pp.Errors[0].File != path {
		t.Errorf("expected error file %s, got %s", path, pp.Errors[0].File)
	}
	if _, err := pp.Get(""); err == nil {
		t.Error("expected Get to fail when errors are present")
	}
}

func TestLoader_UnsupportedFormat(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "profile.json")
	writeFile(t, path, `{}`)

	if _, err := NewLoader(0).Load(context.Background(), path, nil); err == nil {
		t.Fatal("expected unsupported format error")
	}
}

func TestLoader_LoadProfile(t *testing.T) {
	p, err := NewLoader(0).LoadProfile(context.Background(), filepath.Join("testdata", "alni.cue"), "hot", nil)
	if err != nil {
		t.Fatalf("LoadProfile failed: %v", err)
	}
	if p.Name != "hot" || len(p.Phases) != 1 {
		t.Errorf("unexpected profile: %+v", p)
	}
	if _, err := NewLoader(0).LoadProfile(context.Background(), filepath.Join("testdata", "alni.cue"), "cold", nil); err == nil {
		t.Error("expected error for unknown profile")
	}
}
