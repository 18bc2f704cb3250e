package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func counterValue(t *testing.T, m *Metrics, name, label string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, metric := range f.GetMetric() {
			for _, lp := range metric.GetLabel() {
				if lp.GetValue() == label {
					return metric.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestMetrics_CallableCounters(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: true, Namespace: "phasec"})
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	m.RecordCallable("energy", false)
	m.RecordCallable("energy", true)
	m.RecordCallable("energy", true)
	m.RecordBuildError("")

	if got := counterValue(t, m, "phasec_callables_compiled_total", "energy"); got != 1 {
		t.Errorf("compiled = %v, want 1", got)
	}
	if got := counterValue(t, m, "phasec_callables_reused_total", "energy"); got != 2 {
		t.Errorf("reused = %v, want 2", got)
	}
	if got := counterValue(t, m, "phasec_build_errors_total", "unknown"); got != 1 {
		t.Errorf("errors = %v, want 1", got)
	}
}

func TestMetrics_DisabledIsNoop(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{})
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	m.RecordBuildStarted("GM")
	m.RecordCallable("mass", true)
	m.RecordPhaseCompiled("LIQUID", time.Millisecond)
	if m.Registry() != nil {
		t.Fatal("disabled metrics should have no registry")
	}
	if srv := m.StartMetricsServer(NewNopLogger()); srv != nil {
		t.Fatal("disabled metrics should not start a server")
	}
}

func TestEventPublisher_Async(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{
		Enabled:       true,
		EnableAsync:   true,
		BufferSize:    8,
		MaxBatchSize:  4,
		FlushInterval: time.Hour,
	})
	if err != nil {
		t.Fatalf("NewEventPublisher: %v", err)
	}

	var mu sync.Mutex
	var got []string
	ep.Subscribe(func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, e.Type)
	}, FilterByBuildID("b-1"))

	_ = ep.PublishBuildStarted("b-1", nil)
	_ = ep.PublishBuildStarted("b-2", nil)
	_ = ep.PublishBuildFailed("b-1", "boom")

	if err := ep.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{EventTypeBuildStarted, EventTypeBuildFailed}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("events = %v, want %v", got, want)
	}
}

func TestEventPublisher_FilterByType(t *testing.T) {
	ep, _ := NewEventPublisher(EventsConfig{Enabled: true})

	count := 0
	ep.Subscribe(func(Event) { count++ }, FilterByType(EventTypePhaseCompiled))

	_ = ep.PublishBuildStarted("b", nil)
	_ = ep.PublishPhaseCompiled("b", "LIQUID", 4, 0, time.Millisecond)
	_ = ep.PublishBuildCompleted("b", time.Millisecond)

	if count != 1 {
		t.Fatalf("count = %d, want 1", count)
	}
}

func TestEndBuildContext_RecordsFailure(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Metrics.Enabled = true
	tel, err := NewTelemetry(cfg)
	if err != nil {
		t.Fatalf("NewTelemetry: %v", err)
	}
	tel.Logger = NewNopLogger()

	var failed []Event
	tel.Events.Subscribe(func(e Event) { failed = append(failed, e) }, FilterByLevel(EventLevelError))

	ctx := WithBuildContext(tel.WithContext(context.Background()), "b-9", "GM", nil)
	EndBuildContext(ctx, "b-9", "MISSING_OUTPUT", errors.New("no HM"))

	if len(failed) != 1 || failed[0].BuildID != "b-9" {
		t.Fatalf("failed events = %+v", failed)
	}
	if got := counterValue(t, tel.Metrics, "phasec_build_errors_total", "MISSING_OUTPUT"); got != 1 {
		t.Errorf("build errors = %v, want 1", got)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "default", mutate: func(*Config) {}},
		{name: "development", mutate: func(c *Config) { *c = *DevelopmentConfig() }},
		{name: "bad level", mutate: func(c *Config) { c.Logging.Level = "loud" }, wantErr: true},
		{name: "bad format", mutate: func(c *Config) { c.Logging.Format = "xml" }, wantErr: true},
		{name: "bad exporter", mutate: func(c *Config) { c.Tracing.Enabled = true; c.Tracing.Exporter = "jaeger" }, wantErr: true},
		{name: "bad sampling", mutate: func(c *Config) { c.Tracing.SamplingRate = 2 }, wantErr: true},
		{name: "no service", mutate: func(c *Config) { c.ServiceName = "" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
