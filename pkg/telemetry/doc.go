// Package telemetry provides observability for callable builds.
//
// It combines structured logging (zerolog), tracing (OpenTelemetry),
// metrics (Prometheus), and a small build event publisher behind a single
// Telemetry value that travels in a context.Context.
//
// # Usage
//
//	cfg := telemetry.DefaultConfig()
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
//	ctx = tel.WithContext(ctx)
//
// The build orchestrator brackets each build with WithBuildContext and
// EndBuildContext, and each phase with WithPhaseContext and EndPhaseContext.
// Code that runs inside those brackets logs through FromContext, which
// returns a logger already carrying the build ID and phase name.
//
// # Metrics
//
// With metrics enabled the following series are exported under the
// configured namespace:
//
//	builds_started_total{output}
//	builds_completed_total{status}
//	build_duration_seconds{status}
//	build_errors_total{code}
//	active_builds
//	callables_compiled_total{kind}
//	callables_reused_total{kind}
//	phase_compile_duration_seconds{phase}
//
// # Tracing
//
// Spans are named build.execute (one per build) and phase.compile (one per
// phase). Exporters: otlp (gRPC), stdout, none.
//
// # Events
//
// Subscribers receive build.started, phase.compiled,
// state_variables.unresolved, build.completed and build.failed events. With
// EnableAsync unset, delivery is synchronous and ordered.
package telemetry
