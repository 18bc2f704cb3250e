package commands

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/phasec/pkg/database"
	"github.com/openfroyo/phasec/pkg/telemetry"
)

func newWatchCommand() *cobra.Command {
	var (
		flags       buildFlags
		reloadDelay time.Duration
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Recompile whenever the database changes",
		Long: `Compile the selected phases, then watch the database file and recompile
after every change that alters its content. Invalid intermediate edits are
reported and the last good build is kept.

With --metrics-addr, build metrics are served in Prometheus format while
watching.`,
		Example: `  phasec watch --profile profiles.cue --metrics-addr :9090`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			dbPath, opts, err := flags.resolve(cmd)
			if err != nil {
				return err
			}
			opts.Verbose = verbose

			ledger, _, closeLedger, err := openLedger(ctx)
			if err != nil {
				return err
			}
			defer closeLedger()

			if tel := telemetry.FromTelemetryContext(ctx); tel != nil {
				if srv := tel.StartMetricsServer(); srv != nil {
					log.Info().Str("addr", srv.Addr).Msg("Serving metrics")
					defer func() {
						shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
						defer cancel()
						_ = srv.Shutdown(shutdownCtx)
					}()
				}
			}

			out := cmd.OutOrStdout()
			var mu sync.Mutex
			rebuild := func(ctx context.Context, db *database.Database) error {
				mu.Lock()
				defer mu.Unlock()

				start := time.Now()
				res, err := runBuild(ctx, ledger, dbPath, db, opts)
				if err != nil {
					return err
				}
				return printSummary(out, summarize(res, time.Since(start)))
			}

			watcher := database.NewWatcher(dbPath, log.Logger)
			if reloadDelay > 0 {
				watcher.SetReloadDelay(reloadDelay)
			}
			db, err := watcher.Watch(ctx, rebuild)
			if err != nil {
				return err
			}
			defer func() { _ = watcher.Stop() }()

			if err := rebuild(ctx, db); err != nil {
				log.Error().Err(err).Msg("Initial build failed")
			}

			log.Info().Str("database", dbPath).Msg("Watching for changes, press Ctrl+C to stop")
			<-ctx.Done()
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().DurationVar(&reloadDelay, "reload-delay", database.DefaultReloadDelay, "debounce window after a change")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	return cmd
}
