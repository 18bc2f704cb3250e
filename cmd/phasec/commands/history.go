package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/phasec/pkg/stores"
)

func newHistoryCommand() *cobra.Command {
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List builds recorded in the ledger",
		Long: `List builds recorded in the build ledger, newest first.

Requires --ledger.`,
		Example: `  phasec history --ledger .phasec/ledger.db
  phasec history show 6f1c... --ledger .phasec/ledger.db
  phasec history events --level warning --ledger .phasec/ledger.db`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closeStore, err := requireLedger(cmd)
			if err != nil {
				return err
			}
			defer closeStore()

			builds, err := store.ListBuilds(cmd.Context(), limit, offset)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if jsonOutput {
				return writeJSON(w, builds)
			}
			for _, b := range builds {
				status := string(b.Status)
				if b.ErrorCode != nil {
					status += " " + *b.ErrorCode
				}
				fmt.Fprintf(w, "%s  %s  %-4s %-20s compiled=%d reused=%d  %s\n",
					b.ID, b.StartedAt.Format("2006-01-02 15:04:05"), b.Output, status, b.Compiled, b.Reused, b.Phases)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of builds")
	cmd.Flags().IntVar(&offset, "offset", 0, "number of builds to skip")

	cmd.AddCommand(newHistoryShowCommand())
	cmd.AddCommand(newHistoryEventsCommand())
	return cmd
}

func newHistoryShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show BUILD_ID",
		Short: "Show a recorded build and its phase records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closeStore, err := requireLedger(cmd)
			if err != nil {
				return err
			}
			defer closeStore()

			ctx := cmd.Context()
			build, err := store.GetBuild(ctx, args[0])
			if err != nil {
				return err
			}
			phases, err := store.ListPhaseSummaries(ctx, build.ID)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if jsonOutput {
				return writeJSON(w, struct {
					Build  *stores.Build          `json:"build"`
					Phases []*stores.PhaseSummary `json:"phases"`
				}{build, phases})
			}

			fmt.Fprintf(w, "Build %s: %s\n", build.ID, build.Status)
			fmt.Fprintf(w, "  database:   %s (%.12s)\n", build.DatabasePath, build.DatabaseDigest)
			fmt.Fprintf(w, "  output:     %s, gradients %v\n", build.Output, build.Gradients)
			fmt.Fprintf(w, "  components: %s\n", build.Components)
			fmt.Fprintf(w, "  conditions: %s\n", build.Conditions)
			if build.Error != nil {
				fmt.Fprintf(w, "  error:      %s\n", *build.Error)
			}
			for _, p := range phases {
				fmt.Fprintf(w, "  %-12s vars=%s internal=%d multiphase=%d\n",
					p.Phase, p.Variables, p.NumInternalCons, p.NumMultiphaseCons)
			}
			return nil
		},
	}
}

func newHistoryEventsCommand() *cobra.Command {
	var (
		buildID string
		level   string
		limit   int
	)

	cmd := &cobra.Command{
		Use:   "events",
		Short: "List persisted build events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closeStore, err := requireLedger(cmd)
			if err != nil {
				return err
			}
			defer closeStore()

			var idFilter *string
			if buildID != "" {
				idFilter = &buildID
			}
			var levelFilter *stores.EventLevel
			if level != "" {
				l := stores.EventLevel(level)
				levelFilter = &l
			}

			events, err := store.GetEvents(cmd.Context(), idFilter, levelFilter, limit, 0)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if jsonOutput {
				return writeJSON(w, events)
			}
			for _, e := range events {
				fmt.Fprintf(w, "%s  %-7s %-32s %s\n", e.Timestamp.Format("2006-01-02 15:04:05"), e.Level, e.Type, e.Message)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&buildID, "build", "", "only events of this build")
	cmd.Flags().StringVar(&level, "level", "", "only events at this level (info, warning, error)")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of events")
	return cmd
}

// requireLedger opens the ledger named by --ledger and fails when unset.
func requireLedger(cmd *cobra.Command) (stores.Store, func(), error) {
	if ledgerPath == "" {
		return nil, nil, fmt.Errorf("--ledger is required")
	}
	_, store, closeFn, err := openLedger(cmd.Context())
	if err != nil {
		return nil, nil, err
	}
	return store, closeFn, nil
}
