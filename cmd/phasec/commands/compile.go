package commands

import (
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/phasec/pkg/database"
)

func newCompileCommand() *cobra.Command {
	var flags buildFlags

	cmd := &cobra.Command{
		Use:   "compile",
		Short: "Compile phase callables and report the phase records",
		Long: `Compile the energy, mass and constraint callables of the selected phases.

Options come from a build profile, from flags, or both; flags override the
profile. With --ledger the build and its phase records are stored.`,
		Example: `  # Compile two phases with gradients
  phasec compile --db alni.yaml -c AL,NI,VA --phases LIQUID,BCC_A2

  # Compile with conditions, which also builds constraints
  phasec compile --db alni.yaml -c AL,NI,VA --phases LIQUID --cond T=1000,P=101325,N=1,X_AL=0.3

  # Compile a named profile and record it
  phasec compile --profile profiles.cue --profile-name hot --ledger .phasec/ledger.db`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			dbPath, opts, err := flags.resolve(cmd)
			if err != nil {
				return err
			}
			opts.Verbose = verbose

			db, err := database.Load(dbPath)
			if err != nil {
				return err
			}

			ledger, _, closeLedger, err := openLedger(ctx)
			if err != nil {
				return err
			}
			defer closeLedger()

			log.Info().
				Str("database", dbPath).
				Strs("phases", opts.Phases).
				Msg("Compiling callables")

			start := time.Now()
			res, err := runBuild(ctx, ledger, dbPath, db, opts)
			if err != nil {
				return err
			}
			return printSummary(cmd.OutOrStdout(), summarize(res, time.Since(start)))
		},
	}

	flags.register(cmd)
	return cmd
}
