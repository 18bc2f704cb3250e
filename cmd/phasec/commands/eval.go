package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/openfroyo/phasec/pkg/database"
)

type evalResult struct {
	Phase         string             `json:"phase"`
	Output        string             `json:"output"`
	Value         float64            `json:"value"`
	Gradient      map[string]float64 `json:"gradient,omitempty"`
	MoleFractions map[string]float64 `json:"mole_fractions"`
}

func newEvalCommand() *cobra.Command {
	var (
		flags buildFlags
		at    []string
	)

	cmd := &cobra.Command{
		Use:   "eval PHASE",
		Short: "Evaluate a compiled phase at a point",
		Long: `Compile PHASE and evaluate its output property, gradient and mole
fractions at the point given by --at. The point must bind every state
variable and site fraction of the phase, named as in the phase record,
e.g. T, P, Y_LIQUID_0_AL.`,
		Example: `  phasec eval LIQUID --db alni.yaml -c AL,NI,VA \
    --at T=1000,P=101325,Y_LIQUID_0_AL=0.3,Y_LIQUID_0_NI=0.7`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			phase := args[0]
			if !cmd.Flags().Changed("phases") {
				if err := cmd.Flags().Set("phases", phase); err != nil {
					return err
				}
			}

			dbPath, opts, err := flags.resolve(cmd)
			if err != nil {
				return err
			}
			point, err := parseAssignments(at)
			if err != nil {
				return err
			}
			upperPoint := make(map[string]float64, len(point))
			for k, v := range point {
				upperPoint[strings.ToUpper(k)] = v
			}

			db, err := database.Load(dbPath)
			if err != nil {
				return err
			}
			res, err := runBuild(cmd.Context(), nil, dbPath, db, opts)
			if err != nil {
				return err
			}

			rec, ok := res.LookupRecord(phase).Get()
			if !ok {
				return fmt.Errorf("phase %s was not compiled", phase)
			}

			out := evalResult{Phase: rec.Name, Output: res.Output}
			if out.Value, err = rec.EvalEnergy(upperPoint); err != nil {
				return err
			}
			if res.BuildGradients {
				grad, err := rec.EvalEnergyGradient(upperPoint)
				if err != nil {
					return err
				}
				out.Gradient = make(map[string]float64, len(grad))
				for i, v := range rec.Energy.Variables() {
					out.Gradient[v] = grad[i]
				}
			}
			if out.MoleFractions, err = rec.EvalMoleFractions(upperPoint); err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if jsonOutput {
				return writeJSON(w, out)
			}
			fmt.Fprintf(w, "%s %s = %.6f\n", out.Phase, out.Output, out.Value)
			for _, k := range sortedKeys(out.Gradient) {
				fmt.Fprintf(w, "  d/d%-16s %.6f\n", k, out.Gradient[k])
			}
			for _, el := range sortedKeys(out.MoleFractions) {
				fmt.Fprintf(w, "  X(%s) = %.6f\n", el, out.MoleFractions[el])
			}
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().StringSliceVar(&at, "at", nil, "point as VAR=VALUE pairs")
	_ = cmd.MarkFlagRequired("at")
	return cmd
}
