package commands

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/phasec/pkg/config"
	"github.com/openfroyo/phasec/pkg/database"
)

type validateReport struct {
	Path     string                   `json:"path"`
	Kind     string                   `json:"kind"`
	Valid    bool                     `json:"valid"`
	Digest   string                   `json:"digest,omitempty"`
	Phases   []string                 `json:"phases,omitempty"`
	Profiles []string                 `json:"profiles,omitempty"`
	Errors   []config.ValidationError `json:"errors,omitempty"`
}

func newValidateCommand() *cobra.Command {
	var set []string

	cmd := &cobra.Command{
		Use:   "validate PATH...",
		Short: "Validate databases and build profiles",
		Long: `Validate thermodynamic databases (.yaml, .yml, .toml) and build profiles
(.cue, .star, or CUE package directories).

Databases are decoded strictly, rejecting unknown fields. Profiles
are checked against the profile schema, and each profile's condition
variables and database path are resolved.`,
		Example: `  phasec validate alni.yaml
  phasec validate profiles.cue sweep.star --set temps="900;1200"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input, err := parseInput(set)
			if err != nil {
				return err
			}

			loader := config.NewLoader(0)
			var reports []validateReport
			failed := 0
			for _, path := range args {
				var r validateReport
				if _, ferr := database.FormatFromPath(path); ferr == nil {
					r = validateDatabase(path)
				} else {
					r = validateProfile(cmd, loader, path, input)
				}
				if !r.Valid {
					failed++
				}
				reports = append(reports, r)
			}

			w := cmd.OutOrStdout()
			if jsonOutput {
				if err := writeJSON(w, reports); err != nil {
					return err
				}
			} else {
				for _, r := range reports {
					status := "ok"
					if !r.Valid {
						status = "invalid"
					}
					fmt.Fprintf(w, "%s: %s %s\n", r.Path, r.Kind, status)
					if len(r.Phases) > 0 {
						fmt.Fprintf(w, "  phases: %s\n", strings.Join(r.Phases, ", "))
					}
					if len(r.Profiles) > 0 {
						fmt.Fprintf(w, "  profiles: %s\n", strings.Join(r.Profiles, ", "))
					}
					for _, e := range r.Errors {
						fmt.Fprintf(w, "  error: %s\n", e.Error())
					}
				}
			}

			if failed > 0 {
				return fmt.Errorf("%d of %d inputs failed validation", failed, len(args))
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&set, "set", nil, "Starlark profile input as KEY=VALUE")
	return cmd
}

func validateDatabase(path string) validateReport {
	r := validateReport{Path: path, Kind: "database"}
	db, err := database.Load(path)
	if err != nil {
		r.Errors = []config.ValidationError{{File: path, Message: err.Error(), Severity: "error"}}
		return r
	}
	r.Valid = true
	r.Digest = db.Digest()
	r.Phases = db.PhaseNames()
	return r
}

func validateProfile(cmd *cobra.Command, loader *config.Loader, path string, input map[string]interface{}) validateReport {
	r := validateReport{Path: path, Kind: "profile"}
	parsed, err := loader.Load(cmd.Context(), path, input)
	if err != nil {
		r.Errors = []config.ValidationError{{File: path, Message: err.Error(), Severity: "error"}}
		return r
	}
	r.Errors = parsed.Errors
	r.Profiles = parsed.Names()

	for _, name := range r.Profiles {
		p := parsed.Profiles[name]
		if _, err := p.Options(); err != nil {
			r.Errors = append(r.Errors, config.ValidationError{Path: name, Message: err.Error(), Severity: "error"})
			continue
		}
		if _, err := database.Load(p.Database); err != nil {
			r.Errors = append(r.Errors, config.ValidationError{
				Path:     name + ".database",
				Message:  err.Error(),
				Severity: "error",
			})
			continue
		}
		log.Debug().Str("profile", name).Str("database", filepath.Clean(p.Database)).Msg("Profile valid")
	}

	r.Valid = len(r.Errors) == 0
	return r
}
