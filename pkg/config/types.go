package config

import (
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/openfroyo/phasec/pkg/callables"
	"github.com/openfroyo/phasec/pkg/variables"
)

// DefaultProfileName is the name given to a file's single `profile` field.
const DefaultProfileName = "default"

// Profile is a named set of build options loaded from CUE or Starlark.
type Profile struct {
	// Name is the profile's key in the source file.
	Name string `json:"-"`

	// Database is the path of the thermodynamic database. Relative paths
	// are resolved against the directory of the profile file.
	Database string `json:"database" validate:"required"`

	// Components are the requested components, including VA if needed.
	Components []string `json:"components" validate:"required,min=1,dive,required"`

	// Phases are the phases to compile.
	Phases []string `json:"phases" validate:"required,min=1,dive,required"`

	// Conditions map a variable name such as "T" or "X_AL" to its value.
	Conditions map[string]float64 `json:"conditions,omitempty"`

	// Parameters override database symbols by name.
	Parameters map[string]float64 `json:"parameters,omitempty"`

	// Output is the model property to compile.
	Output string `json:"output" validate:"required,oneof=GM G HM SM CPM"`

	// Gradients selects gradient compilation.
	Gradients bool `json:"gradients"`

	// Parallelism bounds concurrent phase compilation.
	Parallelism int `json:"parallelism" validate:"min=1"`
}

// Options converts the profile into build options. Condition keys must name
// known variables.
func (p *Profile) Options() (callables.Options, error) {
	conds := make(map[variables.Variable]float64, len(p.Conditions))
	keys := make([]string, 0, len(p.Conditions))
	for k := range p.Conditions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v, ok := variables.Parse(k)
		if !ok {
			return callables.Options{}, fmt.Errorf("profile %s: unknown condition variable %q", p.Name, k)
		}
		conds[v] = p.Conditions[k]
	}

	return callables.Options{
		Components:  append([]string(nil), p.Components...),
		Phases:      append([]string(nil), p.Phases...),
		Conditions:  conds,
		Parameters:  p.Parameters,
		Output:      p.Output,
		NoGradients: !p.Gradients,
		Parallelism: p.Parallelism,
	}, nil
}

// resolveDatabase makes a relative database path relative to dir.
func (p *Profile) resolveDatabase(dir string) {
	if p.Database == "" || filepath.IsAbs(p.Database) || dir == "" {
		return
	}
	p.Database = filepath.Join(dir, p.Database)
}

// ValidationError represents a profile validation error.
type ValidationError struct {
	// File is the file where the error occurred.
	File string `json:"file"`

	// Line is the line number.
	Line int `json:"line"`

	// Column is the column number.
	Column int `json:"column"`

	// Path is the value path (e.g., "profiles.hot.phases[0]").
	Path string `json:"path,omitempty"`

	// Message is the error message.
	Message string `json:"message"`

	// Severity is the error severity (error, warning, info).
	Severity string `json:"severity"`
}

// Error implements the error interface.
func (ve ValidationError) Error() string {
	if ve.File != "" && ve.Line > 0 {
		return fmt.Sprintf("%s:%d:%d: %s", ve.File, ve.Line, ve.Column, ve.Message)
	}
	if ve.Path != "" {
		return fmt.Sprintf("%s: %s", ve.Path, ve.Message)
	}
	return ve.Message
}

// ParsedProfiles is the result of parsing one or more profile sources.
type ParsedProfiles struct {
	// Profiles are keyed by name.
	Profiles map[string]*Profile `json:"profiles"`

	// SourceFiles lists all source files that were parsed.
	SourceFiles []string `json:"source_files"`

	// ParsedAt is when parsing finished.
	ParsedAt time.Time `json:"parsed_at"`

	// Errors contains any validation errors.
	Errors []ValidationError `json:"errors,omitempty"`
}

// Names returns the profile names in sorted order.
func (pp *ParsedProfiles) Names() []string {
	names := make([]string, 0, len(pp.Profiles))
	for name := range pp.Profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Get returns the named profile. An empty name selects the only profile, or
// the default one when several exist.
func (pp *ParsedProfiles) Get(name string) (*Profile, error) {
	if len(pp.Errors) > 0 {
		return nil, fmt.Errorf("profile has %d validation errors: %v", len(pp.Errors), pp.Errors[0])
	}
	if name == "" {
		if len(pp.Profiles) == 1 {
			for _, p := range pp.Profiles {
				return p, nil
			}
		}
		name = DefaultProfileName
	}
	p, ok := pp.Profiles[name]
	if !ok {
		return nil, fmt.Errorf("profile %q not found (have %v)", name, pp.Names())
	}
	return p, nil
}
