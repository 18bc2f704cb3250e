package database

import (
	"github.com/openfroyo/phasec/pkg/symbolic"
)

// Vacancy is the name of the vacancy pseudo-element.
const Vacancy = "VA"

// ParameterType is the kind of a phase parameter.
type ParameterType string

const (
	// ParameterG is an endmember Gibbs energy.
	ParameterG ParameterType = "G"

	// ParameterL is a Redlich-Kister interaction parameter.
	ParameterL ParameterType = "L"
)

// Element is a pure element.
type Element struct {
	Name string
	Mass float64
}

// Species is a named combination of elements.
type Species struct {
	Name         string
	Constituents map[string]float64
}

// Sublattice describes one site of a phase's crystal structure.
type Sublattice struct {
	Sites        float64
	Constituents []string
}

// Parameter is one energy contribution of a phase.
type Parameter struct {
	Type ParameterType

	// Constituents lists, per sublattice, the species the parameter applies to.
	Constituents [][]string

	// Order is the Redlich-Kister order for L parameters.
	Order int

	Expr   symbolic.Expr
	Source string
}

// Phase is a phase definition.
type Phase struct {
	Name        string
	Sublattices []Sublattice
	Parameters  []Parameter
}

// document is the on-disk representation shared by the YAML and TOML formats.
type document struct {
	Elements   []elementDoc      `yaml:"elements" toml:"elements" validate:"required,min=1,dive"`
	Species    []speciesDoc      `yaml:"species" toml:"species" validate:"dive"`
	Symbols    map[string]string `yaml:"symbols" toml:"symbols" validate:"dive,keys,required,endkeys,required"`
	Phases     []phaseDoc        `yaml:"phases" toml:"phases" validate:"required,min=1,dive"`
	References map[string]string `yaml:"references" toml:"references"`
}

type elementDoc struct {
	Name string  `yaml:"name" toml:"name" validate:"required"`
	Mass float64 `yaml:"mass" toml:"mass" validate:"gte=0"`
}

type speciesDoc struct {
	Name         string             `yaml:"name" toml:"name" validate:"required"`
	Constituents map[string]float64 `yaml:"constituents" toml:"constituents" validate:"required,min=1,dive,gt=0"`
}

type phaseDoc struct {
	Name        string          `yaml:"name" toml:"name" validate:"required"`
	Sublattices []sublatticeDoc `yaml:"sublattices" toml:"sublattices" validate:"required,min=1,dive"`
	Parameters  []parameterDoc  `yaml:"parameters" toml:"parameters" validate:"dive"`
}

type sublatticeDoc struct {
	Sites        float64  `yaml:"sites" toml:"sites" validate:"gt=0"`
	Constituents []string `yaml:"constituents" toml:"constituents" validate:"required,min=1,dive,required"`
}

type parameterDoc struct {
	Type         string     `yaml:"type" toml:"type" validate:"required,oneof=G L"`
	Constituents [][]string `yaml:"constituents" toml:"constituents" validate:"required,min=1,dive,min=1"`
	Order        int        `yaml:"order" toml:"order" validate:"gte=0"`
	Expr         string     `yaml:"expr" toml:"expr" validate:"required"`
	Source       string     `yaml:"source" toml:"source"`
}
