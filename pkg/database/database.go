// Package database loads thermodynamic phase descriptions from YAML or TOML
// documents and answers the queries the callable compiler makes against
// them: which components exist, which of them are pure elements, and how
// each phase is constituted and parameterised.
//
// A Database is read only once loaded and may be shared between goroutines.
package database

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/phasec/pkg/symbolic"
)

// Format is a document encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// maxSymbolDepth bounds symbol expansion so that cyclic definitions fail fast.
const maxSymbolDepth = 64

// Database is a validated set of elements, species, symbols and phases.
type Database struct {
	elements map[string]Element
	species  map[string]Species
	symbols  map[string]symbolic.Expr
	phases   map[string]*Phase
	digest   string
}

// FormatFromPath infers the document format from a file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	}
	return "", fmt.Errorf("unsupported database format: %s", path)
}

// Load reads and validates the database at path.
func Load(path string) (*Database, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read database %s: %w", path, err)
	}
	db, err := Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("failed to load database %s: %w", path, err)
	}
	return db, nil
}

// Parse decodes and validates a database document.
func Parse(data []byte, format Format) (*Database, error) {
	var doc document
	switch format {
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode YAML: %w", err)
		}
	case FormatTOML:
		md, err := toml.Decode(string(data), &doc)
		if err != nil {
			return nil, fmt.Errorf("failed to decode TOML: %w", err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("unknown TOML keys: %v", undecoded)
		}
	default:
		return nil, fmt.Errorf("unsupported database format: %q", format)
	}

	if err := validator.New().Struct(doc); err != nil {
		return nil, fmt.Errorf("database validation failed: %w", err)
	}

	db, err := fromDocument(&doc)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(data)
	db.digest = hex.EncodeToString(sum[:])
	return db, nil
}

func fromDocument(doc *document) (*Database, error) {
	db := &Database{
		elements: make(map[string]Element, len(doc.Elements)),
		species:  make(map[string]Species, len(doc.Species)),
		symbols:  make(map[string]symbolic.Expr, len(doc.Symbols)),
		phases:   make(map[string]*Phase, len(doc.Phases)),
	}

	for _, e := range doc.Elements {
		name := strings.ToUpper(e.Name)
		if _, dup := db.elements[name]; dup {
			return nil, fmt.Errorf("duplicate element %s", name)
		}
		db.elements[name] = Element{Name: name, Mass: e.Mass}
	}

	for _, s := range doc.Species {
		name := strings.ToUpper(s.Name)
		if _, clash := db.elements[name]; clash {
			return nil, fmt.Errorf("species %s shadows an element", name)
		}
		constituents := make(map[string]float64, len(s.Constituents))
		for el, n := range s.Constituents {
			el = strings.ToUpper(el)
			if _, ok := db.elements[el]; !ok {
				return nil, fmt.Errorf("species %s references unknown element %s", name, el)
			}
			constituents[el] = n
		}
		db.species[name] = Species{Name: name, Constituents: constituents}
	}

	for name, src := range doc.Symbols {
		e, err := symbolic.Parse(src)
		if err != nil {
			return nil, fmt.Errorf("symbol %s: %w", name, err)
		}
		db.symbols[name] = e
	}
	for name := range db.symbols {
		if _, err := db.ExpandSymbols(symbolic.S(name), nil); err != nil {
			return nil, err
		}
	}

	for i := range doc.Phases {
		p, err := db.phaseFromDocument(&doc.Phases[i])
		if err != nil {
			return nil, err
		}
		if _, dup := db.phases[p.Name]; dup {
			return nil, fmt.Errorf("duplicate phase %s", p.Name)
		}
		db.phases[p.Name] = p
	}

	return db, nil
}

func (db *Database) phaseFromDocument(pd *phaseDoc) (*Phase, error) {
	p := &Phase{Name: strings.ToUpper(pd.Name)}
	for _, sd := range pd.Sublattices {
		sub := Sublattice{Sites: sd.Sites}
		for _, c := range sd.Constituents {
			c = strings.ToUpper(c)
			if !db.IsComponent(c) {
				return nil, fmt.Errorf("phase %s: unknown constituent %s", p.Name, c)
			}
			sub.Constituents = append(sub.Constituents, c)
		}
		sort.Strings(sub.Constituents)
		p.Sublattices = append(p.Sublattices, sub)
	}

	for i, pdoc := range pd.Parameters {
		if len(pdoc.Constituents) != len(p.Sublattices) {
			return nil, fmt.Errorf("phase %s parameter %d: %d constituent arrays for %d sublattices",
				p.Name, i, len(pdoc.Constituents), len(p.Sublattices))
		}
		param := Parameter{
			Type:   ParameterType(pdoc.Type),
			Order:  pdoc.Order,
			Source: pdoc.Source,
		}
		interacting := 0
		for s, arr := range pdoc.Constituents {
			upper := make([]string, len(arr))
			for j, c := range arr {
				upper[j] = strings.ToUpper(c)
				if !contains(p.Sublattices[s].Constituents, upper[j]) {
					return nil, fmt.Errorf("phase %s parameter %d: %s is not on sublattice %d",
						p.Name, i, upper[j], s)
				}
			}
			if len(upper) > 1 {
				interacting++
			}
			param.Constituents = append(param.Constituents, upper)
		}
		switch param.Type {
		case ParameterG:
			if interacting != 0 {
				return nil, fmt.Errorf("phase %s parameter %d: G parameters take one constituent per sublattice", p.Name, i)
			}
		case ParameterL:
			if interacting != 1 {
				return nil, fmt.Errorf("phase %s parameter %d: L parameters need exactly one interacting sublattice", p.Name, i)
			}
		}
		e, err := symbolic.Parse(pdoc.Expr)
		if err != nil {
			return nil, fmt.Errorf("phase %s parameter %d: %w", p.Name, i, err)
		}
		param.Expr = e
		p.Parameters = append(p.Parameters, param)
	}
	return p, nil
}

// Digest is the SHA-256 of the source document.
func (db *Database) Digest() string { return db.digest }

// Phase returns the named phase. Lookup is case-insensitive.
func (db *Database) Phase(name string) (*Phase, bool) {
	p, ok := db.phases[strings.ToUpper(name)]
	return p, ok
}

// PhaseNames returns all phase names in sorted order.
func (db *Database) PhaseNames() []string {
	out := make([]string, 0, len(db.phases))
	for name := range db.phases {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Element returns the named element.
func (db *Database) Element(name string) (Element, bool) {
	e, ok := db.elements[strings.ToUpper(name)]
	return e, ok
}

// Elements returns all elements, vacancy included, sorted by name.
func (db *Database) Elements() []Element {
	out := make([]Element, 0, len(db.elements))
	for _, e := range db.elements {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// IsComponent reports whether name is an element or species.
func (db *Database) IsComponent(name string) bool {
	name = strings.ToUpper(name)
	if _, ok := db.elements[name]; ok {
		return true
	}
	_, ok := db.species[name]
	return ok
}

// Stoichiometry returns the element amounts of a component. Elements map to
// themselves with amount one.
func (db *Database) Stoichiometry(component string) map[string]float64 {
	component = strings.ToUpper(component)
	if s, ok := db.species[component]; ok {
		out := make(map[string]float64, len(s.Constituents))
		for k, v := range s.Constituents {
			out[k] = v
		}
		return out
	}
	if _, ok := db.elements[component]; ok {
		return map[string]float64{component: 1}
	}
	return nil
}

// UnpackComponents upper-cases, deduplicates and sorts the requested
// components, dropping names the database does not define.
func (db *Database) UnpackComponents(comps []string) []string {
	seen := make(map[string]struct{}, len(comps))
	out := make([]string, 0, len(comps))
	for _, c := range comps {
		c = strings.ToUpper(c)
		if _, dup := seen[c]; dup || !db.IsComponent(c) {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// PureElements returns the sorted elements making up comps, excluding vacancies.
func (db *Database) PureElements(comps []string) []string {
	seen := map[string]struct{}{}
	for _, c := range comps {
		for el := range db.Stoichiometry(c) {
			if el != Vacancy {
				seen[el] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(seen))
	for el := range seen {
		out = append(out, el)
	}
	sort.Strings(out)
	return out
}

// Symbol returns the definition of a database symbol.
func (db *Database) Symbol(name string) (symbolic.Expr, bool) {
	e, ok := db.symbols[name]
	return e, ok
}

// ExpandSymbols replaces database symbols in e with their definitions,
// recursively, leaving the names in keep untouched.
func (db *Database) ExpandSymbols(e symbolic.Expr, keep map[string]struct{}) (symbolic.Expr, error) {
	return db.expand(e, keep, 0)
}

func (db *Database) expand(e symbolic.Expr, keep map[string]struct{}, depth int) (symbolic.Expr, error) {
	if depth > maxSymbolDepth {
		return nil, fmt.Errorf("symbol expansion exceeded depth %d; check for cyclic symbol definitions", maxSymbolDepth)
	}
	repl := map[string]symbolic.Expr{}
	for name := range symbolic.FreeSymbols(e) {
		if _, skip := keep[name]; skip {
			continue
		}
		def, ok := db.symbols[name]
		if !ok {
			continue
		}
		expanded, err := db.expand(def, keep, depth+1)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		repl[name] = expanded
	}
	return symbolic.Xreplace(e, repl), nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
