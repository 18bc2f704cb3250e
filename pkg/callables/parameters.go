package callables

import (
	"sort"
	"strings"

	"github.com/openfroyo/phasec/pkg/database"
	"github.com/openfroyo/phasec/pkg/variables"
)

// ParameterBinding is the ordered set of overridden parameter symbols and
// their values. Values[i] belongs to Symbols[i].
type ParameterBinding struct {
	Symbols []string
	Values  []float64
}

// Len returns the number of bound parameters.
func (b ParameterBinding) Len() int { return len(b.Symbols) }

// Has reports whether symbol is bound.
func (b ParameterBinding) Has(symbol string) bool {
	i := sort.SearchStrings(b.Symbols, symbol)
	return i < len(b.Symbols) && b.Symbols[i] == symbol
}

// NormalizeParameters orders overrides by symbol. An empty map yields empty,
// non-nil slices.
func NormalizeParameters(params map[string]float64) ParameterBinding {
	b := ParameterBinding{
		Symbols: make([]string, 0, len(params)),
		Values:  make([]float64, 0, len(params)),
	}
	for sym := range params {
		b.Symbols = append(b.Symbols, sym)
	}
	sort.Strings(b.Symbols)
	for _, sym := range b.Symbols {
		b.Values = append(b.Values, params[sym])
	}
	return b
}

// NormalizeComponents returns the working component set and the pure
// elements it contains. Names not known to db are dropped.
func NormalizeComponents(db *database.Database, comps []string) (components, pureElements []string) {
	components = db.UnpackComponents(comps)
	pureElements = db.PureElements(components)
	return components, pureElements
}

// ActiveConditions drops mole and mass fraction conditions on elements
// outside pureElements. Other conditions pass through unchanged.
func ActiveConditions(conds map[variables.Variable]float64, pureElements []string) map[variables.Variable]float64 {
	if len(conds) == 0 {
		return conds
	}
	active := make(map[string]struct{}, len(pureElements))
	for _, el := range pureElements {
		active[strings.ToUpper(el)] = struct{}{}
	}
	out := make(map[variables.Variable]float64, len(conds))
	for k, v := range conds {
		if k.Kind == variables.KindMoleFraction || k.Kind == variables.KindMassFraction {
			if _, ok := active[strings.ToUpper(k.Species)]; !ok {
				continue
			}
		}
		out[k] = v
	}
	return out
}
