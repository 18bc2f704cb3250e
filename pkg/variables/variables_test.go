package variables

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseRoundTrip(t *testing.T) {
	tests := []Variable{
		T, P, N,
		Y("FCC_A1", 0, "AL"),
		Y("liquid", 3, "ni"),
		X("al"),
		W("NI"),
		MU("CR"),
	}

	for _, want := range tests {
		t.Run(want.String(), func(t *testing.T) {
			got, ok := Parse(want.String())
			if !ok {
				t.Fatalf("Parse(%q) not recognised", want.String())
			}
			if got != want {
				t.Errorf("Parse(%q) = %+v, want %+v", want.String(), got, want)
			}
		})
	}
}

func TestParseRejectsParameters(t *testing.T) {
	for _, name := range []string{"VV0001", "GHSERAL", "Y_", "Y_FCC", "Y_FCC_x_AL", "X_", "TT"} {
		if IsDefined(name) {
			t.Errorf("IsDefined(%q) = true, want false", name)
		}
	}
}

func TestSiteFractionKeyUppercases(t *testing.T) {
	if got := Y("bcc_b2", 1, "va").String(); got != "Y_BCC_B2_1_VA" {
		t.Errorf("got %q", got)
	}
}

func TestStateVariableClassification(t *testing.T) {
	if !T.IsStateVariable() || !P.IsStateVariable() || !N.IsStateVariable() {
		t.Error("T, P and N must be state-variable-like")
	}
	if X("AL").IsStateVariable() || MU("AL").IsStateVariable() || Y("A", 0, "B").IsStateVariable() {
		t.Error("composition, potential and site fraction variables are not state variables")
	}
	if !MU("AL").IsChemicalPotential() {
		t.Error("MU_AL must be a chemical potential")
	}
}

func TestSetSortedIsDeterministic(t *testing.T) {
	s := NewSet(T, P, N, X("AL"))
	s.Add(P)

	want := []string{"N", "P", "T", "X_AL"}
	for i := 0; i < 5; i++ {
		if diff := cmp.Diff(want, Strings(s.Sorted())); diff != "" {
			t.Fatalf("sorted set mismatch (-want +got):\n%s", diff)
		}
	}
}

func TestConcatDoesNotAlias(t *testing.T) {
	a := make([]Variable, 1, 4)
	a[0] = T
	out := Concat(a, []Variable{P})
	out[0] = N
	if a[0] != T {
		t.Error("Concat must copy its inputs")
	}
}
