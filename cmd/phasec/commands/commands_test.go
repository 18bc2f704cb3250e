package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

var fixtureDB = filepath.Join("..", "..", "..", "pkg", "database", "testdata", "alni.yaml")

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand("test", "none", "today")
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCompile_JSON(t *testing.T) {
	out, err := run(t, "compile", "--json",
		"--db", fixtureDB,
		"-c", "AL,NI,VA",
		"--phases", "LIQUID,BCC_A2",
		"--cond", "T=1000,P=101325,N=1,X_AL=0.3",
	)
	require.NoError(t, err)

	var s buildSummary
	require.NoError(t, json.Unmarshal([]byte(out), &s))
	require.Equal(t, "GM", s.Output)
	require.True(t, s.Gradients)
	require.Equal(t, []string{"AL", "NI"}, s.PureElements)
	require.Len(t, s.Phases, 2)
	require.Equal(t, "BCC_A2", s.Phases[0].Phase)
	for _, p := range s.Phases {
		require.Equal(t, 1, p.NumMultiphaseCons, p.Phase)
		require.Positive(t, p.NumInternalCons, p.Phase)
	}
}

func TestCompile_MissingInputs(t *testing.T) {
	_, err := run(t, "compile", "-c", "AL")
	require.ErrorContains(t, err, "database is required")

	_, err = run(t, "compile", "--db", fixtureDB)
	require.ErrorContains(t, err, "components and phases are required")

	_, err = run(t, "compile", "--db", fixtureDB, "-c", "AL", "--phases", "LIQUID", "--cond", "TEMP=3")
	require.ErrorContains(t, err, "unknown condition variable")
}

func TestCompile_ProfileWithOverrides(t *testing.T) {
	dir := t.TempDir()
	db, err := filepath.Abs(fixtureDB)
	require.NoError(t, err)
	profile := filepath.Join(dir, "profile.cue")
	require.NoError(t, os.WriteFile(profile, []byte(`
profile: {
	database: "`+filepath.ToSlash(db)+`"
	components: ["AL", "NI", "VA"]
	phases: ["LIQUID", "BCC_A2"]
	gradients: false
}
`), 0o644))

	out, err := run(t, "compile", "--json", "--profile", profile, "--phases", "LIQUID")
	require.NoError(t, err)

	var s buildSummary
	require.NoError(t, json.Unmarshal([]byte(out), &s))
	require.False(t, s.Gradients)
	require.Len(t, s.Phases, 1)
	require.Equal(t, "LIQUID", s.Phases[0].Phase)
}

func TestEval(t *testing.T) {
	out, err := run(t, "eval", "liquid", "--json",
		"--db", fixtureDB,
		"-c", "AL,NI",
		"--at", "T=1000,P=101325,Y_LIQUID_0_AL=0.3,Y_LIQUID_0_NI=0.7",
	)
	require.NoError(t, err)

	var res evalResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.Equal(t, "LIQUID", res.Phase)
	require.False(t, math.IsNaN(res.Value))
	require.InDelta(t, 0.3, res.MoleFractions["AL"], 1e-12)
	require.InDelta(t, 0.7, res.MoleFractions["NI"], 1e-12)
	require.Contains(t, res.Gradient, "T")
}

func TestEval_MissingPointValue(t *testing.T) {
	_, err := run(t, "eval", "LIQUID", "--db", fixtureDB, "-c", "AL,NI", "--at", "T=1000")
	require.ErrorContains(t, err, "missing values")
}

func TestValidate(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("elements: [oops"), 0o644))

	out, err := run(t, "validate", fixtureDB)
	require.NoError(t, err)
	require.Contains(t, out, "database ok")
	require.Contains(t, out, "LIQUID")

	out, err = run(t, "validate", fixtureDB, bad)
	require.ErrorContains(t, err, "1 of 2 inputs failed")
	require.Contains(t, out, "database invalid")

	profile := filepath.Join("..", "..", "..", "pkg", "config", "testdata", "alni.cue")
	out, err = run(t, "validate", profile)
	require.NoError(t, err)
	require.Contains(t, out, "profiles: default, enthalpy, hot")
}

func TestHistory(t *testing.T) {
	ledger := filepath.Join(t.TempDir(), "ledger", "builds.db")

	_, err := run(t, "compile", "--ledger", ledger,
		"--db", fixtureDB, "-c", "AL,NI,VA", "--phases", "LIQUID")
	require.NoError(t, err)
	_, err = run(t, "compile", "--ledger", ledger,
		"--db", fixtureDB, "-c", "AL,NI,VA", "--phases", "FCC_A1")
	require.Error(t, err)

	out, err := run(t, "history", "--json", "--ledger", ledger)
	require.NoError(t, err)
	var builds []struct {
		ID        string  `json:"id"`
		Status    string  `json:"status"`
		ErrorCode *string `json:"error_code"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &builds))
	require.Len(t, builds, 2)

	var completed string
	statuses := map[string]bool{}
	for _, b := range builds {
		statuses[b.Status] = true
		if b.Status == "completed" {
			completed = b.ID
		} else {
			require.NotNil(t, b.ErrorCode)
			require.Equal(t, "UNKNOWN_PHASE", *b.ErrorCode)
		}
	}
	require.True(t, statuses["completed"] && statuses["failed"])

	out, err = run(t, "history", "show", completed, "--ledger", ledger)
	require.NoError(t, err)
	require.True(t, strings.Contains(out, "LIQUID"), out)

	_, err = run(t, "history")
	require.ErrorContains(t, err, "--ledger is required")
}
