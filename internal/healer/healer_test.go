package healer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"gramforge/internal/compiler"
)

type fakeRepairer struct {
	patches map[string]string // diagnostic -> patch
	calls   []string
}

func (f *fakeRepairer) Repair(_ context.Context, source, diagnostic string, maxAttempts int) (string, bool) {
	f.calls = append(f.calls, diagnostic)
	p, ok := f.patches[diagnostic]
	return p, ok
}

func writeSource(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0644))
	return p
}

func TestRunHealingRound(t *testing.T) {
	dir := t.TempDir()
	fre := writeSource(t, dir, "SemanticsFre.gf", "broken fre")
	ger := writeSource(t, dir, "SemanticsGer.gf", "broken ger")

	rep := &fakeRepairer{patches: map[string]string{"fre error": "fixed fre"}}
	h := New(rep, zap.NewNop())

	healed := h.RunHealingRound(context.Background(), compiler.FailureReport{
		"Ger": {File: ger, Reason: "ger error"},
		"Fre": {File: fre, Reason: "fre error"},
	})

	assert.Equal(t, map[string]bool{"Fre": true}, healed)
	assert.Equal(t, []string{"fre error", "ger error"}, rep.calls, "entries visited in target order")

	data, err := os.ReadFile(fre)
	require.NoError(t, err)
	assert.Equal(t, "fixed fre\n", string(data))

	bak, err := os.ReadFile(fre + ".bak")
	require.NoError(t, err)
	assert.Equal(t, "broken fre", string(bak))

	data, err = os.ReadFile(ger)
	require.NoError(t, err)
	assert.Equal(t, "broken ger", string(data), "unpatched source untouched")
}

func TestRunHealingRoundMissingSource(t *testing.T) {
	rep := &fakeRepairer{patches: map[string]string{"e": "x"}}
	h := New(rep, zap.NewNop())

	healed := h.RunHealingRound(context.Background(), compiler.FailureReport{
		"Eng": {File: filepath.Join(t.TempDir(), "missing.gf"), Reason: "e"},
	})
	assert.Empty(t, healed)
	assert.Empty(t, rep.calls)
}

func TestRunHealingRoundWithoutBackup(t *testing.T) {
	dir := t.TempDir()
	eng := writeSource(t, dir, "SemanticsEng.gf", "old")
	h := New(&fakeRepairer{patches: map[string]string{"e": "new\n"}}, zap.NewNop(), WithoutBackup())

	healed := h.RunHealingRound(context.Background(), compiler.FailureReport{"Eng": {File: eng, Reason: "e"}})
	assert.True(t, healed["Eng"])
	_, err := os.Stat(eng + ".bak")
	assert.True(t, os.IsNotExist(err))
}

func TestRunHealingRoundCountsUnchangedPatch(t *testing.T) {
	// Any patch the repair client returns is written and counted; the
	// recompile decides whether it helped.
	dir := t.TempDir()
	eng := writeSource(t, dir, "SemanticsEng.gf", "same")
	h := New(&fakeRepairer{patches: map[string]string{"e": "same"}}, zap.NewNop())

	healed := h.RunHealingRound(context.Background(), compiler.FailureReport{"Eng": {File: eng, Reason: "e"}})
	assert.Equal(t, map[string]bool{"Eng": true}, healed)
	data, err := os.ReadFile(eng)
	require.NoError(t, err)
	assert.Equal(t, "same\n", string(data))
}

func TestRunHealingRoundCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rep := &fakeRepairer{}
	h := New(rep, zap.NewNop())

	healed := h.RunHealingRound(ctx, compiler.FailureReport{"Eng": {File: "x", Reason: "e"}})
	assert.Empty(t, healed)
	assert.Empty(t, rep.calls)
}
