package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	scenarioDir = "../harness/testdata/scenarios"
	goldenDir   = "../harness/testdata/golden"
)

func TestScenario_AllPass(t *testing.T) {
	out, err := execute(t, "scenario", scenarioDir, "--golden", goldenDir)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ stale_read_during_pending_edit")
	assert.Contains(t, out, "✓ tombstone_suppression")
	assert.Contains(t, out, "5 passed, 0 failed, 5 total")
}

func TestScenario_JSON(t *testing.T) {
	out, err := execute(t, "scenario", scenarioDir, "--format", "json", "--filter", "0[12]_*")
	require.NoError(t, err)

	var resp struct {
		Status string         `json:"status"`
		Data   ScenarioReport `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 2, resp.Data.Total)
	assert.Equal(t, 2, resp.Data.Passed)
	assert.Equal(t, "stale_read_during_pending_edit", resp.Data.Scenarios[0].Name)
	assert.Equal(t, "ack_then_newer_value", resp.Data.Scenarios[1].Name)
}

func TestScenario_UpdateWritesGoldenFiles(t *testing.T) {
	dir := t.TempDir()

	_, err := execute(t, "scenario", scenarioDir, "--golden", dir, "--update")
	require.NoError(t, err)

	for _, name := range []string{"creation_lock", "expiry_releases_protection"} {
		got, err := os.ReadFile(filepath.Join(dir, name+".golden"))
		require.NoError(t, err)
		want, err := os.ReadFile(filepath.Join(goldenDir, name+".golden"))
		require.NoError(t, err)
		assert.Equal(t, string(want), string(got))
	}
}

func TestScenario_Failures(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wrong.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: wrong
description: "expects an entity the server does not have"
steps:
  - { at: 0s, op: refresh, expect: { ids: [T9] } }
`), 0o644))

	out, err := execute(t, "scenario", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ wrong")
	assert.Contains(t, out, "view ids: expected [T9], got []")
}

func TestScenario_MissingGolden(t *testing.T) {
	out, err := execute(t, "scenario", scenarioDir, "--filter", "03_*", "--golden", t.TempDir())
	require.Error(t, err)
	assert.Contains(t, out, "read golden")
}

func TestScenario_CommandErrors(t *testing.T) {
	_, err := execute(t, "scenario", filepath.Join(t.TempDir(), "missing"))
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, err = execute(t, "scenario", scenarioDir, "--update")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestScenario_Trace(t *testing.T) {
	out, err := execute(t, "scenario", scenarioDir, "--filter", "04_*", "--trace")
	require.NoError(t, err)
	assert.Contains(t, out, "    scenario: creation_lock")
}
