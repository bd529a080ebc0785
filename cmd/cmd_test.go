package cmd

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redhat-appstudio/tssc-test/internal/errkind"
	"github.com/redhat-appstudio/tssc-test/internal/testplan"
)

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitCodeConfigError, getExitCode(errkind.New(errkind.InvalidConfig, "missing env var X")))
	assert.Equal(t, ExitCodeError, getExitCode(errkind.New(errkind.PipelineFailed, "boom")))
	assert.Equal(t, ExitCodeError, getExitCode(errors.New("plain")))
}

func TestVersionCommandOutput(t *testing.T) {
	SetVersion("1.2.3")
	cmd := newVersionCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.Run(cmd, nil)
	assert.Equal(t, "tssc-test version 1.2.3\n", out.String())
}

func TestGenerateCommandWritesConfigs(t *testing.T) {
	dir := t.TempDir()
	planPath := filepath.Join(dir, "testplan.json")
	plan := `{
		"templates": ["go", "python"],
		"tssc": [{"git": "github", "ci": "tekton", "registry": "quay"}]
	}`
	require.NoError(t, os.WriteFile(planPath, []byte(plan), 0o644))
	outDir := filepath.Join(dir, "out")

	cmd := newGenerateCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	require.NoError(t, cmd.Flags().Set("plan", planPath))
	require.NoError(t, cmd.Flags().Set("output", outDir))
	require.NoError(t, cmd.RunE(cmd, nil))

	configs, err := testplan.LoadConfigs(outDir)
	require.NoError(t, err)
	assert.Len(t, configs, 2)
	assert.Contains(t, out.String(), "Generated 2 project config(s)")
}

func TestGenerateCommandRejectsInvalidPlan(t *testing.T) {
	dir := t.TempDir()
	planPath := filepath.Join(dir, "testplan.json")
	require.NoError(t, os.WriteFile(planPath, []byte(`{"templates": []}`), 0o644))

	cmd := newGenerateCmd()
	require.NoError(t, cmd.Flags().Set("plan", planPath))
	err := cmd.RunE(cmd, nil)
	require.Error(t, err)
	assert.Equal(t, errkind.InvalidConfig, errkind.KindOf(err))
}
