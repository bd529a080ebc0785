package component

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redhat-appstudio/tssc-test/internal/config"
	"github.com/redhat-appstudio/tssc-test/internal/errkind"
	"github.com/redhat-appstudio/tssc-test/internal/testplan"
	"github.com/redhat-appstudio/tssc-test/internal/tssc"
)

// fakeHub fails registration failTimes times before succeeding.
type fakeHub struct {
	failTimes int
	failWith  error
	calls     int
	names     []string
}

func (f *fakeHub) CreateComponentTask(_ context.Context, _ string, values map[string]interface{}) (string, error) {
	f.calls++
	f.names = append(f.names, values["name"].(string))
	if f.calls <= f.failTimes {
		return "", f.failWith
	}
	return "task-1", nil
}

func (f *fakeHub) WaitForTask(context.Context, string, time.Duration) error { return nil }

func projectDir(t *testing.T, project testplan.ProjectConfig) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, testplan.WriteConfigs(dir, []testplan.ProjectConfig{project}, &testplan.Summary{Total: 1}))
	return dir
}

func githubTektonProject() testplan.ProjectConfig {
	item := testplan.TestItem{
		Name:         "go-abcdefgh",
		Template:     tssc.TemplateGo,
		GitType:      tssc.GitGitHub,
		CIType:       tssc.CITekton,
		RegistryType: tssc.RegistryQuay,
	}
	return testplan.ProjectConfig{Name: item.Name, TestItem: item}
}

func TestIsRetryableCreate(t *testing.T) {
	retryable := []error{
		errors.New("connection reset by peer"),
		errkind.New(errkind.TransientProvider, "scaffolder returned 502"),
		errors.New("timeout waiting for task"),
	}
	for _, err := range retryable {
		assert.True(t, isRetryableCreate(err), "%v", err)
	}

	permanent := []error{
		errors.New("401 unauthorized"),
		errors.New("authentication failed for user"),
		errors.New("template not found: go"),
		errors.New("Permission Denied"),
		errkind.New(errkind.InvalidConfig, "missing env var GITHUB_TOKEN"),
		errkind.New(errkind.Forbidden, "nope"),
	}
	for _, err := range permanent {
		assert.False(t, isRetryableCreate(err), "%v", err)
	}
	assert.False(t, isRetryableCreate(nil))
}

func TestCreateNonRetryableFailsImmediately(t *testing.T) {
	project := githubTektonProject()
	hub := &fakeHub{failTimes: 10, failWith: errors.New("invalid template go")}
	m := NewManager(hub, nil, nil, projectDir(t, project), WithRetryDelay(time.Millisecond))

	_, err := m.Create(context.Background(), &project)
	require.Error(t, err)
	assert.Equal(t, 1, hub.calls)
	assert.Contains(t, err.Error(), "go-abcdefgh")
}

func TestCreateRetriesWithFreshName(t *testing.T) {
	project := githubTektonProject()
	dir := projectDir(t, project)
	hub := &fakeHub{failTimes: 2, failWith: errors.New("etcd leader changed")}

	t.Setenv(config.EnvGitHubOrg, "tssc-org")
	t.Setenv(config.EnvGitHubToken, "token")
	t.Setenv(config.EnvImageRegistryOrg, "tssc")

	m := NewManager(hub, nil, nil, dir, WithMaxRetries(3), WithRetryDelay(time.Millisecond))

	// Tekton needs cluster access; expect the failure at provider
	// attachment, after registration already succeeded on the third try.
	_, err := m.Create(context.Background(), &project)
	require.Error(t, err)
	assert.Equal(t, errkind.InvalidConfig, errkind.KindOf(err))

	assert.Equal(t, 3, hub.calls)
	require.Len(t, hub.names, 3)
	assert.Equal(t, "go-abcdefgh", hub.names[0])
	assert.NotEqual(t, hub.names[0], hub.names[1])
	assert.NotEqual(t, hub.names[1], hub.names[2])

	// The rename was persisted for other readers.
	configs, loadErr := testplan.LoadConfigs(dir)
	require.NoError(t, loadErr)
	require.Len(t, configs, 1)
	assert.Equal(t, hub.names[2], configs[0].Name)
}

func TestCreateKeepsNameForUITest(t *testing.T) {
	project := githubTektonProject()
	dir := projectDir(t, project)
	hub := &fakeHub{failTimes: 2, failWith: errors.New("etcd leader changed")}

	t.Setenv(config.EnvUITest, "true")
	t.Setenv(config.EnvGitHubOrg, "tssc-org")
	t.Setenv(config.EnvGitHubToken, "token")
	t.Setenv(config.EnvImageRegistryOrg, "tssc")

	m := NewManager(hub, nil, nil, dir, WithMaxRetries(3), WithRetryDelay(time.Millisecond))

	// Registration succeeds on the third try; provider attachment then
	// fails without cluster access, which is fine here.
	_, err := m.Create(context.Background(), &project)
	require.Error(t, err)

	// Every attempt reused the original name and nothing was renamed.
	assert.Equal(t, []string{"go-abcdefgh", "go-abcdefgh", "go-abcdefgh"}, hub.names)
	configs, loadErr := testplan.LoadConfigs(dir)
	require.NoError(t, loadErr)
	assert.Equal(t, "go-abcdefgh", configs[0].Name)
}

func TestCreateReuseSkipsScaffolding(t *testing.T) {
	project := githubTektonProject()
	project.Reuse = true
	hub := &fakeHub{}
	m := NewManager(hub, nil, nil, projectDir(t, project))

	// Tekton needs cluster access, so attachment fails; the scaffolder
	// must not have been called at all.
	_, err := m.Create(context.Background(), &project)
	require.Error(t, err)
	assert.Equal(t, errkind.InvalidConfig, errkind.KindOf(err))
	assert.Zero(t, hub.calls)
}

func TestCreateExhaustsRetries(t *testing.T) {
	project := githubTektonProject()
	hub := &fakeHub{failTimes: 100, failWith: errors.New("etcd leader changed")}
	m := NewManager(hub, nil, nil, projectDir(t, project), WithMaxRetries(2), WithRetryDelay(time.Millisecond))

	_, err := m.Create(context.Background(), &project)
	require.Error(t, err)
	assert.Equal(t, 3, hub.calls)
	assert.Contains(t, err.Error(), "after 3 attempts")
}

func TestComponentString(t *testing.T) {
	c := &Component{Name: "go-abcdefgh", State: StateCreating}
	assert.Equal(t, "go-abcdefgh[creating]", c.String())
}

func TestRenamePersistenceSurvivesProcessRestart(t *testing.T) {
	project := githubTektonProject()
	dir := projectDir(t, project)

	require.NoError(t, testplan.RenameProject(dir, "go-abcdefgh", "go-zzzzzzzz"))

	data, err := os.ReadFile(filepath.Join(dir, testplan.ConfigsFileName))
	require.NoError(t, err)
	assert.Contains(t, string(data), "go-zzzzzzzz")
	assert.NotContains(t, string(data), "go-abcdefgh")
}
