package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redhat-appstudio/tssc-test/internal/testplan"
	"github.com/redhat-appstudio/tssc-test/internal/tssc"
)

type recordingReporter struct {
	mu       sync.Mutex
	started  int
	reported []ProjectResult
	suite    *SuiteResult
}

func (r *recordingReporter) ReportStart(config Config, total int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = total
}

func (r *recordingReporter) ReportProjectResult(result ProjectResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reported = append(r.reported, result)
}

func (r *recordingReporter) ReportSuiteResult(result SuiteResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.suite = &result
}

func projects(names ...string) []testplan.ProjectConfig {
	var configs []testplan.ProjectConfig
	for _, name := range names {
		configs = append(configs, testplan.ProjectConfig{
			Name: name,
			TestItem: testplan.TestItem{
				Name:         name,
				Template:     tssc.TemplateGo,
				GitType:      tssc.GitGitHub,
				CIType:       tssc.CITekton,
				RegistryType: tssc.RegistryQuay,
			},
		})
	}
	return configs
}

func TestRunProjectsAggregatesResults(t *testing.T) {
	reporter := &recordingReporter{}
	run := func(ctx context.Context, project testplan.ProjectConfig) error {
		if project.Name == "bad" {
			return errors.New("pipeline failed")
		}
		return nil
	}
	o := New(Config{Workers: 2}, run, reporter)

	suite := o.RunProjects(context.Background(), projects("good-1", "bad", "good-2"))

	assert.Equal(t, 3, suite.TotalProjects)
	assert.Equal(t, 2, suite.PassedProjects)
	assert.Equal(t, 1, suite.FailedProjects)
	assert.False(t, suite.Passed())
	assert.NotEmpty(t, suite.RunID)
	assert.Equal(t, 3, reporter.started)
	assert.Len(t, reporter.reported, 3)
	require.NotNil(t, reporter.suite)
}

func TestRunProjectsEmptyPlan(t *testing.T) {
	reporter := &recordingReporter{}
	o := New(Config{}, func(ctx context.Context, p testplan.ProjectConfig) error { return nil }, reporter)

	suite := o.RunProjects(context.Background(), nil)
	assert.Zero(t, suite.TotalProjects)
	assert.True(t, suite.Passed())
	require.NotNil(t, reporter.suite)
}

func TestWorkerPoolBoundsConcurrency(t *testing.T) {
	var active, peak int64
	run := func(ctx context.Context, project testplan.ProjectConfig) error {
		now := atomic.AddInt64(&active, 1)
		for {
			seen := atomic.LoadInt64(&peak)
			if now <= seen || atomic.CompareAndSwapInt64(&peak, seen, now) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt64(&active, -1)
		return nil
	}
	o := New(Config{Workers: 2}, run, &recordingReporter{})

	suite := o.RunProjects(context.Background(), projects("a", "b", "c", "d", "e"))
	assert.Equal(t, 5, suite.PassedProjects)
	assert.LessOrEqual(t, atomic.LoadInt64(&peak), int64(2))
}

func TestProjectTimeoutFailsProject(t *testing.T) {
	run := func(ctx context.Context, project testplan.ProjectConfig) error {
		<-ctx.Done()
		return ctx.Err()
	}
	o := New(Config{Workers: 1, ProjectTimeout: 20 * time.Millisecond}, run, &recordingReporter{})

	suite := o.RunProjects(context.Background(), projects("slow"))
	require.Len(t, suite.ProjectResults, 1)
	assert.Equal(t, ResultFailed, suite.ProjectResults[0].Result)
	assert.Contains(t, suite.ProjectResults[0].Error, "context deadline exceeded")
}

func TestPanicInRunnerIsContained(t *testing.T) {
	run := func(ctx context.Context, project testplan.ProjectConfig) error {
		if project.Name == "boom" {
			panic("provider exploded")
		}
		return nil
	}
	o := New(Config{Workers: 1}, run, &recordingReporter{})

	suite := o.RunProjects(context.Background(), projects("boom", "fine"))
	assert.Equal(t, 1, suite.FailedProjects)
	assert.Equal(t, 1, suite.PassedProjects)
	for _, result := range suite.ProjectResults {
		if result.Project.Name == "boom" {
			assert.Contains(t, result.Error, "panic: provider exploded")
		}
	}
}

func TestFailFastStopsReporting(t *testing.T) {
	reporter := &recordingReporter{}
	run := func(ctx context.Context, project testplan.ProjectConfig) error {
		return errors.New("always fails")
	}
	o := New(Config{Workers: 1, FailFast: true}, run, reporter)

	suite := o.RunProjects(context.Background(), projects("a", "b", "c"))

	// All projects still execute and count, but only the first failure is
	// reported individually.
	assert.Equal(t, 3, suite.FailedProjects)
	assert.Len(t, reporter.reported, 1)
}

func TestRunLoadsConfigsFromDisk(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, testplan.WriteConfigs(dir, projects("from-disk"), &testplan.Summary{}))

	reporter := &recordingReporter{}
	o := New(Config{ConfigsDir: dir}, func(ctx context.Context, p testplan.ProjectConfig) error {
		return nil
	}, reporter)

	suite, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, suite.PassedProjects)
	assert.Equal(t, "from-disk", suite.ProjectResults[0].Project.Name)
}

func TestWriteReport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reports", "suite.json")
	suite := &SuiteResult{RunID: "run-1", TotalProjects: 1, PassedProjects: 1}
	require.NoError(t, WriteReport(path, suite))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"run_id": "run-1"`)
}
