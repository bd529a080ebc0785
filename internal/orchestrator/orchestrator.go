// Package orchestrator executes the expanded test plan: one worker pool
// feeding project configs to the component lifecycle, one result per
// project, aggregated into a suite result with exit-code semantics.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/redhat-appstudio/tssc-test/internal/testplan"
	"github.com/redhat-appstudio/tssc-test/pkg/logging"
)

// Defaults applied by New when the corresponding Config field is zero.
const (
	DefaultWorkers        = 6
	DefaultProjectTimeout = 35 * time.Minute
)

// Result classifies a finished project run.
type Result string

const (
	ResultPassed Result = "passed"
	ResultFailed Result = "failed"
)

// Config controls a suite run.
type Config struct {
	// ConfigsDir is the directory holding project-configs.json.
	ConfigsDir string `json:"configs_dir"`
	// Workers is the number of projects driven concurrently.
	Workers int `json:"workers"`
	// ProjectTimeout bounds one project's full lifecycle.
	ProjectTimeout time.Duration `json:"project_timeout"`
	// FailFast stops reporting further results after the first failure.
	FailFast bool `json:"fail_fast"`
}

// ProjectResult is the outcome of one project's lifecycle.
type ProjectResult struct {
	Project   testplan.ProjectConfig `json:"project"`
	Result    Result                 `json:"result"`
	StartTime time.Time              `json:"start_time"`
	EndTime   time.Time              `json:"end_time"`
	Duration  time.Duration          `json:"duration"`
	Error     string                 `json:"error,omitempty"`
}

// SuiteResult aggregates a full run.
type SuiteResult struct {
	RunID          string          `json:"run_id"`
	StartTime      time.Time       `json:"start_time"`
	EndTime        time.Time       `json:"end_time"`
	Duration       time.Duration   `json:"duration"`
	TotalProjects  int             `json:"total_projects"`
	PassedProjects int             `json:"passed_projects"`
	FailedProjects int             `json:"failed_projects"`
	ProjectResults []ProjectResult `json:"project_results"`
	Configuration  Config          `json:"configuration"`
}

// Passed reports whether every project passed.
func (s *SuiteResult) Passed() bool {
	return s.FailedProjects == 0
}

// RunProjectFunc drives one project through its full lifecycle. The
// orchestrator owns timeout and panic containment around it.
type RunProjectFunc func(ctx context.Context, project testplan.ProjectConfig) error

// Reporter receives run progress. Implementations must be safe for
// concurrent use; results arrive from the collection loop only.
type Reporter interface {
	ReportStart(config Config, total int)
	ReportProjectResult(result ProjectResult)
	ReportSuiteResult(result SuiteResult)
}

// Orchestrator fans project configs out to a fixed worker pool.
type Orchestrator struct {
	config   Config
	run      RunProjectFunc
	reporter Reporter
}

// New builds an orchestrator, filling zero Config fields with defaults.
func New(config Config, run RunProjectFunc, reporter Reporter) *Orchestrator {
	if config.Workers <= 0 {
		config.Workers = DefaultWorkers
	}
	if config.ProjectTimeout <= 0 {
		config.ProjectTimeout = DefaultProjectTimeout
	}
	if reporter == nil {
		reporter = NewConsoleReporter()
	}
	return &Orchestrator{config: config, run: run, reporter: reporter}
}

// Run loads the project configs and executes them all, returning the
// aggregated suite result. The returned error covers harness failures
// only; failed projects are reported through the result.
func (o *Orchestrator) Run(ctx context.Context) (*SuiteResult, error) {
	projects, err := testplan.LoadConfigs(o.config.ConfigsDir)
	if err != nil {
		return nil, err
	}
	return o.RunProjects(ctx, projects), nil
}

// RunProjects executes the given projects on the worker pool.
func (o *Orchestrator) RunProjects(ctx context.Context, projects []testplan.ProjectConfig) *SuiteResult {
	suite := &SuiteResult{
		RunID:          uuid.New().String(),
		StartTime:      time.Now(),
		TotalProjects:  len(projects),
		ProjectResults: make([]ProjectResult, 0, len(projects)),
		Configuration:  o.config,
	}
	o.reporter.ReportStart(o.config, len(projects))

	if len(projects) == 0 {
		suite.EndTime = time.Now()
		suite.Duration = suite.EndTime.Sub(suite.StartTime)
		o.reporter.ReportSuiteResult(*suite)
		return suite
	}

	projectChan := make(chan testplan.ProjectConfig, len(projects))
	resultChan := make(chan ProjectResult, len(projects))
	for _, project := range projects {
		projectChan <- project
	}
	close(projectChan)

	workers := o.config.Workers
	if workers > len(projects) {
		workers = len(projects)
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for project := range projectChan {
				logging.Debug("orchestrator", "Worker %d running project %s", workerID, project.Name)
				resultChan <- o.runProject(ctx, project)
			}
		}(i)
	}
	go func() {
		wg.Wait()
		close(resultChan)
	}()

	reportable := true
	for result := range resultChan {
		suite.ProjectResults = append(suite.ProjectResults, result)
		switch result.Result {
		case ResultPassed:
			suite.PassedProjects++
		default:
			suite.FailedProjects++
		}
		if reportable {
			o.reporter.ReportProjectResult(result)
		}
		// Workers finish their in-flight projects; further results are
		// collected for the totals but no longer reported.
		if o.config.FailFast && result.Result == ResultFailed {
			reportable = false
		}
	}

	suite.EndTime = time.Now()
	suite.Duration = suite.EndTime.Sub(suite.StartTime)
	o.reporter.ReportSuiteResult(*suite)
	return suite
}

// runProject bounds one project with the per-project timeout and captures
// panics so a single misbehaving provider cannot take down the run.
func (o *Orchestrator) runProject(ctx context.Context, project testplan.ProjectConfig) (result ProjectResult) {
	result = ProjectResult{Project: project, StartTime: time.Now(), Result: ResultPassed}
	defer func() {
		if r := recover(); r != nil {
			result.Result = ResultFailed
			result.Error = fmt.Sprintf("panic: %v", r)
		}
		result.EndTime = time.Now()
		result.Duration = result.EndTime.Sub(result.StartTime)
	}()

	projectCtx, cancel := context.WithTimeout(ctx, o.config.ProjectTimeout)
	defer cancel()

	if err := o.run(projectCtx, project); err != nil {
		result.Result = ResultFailed
		result.Error = err.Error()
		logging.Error("orchestrator", err, "Project %s failed", project.Name)
		return result
	}
	logging.Info("orchestrator", "Project %s passed in %.0f seconds",
		project.Name, time.Since(result.StartTime).Seconds())
	return result
}
