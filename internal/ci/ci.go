// Package ci abstracts the pipeline systems a component can build with.
// Each provider maps its native run object onto Pipeline and exposes the
// same lookup, status, log and cancellation operations so the coordinator
// never branches on CI type.
package ci

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redhat-appstudio/tssc-test/internal/errkind"
	"github.com/redhat-appstudio/tssc-test/internal/tssc"
	"github.com/redhat-appstudio/tssc-test/pkg/logging"
	"github.com/redhat-appstudio/tssc-test/pkg/retry"
)

// PipelineStatus is the normalized state of a pipeline run.
type PipelineStatus string

const (
	StatusPending   PipelineStatus = "pending"
	StatusRunning   PipelineStatus = "running"
	StatusSuccess   PipelineStatus = "success"
	StatusFailure   PipelineStatus = "failure"
	StatusCancelled PipelineStatus = "cancelled"
	StatusUnknown   PipelineStatus = "unknown"
)

// IsTerminal reports whether the status can no longer change.
func (s PipelineStatus) IsTerminal() bool {
	switch s {
	case StatusSuccess, StatusFailure, StatusCancelled:
		return true
	}
	return false
}

// rank orders statuses so observed state never moves backwards: a run seen
// running is never downgraded to pending by a stale poll.
func (s PipelineStatus) rank() int {
	switch s {
	case StatusPending:
		return 1
	case StatusRunning:
		return 2
	case StatusSuccess, StatusFailure, StatusCancelled:
		return 3
	}
	return 0
}

// Merge returns the more advanced of two observations of the same run.
func (s PipelineStatus) Merge(observed PipelineStatus) PipelineStatus {
	if observed.rank() >= s.rank() {
		return observed
	}
	return s
}

// Pipeline is the provider-neutral view of a single pipeline run.
type Pipeline struct {
	ID             string         `json:"id"`
	CIType         tssc.CIType    `json:"ciType"`
	RepositoryName string         `json:"repositoryName"`
	Name           string         `json:"name"`
	Status         PipelineStatus `json:"status"`
	SHA            string         `json:"sha,omitempty"`
	BuildNumber    int            `json:"buildNumber,omitempty"`
	JobName        string         `json:"jobName,omitempty"`
	URL            string         `json:"url,omitempty"`
	Logs           string         `json:"-"`
	Results        string         `json:"results,omitempty"`
	StartTime      *time.Time     `json:"startTime,omitempty"`
	EndTime        *time.Time     `json:"endTime,omitempty"`
}

// DisplayName identifies the run in logs and reports.
func (p *Pipeline) DisplayName() string {
	if p.BuildNumber > 0 {
		return fmt.Sprintf("%s/%s#%d", p.RepositoryName, p.Name, p.BuildNumber)
	}
	return fmt.Sprintf("%s/%s", p.RepositoryName, p.Name)
}

// IsSuccessful reports a terminal successful run.
func (p *Pipeline) IsSuccessful() bool { return p.Status == StatusSuccess }

// CancelOptions bounds a bulk cancellation sweep.
type CancelOptions struct {
	// ExcludePatterns are substrings; a run whose name contains one is
	// skipped.
	ExcludePatterns []string
	// IncludeCompleted subjects already-terminal runs to the sweep too.
	// By default they are counted as skipped and left alone.
	IncludeCompleted bool
	EventType        tssc.EventType
	Branch           string
	// Concurrency limits parallel cancel calls. Zero means 10.
	Concurrency int
	DryRun      bool
}

// DefaultCancelConcurrency applies when CancelOptions.Concurrency is zero.
const DefaultCancelConcurrency = 10

// CancelDetail records what a sweep did with one inspected run.
type CancelDetail struct {
	Pipeline string         `json:"pipeline"`
	Status   PipelineStatus `json:"status"`
	Outcome  string         `json:"outcome"`
	Reason   string         `json:"reason,omitempty"`
}

// CancelResult accounts for every run a sweep inspected. Total always
// equals Cancelled+Skipped+Failed+WouldCancel, and Details carries one
// entry per inspected run.
type CancelResult struct {
	Total       int            `json:"total"`
	Cancelled   int            `json:"cancelled"`
	Skipped     int            `json:"skipped"`
	Failed      int            `json:"failed"`
	WouldCancel int            `json:"wouldCancel"`
	Details     []CancelDetail `json:"details,omitempty"`
	Errors      []string       `json:"errors,omitempty"`
}

// CancelResultBuilder accumulates sweep outcomes; Build freezes them into
// the totalled result.
type CancelResultBuilder struct {
	result CancelResult
}

func (b *CancelResultBuilder) Cancelled(p *Pipeline) {
	b.result.Cancelled++
	b.detail(p, "cancelled", "")
}

func (b *CancelResultBuilder) Skipped(p *Pipeline, reason string) {
	b.result.Skipped++
	b.detail(p, "skipped", reason)
}

func (b *CancelResultBuilder) WouldCancel(p *Pipeline) {
	b.result.WouldCancel++
	b.detail(p, "would-cancel", "")
}

func (b *CancelResultBuilder) Failed(p *Pipeline, err error) {
	b.result.Failed++
	b.detail(p, "failed", err.Error())
	b.result.Errors = append(b.result.Errors, fmt.Sprintf("%s: %v", p.DisplayName(), err))
}

func (b *CancelResultBuilder) detail(p *Pipeline, outcome, reason string) {
	b.result.Details = append(b.result.Details, CancelDetail{
		Pipeline: p.DisplayName(),
		Status:   p.Status,
		Outcome:  outcome,
		Reason:   reason,
	})
}

// Build totals the counters. The returned value is a copy; further builder
// mutation does not affect it. Details and errors are sorted so the result
// is stable under concurrent sweeps.
func (b *CancelResultBuilder) Build() CancelResult {
	out := b.result
	out.Total = out.Cancelled + out.Skipped + out.Failed + out.WouldCancel
	out.Details = append([]CancelDetail(nil), b.result.Details...)
	sort.Slice(out.Details, func(i, j int) bool { return out.Details[i].Pipeline < out.Details[j].Pipeline })
	out.Errors = append([]string(nil), b.result.Errors...)
	sort.Strings(out.Errors)
	return out
}

// Provider is the CI capability set. GetPipeline returns nil without error
// while the run triggered for the given reference is not visible yet;
// callers poll.
type Provider interface {
	GetCIType() tssc.CIType

	// GetPipeline locates the run triggered by sha for the given event
	// type on the component's source repository.
	GetPipeline(ctx context.Context, sha string, event tssc.EventType) (*Pipeline, error)

	// RefreshStatus re-reads the run and returns its current status.
	RefreshStatus(ctx context.Context, p *Pipeline) (PipelineStatus, error)

	// GetLogs assembles the full log text of a run, one banner per
	// job/task.
	GetLogs(ctx context.Context, p *Pipeline) (string, error)

	// ListPipelines returns the runs relevant to the component that
	// match opts.
	ListPipelines(ctx context.Context, opts CancelOptions) ([]*Pipeline, error)

	// CancelPipeline stops a non-terminal run.
	CancelPipeline(ctx context.Context, p *Pipeline) error

	// WaitForAllPipelinesToFinish blocks until no run of the component
	// is active.
	WaitForAllPipelinesToFinish(ctx context.Context) error

	// GetWebhookURL is the endpoint the component's repositories must
	// deliver webhooks to, empty when the backend needs none.
	GetWebhookURL() string

	// GetCIFilePathInRepo is where the backend's pipeline definition
	// lives inside the source repository.
	GetCIFilePathInRepo() string
}

// quietPeriodRetry paces the all-runs-finished poll.
var quietPeriodRetry = retry.Options{
	MaxRetries: 60,
	MinTimeout: 10 * time.Second,
	MaxTimeout: 30 * time.Second,
}

// waitForAllPipelineRuns polls until every listed run of the component is
// terminal. Backends share it for WaitForAllPipelinesToFinish.
func waitForAllPipelineRuns(ctx context.Context, p Provider) error {
	opts := quietPeriodRetry
	opts.OnRetry = func(err error, attempt int) {
		logging.Debug("ci", "Waiting for pipeline runs to settle (attempt %d): %v", attempt, err)
	}
	return retry.DoVoid(ctx, func() error {
		pipelines, err := p.ListPipelines(ctx, CancelOptions{})
		if err != nil {
			if !errkind.Retryable(err) {
				return retry.Bail(err)
			}
			return err
		}
		active := 0
		for _, pipeline := range pipelines {
			if !pipeline.Status.IsTerminal() {
				active++
			}
		}
		if active > 0 {
			return errkind.New(errkind.TransientProvider, "%d pipeline run(s) still active", active)
		}
		return nil
	}, opts)
}

// logSectionBanner introduces one job or task in assembled log output.
func logSectionBanner(name, id string) string {
	return fmt.Sprintf("--- Job/Task: %s (id=%s) ---\n", name, id)
}

// fallbackLogText stands in for a log stream the provider could not
// deliver after retries.
const fallbackLogText = "Log is empty"

// logFetchRetry paces log fetch attempts; tests shrink the delays.
var logFetchRetry = retry.Options{
	MaxRetries: 4,
	MinTimeout: 5 * time.Second,
	MaxTimeout: 15 * time.Second,
}

// fetchLogWithRetry pulls one log stream, retrying transient failures and
// empty bodies; providers flush logs asynchronously, so a blank response
// may fill in on a later attempt. A stream that stays unavailable degrades
// to the fallback text instead of failing the whole assembly.
func fetchLogWithRetry(ctx context.Context, what string, fetch func() (string, error)) string {
	opts := logFetchRetry
	opts.OnRetry = func(err error, attempt int) {
		logging.Debug("ci", "Retrying log fetch for %s (attempt %d): %v", what, attempt, err)
	}
	text, err := retry.Do(ctx, func() (string, error) {
		text, err := fetch()
		if err != nil {
			return "", err
		}
		if strings.TrimSpace(text) == "" {
			return "", errkind.New(errkind.TransientProvider, "empty log body for %s", what)
		}
		return text, nil
	}, opts)
	if err != nil {
		logging.Warn("ci", "Giving up on log fetch for %s: %v", what, err)
		return fallbackLogText
	}
	return text
}
