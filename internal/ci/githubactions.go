package ci

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/google/go-github/v74/github"
	"golang.org/x/oauth2"

	"github.com/redhat-appstudio/tssc-test/internal/errkind"
	"github.com/redhat-appstudio/tssc-test/internal/tssc"
)

// GitHubActions reads workflow runs of the component's source repository.
type GitHubActions struct {
	client *github.Client
	owner  string
	repo   string
}

func NewGitHubActions(ctx context.Context, owner, repo, token string) *GitHubActions {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	return &GitHubActions{
		client: github.NewClient(oauth2.NewClient(ctx, ts)),
		owner:  owner,
		repo:   repo,
	}
}

func (g *GitHubActions) GetCIType() tssc.CIType { return tssc.CIGitHubActions }

func actionsStatus(run *github.WorkflowRun) PipelineStatus {
	switch run.GetStatus() {
	case "queued", "waiting", "pending", "requested":
		return StatusPending
	case "in_progress":
		return StatusRunning
	case "completed":
		switch run.GetConclusion() {
		case "success":
			return StatusSuccess
		case "cancelled", "skipped":
			return StatusCancelled
		default:
			return StatusFailure
		}
	}
	return StatusUnknown
}

func (g *GitHubActions) pipelineFromRun(run *github.WorkflowRun) *Pipeline {
	p := &Pipeline{
		ID:             strconv.FormatInt(run.GetID(), 10),
		CIType:         tssc.CIGitHubActions,
		RepositoryName: g.repo,
		Name:           run.GetName(),
		Status:         actionsStatus(run),
		SHA:            run.GetHeadSHA(),
		BuildNumber:    run.GetRunNumber(),
		URL:            run.GetHTMLURL(),
	}
	if created := run.GetRunStartedAt(); !created.IsZero() {
		t := created.Time
		p.StartTime = &t
	}
	if updated := run.GetUpdatedAt(); p.Status.IsTerminal() && !updated.IsZero() {
		t := updated.Time
		p.EndTime = &t
	}
	return p
}

func actionsEvent(event tssc.EventType) string {
	switch event {
	case tssc.EventPullRequest:
		return "pull_request"
	case tssc.EventPush, tssc.EventCommit:
		return "push"
	}
	return ""
}

func (g *GitHubActions) listRuns(ctx context.Context, opts *github.ListWorkflowRunsOptions) ([]*github.WorkflowRun, error) {
	runs, resp, err := g.client.Actions.ListRepositoryWorkflowRuns(ctx, g.owner, g.repo, opts)
	if err != nil {
		return nil, mapActionsError(err, resp, "listing workflow runs of %s/%s", g.owner, g.repo)
	}
	return runs.WorkflowRuns, nil
}

func mapActionsError(err error, resp *github.Response, format string, args ...interface{}) error {
	kind := errkind.TransientProvider
	if resp != nil {
		switch resp.StatusCode {
		case http.StatusNotFound:
			kind = errkind.NotFound
		case http.StatusUnauthorized:
			kind = errkind.Unauthorized
		case http.StatusForbidden:
			kind = errkind.Forbidden
		case http.StatusTooManyRequests:
			kind = errkind.RateLimited
		}
	}
	return errkind.Wrap(kind, err, format, args...)
}

// GetPipeline returns the newest run per workflow for the commit; multiple
// workflows can trigger on one push, so the latest overall run represents
// the build the harness waits on.
func (g *GitHubActions) GetPipeline(ctx context.Context, sha string, event tssc.EventType) (*Pipeline, error) {
	runs, err := g.listRuns(ctx, &github.ListWorkflowRunsOptions{
		HeadSHA:     sha,
		Event:       actionsEvent(event),
		ListOptions: github.ListOptions{PerPage: 50},
	})
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, nil
	}

	// One entry per workflow, newest attempt wins.
	latest := map[int64]*github.WorkflowRun{}
	for _, run := range runs {
		if prev, ok := latest[run.GetWorkflowID()]; !ok || run.GetRunNumber() > prev.GetRunNumber() {
			latest[run.GetWorkflowID()] = run
		}
	}
	var newest *github.WorkflowRun
	for _, run := range latest {
		if newest == nil || run.GetCreatedAt().After(newest.GetCreatedAt().Time) {
			newest = run
		}
	}
	return g.pipelineFromRun(newest), nil
}

func (g *GitHubActions) RefreshStatus(ctx context.Context, p *Pipeline) (PipelineStatus, error) {
	id, err := strconv.ParseInt(p.ID, 10, 64)
	if err != nil {
		return StatusUnknown, errkind.Wrap(errkind.Unknown, err, "parsing run id %q", p.ID)
	}
	run, resp, err := g.client.Actions.GetWorkflowRunByID(ctx, g.owner, g.repo, id)
	if err != nil {
		return StatusUnknown, mapActionsError(err, resp, "getting workflow run %d", id)
	}
	p.Status = p.Status.Merge(actionsStatus(run))
	return p.Status, nil
}

// GetLogs assembles per-job logs. Job log delivery goes through a signed
// redirect URL that expires quickly, so each job is fetched inside the
// retry loop end to end.
func (g *GitHubActions) GetLogs(ctx context.Context, p *Pipeline) (string, error) {
	id, err := strconv.ParseInt(p.ID, 10, 64)
	if err != nil {
		return "", errkind.Wrap(errkind.Unknown, err, "parsing run id %q", p.ID)
	}
	jobs, resp, err := g.client.Actions.ListWorkflowJobs(ctx, g.owner, g.repo, id,
		&github.ListWorkflowJobsOptions{ListOptions: github.ListOptions{PerPage: 100}})
	if err != nil {
		return "", mapActionsError(err, resp, "listing jobs of run %d", id)
	}

	var out []byte
	for _, job := range jobs.Jobs {
		out = append(out, logSectionBanner(job.GetName(), strconv.FormatInt(job.GetID(), 10))...)
		text := fetchLogWithRetry(ctx, job.GetName(), func() (string, error) {
			return g.jobLogs(ctx, job.GetID())
		})
		out = append(out, text...)
		out = append(out, '\n')
	}
	if len(out) == 0 {
		return fallbackLogText, nil
	}
	return string(out), nil
}

func (g *GitHubActions) jobLogs(ctx context.Context, jobID int64) (string, error) {
	logURL, resp, err := g.client.Actions.GetWorkflowJobLogs(ctx, g.owner, g.repo, jobID, 3)
	if err != nil {
		return "", mapActionsError(err, resp, "resolving log URL of job %d", jobID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, logURL.String(), nil)
	if err != nil {
		return "", errkind.Wrap(errkind.Unknown, err, "building log request for job %d", jobID)
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", errkind.Wrap(errkind.TransientNetwork, err, "downloading logs of job %d", jobID)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return "", errkind.New(errkind.TransientProvider, "log download for job %d returned %d", jobID, res.StatusCode)
	}
	data, err := io.ReadAll(res.Body)
	if err != nil {
		return "", errkind.Wrap(errkind.TransientNetwork, err, "reading logs of job %d", jobID)
	}
	return string(data), nil
}

func (g *GitHubActions) ListPipelines(ctx context.Context, opts CancelOptions) ([]*Pipeline, error) {
	listOpts := &github.ListWorkflowRunsOptions{
		Event:       actionsEvent(opts.EventType),
		Branch:      opts.Branch,
		ListOptions: github.ListOptions{PerPage: 100},
	}
	runs, err := g.listRuns(ctx, listOpts)
	if err != nil {
		return nil, err
	}
	pipelines := make([]*Pipeline, 0, len(runs))
	for _, run := range runs {
		pipelines = append(pipelines, g.pipelineFromRun(run))
	}
	return pipelines, nil
}

func (g *GitHubActions) CancelPipeline(ctx context.Context, p *Pipeline) error {
	id, err := strconv.ParseInt(p.ID, 10, 64)
	if err != nil {
		return errkind.Wrap(errkind.Unknown, err, "parsing run id %q", p.ID)
	}
	resp, err := g.client.Actions.CancelWorkflowRunByID(ctx, g.owner, g.repo, id)
	if err != nil {
		// Cancelling a finished run answers 409; treat as already done.
		if resp != nil && resp.StatusCode == http.StatusConflict {
			return nil
		}
		return mapActionsError(err, resp, "cancelling workflow run %s", fmt.Sprint(id))
	}
	return nil
}

func (g *GitHubActions) WaitForAllPipelinesToFinish(ctx context.Context) error {
	return waitForAllPipelineRuns(ctx, g)
}

// GetWebhookURL is empty: Actions runs on GitHub's own push events.
func (g *GitHubActions) GetWebhookURL() string { return "" }

func (g *GitHubActions) GetCIFilePathInRepo() string { return ".github/workflows" }

var _ Provider = (*GitHubActions)(nil)
