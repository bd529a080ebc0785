package ci

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	gitlab "gitlab.com/gitlab-org/api/client-go"

	"github.com/redhat-appstudio/tssc-test/internal/errkind"
	"github.com/redhat-appstudio/tssc-test/internal/tssc"
)

// GitLabCI reads project pipelines of the component's source project.
type GitLabCI struct {
	client *gitlab.Client
	pid    string
}

func NewGitLabCI(group, project, token string) (*GitLabCI, error) {
	client, err := gitlab.NewClient(token, gitlab.WithBaseURL("https://gitlab.com/api/v4"))
	if err != nil {
		return nil, errkind.Wrap(errkind.InvalidConfig, err, "creating GitLab client")
	}
	return &GitLabCI{client: client, pid: group + "/" + project}, nil
}

func (g *GitLabCI) GetCIType() tssc.CIType { return tssc.CIGitLabCI }

func gitlabStatus(status string) PipelineStatus {
	switch status {
	case "created", "waiting_for_resource", "preparing", "pending", "scheduled", "manual":
		return StatusPending
	case "running":
		return StatusRunning
	case "success":
		return StatusSuccess
	case "failed":
		return StatusFailure
	case "canceled", "skipped":
		return StatusCancelled
	}
	return StatusUnknown
}

func gitlabSource(event tssc.EventType) string {
	switch event {
	case tssc.EventPullRequest:
		return "merge_request_event"
	case tssc.EventPush, tssc.EventCommit:
		return "push"
	}
	return ""
}

func (g *GitLabCI) repoName() string {
	if i := strings.LastIndex(g.pid, "/"); i >= 0 {
		return g.pid[i+1:]
	}
	return g.pid
}

func (g *GitLabCI) pipelineFromInfo(info *gitlab.PipelineInfo) *Pipeline {
	p := &Pipeline{
		ID:             strconv.FormatInt(info.ID, 10),
		CIType:         tssc.CIGitLabCI,
		RepositoryName: g.repoName(),
		Name:           fmt.Sprintf("pipeline-%d", info.ID),
		Status:         gitlabStatus(info.Status),
		SHA:            info.SHA,
		BuildNumber:    int(info.ID),
		URL:            info.WebURL,
	}
	if info.CreatedAt != nil {
		p.StartTime = info.CreatedAt
	}
	if p.Status.IsTerminal() && info.UpdatedAt != nil {
		p.EndTime = info.UpdatedAt
	}
	return p
}

func (g *GitLabCI) GetPipeline(ctx context.Context, sha string, event tssc.EventType) (*Pipeline, error) {
	opts := &gitlab.ListProjectPipelinesOptions{
		SHA:         gitlab.Ptr(sha),
		ListOptions: gitlab.ListOptions{PerPage: 50},
	}
	if source := gitlabSource(event); source != "" {
		opts.Source = gitlab.Ptr(source)
	}
	infos, resp, err := g.client.Pipelines.ListProjectPipelines(g.pid, opts, gitlab.WithContext(ctx))
	if err != nil {
		return nil, mapGitLabCIError(err, resp, "listing pipelines of %s for %s", g.pid, sha)
	}
	if len(infos) == 0 {
		return nil, nil
	}

	newest := infos[0]
	for _, info := range infos[1:] {
		if info.ID > newest.ID {
			newest = info
		}
	}
	return g.pipelineFromInfo(newest), nil
}

func mapGitLabCIError(err error, resp *gitlab.Response, format string, args ...interface{}) error {
	kind := errkind.TransientProvider
	if resp != nil {
		switch resp.StatusCode {
		case 404:
			kind = errkind.NotFound
		case 401:
			kind = errkind.Unauthorized
		case 403:
			kind = errkind.Forbidden
		case 429:
			kind = errkind.RateLimited
		}
	}
	return errkind.Wrap(kind, err, format, args...)
}

func (g *GitLabCI) pipelineID(p *Pipeline) (int64, error) {
	id, err := strconv.ParseInt(p.ID, 10, 64)
	if err != nil {
		return 0, errkind.Wrap(errkind.Unknown, err, "parsing pipeline id %q", p.ID)
	}
	return id, nil
}

func (g *GitLabCI) RefreshStatus(ctx context.Context, p *Pipeline) (PipelineStatus, error) {
	id, err := g.pipelineID(p)
	if err != nil {
		return StatusUnknown, err
	}
	current, resp, err := g.client.Pipelines.GetPipeline(g.pid, id, gitlab.WithContext(ctx))
	if err != nil {
		return StatusUnknown, mapGitLabCIError(err, resp, "getting pipeline %d of %s", id, g.pid)
	}
	p.Status = p.Status.Merge(gitlabStatus(current.Status))
	return p.Status, nil
}

// GetLogs concatenates the trace of every job in the pipeline.
func (g *GitLabCI) GetLogs(ctx context.Context, p *Pipeline) (string, error) {
	id, err := g.pipelineID(p)
	if err != nil {
		return "", err
	}
	jobs, resp, err := g.client.Jobs.ListPipelineJobs(g.pid, id,
		&gitlab.ListJobsOptions{ListOptions: gitlab.ListOptions{PerPage: 100}}, gitlab.WithContext(ctx))
	if err != nil {
		return "", mapGitLabCIError(err, resp, "listing jobs of pipeline %d", id)
	}

	var out strings.Builder
	for _, job := range jobs {
		out.WriteString(logSectionBanner(job.Name, strconv.FormatInt(job.ID, 10)))
		out.WriteString(fetchLogWithRetry(ctx, job.Name, func() (string, error) {
			trace, resp, err := g.client.Jobs.GetTraceFile(g.pid, job.ID, gitlab.WithContext(ctx))
			if err != nil {
				return "", mapGitLabCIError(err, resp, "getting trace of job %d", job.ID)
			}
			data, err := io.ReadAll(trace)
			if err != nil {
				return "", errkind.Wrap(errkind.TransientNetwork, err, "reading trace of job %d", job.ID)
			}
			return string(data), nil
		}))
		out.WriteString("\n")
	}
	if out.Len() == 0 {
		return fallbackLogText, nil
	}
	return out.String(), nil
}

func (g *GitLabCI) ListPipelines(ctx context.Context, opts CancelOptions) ([]*Pipeline, error) {
	listOpts := &gitlab.ListProjectPipelinesOptions{
		ListOptions: gitlab.ListOptions{PerPage: 100},
	}
	if source := gitlabSource(opts.EventType); source != "" {
		listOpts.Source = gitlab.Ptr(source)
	}
	if opts.Branch != "" {
		listOpts.Ref = gitlab.Ptr(opts.Branch)
	}
	infos, resp, err := g.client.Pipelines.ListProjectPipelines(g.pid, listOpts, gitlab.WithContext(ctx))
	if err != nil {
		return nil, mapGitLabCIError(err, resp, "listing pipelines of %s", g.pid)
	}

	pipelines := make([]*Pipeline, 0, len(infos))
	for _, info := range infos {
		pipelines = append(pipelines, g.pipelineFromInfo(info))
	}
	return pipelines, nil
}

func (g *GitLabCI) CancelPipeline(ctx context.Context, p *Pipeline) error {
	id, err := g.pipelineID(p)
	if err != nil {
		return err
	}
	_, resp, err := g.client.Pipelines.CancelPipelineBuild(g.pid, id, gitlab.WithContext(ctx))
	if err != nil {
		return mapGitLabCIError(err, resp, "cancelling pipeline %d of %s", id, g.pid)
	}
	return nil
}

func (g *GitLabCI) WaitForAllPipelinesToFinish(ctx context.Context) error {
	return waitForAllPipelineRuns(ctx, g)
}

// GetWebhookURL is empty: GitLab CI triggers on its own push events.
func (g *GitLabCI) GetWebhookURL() string { return "" }

func (g *GitLabCI) GetCIFilePathInRepo() string { return ".gitlab-ci.yml" }

var _ Provider = (*GitLabCI)(nil)
