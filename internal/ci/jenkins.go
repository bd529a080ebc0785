package ci

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/redhat-appstudio/tssc-test/internal/errkind"
	"github.com/redhat-appstudio/tssc-test/internal/tssc"
	"github.com/redhat-appstudio/tssc-test/pkg/logging"
)

// Jenkins reads builds of the component's job, which lives inside a folder
// named after the organization. Jenkins has no commit index, so build
// lookup scans recent builds for the revision recorded in their actions.
type Jenkins struct {
	client   *retryablehttp.Client
	baseURL  string
	folder   string
	job      string
	username string
	token    string
}

func NewJenkins(baseURL, folder, job, username, token string) *Jenkins {
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.RetryWaitMin = 1 * time.Second
	client.RetryWaitMax = 10 * time.Second
	client.Logger = nil
	return &Jenkins{
		client:   client,
		baseURL:  strings.TrimRight(baseURL, "/"),
		folder:   folder,
		job:      job,
		username: username,
		token:    token,
	}
}

func (j *Jenkins) GetCIType() tssc.CIType { return tssc.CIJenkins }

func (j *Jenkins) jobURL() string {
	return fmt.Sprintf("%s/job/%s/job/%s", j.baseURL, j.folder, j.job)
}

func (j *Jenkins) buildURL(number int) string {
	return fmt.Sprintf("%s/%d", j.jobURL(), number)
}

func (j *Jenkins) get(ctx context.Context, url string, out interface{}, what string) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errkind.Wrap(errkind.Unknown, err, "%s", what)
	}
	req.SetBasicAuth(j.username, j.token)

	resp, err := j.client.Do(req)
	if err != nil {
		return errkind.Wrap(errkind.TransientNetwork, err, "%s", what)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return errkind.Wrap(errkind.TransientNetwork, err, "%s: reading response", what)
	}
	if resp.StatusCode != http.StatusOK {
		return mapJenkinsStatus(resp.StatusCode, what)
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return errkind.Wrap(errkind.TransientProvider, err, "%s: decoding response", what)
		}
	}
	return nil
}

func mapJenkinsStatus(status int, what string) error {
	kind := errkind.TransientProvider
	switch status {
	case http.StatusNotFound:
		kind = errkind.NotFound
	case http.StatusUnauthorized:
		kind = errkind.Unauthorized
	case http.StatusForbidden:
		kind = errkind.Forbidden
	case http.StatusTooManyRequests:
		kind = errkind.RateLimited
	}
	return errkind.New(kind, "%s: jenkins returned %d", what, status)
}

type jenkinsBuildRef struct {
	Number int    `json:"number"`
	URL    string `json:"url"`
}

type jenkinsJob struct {
	Builds []jenkinsBuildRef `json:"builds"`
}

type jenkinsBuild struct {
	Number    int    `json:"number"`
	Result    string `json:"result"`
	Building  bool   `json:"building"`
	Timestamp int64  `json:"timestamp"`
	Duration  int64  `json:"duration"`
	URL       string `json:"url"`
	Actions   []struct {
		LastBuiltRevision struct {
			SHA1 string `json:"SHA1"`
		} `json:"lastBuiltRevision"`
	} `json:"actions"`
}

func (b *jenkinsBuild) sha() string {
	for _, action := range b.Actions {
		if action.LastBuiltRevision.SHA1 != "" {
			return action.LastBuiltRevision.SHA1
		}
	}
	return ""
}

func jenkinsStatus(b *jenkinsBuild) PipelineStatus {
	if b.Building {
		return StatusRunning
	}
	switch b.Result {
	case "":
		return StatusPending
	case "SUCCESS":
		return StatusSuccess
	case "ABORTED":
		return StatusCancelled
	default:
		return StatusFailure
	}
}

func (j *Jenkins) pipelineFromBuild(b *jenkinsBuild) *Pipeline {
	p := &Pipeline{
		ID:             strconv.Itoa(b.Number),
		CIType:         tssc.CIJenkins,
		RepositoryName: j.job,
		Name:           j.job,
		JobName:        j.folder + "/" + j.job,
		Status:         jenkinsStatus(b),
		SHA:            b.sha(),
		BuildNumber:    b.Number,
		URL:            b.URL,
	}
	if b.Timestamp > 0 {
		t := time.UnixMilli(b.Timestamp)
		p.StartTime = &t
		if p.Status.IsTerminal() && b.Duration > 0 {
			end := t.Add(time.Duration(b.Duration) * time.Millisecond)
			p.EndTime = &end
		}
	}
	return p
}

func (j *Jenkins) getBuild(ctx context.Context, number int) (*jenkinsBuild, error) {
	var build jenkinsBuild
	url := j.buildURL(number) + "/api/json"
	if err := j.get(ctx, url, &build, fmt.Sprintf("getting build #%d of %s", number, j.job)); err != nil {
		return nil, err
	}
	return &build, nil
}

// GetPipeline scans recent builds for the one that built sha. Builds that
// carry no revision, such as the initial seed build, are skipped.
func (j *Jenkins) GetPipeline(ctx context.Context, sha string, _ tssc.EventType) (*Pipeline, error) {
	var job jenkinsJob
	if err := j.get(ctx, j.jobURL()+"/api/json?tree=builds[number,url]", &job,
		fmt.Sprintf("listing builds of %s", j.job)); err != nil {
		return nil, err
	}

	for _, ref := range job.Builds {
		build, err := j.getBuild(ctx, ref.Number)
		if err != nil {
			if errkind.KindOf(err) == errkind.NotFound {
				continue
			}
			return nil, err
		}
		buildSHA := build.sha()
		if buildSHA == "" {
			logging.Debug("ci", "Build #%d of %s carries no revision, skipping", ref.Number, j.job)
			continue
		}
		if buildSHA == sha {
			return j.pipelineFromBuild(build), nil
		}
	}
	return nil, nil
}

func (j *Jenkins) RefreshStatus(ctx context.Context, p *Pipeline) (PipelineStatus, error) {
	build, err := j.getBuild(ctx, p.BuildNumber)
	if err != nil {
		return StatusUnknown, err
	}
	p.Status = p.Status.Merge(jenkinsStatus(build))
	return p.Status, nil
}

// GetLogs returns the console text of the build. Jenkins serves one stream
// per build, so the single banner names the job.
func (j *Jenkins) GetLogs(ctx context.Context, p *Pipeline) (string, error) {
	text := fetchLogWithRetry(ctx, p.DisplayName(), func() (string, error) {
		req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet,
			j.buildURL(p.BuildNumber)+"/consoleText", nil)
		if err != nil {
			return "", errkind.Wrap(errkind.Unknown, err, "building console request")
		}
		req.SetBasicAuth(j.username, j.token)
		resp, err := j.client.Do(req)
		if err != nil {
			return "", errkind.Wrap(errkind.TransientNetwork, err, "downloading console of #%d", p.BuildNumber)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return "", mapJenkinsStatus(resp.StatusCode, "downloading console")
		}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return "", errkind.Wrap(errkind.TransientNetwork, err, "reading console of #%d", p.BuildNumber)
		}
		return string(data), nil
	})
	return logSectionBanner(p.Name, p.ID) + text, nil
}

func (j *Jenkins) ListPipelines(ctx context.Context, _ CancelOptions) ([]*Pipeline, error) {
	var job jenkinsJob
	if err := j.get(ctx, j.jobURL()+"/api/json?tree=builds[number,url]", &job,
		fmt.Sprintf("listing builds of %s", j.job)); err != nil {
		return nil, err
	}

	pipelines := make([]*Pipeline, 0, len(job.Builds))
	for _, ref := range job.Builds {
		build, err := j.getBuild(ctx, ref.Number)
		if err != nil {
			if errkind.KindOf(err) == errkind.NotFound {
				continue
			}
			return nil, err
		}
		pipelines = append(pipelines, j.pipelineFromBuild(build))
	}
	return pipelines, nil
}

func (j *Jenkins) CancelPipeline(ctx context.Context, p *Pipeline) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost,
		j.buildURL(p.BuildNumber)+"/stop", nil)
	if err != nil {
		return errkind.Wrap(errkind.Unknown, err, "building stop request")
	}
	req.SetBasicAuth(j.username, j.token)

	resp, err := j.client.Do(req)
	if err != nil {
		return errkind.Wrap(errkind.TransientNetwork, err, "stopping build #%d", p.BuildNumber)
	}
	defer resp.Body.Close()
	// Jenkins answers the stop POST with a redirect to the build page.
	if resp.StatusCode >= 400 {
		return mapJenkinsStatus(resp.StatusCode, fmt.Sprintf("stopping build #%d", p.BuildNumber))
	}
	return nil
}

func (j *Jenkins) WaitForAllPipelinesToFinish(ctx context.Context) error {
	return waitForAllPipelineRuns(ctx, j)
}

// GetWebhookURL is the controller's generic webhook receiver; repository
// pushes notify it so the job polls immediately.
func (j *Jenkins) GetWebhookURL() string {
	return j.baseURL + "/github-webhook/"
}

func (j *Jenkins) GetCIFilePathInRepo() string { return "Jenkinsfile" }

var _ Provider = (*Jenkins)(nil)
