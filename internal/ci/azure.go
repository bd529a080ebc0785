package ci

import (
	"bytes"
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
)

const azureAPIVersion = "7.1"

// Azure reads builds of the component's pipeline definition through the
// Azure DevOps build API, authenticating with a personal access token.
type Azure struct {
	client    *retryablehttp.Client
	orgURL    string
	project   string
	component string
	token     string
}

func NewAzure(orgURL, project, component, token string) *Azure {
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.RetryWaitMin = 1 * time.Second
	client.RetryWaitMax = 10 * time.Second
	client.Logger = nil
	return &Azure{
		client:    client,
		orgURL:    strings.TrimRight(orgURL, "/"),
		project:   project,
		component: component,
		token:     token,
	}
}

func (a *Azure) GetCIType() tssc.CIType { return tssc.CIAzure }

func (a *Azure) apiURL(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s/%s/_apis%s%sapi-version=%s", a.orgURL, a.project, path, sep, azureAPIVersion)
}

func (a *Azure) do(ctx context.Context, method, url string, body []byte, out interface{}, what string) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return errkind.Wrap(errkind.Unknown, err, "%s", what)
	}
	req.SetBasicAuth("", a.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return errkind.Wrap(errkind.TransientNetwork, err, "%s", what)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return errkind.Wrap(errkind.TransientNetwork, err, "%s: reading response", what)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		kind := errkind.TransientProvider
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
		return errkind.New(kind, "%s: azure returned %d", what, resp.StatusCode)
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return errkind.Wrap(errkind.TransientProvider, err, "%s: decoding response", what)
		}
	}
	return nil
}

type azureBuild struct {
	ID          int               `json:"id"`
	BuildNumber string            `json:"buildNumber"`
	Status      string            `json:"status"`
	Result      string            `json:"result"`
	SourceSHA   string            `json:"sourceVersion"`
	StartTime   *time.Time        `json:"startTime"`
	FinishTime  *time.Time        `json:"finishTime"`
	TriggerInfo map[string]string `json:"triggerInfo"`
	Definition  struct {
		Name string `json:"name"`
	} `json:"definition"`
	Links struct {
		Web struct {
			Href string `json:"href"`
		} `json:"web"`
	} `json:"_links"`
}

// sha prefers the trigger commit over sourceVersion; pull-request builds
// record the source branch head there while sourceVersion holds the merge
// commit.
func (b *azureBuild) sha() string {
	if sha, ok := b.TriggerInfo["ci.sourceSha"]; ok && sha != "" {
		return sha
	}
	return b.SourceSHA
}

func azureStatus(b *azureBuild) PipelineStatus {
	switch b.Status {
	case "notStarted", "postponed", "none":
		return StatusPending
	case "inProgress", "cancelling":
		return StatusRunning
	case "completed":
		switch b.Result {
		case "succeeded", "partiallySucceeded":
			return StatusSuccess
		case "canceled":
			return StatusCancelled
		default:
			return StatusFailure
		}
	}
	return StatusUnknown
}

func (a *Azure) pipelineFromBuild(b *azureBuild) *Pipeline {
	number, _ := strconv.Atoi(b.BuildNumber)
	if number == 0 {
		number = b.ID
	}
	return &Pipeline{
		ID:             strconv.Itoa(b.ID),
		CIType:         tssc.CIAzure,
		RepositoryName: a.component,
		Name:           b.Definition.Name,
		Status:         azureStatus(b),
		SHA:            b.sha(),
		BuildNumber:    number,
		URL:            b.Links.Web.Href,
		StartTime:      b.StartTime,
		EndTime:        b.FinishTime,
	}
}

func (a *Azure) listBuilds(ctx context.Context, what string) ([]azureBuild, error) {
	var page struct {
		Value []azureBuild `json:"value"`
	}
	url := a.apiURL("/build/builds?queryOrder=queueTimeDescending&$top=100")
	if err := a.do(ctx, http.MethodGet, url, nil, &page, what); err != nil {
		return nil, err
	}
	return page.Value, nil
}

// GetPipeline scans recent builds for the one triggered by sha. Builds of
// other definitions in the project are filtered by definition name.
func (a *Azure) GetPipeline(ctx context.Context, sha string, _ tssc.EventType) (*Pipeline, error) {
	builds, err := a.listBuilds(ctx, fmt.Sprintf("listing builds for %s", sha))
	if err != nil {
		return nil, err
	}
	for i := range builds {
		b := &builds[i]
		if !strings.Contains(b.Definition.Name, a.component) {
			continue
		}
		if b.sha() == sha {
			return a.pipelineFromBuild(b), nil
		}
	}
	return nil, nil
}

func (a *Azure) getBuild(ctx context.Context, id int) (*azureBuild, error) {
	var build azureBuild
	url := a.apiURL(fmt.Sprintf("/build/builds/%d", id))
	if err := a.do(ctx, http.MethodGet, url, nil, &build, fmt.Sprintf("getting build %d", id)); err != nil {
		return nil, err
	}
	return &build, nil
}

func (a *Azure) RefreshStatus(ctx context.Context, p *Pipeline) (PipelineStatus, error) {
	id, err := strconv.Atoi(p.ID)
	if err != nil {
		return StatusUnknown, errkind.Wrap(errkind.Unknown, err, "parsing build id %q", p.ID)
	}
	build, err := a.getBuild(ctx, id)
	if err != nil {
		return StatusUnknown, err
	}
	p.Status = p.Status.Merge(azureStatus(build))
	return p.Status, nil
}

// GetLogs concatenates the build's log streams, one banner per stream.
func (a *Azure) GetLogs(ctx context.Context, p *Pipeline) (string, error) {
	var page struct {
		Value []struct {
			ID int `json:"id"`
		} `json:"value"`
	}
	listURL := a.apiURL(fmt.Sprintf("/build/builds/%s/logs", p.ID))
	if err := a.do(ctx, http.MethodGet, listURL, nil, &page,
		fmt.Sprintf("listing logs of build %s", p.ID)); err != nil {
		return "", err
	}

	var out strings.Builder
	for _, entry := range page.Value {
		logID := strconv.Itoa(entry.ID)
		out.WriteString(logSectionBanner(fmt.Sprintf("log-%s", logID), logID))
		out.WriteString(fetchLogWithRetry(ctx, "build "+p.ID+" log "+logID, func() (string, error) {
			req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet,
				a.apiURL(fmt.Sprintf("/build/builds/%s/logs/%s", p.ID, logID)), nil)
			if err != nil {
				return "", errkind.Wrap(errkind.Unknown, err, "building log request")
			}
			req.SetBasicAuth("", a.token)
			req.Header.Set("Accept", "text/plain")
			resp, err := a.client.Do(req)
			if err != nil {
				return "", errkind.Wrap(errkind.TransientNetwork, err, "downloading log %s", logID)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return "", errkind.New(errkind.TransientProvider, "log download returned %d", resp.StatusCode)
			}
			data, err := io.ReadAll(resp.Body)
			if err != nil {
				return "", errkind.Wrap(errkind.TransientNetwork, err, "reading log %s", logID)
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

func (a *Azure) ListPipelines(ctx context.Context, _ CancelOptions) ([]*Pipeline, error) {
	builds, err := a.listBuilds(ctx, "listing builds")
	if err != nil {
		return nil, err
	}
	var pipelines []*Pipeline
	for i := range builds {
		b := &builds[i]
		if !strings.Contains(b.Definition.Name, a.component) {
			continue
		}
		pipelines = append(pipelines, a.pipelineFromBuild(b))
	}
	return pipelines, nil
}

func (a *Azure) CancelPipeline(ctx context.Context, p *Pipeline) error {
	body, _ := json.Marshal(map[string]string{"status": "cancelling"})
	url := a.apiURL(fmt.Sprintf("/build/builds/%s", p.ID))
	return a.do(ctx, http.MethodPatch, url, body, nil, fmt.Sprintf("cancelling build %s", p.ID))
}

func (a *Azure) WaitForAllPipelinesToFinish(ctx context.Context) error {
	return waitForAllPipelineRuns(ctx, a)
}

// GetWebhookURL is empty: builds trigger through the Azure service
// connection, not a repository webhook.
func (a *Azure) GetWebhookURL() string { return "" }

func (a *Azure) GetCIFilePathInRepo() string { return "azure-pipelines.yml" }

var _ Provider = (*Azure)(nil)
