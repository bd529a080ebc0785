package git

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/redhat-appstudio/tssc-test/internal/contentmod"
	"github.com/redhat-appstudio/tssc-test/internal/errkind"
	"github.com/redhat-appstudio/tssc-test/internal/tssc"
	"github.com/redhat-appstudio/tssc-test/pkg/logging"
)

const (
	bitbucketHost    = "bitbucket.org"
	bitbucketAPIBase = "https://api.bitbucket.org/2.0"
)

// Bitbucket implements Provider against the Bitbucket Cloud 2.0 REST API.
// Bitbucket has no multi-file commit endpoint, so CommitChangesToRepo
// uploads all files in a single src POST, which Bitbucket records as one
// commit.
type Bitbucket struct {
	repoInfo
	client   *retryablehttp.Client
	username string
	password string
}

// NewBitbucket builds a Bitbucket provider for the component's
// repositories in the given workspace, authenticating with an app
// password.
func NewBitbucket(component, workspace, username, appPassword string) *Bitbucket {
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.RetryWaitMin = 1 * time.Second
	client.RetryWaitMax = 10 * time.Second
	client.Logger = nil
	return &Bitbucket{
		repoInfo: repoInfo{component: component, owner: workspace, host: bitbucketHost},
		client:   client,
		username: username,
		password: appPassword,
	}
}

func (b *Bitbucket) GetGitType() tssc.GitType { return tssc.GitBitbucket }

func mapBitbucketStatus(status int, body, what string) error {
	kind := errkind.TransientProvider
	switch status {
	case http.StatusNotFound:
		kind = errkind.NotFound
	case http.StatusUnauthorized:
		kind = errkind.Unauthorized
	case http.StatusForbidden:
		kind = errkind.Forbidden
	case http.StatusConflict:
		kind = errkind.Conflict
	case http.StatusTooManyRequests:
		kind = errkind.RateLimited
	}
	return errkind.New(kind, "%s: bitbucket returned %d: %s", what, status, strings.TrimSpace(body))
}

// do issues an authenticated request and decodes a JSON response into out
// when out is non-nil and the response carries a body.
func (b *Bitbucket) do(ctx context.Context, method, path string, body io.Reader, contentType string, out interface{}, what string) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, method, bitbucketAPIBase+path, body)
	if err != nil {
		return errkind.Wrap(errkind.Unknown, err, "%s", what)
	}
	req.SetBasicAuth(b.username, b.password)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return errkind.Wrap(errkind.TransientNetwork, err, "%s", what)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return errkind.Wrap(errkind.TransientNetwork, err, "%s: reading response", what)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return mapBitbucketStatus(resp.StatusCode, string(data), what)
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return errkind.Wrap(errkind.TransientProvider, err, "%s: decoding response", what)
		}
	}
	return nil
}

func (b *Bitbucket) repoPath(owner, repo string) string {
	return fmt.Sprintf("/repositories/%s/%s", owner, repo)
}

func (b *Bitbucket) GetFileContentInString(ctx context.Context, owner, repo, path, branch string) (string, error) {
	what := fmt.Sprintf("getting %s from %s/%s@%s", path, owner, repo, branch)
	reqPath := fmt.Sprintf("%s/src/%s/%s", b.repoPath(owner, repo), url.PathEscape(branch), path)

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, bitbucketAPIBase+reqPath, nil)
	if err != nil {
		return "", errkind.Wrap(errkind.Unknown, err, "%s", what)
	}
	req.SetBasicAuth(b.username, b.password)

	resp, err := b.client.Do(req)
	if err != nil {
		return "", errkind.Wrap(errkind.TransientNetwork, err, "%s", what)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errkind.Wrap(errkind.TransientNetwork, err, "%s: reading response", what)
	}
	if resp.StatusCode != http.StatusOK {
		return "", mapBitbucketStatus(resp.StatusCode, string(data), what)
	}
	return string(data), nil
}

type bitbucketRef struct {
	Target struct {
		Hash string `json:"hash"`
	} `json:"target"`
}

func (b *Bitbucket) GetSourceRepoCommitSHA(ctx context.Context, branch string) (string, error) {
	return b.branchSHA(ctx, b.GetSourceRepoName(), branch)
}

func (b *Bitbucket) GetGitOpsRepoCommitSHA(ctx context.Context, branch string) (string, error) {
	return b.branchSHA(ctx, b.GetGitOpsRepoName(), branch)
}

func (b *Bitbucket) branchSHA(ctx context.Context, repo, branch string) (string, error) {
	var ref bitbucketRef
	path := fmt.Sprintf("%s/refs/branches/%s", b.repoPath(b.owner, repo), url.PathEscape(branch))
	if err := b.do(ctx, http.MethodGet, path, nil, "", &ref,
		fmt.Sprintf("resolving %s on %s/%s", branch, b.owner, repo)); err != nil {
		return "", err
	}
	return ref.Target.Hash, nil
}

// CommitChangesToRepo uploads all modified files in one src POST. The
// endpoint returns no commit data, so the resulting SHA is read back from
// the branch head.
func (b *Bitbucket) CommitChangesToRepo(ctx context.Context, owner, repo string, mods *contentmod.ContentModifications, message, branch string) (string, error) {
	if mods == nil || mods.IsEmpty() {
		return b.branchSHA(ctx, repo, branch)
	}

	form := url.Values{}
	form.Set("branch", branch)
	form.Set("message", message)
	for _, path := range mods.Paths() {
		content, err := b.GetFileContentInString(ctx, owner, repo, path, branch)
		if err != nil {
			if errkind.KindOf(err) != errkind.NotFound {
				return "", err
			}
			content = ""
		}
		form.Set(path, mods.ApplyToContent(path, content))
	}

	what := fmt.Sprintf("committing to %s/%s@%s", owner, repo, branch)
	if err := b.do(ctx, http.MethodPost, b.repoPath(owner, repo)+"/src",
		strings.NewReader(form.Encode()), "application/x-www-form-urlencoded", nil, what); err != nil {
		return "", err
	}
	return b.branchSHA(ctx, repo, branch)
}

func (b *Bitbucket) createBranch(ctx context.Context, repo, branch, fromBranch string) error {
	fromSHA, err := b.branchSHA(ctx, repo, fromBranch)
	if err != nil {
		return err
	}
	payload := map[string]interface{}{
		"name":   branch,
		"target": map[string]string{"hash": fromSHA},
	}
	body, _ := json.Marshal(payload)
	return b.do(ctx, http.MethodPost, b.repoPath(b.owner, repo)+"/refs/branches",
		bytes.NewReader(body), "application/json", nil,
		fmt.Sprintf("creating branch %s on %s/%s", branch, b.owner, repo))
}

type bitbucketPullRequest struct {
	ID     int    `json:"id"`
	State  string `json:"state"`
	Source struct {
		Commit struct {
			Hash string `json:"hash"`
		} `json:"commit"`
	} `json:"source"`
	MergeCommit struct {
		Hash string `json:"hash"`
	} `json:"merge_commit"`
	Links struct {
		HTML struct {
			Href string `json:"href"`
		} `json:"html"`
	} `json:"links"`
}

func (b *Bitbucket) openPullRequest(ctx context.Context, repo, title, head, base string) (*PullRequest, error) {
	payload := map[string]interface{}{
		"title":       title,
		"source":      map[string]interface{}{"branch": map[string]string{"name": head}},
		"destination": map[string]interface{}{"branch": map[string]string{"name": base}},
	}
	body, _ := json.Marshal(payload)

	var pr bitbucketPullRequest
	if err := b.do(ctx, http.MethodPost, b.repoPath(b.owner, repo)+"/pullrequests",
		bytes.NewReader(body), "application/json", &pr,
		fmt.Sprintf("opening pull request %q on %s/%s", title, b.owner, repo)); err != nil {
		return nil, err
	}
	return &PullRequest{
		PullNumber: pr.ID,
		SHA:        pr.Source.Commit.Hash,
		Repository: repo,
		URL:        pr.Links.HTML.Href,
	}, nil
}

func (b *Bitbucket) CreateSamplePullRequestOnSourceRepo(ctx context.Context) (*PullRequest, error) {
	return createSamplePullRequest(ctx, b)
}

func (b *Bitbucket) CreateSampleCommitOnSourceRepo(ctx context.Context) (string, error) {
	return b.CommitChangesToRepo(ctx, b.owner, b.GetSourceRepoName(), SampleSourceChange(),
		"Sample commit for TSSC e2e test", DefaultBranch)
}

func (b *Bitbucket) MergePullRequest(ctx context.Context, pr *PullRequest) (*PullRequest, error) {
	if pr.IsMerged {
		return pr, nil
	}

	prPath := fmt.Sprintf("%s/pullrequests/%d", b.repoPath(b.owner, pr.Repository), pr.PullNumber)
	var current bitbucketPullRequest
	if err := b.do(ctx, http.MethodGet, prPath, nil, "", &current,
		fmt.Sprintf("getting pull request #%d on %s/%s", pr.PullNumber, b.owner, pr.Repository)); err != nil {
		return nil, err
	}

	merged := *pr
	if current.State == "MERGED" {
		merged.IsMerged = true
		merged.SHA = current.MergeCommit.Hash
		return &merged, nil
	}

	var accepted bitbucketPullRequest
	if err := b.do(ctx, http.MethodPost, prPath+"/merge", strings.NewReader("{}"),
		"application/json", &accepted,
		fmt.Sprintf("merging pull request #%d on %s/%s", pr.PullNumber, b.owner, pr.Repository)); err != nil {
		return nil, err
	}
	now := time.Now()
	merged.IsMerged = true
	merged.SHA = accepted.MergeCommit.Hash
	merged.MergedAt = &now
	return &merged, nil
}

func (b *Bitbucket) CreatePromotionPullRequestOnGitOpsRepo(ctx context.Context, env tssc.Environment, image string) (*PullRequest, error) {
	return createPromotionPullRequest(ctx, b, env, image)
}

func (b *Bitbucket) CreatePromotionCommitOnGitOpsRepo(ctx context.Context, env tssc.Environment, image string) (string, error) {
	return createPromotionCommit(ctx, b, env, image)
}

func (b *Bitbucket) ExtractApplicationImage(ctx context.Context, env tssc.Environment) (string, error) {
	return extractApplicationImage(ctx, b, env)
}

func (b *Bitbucket) ConfigWebhookOnSourceRepo(ctx context.Context, url string) error {
	return b.configWebhook(ctx, b.GetSourceRepoName(), url)
}

func (b *Bitbucket) ConfigWebhookOnGitOpsRepo(ctx context.Context, url string) error {
	return b.configWebhook(ctx, b.GetGitOpsRepoName(), url)
}

type bitbucketHook struct {
	UID    string   `json:"uuid"`
	URL    string   `json:"url"`
	Events []string `json:"events"`
	Active bool     `json:"active"`
}

func (b *Bitbucket) configWebhook(ctx context.Context, repo, hookURL string) error {
	var page struct {
		Values []bitbucketHook `json:"values"`
	}
	hooksPath := b.repoPath(b.owner, repo) + "/hooks"
	if err := b.do(ctx, http.MethodGet, hooksPath+"?pagelen=100", nil, "", &page,
		fmt.Sprintf("listing hooks on %s/%s", b.owner, repo)); err != nil {
		return err
	}

	payload := map[string]interface{}{
		"description": "tssc-test webhook",
		"url":         hookURL,
		"active":      true,
		"events":      []string{"repo:push", "pullrequest:created", "pullrequest:updated"},
	}
	body, _ := json.Marshal(payload)

	for _, hook := range page.Values {
		if hook.URL == hookURL {
			logging.Debug("git", "Webhook %s already present on %s/%s, updating", hookURL, b.owner, repo)
			return b.do(ctx, http.MethodPut, fmt.Sprintf("%s/%s", hooksPath, url.PathEscape(hook.UID)),
				bytes.NewReader(body), "application/json", nil,
				fmt.Sprintf("updating hook on %s/%s", b.owner, repo))
		}
	}
	return b.do(ctx, http.MethodPost, hooksPath, bytes.NewReader(body), "application/json", nil,
		fmt.Sprintf("creating hook on %s/%s", b.owner, repo))
}

// SetRepoSecrets stores secrets as secured pipeline variables.
func (b *Bitbucket) SetRepoSecrets(ctx context.Context, repo string, secrets map[string]string) (*SetResult, error) {
	return b.setPipelineVariables(ctx, repo, secrets, true)
}

func (b *Bitbucket) SetRepoVariables(ctx context.Context, repo string, variables map[string]string) (*SetResult, error) {
	return b.setPipelineVariables(ctx, repo, variables, false)
}

type bitbucketVariable struct {
	UID     string `json:"uuid"`
	Key     string `json:"key"`
	Value   string `json:"value"`
	Secured bool   `json:"secured"`
}

func (b *Bitbucket) setPipelineVariables(ctx context.Context, repo string, values map[string]string, secured bool) (*SetResult, error) {
	varsPath := b.repoPath(b.owner, repo) + "/pipelines_config/variables/"
	var page struct {
		Values []bitbucketVariable `json:"values"`
	}
	if err := b.do(ctx, http.MethodGet, varsPath+"?pagelen=100", nil, "", &page,
		fmt.Sprintf("listing pipeline variables on %s/%s", b.owner, repo)); err != nil {
		return nil, err
	}
	existing := make(map[string]bitbucketVariable, len(page.Values))
	for _, v := range page.Values {
		existing[v.Key] = v
	}

	result := &SetResult{}
	for key, value := range values {
		payload, _ := json.Marshal(bitbucketVariable{Key: key, Value: value, Secured: secured})
		if v, ok := existing[key]; ok {
			if err := b.do(ctx, http.MethodPut, varsPath+url.PathEscape(v.UID),
				bytes.NewReader(payload), "application/json", nil,
				fmt.Sprintf("updating pipeline variable %s on %s/%s", key, b.owner, repo)); err != nil {
				return nil, err
			}
			result.Updated = append(result.Updated, key)
			continue
		}
		if err := b.do(ctx, http.MethodPost, varsPath, bytes.NewReader(payload), "application/json", nil,
			fmt.Sprintf("creating pipeline variable %s on %s/%s", key, b.owner, repo)); err != nil {
			return nil, err
		}
		result.Created = append(result.Created, key)
	}
	return result, nil
}

var _ branching = (*Bitbucket)(nil)
