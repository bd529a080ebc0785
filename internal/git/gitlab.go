package git

import (
	"context"
	"fmt"
	"net/http"

	gitlab "gitlab.com/gitlab-org/api/client-go"

	"github.com/redhat-appstudio/tssc-test/internal/contentmod"
	"github.com/redhat-appstudio/tssc-test/internal/errkind"
	"github.com/redhat-appstudio/tssc-test/internal/tssc"
)

const gitlabHost = "gitlab.com"

// GitLab implements Provider against the GitLab REST API. Multi-file
// commits use the commit actions endpoint, which writes all files in a
// single commit.
type GitLab struct {
	repoInfo
	client *gitlab.Client
}

// NewGitLab builds a GitLab provider for the component's projects under
// the given group.
func NewGitLab(component, group, token string) (*GitLab, error) {
	client, err := gitlab.NewClient(token, gitlab.WithBaseURL(fmt.Sprintf("https://%s/api/v4", gitlabHost)))
	if err != nil {
		return nil, errkind.Wrap(errkind.InvalidConfig, err, "creating GitLab client")
	}
	return &GitLab{
		repoInfo: repoInfo{component: component, owner: group, host: gitlabHost},
		client:   client,
	}, nil
}

func (g *GitLab) GetGitType() tssc.GitType { return tssc.GitGitLab }

// pid is the URL-encoded project path GitLab accepts in place of a
// numeric project ID.
func (g *GitLab) pid(repo string) string {
	return g.owner + "/" + repo
}

func mapGitLabError(err error, resp *gitlab.Response, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	kind := errkind.TransientProvider
	if resp != nil {
		switch resp.StatusCode {
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
	}
	return errkind.Wrap(kind, err, format, args...)
}

func (g *GitLab) GetFileContentInString(ctx context.Context, owner, repo, path, branch string) (string, error) {
	raw, resp, err := g.client.RepositoryFiles.GetRawFile(owner+"/"+repo, path,
		&gitlab.GetRawFileOptions{Ref: gitlab.Ptr(branch)}, gitlab.WithContext(ctx))
	if err != nil {
		return "", mapGitLabError(err, resp, "getting %s from %s/%s@%s", path, owner, repo, branch)
	}
	return string(raw), nil
}

func (g *GitLab) GetSourceRepoCommitSHA(ctx context.Context, branch string) (string, error) {
	return g.branchSHA(ctx, g.GetSourceRepoName(), branch)
}

func (g *GitLab) GetGitOpsRepoCommitSHA(ctx context.Context, branch string) (string, error) {
	return g.branchSHA(ctx, g.GetGitOpsRepoName(), branch)
}

func (g *GitLab) branchSHA(ctx context.Context, repo, branch string) (string, error) {
	b, resp, err := g.client.Branches.GetBranch(g.pid(repo), branch, gitlab.WithContext(ctx))
	if err != nil {
		return "", mapGitLabError(err, resp, "resolving %s on %s", branch, g.pid(repo))
	}
	return b.Commit.ID, nil
}

// CommitChangesToRepo writes every modified file through the commit
// actions endpoint, producing exactly one commit.
func (g *GitLab) CommitChangesToRepo(ctx context.Context, owner, repo string, mods *contentmod.ContentModifications, message, branch string) (string, error) {
	if mods == nil || mods.IsEmpty() {
		return g.branchSHA(ctx, repo, branch)
	}

	pid := owner + "/" + repo
	var actions []*gitlab.CommitActionOptions
	for _, path := range mods.Paths() {
		content, err := g.GetFileContentInString(ctx, owner, repo, path, branch)
		action := gitlab.FileUpdate
		if err != nil {
			if errkind.KindOf(err) != errkind.NotFound {
				return "", err
			}
			action = gitlab.FileCreate
			content = ""
		}
		actions = append(actions, &gitlab.CommitActionOptions{
			Action:   gitlab.Ptr(action),
			FilePath: gitlab.Ptr(path),
			Content:  gitlab.Ptr(mods.ApplyToContent(path, content)),
		})
	}

	commit, resp, err := g.client.Commits.CreateCommit(pid, &gitlab.CreateCommitOptions{
		Branch:        gitlab.Ptr(branch),
		CommitMessage: gitlab.Ptr(message),
		Actions:       actions,
	}, gitlab.WithContext(ctx))
	if err != nil {
		return "", mapGitLabError(err, resp, "committing to %s@%s", pid, branch)
	}
	return commit.ID, nil
}

func (g *GitLab) createBranch(ctx context.Context, repo, branch, fromBranch string) error {
	_, resp, err := g.client.Branches.CreateBranch(g.pid(repo), &gitlab.CreateBranchOptions{
		Branch: gitlab.Ptr(branch),
		Ref:    gitlab.Ptr(fromBranch),
	}, gitlab.WithContext(ctx))
	return mapGitLabError(err, resp, "creating branch %s on %s", branch, g.pid(repo))
}

func (g *GitLab) openPullRequest(ctx context.Context, repo, title, head, base string) (*PullRequest, error) {
	mr, resp, err := g.client.MergeRequests.CreateMergeRequest(g.pid(repo), &gitlab.CreateMergeRequestOptions{
		Title:        gitlab.Ptr(title),
		SourceBranch: gitlab.Ptr(head),
		TargetBranch: gitlab.Ptr(base),
	}, gitlab.WithContext(ctx))
	if err != nil {
		return nil, mapGitLabError(err, resp, "opening merge request %q on %s", title, g.pid(repo))
	}
	return &PullRequest{
		PullNumber: int(mr.IID),
		SHA:        mr.SHA,
		Repository: repo,
		URL:        mr.WebURL,
	}, nil
}

func (g *GitLab) CreateSamplePullRequestOnSourceRepo(ctx context.Context) (*PullRequest, error) {
	return createSamplePullRequest(ctx, g)
}

func (g *GitLab) CreateSampleCommitOnSourceRepo(ctx context.Context) (string, error) {
	return g.CommitChangesToRepo(ctx, g.owner, g.GetSourceRepoName(), SampleSourceChange(),
		"Sample commit for TSSC e2e test", DefaultBranch)
}

func (g *GitLab) MergePullRequest(ctx context.Context, pr *PullRequest) (*PullRequest, error) {
	if pr.IsMerged {
		return pr, nil
	}

	pid := g.pid(pr.Repository)
	current, resp, err := g.client.MergeRequests.GetMergeRequest(pid, int64(pr.PullNumber), nil, gitlab.WithContext(ctx))
	if err != nil {
		return nil, mapGitLabError(err, resp, "getting merge request !%d on %s", pr.PullNumber, pid)
	}
	if current.State == "merged" {
		merged := *pr
		merged.IsMerged = true
		merged.SHA = current.MergeCommitSHA
		merged.MergedAt = current.MergedAt
		return &merged, nil
	}

	accepted, resp, err := g.client.MergeRequests.AcceptMergeRequest(pid, int64(pr.PullNumber),
		&gitlab.AcceptMergeRequestOptions{}, gitlab.WithContext(ctx))
	if err != nil {
		return nil, mapGitLabError(err, resp, "accepting merge request !%d on %s", pr.PullNumber, pid)
	}

	merged := *pr
	merged.IsMerged = true
	merged.SHA = accepted.MergeCommitSHA
	merged.MergedAt = accepted.MergedAt
	return &merged, nil
}

func (g *GitLab) CreatePromotionPullRequestOnGitOpsRepo(ctx context.Context, env tssc.Environment, image string) (*PullRequest, error) {
	return createPromotionPullRequest(ctx, g, env, image)
}

func (g *GitLab) CreatePromotionCommitOnGitOpsRepo(ctx context.Context, env tssc.Environment, image string) (string, error) {
	return createPromotionCommit(ctx, g, env, image)
}

func (g *GitLab) ExtractApplicationImage(ctx context.Context, env tssc.Environment) (string, error) {
	return extractApplicationImage(ctx, g, env)
}

func (g *GitLab) ConfigWebhookOnSourceRepo(ctx context.Context, url string) error {
	return g.configWebhook(ctx, g.GetSourceRepoName(), url)
}

func (g *GitLab) ConfigWebhookOnGitOpsRepo(ctx context.Context, url string) error {
	return g.configWebhook(ctx, g.GetGitOpsRepoName(), url)
}

func (g *GitLab) configWebhook(ctx context.Context, repo, url string) error {
	pid := g.pid(repo)
	hooks, resp, err := g.client.Projects.ListProjectHooks(pid,
		&gitlab.ListProjectHooksOptions{ListOptions: gitlab.ListOptions{PerPage: 100}},
		gitlab.WithContext(ctx))
	if err != nil {
		return mapGitLabError(err, resp, "listing hooks on %s", pid)
	}

	for _, hook := range hooks {
		if hook.URL == url {
			_, resp, err := g.client.Projects.EditProjectHook(pid, hook.ID, &gitlab.EditProjectHookOptions{
				URL:                 gitlab.Ptr(url),
				PushEvents:          gitlab.Ptr(true),
				MergeRequestsEvents: gitlab.Ptr(true),
			}, gitlab.WithContext(ctx))
			return mapGitLabError(err, resp, "updating hook on %s", pid)
		}
	}

	_, resp, err = g.client.Projects.AddProjectHook(pid, &gitlab.AddProjectHookOptions{
		URL:                 gitlab.Ptr(url),
		PushEvents:          gitlab.Ptr(true),
		MergeRequestsEvents: gitlab.Ptr(true),
	}, gitlab.WithContext(ctx))
	return mapGitLabError(err, resp, "creating hook on %s", pid)
}

// SetRepoSecrets stores secrets as masked project variables; GitLab has no
// separate secret store for CI.
func (g *GitLab) SetRepoSecrets(ctx context.Context, repo string, secrets map[string]string) (*SetResult, error) {
	return g.setVariables(ctx, repo, secrets, true)
}

func (g *GitLab) SetRepoVariables(ctx context.Context, repo string, variables map[string]string) (*SetResult, error) {
	return g.setVariables(ctx, repo, variables, false)
}

func (g *GitLab) setVariables(ctx context.Context, repo string, values map[string]string, masked bool) (*SetResult, error) {
	pid := g.pid(repo)
	result := &SetResult{}
	for key, value := range values {
		existing, resp, err := g.client.ProjectVariables.GetVariable(pid, key, nil, gitlab.WithContext(ctx))
		if err != nil {
			if resp == nil || resp.StatusCode != http.StatusNotFound {
				return nil, mapGitLabError(err, resp, "getting variable %s on %s", key, pid)
			}
			_, resp, err = g.client.ProjectVariables.CreateVariable(pid, &gitlab.CreateProjectVariableOptions{
				Key:    gitlab.Ptr(key),
				Value:  gitlab.Ptr(value),
				Masked: gitlab.Ptr(masked),
			}, gitlab.WithContext(ctx))
			if err != nil {
				return nil, mapGitLabError(err, resp, "creating variable %s on %s", key, pid)
			}
			result.Created = append(result.Created, key)
			continue
		}

		if existing.Value != value {
			_, resp, err = g.client.ProjectVariables.UpdateVariable(pid, key, &gitlab.UpdateProjectVariableOptions{
				Value:  gitlab.Ptr(value),
				Masked: gitlab.Ptr(masked),
			}, gitlab.WithContext(ctx))
			if err != nil {
				return nil, mapGitLabError(err, resp, "updating variable %s on %s", key, pid)
			}
		}
		result.Updated = append(result.Updated, key)
	}
	return result, nil
}

var _ branching = (*GitLab)(nil)
