package git

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"net/http"

	"github.com/google/go-github/v74/github"
	"golang.org/x/crypto/nacl/box"
	"golang.org/x/oauth2"

	"github.com/redhat-appstudio/tssc-test/internal/contentmod"
	"github.com/redhat-appstudio/tssc-test/internal/errkind"
	"github.com/redhat-appstudio/tssc-test/internal/tssc"
	"github.com/redhat-appstudio/tssc-test/pkg/logging"
)

const githubHost = "github.com"

// GitHub implements Provider against the GitHub REST API.
type GitHub struct {
	repoInfo
	client *github.Client
}

// NewGitHub builds a GitHub provider for the component's repositories under
// the given organization.
func NewGitHub(ctx context.Context, component, organization, token string) *GitHub {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	return &GitHub{
		repoInfo: repoInfo{component: component, owner: organization, host: githubHost},
		client:   github.NewClient(oauth2.NewClient(ctx, ts)),
	}
}

func (g *GitHub) GetGitType() tssc.GitType { return tssc.GitGitHub }

// trackRateLimit warns once the remaining request quota for this client
// drops under 10%.
func trackRateLimit(resp *github.Response) {
	if resp == nil || resp.Rate.Limit == 0 {
		return
	}
	if resp.Rate.Remaining*10 < resp.Rate.Limit {
		logging.Warn("Git", "GitHub rate limit low: %d/%d remaining, resets at %s",
			resp.Rate.Remaining, resp.Rate.Limit, resp.Rate.Reset.Format("15:04:05"))
	}
}

// mapGitHubError attaches an ErrorKind derived from the response status,
// preserving the SDK error as the cause.
func mapGitHubError(err error, resp *github.Response, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	kind := errkind.TransientProvider
	var status int
	if resp != nil {
		status = resp.StatusCode
	} else {
		var ghErr *github.ErrorResponse
		if errors.As(err, &ghErr) && ghErr.Response != nil {
			status = ghErr.Response.StatusCode
		}
	}
	switch {
	case status == http.StatusNotFound:
		kind = errkind.NotFound
	case status == http.StatusUnauthorized:
		kind = errkind.Unauthorized
	case status == http.StatusForbidden:
		kind = errkind.Forbidden
	case status == http.StatusConflict || status == http.StatusUnprocessableEntity:
		kind = errkind.Conflict
	case status == http.StatusTooManyRequests:
		kind = errkind.RateLimited
	}
	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		kind = errkind.RateLimited
	}
	return errkind.Wrap(kind, err, format, args...)
}

func (g *GitHub) GetFileContentInString(ctx context.Context, owner, repo, path, branch string) (string, error) {
	fileContent, _, resp, err := g.client.Repositories.GetContents(ctx, owner, repo, path,
		&github.RepositoryContentGetOptions{Ref: branch})
	trackRateLimit(resp)
	if err != nil {
		return "", mapGitHubError(err, resp, "getting %s from %s/%s@%s", path, owner, repo, branch)
	}
	if fileContent == nil {
		return "", errkind.New(errkind.NotFound, "%s in %s/%s is not a file", path, owner, repo)
	}
	content, err := fileContent.GetContent()
	if err != nil {
		return "", errkind.Wrap(errkind.TransientProvider, err, "decoding %s", path)
	}
	return content, nil
}

func (g *GitHub) GetSourceRepoCommitSHA(ctx context.Context, branch string) (string, error) {
	return g.branchSHA(ctx, g.GetSourceRepoName(), branch)
}

func (g *GitHub) GetGitOpsRepoCommitSHA(ctx context.Context, branch string) (string, error) {
	return g.branchSHA(ctx, g.GetGitOpsRepoName(), branch)
}

func (g *GitHub) branchSHA(ctx context.Context, repo, branch string) (string, error) {
	sha, resp, err := g.client.Repositories.GetCommitSHA1(ctx, g.owner, repo, branch, "")
	trackRateLimit(resp)
	if err != nil {
		return "", mapGitHubError(err, resp, "resolving %s on %s/%s", branch, g.owner, repo)
	}
	return sha, nil
}

// CommitChangesToRepo uploads one blob per modified file, writes a single
// tree based on the parent tree, commits it and fast-forwards the branch
// ref. A ref that moved underneath surfaces as a Conflict.
func (g *GitHub) CommitChangesToRepo(ctx context.Context, owner, repo string, mods *contentmod.ContentModifications, message, branch string) (string, error) {
	if mods == nil || mods.IsEmpty() {
		return g.branchSHA(ctx, repo, branch)
	}

	ref, resp, err := g.client.Git.GetRef(ctx, owner, repo, "heads/"+branch)
	trackRateLimit(resp)
	if err != nil {
		return "", mapGitHubError(err, resp, "getting ref heads/%s on %s/%s", branch, owner, repo)
	}
	parentSHA := ref.GetObject().GetSHA()

	parentCommit, resp, err := g.client.Git.GetCommit(ctx, owner, repo, parentSHA)
	trackRateLimit(resp)
	if err != nil {
		return "", mapGitHubError(err, resp, "getting commit %s on %s/%s", parentSHA, owner, repo)
	}

	var entries []*github.TreeEntry
	for _, path := range mods.Paths() {
		content, err := g.GetFileContentInString(ctx, owner, repo, path, branch)
		if err != nil && errkind.KindOf(err) != errkind.NotFound {
			return "", err
		}
		patched := mods.ApplyToContent(path, content)

		blob, resp, err := g.client.Git.CreateBlob(ctx, owner, repo, &github.Blob{
			Content:  github.Ptr(patched),
			Encoding: github.Ptr("utf-8"),
		})
		trackRateLimit(resp)
		if err != nil {
			return "", mapGitHubError(err, resp, "uploading blob for %s", path)
		}

		entries = append(entries, &github.TreeEntry{
			Path: github.Ptr(path),
			Mode: github.Ptr("100644"),
			Type: github.Ptr("blob"),
			SHA:  blob.SHA,
		})
	}

	tree, resp, err := g.client.Git.CreateTree(ctx, owner, repo, parentCommit.GetTree().GetSHA(), entries)
	trackRateLimit(resp)
	if err != nil {
		return "", mapGitHubError(err, resp, "creating tree on %s/%s", owner, repo)
	}

	commit, resp, err := g.client.Git.CreateCommit(ctx, owner, repo, &github.Commit{
		Message: github.Ptr(message),
		Tree:    tree,
		Parents: []*github.Commit{{SHA: github.Ptr(parentSHA)}},
	}, nil)
	trackRateLimit(resp)
	if err != nil {
		return "", mapGitHubError(err, resp, "creating commit on %s/%s", owner, repo)
	}

	ref.Object.SHA = commit.SHA
	_, resp, err = g.client.Git.UpdateRef(ctx, owner, repo, ref, false)
	trackRateLimit(resp)
	if err != nil {
		return "", mapGitHubError(err, resp, "fast-forwarding heads/%s on %s/%s", branch, owner, repo)
	}

	return commit.GetSHA(), nil
}

func (g *GitHub) createBranch(ctx context.Context, repo, branch, fromBranch string) error {
	baseSHA, err := g.branchSHA(ctx, repo, fromBranch)
	if err != nil {
		return err
	}
	_, resp, err := g.client.Git.CreateRef(ctx, g.owner, repo, &github.Reference{
		Ref:    github.Ptr("refs/heads/" + branch),
		Object: &github.GitObject{SHA: github.Ptr(baseSHA)},
	})
	trackRateLimit(resp)
	return mapGitHubError(err, resp, "creating branch %s on %s/%s", branch, g.owner, repo)
}

func (g *GitHub) openPullRequest(ctx context.Context, repo, title, head, base string) (*PullRequest, error) {
	pr, resp, err := g.client.PullRequests.Create(ctx, g.owner, repo, &github.NewPullRequest{
		Title: github.Ptr(title),
		Head:  github.Ptr(head),
		Base:  github.Ptr(base),
	})
	trackRateLimit(resp)
	if err != nil {
		return nil, mapGitHubError(err, resp, "opening pull request %q on %s/%s", title, g.owner, repo)
	}
	return &PullRequest{
		PullNumber: pr.GetNumber(),
		SHA:        pr.GetHead().GetSHA(),
		Repository: repo,
		URL:        pr.GetHTMLURL(),
	}, nil
}

func (g *GitHub) CreateSamplePullRequestOnSourceRepo(ctx context.Context) (*PullRequest, error) {
	return createSamplePullRequest(ctx, g)
}

func (g *GitHub) CreateSampleCommitOnSourceRepo(ctx context.Context) (string, error) {
	return g.CommitChangesToRepo(ctx, g.owner, g.GetSourceRepoName(), SampleSourceChange(),
		"Sample commit for TSSC e2e test", DefaultBranch)
}

func (g *GitHub) MergePullRequest(ctx context.Context, pr *PullRequest) (*PullRequest, error) {
	if pr.IsMerged {
		return pr, nil
	}

	current, resp, err := g.client.PullRequests.Get(ctx, g.owner, pr.Repository, pr.PullNumber)
	trackRateLimit(resp)
	if err != nil {
		return nil, mapGitHubError(err, resp, "getting pull request #%d on %s/%s", pr.PullNumber, g.owner, pr.Repository)
	}
	if current.GetMerged() {
		merged := *pr
		merged.IsMerged = true
		merged.SHA = current.GetMergeCommitSHA()
		if mergedAt := current.GetMergedAt(); !mergedAt.IsZero() {
			t := mergedAt.Time
			merged.MergedAt = &t
		}
		return &merged, nil
	}

	result, resp, err := g.client.PullRequests.Merge(ctx, g.owner, pr.Repository, pr.PullNumber, "", nil)
	trackRateLimit(resp)
	if err != nil {
		return nil, mapGitHubError(err, resp, "merging pull request #%d on %s/%s", pr.PullNumber, g.owner, pr.Repository)
	}

	merged := *pr
	merged.IsMerged = true
	merged.SHA = result.GetSHA()
	return &merged, nil
}

func (g *GitHub) CreatePromotionPullRequestOnGitOpsRepo(ctx context.Context, env tssc.Environment, image string) (*PullRequest, error) {
	return createPromotionPullRequest(ctx, g, env, image)
}

func (g *GitHub) CreatePromotionCommitOnGitOpsRepo(ctx context.Context, env tssc.Environment, image string) (string, error) {
	return createPromotionCommit(ctx, g, env, image)
}

func (g *GitHub) ExtractApplicationImage(ctx context.Context, env tssc.Environment) (string, error) {
	return extractApplicationImage(ctx, g, env)
}

func (g *GitHub) ConfigWebhookOnSourceRepo(ctx context.Context, url string) error {
	return g.configWebhook(ctx, g.GetSourceRepoName(), url)
}

func (g *GitHub) ConfigWebhookOnGitOpsRepo(ctx context.Context, url string) error {
	return g.configWebhook(ctx, g.GetGitOpsRepoName(), url)
}

// configWebhook is idempotent: a hook already registered for url is
// updated in place instead of duplicated.
func (g *GitHub) configWebhook(ctx context.Context, repo, url string) error {
	hooks, resp, err := g.client.Repositories.ListHooks(ctx, g.owner, repo, &github.ListOptions{PerPage: 100})
	trackRateLimit(resp)
	if err != nil {
		return mapGitHubError(err, resp, "listing hooks on %s/%s", g.owner, repo)
	}

	desired := &github.Hook{
		Active: github.Ptr(true),
		Events: []string{"push", "pull_request"},
		Config: &github.HookConfig{
			URL:         github.Ptr(url),
			ContentType: github.Ptr("json"),
		},
	}

	for _, hook := range hooks {
		if hook.GetConfig().GetURL() == url {
			_, resp, err := g.client.Repositories.EditHook(ctx, g.owner, repo, hook.GetID(), desired)
			trackRateLimit(resp)
			return mapGitHubError(err, resp, "updating hook on %s/%s", g.owner, repo)
		}
	}

	_, resp, err = g.client.Repositories.CreateHook(ctx, g.owner, repo, desired)
	trackRateLimit(resp)
	return mapGitHubError(err, resp, "creating hook on %s/%s", g.owner, repo)
}

// SetRepoSecrets seals each value against the repository public key and
// upserts the Actions secret.
func (g *GitHub) SetRepoSecrets(ctx context.Context, repo string, secrets map[string]string) (*SetResult, error) {
	key, resp, err := g.client.Actions.GetRepoPublicKey(ctx, g.owner, repo)
	trackRateLimit(resp)
	if err != nil {
		return nil, mapGitHubError(err, resp, "getting public key for %s/%s", g.owner, repo)
	}

	result := &SetResult{}
	for name, value := range secrets {
		_, resp, err := g.client.Actions.GetRepoSecret(ctx, g.owner, repo, name)
		trackRateLimit(resp)
		exists := err == nil
		if err != nil && resp != nil && resp.StatusCode != http.StatusNotFound {
			return nil, mapGitHubError(err, resp, "getting secret %s on %s/%s", name, g.owner, repo)
		}

		sealed, err := sealSecret(key.GetKey(), value)
		if err != nil {
			return nil, err
		}
		resp, err = g.client.Actions.CreateOrUpdateRepoSecret(ctx, g.owner, repo, &github.EncryptedSecret{
			Name:           name,
			KeyID:          key.GetKeyID(),
			EncryptedValue: sealed,
		})
		trackRateLimit(resp)
		if err != nil {
			return nil, mapGitHubError(err, resp, "setting secret %s on %s/%s", name, g.owner, repo)
		}

		if exists {
			result.Updated = append(result.Updated, name)
		} else {
			result.Created = append(result.Created, name)
		}
	}
	return result, nil
}

// sealSecret encrypts value with the repository's libsodium sealed-box
// public key, as the Actions secrets API requires.
func sealSecret(publicKeyB64, value string) (string, error) {
	decoded, err := base64.StdEncoding.DecodeString(publicKeyB64)
	if err != nil || len(decoded) != 32 {
		return "", errkind.New(errkind.TransientProvider, "invalid repository public key")
	}
	var peerKey [32]byte
	copy(peerKey[:], decoded)

	sealed, err := box.SealAnonymous(nil, []byte(value), &peerKey, rand.Reader)
	if err != nil {
		return "", errkind.Wrap(errkind.TransientProvider, err, "sealing secret value")
	}
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (g *GitHub) SetRepoVariables(ctx context.Context, repo string, variables map[string]string) (*SetResult, error) {
	result := &SetResult{}
	for name, value := range variables {
		existing, resp, err := g.client.Actions.GetRepoVariable(ctx, g.owner, repo, name)
		trackRateLimit(resp)
		if err != nil {
			if resp == nil || resp.StatusCode != http.StatusNotFound {
				return nil, mapGitHubError(err, resp, "getting variable %s on %s/%s", name, g.owner, repo)
			}
			resp, err = g.client.Actions.CreateRepoVariable(ctx, g.owner, repo, &github.ActionsVariable{
				Name: name, Value: value,
			})
			trackRateLimit(resp)
			if err != nil {
				return nil, mapGitHubError(err, resp, "creating variable %s on %s/%s", name, g.owner, repo)
			}
			result.Created = append(result.Created, name)
			continue
		}

		// Setting an already-equal value is a no-op on the provider but
		// still reported as updated.
		if existing.Value != value {
			resp, err = g.client.Actions.UpdateRepoVariable(ctx, g.owner, repo, &github.ActionsVariable{
				Name: name, Value: value,
			})
			trackRateLimit(resp)
			if err != nil {
				return nil, mapGitHubError(err, resp, "updating variable %s on %s/%s", name, g.owner, repo)
			}
		}
		result.Updated = append(result.Updated, name)
	}
	return result, nil
}

var _ branching = (*GitHub)(nil)
