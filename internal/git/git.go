// Package git defines the uniform git-provider capability consumed by the
// orchestrator and its GitHub, GitLab and Bitbucket variants. Callers never
// see backend SDK types; everything is exchanged through Provider,
// PullRequest and ContentModifications.
package git

import (
	"context"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/redhat-appstudio/tssc-test/internal/contentmod"
	"github.com/redhat-appstudio/tssc-test/internal/errkind"
	"github.com/redhat-appstudio/tssc-test/internal/tssc"
)

// PullRequest is the provider-neutral view of a pull/merge request.
// PullNumber 0 marks a direct-commit reference used by CI systems that
// build from pushes to main.
type PullRequest struct {
	PullNumber int        `json:"pullNumber"`
	SHA        string     `json:"sha"`
	Repository string     `json:"repository"`
	IsMerged   bool       `json:"isMerged"`
	MergedAt   *time.Time `json:"mergedAt,omitempty"`
	URL        string     `json:"url,omitempty"`
}

// DirectCommitRef builds the stub pull request representing a commit pushed
// straight to main.
func DirectCommitRef(sha, repository string) *PullRequest {
	return &PullRequest{PullNumber: 0, SHA: sha, Repository: repository}
}

// IsDirectCommit reports whether this reference stands for a direct commit
// rather than a real pull request.
func (p *PullRequest) IsDirectCommit() bool {
	return p.PullNumber == 0
}

// SetResult reports which keys a secret/variable update created versus
// updated. A key whose value already matched is still counted as updated.
type SetResult struct {
	Created []string `json:"created"`
	Updated []string `json:"updated"`
}

// SamplePRTitle is the title of pull requests opened by the source-change
// step.
const SamplePRTitle = "Test PR from TSSC e2e test"

// DefaultBranch is the branch all repositories are provisioned with.
const DefaultBranch = "main"

// GitOpsRepoSuffix distinguishes the GitOps repository provisioned next to
// every source repository.
const GitOpsRepoSuffix = "-gitops"

// Provider is the git capability set. All operations are idempotent with
// respect to branch state; commit operations fail with a Conflict kind when
// the target ref moved underneath and callers retry.
type Provider interface {
	GetGitType() tssc.GitType
	GetRepoOwner() string
	GetSourceRepoName() string
	GetGitOpsRepoName() string
	GetHost() string
	GetSourceRepoURL() string
	GetGitOpsRepoURL() string

	// GetFileContentInString fetches a file at the branch tip. Absent
	// files fail with a NotFound kind.
	GetFileContentInString(ctx context.Context, owner, repo, path, branch string) (string, error)
	GetSourceRepoCommitSHA(ctx context.Context, branch string) (string, error)
	GetGitOpsRepoCommitSHA(ctx context.Context, branch string) (string, error)

	// CommitChangesToRepo applies mods to the branch tip and returns the
	// new commit SHA. Empty mods are a no-op returning the current SHA.
	CommitChangesToRepo(ctx context.Context, owner, repo string, mods *contentmod.ContentModifications, message, branch string) (string, error)

	CreateSamplePullRequestOnSourceRepo(ctx context.Context) (*PullRequest, error)
	CreateSampleCommitOnSourceRepo(ctx context.Context) (string, error)

	// MergePullRequest merges pr and returns it with IsMerged set and the
	// merge-commit SHA. Already-merged input is returned unchanged.
	MergePullRequest(ctx context.Context, pr *PullRequest) (*PullRequest, error)

	CreatePromotionPullRequestOnGitOpsRepo(ctx context.Context, env tssc.Environment, image string) (*PullRequest, error)
	CreatePromotionCommitOnGitOpsRepo(ctx context.Context, env tssc.Environment, image string) (string, error)

	// ExtractApplicationImage returns the full image reference currently
	// deployed to env, read from the GitOps overlay.
	ExtractApplicationImage(ctx context.Context, env tssc.Environment) (string, error)

	// ConfigWebhookOn*Repo registers url as a webhook, updating the
	// existing hook when the URL is already registered.
	ConfigWebhookOnSourceRepo(ctx context.Context, url string) error
	ConfigWebhookOnGitOpsRepo(ctx context.Context, url string) error

	// SetRepoSecrets and SetRepoVariables upsert CI secrets/variables on
	// the named repository and report created versus updated keys.
	SetRepoSecrets(ctx context.Context, repo string, secrets map[string]string) (*SetResult, error)
	SetRepoVariables(ctx context.Context, repo string, variables map[string]string) (*SetResult, error)
}

// repoInfo carries the identifiers every provider variant shares. The
// GitOps repository is always the source repository plus a "-gitops"
// suffix, provisioned by the developer hub template.
type repoInfo struct {
	component string
	owner     string
	host      string
}

func (r repoInfo) GetRepoOwner() string      { return r.owner }
func (r repoInfo) GetSourceRepoName() string { return r.component }
func (r repoInfo) GetGitOpsRepoName() string { return r.component + GitOpsRepoSuffix }
func (r repoInfo) GetHost() string           { return r.host }

func (r repoInfo) GetSourceRepoURL() string {
	return fmt.Sprintf("https://%s/%s/%s", r.host, r.owner, r.GetSourceRepoName())
}

func (r repoInfo) GetGitOpsRepoURL() string {
	return fmt.Sprintf("https://%s/%s/%s", r.host, r.owner, r.GetGitOpsRepoName())
}

// DeploymentPatchPath is the overlay file promotion rewrites. The file
// holds a single "- image: <ref>" line whose indentation must survive
// edits.
func DeploymentPatchPath(component string, env tssc.Environment) string {
	return fmt.Sprintf("components/%s/overlays/%s/deployment-patch.yaml", component, env)
}

// SampleSourceChange builds the modification committed by the
// source-change step. Inserting after the first line keeps the replacement
// independent of template contents.
func SampleSourceChange() *contentmod.ContentModifications {
	mods := contentmod.New()
	mods.Add("README.md", "\n",
		fmt.Sprintf("\nUpdated by TSSC e2e test at %s.\n", time.Now().UTC().Format(time.RFC3339)))
	return mods
}

// sampleBranchName builds the throwaway branch for a sample pull request.
func sampleBranchName() string {
	return fmt.Sprintf("test-branch-%d", time.Now().Unix())
}

func promotionBranchName(env tssc.Environment) string {
	return fmt.Sprintf("promote-%s-%d", env, time.Now().Unix())
}

func promotionCommitMessage(env tssc.Environment, image string) string {
	return fmt.Sprintf("Promote %s to %s", image, env)
}

// branching is the low-level surface each variant implements so the
// high-level pull-request flows below stay provider independent.
type branching interface {
	Provider
	createBranch(ctx context.Context, repo, branch, fromBranch string) error
	openPullRequest(ctx context.Context, repo, title, head, base string) (*PullRequest, error)
}

// createSamplePullRequest opens a PR on the source repository carrying the
// sample source change.
func createSamplePullRequest(ctx context.Context, p branching) (*PullRequest, error) {
	repo := p.GetSourceRepoName()
	branch := sampleBranchName()

	if err := p.createBranch(ctx, repo, branch, DefaultBranch); err != nil {
		return nil, err
	}
	if _, err := p.CommitChangesToRepo(ctx, p.GetRepoOwner(), repo, SampleSourceChange(),
		"Sample change for TSSC e2e test", branch); err != nil {
		return nil, err
	}
	return p.openPullRequest(ctx, repo, SamplePRTitle, branch, DefaultBranch)
}

// promotionModifications builds the image bump for env against the current
// overlay contents.
func promotionModifications(ctx context.Context, p Provider, env tssc.Environment, image string) (*contentmod.ContentModifications, error) {
	path := DeploymentPatchPath(p.GetSourceRepoName(), env)
	content, err := p.GetFileContentInString(ctx, p.GetRepoOwner(), p.GetGitOpsRepoName(), path, DefaultBranch)
	if err != nil {
		return nil, err
	}
	replacement, err := contentmod.ImageLineReplacement(content, image)
	if err != nil {
		return nil, errkind.Wrap(errkind.InvalidConfig, err, "overlay %s", path)
	}
	return contentmod.New().AddAll(path, []contentmod.Replacement{replacement}), nil
}

// createPromotionPullRequest opens a PR on the GitOps repository bumping
// the env overlay image.
func createPromotionPullRequest(ctx context.Context, p branching, env tssc.Environment, image string) (*PullRequest, error) {
	mods, err := promotionModifications(ctx, p, env, image)
	if err != nil {
		return nil, err
	}

	repo := p.GetGitOpsRepoName()
	branch := promotionBranchName(env)
	if err := p.createBranch(ctx, repo, branch, DefaultBranch); err != nil {
		return nil, err
	}
	if _, err := p.CommitChangesToRepo(ctx, p.GetRepoOwner(), repo, mods,
		promotionCommitMessage(env, image), branch); err != nil {
		return nil, err
	}
	return p.openPullRequest(ctx, repo, fmt.Sprintf("Promote to %s", env), branch, DefaultBranch)
}

// createPromotionCommit commits the env overlay image bump straight to
// main on the GitOps repository.
func createPromotionCommit(ctx context.Context, p Provider, env tssc.Environment, image string) (string, error) {
	mods, err := promotionModifications(ctx, p, env, image)
	if err != nil {
		return "", err
	}
	return p.CommitChangesToRepo(ctx, p.GetRepoOwner(), p.GetGitOpsRepoName(), mods,
		promotionCommitMessage(env, image), DefaultBranch)
}

// extractApplicationImage reads the single image reference from the env
// overlay of the GitOps repository. Reads parse the patch as YAML; writes
// stay literal (contentmod) so the original indentation survives.
func extractApplicationImage(ctx context.Context, p Provider, env tssc.Environment) (string, error) {
	path := DeploymentPatchPath(p.GetSourceRepoName(), env)
	content, err := p.GetFileContentInString(ctx, p.GetRepoOwner(), p.GetGitOpsRepoName(), path, DefaultBranch)
	if err != nil {
		return "", err
	}

	var root yaml.Node
	if err := yaml.Unmarshal([]byte(content), &root); err != nil {
		return "", errkind.Wrap(errkind.InvalidConfig, err, "overlay %s", path)
	}
	images := collectImageValues(&root)
	if len(images) == 0 {
		return "", errkind.New(errkind.NotFound, "no image in overlay %s", path)
	}
	if len(images) > 1 {
		return "", errkind.New(errkind.InvalidConfig,
			"overlay %s lists more than one image", path)
	}
	return images[0], nil
}

// collectImageValues walks the YAML tree gathering the values of every
// "image" mapping key.
func collectImageValues(node *yaml.Node) []string {
	var images []string
	if node.Kind == yaml.MappingNode {
		for i := 0; i+1 < len(node.Content); i += 2 {
			if node.Content[i].Value == "image" && node.Content[i+1].Kind == yaml.ScalarNode {
				images = append(images, node.Content[i+1].Value)
				continue
			}
			images = append(images, collectImageValues(node.Content[i+1])...)
		}
		return images
	}
	for _, child := range node.Content {
		images = append(images, collectImageValues(child)...)
	}
	return images
}
