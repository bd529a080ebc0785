package strategy

import (
	"context"
	"fmt"

	"github.com/redhat-appstudio/tssc-test/internal/ci"
	"github.com/redhat-appstudio/tssc-test/internal/contentmod"
	"github.com/redhat-appstudio/tssc-test/internal/errkind"
	"github.com/redhat-appstudio/tssc-test/internal/git"
	"github.com/redhat-appstudio/tssc-test/pkg/logging"
)

// configWebhooks registers the pipelines-as-code listener on both
// repositories. Needed where the git host has no native integration.
type configWebhooks struct{}

func (configWebhooks) Name() string { return "configure-webhooks" }

func (configWebhooks) Execute(ctx context.Context, t *Target) error {
	if t.WebhookURL == "" {
		return errkind.New(errkind.InvalidConfig, "webhook URL is empty")
	}
	if err := t.Git.ConfigWebhookOnSourceRepo(ctx, t.WebhookURL); err != nil {
		return err
	}
	return t.Git.ConfigWebhookOnGitOpsRepo(ctx, t.WebhookURL)
}

// applySecrets upserts the CI secrets on both repositories.
type applySecrets struct{}

func (applySecrets) Name() string { return "apply-secrets" }

func (applySecrets) Execute(ctx context.Context, t *Target) error {
	for _, repo := range []string{t.Git.GetSourceRepoName(), t.Git.GetGitOpsRepoName()} {
		result, err := t.Git.SetRepoSecrets(ctx, repo, t.Secrets)
		if err != nil {
			return err
		}
		logging.Debug("strategy", "Secrets on %s: %d created, %d updated",
			repo, len(result.Created), len(result.Updated))
	}
	return nil
}

// applyVariables upserts the CI variables on both repositories.
type applyVariables struct{}

func (applyVariables) Name() string { return "apply-variables" }

func (applyVariables) Execute(ctx context.Context, t *Target) error {
	for _, repo := range []string{t.Git.GetSourceRepoName(), t.Git.GetGitOpsRepoName()} {
		result, err := t.Git.SetRepoVariables(ctx, repo, t.Variables)
		if err != nil {
			return err
		}
		logging.Debug("strategy", "Variables on %s: %d created, %d updated",
			repo, len(result.Created), len(result.Updated))
	}
	return nil
}

// Runner image pinning for GitLab CI. The template references the rolling
// task-runner tag; builds must run against the release the cluster ships.
const (
	gitlabCIPath       = ".gitlab-ci.yml"
	rollingRunnerImage = "image: quay.io/redhat-appstudio/rhtap-task-runner:latest"
	pinnedRunnerImage  = "image: quay.io/redhat-appstudio/rhtap-task-runner:1.4"
)

type pinRunnerImage struct{}

func (pinRunnerImage) Name() string { return "pin-runner-image" }

func (pinRunnerImage) Execute(ctx context.Context, t *Target) error {
	mods := contentmod.New()
	mods.Add(gitlabCIPath, rollingRunnerImage, pinnedRunnerImage)
	_, err := t.Git.CommitChangesToRepo(ctx, t.Git.GetRepoOwner(), t.Git.GetSourceRepoName(),
		mods, "Pin CI runner image", git.DefaultBranch)
	return err
}

// jenkinsJobs provisions the folder and one job per repository, then kicks
// the first build of the source job; Jenkins has no webhook at this point.
type jenkinsJobs struct{}

func (jenkinsJobs) Name() string { return "create-jenkins-jobs" }

func (jenkinsJobs) Execute(ctx context.Context, t *Target) error {
	jenkins, ok := t.CI.(*ci.Jenkins)
	if !ok {
		return errkind.New(errkind.InvalidConfig, "CI provider is %T, expected Jenkins", t.CI)
	}
	if err := jenkins.EnsureFolder(ctx); err != nil {
		return err
	}
	if err := jenkins.EnsureJob(ctx, t.Git.GetSourceRepoName(), t.Git.GetSourceRepoURL()); err != nil {
		return err
	}
	return jenkins.EnsureJob(ctx, t.Git.GetGitOpsRepoName(), t.Git.GetGitOpsRepoURL())
}

// Template file patches for Jenkins. The Jenkinsfile and rhtap/env.sh land
// with quay.io defaults; both are rewritten for the selected registry in a
// single commit per repository, composing the two modifier outputs.
const (
	jenkinsfilePath = "Jenkinsfile"
	rhtapEnvPath    = "rhtap/env.sh"
)

// JenkinsfileModifications switches the credentials binding to the
// registry the component pushes to.
func JenkinsfileModifications(registryHost string) *contentmod.ContentModifications {
	mods := contentmod.New()
	mods.Add(jenkinsfilePath,
		`QUAY_IO_CREDS = credentials('QUAY_IO_CREDS')`,
		fmt.Sprintf(`QUAY_IO_CREDS = credentials('%s')`, registryCredentialsID(registryHost)))
	return mods
}

// RhtapEnvModifications rewrites the registry coordinates in the build
// environment file.
func RhtapEnvModifications(registryHost, registryOrg string) *contentmod.ContentModifications {
	mods := contentmod.New()
	mods.Add(rhtapEnvPath,
		`export IMAGE_REGISTRY="quay.io"`,
		fmt.Sprintf(`export IMAGE_REGISTRY="%s"`, registryHost))
	mods.Add(rhtapEnvPath,
		`export IMAGE_REGISTRY_ORG="rhtap"`,
		fmt.Sprintf(`export IMAGE_REGISTRY_ORG="%s"`, registryOrg))
	return mods
}

func registryCredentialsID(registryHost string) string {
	if registryHost == "quay.io" {
		return "QUAY_IO_CREDS"
	}
	return "IMAGE_REGISTRY_CREDS"
}

type patchPipelineFiles struct{}

func (patchPipelineFiles) Name() string { return "patch-pipeline-files" }

func (patchPipelineFiles) Execute(ctx context.Context, t *Target) error {
	if t.Registry == nil {
		return errkind.New(errkind.InvalidConfig, "no registry on target")
	}
	mods := JenkinsfileModifications(t.Registry.Host)
	mods.Merge(RhtapEnvModifications(t.Registry.Host, t.Registry.Org))

	for _, repo := range []string{t.Git.GetSourceRepoName(), t.Git.GetGitOpsRepoName()} {
		if _, err := t.Git.CommitChangesToRepo(ctx, t.Git.GetRepoOwner(), repo, mods,
			"Configure pipeline for registry", git.DefaultBranch); err != nil {
			return err
		}
	}
	return nil
}

// azureSetup creates the GitHub service connection and a pipeline per
// repository.
type azureSetup struct{}

func (azureSetup) Name() string { return "create-azure-pipelines" }

func (azureSetup) Execute(ctx context.Context, t *Target) error {
	azure, ok := t.CI.(*ci.Azure)
	if !ok {
		return errkind.New(errkind.InvalidConfig, "CI provider is %T, expected Azure", t.CI)
	}
	if t.GitHubToken == "" {
		return errkind.New(errkind.InvalidConfig, "github token required for Azure service connection")
	}

	endpointID, err := azure.EnsureServiceEndpoint(ctx, t.Component, t.GitHubToken)
	if err != nil {
		return err
	}
	owner := t.Git.GetRepoOwner()
	for _, repo := range []string{t.Git.GetSourceRepoName(), t.Git.GetGitOpsRepoName()} {
		if err := azure.EnsurePipeline(ctx, repo, owner+"/"+repo, endpointID); err != nil {
			return err
		}
	}
	return nil
}
