// Package promotion drives a provisioned component through the GitOps
// promotion protocol: source change, environment promotions and SBOM
// verification. PR-driven CI systems promote through pull requests on the
// GitOps repository; direct-commit systems (Jenkins, GitHub Actions,
// Azure) push straight to main.
package promotion

import (
	"context"
	"regexp"
	"time"

	"github.com/redhat-appstudio/tssc-test/internal/cd"
	"github.com/redhat-appstudio/tssc-test/internal/ci"
	"github.com/redhat-appstudio/tssc-test/internal/component"
	"github.com/redhat-appstudio/tssc-test/internal/errkind"
	"github.com/redhat-appstudio/tssc-test/internal/git"
	"github.com/redhat-appstudio/tssc-test/internal/tpa"
	"github.com/redhat-appstudio/tssc-test/internal/tssc"
	"github.com/redhat-appstudio/tssc-test/pkg/logging"
)

// sbomDocIDPattern captures SBOM document identifiers that the promotion
// pipeline prints while uploading to the trust store.
var sbomDocIDPattern = regexp.MustCompile(`"document_id"\s*:\s*"([^"]+)"`)

// ExtractSBOMDocumentIDs returns every SBOM document id found in the given
// pipeline log text, in order of appearance.
func ExtractSBOMDocumentIDs(logs string) []string {
	var ids []string
	for _, match := range sbomDocIDPattern.FindAllStringSubmatch(logs, -1) {
		ids = append(ids, match[1])
	}
	return ids
}

// deployer is the CD surface the workflow needs. *cd.ArgoCD satisfies it.
type deployer interface {
	GetApplicationStatus(ctx context.Context, env tssc.Environment) (cd.ApplicationStatus, error)
	SyncApplication(ctx context.Context, env tssc.Environment) error
	WaitUntilApplicationIsSynced(ctx context.Context, env tssc.Environment, revision string, timeout time.Duration) error
}

// waiter is the pipeline-coordination surface. *coordinator.Coordinator
// satisfies it.
type waiter interface {
	GetPipelineAndWaitForCompletion(ctx context.Context, pr *git.PullRequest, event tssc.EventType, description string) (*ci.Pipeline, error)
	CancelAllPipelines(ctx context.Context, opts ci.CancelOptions) ci.CancelResult
}

// logFetcher reads the full log of a finished run. ci.Provider satisfies
// it.
type logFetcher interface {
	GetLogs(ctx context.Context, p *ci.Pipeline) (string, error)
}

// buildTrigger starts a build explicitly for CI systems without webhook
// delivery on the cluster. *ci.Jenkins satisfies it.
type buildTrigger interface {
	TriggerBuild(ctx context.Context, jobName string) error
}

// sbomStore looks up uploaded SBOM documents. *tpa.Client satisfies it.
type sbomStore interface {
	FindSBOMByNameAndDocID(ctx context.Context, name, documentID string) (*tpa.SBOM, error)
}

// Workflow is the per-component promotion state machine. It is not safe
// for concurrent use; the orchestrator runs one Workflow per component.
type Workflow struct {
	name   string
	ciType tssc.CIType
	verify bool

	git        git.Provider
	cd         deployer
	source     waiter
	gitOps     waiter
	gitOpsLogs logFetcher
	trigger    buildTrigger
	store      sbomStore

	syncTimeout time.Duration
	docIDs      []string
}

// New builds the workflow for a completed component. store may be nil when
// the test item does not enable SBOM verification.
func New(c *component.Component, store *tpa.Client) *Workflow {
	w := &Workflow{
		name:        c.Name,
		ciType:      c.Item.CIType,
		verify:      c.Item.TPA != "" && c.Item.TPA != "false",
		git:         c.Git,
		cd:          c.CD,
		source:      c.Coordinator,
		gitOps:      c.GitOpsCoordinator,
		gitOpsLogs:  c.GitOpsCI,
		syncTimeout: cd.DefaultSyncTimeout,
	}
	if store != nil {
		w.store = store
	}
	if jenkins, ok := c.CI.(*ci.Jenkins); ok {
		w.trigger = jenkins
	}
	return w
}

// Run executes the full promotion lifecycle: wait for the initial
// development deploy, push a source change through CI, then promote the
// built image to stage and production and verify the uploaded SBOMs.
func (w *Workflow) Run(ctx context.Context) error {
	// Pin the wait to the GitOps HEAD so a stale earlier sync cannot
	// satisfy it.
	head, err := w.git.GetGitOpsRepoCommitSHA(ctx, git.DefaultBranch)
	if err != nil {
		return err
	}
	logging.Info("promotion", "Waiting for initial %s deploy of %s (%s)", tssc.EnvDevelopment, w.name, head)
	if err := w.cd.WaitUntilApplicationIsSynced(ctx, tssc.EnvDevelopment, head, w.syncTimeout); err != nil {
		return err
	}
	w.cancelSpuriousPipelines(ctx)

	if err := w.HandleSourceRepoCodeChanges(ctx); err != nil {
		return err
	}

	image, err := w.git.ExtractApplicationImage(ctx, tssc.EnvDevelopment)
	if err != nil {
		return err
	}
	if _, err := w.PromoteTo(ctx, tssc.EnvStage, image); err != nil {
		return err
	}

	image, err = w.git.ExtractApplicationImage(ctx, tssc.EnvStage)
	if err != nil {
		return err
	}
	if _, err := w.PromoteTo(ctx, tssc.EnvProd, image); err != nil {
		return err
	}

	return w.VerifySBOMs(ctx, image)
}

// cancelSpuriousPipelines stops the builds triggered by the scaffolder's
// initial pushes so they cannot be confused with the sample change.
func (w *Workflow) cancelSpuriousPipelines(ctx context.Context) {
	result := w.source.CancelAllPipelines(ctx, ci.CancelOptions{})
	logging.Info("promotion", "Cancelled %d of %d setup pipelines for %s",
		result.Cancelled, result.Total, w.name)
}

// HandleSourceRepoCodeChanges pushes the sample change through the CI
// system. Direct-commit systems build from a push to main; the others go
// through a pull request and build both the PR head and the merge commit.
func (w *Workflow) HandleSourceRepoCodeChanges(ctx context.Context) error {
	if w.ciType.UsesDirectCommits() {
		sha, err := w.git.CreateSampleCommitOnSourceRepo(ctx)
		if err != nil {
			return err
		}
		if w.trigger != nil {
			if err := w.trigger.TriggerBuild(ctx, w.git.GetSourceRepoName()); err != nil {
				return err
			}
		}
		ref := git.DirectCommitRef(sha, w.git.GetSourceRepoName())
		_, err = w.source.GetPipelineAndWaitForCompletion(ctx, ref, tssc.EventPush, "source change build")
		return err
	}

	pr, err := w.git.CreateSamplePullRequestOnSourceRepo(ctx)
	if err != nil {
		return err
	}
	if _, err := w.source.GetPipelineAndWaitForCompletion(ctx, pr, tssc.EventPullRequest, "pull request build"); err != nil {
		return err
	}
	merged, err := w.git.MergePullRequest(ctx, pr)
	if err != nil {
		return err
	}
	ref := git.DirectCommitRef(merged.SHA, w.git.GetSourceRepoName())
	_, err = w.source.GetPipelineAndWaitForCompletion(ctx, ref, tssc.EventPush, "merged push build")
	return err
}

// PromoteTo bumps the env overlay to image, waits for the GitOps pipeline
// and for Argo CD to converge on the resulting revision, then records the
// SBOM document ids printed by the pipeline. The returned pipeline has
// already succeeded.
func (w *Workflow) PromoteTo(ctx context.Context, env tssc.Environment, image string) (*ci.Pipeline, error) {
	logging.Info("promotion", "Promoting %s to %s (%s)", w.name, env, image)

	var pipeline *ci.Pipeline
	var err error
	if w.ciType.UsesDirectCommits() {
		pipeline, err = w.PromoteWithoutPR(ctx, env, image)
	} else {
		pipeline, err = w.PromoteWithPR(ctx, env, image)
	}
	if err != nil {
		return nil, err
	}
	w.collectSBOMDocIDs(ctx, pipeline)
	return pipeline, nil
}

// PromoteWithPR runs the pull-request promotion protocol: open a promotion
// PR on the GitOps repository, wait for its pipeline, merge, then sync the
// env Application to the merge commit.
func (w *Workflow) PromoteWithPR(ctx context.Context, env tssc.Environment, image string) (*ci.Pipeline, error) {
	if err := w.ensureApplication(ctx, env); err != nil {
		return nil, err
	}

	pr, err := w.git.CreatePromotionPullRequestOnGitOpsRepo(ctx, env, image)
	if err != nil {
		return nil, err
	}
	pipeline, err := w.gitOps.GetPipelineAndWaitForCompletion(ctx, pr, tssc.EventPullRequest, "promotion pull request build")
	if err != nil {
		return nil, err
	}
	merged, err := w.git.MergePullRequest(ctx, pr)
	if err != nil {
		return nil, err
	}
	if err := w.syncTo(ctx, env, merged.SHA); err != nil {
		return nil, err
	}
	return pipeline, nil
}

// PromoteWithoutPR is the direct-commit analogue: the image bump lands on
// main and the env Application is synced to that commit.
func (w *Workflow) PromoteWithoutPR(ctx context.Context, env tssc.Environment, image string) (*ci.Pipeline, error) {
	if err := w.ensureApplication(ctx, env); err != nil {
		return nil, err
	}

	sha, err := w.git.CreatePromotionCommitOnGitOpsRepo(ctx, env, image)
	if err != nil {
		return nil, err
	}
	if w.trigger != nil {
		if err := w.trigger.TriggerBuild(ctx, w.git.GetGitOpsRepoName()); err != nil {
			return nil, err
		}
	}
	ref := git.DirectCommitRef(sha, w.git.GetGitOpsRepoName())
	pipeline, err := w.gitOps.GetPipelineAndWaitForCompletion(ctx, ref, tssc.EventPush, "promotion build")
	if err != nil {
		return nil, err
	}
	if err := w.syncTo(ctx, env, sha); err != nil {
		return nil, err
	}
	return pipeline, nil
}

// ensureApplication fails early when the env Application was never
// provisioned, before any GitOps commit is made.
func (w *Workflow) ensureApplication(ctx context.Context, env tssc.Environment) error {
	if _, err := w.cd.GetApplicationStatus(ctx, env); err != nil {
		return errkind.Wrap(errkind.KindOf(err), err, "application for %s/%s missing", w.name, env)
	}
	return nil
}

func (w *Workflow) syncTo(ctx context.Context, env tssc.Environment, revision string) error {
	if err := w.cd.SyncApplication(ctx, env); err != nil {
		return err
	}
	return w.cd.WaitUntilApplicationIsSynced(ctx, env, revision, w.syncTimeout)
}

// collectSBOMDocIDs scans the promotion pipeline logs for SBOM document
// ids. The coordinator only attaches logs on failure, so the successful
// run's logs are fetched here. A log fetch failure is tolerated; the later
// verification reports the missing ids.
func (w *Workflow) collectSBOMDocIDs(ctx context.Context, pipeline *ci.Pipeline) {
	logs := pipeline.Logs
	if logs == "" && w.gitOpsLogs != nil {
		fetched, err := w.gitOpsLogs.GetLogs(ctx, pipeline)
		if err != nil {
			logging.Warn("promotion", "Fetching logs of %s: %v", pipeline.DisplayName(), err)
			return
		}
		logs = fetched
	}
	ids := ExtractSBOMDocumentIDs(logs)
	logging.Info("promotion", "Found %d SBOM document id(s) in %s", len(ids), pipeline.DisplayName())
	w.docIDs = append(w.docIDs, ids...)
}

// SBOMDocumentIDs returns the document ids collected from promotion
// pipelines so far.
func (w *Workflow) SBOMDocumentIDs() []string {
	return append([]string(nil), w.docIDs...)
}

// VerifySBOMs asserts every collected SBOM document id is present in the
// trust store under the promoted image. Skipped when the test item does
// not enable SBOM verification or no store is configured.
func (w *Workflow) VerifySBOMs(ctx context.Context, image string) error {
	if !w.verify {
		return nil
	}
	if w.store == nil {
		logging.Warn("promotion", "SBOM verification enabled for %s but no store configured", w.name)
		return nil
	}
	if len(w.docIDs) == 0 {
		return errkind.New(errkind.NotFound,
			"no SBOM document ids found in promotion pipeline logs of %s", w.name)
	}
	for _, id := range w.docIDs {
		if _, err := w.store.FindSBOMByNameAndDocID(ctx, image, id); err != nil {
			return errkind.Wrap(errkind.KindOf(err), err, "verifying SBOM %s for %s", id, w.name)
		}
	}
	logging.Info("promotion", "Verified %d SBOM(s) for %s", len(w.docIDs), w.name)
	return nil
}
