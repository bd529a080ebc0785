package ci

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/redhat-appstudio/tssc-test/internal/tssc"
)

func TestStatusTerminal(t *testing.T) {
	assert.True(t, StatusSuccess.IsTerminal())
	assert.True(t, StatusFailure.IsTerminal())
	assert.True(t, StatusCancelled.IsTerminal())
	assert.False(t, StatusPending.IsTerminal())
	assert.False(t, StatusRunning.IsTerminal())
	assert.False(t, StatusUnknown.IsTerminal())
}

func TestStatusMergeNeverRegresses(t *testing.T) {
	assert.Equal(t, StatusRunning, StatusRunning.Merge(StatusPending))
	assert.Equal(t, StatusRunning, StatusPending.Merge(StatusRunning))
	assert.Equal(t, StatusSuccess, StatusRunning.Merge(StatusSuccess))
	assert.Equal(t, StatusSuccess, StatusSuccess.Merge(StatusUnknown))
	// A fresh terminal observation replaces an older terminal one.
	assert.Equal(t, StatusFailure, StatusSuccess.Merge(StatusFailure))
}

func TestPipelineDisplayName(t *testing.T) {
	p := &Pipeline{RepositoryName: "go-abcdefgh", Name: "build", BuildNumber: 7}
	assert.Equal(t, "go-abcdefgh/build#7", p.DisplayName())

	p.BuildNumber = 0
	assert.Equal(t, "go-abcdefgh/build", p.DisplayName())
}

func TestCancelResultBuilderTotals(t *testing.T) {
	var b CancelResultBuilder
	b.Cancelled(&Pipeline{RepositoryName: "r", Name: "a"})
	b.Cancelled(&Pipeline{RepositoryName: "r", Name: "b"})
	b.Skipped(&Pipeline{RepositoryName: "r", Name: "c", Status: StatusSuccess}, "already finished")
	b.WouldCancel(&Pipeline{RepositoryName: "r", Name: "d"})
	b.Failed(&Pipeline{RepositoryName: "r", Name: "n"}, errors.New("boom"))

	result := b.Build()
	assert.Equal(t, 5, result.Total)
	assert.Equal(t, 2, result.Cancelled)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, 1, result.WouldCancel)
	assert.Equal(t, 1, result.Failed)
	assert.Len(t, result.Errors, 1)

	// One detail per inspected run, sorted by display name.
	require.Len(t, result.Details, 5)
	assert.Equal(t, "r/a", result.Details[0].Pipeline)
	assert.Equal(t, CancelDetail{
		Pipeline: "r/c", Status: StatusSuccess, Outcome: "skipped", Reason: "already finished",
	}, result.Details[2])
	assert.Equal(t, "failed", result.Details[4].Outcome)
	assert.Equal(t, "boom", result.Details[4].Reason)

	// The built value is frozen.
	b.Cancelled(&Pipeline{RepositoryName: "r", Name: "e"})
	assert.Equal(t, 5, result.Total)
	assert.Len(t, result.Details, 5)
}

// shrinkRetry makes the package retry policies immediate for a test.
func shrinkRetry(t *testing.T) {
	t.Helper()
	savedLog, savedQuiet := logFetchRetry, quietPeriodRetry
	logFetchRetry.MinTimeout = time.Millisecond
	logFetchRetry.MaxTimeout = 5 * time.Millisecond
	quietPeriodRetry.MinTimeout = time.Millisecond
	quietPeriodRetry.MaxTimeout = 5 * time.Millisecond
	quietPeriodRetry.MaxRetries = 5
	t.Cleanup(func() { logFetchRetry, quietPeriodRetry = savedLog, savedQuiet })
}

func TestFetchLogRetriesEmptyBody(t *testing.T) {
	shrinkRetry(t)

	attempts := 0
	text := fetchLogWithRetry(context.Background(), "step", func() (string, error) {
		attempts++
		if attempts < 3 {
			return "  \n", nil
		}
		return "late logs", nil
	})
	assert.Equal(t, "late logs", text)
	assert.Equal(t, 3, attempts)
}

func TestFetchLogFallsBackAfterFiveEmptyAttempts(t *testing.T) {
	shrinkRetry(t)

	attempts := 0
	text := fetchLogWithRetry(context.Background(), "step", func() (string, error) {
		attempts++
		return "", nil
	})
	assert.Equal(t, fallbackLogText, text)
	assert.Equal(t, 5, attempts)
}

// settlingCI reports one active run until settleAfter lists have happened.
type settlingCI struct {
	lists       int
	settleAfter int
}

func (s *settlingCI) GetCIType() tssc.CIType { return tssc.CITekton }
func (s *settlingCI) GetPipeline(context.Context, string, tssc.EventType) (*Pipeline, error) {
	return nil, nil
}
func (s *settlingCI) RefreshStatus(context.Context, *Pipeline) (PipelineStatus, error) {
	return StatusUnknown, nil
}
func (s *settlingCI) GetLogs(context.Context, *Pipeline) (string, error) { return "", nil }
func (s *settlingCI) CancelPipeline(context.Context, *Pipeline) error    { return nil }
func (s *settlingCI) GetWebhookURL() string                              { return "" }
func (s *settlingCI) GetCIFilePathInRepo() string                        { return ".tekton" }
func (s *settlingCI) WaitForAllPipelinesToFinish(ctx context.Context) error {
	return waitForAllPipelineRuns(ctx, s)
}

func (s *settlingCI) ListPipelines(context.Context, CancelOptions) ([]*Pipeline, error) {
	s.lists++
	status := StatusRunning
	if s.lists >= s.settleAfter {
		status = StatusSuccess
	}
	return []*Pipeline{{Name: "build", Status: status}}, nil
}

func TestWaitForAllPipelinesToFinish(t *testing.T) {
	shrinkRetry(t)

	fake := &settlingCI{settleAfter: 3}
	require.NoError(t, fake.WaitForAllPipelinesToFinish(context.Background()))
	assert.Equal(t, 3, fake.lists)

	stuck := &settlingCI{settleAfter: 1000}
	require.Error(t, stuck.WaitForAllPipelinesToFinish(context.Background()))
}

func tektonRun(condStatus, reason string) *unstructured.Unstructured {
	run := &unstructured.Unstructured{Object: map[string]interface{}{}}
	if condStatus != "" {
		_ = unstructured.SetNestedSlice(run.Object, []interface{}{
			map[string]interface{}{"type": "Succeeded", "status": condStatus, "reason": reason},
		}, "status", "conditions")
	}
	return run
}

func TestTektonStatus(t *testing.T) {
	assert.Equal(t, StatusPending, tektonStatus(tektonRun("", "")))
	assert.Equal(t, StatusRunning, tektonStatus(tektonRun("Unknown", "Running")))
	assert.Equal(t, StatusSuccess, tektonStatus(tektonRun("True", "Succeeded")))
	assert.Equal(t, StatusFailure, tektonStatus(tektonRun("False", "Failed")))
	assert.Equal(t, StatusCancelled, tektonStatus(tektonRun("False", "Cancelled")))
	assert.Equal(t, StatusCancelled, tektonStatus(tektonRun("False", "PipelineRunCancelled")))
}

func TestGitLabStatusMapping(t *testing.T) {
	assert.Equal(t, StatusPending, gitlabStatus("created"))
	assert.Equal(t, StatusPending, gitlabStatus("manual"))
	assert.Equal(t, StatusRunning, gitlabStatus("running"))
	assert.Equal(t, StatusSuccess, gitlabStatus("success"))
	assert.Equal(t, StatusFailure, gitlabStatus("failed"))
	assert.Equal(t, StatusCancelled, gitlabStatus("canceled"))
	assert.Equal(t, StatusUnknown, gitlabStatus("weird"))
}

func TestJenkinsStatusMapping(t *testing.T) {
	assert.Equal(t, StatusRunning, jenkinsStatus(&jenkinsBuild{Building: true}))
	assert.Equal(t, StatusPending, jenkinsStatus(&jenkinsBuild{}))
	assert.Equal(t, StatusSuccess, jenkinsStatus(&jenkinsBuild{Result: "SUCCESS"}))
	assert.Equal(t, StatusCancelled, jenkinsStatus(&jenkinsBuild{Result: "ABORTED"}))
	assert.Equal(t, StatusFailure, jenkinsStatus(&jenkinsBuild{Result: "FAILURE"}))
	assert.Equal(t, StatusFailure, jenkinsStatus(&jenkinsBuild{Result: "UNSTABLE"}))
}

func TestAzureStatusMapping(t *testing.T) {
	assert.Equal(t, StatusPending, azureStatus(&azureBuild{Status: "notStarted"}))
	assert.Equal(t, StatusRunning, azureStatus(&azureBuild{Status: "inProgress"}))
	assert.Equal(t, StatusRunning, azureStatus(&azureBuild{Status: "cancelling"}))
	assert.Equal(t, StatusSuccess, azureStatus(&azureBuild{Status: "completed", Result: "succeeded"}))
	assert.Equal(t, StatusCancelled, azureStatus(&azureBuild{Status: "completed", Result: "canceled"}))
	assert.Equal(t, StatusFailure, azureStatus(&azureBuild{Status: "completed", Result: "failed"}))
}

func TestAzureBuildSHAPrefersTrigger(t *testing.T) {
	b := &azureBuild{SourceSHA: "merge-sha", TriggerInfo: map[string]string{"ci.sourceSha": "head-sha"}}
	assert.Equal(t, "head-sha", b.sha())

	b.TriggerInfo = nil
	assert.Equal(t, "merge-sha", b.sha())
}

func TestActionsEventMapping(t *testing.T) {
	assert.Equal(t, "pull_request", actionsEvent(tssc.EventPullRequest))
	assert.Equal(t, "push", actionsEvent(tssc.EventPush))
	assert.Equal(t, "push", actionsEvent(tssc.EventCommit))
	assert.Equal(t, "", actionsEvent(tssc.EventBuild))
}

func TestJenkinsBuildSHA(t *testing.T) {
	var b jenkinsBuild
	assert.Equal(t, "", b.sha())

	b.Actions = []struct {
		LastBuiltRevision struct {
			SHA1 string `json:"SHA1"`
		} `json:"lastBuiltRevision"`
	}{{}}
	b.Actions[0].LastBuiltRevision.SHA1 = "abc"
	assert.Equal(t, "abc", b.sha())
}
