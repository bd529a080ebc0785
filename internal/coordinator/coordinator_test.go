package coordinator

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redhat-appstudio/tssc-test/internal/ci"
	"github.com/redhat-appstudio/tssc-test/internal/errkind"
	"github.com/redhat-appstudio/tssc-test/internal/git"
	"github.com/redhat-appstudio/tssc-test/internal/tssc"
)

// scriptedCI serves a pipeline after missThreshold lookups and walks the
// run through the scripted status sequence.
type scriptedCI struct {
	mu            sync.Mutex
	missThreshold int
	lookups       int
	statuses      []ci.PipelineStatus
	statusIndex   int
	logs          string
	listed        []*ci.Pipeline
	cancelled     []string
	cancelErr     error
}

func (s *scriptedCI) GetCIType() tssc.CIType { return tssc.CITekton }

func (s *scriptedCI) GetPipeline(_ context.Context, sha string, _ tssc.EventType) (*ci.Pipeline, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookups++
	if s.lookups <= s.missThreshold {
		return nil, nil
	}
	return &ci.Pipeline{ID: "1", Name: "build", RepositoryName: "go-abcdefgh", SHA: sha, Status: ci.StatusPending}, nil
}

func (s *scriptedCI) RefreshStatus(_ context.Context, p *ci.Pipeline) (ci.PipelineStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.statusIndex < len(s.statuses) {
		p.Status = s.statuses[s.statusIndex]
		s.statusIndex++
	}
	return p.Status, nil
}

func (s *scriptedCI) GetLogs(context.Context, *ci.Pipeline) (string, error) {
	return s.logs, nil
}

func (s *scriptedCI) ListPipelines(context.Context, ci.CancelOptions) ([]*ci.Pipeline, error) {
	return s.listed, nil
}

func (s *scriptedCI) CancelPipeline(_ context.Context, p *ci.Pipeline) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelErr != nil {
		return s.cancelErr
	}
	s.cancelled = append(s.cancelled, p.Name)
	return nil
}

func (s *scriptedCI) WaitForAllPipelinesToFinish(context.Context) error { return nil }
func (s *scriptedCI) GetWebhookURL() string                             { return "" }
func (s *scriptedCI) GetCIFilePathInRepo() string                       { return ".tekton" }

func fastCoordinator(provider ci.Provider) *Coordinator {
	c := New(provider)
	c.findInitial = time.Millisecond
	c.findCap = 5 * time.Millisecond
	c.waitInterval = time.Millisecond
	c.waitTimeout = time.Second
	return c
}

func TestGetPipelineAndWaitForCompletionSucceeds(t *testing.T) {
	fake := &scriptedCI{
		missThreshold: 2,
		statuses:      []ci.PipelineStatus{ci.StatusRunning, ci.StatusRunning, ci.StatusSuccess},
	}
	c := fastCoordinator(fake)

	pipeline, err := c.GetPipelineAndWaitForCompletion(context.Background(),
		git.DirectCommitRef("abc123", "go-abcdefgh"), tssc.EventPush, "sample build")
	require.NoError(t, err)
	assert.Equal(t, ci.StatusSuccess, pipeline.Status)
	assert.Equal(t, 3, fake.lookups)
}

func TestGetPipelineAndWaitAttachesLogsOnFailure(t *testing.T) {
	fake := &scriptedCI{
		statuses: []ci.PipelineStatus{ci.StatusRunning, ci.StatusFailure},
		logs:     "--- Job/Task: build (id=1) ---\nboom\n",
	}
	c := fastCoordinator(fake)

	pipeline, err := c.GetPipelineAndWaitForCompletion(context.Background(),
		git.DirectCommitRef("abc123", "go-abcdefgh"), tssc.EventPush, "sample build")
	require.Error(t, err)
	assert.Equal(t, errkind.PipelineFailed, errkind.KindOf(err))
	require.NotNil(t, pipeline)
	assert.Contains(t, pipeline.Logs, "boom")
}

func TestFindPipelineGivesUpAfterAttempts(t *testing.T) {
	fake := &scriptedCI{missThreshold: 1000}
	c := fastCoordinator(fake)
	c.findAttempts = 3

	_, err := c.GetPipelineAndWaitForCompletion(context.Background(),
		git.DirectCommitRef("abc123", "go-abcdefgh"), tssc.EventPush, "sample build")
	require.Error(t, err)
	assert.Equal(t, 3, fake.lookups)
}

func TestCancelAllPipelines(t *testing.T) {
	fake := &scriptedCI{listed: []*ci.Pipeline{
		{Name: "build-1", Status: ci.StatusRunning},
		{Name: "build-2", Status: ci.StatusPending},
		{Name: "seed-build", Status: ci.StatusRunning},
		{Name: "done", Status: ci.StatusSuccess},
	}}
	c := fastCoordinator(fake)

	result := c.CancelAllPipelines(context.Background(), ci.CancelOptions{
		ExcludePatterns: []string{"seed"},
	})

	// The completed run and the excluded run both count as skipped.
	assert.Equal(t, 2, result.Cancelled)
	assert.Equal(t, 2, result.Skipped)
	assert.Equal(t, 0, result.Failed)
	assert.Equal(t, 4, result.Total)
	assert.Equal(t, result.Total, result.Cancelled+result.Skipped+result.Failed+result.WouldCancel)
	assert.ElementsMatch(t, []string{"build-1", "build-2"}, fake.cancelled)
	assert.Len(t, result.Details, 4)
}

func TestCancelAllPipelinesDryRunTallysEveryRun(t *testing.T) {
	listed := []*ci.Pipeline{
		{Name: "release/build", Status: ci.StatusRunning},
		{Name: "done-1", Status: ci.StatusSuccess},
		{Name: "done-2", Status: ci.StatusFailure},
	}
	for i := 0; i < 5; i++ {
		listed = append(listed, &ci.Pipeline{Name: fmt.Sprintf("build-%d", i), Status: ci.StatusRunning})
	}
	fake := &scriptedCI{listed: listed}
	c := fastCoordinator(fake)

	result := c.CancelAllPipelines(context.Background(), ci.CancelOptions{
		ExcludePatterns: []string{"release/"},
		DryRun:          true,
	})

	assert.Equal(t, 8, result.Total)
	assert.Equal(t, 3, result.Skipped)
	assert.Equal(t, 5, result.WouldCancel)
	assert.Equal(t, 0, result.Cancelled)
	assert.Equal(t, 0, result.Failed)
	assert.Empty(t, fake.cancelled)

	skippedReasons := map[string]string{}
	for _, d := range result.Details {
		if d.Outcome == "skipped" {
			skippedReasons[d.Pipeline] = d.Reason
		}
	}
	assert.Equal(t, map[string]string{
		"/done-1":        "already finished",
		"/done-2":        "already finished",
		"/release/build": "matches exclude pattern",
	}, skippedReasons)
}

func TestCancelAllPipelinesIncludeCompletedSweepsTerminalRuns(t *testing.T) {
	fake := &scriptedCI{listed: []*ci.Pipeline{
		{Name: "build-1", Status: ci.StatusRunning},
		{Name: "done", Status: ci.StatusSuccess},
	}}
	c := fastCoordinator(fake)

	result := c.CancelAllPipelines(context.Background(), ci.CancelOptions{IncludeCompleted: true})
	assert.Equal(t, 2, result.Cancelled)
	assert.Equal(t, 0, result.Skipped)
	assert.ElementsMatch(t, []string{"build-1", "done"}, fake.cancelled)
}

func TestCancelAllPipelinesRecordsFailures(t *testing.T) {
	fake := &scriptedCI{
		listed:    []*ci.Pipeline{{Name: "build-1", Status: ci.StatusRunning}},
		cancelErr: errkind.New(errkind.Forbidden, "403"),
	}
	c := fastCoordinator(fake)

	result := c.CancelAllPipelines(context.Background(), ci.CancelOptions{})
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 1, result.Total)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "403")
}
