// Package coordinator drives a component's pipelines to completion: locate
// the run a commit triggered, wait for its verdict, collect logs on
// failure, and sweep leftover runs. It owns all polling policy so the CI
// providers stay plain API views.
package coordinator

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/redhat-appstudio/tssc-test/internal/ci"
	"github.com/redhat-appstudio/tssc-test/internal/errkind"
	"github.com/redhat-appstudio/tssc-test/internal/git"
	"github.com/redhat-appstudio/tssc-test/internal/tssc"
	"github.com/redhat-appstudio/tssc-test/pkg/logging"
	"github.com/redhat-appstudio/tssc-test/pkg/retry"
)

// Coordinator binds the polling policy to one CI provider.
type Coordinator struct {
	ci ci.Provider

	// Polling knobs, defaulted by New; tests shrink them.
	findInitial  time.Duration
	findCap      time.Duration
	findAttempts int
	waitInterval time.Duration
	waitTimeout  time.Duration
}

func New(provider ci.Provider) *Coordinator {
	return &Coordinator{
		ci:           provider,
		findInitial:  10 * time.Second,
		findCap:      50 * time.Second,
		findAttempts: 10,
		waitInterval: 10 * time.Second,
		waitTimeout:  30 * time.Minute,
	}
}

// GetPipelineAndWaitForCompletion locates the run triggered by the given
// reference, waits for it to finish, and fails with the assembled logs
// attached when the run did not succeed.
func (c *Coordinator) GetPipelineAndWaitForCompletion(ctx context.Context, pr *git.PullRequest, event tssc.EventType, description string) (*ci.Pipeline, error) {
	pipeline, err := c.findPipeline(ctx, pr.SHA, event, description)
	if err != nil {
		return nil, err
	}
	logging.Info("coordinator", "Found %s pipeline %s for %s", event, pipeline.DisplayName(), description)

	if err := c.waitForFinish(ctx, pipeline, description); err != nil {
		return pipeline, err
	}

	if !pipeline.IsSuccessful() {
		logs, logErr := c.ci.GetLogs(ctx, pipeline)
		if logErr != nil {
			logging.Warn("coordinator", "Could not fetch logs of %s: %v", pipeline.DisplayName(), logErr)
		} else {
			pipeline.Logs = logs
		}
		return pipeline, errkind.New(errkind.PipelineFailed,
			"%s: pipeline %s finished with status %s", description, pipeline.DisplayName(), pipeline.Status)
	}
	return pipeline, nil
}

// findPipeline polls until the provider reports the run. A nil result is a
// retryable miss; providers index runs asynchronously.
func (c *Coordinator) findPipeline(ctx context.Context, sha string, event tssc.EventType, description string) (*ci.Pipeline, error) {
	return retry.Do(ctx, func() (*ci.Pipeline, error) {
		pipeline, err := c.ci.GetPipeline(ctx, sha, event)
		if err != nil {
			if !errkind.Retryable(err) {
				return nil, retry.Bail(err)
			}
			return nil, err
		}
		if pipeline == nil {
			return nil, errkind.New(errkind.TransientProvider,
				"%s: no %s pipeline for %s yet", description, event, sha)
		}
		return pipeline, nil
	}, retry.Options{
		MaxRetries: c.findAttempts - 1,
		MinTimeout: c.findInitial,
		MaxTimeout: c.findCap,
		OnRetry: func(err error, attempt int) {
			logging.Debug("coordinator", "Still looking for pipeline (attempt %d): %v", attempt, err)
		},
	})
}

// waitForFinish polls the run status until terminal.
func (c *Coordinator) waitForFinish(ctx context.Context, pipeline *ci.Pipeline, description string) error {
	waitCtx, cancel := context.WithTimeout(ctx, c.waitTimeout)
	defer cancel()
	started := time.Now()

	err := retry.DoVoid(waitCtx, func() error {
		status, err := c.ci.RefreshStatus(waitCtx, pipeline)
		if err != nil {
			if !errkind.Retryable(err) {
				return retry.Bail(err)
			}
			return err
		}
		if !status.IsTerminal() {
			return errkind.New(errkind.TransientProvider,
				"%s: pipeline %s still %s", description, pipeline.DisplayName(), status)
		}
		return nil
	}, retry.Options{
		MaxRetries: int(c.waitTimeout / c.waitInterval),
		MinTimeout: c.waitInterval,
		MaxTimeout: 3 * c.waitInterval,
		OnRetry: func(err error, attempt int) {
			logging.Debug("coordinator", "Waiting for %s (attempt %d): %v", pipeline.DisplayName(), attempt, err)
		},
	})
	if err != nil {
		if waitCtx.Err() != nil {
			return errkind.New(errkind.Timeout, "%s: pipeline %s did not finish within %.0f seconds",
				description, pipeline.DisplayName(), time.Since(started).Seconds())
		}
		return err
	}
	return nil
}

// CancelAllPipelines sweeps the component's runs. Every listed run is
// tallied: terminal runs count as skipped unless opts.IncludeCompleted
// pulls them into the sweep. The result is always totalled; individual
// cancel failures are recorded, never propagated.
func (c *Coordinator) CancelAllPipelines(ctx context.Context, opts ci.CancelOptions) ci.CancelResult {
	var builder ci.CancelResultBuilder
	var mu sync.Mutex

	pipelines, err := c.ci.ListPipelines(ctx, opts)
	if err != nil {
		logging.Warn("coordinator", "Could not list pipelines for cancellation: %v", err)
		builder.Failed(&ci.Pipeline{Name: "list"}, err)
		return builder.Build()
	}

	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = ci.DefaultCancelConcurrency
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(concurrency)

	for _, pipeline := range pipelines {
		if pipeline.Status.IsTerminal() && !opts.IncludeCompleted {
			mu.Lock()
			builder.Skipped(pipeline, "already finished")
			mu.Unlock()
			continue
		}
		if excluded(pipeline, opts) {
			mu.Lock()
			builder.Skipped(pipeline, "matches exclude pattern")
			mu.Unlock()
			continue
		}
		if opts.DryRun {
			mu.Lock()
			builder.WouldCancel(pipeline)
			mu.Unlock()
			continue
		}

		group.Go(func() error {
			if err := c.ci.CancelPipeline(groupCtx, pipeline); err != nil {
				mu.Lock()
				builder.Failed(pipeline, err)
				mu.Unlock()
				return nil
			}
			mu.Lock()
			builder.Cancelled(pipeline)
			mu.Unlock()
			return nil
		})
	}
	_ = group.Wait()
	return builder.Build()
}

func excluded(pipeline *ci.Pipeline, opts ci.CancelOptions) bool {
	for _, pattern := range opts.ExcludePatterns {
		if pattern == "" {
			continue
		}
		if strings.Contains(pipeline.Name, pattern) || strings.Contains(pipeline.JobName, pattern) {
			return true
		}
	}
	return false
}
