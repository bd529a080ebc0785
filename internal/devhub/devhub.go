// Package devhub drives the developer hub scaffolder, which provisions a
// component's source and GitOps repositories from a software template and
// registers the Argo CD applications.
package devhub

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/redhat-appstudio/tssc-test/internal/config"
	"github.com/redhat-appstudio/tssc-test/internal/errkind"
	"github.com/redhat-appstudio/tssc-test/pkg/logging"
	"github.com/redhat-appstudio/tssc-test/pkg/retry"
)

// DefaultTaskTimeout bounds WaitForTask.
const DefaultTaskTimeout = 10 * time.Minute

// Client talks to one developer hub instance.
type Client struct {
	http    *retryablehttp.Client
	baseURL string
	token   string
	// pollInterval spaces WaitForTask status reads; zero means 10s.
	pollInterval time.Duration
}

func (c *Client) interval() time.Duration {
	if c.pollInterval > 0 {
		return c.pollInterval
	}
	return 10 * time.Second
}

// New reads the developer hub location from the environment. The token is
// optional; unauthenticated hubs accept scaffolder calls as guest.
func New(token string) (*Client, error) {
	baseURL, err := config.Require(config.EnvDevHubURL)
	if err != nil {
		return nil, err
	}
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.RetryWaitMin = 1 * time.Second
	client.RetryWaitMax = 10 * time.Second
	client.Logger = nil
	return &Client{
		http:    client,
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
	}, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload, out interface{}, what string) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return errkind.Wrap(errkind.Unknown, err, "%s: encoding request", what)
		}
		body = bytes.NewReader(data)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return errkind.Wrap(errkind.Unknown, err, "%s", what)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
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
		}
		return errkind.New(kind, "%s: developer hub returned %d: %s", what, resp.StatusCode,
			strings.TrimSpace(string(data)))
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return errkind.Wrap(errkind.TransientProvider, err, "%s: decoding response", what)
		}
	}
	return nil
}

// CreateComponentTask starts a scaffolder run of the named software
// template and returns the task id to poll.
func (c *Client) CreateComponentTask(ctx context.Context, template string, values map[string]interface{}) (string, error) {
	payload := map[string]interface{}{
		"templateRef": fmt.Sprintf("template:default/%s", template),
		"values":      values,
	}
	var created struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/scaffolder/v2/tasks", payload, &created,
		fmt.Sprintf("creating scaffolder task for %s", template)); err != nil {
		return "", err
	}
	if created.ID == "" {
		return "", errkind.New(errkind.TransientProvider, "scaffolder returned no task id for %s", template)
	}
	return created.ID, nil
}

// TaskStatus returns the scaffolder task state: open, processing,
// completed, failed or cancelled.
func (c *Client) TaskStatus(ctx context.Context, taskID string) (string, error) {
	var task struct {
		Status string `json:"status"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/scaffolder/v2/tasks/"+taskID, nil, &task,
		fmt.Sprintf("getting scaffolder task %s", taskID)); err != nil {
		return "", err
	}
	return task.Status, nil
}

// WaitForTask polls the task until it completes. A failed or cancelled
// task is a permanent error; the scaffolder does not restart tasks.
func (c *Client) WaitForTask(ctx context.Context, taskID string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultTaskTimeout
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	started := time.Now()

	err := retry.DoVoid(waitCtx, func() error {
		status, err := c.TaskStatus(waitCtx, taskID)
		if err != nil {
			return err
		}
		switch status {
		case "completed":
			return nil
		case "failed", "cancelled":
			return retry.Bail(errkind.New(errkind.PipelineFailed, "scaffolder task %s %s", taskID, status))
		default:
			return errkind.New(errkind.TransientProvider, "scaffolder task %s still %s", taskID, status)
		}
	}, retry.Options{
		MaxRetries: int(timeout / c.interval()),
		MinTimeout: c.interval(),
		MaxTimeout: 3 * c.interval(),
		OnRetry: func(err error, attempt int) {
			logging.Debug("devhub", "Waiting for scaffolder task %s (attempt %d): %v", taskID, attempt, err)
		},
	})
	if err != nil {
		if waitCtx.Err() != nil {
			return errkind.New(errkind.Timeout,
				"scaffolder task %s did not finish within %.0f seconds", taskID, time.Since(started).Seconds())
		}
		return err
	}
	logging.Info("devhub", "Scaffolder task %s completed after %.0f seconds", taskID, time.Since(started).Seconds())
	return nil
}
