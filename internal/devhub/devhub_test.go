package devhub

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redhat-appstudio/tssc-test/internal/errkind"
)

func testClient(srv *httptest.Server) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 0
	rc.Logger = nil
	return &Client{http: rc, baseURL: srv.URL, token: "secret-token", pollInterval: 10 * time.Millisecond}
}

func TestCreateComponentTask(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/scaffolder/v2/tasks", r.URL.Path)
		assert.Equal(t, "Bearer secret-token", r.Header.Get("Authorization"))

		var payload map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "template:default/go", payload["templateRef"])

		_ = json.NewEncoder(w).Encode(map[string]string{"id": "task-1"})
	}))
	defer srv.Close()

	id, err := testClient(srv).CreateComponentTask(context.Background(), "go",
		map[string]interface{}{"name": "go-abcdefgh"})
	require.NoError(t, err)
	assert.Equal(t, "task-1", id)
}

func TestWaitForTaskCompletes(t *testing.T) {
	polls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.True(t, strings.HasPrefix(r.URL.Path, "/api/scaffolder/v2/tasks/"))
		polls++
		status := "processing"
		if polls >= 2 {
			status = "completed"
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"status": status})
	}))
	defer srv.Close()

	client := testClient(srv)
	err := client.WaitForTask(context.Background(), "task-1", time.Minute)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, polls, 2)
}

func TestWaitForTaskFailedIsPermanent(t *testing.T) {
	polls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		polls++
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "failed"})
	}))
	defer srv.Close()

	err := testClient(srv).WaitForTask(context.Background(), "task-1", time.Minute)
	require.Error(t, err)
	assert.Equal(t, errkind.PipelineFailed, errkind.KindOf(err))
	assert.Equal(t, 1, polls)
}

func TestCreateComponentTaskServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := testClient(srv).CreateComponentTask(context.Background(), "go", nil)
	require.Error(t, err)
	assert.Equal(t, errkind.TransientProvider, errkind.KindOf(err))
}
