package ci

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/redhat-appstudio/tssc-test/internal/errkind"
	"github.com/redhat-appstudio/tssc-test/pkg/logging"
)

// Pipeline administration: Azure builds a repository only after a service
// connection to the git host and a pipeline definition exist.

// EnsureServiceEndpoint creates a GitHub service connection named after
// the component and returns its id. An existing connection with the same
// name is reused.
func (a *Azure) EnsureServiceEndpoint(ctx context.Context, name, githubToken string) (string, error) {
	var page struct {
		Value []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"value"`
	}
	listURL := a.apiURL("/serviceendpoint/endpoints")
	if err := a.do(ctx, http.MethodGet, listURL, nil, &page, "listing service endpoints"); err != nil {
		return "", err
	}
	for _, endpoint := range page.Value {
		if endpoint.Name == name {
			logging.Debug("ci", "Service endpoint %s already exists", name)
			return endpoint.ID, nil
		}
	}

	payload, _ := json.Marshal(map[string]interface{}{
		"name": name,
		"type": "github",
		"url":  "https://github.com",
		"authorization": map[string]interface{}{
			"scheme":     "PersonalAccessToken",
			"parameters": map[string]string{"accessToken": githubToken},
		},
		"serviceEndpointProjectReferences": []map[string]interface{}{
			{
				"name":             name,
				"projectReference": map[string]string{"name": a.project},
			},
		},
	})

	var created struct {
		ID string `json:"id"`
	}
	if err := a.do(ctx, http.MethodPost, listURL, payload, &created,
		fmt.Sprintf("creating service endpoint %s", name)); err != nil {
		return "", err
	}
	if created.ID == "" {
		return "", errkind.New(errkind.TransientProvider, "service endpoint %s created without id", name)
	}
	return created.ID, nil
}

// EnsurePipeline creates a YAML pipeline reading azure-pipelines.yml from
// the repository through the given service connection.
func (a *Azure) EnsurePipeline(ctx context.Context, name, repoFullName, endpointID string) error {
	var page struct {
		Value []struct {
			Name string `json:"name"`
		} `json:"value"`
	}
	listURL := a.apiURL("/pipelines")
	if err := a.do(ctx, http.MethodGet, listURL, nil, &page, "listing pipelines"); err != nil {
		return err
	}
	for _, pipeline := range page.Value {
		if pipeline.Name == name {
			logging.Debug("ci", "Pipeline %s already exists", name)
			return nil
		}
	}

	payload, _ := json.Marshal(map[string]interface{}{
		"name": name,
		"configuration": map[string]interface{}{
			"type": "yaml",
			"path": "/azure-pipelines.yml",
			"repository": map[string]interface{}{
				"fullName":   repoFullName,
				"type":       "gitHub",
				"connection": map[string]string{"id": endpointID},
			},
		},
	})
	return a.do(ctx, http.MethodPost, listURL, payload, nil, fmt.Sprintf("creating pipeline %s", name))
}
