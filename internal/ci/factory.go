package ci

import (
	"context"

	"github.com/redhat-appstudio/tssc-test/internal/config"
	"github.com/redhat-appstudio/tssc-test/internal/errkind"
	"github.com/redhat-appstudio/tssc-test/internal/kube"
	"github.com/redhat-appstudio/tssc-test/internal/tssc"
)

// NewProvider builds the CI provider for ciType. Tekton needs cluster
// clients and the namespace pipelines-as-code writes PipelineRuns into;
// the hosted providers read their credentials from the environment.
func NewProvider(ctx context.Context, ciType tssc.CIType, component string, clients *kube.Clients, namespace string) (Provider, error) {
	switch ciType {
	case tssc.CITekton:
		if clients == nil {
			return nil, errkind.New(errkind.InvalidConfig, "tekton CI requires cluster access")
		}
		return NewTekton(clients, namespace, component), nil

	case tssc.CIGitHubActions:
		org, err := config.Require(config.EnvGitHubOrg)
		if err != nil {
			return nil, err
		}
		token, err := config.Require(config.EnvGitHubToken)
		if err != nil {
			return nil, err
		}
		return NewGitHubActions(ctx, org, component, token), nil

	case tssc.CIGitLabCI:
		group, err := config.Require(config.EnvGitLabOrg)
		if err != nil {
			return nil, err
		}
		token, err := config.Require(config.EnvGitLabToken)
		if err != nil {
			return nil, err
		}
		return NewGitLabCI(group, component, token)

	case tssc.CIJenkins:
		baseURL, err := config.Require(config.EnvJenkinsURL)
		if err != nil {
			return nil, err
		}
		username, err := config.Require(config.EnvJenkinsUser)
		if err != nil {
			return nil, err
		}
		token, err := config.Require(config.EnvJenkinsToken)
		if err != nil {
			return nil, err
		}
		folder, err := config.Require(config.EnvGitHubOrg)
		if err != nil {
			return nil, err
		}
		return NewJenkins(baseURL, folder, component, username, token), nil

	case tssc.CIAzure:
		orgURL, err := config.Require(config.EnvAzureOrgURL)
		if err != nil {
			return nil, err
		}
		project, err := config.Require(config.EnvAzureProject)
		if err != nil {
			return nil, err
		}
		token, err := config.Require(config.EnvAzureToken)
		if err != nil {
			return nil, err
		}
		return NewAzure(orgURL, project, component, token), nil

	default:
		return nil, errkind.New(errkind.InvalidConfig, "unsupported CI provider %q", ciType)
	}
}
