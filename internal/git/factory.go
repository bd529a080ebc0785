package git

import (
	"context"

	"github.com/redhat-appstudio/tssc-test/internal/config"
	"github.com/redhat-appstudio/tssc-test/internal/errkind"
	"github.com/redhat-appstudio/tssc-test/internal/tssc"
)

// NewProvider builds the Provider for gitType, reading credentials and
// organization names from the environment.
func NewProvider(ctx context.Context, gitType tssc.GitType, component string) (Provider, error) {
	switch gitType {
	case tssc.GitGitHub:
		org, err := config.Require(config.EnvGitHubOrg)
		if err != nil {
			return nil, err
		}
		token, err := config.Require(config.EnvGitHubToken)
		if err != nil {
			return nil, err
		}
		return NewGitHub(ctx, component, org, token), nil

	case tssc.GitGitLab:
		group, err := config.Require(config.EnvGitLabOrg)
		if err != nil {
			return nil, err
		}
		token, err := config.Require(config.EnvGitLabToken)
		if err != nil {
			return nil, err
		}
		return NewGitLab(component, group, token)

	case tssc.GitBitbucket:
		workspace, err := config.Require(config.EnvBitbucketWS)
		if err != nil {
			return nil, err
		}
		username, err := config.Require(config.EnvBitbucketUser)
		if err != nil {
			return nil, err
		}
		password, err := config.Require(config.EnvBitbucketAppPass)
		if err != nil {
			return nil, err
		}
		return NewBitbucket(component, workspace, username, password), nil

	default:
		return nil, errkind.New(errkind.InvalidConfig, "unsupported git provider %q", gitType)
	}
}
