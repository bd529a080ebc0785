// Package config centralizes environment variable access for the harness.
// Every required variable is looked up through Require so that a missing or
// empty value surfaces as a fatal InvalidConfig error instead of a silent
// default deep inside a provider client.
package config

import (
	"os"
	"strings"

	"github.com/redhat-appstudio/tssc-test/internal/errkind"
)

// Environment variable names consumed by the harness.
const (
	EnvTestPlanPath          = "TESTPLAN_PATH"
	EnvTestPlanName          = "TESTPLAN_NAME"
	EnvUITest                = "UI_TEST"
	EnvImageRegistryOrg      = "IMAGE_REGISTRY_ORG"
	EnvImageRegistryUser     = "IMAGE_REGISTRY_USERNAME"
	EnvImageRegistryPassword = "IMAGE_REGISTRY_PASSWORD"
	EnvImageRegistryToken    = "IMAGE_REGISTRY_AUTH_TOKEN"
	EnvGitHubOrg             = "GITHUB_ORGANIZATION"
	EnvGHUsername            = "GH_USERNAME"
	EnvGHPassword            = "GH_PASSWORD"
	EnvGHSecret              = "GH_SECRET"
	EnvGitHubToken           = "GITHUB_TOKEN"
	EnvGitLabToken           = "GITLAB_TOKEN"
	EnvGitLabOrg             = "GITLAB_ORGANIZATION"
	EnvBitbucketUser         = "BITBUCKET_USERNAME"
	EnvBitbucketAppPass      = "BITBUCKET_APP_PASSWORD"
	EnvBitbucketWS           = "BITBUCKET_WORKSPACE"
	EnvJenkinsURL            = "JENKINS_URL"
	EnvJenkinsUser           = "JENKINS_USERNAME"
	EnvJenkinsToken          = "JENKINS_TOKEN"
	EnvAzureOrgURL           = "AZURE_ORG_URL"
	EnvAzureProject          = "AZURE_PROJECT"
	EnvAzureToken            = "AZURE_TOKEN"
	EnvTPAURL                = "TPA_URL"
	EnvTPATokenURL           = "TPA_TOKEN_URL"
	EnvTPAClientID           = "TPA_CLIENT_ID"
	EnvTPAClientSecret       = "TPA_CLIENT_SECRET"
	EnvDevHubURL             = "DEVELOPER_HUB_URL"
	EnvDevHubToken           = "DEVELOPER_HUB_TOKEN"
	EnvPipelineNS            = "PIPELINE_NAMESPACE"
	EnvArgoCDNS              = "ARGOCD_NAMESPACE"
	EnvPACWebhookURL         = "PAC_WEBHOOK_URL"
)

// DefaultTestPlanPath is used when TESTPLAN_PATH is unset.
const DefaultTestPlanPath = "./testplan.json"

// Require returns the value of name, failing with an InvalidConfig error
// when the variable is unset or empty.
func Require(name string) (string, error) {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return "", errkind.New(errkind.InvalidConfig, "missing env var %s", name)
	}
	return value, nil
}

// Optional returns the value of name, or fallback when unset or empty.
func Optional(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

// Bool reports whether name is set to "true" (case-insensitive).
func Bool(name string) bool {
	return strings.EqualFold(strings.TrimSpace(os.Getenv(name)), "true")
}

// PipelineNamespace is where pipelines-as-code writes PipelineRuns.
func PipelineNamespace() string {
	return Optional(EnvPipelineNS, "tssc-app-ci")
}

// ArgoCDNamespace is the Argo CD control namespace holding Applications.
func ArgoCDNamespace() string {
	return Optional(EnvArgoCDNS, "tssc-gitops")
}

// TestPlanPath returns the test plan location, honouring the default.
func TestPlanPath() string {
	return Optional(EnvTestPlanPath, DefaultTestPlanPath)
}

// TestPlanNames returns the requested sub-plan names, comma separated in
// TESTPLAN_NAME. An empty result selects all plans.
func TestPlanNames() []string {
	raw := strings.TrimSpace(os.Getenv(EnvTestPlanName))
	if raw == "" {
		return nil
	}
	var names []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			names = append(names, trimmed)
		}
	}
	return names
}
