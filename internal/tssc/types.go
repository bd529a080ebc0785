// Package tssc holds the enumerated variants shared by every component of
// the harness: templates, git providers, CI providers, registries,
// deployment environments and normalised pipeline event types.
package tssc

import (
	"fmt"
	"strings"
)

// TemplateType identifies a software template a component is created from.
type TemplateType string

const (
	TemplateGo         TemplateType = "go"
	TemplatePython     TemplateType = "python"
	TemplateNodejs     TemplateType = "nodejs"
	TemplateDotnet     TemplateType = "dotnet-basic"
	TemplateQuarkus    TemplateType = "java-quarkus"
	TemplateSpringboot TemplateType = "java-springboot"
)

// KnownTemplates lists every supported template.
var KnownTemplates = []TemplateType{
	TemplateGo,
	TemplatePython,
	TemplateNodejs,
	TemplateDotnet,
	TemplateQuarkus,
	TemplateSpringboot,
}

// ParseTemplate validates a template name from a test plan.
func ParseTemplate(s string) (TemplateType, error) {
	for _, t := range KnownTemplates {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("invalid template %q (known: %s)", s, joinTemplates())
}

func joinTemplates() string {
	names := make([]string, 0, len(KnownTemplates))
	for _, t := range KnownTemplates {
		names = append(names, string(t))
	}
	return strings.Join(names, ", ")
}

// GitType identifies a git provider.
type GitType string

const (
	GitGitHub    GitType = "github"
	GitGitLab    GitType = "gitlab"
	GitBitbucket GitType = "bitbucket"
)

// ParseGitType validates a git provider name.
func ParseGitType(s string) (GitType, error) {
	switch GitType(s) {
	case GitGitHub, GitGitLab, GitBitbucket:
		return GitType(s), nil
	}
	return "", fmt.Errorf("invalid git provider %q", s)
}

// CIType identifies a CI provider.
type CIType string

const (
	CITekton        CIType = "tekton"
	CIGitHubActions CIType = "githubactions"
	CIGitLabCI      CIType = "gitlabci"
	CIJenkins       CIType = "jenkins"
	CIAzure         CIType = "azure"
)

// ParseCIType validates a CI provider name.
func ParseCIType(s string) (CIType, error) {
	switch CIType(s) {
	case CITekton, CIGitHubActions, CIGitLabCI, CIJenkins, CIAzure:
		return CIType(s), nil
	}
	return "", fmt.Errorf("invalid CI provider %q", s)
}

// UsesDirectCommits reports whether the CI provider drives builds from
// direct pushes to main instead of pull-request events.
func (c CIType) UsesDirectCommits() bool {
	switch c {
	case CIJenkins, CIGitHubActions, CIAzure:
		return true
	default:
		return false
	}
}

// RegistryType identifies an image registry backend.
type RegistryType string

const (
	RegistryQuay        RegistryType = "quay"
	RegistryArtifactory RegistryType = "artifactory"
	RegistryNexus       RegistryType = "nexus"
)

// ParseRegistryType validates a registry backend name.
func ParseRegistryType(s string) (RegistryType, error) {
	switch RegistryType(s) {
	case RegistryQuay, RegistryArtifactory, RegistryNexus:
		return RegistryType(s), nil
	}
	return "", fmt.Errorf("invalid registry %q", s)
}

// Environment is a GitOps deployment environment.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvStage       Environment = "stage"
	EnvProd        Environment = "prod"
)

// PromotionOrder lists environments in their promotion sequence.
var PromotionOrder = []Environment{EnvDevelopment, EnvStage, EnvProd}

// EventType is the uniform pipeline trigger label mapped from each
// backend's native terminology.
type EventType string

const (
	EventPullRequest EventType = "pull_request"
	EventPush        EventType = "push"
	EventCommit      EventType = "commit"
	EventBuild       EventType = "build"
)
