// Package component manages the lifecycle of one scaffolded component:
// registration with the developer hub, provider handle construction, the
// post-create setup strategy, and cleanup of setup-triggered pipelines.
package component

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redhat-appstudio/tssc-test/internal/cd"
	"github.com/redhat-appstudio/tssc-test/internal/ci"
	"github.com/redhat-appstudio/tssc-test/internal/config"
	"github.com/redhat-appstudio/tssc-test/internal/coordinator"
	"github.com/redhat-appstudio/tssc-test/internal/credentials"
	"github.com/redhat-appstudio/tssc-test/internal/devhub"
	"github.com/redhat-appstudio/tssc-test/internal/errkind"
	"github.com/redhat-appstudio/tssc-test/internal/git"
	"github.com/redhat-appstudio/tssc-test/internal/kube"
	"github.com/redhat-appstudio/tssc-test/internal/registry"
	"github.com/redhat-appstudio/tssc-test/internal/strategy"
	"github.com/redhat-appstudio/tssc-test/internal/testplan"
	"github.com/redhat-appstudio/tssc-test/internal/tssc"
	"github.com/redhat-appstudio/tssc-test/pkg/logging"
)

// State of a component instance.
type State string

const (
	StatePending   State = "pending"
	StateCreating  State = "creating"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Component is one provisioned instance with all provider handles cached.
type Component struct {
	Name  string
	Item  testplan.TestItem
	State State

	Git         git.Provider
	CI          ci.Provider
	CD          *cd.ArgoCD
	Registry    *registry.Registry
	Coordinator *coordinator.Coordinator

	// GitOps counterparts observe pipelines triggered on the GitOps
	// repository, which promotion commits land on.
	GitOpsCI          ci.Provider
	GitOpsCoordinator *coordinator.Coordinator
}

// Scaffolder is the developer-hub surface the manager needs.
type Scaffolder interface {
	CreateComponentTask(ctx context.Context, template string, values map[string]interface{}) (string, error)
	WaitForTask(ctx context.Context, taskID string, timeout time.Duration) error
}

// Manager creates components. One manager serves all workers; it holds
// only process-wide handles and is safe for concurrent Create calls.
type Manager struct {
	hub     Scaffolder
	clients *kube.Clients
	creds   *credentials.Store

	// configsDir is where renamed projects are persisted so parallel
	// workers and reruns observe the final names.
	configsDir string

	maxRetries    int
	retryDelay    time.Duration
	createTimeout time.Duration
}

// Option tunes a Manager.
type Option func(*Manager)

func WithMaxRetries(n int) Option              { return func(m *Manager) { m.maxRetries = n } }
func WithRetryDelay(d time.Duration) Option    { return func(m *Manager) { m.retryDelay = d } }
func WithCreateTimeout(d time.Duration) Option { return func(m *Manager) { m.createTimeout = d } }

// NewManager wires the process-wide handles.
func NewManager(hub Scaffolder, clients *kube.Clients, creds *credentials.Store, configsDir string, opts ...Option) *Manager {
	m := &Manager{
		hub:           hub,
		clients:       clients,
		creds:         creds,
		configsDir:    configsDir,
		maxRetries:    2,
		retryDelay:    20 * time.Second,
		createTimeout: 10 * time.Minute,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create provisions the component described by project. Transient
// registration failures regenerate the project name and retry; the rename
// is persisted so every later reader sees the surviving name.
func (m *Manager) Create(ctx context.Context, project *testplan.ProjectConfig) (*Component, error) {
	component := &Component{
		Name:  project.Name,
		Item:  project.TestItem,
		State: StatePending,
	}

	if project.Reuse {
		if err := m.attachProviders(ctx, component); err != nil {
			component.State = StateFailed
			return nil, err
		}
		component.State = StateCompleted
		logging.Info("component", "Reusing existing component %s", component.Name)
		return component, nil
	}

	var lastErr error
	triedNames := []string{project.Name}

	for attempt := 0; ; attempt++ {
		component.State = StateCreating
		lastErr = m.register(ctx, component)
		if lastErr == nil {
			break
		}

		if !isRetryableCreate(lastErr) {
			component.State = StateFailed
			return nil, errkind.Wrap(errkind.KindOf(lastErr), lastErr,
				"creating %s (non-retryable, tried %s)", component.Name, strings.Join(triedNames, ", "))
		}
		if attempt >= m.maxRetries {
			component.State = StateFailed
			return nil, errkind.Wrap(errkind.KindOf(lastErr), lastErr,
				"creating component after %d attempts (tried %s)", attempt+1, strings.Join(triedNames, ", "))
		}

		// UI-driven runs depend on the fixed name surviving retries;
		// the UI logs into the created component by name.
		if config.Bool(config.EnvUITest) {
			logging.Warn("component", "Create of %s failed (%v), retrying with the same name in %s",
				component.Name, lastErr, m.retryDelay)
		} else {
			oldName := component.Name
			component.Item.RegenerateName()
			component.Name = component.Item.Name
			triedNames = append(triedNames, component.Name)
			if err := testplan.RenameProject(m.configsDir, oldName, component.Name); err != nil {
				logging.Warn("component", "Could not persist rename %s -> %s: %v", oldName, component.Name, err)
			}
			logging.Warn("component", "Create of %s failed (%v), retrying as %s in %s",
				oldName, lastErr, component.Name, m.retryDelay)
		}

		select {
		case <-time.After(m.retryDelay):
		case <-ctx.Done():
			component.State = StateFailed
			return nil, errkind.Wrap(errkind.Timeout, ctx.Err(), "creating %s", component.Name)
		}
	}

	if err := m.attachProviders(ctx, component); err != nil {
		component.State = StateFailed
		return nil, err
	}
	if err := m.runPostCreate(ctx, component); err != nil {
		component.State = StateFailed
		return nil, err
	}
	m.cancelSetupPipelines(ctx, component)

	component.State = StateCompleted
	logging.Info("component", "Component %s ready (%s/%s/%s)",
		component.Name, component.Item.GitType, component.Item.CIType, component.Item.RegistryType)
	return component, nil
}

// register runs the scaffolder template and waits for it to finish.
func (m *Manager) register(ctx context.Context, component *Component) error {
	taskID, err := m.hub.CreateComponentTask(ctx, string(component.Item.Template),
		m.templateValues(component))
	if err != nil {
		return err
	}
	return m.hub.WaitForTask(ctx, taskID, m.createTimeout)
}

// templateValues feeds the scaffolder form of the software template.
func (m *Manager) templateValues(component *Component) map[string]interface{} {
	item := component.Item
	values := map[string]interface{}{
		"name":          component.Name,
		"hostType":      string(item.GitType),
		"ciType":        string(item.CIType),
		"imageRegistry": string(item.RegistryType),
		"imageOrg":      config.Optional(config.EnvImageRegistryOrg, ""),
		"namespace":     config.PipelineNamespace(),
	}
	switch item.GitType {
	case tssc.GitGitHub:
		values["repoOwner"] = config.Optional(config.EnvGitHubOrg, "")
	case tssc.GitGitLab:
		values["repoOwner"] = config.Optional(config.EnvGitLabOrg, "")
	case tssc.GitBitbucket:
		values["repoOwner"] = config.Optional(config.EnvBitbucketWS, "")
	}
	return values
}

// attachProviders builds and caches the provider handles.
func (m *Manager) attachProviders(ctx context.Context, component *Component) error {
	gitProvider, err := git.NewProvider(ctx, component.Item.GitType, component.Name)
	if err != nil {
		return err
	}
	ciProvider, err := ci.NewProvider(ctx, component.Item.CIType, component.Name,
		m.clients, config.PipelineNamespace())
	if err != nil {
		return err
	}
	gitOpsCI, err := ci.NewProvider(ctx, component.Item.CIType,
		component.Name+git.GitOpsRepoSuffix, m.clients, config.PipelineNamespace())
	if err != nil {
		return err
	}
	registryHandle, err := registry.New(component.Item.RegistryType)
	if err != nil {
		return err
	}

	component.Git = gitProvider
	component.CI = ciProvider
	component.Registry = registryHandle
	component.CD = cd.NewArgoCD(m.clients, config.ArgoCDNamespace(), component.Name)
	component.Coordinator = coordinator.New(ciProvider)
	component.GitOpsCI = gitOpsCI
	component.GitOpsCoordinator = coordinator.New(gitOpsCI)
	return nil
}

// runPostCreate resolves and executes the (CI, git) setup strategy.
func (m *Manager) runPostCreate(ctx context.Context, component *Component) error {
	commands, err := strategy.Resolve(component.Item.CIType, component.Item.GitType)
	if err != nil {
		return err
	}
	if len(commands) == 0 {
		return nil
	}

	target := &strategy.Target{
		Component:   component.Name,
		Git:         component.Git,
		CI:          component.CI,
		Registry:    component.Registry,
		WebhookURL:  config.Optional(config.EnvPACWebhookURL, ""),
		GitHubToken: config.Optional(config.EnvGitHubToken, ""),
	}
	target.Secrets, target.Variables = m.ciCredentials(ctx, component)

	return strategy.Execute(ctx, commands, target)
}

// ciCredentials assembles the secrets and variables the component's
// pipelines need. Signing material comes from the cluster; registry
// coordinates from the environment.
func (m *Manager) ciCredentials(ctx context.Context, component *Component) (map[string]string, map[string]string) {
	secrets := map[string]string{}
	if m.creds != nil {
		if key, err := m.creds.CosignPublicKey(ctx); err == nil {
			secrets["COSIGN_PUBLIC_KEY"] = string(key)
		} else {
			logging.Warn("component", "No cosign public key for %s: %v", component.Name, err)
		}
		if key, err := m.creds.CosignPrivateKey(ctx); err == nil {
			secrets["COSIGN_SECRET_KEY"] = string(key)
		}
		if pass, err := m.creds.CosignPassword(ctx); err == nil {
			secrets["COSIGN_SECRET_PASSWORD"] = string(pass)
		}
	}
	if token := config.Optional(config.EnvGitLabToken, ""); token != "" &&
		component.Item.GitType == tssc.GitGitLab {
		secrets["GITOPS_AUTH_PASSWORD"] = token
	}
	if token := config.Optional(config.EnvGitHubToken, ""); token != "" &&
		component.Item.GitType == tssc.GitGitHub {
		secrets["GITOPS_AUTH_PASSWORD"] = token
	}

	variables := map[string]string{
		"IMAGE_REGISTRY":     component.Registry.Host,
		"IMAGE_REGISTRY_ORG": component.Registry.Org,
	}
	return secrets, variables
}

// cancelSetupPipelines sweeps runs triggered by scaffolder commits so the
// first observed pipeline belongs to the test's own change.
func (m *Manager) cancelSetupPipelines(ctx context.Context, component *Component) {
	result := component.Coordinator.CancelAllPipelines(ctx, ci.CancelOptions{})
	if result.Total > 0 {
		logging.Info("component", "Setup pipeline sweep for %s: %d cancelled, %d skipped, %d failed",
			component.Name, result.Cancelled, result.Skipped, result.Failed)
	}
}

// isRetryableCreate applies the creation-failure classification: message
// patterns for credential and template problems are permanent, everything
// else is assumed to be a cluster flake.
func isRetryableCreate(err error) bool {
	if err == nil {
		return false
	}
	message := strings.ToLower(err.Error())
	for _, pattern := range nonRetryablePatterns {
		if strings.Contains(message, pattern) {
			return false
		}
	}
	switch errkind.KindOf(err) {
	case errkind.Unauthorized, errkind.Forbidden, errkind.InvalidConfig:
		return false
	}
	return true
}

var nonRetryablePatterns = []string{
	"unauthorized",
	"forbidden",
	"401",
	"authentication failed",
	"invalid token",
	"template not found",
	"invalid template",
	"permission denied",
	"missing env var",
}

// String implements fmt.Stringer for log lines.
func (c *Component) String() string {
	return fmt.Sprintf("%s[%s]", c.Name, c.State)
}

var _ Scaffolder = (*devhub.Client)(nil)
