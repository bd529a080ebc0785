// Package strategy decides what must happen after the scaffolder finished
// before the first pipeline can run: webhooks, CI credentials, job or
// pipeline definitions, and template file patches. The work depends on the
// (CI, git) combination; each combination resolves to an ordered command
// list executed sequentially.
package strategy

import (
	"context"
	"fmt"

	"github.com/redhat-appstudio/tssc-test/internal/ci"
	"github.com/redhat-appstudio/tssc-test/internal/errkind"
	"github.com/redhat-appstudio/tssc-test/internal/git"
	"github.com/redhat-appstudio/tssc-test/internal/registry"
	"github.com/redhat-appstudio/tssc-test/internal/tssc"
	"github.com/redhat-appstudio/tssc-test/pkg/logging"
)

// Target carries everything a command may touch. Commands read from it
// and call out through the provider handles; they never mutate it.
type Target struct {
	Component  string
	Git        git.Provider
	CI         ci.Provider
	Registry   *registry.Registry
	WebhookURL string
	// Secrets and Variables are the CI credentials the component's
	// pipelines need, filled by the lifecycle manager from the
	// environment.
	Secrets   map[string]string
	Variables map[string]string
	// GitHubToken feeds the Azure service connection.
	GitHubToken string
}

// Command is one idempotent setup step.
type Command interface {
	Name() string
	Execute(ctx context.Context, t *Target) error
}

type key struct {
	ci  tssc.CIType
	git tssc.GitType
}

// table maps each supported (CI, git) combination to its command list
// builder. A combination absent here is unsupported.
var table = map[key]func() []Command{
	{tssc.CITekton, tssc.GitGitHub}:    func() []Command { return nil },
	{tssc.CITekton, tssc.GitGitLab}:    func() []Command { return []Command{configWebhooks{}} },
	{tssc.CITekton, tssc.GitBitbucket}: func() []Command { return []Command{configWebhooks{}} },

	{tssc.CIGitHubActions, tssc.GitGitHub}: func() []Command {
		return []Command{applySecrets{}, applyVariables{}}
	},

	{tssc.CIGitLabCI, tssc.GitGitLab}: func() []Command {
		return []Command{pinRunnerImage{}, applyVariables{}}
	},

	{tssc.CIJenkins, tssc.GitGitHub}:    jenkinsCommands,
	{tssc.CIJenkins, tssc.GitGitLab}:    jenkinsCommands,
	{tssc.CIJenkins, tssc.GitBitbucket}: jenkinsCommands,

	{tssc.CIAzure, tssc.GitGitHub}: func() []Command {
		return []Command{azureSetup{}}
	},
}

func jenkinsCommands() []Command {
	return []Command{jenkinsJobs{}, patchPipelineFiles{}}
}

// Resolve returns the setup commands for the combination, in execution
// order. An empty list is a valid resolution (nothing to set up).
func Resolve(ciType tssc.CIType, gitType tssc.GitType) ([]Command, error) {
	build, ok := table[key{ciType, gitType}]
	if !ok {
		return nil, errkind.New(errkind.UnsupportedStrategy,
			"no post-create strategy for CI %q with git %q", ciType, gitType)
	}
	return build(), nil
}

// Execute runs the commands in order and stops at the first failure,
// wrapping it with the command name.
func Execute(ctx context.Context, commands []Command, t *Target) error {
	for _, command := range commands {
		logging.Info("strategy", "Running %s for %s", command.Name(), t.Component)
		if err := command.Execute(ctx, t); err != nil {
			return fmt.Errorf("%s: %w", command.Name(), err)
		}
	}
	return nil
}
