package cmd

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/redhat-appstudio/tssc-test/internal/component"
	"github.com/redhat-appstudio/tssc-test/internal/config"
	"github.com/redhat-appstudio/tssc-test/internal/credentials"
	"github.com/redhat-appstudio/tssc-test/internal/devhub"
	"github.com/redhat-appstudio/tssc-test/internal/errkind"
	"github.com/redhat-appstudio/tssc-test/internal/kube"
	"github.com/redhat-appstudio/tssc-test/internal/orchestrator"
	"github.com/redhat-appstudio/tssc-test/internal/tpa"
	"github.com/redhat-appstudio/tssc-test/pkg/logging"
)

var (
	runConfigsDir string
	runWorkers    int
	runTimeout    time.Duration
	runFailFast   bool
	runReportPath string
)

// newRunCmd executes the generated project configs against the cluster.
func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the end-to-end tests for all generated project configs",
		Long: `run loads project-configs.json, provisions one component per project
through the developer hub and drives each through the full promotion
lifecycle on a worker pool. The exit code is non-zero when any project
fails.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			clients, err := kube.New()
			if err != nil {
				return err
			}
			token, err := config.Require(config.EnvDevHubToken)
			if err != nil {
				return err
			}
			hub, err := devhub.New(token)
			if err != nil {
				return err
			}

			// The trust store is an optional part of a TSSC install;
			// without its coordinates SBOM verification is skipped.
			store, err := tpa.NewClient(ctx)
			if err != nil {
				if errkind.KindOf(err) != errkind.InvalidConfig {
					return err
				}
				logging.Warn("run", "TPA not configured, SBOM verification disabled: %v", err)
				store = nil
			}

			manager := component.NewManager(hub, clients, credentials.NewStore(clients), runConfigsDir)
			o := orchestrator.New(orchestrator.Config{
				ConfigsDir:     runConfigsDir,
				Workers:        runWorkers,
				ProjectTimeout: runTimeout,
				FailFast:       runFailFast,
			}, orchestrator.NewLifecycleRunner(manager, store), nil)

			suite, err := o.Run(ctx)
			if err != nil {
				return err
			}
			if runReportPath != "" {
				if err := orchestrator.WriteReport(runReportPath, suite); err != nil {
					return err
				}
			}
			if !suite.Passed() {
				return fmt.Errorf("%d of %d project(s) failed",
					suite.FailedProjects, suite.TotalProjects)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&runConfigsDir, "configs", "tmp", "Directory holding project-configs.json")
	cmd.Flags().IntVar(&runWorkers, "workers", orchestrator.DefaultWorkers, "Number of projects driven concurrently")
	cmd.Flags().DurationVar(&runTimeout, "timeout", orchestrator.DefaultProjectTimeout, "Timeout per project")
	cmd.Flags().BoolVar(&runFailFast, "fail-fast", false, "Stop reporting after the first failure")
	cmd.Flags().StringVar(&runReportPath, "report", "", "Write the suite result as JSON to this path")
	return cmd
}
