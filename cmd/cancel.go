package cmd

import (
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/redhat-appstudio/tssc-test/internal/ci"
	"github.com/redhat-appstudio/tssc-test/internal/config"
	"github.com/redhat-appstudio/tssc-test/internal/coordinator"
	"github.com/redhat-appstudio/tssc-test/internal/kube"
	"github.com/redhat-appstudio/tssc-test/internal/testplan"
	"github.com/redhat-appstudio/tssc-test/internal/tssc"
	"github.com/redhat-appstudio/tssc-test/pkg/logging"
)

var (
	cancelConfigsDir       string
	cancelDryRun           bool
	cancelExclude          []string
	cancelIncludeCompleted bool
	cancelConcurrency      int
	cancelEvent            string
	cancelBranch           string
)

// newCancelCmd mass-cancels the pipelines of every generated project.
func newCancelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cancel",
		Short: "Cancel outstanding pipelines of all generated projects",
		Long: `cancel walks project-configs.json and cancels every non-terminal
pipeline of each project's CI system. Use --dry-run to list what would be
cancelled without touching any provider.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			projects, err := testplan.LoadConfigs(cancelConfigsDir)
			if err != nil {
				return err
			}

			// Cluster access is only needed for Tekton projects; a failed
			// kubeconfig load surfaces per project instead of aborting.
			clients, err := kube.New()
			if err != nil {
				logging.Warn("cancel", "No cluster access: %v", err)
				clients = nil
			}

			opts := ci.CancelOptions{
				ExcludePatterns:  cancelExclude,
				IncludeCompleted: cancelIncludeCompleted,
				EventType:        tssc.EventType(cancelEvent),
				Branch:           cancelBranch,
				Concurrency:      cancelConcurrency,
				DryRun:           cancelDryRun,
			}

			t := table.NewWriter()
			t.SetOutputMirror(os.Stdout)
			t.SetStyle(table.StyleRounded)
			t.AppendHeader(table.Row{"PROJECT", "CI", "TOTAL", "CANCELLED", "SKIPPED", "FAILED", "WOULD CANCEL"})

			for _, project := range projects {
				provider, err := ci.NewProvider(ctx, project.TestItem.CIType, project.Name,
					clients, config.PipelineNamespace())
				if err != nil {
					logging.Error("cancel", err, "Skipping project %s", project.Name)
					t.AppendRow(table.Row{project.Name, project.TestItem.CIType, "-", "-", "-", "-", "-"})
					continue
				}
				result := coordinator.New(provider).CancelAllPipelines(ctx, opts)
				t.AppendRow(table.Row{project.Name, project.TestItem.CIType,
					result.Total, result.Cancelled, result.Skipped, result.Failed, result.WouldCancel})
			}
			t.Render()
			return nil
		},
	}

	cmd.Flags().StringVar(&cancelConfigsDir, "configs", "tmp", "Directory holding project-configs.json")
	cmd.Flags().BoolVar(&cancelDryRun, "dry-run", false, "List pipelines without cancelling them")
	cmd.Flags().StringSliceVar(&cancelExclude, "exclude", nil, "Skip pipelines whose name contains any of these substrings")
	cmd.Flags().BoolVar(&cancelIncludeCompleted, "include-completed", false, "Count completed pipelines as skipped instead of ignoring them")
	cmd.Flags().IntVar(&cancelConcurrency, "concurrency", ci.DefaultCancelConcurrency, "Parallel cancellations per project")
	cmd.Flags().StringVar(&cancelEvent, "event", "", "Only cancel pipelines for this event type")
	cmd.Flags().StringVar(&cancelBranch, "branch", "", "Only cancel pipelines on this branch")
	return cmd
}
