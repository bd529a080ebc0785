package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/redhat-appstudio/tssc-test/internal/config"
	"github.com/redhat-appstudio/tssc-test/internal/testplan"
)

var (
	generatePlanPath string
	generatePlans    []string
	generateOutput   string
)

// newGenerateCmd expands the test plan into per-project config files that
// the run command's workers pick up.
func newGenerateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Expand the test plan into project configs",
		Long: `generate reads the test plan, expands it into the Cartesian product of
concrete test items with unique project names, and writes
project-configs.json plus a summary into the output directory.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			planPath := generatePlanPath
			if planPath == "" {
				planPath = config.TestPlanPath()
			}
			selected := generatePlans
			if len(selected) == 0 {
				selected = config.TestPlanNames()
			}

			doc, err := testplan.Load(planPath)
			if err != nil {
				return err
			}
			configs, summary, err := testplan.Expand(doc, selected)
			if err != nil {
				return err
			}
			if err := testplan.WriteConfigs(generateOutput, configs, summary); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Generated %d project config(s) in %s\n",
				len(configs), generateOutput)
			return nil
		},
	}

	cmd.Flags().StringVar(&generatePlanPath, "plan", "", "Test plan file (default $TESTPLAN_PATH or ./testplan.json)")
	cmd.Flags().StringSliceVar(&generatePlans, "plans", nil, "Sub-plan names to expand (default $TESTPLAN_NAME or all)")
	cmd.Flags().StringVar(&generateOutput, "output", "tmp", "Directory for the generated configs")
	return cmd
}
