package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/redhat-appstudio/tssc-test/internal/errkind"
	"github.com/redhat-appstudio/tssc-test/pkg/logging"
)

// Exit codes for CLI commands.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error or a failed test run.
	ExitCodeError = 1
	// ExitCodeConfigError indicates missing or invalid configuration.
	ExitCodeConfigError = 2
)

var rootDebug bool

// rootCmd is the entry point when the binary is called without subcommands.
var rootCmd = &cobra.Command{
	Use:   "tssc-test",
	Short: "End-to-end tests for the Trusted Software Supply Chain platform",
	Long: `tssc-test provisions software components on a TSSC installation and
drives each one through source change, CI pipeline, image build, GitOps
promotion and SBOM verification across environments.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := logging.LevelInfo
		if rootDebug {
			level = logging.LevelDebug
		}
		logging.InitForCLI(level, os.Stderr)
	},
}

// SetVersion sets the version for the root command, injected at build time
// by the main package.
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute runs the root command and maps errors to exit codes. Called by
// main.main().
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "tssc-test version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(getExitCode(err))
	}
}

// getExitCode maps error kinds to semantic exit codes for scripting.
func getExitCode(err error) int {
	if errkind.KindOf(err) == errkind.InvalidConfig {
		return ExitCodeConfigError
	}
	return ExitCodeError
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&rootDebug, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(newGenerateCmd())
	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newCancelCmd())
	rootCmd.AddCommand(newVersionCmd())
}
