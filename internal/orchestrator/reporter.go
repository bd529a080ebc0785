package orchestrator

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	pkgstrings "github.com/redhat-appstudio/tssc-test/pkg/strings"
)

// ConsoleReporter prints progress lines per project and a summary table
// at the end of the run.
type ConsoleReporter struct{}

// NewConsoleReporter builds the default reporter.
func NewConsoleReporter() *ConsoleReporter {
	return &ConsoleReporter{}
}

func (r *ConsoleReporter) ReportStart(config Config, total int) {
	fmt.Printf("Running %d project(s) with %d worker(s), %s per project\n",
		total, config.Workers, config.ProjectTimeout)
}

func (r *ConsoleReporter) ReportProjectResult(result ProjectResult) {
	marker := text.FgGreen.Sprint("PASS")
	if result.Result != ResultPassed {
		marker = text.FgRed.Sprint("FAIL")
	}
	item := result.Project.TestItem
	fmt.Printf("[%s] %s (%s/%s/%s) in %s\n", marker, result.Project.Name,
		item.GitType, item.CIType, item.RegistryType, result.Duration.Round(time.Second))
	if result.Error != "" {
		fmt.Printf("       %s\n", text.FgRed.Sprint(pkgstrings.TruncateDescription(result.Error, 200)))
	}
}

func (r *ConsoleReporter) ReportSuiteResult(result SuiteResult) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"PROJECT", "TEMPLATE", "GIT", "CI", "REGISTRY", "RESULT", "DURATION"})
	for _, project := range result.ProjectResults {
		outcome := text.FgGreen.Sprint(project.Result)
		if project.Result != ResultPassed {
			outcome = text.FgRed.Sprint(project.Result)
		}
		item := project.Project.TestItem
		t.AppendRow(table.Row{
			project.Project.Name,
			item.Template,
			item.GitType,
			item.CIType,
			item.RegistryType,
			outcome,
			project.Duration.Round(time.Second),
		})
	}
	t.AppendFooter(table.Row{"", "", "", "", "TOTAL",
		fmt.Sprintf("%d/%d", result.PassedProjects, result.TotalProjects),
		result.Duration.Round(time.Second)})
	t.Render()
}

// WriteReport persists the suite result as JSON, creating parent
// directories as needed.
func WriteReport(path string, result *SuiteResult) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating report directory: %w", err)
	}
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing report %s: %w", path, err)
	}
	return nil
}
