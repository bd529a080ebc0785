package testplan

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/redhat-appstudio/tssc-test/internal/errkind"
	"github.com/redhat-appstudio/tssc-test/internal/tssc"
	"github.com/redhat-appstudio/tssc-test/pkg/logging"
)

const (
	// ConfigsFileName is the expansion artefact every worker reads.
	ConfigsFileName = "project-configs.json"
	// SummaryFileName is the human diagnostics artefact.
	SummaryFileName = "project-config-summary.json"

	suffixLength  = 8
	suffixLetters = "abcdefghijklmnopqrstuvwxyz"
)

// NewProjectName builds "<template>-<8 random lowercase letters>".
func NewProjectName(template tssc.TemplateType) string {
	suffix := make([]byte, suffixLength)
	for i := range suffix {
		suffix[i] = suffixLetters[rand.Intn(len(suffixLetters))]
	}
	return fmt.Sprintf("%s-%s", template, suffix)
}

// Summary describes one expansion for human diagnostics.
type Summary struct {
	GeneratedAt       time.Time `json:"generatedAt"`
	Total             int       `json:"total"`
	SelectedPlans     []string  `json:"selectedPlans,omitempty"`
	Tests             []string  `json:"tests,omitempty"`
	TestMatchPatterns []string  `json:"testMatchPatterns,omitempty"`
}

// Expand produces one ProjectConfig per (template, tssc config) pair of
// the selected plans. Names are guaranteed unique within the expansion.
func Expand(doc *Document, selectedPlans []string) ([]ProjectConfig, *Summary, error) {
	plans := doc.AllPlans()
	if len(selectedPlans) > 0 {
		var filtered []Plan
		for _, plan := range plans {
			if slices.Contains(selectedPlans, plan.Name) {
				filtered = append(filtered, plan)
			}
		}
		if len(filtered) == 0 {
			return nil, nil, errkind.New(errkind.InvalidConfig,
				"no plan matches TESTPLAN_NAME selection %v", selectedPlans)
		}
		plans = filtered
	}

	summary := &Summary{GeneratedAt: time.Now().UTC()}
	seen := make(map[string]bool)
	var configs []ProjectConfig

	for _, plan := range plans {
		if plan.Name != "" {
			summary.SelectedPlans = append(summary.SelectedPlans, plan.Name)
		}
		summary.Tests = append(summary.Tests, plan.Tests...)
		if plan.TestMatchPattern != "" {
			summary.TestMatchPatterns = append(summary.TestMatchPatterns, plan.TestMatchPattern)
		}

		for _, template := range plan.Templates {
			templateType, err := tssc.ParseTemplate(template)
			if err != nil {
				return nil, nil, errkind.Wrap(errkind.InvalidConfig, err, "expanding plan %q", plan.Name)
			}
			for _, cfg := range plan.TSSC {
				item := TestItem{
					Template:     templateType,
					GitType:      tssc.GitType(cfg.Git),
					CIType:       tssc.CIType(cfg.CI),
					RegistryType: tssc.RegistryType(cfg.Registry),
					TPA:          cfg.TPA,
					ACS:          cfg.ACS,
				}
				item.RegenerateName()
				for seen[item.Name] {
					item.RegenerateName()
				}
				seen[item.Name] = true

				configs = append(configs, ProjectConfig{Name: item.Name, TestItem: item})
			}
		}
	}

	summary.Total = len(configs)
	return configs, summary, nil
}

// WriteConfigs persists the expansion and its summary under dir, creating
// it when needed. All parallel workers read the same files afterwards.
func WriteConfigs(dir string, configs []ProjectConfig, summary *Summary) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errkind.Wrap(errkind.InvalidConfig, err, "creating %s", dir)
	}

	if err := writeJSON(filepath.Join(dir, ConfigsFileName), configs); err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(dir, SummaryFileName), summary); err != nil {
		return err
	}

	logging.Info("TestPlan", "Wrote %d project configs to %s", len(configs), dir)
	return nil
}

// LoadConfigs reads a previously written expansion.
func LoadConfigs(dir string) ([]ProjectConfig, error) {
	path := filepath.Join(dir, ConfigsFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errkind.Wrap(errkind.InvalidConfig, err, "reading %s", path)
	}
	var configs []ProjectConfig
	if err := json.Unmarshal(data, &configs); err != nil {
		return nil, errkind.Wrap(errkind.InvalidConfig, err, "parsing %s", path)
	}
	return configs, nil
}

// renameMu serializes the read-modify-write below; parallel workers can
// retry-rename at the same time.
var renameMu sync.Mutex

// RenameProject rewrites the persisted expansion after a component-create
// retry regenerated a name, so that later readers observe the new name.
func RenameProject(dir, oldName, newName string) error {
	renameMu.Lock()
	defer renameMu.Unlock()

	configs, err := LoadConfigs(dir)
	if err != nil {
		return err
	}

	renamed := false
	for i := range configs {
		if configs[i].Name == oldName {
			configs[i].Name = newName
			configs[i].TestItem.Name = newName
			renamed = true
		}
	}
	if !renamed {
		return errkind.New(errkind.InvalidConfig, "project %s not found in %s", oldName, dir)
	}

	if err := writeJSON(filepath.Join(dir, ConfigsFileName), configs); err != nil {
		return err
	}
	logging.Info("TestPlan", "Renamed project %s to %s in %s", oldName, newName, dir)
	return nil
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errkind.Wrap(errkind.InvalidConfig, err, "encoding %s", path)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return errkind.Wrap(errkind.InvalidConfig, err, "writing %s", path)
	}
	return nil
}
