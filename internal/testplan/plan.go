// Package testplan parses test-plan descriptors and expands them into the
// Cartesian product of concrete test items. The expansion is written to
// disk once and shared read-only by every parallel worker.
package testplan

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"

	"github.com/redhat-appstudio/tssc-test/internal/errkind"
	"github.com/redhat-appstudio/tssc-test/internal/tssc"
)

// TSSCConfig is one (git, ci, registry, tpa, acs) combination from the
// test plan.
type TSSCConfig struct {
	Git      string `json:"git" validate:"required,oneof=github gitlab bitbucket"`
	CI       string `json:"ci" validate:"required,oneof=tekton githubactions gitlabci jenkins azure"`
	Registry string `json:"registry" validate:"required,oneof=quay artifactory nexus"`
	TPA      string `json:"tpa,omitempty"`
	ACS      string `json:"acs,omitempty"`
}

// Plan is a single named test plan.
type Plan struct {
	Name             string       `json:"name,omitempty"`
	Templates        []string     `json:"templates" validate:"required,min=1"`
	TSSC             []TSSCConfig `json:"tssc" validate:"required,min=1,dive"`
	Tests            []string     `json:"tests,omitempty"`
	TestMatchPattern string       `json:"testMatchPattern,omitempty"`
}

// ProjectCount is the number of test items this plan expands to.
func (p *Plan) ProjectCount() int {
	return len(p.Templates) * len(p.TSSC)
}

// Document is the on-disk test plan. Both the single-plan form (top-level
// templates/tssc/tests) and the multi-plan form (a "plans" array of named
// sub-plans) are accepted.
type Document struct {
	Plan
	Plans []Plan `json:"plans,omitempty"`
}

// AllPlans normalises the document to a list of plans.
func (d *Document) AllPlans() []Plan {
	if len(d.Plans) > 0 {
		return d.Plans
	}
	return []Plan{d.Plan}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads and validates a test plan file. Malformed or invalid plans are
// InvalidConfig errors.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errkind.Wrap(errkind.InvalidConfig, err, "reading test plan %s", path)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errkind.Wrap(errkind.InvalidConfig, err, "parsing test plan %s", path)
	}

	for i, plan := range doc.AllPlans() {
		if err := validate.Struct(plan); err != nil {
			name := plan.Name
			if name == "" {
				name = fmt.Sprintf("#%d", i)
			}
			return nil, errkind.Wrap(errkind.InvalidConfig, err, "invalid test plan %s in %s", name, path)
		}
		for _, template := range plan.Templates {
			if _, err := tssc.ParseTemplate(template); err != nil {
				return nil, errkind.Wrap(errkind.InvalidConfig, err, "test plan %s", path)
			}
		}
	}

	return &doc, nil
}

// TestItem is one concrete test parameter combination. It is immutable
// after construction except for Name, which the component retry path may
// regenerate.
type TestItem struct {
	Name         string            `json:"name"`
	Template     tssc.TemplateType `json:"template"`
	GitType      tssc.GitType      `json:"gitType"`
	CIType       tssc.CIType       `json:"ciType"`
	RegistryType tssc.RegistryType `json:"registryType"`
	TPA          string            `json:"tpa,omitempty"`
	ACS          string            `json:"acs,omitempty"`
}

// RegenerateName assigns a fresh random suffix, keeping the template
// prefix. Used by the component-create retry path after transient
// name collisions.
func (t *TestItem) RegenerateName() {
	t.Name = NewProjectName(t.Template)
}

// ProjectConfig pairs a unique project name with its test item. The name
// duplicates TestItem.Name deliberately: workers key their reports on it
// even if the item's name is later regenerated. Reuse marks a component
// that was already provisioned in an earlier run; the lifecycle manager
// then attaches to it instead of scaffolding a fresh one.
type ProjectConfig struct {
	Name     string   `json:"name"`
	TestItem TestItem `json:"testItem"`
	Reuse    bool     `json:"reuse,omitempty"`
}
