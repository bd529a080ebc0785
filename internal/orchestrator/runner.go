package orchestrator

import (
	"context"

	"github.com/redhat-appstudio/tssc-test/internal/component"
	"github.com/redhat-appstudio/tssc-test/internal/promotion"
	"github.com/redhat-appstudio/tssc-test/internal/testplan"
	"github.com/redhat-appstudio/tssc-test/internal/tpa"
)

// NewLifecycleRunner builds the production project runner: provision the
// component, then drive it through the full promotion workflow. store may
// be nil when no SBOM trust store is deployed.
func NewLifecycleRunner(manager *component.Manager, store *tpa.Client) RunProjectFunc {
	return func(ctx context.Context, project testplan.ProjectConfig) error {
		c, err := manager.Create(ctx, &project)
		if err != nil {
			return err
		}
		return promotion.New(c, store).Run(ctx)
	}
}
