// Package cd watches the Argo CD Applications that deploy a component's
// GitOps overlays. One Application exists per environment, named
// <component>-<environment>.
package cd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	ctrlclient "sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/redhat-appstudio/tssc-test/internal/errkind"
	"github.com/redhat-appstudio/tssc-test/internal/kube"
	"github.com/redhat-appstudio/tssc-test/internal/tssc"
	"github.com/redhat-appstudio/tssc-test/pkg/logging"
	"github.com/redhat-appstudio/tssc-test/pkg/retry"
)

var applicationGVK = schema.GroupVersionKind{Group: "argoproj.io", Version: "v1alpha1", Kind: "Application"}

// DefaultSyncTimeout bounds WaitUntilApplicationIsSynced.
const DefaultSyncTimeout = 10 * time.Minute

// ApplicationStatus is the subset of Application state the harness acts on.
type ApplicationStatus struct {
	Health   string
	Sync     string
	Revision string
	// OperationPhase is the phase of the last sync operation, empty when
	// none ran yet.
	OperationPhase string
}

// Healthy reports the application fully reconciled at the given revision.
func (s ApplicationStatus) Healthy(revision string) bool {
	return s.Health == "Healthy" && s.Sync == "Synced" && (revision == "" || s.Revision == revision)
}

// failed reports a state that cannot recover without a new push.
func (s ApplicationStatus) failed() bool {
	if s.Health == "Degraded" {
		return true
	}
	switch s.OperationPhase {
	case "Failed", "Error":
		return true
	}
	return false
}

// ArgoCD reads and syncs Applications through the cluster API; no Argo CD
// server endpoint is needed.
type ArgoCD struct {
	clients   *kube.Clients
	namespace string
	component string
}

// NewArgoCD builds a view over the component's Applications in the Argo CD
// control namespace.
func NewArgoCD(clients *kube.Clients, namespace, component string) *ArgoCD {
	return &ArgoCD{clients: clients, namespace: namespace, component: component}
}

// ApplicationName is the per-environment Application naming convention.
func (a *ArgoCD) ApplicationName(env tssc.Environment) string {
	return fmt.Sprintf("%s-%s", a.component, env)
}

func (a *ArgoCD) getApplication(ctx context.Context, env tssc.Environment) (*unstructured.Unstructured, error) {
	app := &unstructured.Unstructured{}
	app.SetGroupVersionKind(applicationGVK)
	key := ctrlclient.ObjectKey{Namespace: a.namespace, Name: a.ApplicationName(env)}
	if err := a.clients.Ctrl.Get(ctx, key, app); err != nil {
		return nil, errkind.Wrap(errkind.TransientProvider, err, "getting Application %s", key.Name)
	}
	return app, nil
}

// GetApplicationStatus reads the current health, sync state and synced
// revision of the env Application.
func (a *ArgoCD) GetApplicationStatus(ctx context.Context, env tssc.Environment) (ApplicationStatus, error) {
	app, err := a.getApplication(ctx, env)
	if err != nil {
		return ApplicationStatus{}, err
	}
	return statusFromApplication(app), nil
}

func statusFromApplication(app *unstructured.Unstructured) ApplicationStatus {
	var status ApplicationStatus
	status.Health, _, _ = unstructured.NestedString(app.Object, "status", "health", "status")
	status.Sync, _, _ = unstructured.NestedString(app.Object, "status", "sync", "status")
	status.Revision, _, _ = unstructured.NestedString(app.Object, "status", "sync", "revision")
	status.OperationPhase, _, _ = unstructured.NestedString(app.Object, "status", "operationState", "phase")
	return status
}

// SyncApplication requests an immediate refresh and sync by annotating the
// Application and setting the sync operation, the same sequence the argocd
// CLI issues.
func (a *ArgoCD) SyncApplication(ctx context.Context, env tssc.Environment) error {
	app, err := a.getApplication(ctx, env)
	if err != nil {
		return err
	}

	annotations := app.GetAnnotations()
	if annotations == nil {
		annotations = map[string]string{}
	}
	annotations["argocd.argoproj.io/refresh"] = "normal"
	app.SetAnnotations(annotations)

	operation := map[string]interface{}{
		"sync": map[string]interface{}{
			"prune": false,
		},
		"initiatedBy": map[string]interface{}{
			"username": "tssc-test",
		},
	}
	if err := unstructured.SetNestedMap(app.Object, operation, "operation"); err != nil {
		return errkind.Wrap(errkind.Unknown, err, "setting sync operation on %s", a.ApplicationName(env))
	}
	if err := a.clients.Ctrl.Update(ctx, app); err != nil {
		if strings.Contains(err.Error(), "another operation is already in progress") {
			logging.Debug("cd", "Application %s already syncing", a.ApplicationName(env))
			return nil
		}
		return errkind.Wrap(errkind.Conflict, err, "requesting sync of %s", a.ApplicationName(env))
	}
	return nil
}

// WaitUntilApplicationIsSynced polls until the env Application is Healthy
// and Synced at the expected revision. Degraded health and failed sync
// operations abort the wait immediately.
func (a *ArgoCD) WaitUntilApplicationIsSynced(ctx context.Context, env tssc.Environment, revision string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultSyncTimeout
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	started := time.Now()

	err := retry.DoVoid(waitCtx, func() error {
		status, err := a.GetApplicationStatus(waitCtx, env)
		if err != nil {
			return err
		}
		if status.Healthy(revision) {
			return nil
		}
		if status.failed() {
			return retry.Bail(errkind.New(errkind.SyncFailed,
				"application %s failed: health=%s sync=%s operation=%s",
				a.ApplicationName(env), status.Health, status.Sync, status.OperationPhase))
		}
		return errkind.New(errkind.SyncFailed,
			"application %s not synced yet: health=%s sync=%s revision=%s",
			a.ApplicationName(env), status.Health, status.Sync, status.Revision)
	}, retry.Options{
		MaxRetries: int(timeout / (10 * time.Second)),
		MinTimeout: 10 * time.Second,
		MaxTimeout: 30 * time.Second,
		OnRetry: func(err error, attempt int) {
			logging.Debug("cd", "Waiting for %s (attempt %d): %v", a.ApplicationName(env), attempt, err)
		},
	})
	if err != nil {
		if waitCtx.Err() != nil {
			return errkind.New(errkind.Timeout,
				"application %s did not sync within %.0f seconds",
				a.ApplicationName(env), time.Since(started).Seconds())
		}
		return err
	}
	logging.Info("cd", "Application %s synced at %s after %.0f seconds",
		a.ApplicationName(env), revision, time.Since(started).Seconds())
	return nil
}
