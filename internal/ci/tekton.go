package ci

import (
	"context"
	"io"
	"sort"
	"strings"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	ctrlclient "sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/redhat-appstudio/tssc-test/internal/config"
	"github.com/redhat-appstudio/tssc-test/internal/errkind"
	"github.com/redhat-appstudio/tssc-test/internal/kube"
	"github.com/redhat-appstudio/tssc-test/internal/tssc"
	"github.com/redhat-appstudio/tssc-test/pkg/logging"
)

// Pipelines-as-code labels stamped onto every PipelineRun it creates.
const (
	pacSHALabel        = "pipelinesascode.tekton.dev/sha"
	pacEventTypeLabel  = "pipelinesascode.tekton.dev/event-type"
	pacRepositoryLabel = "pipelinesascode.tekton.dev/url-repository"
	pacBranchLabel     = "pipelinesascode.tekton.dev/branch"
	taskRunOwnerLabel  = "tekton.dev/pipelineRun"
)

var (
	pipelineRunListGVK = schema.GroupVersionKind{Group: "tekton.dev", Version: "v1", Kind: "PipelineRunList"}
	pipelineRunGVK     = schema.GroupVersionKind{Group: "tekton.dev", Version: "v1", Kind: "PipelineRun"}
	taskRunListGVK     = schema.GroupVersionKind{Group: "tekton.dev", Version: "v1", Kind: "TaskRunList"}
)

// Tekton locates PipelineRuns created by pipelines-as-code for the
// component's repository and reads task logs from the backing pods.
type Tekton struct {
	clients   *kube.Clients
	namespace string
	component string
}

func NewTekton(clients *kube.Clients, namespace, component string) *Tekton {
	return &Tekton{clients: clients, namespace: namespace, component: component}
}

func (t *Tekton) GetCIType() tssc.CIType { return tssc.CITekton }

func (t *Tekton) listRuns(ctx context.Context, labels map[string]string) ([]unstructured.Unstructured, error) {
	list := &unstructured.UnstructuredList{}
	list.SetGroupVersionKind(pipelineRunListGVK)
	opts := []ctrlclient.ListOption{ctrlclient.InNamespace(t.namespace)}
	if len(labels) > 0 {
		opts = append(opts, ctrlclient.MatchingLabels(labels))
	}
	if err := t.clients.Ctrl.List(ctx, list, opts...); err != nil {
		return nil, errkind.Wrap(errkind.TransientProvider, err, "listing PipelineRuns in %s", t.namespace)
	}
	return list.Items, nil
}

// pipelineFromRun maps a PipelineRun onto the neutral Pipeline shape.
func (t *Tekton) pipelineFromRun(run *unstructured.Unstructured) *Pipeline {
	p := &Pipeline{
		ID:             run.GetName(),
		CIType:         tssc.CITekton,
		RepositoryName: t.component,
		Name:           run.GetName(),
		Status:         tektonStatus(run),
		SHA:            run.GetLabels()[pacSHALabel],
	}
	if started, ok, _ := unstructured.NestedString(run.Object, "status", "startTime"); ok {
		if ts, err := time.Parse(time.RFC3339, started); err == nil {
			p.StartTime = &ts
		}
	}
	if completed, ok, _ := unstructured.NestedString(run.Object, "status", "completionTime"); ok {
		if ts, err := time.Parse(time.RFC3339, completed); err == nil {
			p.EndTime = &ts
		}
	}
	return p
}

// tektonStatus reads the Succeeded condition. A run without the condition
// has not been picked up yet and reports pending.
func tektonStatus(run *unstructured.Unstructured) PipelineStatus {
	conditions, ok, _ := unstructured.NestedSlice(run.Object, "status", "conditions")
	if !ok {
		return StatusPending
	}
	for _, raw := range conditions {
		cond, ok := raw.(map[string]interface{})
		if !ok || cond["type"] != "Succeeded" {
			continue
		}
		reason, _ := cond["reason"].(string)
		switch cond["status"] {
		case "True":
			return StatusSuccess
		case "False":
			if strings.Contains(reason, "Cancelled") {
				return StatusCancelled
			}
			return StatusFailure
		default:
			return StatusRunning
		}
	}
	return StatusPending
}

func (t *Tekton) GetPipeline(ctx context.Context, sha string, event tssc.EventType) (*Pipeline, error) {
	labels := map[string]string{pacSHALabel: sha}
	if event != "" {
		labels[pacEventTypeLabel] = string(event)
	}
	runs, err := t.listRuns(ctx, labels)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, nil
	}

	// Newest run wins when pipelines-as-code retriggered.
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].GetCreationTimestamp().After(runs[j].GetCreationTimestamp().Time)
	})
	return t.pipelineFromRun(&runs[0]), nil
}

func (t *Tekton) getRun(ctx context.Context, name string) (*unstructured.Unstructured, error) {
	run := &unstructured.Unstructured{}
	run.SetGroupVersionKind(pipelineRunGVK)
	if err := t.clients.Ctrl.Get(ctx, ctrlclient.ObjectKey{Namespace: t.namespace, Name: name}, run); err != nil {
		return nil, errkind.Wrap(errkind.TransientProvider, err, "getting PipelineRun %s", name)
	}
	return run, nil
}

func (t *Tekton) RefreshStatus(ctx context.Context, p *Pipeline) (PipelineStatus, error) {
	run, err := t.getRun(ctx, p.Name)
	if err != nil {
		return StatusUnknown, err
	}
	p.Status = p.Status.Merge(tektonStatus(run))
	return p.Status, nil
}

// GetLogs walks the run's TaskRuns and streams every step container of
// each backing pod, one banner per task.
func (t *Tekton) GetLogs(ctx context.Context, p *Pipeline) (string, error) {
	list := &unstructured.UnstructuredList{}
	list.SetGroupVersionKind(taskRunListGVK)
	if err := t.clients.Ctrl.List(ctx, list,
		ctrlclient.InNamespace(t.namespace),
		ctrlclient.MatchingLabels(map[string]string{taskRunOwnerLabel: p.Name})); err != nil {
		return "", errkind.Wrap(errkind.TransientProvider, err, "listing TaskRuns of %s", p.Name)
	}

	sort.Slice(list.Items, func(i, j int) bool {
		a, b := list.Items[i].GetCreationTimestamp(), list.Items[j].GetCreationTimestamp()
		return a.Before(&b)
	})

	var out strings.Builder
	for i := range list.Items {
		tr := &list.Items[i]
		out.WriteString(logSectionBanner(taskName(tr), tr.GetName()))

		podName, ok, _ := unstructured.NestedString(tr.Object, "status", "podName")
		if !ok || podName == "" {
			out.WriteString(fallbackLogText + "\n")
			continue
		}
		out.WriteString(fetchLogWithRetry(ctx, tr.GetName(), func() (string, error) {
			return t.podLogs(ctx, podName)
		}))
		out.WriteString("\n")
	}
	if out.Len() == 0 {
		return fallbackLogText, nil
	}
	return out.String(), nil
}

func taskName(tr *unstructured.Unstructured) string {
	if name, ok := tr.GetLabels()["tekton.dev/pipelineTask"]; ok {
		return name
	}
	return tr.GetName()
}

// podLogs concatenates the logs of every step container in the pod.
func (t *Tekton) podLogs(ctx context.Context, podName string) (string, error) {
	pod, err := t.clients.Clientset.CoreV1().Pods(t.namespace).Get(ctx, podName, metav1.GetOptions{})
	if err != nil {
		return "", errkind.Wrap(errkind.TransientProvider, err, "getting pod %s", podName)
	}

	var out strings.Builder
	for _, container := range pod.Spec.Containers {
		req := t.clients.Clientset.CoreV1().Pods(t.namespace).GetLogs(podName,
			&corev1.PodLogOptions{Container: container.Name})
		stream, err := req.Stream(ctx)
		if err != nil {
			return "", errkind.Wrap(errkind.TransientProvider, err,
				"streaming logs of %s/%s", podName, container.Name)
		}
		data, err := io.ReadAll(stream)
		stream.Close()
		if err != nil {
			return "", errkind.Wrap(errkind.TransientNetwork, err,
				"reading logs of %s/%s", podName, container.Name)
		}
		out.Write(data)
	}
	return out.String(), nil
}

func (t *Tekton) ListPipelines(ctx context.Context, opts CancelOptions) ([]*Pipeline, error) {
	labels := map[string]string{pacRepositoryLabel: t.component}
	if opts.EventType != "" {
		labels[pacEventTypeLabel] = string(opts.EventType)
	}
	if opts.Branch != "" {
		labels[pacBranchLabel] = opts.Branch
	}
	runs, err := t.listRuns(ctx, labels)
	if err != nil {
		return nil, err
	}

	pipelines := make([]*Pipeline, 0, len(runs))
	for i := range runs {
		pipelines = append(pipelines, t.pipelineFromRun(&runs[i]))
	}
	return pipelines, nil
}

// CancelPipeline marks the run cancelled through spec.status, the Tekton
// graceful cancellation signal.
func (t *Tekton) CancelPipeline(ctx context.Context, p *Pipeline) error {
	run, err := t.getRun(ctx, p.Name)
	if err != nil {
		return err
	}
	if tektonStatus(run).IsTerminal() {
		logging.Debug("ci", "PipelineRun %s already terminal, skipping cancel", p.Name)
		return nil
	}
	if err := unstructured.SetNestedField(run.Object, "Cancelled", "spec", "status"); err != nil {
		return errkind.Wrap(errkind.Unknown, err, "setting cancel status on %s", p.Name)
	}
	if err := t.clients.Ctrl.Update(ctx, run); err != nil {
		return errkind.Wrap(errkind.Conflict, err, "cancelling PipelineRun %s", p.Name)
	}
	return nil
}

func (t *Tekton) WaitForAllPipelinesToFinish(ctx context.Context) error {
	return waitForAllPipelineRuns(ctx, t)
}

// GetWebhookURL is the pipelines-as-code controller route the repository
// webhooks must point at.
func (t *Tekton) GetWebhookURL() string {
	return config.Optional(config.EnvPACWebhookURL, "")
}

func (t *Tekton) GetCIFilePathInRepo() string { return ".tekton" }

var _ Provider = (*Tekton)(nil)
