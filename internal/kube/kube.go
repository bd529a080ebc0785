// Package kube builds the cluster clients used by the Tekton, Argo CD and
// credential layers. Configuration resolution follows controller-runtime:
// in-cluster config when present, otherwise the active kubeconfig context.
package kube

import (
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	ctrl "sigs.k8s.io/controller-runtime"
	ctrlclient "sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/redhat-appstudio/tssc-test/internal/errkind"
)

// Clients bundles the typed clientset with the controller-runtime client.
// The controller-runtime client serves CRD access through unstructured
// objects; the clientset serves pod log streaming, which the
// controller-runtime client does not expose.
type Clients struct {
	Ctrl      ctrlclient.Client
	Clientset kubernetes.Interface
	Config    *rest.Config
}

// New resolves cluster configuration and constructs both clients.
func New() (*Clients, error) {
	cfg, err := ctrl.GetConfig()
	if err != nil {
		return nil, errkind.Wrap(errkind.InvalidConfig, err, "resolving cluster configuration")
	}

	ctrlClient, err := ctrlclient.New(cfg, ctrlclient.Options{})
	if err != nil {
		return nil, errkind.Wrap(errkind.InvalidConfig, err, "creating controller-runtime client")
	}

	clientset, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, errkind.Wrap(errkind.InvalidConfig, err, "creating kubernetes clientset")
	}

	return &Clients{Ctrl: ctrlClient, Clientset: clientset, Config: cfg}, nil
}
