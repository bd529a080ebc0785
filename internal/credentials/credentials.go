// Package credentials reads signing material from the cluster. A Store is
// an explicit dependency handed to the code that needs it; values are
// cached for the process lifetime since the signing secret never rotates
// during a run.
package credentials

import (
	"context"
	"sync"

	corev1 "k8s.io/api/core/v1"
	ctrlclient "sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/redhat-appstudio/tssc-test/internal/errkind"
	"github.com/redhat-appstudio/tssc-test/internal/kube"
)

// Location of the cosign signing secret installed by the pipeline operator.
const (
	signingSecretNamespace = "openshift-pipelines"
	signingSecretName      = "signing-secrets"

	cosignPublicKeyField  = "cosign.pub"
	cosignPrivateKeyField = "cosign.key"
	cosignPasswordField   = "cosign.password"
)

// Store resolves credentials from cluster secrets with per-key caching.
type Store struct {
	clients *kube.Clients

	mu    sync.RWMutex
	cache map[string][]byte
}

func NewStore(clients *kube.Clients) *Store {
	return &Store{clients: clients, cache: map[string][]byte{}}
}

// secretField fetches one field of a secret, serving repeats from cache.
func (s *Store) secretField(ctx context.Context, namespace, name, field string) ([]byte, error) {
	cacheKey := namespace + "/" + name + "/" + field

	s.mu.RLock()
	if value, ok := s.cache[cacheKey]; ok {
		s.mu.RUnlock()
		return value, nil
	}
	s.mu.RUnlock()

	secret := &corev1.Secret{}
	key := ctrlclient.ObjectKey{Namespace: namespace, Name: name}
	if err := s.clients.Ctrl.Get(ctx, key, secret); err != nil {
		return nil, errkind.Wrap(errkind.NotFound, err, "getting secret %s", cacheKey)
	}
	value, ok := secret.Data[field]
	if !ok {
		return nil, errkind.New(errkind.NotFound, "secret %s/%s has no field %s", namespace, name, field)
	}

	s.mu.Lock()
	s.cache[cacheKey] = value
	s.mu.Unlock()
	return value, nil
}

// CosignPublicKey returns the PEM-encoded verification key.
func (s *Store) CosignPublicKey(ctx context.Context) ([]byte, error) {
	return s.secretField(ctx, signingSecretNamespace, signingSecretName, cosignPublicKeyField)
}

// CosignPrivateKey returns the encrypted PEM-encoded signing key.
func (s *Store) CosignPrivateKey(ctx context.Context) ([]byte, error) {
	return s.secretField(ctx, signingSecretNamespace, signingSecretName, cosignPrivateKeyField)
}

// CosignPassword returns the passphrase of the signing key.
func (s *Store) CosignPassword(ctx context.Context) ([]byte, error) {
	return s.secretField(ctx, signingSecretNamespace, signingSecretName, cosignPasswordField)
}
