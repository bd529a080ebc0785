package credentials

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/scheme"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	"github.com/redhat-appstudio/tssc-test/internal/errkind"
	"github.com/redhat-appstudio/tssc-test/internal/kube"
)

func storeWithSecret(data map[string][]byte) *Store {
	secret := &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{Namespace: signingSecretNamespace, Name: signingSecretName},
		Data:       data,
	}
	client := fake.NewClientBuilder().WithScheme(scheme.Scheme).WithObjects(secret).Build()
	return NewStore(&kube.Clients{Ctrl: client})
}

func TestCosignKeys(t *testing.T) {
	store := storeWithSecret(map[string][]byte{
		cosignPublicKeyField:  []byte("public-pem"),
		cosignPrivateKeyField: []byte("private-pem"),
		cosignPasswordField:   []byte("hunter2"),
	})

	pub, err := store.CosignPublicKey(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "public-pem", string(pub))

	priv, err := store.CosignPrivateKey(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "private-pem", string(priv))

	pass, err := store.CosignPassword(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "hunter2", string(pass))
}

func TestMissingFieldFails(t *testing.T) {
	store := storeWithSecret(map[string][]byte{cosignPublicKeyField: []byte("public-pem")})

	_, err := store.CosignPassword(context.Background())
	assert.Equal(t, errkind.NotFound, errkind.KindOf(err))
}

func TestCacheServesRepeats(t *testing.T) {
	store := storeWithSecret(map[string][]byte{cosignPublicKeyField: []byte("public-pem")})

	first, err := store.CosignPublicKey(context.Background())
	require.NoError(t, err)

	// Drop the client; a cached read must not touch it.
	store.clients = nil
	second, err := store.CosignPublicKey(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
