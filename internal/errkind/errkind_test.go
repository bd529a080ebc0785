package errkind

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindRetryable(t *testing.T) {
	tests := []struct {
		kind      Kind
		retryable bool
	}{
		{NotFound, false},
		{Unauthorized, false},
		{Forbidden, false},
		{InvalidConfig, false},
		{RateLimited, true},
		{TransientNetwork, true},
		{TransientProvider, true},
		{PipelineFailed, false},
		{SyncFailed, false},
		{Timeout, false},
		{UnsupportedStrategy, false},
		{Conflict, true},
	}

	for _, test := range tests {
		t.Run(test.kind.String(), func(t *testing.T) {
			assert.Equal(t, test.retryable, test.kind.Retryable())
		})
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("underlying status 502")
	err := Wrap(TransientProvider, cause, "listing pipelines for %s", "my-repo")

	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, TransientProvider, KindOf(err))
	assert.Contains(t, err.Error(), "my-repo")
}

func TestWrapNilIsNil(t *testing.T) {
	assert.NoError(t, Wrap(NotFound, nil, "whatever"))
}

func TestKindOfUnknownForPlainErrors(t *testing.T) {
	assert.Equal(t, Unknown, KindOf(errors.New("plain")))
	assert.Equal(t, Unknown, KindOf(nil))
}

func TestKindOfWalksWrapChain(t *testing.T) {
	inner := New(NotFound, "file %s absent", "deployment-patch.yaml")
	outer := fmt.Errorf("extracting image: %w", inner)
	assert.Equal(t, NotFound, KindOf(outer))
}

func TestClassifyLegacyPatterns(t *testing.T) {
	tests := []struct {
		msg  string
		kind Kind
	}{
		{"request returned 401 status", Unauthorized},
		{"Unauthorized: bad credentials", Unauthorized},
		{"authentication failed for user", Unauthorized},
		{"invalid token supplied", Unauthorized},
		{"forbidden by policy", Forbidden},
		{"permission denied on namespace", Forbidden},
		{"template not found: go", InvalidConfig},
		{"invalid template name", InvalidConfig},
		{"missing env var GH_PASSWORD", InvalidConfig},
		{"name already taken", TransientProvider},
		{"connection reset by peer", TransientProvider},
	}

	for _, test := range tests {
		t.Run(test.msg, func(t *testing.T) {
			assert.Equal(t, test.kind, Classify(errors.New(test.msg)))
		})
	}
}

func TestRetryable(t *testing.T) {
	assert.False(t, Retryable(nil))
	assert.False(t, Retryable(New(Unauthorized, "nope")))
	assert.True(t, Retryable(New(Conflict, "ref moved")))
	// Unkinded errors fall through to the legacy classifier.
	assert.True(t, Retryable(errors.New("name already taken")))
	assert.False(t, Retryable(errors.New("permission denied")))
}

func TestErrorsIsMatchesOnKind(t *testing.T) {
	err := Wrap(NotFound, errors.New("404"), "getting file content")
	assert.True(t, errors.Is(err, New(NotFound, "")))
	assert.False(t, errors.Is(err, New(Forbidden, "")))
}
