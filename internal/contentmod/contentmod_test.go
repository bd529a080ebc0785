package contentmod

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyToContent_OrderedFirstOccurrence(t *testing.T) {
	mods := New()
	mods.Add("main.go", "foo", "bar")
	mods.Add("main.go", "bar", "baz")

	// The second replacement sees the result of the first: "foo" became
	// "bar", which is then the first "bar" in the content.
	result := mods.ApplyToContent("main.go", "foo bar")
	assert.Equal(t, "baz bar", result)
}

func TestApplyToContent_MissingOldIsNoop(t *testing.T) {
	mods := New()
	mods.Add("a.txt", "absent", "x")
	mods.Add("a.txt", "hello", "goodbye")

	assert.Equal(t, "goodbye world", mods.ApplyToContent("a.txt", "hello world"))
}

func TestApplyToContent_OnlyFirstOccurrence(t *testing.T) {
	mods := New()
	mods.Add("a.txt", "x", "y")
	assert.Equal(t, "y x x", mods.ApplyToContent("a.txt", "x x x"))
}

func TestApplyToContent_UnknownPathUnchanged(t *testing.T) {
	mods := New()
	mods.Add("a.txt", "x", "y")
	assert.Equal(t, "x", mods.ApplyToContent("other.txt", "x"))
}

func TestMerge(t *testing.T) {
	jenkinsfile := New()
	jenkinsfile.Add("Jenkinsfile", "agent any", "agent { label 'tssc' }")

	env := New()
	env.Add("rhtap/env.sh", "# IMAGE_REGISTRY", "export IMAGE_REGISTRY=quay.io")
	env.Add("Jenkinsfile", "stage('noop')", "stage('build')")

	jenkinsfile.Merge(env)

	assert.Equal(t, []string{"Jenkinsfile", "rhtap/env.sh"}, jenkinsfile.Paths())
	require.Len(t, jenkinsfile.ReplacementsFor("Jenkinsfile"), 2)
	assert.Equal(t, "agent any", jenkinsfile.ReplacementsFor("Jenkinsfile")[0].Old)
	assert.Equal(t, "stage('noop')", jenkinsfile.ReplacementsFor("Jenkinsfile")[1].Old)
}

func TestMergeNil(t *testing.T) {
	mods := New().Add("a", "x", "y")
	mods.Merge(nil)
	assert.Equal(t, []string{"a"}, mods.Paths())
}

func TestClearAndIsEmpty(t *testing.T) {
	mods := New()
	assert.True(t, mods.IsEmpty())

	mods.Add("a.txt", "x", "y")
	assert.False(t, mods.IsEmpty())

	mods.Clear()
	assert.True(t, mods.IsEmpty())
	assert.Empty(t, mods.Paths())
}

func TestImageLineReplacement(t *testing.T) {
	content := `apiVersion: apps/v1
kind: Deployment
spec:
  template:
    spec:
      containers:
        - image: quay.io/org/app@sha256:old
`
	r, err := ImageLineReplacement(content, "quay.io/org/app@sha256:new")
	require.NoError(t, err)
	assert.Equal(t, "        - image: quay.io/org/app@sha256:old", r.Old)
	assert.Equal(t, "        - image: quay.io/org/app@sha256:new", r.New)

	// Round trip through ApplyToContent preserves indentation.
	mods := New().AddAll("patch.yaml", []Replacement{r})
	patched := mods.ApplyToContent("patch.yaml", content)
	assert.Contains(t, patched, "        - image: quay.io/org/app@sha256:new")
	assert.NotContains(t, patched, "sha256:old")
}

func TestImageLineReplacement_NoImageLine(t *testing.T) {
	_, err := ImageLineReplacement("kind: Deployment\n", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no \"- image:\" line")
}

func TestImageLineReplacement_MultipleImageLines(t *testing.T) {
	content := "- image: a\n- image: b\n"
	_, err := ImageLineReplacement(content, "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exactly one")
}
