package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redhat-appstudio/tssc-test/internal/errkind"
)

func TestRequire(t *testing.T) {
	t.Setenv("TSSC_TEST_VAR", "value")
	value, err := Require("TSSC_TEST_VAR")
	require.NoError(t, err)
	assert.Equal(t, "value", value)
}

func TestRequire_Missing(t *testing.T) {
	t.Setenv("TSSC_TEST_VAR", "")
	_, err := Require("TSSC_TEST_VAR")
	require.Error(t, err)
	assert.Equal(t, errkind.InvalidConfig, errkind.KindOf(err))
	assert.Contains(t, err.Error(), "TSSC_TEST_VAR")
	assert.False(t, errkind.Retryable(err))
}

func TestRequire_WhitespaceOnlyIsMissing(t *testing.T) {
	t.Setenv("TSSC_TEST_VAR", "   ")
	_, err := Require("TSSC_TEST_VAR")
	assert.Error(t, err)
}

func TestOptional(t *testing.T) {
	t.Setenv("TSSC_TEST_VAR", "")
	assert.Equal(t, "fallback", Optional("TSSC_TEST_VAR", "fallback"))

	t.Setenv("TSSC_TEST_VAR", "set")
	assert.Equal(t, "set", Optional("TSSC_TEST_VAR", "fallback"))
}

func TestBool(t *testing.T) {
	t.Setenv("TSSC_TEST_VAR", "true")
	assert.True(t, Bool("TSSC_TEST_VAR"))

	t.Setenv("TSSC_TEST_VAR", "TRUE")
	assert.True(t, Bool("TSSC_TEST_VAR"))

	t.Setenv("TSSC_TEST_VAR", "false")
	assert.False(t, Bool("TSSC_TEST_VAR"))

	t.Setenv("TSSC_TEST_VAR", "")
	assert.False(t, Bool("TSSC_TEST_VAR"))
}

func TestTestPlanPath_Default(t *testing.T) {
	t.Setenv(EnvTestPlanPath, "")
	assert.Equal(t, DefaultTestPlanPath, TestPlanPath())

	t.Setenv(EnvTestPlanPath, "/plans/smoke.json")
	assert.Equal(t, "/plans/smoke.json", TestPlanPath())
}

func TestTestPlanNames(t *testing.T) {
	t.Setenv(EnvTestPlanName, "")
	assert.Nil(t, TestPlanNames())

	t.Setenv(EnvTestPlanName, "smoke, full ,")
	assert.Equal(t, []string{"smoke", "full"}, TestPlanNames())
}
