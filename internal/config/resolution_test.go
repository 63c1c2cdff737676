package config

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkoosis/ratewatch/pkg/ratemonitor"
)

func TestResolve_When_NothingConfigured(t *testing.T) {
	isolate(t)

	r, err := Resolve(CliFlags{})
	require.NoError(t, err)

	assert.Equal(t, ratemonitor.Options{}.Resolve(), r.Monitor.Resolve())
	assert.Equal(t, DefaultTheme, r.Theme)
	assert.Equal(t, DefaultLogFormat, r.LogFormat)
	assert.Empty(t, r.ConfigFile)
	assert.Equal(t, SourceDefault, r.Sources["max_failure_rate"])
}

func TestResolve_Precedence_CLI_Env_File(t *testing.T) {
	dir := isolate(t)
	writeFile(t, filepath.Join(dir, LocalConfigName), `
max_failure_rate: 0.5
min_tests_before_evaluation: 20
failure_rate_check_interval: 10
retries: 1
theme: orca
`)
	t.Setenv("MIN_TESTS_BEFORE_EVALUATION", "15")
	t.Setenv("RATEWATCH_RETRIES", "3")

	r, err := Resolve(CliFlags{
		Monitor: ratemonitor.Options{MaxFailureRate: ratemonitor.Float(0.2)},
	})
	require.NoError(t, err)

	cfg := r.Monitor.Resolve()
	assert.Equal(t, 0.2, cfg.MaxFailureRate)
	assert.Equal(t, 15, cfg.MinTestsBeforeEvaluation)
	assert.Equal(t, 10, cfg.CheckInterval)
	assert.Equal(t, 3, r.DefaultRetries)
	assert.Equal(t, "orca", r.Theme)
	assert.Equal(t, LocalConfigName, r.ConfigFile)

	assert.Equal(t, SourceCLI, r.Sources["max_failure_rate"])
	assert.Equal(t, SourceEnv, r.Sources["min_tests_before_evaluation"])
	assert.Equal(t, SourceFile, r.Sources["failure_rate_check_interval"])
	assert.Equal(t, SourceDefault, r.Sources["enabled"])
}

func TestResolve_PrefixedEnvWins(t *testing.T) {
	isolate(t)
	t.Setenv("MAX_FAILURE_RATE", "0.4")
	t.Setenv("RATEWATCH_MAX_FAILURE_RATE", "0.6")

	r, err := Resolve(CliFlags{})
	require.NoError(t, err)

	assert.Equal(t, 0.6, r.Monitor.Resolve().MaxFailureRate)
}

func TestResolve_EnableFlagFromEnv(t *testing.T) {
	isolate(t)

	t.Setenv("ENABLE_FAILURE_RATE_MONITOR", "false")
	r, err := Resolve(CliFlags{})
	require.NoError(t, err)
	assert.False(t, r.Monitor.Resolve().Enabled)

	t.Setenv("ENABLE_FAILURE_RATE_MONITOR", "0")
	r, err = Resolve(CliFlags{})
	require.NoError(t, err)
	assert.True(t, r.Monitor.Resolve().Enabled, "only the literal \"false\" disables")
}

func TestResolve_When_EnvUnparseable(t *testing.T) {
	isolate(t)
	t.Setenv("FAILURE_RATE_CHECK_INTERVAL", "often")

	_, err := Resolve(CliFlags{})

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidValue))
	assert.Contains(t, err.Error(), "FAILURE_RATE_CHECK_INTERVAL")
}

func TestResolve_When_LogFormatUnknown(t *testing.T) {
	isolate(t)

	_, err := Resolve(CliFlags{LogFormat: "xml"})

	assert.ErrorIs(t, err, ErrInvalidValue)
}

func TestResolve_NoColorSelectsMono(t *testing.T) {
	isolate(t)
	t.Setenv("NO_COLOR", "1")

	r, err := Resolve(CliFlags{})
	require.NoError(t, err)
	assert.Equal(t, "mono", r.Theme)

	r, err = Resolve(CliFlags{Theme: "orca"})
	require.NoError(t, err)
	assert.Equal(t, "orca", r.Theme, "an explicit flag beats NO_COLOR")
}

func TestResolved_GroupsAndRunConfig(t *testing.T) {
	t.Parallel()

	r := &Resolved{
		DefaultRetries: 1,
		Groups: []GroupRule{
			{Name: "e2e", Match: "example.com/app/e2e", Retries: 2},
			{Name: "e2e", Match: "example.com/other", Retries: 9},
			{Name: "slow", Match: "example.com/*/slow", Retries: 0},
		},
	}

	assert.Equal(t, "e2e", r.GroupOf("example.com/app/e2e/login"))
	assert.Equal(t, "slow", r.GroupOf("example.com/svc/slow"))
	assert.Equal(t, DefaultGroupName, r.GroupOf("example.com/app/unit"))

	assert.Equal(t, ratemonitor.RunConfig{Groups: []ratemonitor.Group{
		{Name: "e2e", Retries: 2},
		{Name: "slow", Retries: 0},
		{Name: DefaultGroupName, Retries: 1},
	}}, r.RunConfig())
}
