package app

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadSettings_ReadsConfigYAML(t *testing.T) {
	resetSettingsStateForTest()
	t.Cleanup(resetSettingsStateForTest)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(
		"leader_lease_seconds: 45\nmax_retries: 7\n",
	), 0o600))

	s, err := LoadSettings(dir)
	require.NoError(t, err)
	require.Equal(t, 45, s.LeaderLeaseSeconds)
	require.Equal(t, 7, s.MaxRetries)
}

func TestLoadSettings_MissingFileIsNotAnError(t *testing.T) {
	resetSettingsStateForTest()
	t.Cleanup(resetSettingsStateForTest)

	s, err := LoadSettings(t.TempDir())
	require.NoError(t, err)
	require.Equal(t, Settings{}, s)
}

func TestLoadSettings_InvalidYAMLReturnsError(t *testing.T) {
	resetSettingsStateForTest()
	t.Cleanup(resetSettingsStateForTest)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("max_retries: ["), 0o600))

	_, err := LoadSettings(dir)
	require.Error(t, err)
}

func TestEffective_DefaultsWhenNoConfig(t *testing.T) {
	resetSettingsStateForTest()
	t.Cleanup(resetSettingsStateForTest)

	e := Effective(t.TempDir())
	require.Equal(t, DefaultLeaderLeaseSeconds, e.LeaderLeaseSeconds)
	require.Equal(t, DefaultHeartbeatIntervalSeconds, e.HeartbeatIntervalSeconds)
	require.Equal(t, DefaultAgentDeadThresholdSeconds, e.AgentDeadThresholdSeconds)
	require.Equal(t, DefaultTaskClaimTimeoutSeconds, e.TaskClaimTimeoutSeconds)
	require.Equal(t, DefaultPriorityValue, e.DefaultPriority)
	require.Equal(t, DefaultMaxRetries, e.MaxRetries)
}

func TestEffective_EnvOverridesFile(t *testing.T) {
	resetSettingsStateForTest()
	t.Cleanup(resetSettingsStateForTest)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("max_retries: 9\n"), 0o600))
	t.Setenv("AQUA_MAX_RETRIES", "2")

	e := Effective(dir)
	require.Equal(t, 2, e.MaxRetries)
}
