package app

import (
	"errors"
	"os"
	"strconv"
	"sync"

	"gopkg.in/yaml.v3"
)

// Settings represents configuration loaded from .aqua/config.yaml.
// Field names match snake_case YAML keys; every key is optional and
// environment variables of the same name (upper-cased, AQUA_ prefixed)
// override whatever is loaded here.
type Settings struct {
	LeaderLeaseSeconds        int `yaml:"leader_lease_seconds"`
	HeartbeatIntervalSeconds  int `yaml:"heartbeat_interval_seconds"`
	AgentDeadThresholdSeconds int `yaml:"agent_dead_threshold_seconds"`
	TaskClaimTimeoutSeconds   int `yaml:"task_claim_timeout_seconds"`
	DefaultPriority           int `yaml:"default_priority"`
	MaxRetries                int `yaml:"max_retries"`
}

// Defaults applied when neither config.yaml nor env vars set a key.
const (
	DefaultLeaderLeaseSeconds        = 30
	DefaultHeartbeatIntervalSeconds  = 10
	DefaultAgentDeadThresholdSeconds = 300
	DefaultTaskClaimTimeoutSeconds   = 1800
	DefaultPriorityValue             = 5
	DefaultMaxRetries                = 3
)

// settingsOnce/settings/settingsErr implement the sync.Once lazy-load
// singleton for config.
//
//nolint:gochecknoglobals // sync.Once singleton is intentional process-wide state
var (
	settingsOnce sync.Once
	settings     Settings
	settingsErr  error
)

// resetSettingsStateForTest clears the memoized settings singleton so tests
// can reload configuration from a fresh environment.
func resetSettingsStateForTest() {
	settingsOnce = sync.Once{}
	settings = Settings{}
	settingsErr = nil
}

// LoadSettings loads configuration once from .aqua/config.yaml if present,
// falling back to zero values (callers apply defaults via Effective).
func LoadSettings(aquaDir string) (Settings, error) {
	settingsOnce.Do(func() {
		if aquaDir == "" {
			return
		}
		s, err := loadSettingsFile(ConfigPath(aquaDir))
		if err == nil {
			settings = s
			return
		}
		if !errors.Is(err, os.ErrNotExist) {
			settingsErr = err
		}
	})
	return settings, settingsErr
}

func loadSettingsFile(path string) (Settings, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, err
	}
	var s Settings
	if err := yaml.Unmarshal(b, &s); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// EffectiveSettings resolves configuration with precedence env > file >
// default. Env vars override the file; every key is optional.
type EffectiveSettings struct {
	LeaderLeaseSeconds        int
	HeartbeatIntervalSeconds  int
	AgentDeadThresholdSeconds int
	TaskClaimTimeoutSeconds   int
	DefaultPriority           int
	MaxRetries                int
}

// Effective resolves env-var overrides on top of file settings and defaults.
func Effective(aquaDir string) EffectiveSettings {
	s, _ := LoadSettings(aquaDir)

	return EffectiveSettings{
		LeaderLeaseSeconds:        intOr(s.LeaderLeaseSeconds, DefaultLeaderLeaseSeconds, "AQUA_LEADER_LEASE_SECONDS"),
		HeartbeatIntervalSeconds:  intOr(s.HeartbeatIntervalSeconds, DefaultHeartbeatIntervalSeconds, "AQUA_HEARTBEAT_INTERVAL_SECONDS"),
		AgentDeadThresholdSeconds: intOr(s.AgentDeadThresholdSeconds, DefaultAgentDeadThresholdSeconds, "AQUA_AGENT_DEAD_THRESHOLD_SECONDS"),
		TaskClaimTimeoutSeconds:   intOr(s.TaskClaimTimeoutSeconds, DefaultTaskClaimTimeoutSeconds, "AQUA_TASK_CLAIM_TIMEOUT_SECONDS"),
		DefaultPriority:           intOr(s.DefaultPriority, DefaultPriorityValue, "AQUA_DEFAULT_PRIORITY"),
		MaxRetries:                intOr(s.MaxRetries, DefaultMaxRetries, "AQUA_MAX_RETRIES"),
	}
}

// intOr resolves one setting: env var (if parseable) wins, else the file
// value (if non-zero), else the default.
func intOr(fileValue, defaultValue int, envVar string) int {
	if raw := os.Getenv(envVar); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			return v
		}
	}
	if fileValue > 0 {
		return fileValue
	}
	return defaultValue
}
