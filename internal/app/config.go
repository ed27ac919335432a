package app

import "os"

// WriteDefaultConfig writes a commented default config.yaml to path if it
// does not already exist. Used by `aqua init`.
func WriteDefaultConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}
	return os.WriteFile(path, []byte(defaultConfig), 0o600)
}

const defaultConfig = `# aqua configuration
# Run: aqua --help
#
# All keys are optional; environment variables of the same name in
# upper-case with an AQUA_ prefix override whatever is set here.

# leader_lease_seconds: 30
# heartbeat_interval_seconds: 10
# agent_dead_threshold_seconds: 300
# task_claim_timeout_seconds: 1800
# default_priority: 5
# max_retries: 3
`
