package config

import (
	"fmt"
	"os"
)

// Template is a commented starting point for a host config file.
const Template = `# agent socket; empty falls back to $AGENTLINK_AUTH_SOCK
agent_path = ""
client_name = "agentlink 1.0"
client_major = 0
client_minor = 0
# outbound fragment bound in bytes
fragment_bound = 65536
log_level = "info"

connect_timeout = "2s"
max_connect_attempts = 1
backoff_initial = "50ms"
backoff_max = "1s"
backoff_multiplier = 2.0
backoff_jitter = true
`

func WriteTemplate(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(Template), 0o600)
}
