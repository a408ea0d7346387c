package config

import (
	"github.com/danmuck/agentlink/internal/agent"
	"github.com/danmuck/agentlink/internal/transport/local"
)

// Engine returns the connection settings for agent.Open.
func (c Config) Engine() agent.Config {
	cfg := agent.DefaultConfig()
	cfg.ClientName = c.ClientName
	cfg.ClientMajor = c.ClientMajor
	cfg.ClientMinor = c.ClientMinor
	if c.FragmentBound > 0 {
		cfg.FragmentBound = c.FragmentBound
	}
	return cfg
}

// Connector returns a unix-socket dialer using the configured retry policy.
func (c Config) Connector() *local.Connector {
	conn := local.NewConnector(c.ConnectTimeout, c.MaxConnectAttempts)
	conn.Backoff = c.Backoff
	return conn
}

// Address resolves the agent socket, preferring explicit over the file and
// the file over the environment.
func (c Config) Address(explicit string) (string, error) {
	if explicit != "" {
		return local.ResolveAddress(explicit)
	}
	return local.ResolveAddress(c.AgentPath)
}
