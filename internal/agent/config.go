package agent

import (
	"github.com/danmuck/agentlink/internal/protocol"
	"github.com/danmuck/agentlink/internal/protocol/frame"
)

// LibraryVersion is the client name sent when Config.ClientName is empty.
const LibraryVersion = "agentlink 1.0"

// Config holds construction-time client settings.
type Config struct {
	ClientName  string
	ClientMajor uint32
	ClientMinor uint32
	// FragmentBound is the largest staged payload sent in one command and
	// the size of every fragment.
	FragmentBound int
	Limits        frame.Limits
	// Observer sees frames and operation outcomes; nil disables it.
	Observer Observer
}

func DefaultConfig() Config {
	return Config{
		ClientName:    LibraryVersion,
		FragmentBound: protocol.MaxFragment,
		Limits:        frame.DefaultLimits(),
	}
}

// WithDefaults fills zero fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.ClientName == "" {
		c.ClientName = def.ClientName
	}
	if c.FragmentBound <= 0 {
		c.FragmentBound = def.FragmentBound
	}
	if c.Limits.MaxPayloadBytes == 0 {
		c.Limits = def.Limits
	}
	return c
}
