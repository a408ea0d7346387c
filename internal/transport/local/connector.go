package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// EnvAuthSock names the environment variable holding the agent socket path.
const EnvAuthSock = "AGENTLINK_AUTH_SOCK"

var ErrNoAddress = errors.New("local: no agent address (set " + EnvAuthSock + ")")

// ResolveAddress returns explicit when set and the environment socket
// otherwise.
func ResolveAddress(explicit string) (string, error) {
	if addr := strings.TrimSpace(explicit); addr != "" {
		return addr, nil
	}
	if addr := strings.TrimSpace(os.Getenv(EnvAuthSock)); addr != "" {
		return addr, nil
	}
	return "", ErrNoAddress
}

// Connector dials the agent socket. The zero value dials "unix" once with
// no timeout.
type Connector struct {
	Network     string
	DialTimeout time.Duration
	Backoff     BackoffConfig
	// MaxAttempts bounds dial attempts; zero or one dials once and a
	// negative value retries until ctx is done.
	MaxAttempts int

	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewConnector returns a unix-socket connector with default backoff.
func NewConnector(dialTimeout time.Duration, maxAttempts int) *Connector {
	return &Connector{
		Network:     "unix",
		DialTimeout: dialTimeout,
		Backoff:     DefaultBackoff(),
		MaxAttempts: maxAttempts,
	}
}

// Connect dials addr, retrying with backoff on failure.
func (c *Connector) Connect(ctx context.Context, addr string) (io.ReadWriteCloser, error) {
	if addr == "" {
		return nil, ErrNoAddress
	}
	network := c.Network
	if network == "" {
		network = "unix"
	}
	dialer := net.Dialer{Timeout: c.DialTimeout}
	for attempt := 1; ; attempt++ {
		conn, err := dialer.DialContext(ctx, network, addr)
		if err == nil {
			log.Debug().Str("addr", addr).Int("attempt", attempt).Msg("local.Connector connected")
			return conn, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !c.shouldRetry(attempt) {
			return nil, fmt.Errorf("local: dial %s %s: %w", network, addr, err)
		}
		log.Debug().Err(err).Str("addr", addr).Int("attempt", attempt).Msg("local.Connector retry")
		if err := c.sleepBackoff(ctx, attempt); err != nil {
			return nil, err
		}
	}
}

func (c *Connector) shouldRetry(attempt int) bool {
	if c.MaxAttempts < 0 {
		return true
	}
	return attempt < c.MaxAttempts
}

func (c *Connector) sleepBackoff(ctx context.Context, attempt int) error {
	c.rngMu.Lock()
	if c.rng == nil {
		c.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	delay := NextBackoffDelay(c.Backoff, attempt, c.rng)
	c.rngMu.Unlock()

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
