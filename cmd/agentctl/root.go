package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/danmuck/agentlink/internal/agent"
	"github.com/danmuck/agentlink/internal/config"
	"github.com/danmuck/agentlink/internal/eventloop"
	"github.com/danmuck/agentlink/internal/logging"
	"github.com/danmuck/agentlink/internal/observability"
)

var (
	errConnect = errors.New("could not reach agent")
	errTimeout = errors.New("agent did not answer in time")
)

type options struct {
	configPath string
	socket     string
	logLevel   string
	timeout    time.Duration
	metrics    bool

	cfg config.Config
}

func newRootCmd() *cobra.Command {
	opts := &options{cfg: config.DefaultConfig()}
	root := &cobra.Command{
		Use:   "agentctl",
		Short: "Talk to a local key agent",
		Long: `agentctl opens a connection to the key agent socket and runs one request.

The socket comes from --socket, then agent_path in the config file, then
$AGENTLINK_AUTH_SOCK.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.setup()
		},
	}

	opts.bind(root.PersistentFlags())
	root.AddCommand(
		newPingCmd(opts),
		newListCmd(opts),
		newRandomCmd(opts),
		newSignCmd(opts),
		newAddKeyCmd(opts),
		newDeleteKeyCmd(opts),
		newDeleteAllCmd(opts),
		newPassphraseCmd(opts),
		newQuitCmd(opts),
		newShellCmd(opts),
		newConfigCmd(),
	)
	return root
}

func (o *options) bind(flags *pflag.FlagSet) {
	flags.StringVarP(&o.configPath, "config", "c", "", "path to agentlink TOML config")
	flags.StringVarP(&o.socket, "socket", "s", "", "agent socket path")
	flags.StringVar(&o.logLevel, "log-level", "", "log level (trace|debug|info|warn|error|off)")
	flags.DurationVar(&o.timeout, "timeout", 10*time.Second, "overall request timeout")
	flags.BoolVar(&o.metrics, "metrics", false, "print engine metrics to stderr after the request")
}

func (o *options) setup() error {
	logging.ConfigureRuntime()
	log.Logger = log.With().Str("run", uuid.NewString()).Logger()
	if o.configPath != "" {
		cfg, err := config.Load(o.configPath)
		if err != nil {
			return err
		}
		o.cfg = cfg
		zerolog.SetGlobalLevel(cfg.LogLevel)
	}
	if o.logLevel != "" {
		level, ok := logging.ParseLevel(o.logLevel)
		if !ok {
			return fmt.Errorf("unknown log level %q", o.logLevel)
		}
		zerolog.SetGlobalLevel(level)
	}
	return nil
}

// request opens a connection, hands it to fn on the loop and waits for fn
// to call finish.
func (o *options) request(cmd *cobra.Command, fn func(c *agent.Conn, finish func(error))) error {
	addr, err := o.cfg.Address(o.socket)
	if err != nil {
		return err
	}
	engine := o.cfg.Engine()
	var reg *prometheus.Registry
	if o.metrics {
		reg = prometheus.NewRegistry()
		m, err := observability.NewMetrics(reg, addr)
		if err != nil {
			return err
		}
		engine.Observer = m
		defer writeMetrics(cmd.ErrOrStderr(), reg)
	}

	loop := eventloop.New()
	var (
		result   error
		finished bool
	)
	finish := func(err error) {
		if finished {
			return
		}
		finished = true
		result = err
		loop.Stop()
	}

	conn := agent.Open(loop, o.cfg.Connector(), addr, engine, func(c *agent.Conn) {
		if c == nil {
			finish(fmt.Errorf("%w at %s", errConnect, addr))
			return
		}
		major, minor := c.AgentVersion()
		log.Debug().Str("agent", c.AgentName()).Uint32("major", major).Uint32("minor", minor).Msg("agentctl connected")
		fn(c, finish)
	}, func(err error) {
		finish(fmt.Errorf("agent closed the connection: %w", err))
	})
	defer conn.Close()

	runCtx, cancel := context.WithTimeout(cmd.Context(), o.timeout)
	defer cancel()
	if err := loop.Run(runCtx); err != nil {
		return fmt.Errorf("%w: %v", errTimeout, err)
	}
	return result
}
