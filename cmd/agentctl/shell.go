package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/danmuck/agentlink/internal/agent"
	"github.com/danmuck/agentlink/internal/eventloop"
	"github.com/danmuck/agentlink/internal/keyblob"
	"github.com/danmuck/agentlink/internal/protocol/message"
)

var errExit = errors.New("exit")

// shellFunc runs on the control thread and must call reply exactly once.
type shellFunc func(c *agent.Conn, args []string, reply func(string))

type shellCommand struct {
	args string
	desc string
	run  shellFunc
}

// shell keeps one connection open and runs line commands against it.
type shell struct {
	conn     *agent.Conn
	commands map[string]shellCommand
}

func newShell(conn *agent.Conn) *shell {
	s := &shell{conn: conn}
	s.commands = map[string]shellCommand{
		"help":       {desc: "list commands", run: s.help},
		"info":       {desc: "connection state", run: shellInfo},
		"ping":       {desc: "check the agent answers", run: shellPing},
		"list":       {args: "[keys|certs|extra]", desc: "list keys or certificates", run: shellList},
		"random":     {args: "N", desc: "fetch N random bytes", run: shellRandom},
		"sign":       {args: "PUBKEY DATA", desc: "run a sign operation", run: shellSign},
		"delete-key": {args: "PUBKEY", desc: "remove one key", run: shellDeleteKey},
		"delete-all": {desc: "remove every key", run: shellCompletion((*agent.Conn).DeleteAllKeys)},
		"quit-agent": {desc: "ask the agent to exit", run: shellCompletion((*agent.Conn).Quit)},
	}
	return s
}

func (s *shell) names() []string {
	names := make([]string, 0, len(s.commands))
	for name := range s.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// exec parses line and runs it. Unknown commands reply immediately.
func (s *shell) exec(line string, reply func(string)) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		reply("")
		return
	}
	cmd, ok := s.commands[strings.ToLower(fields[0])]
	if !ok {
		reply(fmt.Sprintf("unknown command %q, try help", fields[0]))
		return
	}
	cmd.run(s.conn, fields[1:], reply)
}

func (s *shell) help(_ *agent.Conn, _ []string, reply func(string)) {
	var b strings.Builder
	for _, name := range s.names() {
		cmd := s.commands[name]
		fmt.Fprintf(&b, "%-11s %-20s %s\n", name, cmd.args, cmd.desc)
	}
	fmt.Fprintf(&b, "%-11s %-20s %s", "exit", "", "leave the shell")
	reply(b.String())
}

func shellInfo(c *agent.Conn, _ []string, reply func(string)) {
	major, minor := c.AgentVersion()
	reply(fmt.Sprintf("agent %s %d.%d, state %s, %d pending", c.AgentName(), major, minor, c.State(), c.Pending()))
}

func shellPing(c *agent.Conn, _ []string, reply func(string)) {
	c.Ping(func(err error) { reply(errOr(err, "pong")) })
}

func shellCompletion(start func(*agent.Conn, agent.CompletionFunc) *agent.Operation) shellFunc {
	return func(c *agent.Conn, _ []string, reply func(string)) {
		start(c, func(err error) { reply(errOr(err, "ok")) })
	}
}

func shellList(c *agent.Conn, args []string, reply func(string)) {
	what := "keys"
	if len(args) > 0 {
		what = args[0]
	}
	collect := func(err error, entries []message.KeyCert) {
		if err != nil {
			reply(err.Error())
			return
		}
		var b strings.Builder
		for _, e := range entries {
			fmt.Fprintf(&b, "%s %s %s\n", keyblob.Fingerprint(e.Blob), e.Encoding, e.Description)
		}
		reply(strings.TrimSuffix(b.String(), "\n"))
	}
	switch what {
	case "keys":
		c.ListKeys(collect)
	case "certs":
		c.ListCertificates(collect)
	case "extra":
		c.ListExtraCertificates(collect)
	default:
		reply(fmt.Sprintf("unknown list %q", what))
	}
}

func shellRandom(c *agent.Conn, args []string, reply func(string)) {
	if len(args) != 1 {
		reply("usage: random N")
		return
	}
	n, err := strconv.ParseUint(args[0], 10, 32)
	if err != nil {
		reply(err.Error())
		return
	}
	c.Random(uint32(n), func(err error, data []byte) {
		reply(errOr(err, encodeData(data, true)))
	})
}

func shellSign(c *agent.Conn, args []string, reply func(string)) {
	if len(args) < 2 {
		reply("usage: sign PUBKEY DATA")
		return
	}
	public, _, err := keyblob.LoadPublic(args[0])
	if err != nil {
		reply(err.Error())
		return
	}
	data := []byte(strings.Join(args[1:], " "))
	c.KeyOperation(public, "sign", data, func(err error, out []byte) {
		reply(errOr(err, encodeData(out, false)))
	})
}

func shellDeleteKey(c *agent.Conn, args []string, reply func(string)) {
	if len(args) != 1 {
		reply("usage: delete-key PUBKEY")
		return
	}
	public, _, err := keyblob.LoadPublic(args[0])
	if err != nil {
		reply(err.Error())
		return
	}
	c.DeleteKey(public, func(err error) { reply(errOr(err, "ok")) })
}

func errOr(err error, ok string) string {
	if err != nil {
		return err.Error()
	}
	return ok
}

func newShellCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Keep a connection open and run commands interactively",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := opts.cfg.Address(opts.socket)
			if err != nil {
				return err
			}
			items := []readline.PrefixCompleterInterface{readline.PcItem("exit")}
			for _, name := range newShell(nil).names() {
				items = append(items, readline.PcItem(name))
			}
			rl, err := readline.NewEx(&readline.Config{
				Prompt:          "agent> ",
				AutoComplete:    readline.NewPrefixCompleter(items...),
				HistoryLimit:    200,
				InterruptPrompt: "^C",
				EOFPrompt:       "exit",
			})
			if err != nil {
				return err
			}
			defer rl.Close()
			return runShell(cmd.Context(), opts, addr, rl.Readline, rl.Stdout(), rl.SetPrompt)
		},
	}
}

// runShell drives the prompt on its own goroutine and every request on the
// event loop. readLine returns io.EOF or readline.ErrInterrupt to leave.
func runShell(
	ctx context.Context,
	opts *options,
	addr string,
	readLine func() (string, error),
	out io.Writer,
	setPrompt func(string),
) error {
	loop := eventloop.New()
	var result error
	stop := func(err error) {
		if result == nil {
			result = err
		}
		loop.Stop()
	}

	conn := agent.Open(loop, opts.cfg.Connector(), addr, opts.cfg.Engine(), func(c *agent.Conn) {
		if c == nil {
			stop(fmt.Errorf("%w at %s", errConnect, addr))
			return
		}
		s := newShell(c)
		setPrompt(fmt.Sprintf("%s> ", c.AgentName()))
		fmt.Fprintf(out, "connected to %s, type help\n", c.AgentName())
		go prompt(loop, s, readLine, out, stop)
	}, func(err error) {
		fmt.Fprintf(out, "agent closed the connection: %v\n", err)
		stop(nil)
	})
	defer conn.Close()

	if err := loop.Run(ctx); err != nil {
		return err
	}
	if errors.Is(result, errExit) {
		return nil
	}
	return result
}

// prompt reads lines until exit and hands each to the loop, waiting for its
// reply before prompting again.
func prompt(loop *eventloop.Loop, s *shell, readLine func() (string, error), out io.Writer, stop func(error)) {
	for {
		line, err := readLine()
		if err != nil || strings.TrimSpace(line) == "exit" {
			if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, readline.ErrInterrupt) {
				log.Debug().Err(err).Msg("agentctl shell read")
			}
			loop.Post(func() { stop(errExit) })
			return
		}
		done := make(chan string, 1)
		if !loop.Post(func() {
			s.exec(line, func(msg string) { done <- msg })
		}) {
			return
		}
		select {
		case msg := <-done:
			if msg != "" {
				fmt.Fprintln(out, msg)
			}
		case <-loop.Done():
			return
		}
	}
}
