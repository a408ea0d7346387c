package main

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/danmuck/agentlink/internal/agent"
	"github.com/danmuck/agentlink/internal/config"
	"github.com/danmuck/agentlink/internal/keyblob"
	"github.com/danmuck/agentlink/internal/protocol/message"
)

func newPingCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check that the agent answers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var agentName string
			err := opts.request(cmd, func(c *agent.Conn, finish func(error)) {
				agentName = c.AgentName()
				c.Ping(finish)
			})
			if err != nil {
				return err
			}
			printOK(cmd.OutOrStdout(), "agent %s answered", agentName)
			return nil
		},
	}
}

func newListCmd(opts *options) *cobra.Command {
	var keyPath string
	cmd := &cobra.Command{
		Use:   "list [keys|certs|extra|key-certs]",
		Short: "List keys or certificates held by the agent",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			what := "keys"
			if len(args) == 1 {
				what = args[0]
			}
			var public message.KeyRef
			if what == "key-certs" {
				if keyPath == "" {
					return fmt.Errorf("key-certs needs --key")
				}
				ref, _, err := keyblob.LoadPublic(keyPath)
				if err != nil {
					return err
				}
				public = ref
			}

			var entries []message.KeyCert
			err := opts.request(cmd, func(c *agent.Conn, finish func(error)) {
				collect := func(err error, list []message.KeyCert) {
					entries = message.CloneKeyCerts(list)
					finish(err)
				}
				switch what {
				case "keys":
					c.ListKeys(collect)
				case "certs":
					c.ListCertificates(collect)
				case "extra":
					c.ListExtraCertificates(collect)
				case "key-certs":
					c.ListKeyCertificates(public, collect)
				default:
					finish(fmt.Errorf("unknown list %q", what))
				}
			})
			if err != nil {
				return err
			}
			printEntries(cmd.OutOrStdout(), entries)
			return nil
		},
	}
	cmd.Flags().StringVarP(&keyPath, "key", "k", "", "public key file for key-certs")
	return cmd
}

func newRandomCmd(opts *options) *cobra.Command {
	var asHex bool
	cmd := &cobra.Command{
		Use:   "random N",
		Short: "Fetch N random bytes from the agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.ParseUint(args[0], 10, 32)
			if err != nil {
				return fmt.Errorf("parse byte count: %w", err)
			}
			var out []byte
			err = opts.request(cmd, func(c *agent.Conn, finish func(error)) {
				c.Random(uint32(n), func(err error, data []byte) {
					out = append([]byte(nil), data...)
					finish(err)
				})
			})
			if err != nil {
				return err
			}
			printData(cmd.OutOrStdout(), out, asHex)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asHex, "hex", false, "print hex instead of base64")
	return cmd
}

func newSignCmd(opts *options) *cobra.Command {
	var (
		keyPath  string
		certPath string
		opName   string
		dataFile string
		asHex    bool
		verify   bool
	)
	cmd := &cobra.Command{
		Use:   "sign [DATA]",
		Short: "Run a key operation over DATA or --file",
		Long: `sign selects the agent key by its public key (--key) or by a
certificate bound to it (--cert) and prints the operation result.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if (keyPath == "") == (certPath == "") {
				return fmt.Errorf("give exactly one of --key or --cert")
			}
			if verify && keyPath == "" {
				return fmt.Errorf("--verify needs --key")
			}
			var (
				public message.KeyRef
				cert   message.Certificate
				err    error
			)
			if keyPath != "" {
				public, _, err = keyblob.LoadPublic(keyPath)
			} else {
				cert, err = keyblob.LoadCertificate(certPath)
			}
			if err != nil {
				return err
			}
			data, err := inputData(args, dataFile)
			if err != nil {
				return err
			}
			var out []byte
			err = opts.request(cmd, func(c *agent.Conn, finish func(error)) {
				done := func(err error, result []byte) {
					out = append([]byte(nil), result...)
					finish(err)
				}
				if keyPath != "" {
					c.KeyOperation(public, opName, data, done)
				} else {
					c.KeyOperationWithCertificate(cert, opName, data, done)
				}
			})
			if err != nil {
				return err
			}
			if verify {
				if err := keyblob.Verify(public, data, out); err != nil {
					return fmt.Errorf("signature check: %w", err)
				}
				printOK(cmd.ErrOrStderr(), "signature verified with %s", keyblob.Fingerprint(public.Blob))
			}
			printData(cmd.OutOrStdout(), out, asHex)
			return nil
		},
	}
	cmd.Flags().StringVarP(&keyPath, "key", "k", "", "public key file selecting the agent key")
	cmd.Flags().StringVar(&certPath, "cert", "", "PEM certificate selecting the agent key")
	cmd.Flags().StringVar(&opName, "op", "sign", "key operation name")
	cmd.Flags().StringVarP(&dataFile, "file", "f", "", "read data from file")
	cmd.Flags().BoolVar(&asHex, "hex", false, "print hex instead of base64")
	cmd.Flags().BoolVar(&verify, "verify", false, "verify the result as an ssh signature")
	return cmd
}

func newAddKeyCmd(opts *options) *cobra.Command {
	var (
		description   string
		passphraseEnv string
	)
	cmd := &cobra.Command{
		Use:   "add-key PRIVATE_KEY",
		Short: "Load an OpenSSH private key into the agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var passphrase []byte
			if passphraseEnv != "" {
				passphrase = []byte(os.Getenv(passphraseEnv))
			}
			public, private, err := keyblob.LoadPrivate(args[0], passphrase)
			if err != nil {
				return err
			}
			err = opts.request(cmd, func(c *agent.Conn, finish func(error)) {
				c.AddKey(public, private, description, finish)
			})
			if err != nil {
				return err
			}
			printOK(cmd.OutOrStdout(), "added %s", keyblob.Fingerprint(public.Blob))
			return nil
		},
	}
	cmd.Flags().StringVarP(&description, "description", "d", "", "key description")
	cmd.Flags().StringVar(&passphraseEnv, "passphrase-env", "", "environment variable holding the key passphrase")
	return cmd
}

func newDeleteKeyCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "delete-key PUBLIC_KEY",
		Short: "Remove one key from the agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			public, _, err := keyblob.LoadPublic(args[0])
			if err != nil {
				return err
			}
			err = opts.request(cmd, func(c *agent.Conn, finish func(error)) {
				c.DeleteKey(public, finish)
			})
			if err != nil {
				return err
			}
			printOK(cmd.OutOrStdout(), "deleted %s", keyblob.Fingerprint(public.Blob))
			return nil
		},
	}
}

func newDeleteAllCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "delete-all",
		Short: "Remove every key from the agent",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			err := opts.request(cmd, func(c *agent.Conn, finish func(error)) {
				c.DeleteAllKeys(finish)
			})
			if err != nil {
				return err
			}
			printOK(cmd.OutOrStdout(), "all keys deleted")
			return nil
		},
	}
}

func newPassphraseCmd(opts *options) *cobra.Command {
	var (
		kind        string
		program     string
		description string
		always      bool
	)
	cmd := &cobra.Command{
		Use:   "passphrase",
		Short: "Ask the agent to prompt for a passphrase",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var out []byte
			err := opts.request(cmd, func(c *agent.Conn, finish func(error)) {
				c.PassphraseQuery(kind, program, description, always, func(err error, data []byte) {
					out = append([]byte(nil), data...)
					finish(err)
				})
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "type", "passphrase", "passphrase type")
	cmd.Flags().StringVar(&program, "program", "agentctl", "requesting program")
	cmd.Flags().StringVarP(&description, "description", "d", "", "prompt text")
	cmd.Flags().BoolVar(&always, "always", false, "bypass any cached answer")
	return cmd
}

func newQuitCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "quit",
		Short: "Ask the agent to exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			err := opts.request(cmd, func(c *agent.Conn, finish func(error)) {
				c.Quit(finish)
			})
			if err != nil {
				return err
			}
			printOK(cmd.OutOrStdout(), "agent asked to quit")
			return nil
		},
	}
}

func newConfigCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "config-init PATH",
		Short: "Write a config template",
		Args:  cobra.ExactArgs(1),
		// Skips the root setup; PATH may not exist yet.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.WriteTemplate(args[0], force); err != nil {
				return err
			}
			printOK(cmd.OutOrStdout(), "wrote %s", args[0])
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func inputData(args []string, path string) ([]byte, error) {
	switch {
	case path != "" && len(args) > 0:
		return nil, fmt.Errorf("give DATA or --file, not both")
	case path != "":
		return os.ReadFile(path)
	case len(args) == 1:
		return []byte(args[0]), nil
	default:
		return nil, fmt.Errorf("no data to sign")
	}
}

func encodeData(data []byte, asHex bool) string {
	if asHex {
		return hex.EncodeToString(data)
	}
	return base64.StdEncoding.EncodeToString(data)
}
