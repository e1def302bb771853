package cli

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/catatsuy/ramcache/client"
	"github.com/catatsuy/ramcache/internal/config"
)

type clientOptions struct {
	addr    string
	timeout time.Duration
	slabs   bool
}

func (o *clientOptions) bind(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVarP(&o.addr, "addr", "a", "", "server address (default 127.0.0.1:41313)")
	flags.DurationVarP(&o.timeout, "timeout", "t", 0, "per-call timeout, 0 waits indefinitely")
	flags.BoolVar(&o.slabs, "slabs", false, "use slab groups for values larger than one item")
}

func (c *CLI) newClient(cmd *cobra.Command, global *globalOptions, opts *clientOptions) (*client.Client, error) {
	cfg, err := loadConfig(cmd, global)
	if err != nil {
		return nil, err
	}
	flags := cmd.Flags()
	if flags.Changed("addr") {
		cfg.Client.Addr = opts.addr
	}
	if flags.Changed("timeout") {
		cfg.Client.Timeout = opts.timeout
	}
	if cfg.Client.Addr == "" {
		cfg.Client.Addr = config.Default().Client.Addr
	}

	logger, err := newLogger(c.stderr, cfg)
	if err != nil {
		return nil, err
	}
	return client.New(client.Config{
		Addr:     cfg.Client.Addr,
		MaxConns: cfg.Client.MaxConns,
		Timeout:  cfg.Client.Timeout,
		SlabSize: cfg.Client.SlabSize,
		Logger:   logger,
	})
}

func (c *CLI) newGetCommand(global *globalOptions) *cobra.Command {
	opts := &clientOptions{}
	cmd := &cobra.Command{
		Use:   "get <key>",
		Short: "Print the value stored under key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, err := c.newClient(cmd, global, opts)
			if err != nil {
				return err
			}
			defer cl.Close()

			ctx := cmd.Context()

			var (
				value []byte
				found bool
			)
			if opts.slabs {
				value, found, err = cl.GetSlabs(ctx, args[0])
			} else {
				value, found, err = cl.Get(ctx, args[0])
			}
			if err != nil {
				return err
			}
			if !found {
				return &exitError{code: 1, msg: fmt.Sprintf("ramcache: %s: not found", args[0])}
			}
			_, err = c.stdout.Write(value)
			return err
		},
	}
	opts.bind(cmd)
	return cmd
}

func (c *CLI) newSetCommand(global *globalOptions) *cobra.Command {
	opts := &clientOptions{}
	cmd := &cobra.Command{
		Use:   "set <key> [value]",
		Short: "Store a value under key",
		Long:  "Store a value under key. Without a value argument the value is read from standard input.",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var value []byte
			if len(args) == 2 {
				value = []byte(args[1])
			} else {
				if c.stdinIsTerminal {
					return errors.New("no value given and stdin is a terminal")
				}
				b, err := io.ReadAll(c.stdin)
				if err != nil {
					return fmt.Errorf("read stdin: %w", err)
				}
				value = b
			}

			cl, err := c.newClient(cmd, global, opts)
			if err != nil {
				return err
			}
			defer cl.Close()

			ctx := cmd.Context()
			if opts.slabs {
				return cl.SetSlabs(ctx, args[0], value)
			}
			return cl.Set(ctx, args[0], value)
		},
	}
	opts.bind(cmd)
	return cmd
}
