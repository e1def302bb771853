package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"runtime/debug"

	"github.com/spf13/cobra"

	"github.com/catatsuy/ramcache/internal/config"
)

var Version string

func version() string {
	if Version != "" {
		return Version
	}

	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "(devel)"
	}

	return info.Main.Version
}

type CLI struct {
	stdout io.Writer
	stderr io.Writer
	stdin  io.Reader

	stdinIsTerminal bool
}

func NewCLI(stdout, stderr io.Writer, stdin io.Reader, stdinIsTerminal bool) *CLI {
	return &CLI{
		stdout:          stdout,
		stderr:          stderr,
		stdin:           stdin,
		stdinIsTerminal: stdinIsTerminal,
	}
}

// exitError carries a specific exit code out of a command.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

func (c *CLI) Run(args []string) int {
	root := c.newRootCommand()
	root.SetArgs(args[1:])

	err := root.ExecuteContext(context.Background())
	if err == nil {
		return 0
	}

	var ee *exitError
	if errors.As(err, &ee) {
		if ee.msg != "" {
			fmt.Fprintln(c.stderr, ee.msg)
		}
		return ee.code
	}
	fmt.Fprintf(c.stderr, "ramcache: %v\n", err)
	return 1
}

type globalOptions struct {
	configPath string
	logLevel   string
	verbose    bool
}

func (c *CLI) newRootCommand() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:   "ramcache",
		Short: "In-memory cache server speaking a memcached text protocol subset",
		Long: `ramcache is a single-node in-memory key/value server for the memcached
get/set commands, with a client that splits large values into slabs.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(c.stdout)
	root.SetErr(c.stderr)
	root.SetIn(c.stdin)

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to a YAML config file")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn or error")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "verbose logging")

	root.AddCommand(
		c.newServeCommand(opts),
		c.newGetCommand(opts),
		c.newSetCommand(opts),
		&cobra.Command{
			Use:   "version",
			Short: "Print version",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "ramcache version %s; %s\n", version(), runtime.Version())
			},
		},
	)
	return root
}

// loadConfig reads the config file and applies global flags that were set.
func loadConfig(cmd *cobra.Command, opts *globalOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Logging.Level = opts.logLevel
	}
	if cmd.Flags().Changed("verbose") {
		cfg.Logging.Verbose = opts.verbose
	}
	return cfg, nil
}

func newLogger(w io.Writer, cfg *config.Config) (*slog.Logger, error) {
	level, err := config.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})), nil
}
