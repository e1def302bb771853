package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/catatsuy/ramcache/internal/metrics"
	"github.com/catatsuy/ramcache/internal/server"
)

type serveOptions struct {
	listen        string
	maxItemBytes  int
	maxLineBytes  int
	metricsListen string
}

func (c *CLI) newServeCommand(global *globalOptions) *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the cache server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, global)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("listen") {
				cfg.Server.Listen = opts.listen
			}
			if flags.Changed("max-item-bytes") {
				cfg.Server.MaxItemBytes = opts.maxItemBytes
			}
			if flags.Changed("max-line-bytes") {
				cfg.Server.MaxLineBytes = opts.maxLineBytes
			}
			if flags.Changed("metrics-listen") {
				cfg.Server.MetricsListen = opts.metricsListen
			}

			logger, err := newLogger(c.stderr, cfg)
			if err != nil {
				return err
			}

			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

			srv := server.NewServer(server.Config{
				ListenAddr:   cfg.Server.Listen,
				MaxLineBytes: cfg.Server.MaxLineBytes,
				MaxItemBytes: cfg.Server.MaxItemBytes,
				Verbose:      cfg.Logging.Verbose,
				Logger:       logger,
				Metrics:      metrics.New(reg),
			})

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if cfg.Server.MetricsListen != "" {
				hs := &http.Server{
					Addr:              cfg.Server.MetricsListen,
					Handler:           metrics.Handler(reg),
					ReadHeaderTimeout: 5 * time.Second,
				}
				go func() {
					if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						logger.Error("metrics server failed", "error", err)
					}
				}()
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = hs.Shutdown(shutdownCtx)
				}()
			}

			logger.Info("starting server", "listen", cfg.Server.Listen, "max_item_bytes", cfg.Server.MaxItemBytes)
			if err := srv.Serve(ctx); err != nil {
				return fmt.Errorf("server failed: %w", err)
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.listen, "listen", "l", "", "TCP address to listen on (default 127.0.0.1:41313)")
	flags.IntVar(&opts.maxItemBytes, "max-item-bytes", 0, "largest accepted value in bytes")
	flags.IntVar(&opts.maxLineBytes, "max-line-bytes", 0, "longest accepted command line in bytes")
	flags.StringVar(&opts.metricsListen, "metrics-listen", "", "address for the Prometheus /metrics endpoint; empty disables it")
	return cmd
}
