// Command svxreflector runs the audio reflector.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/opd-ai/reflector"
	"github.com/opd-ai/reflector/config"
	"github.com/opd-ai/reflector/logging"
	"github.com/opd-ai/reflector/metrics"
	"github.com/opd-ai/reflector/status"
)

var version = "dev"

type flags struct {
	configPath string
	logLevel   string
	listenPort int
	httpListen string
}

func newRootCmd() *cobra.Command {
	var f flags

	cmd := &cobra.Command{
		Use:           "svxreflector",
		Short:         "Relays audio between SvxLink nodes.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, f)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVarP(&f.configPath, "config", "c", "", "path to the YAML configuration file")
	cmd.Flags().StringVar(&f.logLevel, "log-level", "", "override log.level (debug, info, warn, error)")
	cmd.Flags().IntVar(&f.listenPort, "listen-port", 0, "override listen_port")
	cmd.Flags().StringVar(&f.httpListen, "http-listen", "", "override http_listen")
	return cmd
}

// loadConfig reads the configuration and applies flags the user set explicitly.
func loadConfig(cmd *cobra.Command, f flags) (*config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, errors.Wrap(err, "load config failed")
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Log.Level = f.logLevel
	}
	if cmd.Flags().Changed("listen-port") {
		cfg.ListenPort = f.listenPort
	}
	if cmd.Flags().Changed("http-listen") {
		cfg.HTTPListen = f.httpListen
	}
	return cfg, nil
}

// run starts the reflector and the optional status server and blocks until
// ctx is cancelled or either fails.
func run(ctx context.Context, cfg *config.Config) error {
	closer, err := logging.Setup(cfg.Log)
	if err != nil {
		return errors.Wrap(err, "setup logging failed")
	}
	defer closer.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	options := cfg.Options()
	options.Metrics = metrics.New(reg)

	r, err := reflector.New(options)
	if err != nil {
		return errors.Wrap(err, "start reflector failed")
	}
	defer r.Kill()

	logrus.WithFields(logrus.Fields{
		"function":    "run",
		"version":     version,
		"listen_addr": r.Addr().String(),
		"http_listen": cfg.HTTPListen,
	}).Info("svxreflector started")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer cancel()
		return errors.Wrap(r.Run(gctx), "reflector failed")
	})
	if cfg.HTTPListen != "" {
		srv := status.New(cfg.HTTPListen, r, reg)
		g.Go(func() error {
			return errors.Wrap(srv.Run(gctx), "status server failed")
		})
	}
	return g.Wait()
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "svxreflector:", err)
		os.Exit(1)
	}
}
