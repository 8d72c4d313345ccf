// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"code.hybscloud.com/streamgw"
	"code.hybscloud.com/streamgw/config"
	"code.hybscloud.com/streamgw/observability"
	"code.hybscloud.com/streamgw/relay"
	"code.hybscloud.com/streamgw/sock"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var runFlags struct {
	port            int
	logLevel        string
	dryRun          bool
	shutdownTimeout time.Duration
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the gateway",
	Long: `Start the gateway with the loaded configuration.

The gateway listens on listen.host:listen.port, resolves the upstream API key
from the env file, $API_KEY or upstream.api_key, and relays every request to
upstream.host over TLS. SIGINT or SIGTERM closes the listener and every open
session.

Examples:
  # Start with streamgw.yaml from the search path
  streamgw run

  # Override the listen port and log level
  streamgw run --port 8080 --log-level debug

  # Validate the configuration without starting
  streamgw run --dry-run`,
	Args: cobra.NoArgs,
	RunE: runGateway,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().IntVarP(&runFlags.port, "port", "p", 0, "override listen port")
	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "validate config without starting")
	runCmd.Flags().DurationVar(&runFlags.shutdownTimeout, "shutdown-timeout", 10*time.Second, "how long to wait for sessions on shutdown")
}

func runGateway(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if runFlags.port != 0 {
		cfg.Listen.Port = runFlags.port
	}
	if runFlags.logLevel != "" {
		cfg.Log.Level = runFlags.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if runFlags.dryRun {
		fmt.Fprintln(cmd.OutOrStdout(), "configuration valid")
		return nil
	}

	logger, err := observability.SetupLogger(cfg.Log)
	if err != nil {
		return fmt.Errorf("setup logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	q := streamgw.NewQueue(
		streamgw.WithWorkers(cfg.Engine.Workers),
		streamgw.WithCapacity(cfg.Engine.Capacity),
		streamgw.WithRetry(streamgw.RetryPolicy{
			Initial:    cfg.Engine.RetryInitial,
			Max:        cfg.Engine.RetryMax,
			Multiplier: cfg.Engine.RetryMultiplier,
		}),
		streamgw.WithOpTimeout(cfg.Engine.OpTimeout),
		streamgw.WithLogger(logger),
	)
	defer q.Close()

	keys, err := config.NewKeySource(cfg.Upstream.EnvFile, cfg.Upstream.APIKey, logger)
	if err != nil {
		return err
	}
	defer keys.Close()
	if cfg.Upstream.WatchEnvFile && cfg.Upstream.EnvFile != "" {
		if err := keys.Watch(); err != nil {
			logger.Warn("env file watch disabled", zap.String("path", cfg.Upstream.EnvFile), zap.Error(err))
		}
	}
	if keys.Key() == "" {
		logger.Warn("no upstream api key configured, exchanges fail until one is set")
	}

	tlsConf, err := sock.TLSConfig(sock.TLSOptions{
		ServerName:         cfg.Upstream.TLS.ServerName,
		MinVersion:         cfg.Upstream.TLS.MinVersion,
		CAFile:             cfg.Upstream.TLS.CAFile,
		InsecureSkipVerify: cfg.Upstream.TLS.InsecureSkipVerify,
	})
	if err != nil {
		return err
	}
	if cfg.Upstream.TLS.InsecureSkipVerify {
		logger.Warn("upstream certificate verification is disabled")
	}
	dial := relay.TLSDialer(cfg.Upstream.Host, cfg.Upstream.Port, tlsConf,
		[]sock.Option{
			sock.WithPollWindow(cfg.Upstream.PollWindow),
			sock.WithDialTimeout(cfg.Upstream.DialTimeout),
			sock.WithLogger(logger),
		},
		sock.WithHandshakeTimeout(cfg.Upstream.HandshakeTimeout),
		sock.WithWriteTimeout(cfg.Upstream.WriteTimeout),
	)

	var metrics *observability.Metrics
	if cfg.Metrics.Enabled {
		metrics = observability.NewMetrics(cfg.Metrics.Namespace, nil)
		metrics.ObserveQueue(cfg.Metrics.Namespace, q.Stats)
		stop := serveMetrics(cfg.Metrics, metrics, logger)
		defer stop()
	}

	r := relay.New(q, relay.Options{
		UpstreamHost:    cfg.Upstream.Host,
		Dial:            dial,
		Keys:            keys,
		MaxRequestBytes: cfg.Relay.MaxRequestBytes,
		ReceiveSize:     cfg.Relay.ReceiveSize,
		MaxBodyBytes:    cfg.Relay.MaxBodyBytes,
		Logger:          logger,
		Metrics:         metrics,
		Tracer:          observability.NewTracer(cfg.Tracing),
	})
	srv := relay.NewServer(q, r, relay.ServerConfig{
		Host:          cfg.Listen.Host,
		Port:          cfg.Listen.Port,
		Backlog:       cfg.Listen.Backlog,
		PollWindow:    cfg.Listen.PollWindow,
		SweepSchedule: cfg.Sessions.SweepSchedule,
	}, logger, metrics)
	if err := srv.Start(); err != nil {
		return err
	}
	logger.Info("streamgw started",
		zap.String("version", Version),
		zap.String("upstream", fmt.Sprintf("%s:%d", cfg.Upstream.Host, cfg.Upstream.Port)),
		zap.String("stack", sock.Platform().Name()),
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	logger.Info("shutting down", zap.Duration("timeout", runFlags.shutdownTimeout))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), runFlags.shutdownTimeout)
	defer cancel()
	return srv.Close(shutdownCtx)
}

// serveMetrics exposes the registry on its own listener and returns a
// function that shuts it down.
func serveMetrics(c config.MetricsConfig, m *observability.Metrics, logger *zap.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle(c.Path, m.Handler())
	hs := &http.Server{
		Addr:              c.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("metrics listening", zap.String("addr", c.Listen), zap.String("path", c.Path))
		if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = hs.Shutdown(ctx)
	}
}
