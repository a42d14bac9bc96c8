// rpcserver is the reference action server for the rpcrt runtime: it
// binds a UDP socket, answers the PSK handshake for connecting
// players, serves the fixed IGameGrain/IPlayerGrain manifest, and
// dispatches GetWorldState/ConnectPlayer/Disconnect requests against
// an in-memory world model.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/zoneward/rpcrt/internal/config"
	"github.com/zoneward/rpcrt/internal/directory"
	"github.com/zoneward/rpcrt/internal/metrics"
	"github.com/zoneward/rpcrt/internal/security"
	"github.com/zoneward/rpcrt/internal/transport"
)

func main() {
	os.Exit(run())
}

var configPath string

func run() int {
	cmd := &cobra.Command{
		Use:   "rpcserver",
		Short: "authoritative action server answering the handshake/manifest/RPC protocol for one zone",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(context.Background())
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to configuration file (YAML)")

	if err := cmd.Execute(); err != nil {
		if exitErr, ok := err.(exitCodeError); ok {
			fmt.Fprintln(os.Stderr, "Error:", exitErr.err)
			return exitErr.code
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return 0
}

// exitCodeError lets runServer communicate a specific process exit
// code through cobra's plain error return.
type exitCodeError struct {
	code int
	err  error
}

func (e exitCodeError) Error() string { return e.err.Error() }

func runServer(parentCtx context.Context) error {
	cfg, err := loadServerConfig(configPath)
	if err != nil {
		return exitCodeError{1, fmt.Errorf("load configuration: %w", err)}
	}
	if err := config.ValidateServer(cfg); err != nil {
		return exitCodeError{1, fmt.Errorf("invalid configuration: %w", err)}
	}

	logLevel := new(slog.LevelVar)
	logLevel.Set(config.ParseLogLevel(cfg.Log.Level))
	logger := newLogger(cfg.Log, logLevel)

	ctx, stop := signal.NotifyContext(parentCtx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	securityMode, err := security.ParseMode(cfg.Security.Mode)
	if err != nil {
		return exitCodeError{1, err}
	}

	dirClient := directory.NewClient(cfg.Directory.BaseURL, cfg.Directory.Timeout)
	pskSource := directoryPSKSource{dir: dirClient}

	tr := transport.NewUDPTransport(logger)
	if err := tr.Bind(cfg.ListenUDP); err != nil {
		logger.Error("bind failed", slog.String("addr", cfg.ListenUDP), slog.String("error", err.Error()))
		return exitCodeError{2, err}
	}
	defer tr.Close()

	logger.Info("action server listening",
		slog.String("serverId", cfg.ServerID),
		slog.String("addr", cfg.ListenUDP),
		slog.String("securityMode", cfg.Security.Mode))

	w := newWorld()
	h := newHub(tr, w, pskSource, securityMode, logger, collector, cfg.HeartbeatTimeout)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		h.run(gctx)
		return nil
	})
	if addr := cfg.Metrics.Addr; addr != "" {
		g.Go(func() error {
			serveMetrics(gctx, addr, cfg.Metrics.Path, reg, logger)
			return nil
		})
	}

	<-ctx.Done()
	logger.Info("shutting down", slog.String("reason", ctx.Err().Error()))
	return g.Wait()
}

func loadServerConfig(path string) (*config.ServerConfig, error) {
	if path != "" {
		return config.LoadServer(path)
	}
	return config.DefaultServerConfig(), nil
}
