// rpcclient is the reference client for the rpcrt runtime: it
// registers a new player with the world directory, establishes a
// Connection to the assigned action server, and keeps it alive while
// the zone transition controller follows the player across servers.
package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/zoneward/rpcrt/internal/config"
	"github.com/zoneward/rpcrt/internal/directory"
	"github.com/zoneward/rpcrt/internal/lifecycle"
	"github.com/zoneward/rpcrt/internal/metrics"
	"github.com/zoneward/rpcrt/internal/rpcerrors"
	"github.com/zoneward/rpcrt/internal/security"
	"github.com/zoneward/rpcrt/internal/zone"

	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	os.Exit(run())
}

var (
	configPath string
	playerName string
)

func run() int {
	cmd := &cobra.Command{
		Use:   "rpcclient",
		Short: "connects to a zone-partitioned action server and follows the player across zones",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClient(context.Background())
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to configuration file (YAML)")
	cmd.Flags().StringVar(&playerName, "name", "player", "display name to register with the directory")

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

// exitCodeError lets runClient communicate a specific process exit
// code through cobra's plain error return.
type exitCodeError struct {
	code int
	err  error
}

func (e exitCodeError) Error() string { return e.err.Error() }

func runClient(parentCtx context.Context) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return exitCodeError{1, fmt.Errorf("load configuration: %w", err)}
	}
	if err := config.Validate(cfg); err != nil {
		return exitCodeError{1, fmt.Errorf("invalid configuration: %w", err)}
	}

	logLevel := new(slog.LevelVar)
	logLevel.Set(config.ParseLogLevel(cfg.Log.Level))
	logger := newLogger(cfg.Log, logLevel)

	ctx, stop := signal.NotifyContext(parentCtx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	dirClient := directory.NewClient(cfg.Directory.BaseURL, cfg.Directory.Timeout)

	playerID := uuid.NewString()
	logger.Info("registering with directory", slog.String("playerId", playerID), slog.String("name", playerName))

	bootstrapCtx, cancel := context.WithTimeout(ctx, cfg.Directory.Timeout)
	reg1, err := dirClient.RegisterPlayer(bootstrapCtx, playerID, playerName)
	cancel()
	if err != nil {
		logger.Error("directory registration failed", slog.String("error", err.Error()))
		return exitCodeError{2, err}
	}

	psk, err := base64.StdEncoding.DecodeString(reg1.SessionKeyBase64)
	if err != nil {
		return exitCodeError{2, fmt.Errorf("decode session key: %w", err)}
	}

	observer := &loggingObserver{logger: logger}

	securityMode, err := security.ParseMode(cfg.Security.Mode)
	if err != nil {
		return exitCodeError{1, err}
	}

	params := lifecycle.Params{
		PlayerID:         playerID,
		PSK:              psk,
		SecurityMode:     securityMode,
		HandshakeTimeout: cfg.RPC.HandshakeTimeout,
		ManifestRetries:  cfg.RPC.ManifestRetries,
		WorldStatePeriod: cfg.RPC.WorldStatePeriod,
		HeartbeatPeriod:  cfg.RPC.HeartbeatPeriod,
		ZonesPeriod:      cfg.RPC.AvailableZonesPeriod,
		Logger:           logger,
		Metrics:          collector,
		Observer:         observer,
	}

	collector.ActiveConnections.Inc()
	conn, err := lifecycle.Connect(ctx, reg1.ActionServer, params, false)
	if err != nil {
		collector.ActiveConnections.Dec()
		logger.Error("connect failed", slog.String("error", err.Error()))
		if ce, ok := err.(*rpcerrors.ConnectError); ok && ce.Code == rpcerrors.ConnectSecurityFailed {
			collector.HandshakeFailures.Inc()
			return exitCodeError{3, err}
		}
		return exitCodeError{4, err}
	}
	defer func() {
		conn.Close()
		collector.ActiveConnections.Dec()
	}()

	logger.Info("connected", slog.String("serverId", conn.ServerID()))

	ctrl := zone.NewController(dirClient, conn, params, cfg.RPC.BoundaryThresholdUnits, collector)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ctrl.Run(gctx)
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

	disconnectCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := dirClient.DisconnectPlayer(disconnectCtx, playerID); err != nil {
		logger.Warn("disconnect notification failed", slog.String("error", err.Error()))
	}

	return g.Wait()
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	return config.DefaultConfig(), nil
}

type loggingObserver struct {
	logger *slog.Logger
}

func (o *loggingObserver) OnConnected(serverID string) {
	o.logger.Info("connection ready", slog.String("serverId", serverID))
}

func (o *loggingObserver) OnServerChanged(serverID string) {
	o.logger.Info("zone transition complete", slog.String("serverId", serverID))
}

func (o *loggingObserver) OnDisconnected(reason string) {
	o.logger.Info("connection closed", slog.String("reason", reason))
}
