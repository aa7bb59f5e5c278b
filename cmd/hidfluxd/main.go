// hidfluxd - userspace HID event filtering daemon.
//
// Adopts /dev/hidraw devices, runs attached BPF filter programs over
// every raw report and report descriptor, and exports dispatch outcomes
// via Prometheus and NATS JetStream.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/hidflux/hidflux/internal/api"
	"github.com/hidflux/hidflux/internal/config"
	"github.com/hidflux/hidflux/internal/constants"
	"github.com/hidflux/hidflux/internal/daemon"
	"github.com/hidflux/hidflux/internal/export"
	"github.com/hidflux/hidflux/internal/hidbpf"
	"github.com/hidflux/hidflux/internal/hidraw"
)

func main() {
	configPath := flag.String("config", constants.DefaultConfigPath, "path to YAML config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger, err := buildLogger(cfg.Agent.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("hidflux starting",
		zap.String("version", constants.Version),
		zap.String("config", *configPath),
		zap.String("node", cfg.Agent.NodeName))

	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Engine: transport + manager
	transport := hidraw.NewTransport()
	transport.SetDelivery(func(dev *hidbpf.Device, rtype hidbpf.ReportType, buf []byte, interrupt bool) {
		// TODO: forward to a uhid virtual device so filtered reports
		// re-enter the kernel input stack.
		logger.Debug("input report delivered",
			zap.Uint32("device", dev.ID()),
			zap.String("report_type", rtype.String()),
			zap.Int("size", len(buf)),
			zap.Bool("interrupt", interrupt))
	})
	mgr := hidbpf.NewManager(transport, logger.Named("engine"))

	rt := daemon.NewRuntime(cfg, mgr, logger)

	// Sources
	rt.RegisterSource(hidraw.New(transport))

	// Exporters
	if cfg.Exporters.Prometheus.Enabled {
		rt.RegisterExporter(export.NewPrometheus(cfg.Agent.MetricsAddr, rt.EventBus(), logger.Named("prometheus")))
	}
	if cfg.Exporters.NATS.Enabled {
		natsCfg := export.NATSConfig{
			URL:           cfg.Exporters.NATS.URL,
			Stream:        cfg.Exporters.NATS.Stream,
			Subject:       cfg.Exporters.NATS.Subject,
			BatchSize:     cfg.Exporters.NATS.BatchSize,
			FlushInterval: cfg.Exporters.NATS.FlushInterval,
		}
		rt.RegisterExporter(export.NewNATSExporter(natsCfg, rt.EventBus(), logger.Named("nats")))
	}

	// Embedded control API (no ClickHouse/Redis in the daemon shape)
	if cfg.API.Enabled {
		rt.SetControl(api.NewServer(cfg.API.Addr, nil, nil, logger.Named("api")))
	}

	if err := rt.Run(ctx); err != nil {
		logger.Fatal("runtime error", zap.Error(err))
	}
}

// buildLogger creates the production zap logger at the configured level.
func buildLogger(level string) (*zap.Logger, error) {
	logConfig := zap.NewProductionConfig()
	logConfig.EncoderConfig.TimeKey = "ts"
	logConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("bad log level %q: %w", level, err)
	}
	logConfig.Level = zap.NewAtomicLevelAt(lvl)
	return logConfig.Build()
}
