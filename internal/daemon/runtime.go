// Package daemon provides the hidflux runtime orchestrator.
// It manages the full lifecycle of the dispatch engine, sources,
// exporters, event bus, and the embedded control API.
package daemon

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/cilium/ebpf/rlimit"
	"go.uber.org/zap"

	"github.com/hidflux/hidflux/internal/bpfprog"
	"github.com/hidflux/hidflux/internal/config"
	"github.com/hidflux/hidflux/internal/constants"
	"github.com/hidflux/hidflux/internal/device"
	"github.com/hidflux/hidflux/internal/event"
	"github.com/hidflux/hidflux/internal/export"
	"github.com/hidflux/hidflux/internal/hidbpf"
	"github.com/hidflux/hidflux/internal/metrics"
	"github.com/hidflux/hidflux/internal/source"
)

// Runtime is the central orchestrator for the hidflux daemon. It owns the
// dispatch engine (Manager + transport), the loaded BPF objects, the
// event bus, and every registered source and exporter, and drives them
// through a common lifecycle.
type Runtime struct {
	cfg       *config.Config
	logger    *zap.Logger
	sources   []source.Source
	exporters []export.Exporter

	bus      *event.Bus
	metrics  *metrics.Metrics
	meta     *device.Cache
	registry *bpfprog.Registry

	mgr *hidbpf.Manager

	// control is the optional embedded API; set via SetControl.
	control ControlServer
}

// ControlServer is the embedded API surface the runtime starts and stops
// alongside the engine. Satisfied by *api.Server.
type ControlServer interface {
	EnableControl(mgr *hidbpf.Manager, registry *bpfprog.Registry)
	Start() error
	Stop() error
}

// NewRuntime creates a Runtime around an engine manager. The EventBus is
// created eagerly so exporters can subscribe before Run().
func NewRuntime(cfg *config.Config, mgr *hidbpf.Manager, logger *zap.Logger) *Runtime {
	return &Runtime{
		cfg:      cfg,
		logger:   logger,
		mgr:      mgr,
		bus:      event.NewBus(cfg.Performance.EventBusBuffer, logger),
		metrics:  metrics.New(),
		meta:     device.NewCache(device.DefaultCacheConfig()),
		registry: bpfprog.NewRegistry(),
	}
}

// RegisterSource adds an event source. Must be called before Run.
func (rt *Runtime) RegisterSource(s source.Source) {
	rt.sources = append(rt.sources, s)
}

// RegisterExporter adds an exporter. Must be called before Run.
func (rt *Runtime) RegisterExporter(e export.Exporter) {
	rt.exporters = append(rt.exporters, e)
}

// SetControl attaches the embedded control API server.
func (rt *Runtime) SetControl(c ControlServer) {
	rt.control = c
}

// EventBus returns the event bus for exporter subscription.
func (rt *Runtime) EventBus() *event.Bus {
	return rt.bus
}

// Run starts the full runtime lifecycle:
//  1. Pre-flight checks (root, rlimit)
//  2. Load configured BPF objects into the registry
//  3. Init all sources with injected dependencies
//  4. Start exporters and the control API
//  5. Start all initialized sources
//  6. Wait for shutdown signal
//  7. Stop sources → close bus → stop exporters → unload objects
func (rt *Runtime) Run(ctx context.Context) error {
	// Pre-flight checks
	if os.Geteuid() != 0 {
		return fmt.Errorf("hidflux requires root privileges. Run with: sudo ./bin/hidfluxd")
	}
	if err := rlimit.RemoveMemlock(); err != nil {
		rt.logger.Warn("Failed to remove memlock rlimit", zap.Error(err))
	}

	rt.logger.Info("hidflux runtime starting",
		zap.Int("sources_registered", len(rt.sources)),
		zap.Int("exporters_registered", len(rt.exporters)),
		zap.Int("programs_configured", len(rt.cfg.Programs)),
		zap.String("node", rt.cfg.Agent.NodeName))

	rt.loadObjects()

	// Initialize sources
	var initialized []source.Source
	for _, s := range rt.sources {
		deps := source.NewDependencies(
			rt.logger.Named(s.Name()),
			&rt.cfg.Source,
			rt.bus,
			rt.metrics,
			rt.mgr,
			rt.meta,
			rt.attachConfigured,
		)

		rt.logger.Info("Initializing source", zap.String("source", s.Name()))
		if err := s.Init(ctx, deps); err != nil {
			rt.logger.Error("Source init failed, skipping",
				zap.String("source", s.Name()), zap.Error(err))
			continue
		}
		initialized = append(initialized, s)
	}

	if len(initialized) == 0 {
		return fmt.Errorf("no sources initialized successfully")
	}

	// Start exporters
	var wg sync.WaitGroup
	for _, e := range rt.exporters {
		wg.Add(1)
		go func(e export.Exporter) {
			defer wg.Done()
			rt.logger.Info("Starting exporter", zap.String("exporter", e.Name()))
			if err := e.Start(ctx); err != nil && ctx.Err() == nil {
				rt.logger.Error("Exporter error",
					zap.String("exporter", e.Name()), zap.Error(err))
			}
		}(e)
	}

	// Start the control API
	if rt.control != nil {
		rt.control.EnableControl(rt.mgr, rt.registry)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := rt.control.Start(); err != nil && ctx.Err() == nil {
				rt.logger.Error("Control API error", zap.Error(err))
			}
		}()
	}

	// Start sources
	for _, s := range initialized {
		wg.Add(1)
		go func(s source.Source) {
			defer wg.Done()
			rt.logger.Info("Starting source", zap.String("source", s.Name()))
			if err := s.Start(ctx); err != nil && ctx.Err() == nil {
				rt.logger.Error("Source error",
					zap.String("source", s.Name()), zap.Error(err))
			}
		}(s)
	}

	names := make([]string, len(initialized))
	for i, s := range initialized {
		names[i] = s.Name()
	}
	exporterNames := make([]string, len(rt.exporters))
	for i, e := range rt.exporters {
		exporterNames[i] = e.Name()
	}
	rt.logger.Info("hidflux running",
		zap.Strings("sources", names),
		zap.Strings("exporters", exporterNames))

	// Wait for shutdown signal
	<-ctx.Done()
	rt.logger.Info("Shutdown signal received")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
	defer stopCancel()

	for _, s := range initialized {
		rt.logger.Debug("Stopping source", zap.String("source", s.Name()))
		if err := s.Stop(stopCtx); err != nil {
			rt.logger.Warn("Error stopping source",
				zap.String("source", s.Name()), zap.Error(err))
		}
	}

	// Close event bus (triggers exporter channel close)
	rt.bus.Close()

	for _, e := range rt.exporters {
		rt.logger.Debug("Stopping exporter", zap.String("exporter", e.Name()))
		if err := e.Stop(stopCtx); err != nil {
			rt.logger.Warn("Error stopping exporter",
				zap.String("exporter", e.Name()), zap.Error(err))
		}
	}

	if rt.control != nil {
		if err := rt.control.Stop(); err != nil {
			rt.logger.Warn("Error stopping control API", zap.Error(err))
		}
	}

	wg.Wait()
	rt.registry.Close()

	rt.logger.Info("hidflux stopped",
		zap.Int("sources_stopped", len(initialized)),
		zap.Uint64("events_published", rt.bus.Published()),
		zap.Uint64("events_dropped", rt.bus.Dropped()))

	return nil
}

// loadObjects loads every BPF object named in the program config. A
// failed load skips that object; devices still adopt without it.
func (rt *Runtime) loadObjects() {
	seen := make(map[string]bool)
	for _, pc := range rt.cfg.Programs {
		if seen[pc.Object] {
			continue
		}
		seen[pc.Object] = true

		coll, err := bpfprog.Load(pc.Object, rt.logger)
		if err != nil {
			rt.logger.Error("BPF object load failed, its programs will not attach",
				zap.String("object", pc.Object), zap.Error(err))
			continue
		}
		rt.registry.Add(coll)
	}
}

// attachConfigured runs at device adoption: every configured program
// whose match clause accepts the device gets attached.
func (rt *Runtime) attachConfigured(dev *hidbpf.Device, meta device.Meta) {
	info := dev.Info()
	for _, pc := range rt.cfg.Programs {
		if !pc.Match.Matches(info.Vendor, info.Product, info.Name) {
			continue
		}
		coll, err := rt.registry.Get(pc.Object)
		if err != nil {
			continue
		}

		flags := hidbpf.FlagNone
		if pc.InsertHead {
			flags = hidbpf.FlagInsertHead
		}
		prog, err := coll.NewProgram(pc.Program, dev.ID(), flags)
		if err != nil {
			rt.logger.Warn("Program build failed",
				zap.String("program", pc.Program),
				zap.String("object", pc.Object), zap.Error(err))
			continue
		}
		if err := rt.mgr.AttachProgram(prog); err != nil {
			rt.logger.Warn("Program attach failed",
				zap.String("program", pc.Program),
				zap.Uint32("device", dev.ID()), zap.Error(err))
		}
	}
}
