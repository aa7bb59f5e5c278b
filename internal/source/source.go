// Package source defines the Source interface that hidflux event sources
// implement. A source owns one transport (hidraw today, a uhid or replay
// backend tomorrow), adopts devices into the dispatch engine, and feeds
// raw events through it.
package source

import (
	"context"

	"go.uber.org/zap"

	"github.com/hidflux/hidflux/internal/config"
	"github.com/hidflux/hidflux/internal/device"
	"github.com/hidflux/hidflux/internal/event"
	"github.com/hidflux/hidflux/internal/hidbpf"
	"github.com/hidflux/hidflux/internal/metrics"
)

// Source defines the lifecycle contract for a pluggable event source.
//
// Each source is responsible for:
//   - Discovering devices on its transport
//   - Registering them with the engine (connect, rdesc fixup)
//   - Reading raw events and injecting them into the dispatcher
//   - Publishing dispatch outcomes to the event bus
//
// Lifecycle: Init(ctx, deps) → Start(ctx) → Stop(ctx)
type Source interface {
	// Name returns a unique identifier for this source.
	Name() string

	// Init opens the transport and prepares device discovery.
	// Dependencies are injected here — the source stores them for later use.
	Init(ctx context.Context, deps Dependencies) error

	// Start begins the discovery and event loops.
	// Must block until ctx is cancelled or an unrecoverable error occurs.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the source and releases transport
	// resources. The ctx has a deadline.
	Stop(ctx context.Context) error
}

// Dependencies provides all shared resources a source needs.
// Injected during Init() — no global state.
type Dependencies struct {
	// Logger for structured logging
	Logger *zap.Logger

	// Config for the source transport
	Config *config.SourceConfig

	// Bus for publishing dispatch outcomes
	Bus *event.Bus

	// Metrics for dispatch observations
	Metrics *metrics.Metrics

	// Manager is the dispatch engine devices are adopted into
	Manager *hidbpf.Manager

	// Meta resolves transport nodes to device identity
	Meta *device.Cache

	// OnAdopt runs after a device is connected and its descriptor fixed
	// up; the daemon uses it to attach configured filter programs.
	// May be nil.
	OnAdopt func(dev *hidbpf.Device, meta device.Meta)
}

// NewDependencies bundles the injected resources for a source.
func NewDependencies(
	logger *zap.Logger,
	cfg *config.SourceConfig,
	bus *event.Bus,
	m *metrics.Metrics,
	mgr *hidbpf.Manager,
	meta *device.Cache,
	onAdopt func(dev *hidbpf.Device, meta device.Meta),
) Dependencies {
	return Dependencies{
		Logger:  logger,
		Config:  cfg,
		Bus:     bus,
		Metrics: m,
		Manager: mgr,
		Meta:    meta,
		OnAdopt: onAdopt,
	}
}
