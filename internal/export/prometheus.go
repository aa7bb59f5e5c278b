package export

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/hidflux/hidflux/internal/constants"
	"github.com/hidflux/hidflux/internal/event"
)

// Prometheus serves the /metrics endpoint and keeps the pipeline's
// self-observability metrics current. The dispatch metrics themselves are
// observed at the source (internal/metrics); this exporter consumes the
// EventBus only to count processed events and track bus health, so no
// counter is incremented twice. Implements the Exporter interface.
type Prometheus struct {
	addr   string
	logger *zap.Logger
	bus    *event.Bus
	events <-chan *event.Event
	server *http.Server
	ready  atomic.Bool

	// Self-observability metrics
	eventsProcessed *prometheus.CounterVec
	eventsDropped   *prometheus.CounterVec
	busQueueDepth   *prometheus.GaugeVec

	// dropped tracks per-subscriber counts already added, so the
	// cumulative bus counter can be converted into increments.
	dropped map[string]uint64
}

// NewPrometheus creates a Prometheus exporter that subscribes to the EventBus.
// All metric names and labels are sourced from the constants package.
func NewPrometheus(addr string, bus *event.Bus, logger *zap.Logger) *Prometheus {
	p := &Prometheus{
		addr:    addr,
		logger:  logger,
		bus:     bus,
		dropped: make(map[string]uint64),

		eventsProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: constants.MetricEventsProcessed,
			Help: "Total events processed by exporter.",
		}, []string{constants.LabelKind}),

		eventsDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: constants.MetricEventsDropped,
			Help: "Total events dropped due to backpressure.",
		}, []string{constants.LabelSubscriber}),

		busQueueDepth: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: constants.MetricBusQueueDepth,
			Help: "Current event bus queue depth per subscriber.",
		}, []string{constants.LabelSubscriber}),
	}

	p.events = bus.Subscribe(constants.ExporterPrometheus)

	return p
}

func (p *Prometheus) Name() string { return constants.ExporterPrometheus }

func (p *Prometheus) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle(constants.PathMetrics, promhttp.Handler())
	mux.HandleFunc(constants.PathHealthz, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})
	mux.HandleFunc(constants.PathReadyz, func(w http.ResponseWriter, r *http.Request) {
		if p.ready.Load() {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ready\n"))
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("not ready\n"))
		}
	})

	p.server = &http.Server{
		Addr:         p.addr,
		Handler:      mux,
		ReadTimeout:  constants.HTTPReadTimeout,
		WriteTimeout: constants.HTTPWriteTimeout,
		IdleTimeout:  constants.HTTPIdleTimeout,
	}

	go func() {
		p.logger.Info("Prometheus exporter listening",
			zap.String("addr", p.addr),
			zap.String("path", constants.PathMetrics))
		if err := p.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			p.logger.Error("Prometheus HTTP server error", zap.Error(err))
		}
	}()

	go p.collectBusStats(ctx)

	p.ready.Store(true)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-p.events:
			if !ok {
				return nil
			}
			p.processEvent(evt)
		}
	}
}

func (p *Prometheus) Stop(ctx context.Context) error {
	p.ready.Store(false)
	if p.server != nil {
		return p.server.Shutdown(ctx)
	}
	return nil
}

// SetReady marks the exporter as ready for readiness probes.
func (p *Prometheus) SetReady() {
	p.ready.Store(true)
}

func (p *Prometheus) processEvent(e *event.Event) {
	p.eventsProcessed.WithLabelValues(e.Kind.String()).Inc()
}

// collectBusStats periodically updates event bus self-observability metrics.
func (p *Prometheus) collectBusStats(ctx context.Context) {
	ticker := time.NewTicker(constants.StatsCollectInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := p.bus.Stats()
			for name, depth := range stats.QueueDepth {
				p.busQueueDepth.WithLabelValues(name).Set(float64(depth))
			}
			for name, total := range stats.DroppedBySubscriber {
				if prev := p.dropped[name]; total > prev {
					p.eventsDropped.WithLabelValues(name).Add(float64(total - prev))
					p.dropped[name] = total
				}
			}
		}
	}
}
