package hidraw

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/hidflux/hidflux/internal/constants"
	"github.com/hidflux/hidflux/internal/device"
	"github.com/hidflux/hidflux/internal/event"
	"github.com/hidflux/hidflux/internal/hidbpf"
	"github.com/hidflux/hidflux/internal/source"
)

// Source discovers hidraw nodes, adopts them into the dispatch engine,
// and pumps their raw events through the filter pipeline. Implements
// source.Source.
type Source struct {
	deps      source.Dependencies
	logger    *zap.Logger
	transport *Transport

	nextID atomic.Uint32

	mu      sync.Mutex
	adopted map[string]uint32 // node name → device ID
	handles map[uint32]*Handle

	wg sync.WaitGroup
}

// New creates a hidraw source delivering through the given transport.
func New(t *Transport) *Source {
	return &Source{
		transport: t,
		adopted:   make(map[string]uint32),
		handles:   make(map[uint32]*Handle),
	}
}

func (s *Source) Name() string { return constants.SourceHidraw }

func (s *Source) Init(_ context.Context, deps source.Dependencies) error {
	s.deps = deps
	s.logger = deps.Logger
	return nil
}

// Start scans for devices and blocks until ctx is cancelled. Each adopted
// device gets its own read goroutine; a device that disappears is
// disconnected (not destroyed) so its programs survive a re-plug.
func (s *Source) Start(ctx context.Context) error {
	s.scan(ctx)

	ticker := time.NewTicker(s.deps.Config.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.scan(ctx)
		}
	}
}

// Stop closes every handle, which unblocks the read loops, and waits for
// them to drain.
func (s *Source) Stop(ctx context.Context) error {
	s.mu.Lock()
	for _, h := range s.handles {
		h.Close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// scan adopts any matching node not yet owned by this source.
func (s *Source) scan(ctx context.Context) {
	paths, err := filepath.Glob(s.deps.Config.HidrawGlob)
	if err != nil {
		s.logger.Warn("hidraw glob failed", zap.Error(err))
		return
	}

	// Forget vanished nodes that have no running read loop (failed
	// probes), so a re-plugged device gets a fresh adoption attempt.
	present := make(map[string]bool, len(paths))
	for _, path := range paths {
		present[filepath.Base(path)] = true
	}
	s.mu.Lock()
	for node, id := range s.adopted {
		if _, live := s.handles[id]; !live && !present[node] {
			delete(s.adopted, node)
		}
	}
	s.mu.Unlock()

	for _, path := range paths {
		node := filepath.Base(path)
		s.mu.Lock()
		_, known := s.adopted[node]
		s.mu.Unlock()
		if known {
			continue
		}
		if err := s.adopt(ctx, path); err != nil {
			s.logger.Warn("device adoption failed",
				zap.String("node", node), zap.Error(err))
			s.deps.Metrics.IncSourceError(s.Name())
		}
	}
}

// adopt opens a node, registers the device with the engine, runs the
// descriptor fixup pass, and starts the read loop.
func (s *Source) adopt(ctx context.Context, path string) error {
	h, err := Open(path)
	if err != nil {
		return err
	}

	bus, vendor, product, err := h.Info()
	if err != nil {
		h.Close()
		return err
	}
	name, err := h.Name()
	if err != nil {
		h.Close()
		return err
	}

	meta, ok := s.deps.Meta.Lookup(h.Node())
	if !ok {
		// sysfs unavailable, fall back to ioctl identity
		meta = device.Meta{Name: name, BusType: bus, Vendor: vendor, Product: product}
	}

	id := s.nextID.Add(1)
	info := hidbpf.DeviceInfo{
		ID:           id,
		Name:         meta.Name,
		Bus:          hidbpf.BusType(meta.BusType),
		Vendor:       meta.Vendor,
		Product:      meta.Product,
		MaxEventSize: constants.DefaultReadBufferSize,
	}
	dev, err := s.deps.Manager.ConnectDevice(info)
	if err != nil {
		h.Close()
		return err
	}

	// Attach configured programs before the descriptor pass so an
	// attached fixup program sees the probe.
	if s.deps.OnAdopt != nil {
		s.deps.OnAdopt(dev, meta)
	}

	rdesc, err := h.Descriptor()
	if err != nil {
		h.Close()
		s.deps.Manager.DisconnectDevice(id)
		return err
	}

	fixed, err := dev.FixupRdesc(rdesc)
	if err != nil {
		// A rejecting fixup program fails the probe. The node stays in
		// the adopted map (with no handle) so it is not retried until it
		// disappears and comes back.
		s.deps.Metrics.ObserveRdescFixup(info.Name, event.VerdictAborted.String())
		s.publishFixup(dev, len(rdesc), 0, event.VerdictAborted)
		h.Close()
		s.deps.Manager.DisconnectDevice(id)
		s.mu.Lock()
		s.adopted[h.Node()] = id
		s.mu.Unlock()
		return err
	}
	s.deps.Metrics.ObserveRdescFixup(info.Name, event.VerdictDelivered.String())
	s.publishFixup(dev, len(rdesc), len(fixed), event.VerdictDelivered)

	s.transport.bind(id, h, fixed)
	s.mu.Lock()
	s.adopted[h.Node()] = id
	s.handles[id] = h
	s.mu.Unlock()

	s.deps.Metrics.SetProgramCount(info.Name, dev.ProgramCount())
	s.deps.Metrics.IncDevices(info.Bus.String())

	s.logger.Info("device adopted",
		zap.String("node", h.Node()),
		zap.Uint32("device", id),
		zap.String("name", info.Name),
		zap.String("bus", info.Bus.String()),
		zap.Int("rdesc_len", len(fixed)),
		zap.Int("programs", dev.ProgramCount()))

	s.wg.Add(1)
	go s.readLoop(ctx, dev, h)
	return nil
}

// readLoop pumps raw events from one device through the dispatcher until
// the device goes away or the source stops.
func (s *Source) readLoop(ctx context.Context, dev *hidbpf.Device, h *Handle) {
	defer s.wg.Done()

	buf := make([]byte, constants.DefaultReadBufferSize)
	for {
		n, err := h.Read(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, unix.EBADF) {
				return
			}
			if errors.Is(err, unix.ENODEV) || errors.Is(err, unix.EIO) {
				s.drop(dev, h)
				return
			}
			s.logger.Warn("hidraw read failed",
				zap.String("node", h.Node()), zap.Error(err))
			s.deps.Metrics.IncSourceError(s.Name())
			continue
		}

		start := time.Now()
		out, err := dev.DispatchEvent(hidbpf.ReportInput, buf[:n])
		elapsed := time.Since(start)

		switch {
		case err == nil:
			if derr := s.transport.InputReport(dev, hidbpf.ReportInput, out, true); derr != nil {
				s.logger.Warn("input report delivery failed",
					zap.String("node", h.Node()), zap.Error(derr))
				s.deps.Metrics.IncSourceError(s.Name())
				continue
			}
			s.deps.Metrics.ObserveDispatch(dev.Info().Name, hidbpf.ReportInput.String(), elapsed.Seconds())
			s.publishDispatch(dev, n, len(out), elapsed, event.VerdictDelivered, 0)

		case errors.Is(err, hidbpf.ErrBufferOverflow):
			s.deps.Metrics.ObserveOverflow(dev.Info().Name)
			s.publishDispatch(dev, n, 0, elapsed, event.VerdictOverflow, 0)

		default:
			var aborted *hidbpf.ProgramAbortedError
			if errors.As(err, &aborted) {
				s.deps.Metrics.ObserveAbort(dev.Info().Name)
				s.publishDispatch(dev, n, 0, elapsed, event.VerdictAborted, aborted.Code)
			} else {
				s.logger.Warn("dispatch failed",
					zap.String("node", h.Node()), zap.Error(err))
				s.deps.Metrics.IncSourceError(s.Name())
			}
		}
	}
}

// drop handles a vanished device: disconnect (programs survive a
// re-plug), unbind the handle, forget the node.
func (s *Source) drop(dev *hidbpf.Device, h *Handle) {
	id := dev.ID()
	s.deps.Manager.DisconnectDevice(id)
	s.transport.unbind(id)
	s.deps.Meta.Invalidate(h.Node())
	h.Close()

	s.mu.Lock()
	delete(s.adopted, h.Node())
	delete(s.handles, id)
	s.mu.Unlock()

	s.deps.Metrics.DecDevices(dev.Info().Bus.String())
	s.logger.Info("device gone",
		zap.String("node", h.Node()), zap.Uint32("device", id))
}

func (s *Source) publishDispatch(dev *hidbpf.Device, in, out int, elapsed time.Duration, v event.Verdict, code int32) {
	e := event.Acquire()
	e.Kind = event.KindInput
	e.Verdict = v
	e.Timestamp = time.Now()
	e.DeviceID = dev.ID()
	e.DeviceName = dev.Info().Name
	e.Bus = dev.Info().Bus.String()
	e.InSize = in
	e.OutSize = out
	e.Programs = dev.ProgramCount()
	e.AbortCode = code
	e.Interrupt = true
	e.SetNumeric(constants.KeyDispatchSec, elapsed.Seconds())
	s.deps.Bus.Publish(e)
}

func (s *Source) publishFixup(dev *hidbpf.Device, in, out int, v event.Verdict) {
	e := event.Acquire()
	e.Kind = event.KindFixup
	e.Verdict = v
	e.Timestamp = time.Now()
	e.DeviceID = dev.ID()
	e.DeviceName = dev.Info().Name
	e.Bus = dev.Info().Bus.String()
	e.InSize = in
	e.OutSize = out
	e.SetNumeric(constants.KeyRdescLen, float64(out))
	s.deps.Bus.Publish(e)
}
