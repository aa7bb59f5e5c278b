package hidbpf

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Manager is the engine's device table and lifecycle authority. It owns
// the mapping from device IDs to Device state, routes program attachment,
// and drives event injection through to the host operations table.
//
// Two devices dispatch fully independently; the manager's own lock only
// guards the table, never an event pass.
type Manager struct {
	host   HostOps
	logger *zap.Logger

	mu      sync.RWMutex
	devices map[uint32]*Device
}

// NewManager creates a Manager delivering through the given host
// operations table.
func NewManager(host HostOps, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		host:    host,
		logger:  logger,
		devices: make(map[uint32]*Device),
	}
}

// InitDevice registers zeroed filter state for a device without marking
// it connected, mirroring registration happening before the transport is
// up. Programs may attach in the window between init and connect.
// Idempotent for a live device; a destroyed ID yields ErrDeviceDestroyed.
func (m *Manager) InitDevice(info DeviceInfo) (*Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if d, ok := m.devices[info.ID]; ok {
		d.mu.Lock()
		defer d.mu.Unlock()
		if d.destroyed {
			return nil, ErrDeviceDestroyed
		}
		return d, nil
	}

	d := &Device{info: info}
	m.devices[info.ID] = d
	m.logger.Info("device initialized",
		zap.Uint32("device", info.ID),
		zap.String("name", info.Name))
	return d, nil
}

// ConnectDevice registers a device (or re-associates a previously
// disconnected one) with the engine. Programs attached before a
// disconnect survive to the reconnect; a destroyed device cannot come
// back and yields ErrDeviceDestroyed.
func (m *Manager) ConnectDevice(info DeviceInfo) (*Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if d, ok := m.devices[info.ID]; ok {
		d.mu.Lock()
		defer d.mu.Unlock()
		if d.destroyed {
			return nil, ErrDeviceDestroyed
		}
		d.info = info
		d.connected = true
		m.logger.Info("device reconnected",
			zap.Uint32("device", info.ID),
			zap.String("name", info.Name),
			zap.Int("programs", len(d.programs)))
		return d, nil
	}

	d := &Device{info: info, connected: true}
	m.devices[info.ID] = d
	m.logger.Info("device connected",
		zap.Uint32("device", info.ID),
		zap.String("name", info.Name),
		zap.String("bus", info.Bus.String()))
	return d, nil
}

// DisconnectDevice drops the transport association without releasing the
// attached programs, so a later ConnectDevice with the same ID resumes
// filtering where it left off.
func (m *Manager) DisconnectDevice(id uint32) {
	m.mu.RLock()
	d, ok := m.devices[id]
	m.mu.RUnlock()
	if !ok {
		return
	}
	d.mu.Lock()
	d.connected = false
	d.mu.Unlock()
	m.logger.Info("device disconnected", zap.Uint32("device", id))
}

// DestroyDevice finally tears down a device: every program is released,
// the scratch buffer is freed, and any further attach fails with
// ErrDeviceDestroyed. The entry stays in the table so the destroyed state
// is observable; events injected afterwards pass through unmodified.
func (m *Manager) DestroyDevice(id uint32) {
	m.mu.RLock()
	d, ok := m.devices[id]
	m.mu.RUnlock()
	if !ok {
		return
	}
	d.destroy()
	m.logger.Info("device destroyed", zap.Uint32("device", id))
}

// Device looks up a device by ID.
func (m *Manager) Device(id uint32) (*Device, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.devices[id]
	return d, ok
}

// Devices returns all known devices ordered by ID.
func (m *Manager) Devices() []*Device {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Device, 0, len(m.devices))
	for _, d := range m.devices {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].info.ID < out[j].info.ID })
	return out
}

// AttachProgram binds a program to the device named by its DeviceID. The
// loader-facing record (DeviceID, Flags) is frozen on success. Attach may
// allocate the device scratch buffer and must not be called from the
// event-delivery goroutine.
func (m *Manager) AttachProgram(p *Program) error {
	if err := p.validate(); err != nil {
		return err
	}

	m.mu.RLock()
	d, ok := m.devices[p.DeviceID]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("attach %q: %w", p.Name, ErrUnknownDevice)
	}

	if err := d.attach(p); err != nil {
		return fmt.Errorf("attach %q to device %d: %w", p.Name, p.DeviceID, err)
	}
	m.logger.Info("program attached",
		zap.String("program", p.Name),
		zap.Uint32("device", p.DeviceID),
		zap.Bool("insert_head", p.Flags&FlagInsertHead != 0),
		zap.Bool("rdesc_fixup", p.RdescFixup != nil))
	return nil
}

// DetachProgram removes a program from its device. Idempotent.
func (m *Manager) DetachProgram(p *Program) {
	m.mu.RLock()
	d, ok := m.devices[p.DeviceID]
	m.mu.RUnlock()
	if !ok {
		return
	}
	d.detach(p)
	m.logger.Info("program detached",
		zap.String("program", p.Name),
		zap.Uint32("device", p.DeviceID))
}

// InjectEvent dispatches one raw event for the device and, unless a
// program discarded it, delivers the result through HostOps.InputReport.
// This is the hot path: it runs on whatever goroutine reads the hardware
// and does not allocate.
func (m *Manager) InjectEvent(id uint32, rtype ReportType, data []byte, interrupt bool) error {
	m.mu.RLock()
	d, ok := m.devices[id]
	m.mu.RUnlock()
	if !ok {
		return ErrUnknownDevice
	}

	buf, err := d.DispatchEvent(rtype, data)
	if err != nil {
		return err
	}
	if err := m.host.InputReport(d, rtype, buf, interrupt); err != nil {
		return &TransportError{Op: "input_report", Err: err}
	}
	return nil
}

// Host returns the host operations table the manager delivers through.
func (m *Manager) Host() HostOps { return m.host }
