package hidbpf

import "sync"

// DeviceInfo is the immutable identity of a HID device as registered with
// the engine.
type DeviceInfo struct {
	ID      uint32
	Name    string
	Bus     BusType
	Vendor  uint16
	Product uint16

	// MaxEventSize is the largest single report the device can produce.
	// It sizes the shared scratch buffer. Zero means DefaultMaxEventSize.
	MaxEventSize int
}

// Device holds the per-device filter state: the ordered event-program
// list, the singleton rdesc-fixup slot, the shared scratch buffer, and
// the destroyed flag. One mutex serializes every mutation and every
// dispatch pass, so destruction always waits for an in-flight pass and a
// pass always observes a stable program order.
type Device struct {
	info DeviceInfo

	mu        sync.Mutex
	data      []byte // lazily allocated on first event-program attach
	destroyed bool
	connected bool
	rdescProg *Program
	programs  []*Program
}

// Info returns the device identity.
func (d *Device) Info() DeviceInfo { return d.info }

// ID returns the engine-assigned device ID.
func (d *Device) ID() uint32 { return d.info.ID }

// maxEventSize resolves the scratch buffer size for this device.
func (d *Device) maxEventSize() int {
	if d.info.MaxEventSize > 0 {
		return d.info.MaxEventSize
	}
	return DefaultMaxEventSize
}

// attach inserts a program under the device lock. All preconditions are
// checked before any state changes, so a failed attach leaves the device
// untouched.
func (d *Device) attach(p *Program) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.destroyed {
		return ErrDeviceDestroyed
	}
	if p.RdescFixup != nil && d.rdescProg != nil {
		return ErrSlotOccupied
	}
	if p.DeviceEvent != nil && len(d.programs) >= MaxProgramsPerDevice {
		return ErrTooManyPrograms
	}

	if p.DeviceEvent != nil {
		if d.data == nil {
			d.data = make([]byte, d.maxEventSize())
		}
		if p.Flags&FlagInsertHead != 0 {
			d.programs = append([]*Program{p}, d.programs...)
		} else {
			d.programs = append(d.programs, p)
		}
	}
	if p.RdescFixup != nil {
		d.rdescProg = p
	}
	p.attached.Store(true)
	return nil
}

// detach removes a program from the event list and, if it holds it, from
// the fixup slot. Idempotent: detaching a program that is not attached is
// a no-op.
func (d *Device) detach(p *Program) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for i, q := range d.programs {
		if q == p {
			d.programs = append(d.programs[:i], d.programs[i+1:]...)
			break
		}
	}
	if d.rdescProg == p {
		d.rdescProg = nil
	}
	p.attached.Store(false)
}

// destroy marks the device dead, releases every program and the scratch
// buffer. Taking the lock here quiesces any in-flight dispatch before the
// buffer goes away. After destroy, events fall back to pass-through and
// no further attach succeeds.
func (d *Device) destroy() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.destroyed = true
	d.connected = false
	for _, p := range d.programs {
		p.attached.Store(false)
	}
	if d.rdescProg != nil {
		d.rdescProg.attached.Store(false)
		d.rdescProg = nil
	}
	d.programs = nil
	d.data = nil
}

// ProgramCount returns the number of attached event programs.
func (d *Device) ProgramCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.programs)
}

// ProgramNames returns the attached event program names in execution
// order, with the rdesc-fixup program (if any) appended last.
func (d *Device) ProgramNames() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	names := make([]string, 0, len(d.programs)+1)
	for _, p := range d.programs {
		names = append(names, p.Name)
	}
	if d.rdescProg != nil {
		names = append(names, d.rdescProg.Name)
	}
	return names
}

// Destroyed reports whether the device state has been torn down.
func (d *Device) Destroyed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.destroyed
}

// Connected reports whether the device is currently associated with a
// live transport.
func (d *Device) Connected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connected
}
