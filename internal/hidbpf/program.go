package hidbpf

import "sync/atomic"

// ProgramFlags control where a program is inserted in the device's
// execution order. The default appends to the end.
type ProgramFlags uint32

const (
	// FlagNone appends the program after all currently attached programs.
	FlagNone ProgramFlags = 0

	// FlagInsertHead inserts the program before the currently earliest one.
	FlagInsertHead ProgramFlags = 1 << 0
)

// flagMask is the set of defined flag bits; anything else is rejected.
const flagMask = FlagInsertHead

// Program describes one attached filter program: its target device, its
// ordering directive, and the callbacks it implements. A program may
// implement either or both callbacks, and belongs to at most one device.
//
// DeviceID and Flags are loader-writable only until the program is
// attached; Attach freezes them.
//
// Callback verdict contract:
//
//	0   keep the current size, continue with the next program
//	>0  new valid size, bounds-checked against AllocatedSize
//	<0  abort: the event is discarded (or the probe fails) with this code
type Program struct {
	// DeviceID is the engine-assigned ID of the target device.
	DeviceID uint32

	// Flags is the ordering directive, FlagNone or FlagInsertHead.
	Flags ProgramFlags

	// Name identifies the program in logs, metrics, and the control API.
	Name string

	// DeviceEvent is invoked for every report the device produces.
	// Runs on the event-delivery goroutine: it must not block.
	DeviceEvent func(ctx *Context, rtype ReportType) int32

	// RdescFixup is invoked once at probe time against the raw report
	// descriptor. At most one attached program per device may set it.
	RdescFixup func(ctx *Context) int32

	attached atomic.Bool
}

// Attached reports whether the program is currently bound to a device.
func (p *Program) Attached() bool { return p.attached.Load() }

// validate checks the loader-facing record before attachment.
func (p *Program) validate() error {
	if p.DeviceEvent == nil && p.RdescFixup == nil {
		return ErrNoCallback
	}
	if p.Flags&^flagMask != 0 {
		return ErrBadFlags
	}
	return nil
}
