package hidbpf

import (
	"errors"
	"fmt"
)

var (
	// ErrDeviceDestroyed is returned when attaching to (or connecting) a
	// device whose state has been torn down for good.
	ErrDeviceDestroyed = errors.New("hidbpf: device destroyed")

	// ErrSlotOccupied is returned when a second report-descriptor fixup
	// program is attached while one is already in place.
	ErrSlotOccupied = errors.New("hidbpf: rdesc fixup slot already occupied")

	// ErrBufferOverflow is returned when incoming data, or a program's
	// resize verdict, exceeds the context's allocated capacity.
	ErrBufferOverflow = errors.New("hidbpf: buffer overflow")

	// ErrTooManyPrograms is returned when a device already carries
	// MaxProgramsPerDevice event programs.
	ErrTooManyPrograms = errors.New("hidbpf: too many programs attached")

	// ErrUnknownDevice is returned when the target device ID is not known
	// to the manager.
	ErrUnknownDevice = errors.New("hidbpf: unknown device")

	// ErrNoCallback is returned when attaching a program that implements
	// neither the device-event nor the rdesc-fixup callback.
	ErrNoCallback = errors.New("hidbpf: program implements no callback")

	// ErrBadFlags is returned when a program carries undefined flag bits.
	ErrBadFlags = errors.New("hidbpf: undefined program flags")
)

// ProgramAbortedError reports that a filter program returned a negative
// verdict, discarding the current event or failing the current probe.
// The device itself stays usable; subsequent events dispatch normally.
type ProgramAbortedError struct {
	Program string
	Code    int32
}

func (e *ProgramAbortedError) Error() string {
	return fmt.Sprintf("hidbpf: program %q aborted with code %d", e.Program, e.Code)
}

// TransportError wraps a failure from a HostOps call. It is propagated to
// the caller untouched; the engine never retries.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("hidbpf: transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
