// Package hidbpf implements the HID filter-program dispatch engine.
//
// Externally supplied filter programs attach to a HID device and get to
// inspect and rewrite every report the device produces, and to patch the
// report descriptor once at probe time. The engine owns per-device program
// ordering, the shared scratch buffer the programs operate on, and the
// lifecycle transitions (connect, disconnect, destroy) that gate attachment.
//
// The filter execution engine itself (BPF or otherwise) is not part of this
// package — a program is just a pair of verdict callbacks. See bpfprog for
// the cilium/ebpf-backed implementation.
package hidbpf

// ReportType identifies the HID report class an event or request targets.
type ReportType uint8

const (
	ReportInput ReportType = iota
	ReportOutput
	ReportFeature
)

// String returns the lowercase report class name.
func (t ReportType) String() string {
	switch t {
	case ReportInput:
		return "input"
	case ReportOutput:
		return "output"
	case ReportFeature:
		return "feature"
	default:
		return "unknown"
	}
}

// RequestType is the HID class request issued through HostOps.RawRequest.
type RequestType uint8

const (
	RequestGetReport RequestType = iota
	RequestSetReport
)

const (
	// MaxProgramsPerDevice bounds the number of event programs attached to
	// one device. Enforced at attach time.
	MaxProgramsPerDevice = 64

	// RdescBufferSize is the scratch capacity for report-descriptor fixup.
	// A raw descriptor larger than this is rejected before any program runs.
	RdescBufferSize = 4096

	// DefaultMaxEventSize is the scratch buffer size used for devices that
	// do not declare a maximum event size.
	DefaultMaxEventSize = 64
)

// BusType is the physical transport a device sits on. Values follow the
// conventional input subsystem bus identifiers.
type BusType uint32

const (
	BusUSB       BusType = 0x03
	BusBluetooth BusType = 0x05
	BusVirtual   BusType = 0x06
	BusI2C       BusType = 0x18
)

// String returns a short bus name for logs and metric labels.
func (b BusType) String() string {
	switch b {
	case BusUSB:
		return "usb"
	case BusBluetooth:
		return "bluetooth"
	case BusVirtual:
		return "virtual"
	case BusI2C:
		return "i2c"
	default:
		return "unknown"
	}
}
