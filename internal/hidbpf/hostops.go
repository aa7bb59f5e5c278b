package hidbpf

// Report describes one report within a device's report enumeration, as
// resolved by the host.
type Report struct {
	ID   uint8
	Type ReportType
	Size int
}

// HostOps is the capability set the engine calls into for everything that
// touches the actual device or forwards reports up the stack. The engine
// never implements it: the transport (hidraw, a test double, a future
// uhid bridge) does, and is injected into the Manager, so dispatch logic
// stays bus-agnostic.
type HostOps interface {
	// FindReport resolves the report structure the raw bytes belong to
	// within the device's report enumeration for the given class.
	FindReport(dev *Device, rtype ReportType, raw []byte) (*Report, error)

	// RawRequest issues a synchronous GET_REPORT/SET_REPORT class request.
	// buf carries the request payload and receives the response; the
	// number of bytes transferred is returned. May block; never call it
	// from the event-delivery goroutine.
	RawRequest(dev *Device, reportNum uint8, buf []byte, rtype ReportType, reqtype RequestType) (int, error)

	// OutputReport writes an output report to the device.
	OutputReport(dev *Device, buf []byte) (int, error)

	// InputReport submits a completed input report up the stack.
	// Called from the event-delivery goroutine: it must not block.
	InputReport(dev *Device, rtype ReportType, buf []byte, interrupt bool) error
}
