package hidraw

import (
	"errors"
	"fmt"
	"sync"

	"github.com/hidflux/hidflux/internal/hidbpf"
	"github.com/hidflux/hidflux/internal/hidutil"
)

// ErrUnsupportedRequest marks report/request combinations the hidraw
// interface cannot express (e.g. GET_REPORT on an input report).
var ErrUnsupportedRequest = errors.New("hidraw: unsupported raw request")

// DeliveryFunc receives input reports that survived the filter pass.
type DeliveryFunc func(dev *hidbpf.Device, rtype hidbpf.ReportType, buf []byte, interrupt bool)

// Transport implements hidbpf.HostOps over open hidraw handles. It also
// keeps each adopted device's (fixed-up) report descriptor so reports can
// be resolved against the device's report enumeration.
type Transport struct {
	mu      sync.RWMutex
	handles map[uint32]*Handle
	rdescs  map[uint32][]byte

	// deliver is the upward path for completed input reports. Runs on
	// the event-read goroutine; must not block.
	deliver DeliveryFunc
}

// NewTransport creates an empty transport. SetDelivery must be called
// before events flow.
func NewTransport() *Transport {
	return &Transport{
		handles: make(map[uint32]*Handle),
		rdescs:  make(map[uint32][]byte),
	}
}

// SetDelivery installs the input-report sink.
func (t *Transport) SetDelivery(fn DeliveryFunc) {
	t.deliver = fn
}

// bind associates a device ID with its open handle and descriptor.
func (t *Transport) bind(id uint32, h *Handle, rdesc []byte) {
	t.mu.Lock()
	t.handles[id] = h
	t.rdescs[id] = rdesc
	t.mu.Unlock()
}

// unbind drops a device's handle, e.g. when the node disappears.
func (t *Transport) unbind(id uint32) {
	t.mu.Lock()
	delete(t.handles, id)
	delete(t.rdescs, id)
	t.mu.Unlock()
}

func (t *Transport) handle(id uint32) (*Handle, error) {
	t.mu.RLock()
	h, ok := t.handles[id]
	t.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("hidraw: device %d has no open handle", id)
	}
	return h, nil
}

// FindReport resolves the report the raw bytes belong to. For numbered
// devices the report ID is the leading byte; unnumbered devices have a
// single implicit report 0.
func (t *Transport) FindReport(dev *hidbpf.Device, rtype hidbpf.ReportType, raw []byte) (*hidbpf.Report, error) {
	t.mu.RLock()
	rdesc := t.rdescs[dev.ID()]
	t.mu.RUnlock()

	if !hidutil.HasReportIDs(rdesc) {
		return &hidbpf.Report{ID: 0, Type: rtype, Size: len(raw)}, nil
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("hidraw: empty report from numbered device %d", dev.ID())
	}
	for _, id := range hidutil.ReportIDs(rdesc) {
		if id == raw[0] {
			return &hidbpf.Report{ID: id, Type: rtype, Size: len(raw) - 1}, nil
		}
	}
	return nil, fmt.Errorf("hidraw: device %d declares no report %d", dev.ID(), raw[0])
}

// RawRequest issues a synchronous class request. hidraw can express
// feature report transfer in both directions and SET_REPORT of output
// reports (as a write); everything else is unsupported.
func (t *Transport) RawRequest(dev *hidbpf.Device, reportNum uint8, buf []byte, rtype hidbpf.ReportType, reqtype hidbpf.RequestType) (int, error) {
	h, err := t.handle(dev.ID())
	if err != nil {
		return 0, err
	}
	if len(buf) == 0 || buf[0] != reportNum {
		return 0, fmt.Errorf("hidraw: request buffer must lead with report %d", reportNum)
	}

	switch {
	case rtype == hidbpf.ReportFeature && reqtype == hidbpf.RequestGetReport:
		return h.GetFeature(buf)
	case rtype == hidbpf.ReportFeature && reqtype == hidbpf.RequestSetReport:
		return h.SetFeature(buf)
	case rtype == hidbpf.ReportOutput && reqtype == hidbpf.RequestSetReport:
		return h.Write(buf)
	default:
		return 0, fmt.Errorf("%w: %s/%d", ErrUnsupportedRequest, rtype, reqtype)
	}
}

// OutputReport writes an output report to the device.
func (t *Transport) OutputReport(dev *hidbpf.Device, buf []byte) (int, error) {
	h, err := t.handle(dev.ID())
	if err != nil {
		return 0, err
	}
	return h.Write(buf)
}

// InputReport submits a completed input report up the stack.
func (t *Transport) InputReport(dev *hidbpf.Device, rtype hidbpf.ReportType, buf []byte, interrupt bool) error {
	if t.deliver == nil {
		return nil
	}
	t.deliver(dev, rtype, buf, interrupt)
	return nil
}
