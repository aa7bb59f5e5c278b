package hidraw

import (
	"errors"
	"testing"

	"github.com/hidflux/hidflux/internal/hidbpf"
)

// unnumberedRdesc is a minimal collection without report IDs.
var unnumberedRdesc = []byte{
	0x05, 0x01, // Usage Page (Generic Desktop)
	0x09, 0x02, // Usage (Mouse)
	0xa1, 0x01, // Collection (Application)
	0xc0, // End Collection
}

// numberedRdesc declares report IDs 2 and 5.
var numberedRdesc = []byte{
	0x05, 0x01,
	0x09, 0x06,
	0xa1, 0x01,
	0x85, 0x02, // Report ID 2
	0x75, 0x08,
	0x95, 0x08,
	0x81, 0x00,
	0x85, 0x05, // Report ID 5
	0x75, 0x08,
	0x95, 0x04,
	0x81, 0x00,
	0xc0,
}

func newTestDevice(t *testing.T, transport *Transport, id uint32, rdesc []byte) *hidbpf.Device {
	t.Helper()
	mgr := hidbpf.NewManager(transport, nil)
	dev, err := mgr.ConnectDevice(hidbpf.DeviceInfo{ID: id, Name: "test device"})
	if err != nil {
		t.Fatalf("ConnectDevice: %v", err)
	}
	transport.bind(id, nil, rdesc)
	return dev
}

func TestFindReportUnnumbered(t *testing.T) {
	tr := NewTransport()
	dev := newTestDevice(t, tr, 1, unnumberedRdesc)

	raw := []byte{0x01, 0x02, 0x03}
	rep, err := tr.FindReport(dev, hidbpf.ReportInput, raw)
	if err != nil {
		t.Fatalf("FindReport: %v", err)
	}
	if rep.ID != 0 {
		t.Errorf("report ID = %d, want 0", rep.ID)
	}
	if rep.Size != len(raw) {
		t.Errorf("report size = %d, want %d", rep.Size, len(raw))
	}
	if rep.Type != hidbpf.ReportInput {
		t.Errorf("report type = %v, want input", rep.Type)
	}
}

func TestFindReportNumbered(t *testing.T) {
	tr := NewTransport()
	dev := newTestDevice(t, tr, 1, numberedRdesc)

	tests := []struct {
		name    string
		raw     []byte
		wantID  uint8
		wantSz  int
		wantErr bool
	}{
		{name: "report 2", raw: []byte{0x02, 0xaa, 0xbb}, wantID: 2, wantSz: 2},
		{name: "report 5", raw: []byte{0x05, 0xcc}, wantID: 5, wantSz: 1},
		{name: "undeclared report", raw: []byte{0x09, 0x00}, wantErr: true},
		{name: "empty", raw: nil, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rep, err := tr.FindReport(dev, hidbpf.ReportInput, tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("FindReport: %v", err)
			}
			if rep.ID != tt.wantID {
				t.Errorf("report ID = %d, want %d", rep.ID, tt.wantID)
			}
			if rep.Size != tt.wantSz {
				t.Errorf("report size = %d, want %d", rep.Size, tt.wantSz)
			}
		})
	}
}

func TestRawRequestNoHandle(t *testing.T) {
	tr := NewTransport()
	mgr := hidbpf.NewManager(tr, nil)
	dev, err := mgr.ConnectDevice(hidbpf.DeviceInfo{ID: 7, Name: "orphan"})
	if err != nil {
		t.Fatalf("ConnectDevice: %v", err)
	}

	buf := []byte{0x00, 0x01}
	if _, err := tr.RawRequest(dev, 0, buf, hidbpf.ReportFeature, hidbpf.RequestGetReport); err == nil {
		t.Error("RawRequest without a bound handle should fail")
	}
	if _, err := tr.OutputReport(dev, buf); err == nil {
		t.Error("OutputReport without a bound handle should fail")
	}
}

func TestRawRequestUnsupported(t *testing.T) {
	tr := NewTransport()
	dev := newTestDevice(t, tr, 1, unnumberedRdesc)

	// GET_REPORT of an input report is not expressible over hidraw.
	buf := []byte{0x00, 0x01}
	_, err := tr.RawRequest(dev, 0, buf, hidbpf.ReportInput, hidbpf.RequestGetReport)
	if !errors.Is(err, ErrUnsupportedRequest) {
		t.Errorf("err = %v, want ErrUnsupportedRequest", err)
	}
}

func TestRawRequestReportNumMismatch(t *testing.T) {
	tr := NewTransport()
	dev := newTestDevice(t, tr, 1, numberedRdesc)

	// Buffer must lead with the requested report number.
	buf := []byte{0x05, 0x01}
	if _, err := tr.RawRequest(dev, 2, buf, hidbpf.ReportFeature, hidbpf.RequestGetReport); err == nil {
		t.Error("mismatched report number should fail")
	}
}

func TestInputReportDelivery(t *testing.T) {
	tr := NewTransport()
	dev := newTestDevice(t, tr, 1, unnumberedRdesc)

	var gotDev uint32
	var gotBuf []byte
	var gotIrq bool
	tr.SetDelivery(func(d *hidbpf.Device, _ hidbpf.ReportType, buf []byte, interrupt bool) {
		gotDev = d.ID()
		gotBuf = append([]byte(nil), buf...)
		gotIrq = interrupt
	})

	payload := []byte{0xde, 0xad}
	if err := tr.InputReport(dev, hidbpf.ReportInput, payload, true); err != nil {
		t.Fatalf("InputReport: %v", err)
	}
	if gotDev != 1 || !gotIrq {
		t.Errorf("delivery saw device %d irq %v, want 1 true", gotDev, gotIrq)
	}
	if string(gotBuf) != string(payload) {
		t.Errorf("delivery saw %x, want %x", gotBuf, payload)
	}
}

func TestInputReportNoSink(t *testing.T) {
	tr := NewTransport()
	dev := newTestDevice(t, tr, 1, unnumberedRdesc)

	if err := tr.InputReport(dev, hidbpf.ReportInput, []byte{0x01}, false); err != nil {
		t.Errorf("InputReport without a sink should be a no-op, got %v", err)
	}
}

func TestUnbindForgetsDevice(t *testing.T) {
	tr := NewTransport()
	dev := newTestDevice(t, tr, 1, numberedRdesc)

	tr.unbind(1)

	// After unbind the descriptor is gone: any raw bytes resolve as an
	// unnumbered report 0.
	rep, err := tr.FindReport(dev, hidbpf.ReportInput, []byte{0x02, 0xaa})
	if err != nil {
		t.Fatalf("FindReport: %v", err)
	}
	if rep.ID != 0 {
		t.Errorf("report ID = %d, want 0 after unbind", rep.ID)
	}
	if _, err := tr.handle(1); err == nil {
		t.Error("handle lookup should fail after unbind")
	}
}
