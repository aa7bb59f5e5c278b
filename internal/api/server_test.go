package api

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/hidflux/hidflux/internal/bpfprog"
	"github.com/hidflux/hidflux/internal/hidbpf"
)

type nopHost struct{}

func (nopHost) FindReport(*hidbpf.Device, hidbpf.ReportType, []byte) (*hidbpf.Report, error) {
	return &hidbpf.Report{}, nil
}
func (nopHost) RawRequest(*hidbpf.Device, uint8, []byte, hidbpf.ReportType, hidbpf.RequestType) (int, error) {
	return 0, nil
}
func (nopHost) OutputReport(*hidbpf.Device, []byte) (int, error) { return 0, nil }
func (nopHost) InputReport(*hidbpf.Device, hidbpf.ReportType, []byte, bool) error {
	return nil
}

func newControlServer(t *testing.T) (*Server, *hidbpf.Manager) {
	t.Helper()
	mgr := hidbpf.NewManager(nopHost{}, nil)
	srv := NewServer(":0", nil, nil, zap.NewNop())
	srv.EnableControl(mgr, bpfprog.NewRegistry())
	return srv, mgr
}

func TestHandleDevices(t *testing.T) {
	srv, mgr := newControlServer(t)
	if _, err := mgr.ConnectDevice(hidbpf.DeviceInfo{
		ID: 1, Name: "Test Keyboard", Bus: hidbpf.BusUSB, Vendor: 0x046d, Product: 0xc31c,
	}); err != nil {
		t.Fatalf("ConnectDevice: %v", err)
	}

	resp, err := srv.app.Test(httptest.NewRequest("GET", "/api/v1/devices", nil))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	body, _ := io.ReadAll(resp.Body)
	var out struct {
		Devices []struct {
			ID        uint32 `json:"id"`
			Name      string `json:"name"`
			Bus       string `json:"bus"`
			Connected bool   `json:"connected"`
		} `json:"devices"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Devices) != 1 {
		t.Fatalf("devices = %d, want 1", len(out.Devices))
	}
	d := out.Devices[0]
	if d.ID != 1 || d.Name != "Test Keyboard" || d.Bus != "usb" || !d.Connected {
		t.Errorf("unexpected device payload: %+v", d)
	}
}

func TestHandleListProgramsUnknownDevice(t *testing.T) {
	srv, _ := newControlServer(t)

	resp, err := srv.app.Test(httptest.NewRequest("GET", "/api/v1/devices/99/programs", nil))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != 404 {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestHandleAttachUnknownObject(t *testing.T) {
	srv, mgr := newControlServer(t)
	if _, err := mgr.ConnectDevice(hidbpf.DeviceInfo{ID: 1, Name: "dev"}); err != nil {
		t.Fatalf("ConnectDevice: %v", err)
	}

	body := strings.NewReader(`{"object":"/nonexistent.o","program":"hid_device_event_x"}`)
	req := httptest.NewRequest("POST", "/api/v1/devices/1/programs", body)
	req.Header.Set("Content-Type", "application/json")

	resp, err := srv.app.Test(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != 404 {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestHandleDetachNotAttached(t *testing.T) {
	srv, mgr := newControlServer(t)
	if _, err := mgr.ConnectDevice(hidbpf.DeviceInfo{ID: 1, Name: "dev"}); err != nil {
		t.Fatalf("ConnectDevice: %v", err)
	}

	resp, err := srv.app.Test(httptest.NewRequest("DELETE", "/api/v1/devices/1/programs/hid_device_event_x", nil))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != 404 {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestHandleDestroyDevice(t *testing.T) {
	srv, mgr := newControlServer(t)
	if _, err := mgr.ConnectDevice(hidbpf.DeviceInfo{ID: 1, Name: "dev"}); err != nil {
		t.Fatalf("ConnectDevice: %v", err)
	}

	resp, err := srv.app.Test(httptest.NewRequest("DELETE", "/api/v1/devices/1", nil))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	d, ok := mgr.Device(1)
	if !ok || !d.Destroyed() {
		t.Error("device should be destroyed after DELETE")
	}

	// Destroyed devices stay visible in the table.
	resp, err = srv.app.Test(httptest.NewRequest("GET", "/api/v1/devices", nil))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `"destroyed":true`) {
		t.Errorf("device list should mark the device destroyed: %s", body)
	}
}

func TestSanitizeInterval(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"1h", "1 HOUR"},
		{"30m", "30 MINUTE"},
		{"2d", "48 HOUR"},
		{"1h; DROP TABLE events", "1 HOUR"},
		{"", "1 HOUR"},
		{"abc", "1 HOUR"},
	}
	for _, tt := range tests {
		if got := sanitizeInterval(tt.in); got != tt.want {
			t.Errorf("sanitizeInterval(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
