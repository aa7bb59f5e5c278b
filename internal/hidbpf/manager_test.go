package hidbpf

import (
	"errors"
	"fmt"
	"sync"
	"testing"
)

// fakeHost records InputReport deliveries for assertions.
type fakeHost struct {
	mu        sync.Mutex
	delivered [][]byte
	perDevice map[uint32]int
}

func newFakeHost() *fakeHost {
	return &fakeHost{perDevice: make(map[uint32]int)}
}

func (h *fakeHost) FindReport(_ *Device, _ ReportType, _ []byte) (*Report, error) {
	return &Report{}, nil
}

func (h *fakeHost) RawRequest(_ *Device, _ uint8, buf []byte, _ ReportType, _ RequestType) (int, error) {
	return len(buf), nil
}

func (h *fakeHost) OutputReport(_ *Device, buf []byte) (int, error) {
	return len(buf), nil
}

func (h *fakeHost) InputReport(dev *Device, _ ReportType, buf []byte, _ bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	cp := make([]byte, len(buf))
	copy(cp, buf)
	h.delivered = append(h.delivered, cp)
	h.perDevice[dev.ID()]++
	return nil
}

func (h *fakeHost) deliveries() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.delivered)
}

func testManager(t *testing.T) (*Manager, *fakeHost) {
	t.Helper()
	host := newFakeHost()
	return NewManager(host, nil), host
}

func connectDevice(t *testing.T, m *Manager, id uint32, maxEvent int) *Device {
	t.Helper()
	d, err := m.ConnectDevice(DeviceInfo{ID: id, Name: fmt.Sprintf("dev-%d", id), Bus: BusUSB, MaxEventSize: maxEvent})
	if err != nil {
		t.Fatalf("ConnectDevice(%d) error: %v", id, err)
	}
	return d
}

// markerProgram returns a no-op event program that records its invocation
// order into seen.
func markerProgram(name string, flags ProgramFlags, seen *[]string) *Program {
	return &Program{
		DeviceID: 1,
		Flags:    flags,
		Name:     name,
		DeviceEvent: func(_ *Context, _ ReportType) int32 {
			*seen = append(*seen, name)
			return 0
		},
	}
}

func TestAttachOrdering(t *testing.T) {
	tests := []struct {
		name    string
		attach  []struct {
			prog string
			head bool
		}
		want []string
	}{
		{
			name: "appends run in attach order",
			attach: []struct {
				prog string
				head bool
			}{{"a", false}, {"b", false}, {"c", false}},
			want: []string{"a", "b", "c"},
		},
		{
			name: "insert head runs first",
			attach: []struct {
				prog string
				head bool
			}{{"a", false}, {"b", false}, {"head", true}},
			want: []string{"head", "a", "b"},
		},
		{
			name: "two head inserts stack in reverse",
			attach: []struct {
				prog string
				head bool
			}{{"a", false}, {"h1", true}, {"h2", true}, {"b", false}},
			want: []string{"h2", "h1", "a", "b"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _ := testManager(t)
			connectDevice(t, m, 1, 8)

			var seen []string
			for _, a := range tt.attach {
				flags := FlagNone
				if a.head {
					flags = FlagInsertHead
				}
				if err := m.AttachProgram(markerProgram(a.prog, flags, &seen)); err != nil {
					t.Fatalf("attach %q: %v", a.prog, err)
				}
			}

			if err := m.InjectEvent(1, ReportInput, []byte{0x01}, true); err != nil {
				t.Fatalf("InjectEvent: %v", err)
			}
			if len(seen) != len(tt.want) {
				t.Fatalf("ran %d programs, want %d", len(seen), len(tt.want))
			}
			for i := range tt.want {
				if seen[i] != tt.want[i] {
					t.Errorf("position %d: ran %q, want %q", i, seen[i], tt.want[i])
				}
			}
		})
	}
}

func TestAttachAfterDestroy(t *testing.T) {
	m, _ := testManager(t)
	connectDevice(t, m, 1, 8)
	m.DestroyDevice(1)

	var seen []string
	err := m.AttachProgram(markerProgram("late", FlagNone, &seen))
	if !errors.Is(err, ErrDeviceDestroyed) {
		t.Fatalf("attach after destroy: got %v, want ErrDeviceDestroyed", err)
	}
}

func TestRdescFixupSlotOccupied(t *testing.T) {
	m, _ := testManager(t)
	connectDevice(t, m, 1, 8)

	fixup := func(name string) *Program {
		return &Program{
			DeviceID:   1,
			Name:       name,
			RdescFixup: func(_ *Context) int32 { return 0 },
		}
	}

	if err := m.AttachProgram(fixup("first")); err != nil {
		t.Fatalf("first fixup attach: %v", err)
	}
	err := m.AttachProgram(fixup("second"))
	if !errors.Is(err, ErrSlotOccupied) {
		t.Fatalf("second fixup attach: got %v, want ErrSlotOccupied", err)
	}

	// The slot error must be distinct from the destroyed error.
	if errors.Is(err, ErrDeviceDestroyed) {
		t.Fatal("ErrSlotOccupied must not match ErrDeviceDestroyed")
	}
}

func TestAttachProgramLimit(t *testing.T) {
	m, _ := testManager(t)
	connectDevice(t, m, 1, 8)

	var seen []string
	for i := 0; i < MaxProgramsPerDevice; i++ {
		if err := m.AttachProgram(markerProgram(fmt.Sprintf("p%d", i), FlagNone, &seen)); err != nil {
			t.Fatalf("attach %d: %v", i, err)
		}
	}
	err := m.AttachProgram(markerProgram("overflow", FlagNone, &seen))
	if !errors.Is(err, ErrTooManyPrograms) {
		t.Fatalf("attach beyond limit: got %v, want ErrTooManyPrograms", err)
	}
}

func TestAttachValidation(t *testing.T) {
	m, _ := testManager(t)
	connectDevice(t, m, 1, 8)

	if err := m.AttachProgram(&Program{DeviceID: 1, Name: "empty"}); !errors.Is(err, ErrNoCallback) {
		t.Errorf("no-callback attach: got %v, want ErrNoCallback", err)
	}

	bad := &Program{
		DeviceID:    1,
		Name:        "bad-flags",
		Flags:       ProgramFlags(1 << 7),
		DeviceEvent: func(_ *Context, _ ReportType) int32 { return 0 },
	}
	if err := m.AttachProgram(bad); !errors.Is(err, ErrBadFlags) {
		t.Errorf("bad-flags attach: got %v, want ErrBadFlags", err)
	}

	var seen []string
	p := markerProgram("orphan", FlagNone, &seen)
	p.DeviceID = 99
	if err := m.AttachProgram(p); !errors.Is(err, ErrUnknownDevice) {
		t.Errorf("unknown-device attach: got %v, want ErrUnknownDevice", err)
	}
}

func TestDetachIdempotent(t *testing.T) {
	m, _ := testManager(t)
	d := connectDevice(t, m, 1, 8)

	var seen []string
	p := markerProgram("p", FlagNone, &seen)
	if err := m.AttachProgram(p); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if !p.Attached() {
		t.Fatal("program should report attached")
	}

	m.DetachProgram(p)
	m.DetachProgram(p) // second detach is a no-op

	if p.Attached() {
		t.Error("program should report detached")
	}
	if got := d.ProgramCount(); got != 0 {
		t.Errorf("ProgramCount() = %d, want 0", got)
	}
}

func TestDisconnectPreservesPrograms(t *testing.T) {
	m, _ := testManager(t)
	connectDevice(t, m, 1, 8)

	var seen []string
	if err := m.AttachProgram(markerProgram("keep", FlagNone, &seen)); err != nil {
		t.Fatalf("attach: %v", err)
	}

	m.DisconnectDevice(1)
	d := connectDevice(t, m, 1, 8) // reconnect

	if got := d.ProgramCount(); got != 1 {
		t.Fatalf("after reconnect ProgramCount() = %d, want 1", got)
	}
	if err := m.InjectEvent(1, ReportInput, []byte{0xaa}, true); err != nil {
		t.Fatalf("InjectEvent after reconnect: %v", err)
	}
	if len(seen) != 1 {
		t.Errorf("program ran %d times after reconnect, want 1", len(seen))
	}
}

func TestInitThenConnect(t *testing.T) {
	m, _ := testManager(t)

	d, err := m.InitDevice(DeviceInfo{ID: 1, Name: "dev-1", MaxEventSize: 8})
	if err != nil {
		t.Fatalf("InitDevice: %v", err)
	}
	if d.Connected() {
		t.Fatal("initialized device should not report connected")
	}

	// Programs may attach in the init-to-connect window.
	var seen []string
	if err := m.AttachProgram(markerProgram("early", FlagNone, &seen)); err != nil {
		t.Fatalf("attach before connect: %v", err)
	}

	d2 := connectDevice(t, m, 1, 8)
	if d2 != d {
		t.Fatal("connect should reuse the initialized device state")
	}
	if !d2.Connected() {
		t.Error("device should report connected after connect")
	}
	if got := d2.ProgramCount(); got != 1 {
		t.Errorf("ProgramCount() after connect = %d, want 1", got)
	}

	if err := m.InjectEvent(1, ReportInput, []byte{0x01}, true); err != nil {
		t.Fatalf("InjectEvent: %v", err)
	}
	if len(seen) != 1 {
		t.Errorf("early program ran %d times, want 1", len(seen))
	}
}

func TestInitDeviceIdempotent(t *testing.T) {
	m, _ := testManager(t)

	d1, err := m.InitDevice(DeviceInfo{ID: 1, Name: "dev-1"})
	if err != nil {
		t.Fatalf("first InitDevice: %v", err)
	}
	d2, err := m.InitDevice(DeviceInfo{ID: 1, Name: "dev-1"})
	if err != nil {
		t.Fatalf("second InitDevice: %v", err)
	}
	if d1 != d2 {
		t.Error("repeated init should return the same device state")
	}

	m.DestroyDevice(1)
	if _, err := m.InitDevice(DeviceInfo{ID: 1, Name: "dev-1"}); !errors.Is(err, ErrDeviceDestroyed) {
		t.Fatalf("init after destroy: got %v, want ErrDeviceDestroyed", err)
	}
}

func TestConnectAfterDestroy(t *testing.T) {
	m, _ := testManager(t)
	connectDevice(t, m, 1, 8)
	m.DestroyDevice(1)

	_, err := m.ConnectDevice(DeviceInfo{ID: 1, Name: "dev-1"})
	if !errors.Is(err, ErrDeviceDestroyed) {
		t.Fatalf("connect after destroy: got %v, want ErrDeviceDestroyed", err)
	}
}

func TestDestroyReleasesPrograms(t *testing.T) {
	m, _ := testManager(t)
	d := connectDevice(t, m, 1, 8)

	var seen []string
	p := markerProgram("p", FlagNone, &seen)
	if err := m.AttachProgram(p); err != nil {
		t.Fatalf("attach: %v", err)
	}

	m.DestroyDevice(1)

	if p.Attached() {
		t.Error("destroy should release attached programs")
	}
	if !d.Destroyed() {
		t.Error("device should report destroyed")
	}
	if got := d.ProgramCount(); got != 0 {
		t.Errorf("ProgramCount() after destroy = %d, want 0", got)
	}
}
