package hidutil

import "testing"

func TestCString(t *testing.T) {
	tests := []struct {
		in   []byte
		want string
	}{
		{[]byte{'M', 'o', 'u', 's', 'e', 0, 0, 0}, "Mouse"},
		{[]byte{'f', 'u', 'l', 'l'}, "full"},
		{[]byte{0}, ""},
		{nil, ""},
	}
	for _, tt := range tests {
		if got := CString(tt.in); got != tt.want {
			t.Errorf("CString(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

// mouseDescriptor is a minimal boot-mouse report descriptor with a single
// Report ID of 2.
var mouseDescriptor = []byte{
	0x05, 0x01, // Usage Page (Generic Desktop)
	0x09, 0x02, // Usage (Mouse)
	0xa1, 0x01, // Collection (Application)
	0x85, 0x02, //   Report ID (2)
	0x09, 0x01, //   Usage (Pointer)
	0xa1, 0x00, //   Collection (Physical)
	0x05, 0x09, //     Usage Page (Button)
	0x19, 0x01, //     Usage Minimum (1)
	0x29, 0x03, //     Usage Maximum (3)
	0x15, 0x00, //     Logical Minimum (0)
	0x25, 0x01, //     Logical Maximum (1)
	0x95, 0x03, //     Report Count (3)
	0x75, 0x01, //     Report Size (1)
	0x81, 0x02, //     Input (Data,Var,Abs)
	0xc0, //   End Collection
	0xc0, // End Collection
}

func TestReportIDs(t *testing.T) {
	tests := []struct {
		name  string
		rdesc []byte
		want  []uint8
	}{
		{"single id", mouseDescriptor, []uint8{2}},
		{"no ids", []byte{0x05, 0x01, 0x09, 0x06, 0xa1, 0x01, 0xc0}, nil},
		{"empty descriptor", nil, nil},
		{
			"multiple ids deduplicated",
			[]byte{0x85, 0x01, 0x85, 0x03, 0x85, 0x01},
			[]uint8{1, 3},
		},
		{
			"long item skipped",
			[]byte{0xfe, 0x02, 0x00, 0xaa, 0xbb, 0x85, 0x07},
			[]uint8{7},
		},
		{"truncated item", []byte{0x85}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ReportIDs(tt.rdesc)
			if len(got) != len(tt.want) {
				t.Fatalf("ReportIDs() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("ReportIDs()[%d] = %d, want %d", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestHasReportIDs(t *testing.T) {
	if !HasReportIDs(mouseDescriptor) {
		t.Error("mouse descriptor declares a report ID")
	}
	if HasReportIDs([]byte{0x05, 0x01}) {
		t.Error("bare descriptor declares no report IDs")
	}
}
