package device

import (
	"errors"
	"testing"
	"time"
)

func TestParseUevent(t *testing.T) {
	data := `DRIVER=hid-generic
HID_ID=0003:0000046D:0000C52B
HID_NAME=Logitech USB Receiver
HID_PHYS=usb-0000:00:14.0-2/input1
HID_UNIQ=
MODALIAS=hid:b0003g0001v0000046Dp0000C52B
`
	meta, err := parseUevent(data)
	if err != nil {
		t.Fatalf("parseUevent: %v", err)
	}
	if meta.Name != "Logitech USB Receiver" {
		t.Errorf("Name = %q", meta.Name)
	}
	if meta.Phys != "usb-0000:00:14.0-2/input1" {
		t.Errorf("Phys = %q", meta.Phys)
	}
	if meta.BusType != 0x03 {
		t.Errorf("BusType = %#x, want 0x03", meta.BusType)
	}
	if meta.Vendor != 0x046d || meta.Product != 0xc52b {
		t.Errorf("Vendor:Product = %04x:%04x, want 046d:c52b", meta.Vendor, meta.Product)
	}
}

func TestParseUeventErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"no name", "HID_ID=0003:0000046D:0000C52B\n"},
		{"malformed id", "HID_NAME=x\nHID_ID=0003:046D\n"},
		{"non-hex id", "HID_NAME=x\nHID_ID=0003:zzzz:0001\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := parseUevent(tt.data); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestCacheLookup(t *testing.T) {
	resolved := 0
	c := NewCache(CacheConfig{MaxSize: 4, TTL: time.Hour})
	c.resolve = func(node string) (Meta, error) {
		resolved++
		if node == "hidraw9" {
			return Meta{}, errors.New("no such device")
		}
		return Meta{Name: "dev-" + node, Vendor: 0x1}, nil
	}

	meta, ok := c.Lookup("hidraw0")
	if !ok || meta.Name != "dev-hidraw0" {
		t.Fatalf("Lookup = %+v, %v", meta, ok)
	}

	// Second lookup hits the cache.
	if _, ok := c.Lookup("hidraw0"); !ok {
		t.Fatal("cached lookup failed")
	}
	if resolved != 1 {
		t.Errorf("resolver ran %d times, want 1", resolved)
	}

	// Unresolvable nodes are not cached.
	if _, ok := c.Lookup("hidraw9"); ok {
		t.Error("lookup of missing device should fail")
	}
	if c.Len() != 1 {
		t.Errorf("cache len = %d, want 1", c.Len())
	}
}

func TestCacheInvalidate(t *testing.T) {
	resolved := 0
	c := NewCache(DefaultCacheConfig())
	c.resolve = func(node string) (Meta, error) {
		resolved++
		return Meta{Name: node}, nil
	}

	c.Lookup("hidraw2")
	c.Invalidate("hidraw2")
	c.Lookup("hidraw2")
	if resolved != 2 {
		t.Errorf("resolver ran %d times, want 2 after invalidate", resolved)
	}
}

func TestCacheEviction(t *testing.T) {
	c := NewCache(CacheConfig{MaxSize: 4, TTL: time.Hour})
	c.resolve = func(node string) (Meta, error) {
		return Meta{Name: node}, nil
	}

	for _, node := range []string{"a", "b", "c", "d", "e", "f"} {
		c.Lookup(node)
	}
	if c.Len() > 4 {
		t.Errorf("cache len = %d, want <= max size 4", c.Len())
	}
}
