package device

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// sysfsRoot is a variable so tests can point it at a fixture tree.
var sysfsRoot = "/sys/class/hidraw"

// ResolveSysfs reads /sys/class/hidraw/<node>/device/uevent and parses the
// HID_* keys the hid core publishes there, e.g.:
//
//	HID_ID=0003:0000046D:0000C52B
//	HID_NAME=Logitech USB Receiver
//	HID_PHYS=usb-0000:00:14.0-2/input1
//	HID_UNIQ=
func ResolveSysfs(node string) (Meta, error) {
	path := fmt.Sprintf("%s/%s/device/uevent", sysfsRoot, node)
	data, err := os.ReadFile(path)
	if err != nil {
		return Meta{}, fmt.Errorf("reading %s: %w", path, err)
	}
	return parseUevent(string(data))
}

// parseUevent extracts device identity from uevent key=value lines.
func parseUevent(data string) (Meta, error) {
	var meta Meta
	for _, line := range strings.Split(data, "\n") {
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		switch key {
		case "HID_NAME":
			meta.Name = value
		case "HID_PHYS":
			meta.Phys = value
		case "HID_UNIQ":
			meta.Uniq = value
		case "HID_ID":
			bus, vendor, product, err := parseHidID(value)
			if err != nil {
				return Meta{}, err
			}
			meta.BusType = bus
			meta.Vendor = vendor
			meta.Product = product
		}
	}
	if meta.Name == "" {
		return Meta{}, fmt.Errorf("uevent carries no HID_NAME")
	}
	return meta, nil
}

// parseHidID splits the BUS:VENDOR:PRODUCT triple, each field hex.
func parseHidID(s string) (bus uint32, vendor, product uint16, err error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return 0, 0, 0, fmt.Errorf("malformed HID_ID %q", s)
	}
	b, err := strconv.ParseUint(parts[0], 16, 32)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("malformed HID_ID bus %q: %w", parts[0], err)
	}
	v, err := strconv.ParseUint(parts[1], 16, 32)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("malformed HID_ID vendor %q: %w", parts[1], err)
	}
	p, err := strconv.ParseUint(parts[2], 16, 32)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("malformed HID_ID product %q: %w", parts[2], err)
	}
	return uint32(b), uint16(v), uint16(p), nil
}
