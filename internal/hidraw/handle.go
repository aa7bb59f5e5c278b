package hidraw

import (
	"fmt"
	"path/filepath"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/hidflux/hidflux/internal/hidutil"
)

// Handle is one open hidraw node.
type Handle struct {
	fd   int
	path string
	node string // "hidraw3"
}

// Open opens a hidraw character device for reading and writing.
func Open(path string) (*Handle, error) {
	fd, err := unix.Open(path, unix.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	return &Handle{fd: fd, path: path, node: filepath.Base(path)}, nil
}

// Node returns the device node name, e.g. "hidraw3".
func (h *Handle) Node() string { return h.node }

// Path returns the full device path.
func (h *Handle) Path() string { return h.path }

// Close releases the file descriptor.
func (h *Handle) Close() error {
	return unix.Close(h.fd)
}

// Descriptor reads the raw report descriptor via HIDIOCGRDESC.
func (h *Handle) Descriptor() ([]byte, error) {
	var size uint32
	if _, err := ioctl(h.fd, hidiocGRDescSize, unsafe.Pointer(&size)); err != nil {
		return nil, fmt.Errorf("%s: rdesc size: %w", h.node, err)
	}

	var desc rawDescriptor
	desc.size = size
	if _, err := ioctl(h.fd, hidiocGRDesc, unsafe.Pointer(&desc)); err != nil {
		return nil, fmt.Errorf("%s: rdesc: %w", h.node, err)
	}
	out := make([]byte, desc.size)
	copy(out, desc.value[:desc.size])
	return out, nil
}

// Info reads bus type and vendor/product IDs via HIDIOCGRAWINFO.
func (h *Handle) Info() (bus uint32, vendor, product uint16, err error) {
	var info rawInfo
	if _, err = ioctl(h.fd, hidiocGRawInfo, unsafe.Pointer(&info)); err != nil {
		return 0, 0, 0, fmt.Errorf("%s: info: %w", h.node, err)
	}
	return info.bustype, uint16(info.vendor), uint16(info.product), nil
}

// Name reads the device name string via HIDIOCGRAWNAME.
func (h *Handle) Name() (string, error) {
	buf := make([]byte, 256)
	if _, err := ioctl(h.fd, hidiocGRawName(len(buf)), unsafe.Pointer(&buf[0])); err != nil {
		return "", fmt.Errorf("%s: name: %w", h.node, err)
	}
	return hidutil.CString(buf), nil
}

// Phys reads the physical connection path via HIDIOCGRAWPHYS.
func (h *Handle) Phys() (string, error) {
	buf := make([]byte, 256)
	if _, err := ioctl(h.fd, hidiocGRawPhys(len(buf)), unsafe.Pointer(&buf[0])); err != nil {
		return "", fmt.Errorf("%s: phys: %w", h.node, err)
	}
	return hidutil.CString(buf), nil
}

// Read blocks until the device produces an event, filling buf.
func (h *Handle) Read(buf []byte) (int, error) {
	return unix.Read(h.fd, buf)
}

// Write sends an output report. The first byte must be the report ID
// (zero for unnumbered devices).
func (h *Handle) Write(buf []byte) (int, error) {
	return unix.Write(h.fd, buf)
}

// GetFeature issues HIDIOCGFEATURE. buf[0] carries the report ID going
// in; the feature report is written over buf. Returns the byte count.
func (h *Handle) GetFeature(buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, fmt.Errorf("%s: empty feature buffer", h.node)
	}
	n, err := ioctl(h.fd, hidiocGFeature(len(buf)), unsafe.Pointer(&buf[0]))
	if err != nil {
		return 0, fmt.Errorf("%s: get feature: %w", h.node, err)
	}
	return n, nil
}

// SetFeature issues HIDIOCSFEATURE with buf as report ID + payload.
func (h *Handle) SetFeature(buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, fmt.Errorf("%s: empty feature buffer", h.node)
	}
	n, err := ioctl(h.fd, hidiocSFeature(len(buf)), unsafe.Pointer(&buf[0]))
	if err != nil {
		return 0, fmt.Errorf("%s: set feature: %w", h.node, err)
	}
	return n, nil
}
