// Package hidraw implements the hidflux transport over /dev/hidraw
// character devices: device discovery, raw event reads, and the host
// operations table the dispatch engine delivers through.
package hidraw

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// _IOC encoding, as used by the hidraw ioctl interface.
const (
	iocWrite = 1
	iocRead  = 2

	iocDirShift  = 30
	iocSizeShift = 16
	iocTypeShift = 8
)

// ioc builds an ioctl request number.
func ioc(dir, typ, nr, size uintptr) uintptr {
	return dir<<iocDirShift | size<<iocSizeShift | typ<<iocTypeShift | nr
}

// rawDescriptor mirrors struct hidraw_report_descriptor.
type rawDescriptor struct {
	size  uint32
	value [4096]byte
}

// rawInfo mirrors struct hidraw_devinfo.
type rawInfo struct {
	bustype uint32
	vendor  int16
	product int16
}

const hidiocMagic = 'H'

var (
	hidiocGRDescSize = ioc(iocRead, hidiocMagic, 0x01, 4)
	hidiocGRDesc     = ioc(iocRead, hidiocMagic, 0x02, unsafe.Sizeof(rawDescriptor{}))
	hidiocGRawInfo   = ioc(iocRead, hidiocMagic, 0x03, unsafe.Sizeof(rawInfo{}))
)

// Name/phys/feature requests encode the buffer length in the request.
func hidiocGRawName(n int) uintptr { return ioc(iocRead, hidiocMagic, 0x04, uintptr(n)) }
func hidiocGRawPhys(n int) uintptr { return ioc(iocRead, hidiocMagic, 0x05, uintptr(n)) }
func hidiocSFeature(n int) uintptr {
	return ioc(iocRead|iocWrite, hidiocMagic, 0x06, uintptr(n))
}
func hidiocGFeature(n int) uintptr {
	return ioc(iocRead|iocWrite, hidiocMagic, 0x07, uintptr(n))
}

// ioctl issues one request against fd with the argument pointer.
// Returns the syscall result (ioctls like GFEATURE return a byte count).
func ioctl(fd int, req uintptr, arg unsafe.Pointer) (int, error) {
	r, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(arg))
	if errno != 0 {
		return 0, errno
	}
	return int(r), nil
}
