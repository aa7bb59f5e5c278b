// Package hidutil provides shared helpers for working with raw HID data.
// Eliminates duplicated parsing code across the transport and API layers.
package hidutil

import "bytes"

// CString extracts a null-terminated string from a raw byte buffer, as
// returned by hidraw name/phys ioctls.
func CString(b []byte) string {
	n := bytes.IndexByte(b, 0)
	if n < 0 {
		n = len(b)
	}
	return string(b[:n])
}

// HID short-item prefix layout: bSize in bits 0-1, bType in bits 2-3,
// bTag in bits 4-7. 0xFE marks a long item.
const (
	longItemPrefix = 0xfe

	itemTypeGlobal = 1
	tagReportID    = 8
)

// itemDataSize maps the 2-bit bSize field to the data length in bytes.
var itemDataSize = [4]int{0, 1, 2, 4}

// ReportIDs walks a report descriptor and returns the declared report IDs
// in order of first appearance. A descriptor with no Report ID items
// yields nil (the device uses unnumbered reports).
func ReportIDs(rdesc []byte) []uint8 {
	var ids []uint8
	seen := make(map[uint8]bool)

	i := 0
	for i < len(rdesc) {
		prefix := rdesc[i]
		if prefix == longItemPrefix {
			// Long item: size byte, tag byte, then payload.
			if i+2 >= len(rdesc) {
				break
			}
			i += 3 + int(rdesc[i+1])
			continue
		}

		size := itemDataSize[prefix&0x03]
		typ := (prefix >> 2) & 0x03
		tag := (prefix >> 4) & 0x0f
		if i+size >= len(rdesc) && size > 0 {
			break
		}
		if typ == itemTypeGlobal && tag == tagReportID && size >= 1 {
			id := rdesc[i+1]
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
		i += 1 + size
	}
	return ids
}

// HasReportIDs reports whether the descriptor declares numbered reports.
func HasReportIDs(rdesc []byte) bool {
	return len(ReportIDs(rdesc)) > 0
}
