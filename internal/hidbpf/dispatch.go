package hidbpf

// DispatchEvent runs one raw event through the device's program list and
// returns the possibly transformed bytes.
//
// The returned slice aliases the device scratch buffer and is only valid
// until the next dispatch on this device; event delivery for one device is
// single-threaded, so the caller must hand the bytes off (or copy them)
// before injecting the next event. When no program is attached, or the
// device has been destroyed, the input slice is returned unchanged.
//
// The pass holds the device lock, so attach, detach, and destroy observe
// completed passes only and the program order is stable for the whole
// pass. Nothing on this path blocks or allocates: the scratch buffer was
// sized at attach time.
//
// Verdicts: 0 keeps the size, >0 resizes (bounds-checked), <0 aborts the
// pass with ProgramAbortedError and the event must be discarded. An event
// larger than the scratch buffer fails with ErrBufferOverflow rather than
// being silently truncated.
func (d *Device) DispatchEvent(rtype ReportType, data []byte) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.destroyed || len(d.programs) == 0 {
		return data, nil
	}
	if len(data) > len(d.data) {
		return nil, ErrBufferOverflow
	}

	ctx := Context{dev: d, data: d.data, size: len(data)}
	copy(ctx.data, data)

	for _, p := range d.programs {
		if p.DeviceEvent == nil {
			continue
		}
		ret := p.DeviceEvent(&ctx, rtype)
		switch {
		case ret < 0:
			return nil, &ProgramAbortedError{Program: p.Name, Code: ret}
		case ret > 0:
			if err := ctx.setSize(int(ret)); err != nil {
				return nil, err
			}
		}
	}
	return ctx.Bytes(), nil
}

// FixupRdesc runs the raw report descriptor through the device's singleton
// fixup program, once, at probe time.
//
// The returned slice is always an independent copy, whether or not a
// program is attached, so the caller owns it outright. A descriptor larger
// than RdescBufferSize fails with ErrBufferOverflow before any program
// runs; a negative verdict fails the probe with ProgramAbortedError.
func (d *Device) FixupRdesc(rdesc []byte) ([]byte, error) {
	if len(rdesc) > RdescBufferSize {
		return nil, ErrBufferOverflow
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.destroyed || d.rdescProg == nil {
		out := make([]byte, len(rdesc))
		copy(out, rdesc)
		return out, nil
	}

	ctx := Context{dev: d, data: make([]byte, RdescBufferSize), size: len(rdesc)}
	copy(ctx.data, rdesc)

	ret := d.rdescProg.RdescFixup(&ctx)
	switch {
	case ret < 0:
		return nil, &ProgramAbortedError{Program: d.rdescProg.Name, Code: ret}
	case ret > 0:
		if err := ctx.setSize(int(ret)); err != nil {
			return nil, err
		}
	}
	return ctx.data[:ctx.size:ctx.size], nil
}
