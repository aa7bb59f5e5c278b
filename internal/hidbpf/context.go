package hidbpf

// Context is the view a filter program gets over one in-flight event (or,
// on the fixup path, over the raw report descriptor at probe time).
//
// The backing buffer is owned by the device and reused across events; a
// program may read and write any byte up to AllocatedSize, but only the
// first Size bytes are valid report data. AllocatedSize is fixed for the
// context's lifetime. The original union of size and retval becomes two
// separate notions here: the context carries the size, and each program
// returns its verdict code.
type Context struct {
	dev  *Device
	data []byte
	size int
}

// Device returns the device this event belongs to.
func (c *Context) Device() *Device { return c.dev }

// AllocatedSize is the upper bound on usable buffer bytes.
func (c *Context) AllocatedSize() int { return len(c.data) }

// Size is the number of valid bytes currently in the buffer.
// Invariant: 0 <= Size <= AllocatedSize.
func (c *Context) Size() int { return c.size }

// Data exposes the full scratch buffer, AllocatedSize bytes long.
// Bytes beyond Size are scratch space a program may grow into.
func (c *Context) Data() []byte { return c.data }

// Bytes returns the valid portion of the buffer.
func (c *Context) Bytes() []byte { return c.data[:c.size] }

// setSize applies a program's positive resize verdict, bounds-checked
// against the allocated capacity.
func (c *Context) setSize(n int) error {
	if n < 0 || n > len(c.data) {
		return ErrBufferOverflow
	}
	c.size = n
	return nil
}
