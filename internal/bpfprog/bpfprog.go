// Package bpfprog bridges compiled BPF filter objects into the dispatch
// engine. The engine itself is program-agnostic; this package supplies the
// sandboxed execution backend by wrapping each loaded ebpf.Program in a
// hidbpf.Program whose callbacks drive BPF_PROG_RUN over the event buffer.
package bpfprog

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cilium/ebpf"
	"go.uber.org/zap"

	"github.com/hidflux/hidflux/internal/hidbpf"
)

// Program name conventions, mirroring the section names HID filter
// objects are built with.
const (
	prefixDeviceEvent = "hid_device_event"
	prefixRdescFixup  = "hid_rdesc_fixup"
)

// Kind classifies a program within a loaded object by its name.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindDeviceEvent
	KindRdescFixup
)

// KindOf derives the callback kind from a program name.
func KindOf(name string) Kind {
	switch {
	case strings.HasPrefix(name, prefixRdescFixup):
		return KindRdescFixup
	case strings.HasPrefix(name, prefixDeviceEvent):
		return KindDeviceEvent
	default:
		return KindUnknown
	}
}

// Collection wraps one loaded BPF object file holding HID filter programs.
type Collection struct {
	path   string
	coll   *ebpf.Collection
	logger *zap.Logger
}

// Load reads and loads a compiled BPF object into the kernel.
// Requires CAP_BPF; call rlimit.RemoveMemlock first on kernels < 5.11.
func Load(path string, logger *zap.Logger) (*Collection, error) {
	spec, err := ebpf.LoadCollectionSpec(path)
	if err != nil {
		return nil, fmt.Errorf("loading spec %s: %w", path, err)
	}
	coll, err := ebpf.NewCollection(spec)
	if err != nil {
		return nil, fmt.Errorf("loading collection %s: %w", path, err)
	}

	logger.Info("BPF object loaded",
		zap.String("object", path),
		zap.Int("programs", len(coll.Programs)))
	return &Collection{path: path, coll: coll, logger: logger}, nil
}

// Close unloads all programs and maps of the object.
func (c *Collection) Close() error {
	if c.coll != nil {
		c.coll.Close()
	}
	return nil
}

// Path returns the object file the collection was loaded from.
func (c *Collection) Path() string { return c.path }

// ProgramNames lists the filter programs in the object, sorted.
func (c *Collection) ProgramNames() []string {
	names := make([]string, 0, len(c.coll.Programs))
	for name := range c.coll.Programs {
		if KindOf(name) != KindUnknown {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// NewProgram builds an attachable hidbpf.Program around the named BPF
// program. Each call returns a fresh descriptor, so the same BPF program
// can be attached to several devices with independent ordering flags.
func (c *Collection) NewProgram(name string, deviceID uint32, flags hidbpf.ProgramFlags) (*hidbpf.Program, error) {
	prog, ok := c.coll.Programs[name]
	if !ok {
		return nil, fmt.Errorf("object %s has no program %q", c.path, name)
	}

	p := &hidbpf.Program{
		DeviceID: deviceID,
		Flags:    flags,
		Name:     name,
	}

	switch KindOf(name) {
	case KindDeviceEvent:
		runner := newRunner(prog, name, c.logger)
		p.DeviceEvent = func(ctx *hidbpf.Context, _ hidbpf.ReportType) int32 {
			return runner.run(ctx)
		}
	case KindRdescFixup:
		runner := newRunner(prog, name, c.logger)
		p.RdescFixup = func(ctx *hidbpf.Context) int32 {
			return runner.run(ctx)
		}
	default:
		return nil, fmt.Errorf("program %q is not a HID filter (want %s*/%s* prefix)",
			name, prefixDeviceEvent, prefixRdescFixup)
	}
	return p, nil
}

// runner executes one BPF program over a context buffer. The output
// scratch is preallocated so the event path stays allocation-free.
type runner struct {
	prog   *ebpf.Program
	name   string
	logger *zap.Logger
	out    []byte
}

func newRunner(prog *ebpf.Program, name string, logger *zap.Logger) *runner {
	return &runner{
		prog:   prog,
		name:   name,
		logger: logger,
		out:    make([]byte, hidbpf.RdescBufferSize),
	}
}

// run drives BPF_PROG_RUN with the context buffer as input, copies the
// rewritten bytes back, and returns the program's verdict. A failed run
// aborts the event: better to drop one report than to deliver bytes a
// half-run program may have mangled.
func (r *runner) run(ctx *hidbpf.Context) int32 {
	data := ctx.Data()
	ret, err := r.prog.Run(&ebpf.RunOptions{
		Data:    data,
		DataOut: r.out[:len(data)],
	})
	if err != nil {
		r.logger.Warn("BPF program run failed",
			zap.String("program", r.name), zap.Error(err))
		return -1
	}
	copy(data, r.out[:len(data)])
	return int32(ret)
}
