// Package loader turns program images into byte segments for the emulator.
// It reads ELF32 ARM executables, Intel HEX and plain hex text, and raw
// binaries.
package loader

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sarchlab/m0sim/emu"
)

// ErrorKind classifies a LoadError.
type ErrorKind uint8

// Load error kinds.
const (
	// Malformed means the input could not be parsed.
	Malformed ErrorKind = iota
	// IOFailure means the input could not be read.
	IOFailure
)

func (k ErrorKind) String() string {
	if k == IOFailure {
		return "io failure"
	}
	return "malformed"
}

// LoadError is returned for every load failure.
type LoadError struct {
	Kind   ErrorKind
	Reason string
	Err    error
}

func (e *LoadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

func malformed(err error, format string, args ...any) *LoadError {
	return &LoadError{Kind: Malformed, Reason: fmt.Sprintf(format, args...), Err: err}
}

// IsKind reports whether err is a *LoadError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var le *LoadError
	return errors.As(err, &le) && le.Kind == kind
}

// SegmentFlags represents memory protection flags for a segment.
type SegmentFlags uint32

const (
	// SegmentFlagExecute indicates the segment is executable.
	SegmentFlagExecute SegmentFlags = 1 << iota
	// SegmentFlagWrite indicates the segment is writable.
	SegmentFlagWrite
	// SegmentFlagRead indicates the segment is readable.
	SegmentFlagRead
)

// Segment represents a block of bytes to place in memory.
type Segment struct {
	// VirtAddr is the address where this segment should be loaded.
	VirtAddr uint32
	// Data contains the segment contents from the file.
	Data []byte
	// MemSize is the size in memory (may be larger than len(Data) for BSS).
	MemSize uint32
	// Flags contains the segment protection flags.
	Flags SegmentFlags
}

// Program represents a loaded program ready for execution.
type Program struct {
	// EntryPoint is the address where execution should begin. Bit 0 set
	// marks a Thumb entry.
	EntryPoint uint32
	// Segments contains all loadable segments.
	Segments []Segment
	// InitialSP is the initial stack pointer, 0 if the image has none.
	InitialSP uint32
	// ByteOrder is the order of instruction halfwords the image was built
	// with. It is nil for raw and plain hex images, which carry no order.
	ByteOrder binary.ByteOrder
}

// Image converts the program into an emulator image.
func (p *Program) Image() emu.Image {
	img := emu.Image{
		Entry:     p.EntryPoint,
		InitialSP: p.InitialSP,
		ByteOrder: p.ByteOrder,
	}
	for _, seg := range p.Segments {
		img.Segments = append(img.Segments, emu.Segment{
			Addr:       seg.VirtAddr,
			Data:       seg.Data,
			Executable: seg.Flags&SegmentFlagExecute != 0,
		})
	}
	return img
}

// Size returns the number of file bytes across all segments.
func (p *Program) Size() int {
	n := 0
	for _, seg := range p.Segments {
		n += len(seg.Data)
	}
	return n
}

// Option configures how raw and hex-text images are placed.
type Option func(*options)

type options struct {
	loadAddress uint32
}

// WithLoadAddress places raw and plain hex images at addr. The default is 0.
func WithLoadAddress(addr uint32) Option {
	return func(o *options) {
		o.loadAddress = addr
	}
}

func buildOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

var elfMagic = []byte{0x7f, 'E', 'L', 'F'}

// LoadFile loads a program from path. ELF files are detected by their magic
// number; files ending in .hex or .ihex are read as hex text; anything else
// is a raw binary.
func LoadFile(path string, opts ...Option) (*Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Kind: IOFailure, Reason: "failed to read " + path, Err: err}
	}

	if bytes.HasPrefix(data, elfMagic) {
		return ParseELF(bytes.NewReader(data))
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".hex", ".ihex":
		return LoadHex(string(data), opts...)
	}

	return LoadBytes(data, opts...), nil
}

// LoadBytes wraps a raw binary as a single executable segment that starts
// at the load address.
func LoadBytes(data []byte, opts ...Option) *Program {
	o := buildOptions(opts)

	buf := make([]byte, len(data))
	copy(buf, data)

	return &Program{
		EntryPoint: o.loadAddress,
		Segments: []Segment{{
			VirtAddr: o.loadAddress,
			Data:     buf,
			MemSize:  uint32(len(buf)),
			Flags:    SegmentFlagRead | SegmentFlagExecute,
		}},
	}
}
