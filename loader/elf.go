package loader

import (
	"debug/elf"
	"errors"
	"io"
	"os"
)

// LoadELF parses an ELF32 ARM executable from path.
func LoadELF(path string) (*Program, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &LoadError{Kind: IOFailure, Reason: "failed to open ELF file", Err: err}
	}
	defer func() { _ = f.Close() }()

	return ParseELF(f)
}

// ParseELF parses an ELF32 ARM executable and returns a Program ready for
// loading into the emulator's memory. When a loadable segment covers
// address 0, its first word is the initial stack pointer of the vector
// table. Instruction halfwords follow the file's data encoding.
func ParseELF(r io.ReaderAt) (*Program, error) {
	f, err := elf.NewFile(r)
	if err != nil {
		return nil, malformed(err, "not a valid ELF file")
	}
	defer func() { _ = f.Close() }()

	// Validate ELF class (must be 32-bit)
	if f.Class != elf.ELFCLASS32 {
		return nil, malformed(nil, "not a 32-bit ELF file")
	}

	// Validate machine type (must be ARM)
	if f.Machine != elf.EM_ARM {
		return nil, malformed(nil, "not an ARM ELF file (machine type: %v)", f.Machine)
	}

	prog := &Program{
		EntryPoint: uint32(f.Entry),
		ByteOrder:  f.ByteOrder,
	}

	// Load all PT_LOAD segments
	for _, phdr := range f.Progs {
		if phdr.Type != elf.PT_LOAD {
			continue
		}

		data := make([]byte, phdr.Filesz)
		if phdr.Filesz > 0 {
			n, err := phdr.ReadAt(data, 0)
			if err != nil && !errors.Is(err, io.EOF) {
				return nil, malformed(err, "failed to read segment at 0x%x", phdr.Vaddr)
			}
			if uint64(n) != phdr.Filesz {
				return nil, malformed(nil, "short read for segment at 0x%x: got %d bytes, expected %d",
					phdr.Vaddr, n, phdr.Filesz)
			}
		}

		var flags SegmentFlags
		if phdr.Flags&elf.PF_X != 0 {
			flags |= SegmentFlagExecute
		}
		if phdr.Flags&elf.PF_W != 0 {
			flags |= SegmentFlagWrite
		}
		if phdr.Flags&elf.PF_R != 0 {
			flags |= SegmentFlagRead
		}

		prog.Segments = append(prog.Segments, Segment{
			VirtAddr: uint32(phdr.Vaddr),
			Data:     data,
			MemSize:  uint32(phdr.Memsz),
			Flags:    flags,
		})
	}

	for _, seg := range prog.Segments {
		if seg.VirtAddr == 0 && len(seg.Data) >= 4 {
			prog.InitialSP = f.ByteOrder.Uint32(seg.Data) &^ 3
			break
		}
	}

	return prog, nil
}
