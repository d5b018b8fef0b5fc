// Package loader reads guest images: RV32 ELF executables or raw binaries.
package loader

import (
	"bytes"
	"debug/elf"
	"errors"
	"fmt"
	"io"
	"os"
)

// Loader errors.
var (
	ErrNotRV32   = errors.New("not a 32-bit RISC-V ELF file")
	ErrEmptyFile = errors.New("image is empty")
	ErrSpan      = errors.New("segments do not fit in a flat image")
)

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

// MaxFlatSize bounds the image produced by Flat.
const MaxFlatSize = 1 << 28

var elfMagic = []byte{0x7f, 'E', 'L', 'F'}

// Segment is one contiguous piece of the guest image.
type Segment struct {
	// Addr is the guest physical address of the first byte.
	Addr uint32
	// Data holds the file contents of the segment.
	Data []byte
	// MemSize is the size in memory; bytes past len(Data) are zero.
	MemSize uint32
	Flags   SegmentFlags
}

// Program is a parsed guest image.
type Program struct {
	Entry    uint32
	Segments []Segment
}

// Load reads the image at path. ELF files must be 32-bit RISC-V; anything
// else is taken as a raw binary placed at base with its entry at base.
func Load(path string, base uint32) (*Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}

	if bytes.HasPrefix(data, elfMagic) {
		return LoadELF(bytes.NewReader(data))
	}
	return LoadRaw(data, base)
}

// LoadRaw wraps a raw binary as a single segment at base.
func LoadRaw(data []byte, base uint32) (*Program, error) {
	if len(data) == 0 {
		return nil, ErrEmptyFile
	}

	return &Program{
		Entry: base,
		Segments: []Segment{{
			Addr:    base,
			Data:    data,
			MemSize: uint32(len(data)),
			Flags:   SegmentFlagRead | SegmentFlagWrite | SegmentFlagExecute,
		}},
	}, nil
}

// LoadELF parses an RV32 ELF executable and collects its PT_LOAD segments.
func LoadELF(r io.ReaderAt) (*Program, error) {
	f, err := elf.NewFile(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse ELF file: %w", err)
	}
	defer func() { _ = f.Close() }()

	if f.Class != elf.ELFCLASS32 || f.Machine != elf.EM_RISCV {
		return nil, fmt.Errorf("%w (class %v, machine %v)", ErrNotRV32, f.Class, f.Machine)
	}

	prog := &Program{Entry: uint32(f.Entry)}

	for _, phdr := range f.Progs {
		if phdr.Type != elf.PT_LOAD {
			continue
		}

		data := make([]byte, phdr.Filesz)
		if phdr.Filesz > 0 {
			n, err := phdr.ReadAt(data, 0)
			if err != nil && err != io.EOF {
				return nil, fmt.Errorf("failed to read segment at 0x%x: %w", phdr.Paddr, err)
			}
			if uint64(n) != phdr.Filesz {
				return nil, fmt.Errorf("short read for segment at 0x%x: got %d bytes, expected %d",
					phdr.Paddr, n, phdr.Filesz)
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
			Addr:    uint32(phdr.Paddr),
			Data:    data,
			MemSize: uint32(phdr.Memsz),
			Flags:   flags,
		})
	}

	return prog, nil
}

// Flat lays every segment out in one buffer starting at the lowest
// segment address. Gaps and BSS tails are zero. A program without
// segments yields its entry and an empty buffer.
func (p *Program) Flat() (uint32, []byte, error) {
	if len(p.Segments) == 0 {
		return p.Entry, nil, nil
	}

	lo, hi := uint64(p.Segments[0].Addr), uint64(0)
	for _, seg := range p.Segments {
		size := max(uint64(seg.MemSize), uint64(len(seg.Data)))
		lo = min(lo, uint64(seg.Addr))
		hi = max(hi, uint64(seg.Addr)+size)
	}
	if hi-lo > MaxFlatSize {
		return 0, nil, fmt.Errorf("%w: [0x%x, 0x%x)", ErrSpan, lo, hi)
	}

	buf := make([]byte, hi-lo)
	for _, seg := range p.Segments {
		copy(buf[uint64(seg.Addr)-lo:], seg.Data)
	}
	return uint32(lo), buf, nil
}
