// Package device provides the memory bus of the emulated machine: guest
// RAM plus a registry of memory-mapped device windows.
package device

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Default physical memory layout.
const (
	DefaultMemBase uint32 = 0x80000000
	DefaultMemSize uint32 = 0x08000000
)

// Bus errors. Registration errors are configuration faults; callers are
// expected to treat them as fatal.
var (
	ErrOverlap    = errors.New("address window overlaps an existing mapping")
	ErrEmpty      = errors.New("address window is empty")
	ErrSealed     = errors.New("device registry is sealed")
	ErrOutOfBound = errors.New("address out of bound")
)

// Handler reacts to accesses inside a device window. For reads it runs
// before the backing is read, so it can refresh the register contents.
// For writes it runs after the value has been written to the backing.
type Handler interface {
	Access(offset uint32, width int, isWrite bool)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(offset uint32, width int, isWrite bool)

// Access calls f.
func (f HandlerFunc) Access(offset uint32, width int, isWrite bool) {
	f(offset, width, isWrite)
}

// Mapping is one registered address window.
type Mapping struct {
	Name    string
	Base    uint32
	Size    uint32
	Backing []byte

	handler Handler
}

// Contains reports whether addr falls inside the window.
func (m *Mapping) Contains(addr uint32) bool {
	return addr >= m.Base && uint64(addr) < uint64(m.Base)+uint64(m.Size)
}

func (m *Mapping) overlaps(base, size uint32) bool {
	aLo, aHi := uint64(m.Base), uint64(m.Base)+uint64(m.Size)
	bLo, bHi := uint64(base), uint64(base)+uint64(size)
	return aLo < bHi && bLo < aHi
}

// Word reads the little-endian word at offset. Bytes beyond the backing
// read as zero.
func (m *Mapping) Word(offset uint32) uint32 {
	return readBytes(m.Backing, offset, 4)
}

// SetWord writes the little-endian word at offset. Bytes beyond the
// backing are dropped.
func (m *Mapping) SetWord(offset uint32, value uint32) {
	writeBytes(m.Backing, offset, 4, value)
}

// AccessHook observes accesses that hit a device window.
type AccessHook func(m *Mapping, addr uint32, width int, isWrite bool)

// WriteHook observes stores into plain RAM.
type WriteHook func(addr uint32, width int)

// Bus routes guest loads and stores to RAM or to device windows.
type Bus struct {
	ram      *Mapping
	mappings []*Mapping
	sealed   bool

	deviceHook AccessHook
	writeHook  WriteHook
}

// NewBus creates a bus with memSize bytes of RAM at memBase.
func NewBus(memBase, memSize uint32) *Bus {
	return &Bus{
		ram: &Mapping{
			Name:    "pmem",
			Base:    memBase,
			Size:    memSize,
			Backing: make([]byte, memSize),
		},
	}
}

// Register adds a device window. The window must not intersect RAM or any
// window registered before. A nil handler makes the window plain storage
// that is still reported as a device access.
func (b *Bus) Register(name string, base, size uint32, handler Handler) (*Mapping, error) {
	if b.sealed {
		return nil, fmt.Errorf("register %s: %w", name, ErrSealed)
	}
	if size == 0 {
		return nil, fmt.Errorf("register %s: %w", name, ErrEmpty)
	}

	if b.ram.overlaps(base, size) {
		return nil, fmt.Errorf("register %s [0x%08x, 0x%08x): %w with %s",
			name, base, uint64(base)+uint64(size), ErrOverlap, b.ram.Name)
	}
	for _, m := range b.mappings {
		if m.overlaps(base, size) {
			return nil, fmt.Errorf("register %s [0x%08x, 0x%08x): %w with %s",
				name, base, uint64(base)+uint64(size), ErrOverlap, m.Name)
		}
	}

	m := &Mapping{
		Name:    name,
		Base:    base,
		Size:    size,
		Backing: make([]byte, size),
		handler: handler,
	}
	b.mappings = append(b.mappings, m)

	return m, nil
}

// Seal forbids further registration. It is called once the machine starts.
func (b *Bus) Seal() {
	b.sealed = true
}

// SetDeviceHook installs the observer for device window accesses.
func (b *Bus) SetDeviceHook(hook AccessHook) {
	b.deviceHook = hook
}

// SetWriteHook installs the observer for RAM stores.
func (b *Bus) SetWriteHook(hook WriteHook) {
	b.writeHook = hook
}

// Mappings returns the registered device windows in registration order.
func (b *Bus) Mappings() []*Mapping {
	return b.mappings
}

// RAM returns the RAM window.
func (b *Bus) RAM() *Mapping {
	return b.ram
}

// InRAM reports whether addr is backed by RAM.
func (b *Bus) InRAM(addr uint32) bool {
	return b.ram.Contains(addr)
}

// Lookup returns the device window containing addr, or nil.
func (b *Bus) Lookup(addr uint32) *Mapping {
	for _, m := range b.mappings {
		if m.Contains(addr) {
			return m
		}
	}
	return nil
}

// Read loads width bytes (1, 2 or 4) at addr.
func (b *Bus) Read(addr uint32, width int) (uint32, error) {
	checkWidth(width)

	if b.ram.Contains(addr) {
		off := addr - b.ram.Base
		if uint64(off)+uint64(width) > uint64(b.ram.Size) {
			return 0, fmt.Errorf("read 0x%08x/%d: %w", addr, width, ErrOutOfBound)
		}
		return readBytes(b.ram.Backing, off, width), nil
	}

	m := b.Lookup(addr)
	if m == nil {
		return 0, fmt.Errorf("read 0x%08x/%d: %w", addr, width, ErrOutOfBound)
	}

	off := addr - m.Base
	if b.deviceHook != nil {
		b.deviceHook(m, addr, width, false)
	}
	if m.handler != nil {
		m.handler.Access(off, width, false)
	}

	return readBytes(m.Backing, off, width), nil
}

// Write stores the low width bytes (1, 2 or 4) of value at addr.
func (b *Bus) Write(addr uint32, width int, value uint32) error {
	checkWidth(width)

	if b.ram.Contains(addr) {
		off := addr - b.ram.Base
		if uint64(off)+uint64(width) > uint64(b.ram.Size) {
			return fmt.Errorf("write 0x%08x/%d: %w", addr, width, ErrOutOfBound)
		}
		writeBytes(b.ram.Backing, off, width, value)
		if b.writeHook != nil {
			b.writeHook(addr, width)
		}
		return nil
	}

	m := b.Lookup(addr)
	if m == nil {
		return fmt.Errorf("write 0x%08x/%d: %w", addr, width, ErrOutOfBound)
	}

	off := addr - m.Base
	writeBytes(m.Backing, off, width, value)
	if b.deviceHook != nil {
		b.deviceHook(m, addr, width, true)
	}
	if m.handler != nil {
		m.handler.Access(off, width, true)
	}

	return nil
}

// LoadImage copies data into RAM at addr without notifying any hook.
func (b *Bus) LoadImage(addr uint32, data []byte) error {
	if !b.ram.Contains(addr) ||
		uint64(addr-b.ram.Base)+uint64(len(data)) > uint64(b.ram.Size) {
		return fmt.Errorf("load %d bytes at 0x%08x: %w", len(data), addr, ErrOutOfBound)
	}
	copy(b.ram.Backing[addr-b.ram.Base:], data)
	return nil
}

func checkWidth(width int) {
	switch width {
	case 1, 2, 4:
	default:
		panic(fmt.Sprintf("device: invalid access width %d", width))
	}
}

func readBytes(buf []byte, off uint32, width int) uint32 {
	if uint64(off)+uint64(width) <= uint64(len(buf)) {
		switch width {
		case 1:
			return uint32(buf[off])
		case 2:
			return uint32(binary.LittleEndian.Uint16(buf[off:]))
		default:
			return binary.LittleEndian.Uint32(buf[off:])
		}
	}

	var v uint32
	for i := 0; i < width; i++ {
		p := uint64(off) + uint64(i)
		if p < uint64(len(buf)) {
			v |= uint32(buf[p]) << (8 * i)
		}
	}
	return v
}

func writeBytes(buf []byte, off uint32, width int, value uint32) {
	for i := 0; i < width; i++ {
		p := uint64(off) + uint64(i)
		if p < uint64(len(buf)) {
			buf[p] = byte(value >> (8 * i))
		}
	}
}
