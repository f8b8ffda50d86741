// Package emu provides functional ARMv6-M emulation with reversible execution.
package emu

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/sarchlab/akita/v4/mem/mem"
)

// PageSize is the granularity at which memory is allocated and compared.
const PageSize = 4096

// DefaultCapacity covers the whole 32-bit address space.
const DefaultCapacity uint64 = 1 << 32

// Memory is a flat, little-endian, byte-addressable 32-bit address space.
// Pages are allocated on first write and read as zero before that. Addresses
// at or above the capacity fault.
type Memory struct {
	storage  *mem.Storage
	capacity uint64
	pages    map[uint32]struct{}
}

// MemoryOption configures a Memory.
type MemoryOption func(*Memory)

// WithCapacity limits the addressable range to [0, capacity).
func WithCapacity(capacity uint64) MemoryOption {
	return func(m *Memory) {
		if capacity == 0 || capacity > DefaultCapacity {
			capacity = DefaultCapacity
		}
		m.capacity = capacity
	}
}

// NewMemory creates an empty memory.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		capacity: DefaultCapacity,
		pages:    make(map[uint32]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.storage = mem.NewStorage(m.capacity)
	return m
}

// Capacity returns the size of the addressable range in bytes.
func (m *Memory) Capacity() uint64 {
	return m.capacity
}

// check validates an access of size bytes at addr. Only halfword and word
// accesses need natural alignment.
func (m *Memory) check(addr uint32, size int) error {
	if uint64(addr)+uint64(size) > m.capacity {
		return &AccessError{Kind: AccessOutOfBounds, Address: addr, Size: size}
	}
	if (size == 2 || size == 4) && addr%uint32(size) != 0 {
		return &AccessError{Kind: AccessUnaligned, Address: addr, Size: size}
	}
	return nil
}

func (m *Memory) read(addr uint32, size int) ([]byte, error) {
	if err := m.check(addr, size); err != nil {
		return nil, err
	}
	if !m.touched(addr, size) {
		return make([]byte, size), nil
	}
	data, err := m.storage.Read(uint64(addr), uint64(size))
	if err != nil {
		return nil, fmt.Errorf("failed to read 0x%08X: %w", addr, err)
	}
	return data, nil
}

func (m *Memory) write(addr uint32, data []byte) error {
	if err := m.check(addr, len(data)); err != nil {
		return err
	}
	if err := m.storage.Write(uint64(addr), data); err != nil {
		return fmt.Errorf("failed to write 0x%08X: %w", addr, err)
	}
	m.markPages(addr, len(data))
	return nil
}

// touched reports whether any page overlapping the range is allocated.
// Ranges passed here never cross a page boundary.
func (m *Memory) touched(addr uint32, size int) bool {
	_, first := m.pages[addr/PageSize]
	_, last := m.pages[(addr+uint32(size)-1)/PageSize]
	return first || last
}

func (m *Memory) markPages(addr uint32, size int) {
	if size == 0 {
		return
	}
	first := addr / PageSize
	last := uint32((uint64(addr) + uint64(size) - 1) / PageSize)
	for p := first; ; p++ {
		m.pages[p] = struct{}{}
		if p == last {
			break
		}
	}
}

// Read8 reads a byte.
func (m *Memory) Read8(addr uint32) (uint8, error) {
	b, err := m.read(addr, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// Read16 reads a little-endian halfword. addr must be 2-byte aligned.
func (m *Memory) Read16(addr uint32) (uint16, error) {
	b, err := m.read(addr, 2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

// Read32 reads a little-endian word. addr must be 4-byte aligned.
func (m *Memory) Read32(addr uint32) (uint32, error) {
	b, err := m.read(addr, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// Write8 writes a byte.
func (m *Memory) Write8(addr uint32, value uint8) error {
	return m.write(addr, []byte{value})
}

// Write16 writes a little-endian halfword. addr must be 2-byte aligned.
func (m *Memory) Write16(addr uint32, value uint16) error {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, value)
	return m.write(addr, b)
}

// Write32 writes a little-endian word. addr must be 4-byte aligned.
func (m *Memory) Write32(addr uint32, value uint32) error {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, value)
	return m.write(addr, b)
}

// ReadBytes reads n bytes starting at addr without alignment checks.
func (m *Memory) ReadBytes(addr uint32, n int) ([]byte, error) {
	out := make([]byte, 0, n)
	for n > 0 {
		chunk := PageSize - int(addr%PageSize)
		if chunk > n {
			chunk = n
		}
		if uint64(addr)+uint64(chunk) > m.capacity {
			return nil, &AccessError{Kind: AccessOutOfBounds, Address: addr, Size: chunk}
		}
		b, err := m.readChunk(addr, chunk)
		if err != nil {
			return nil, err
		}
		out = append(out, b...)
		n -= chunk
		addr += uint32(chunk)
	}
	return out, nil
}

func (m *Memory) readChunk(addr uint32, n int) ([]byte, error) {
	if _, ok := m.pages[addr/PageSize]; !ok {
		return make([]byte, n), nil
	}
	data, err := m.storage.Read(uint64(addr), uint64(n))
	if err != nil {
		return nil, fmt.Errorf("failed to read 0x%08X: %w", addr, err)
	}
	return data, nil
}

// WriteBytes writes data starting at addr without alignment checks.
func (m *Memory) WriteBytes(addr uint32, data []byte) error {
	for len(data) > 0 {
		chunk := PageSize - int(addr%PageSize)
		if chunk > len(data) {
			chunk = len(data)
		}
		if uint64(addr)+uint64(chunk) > m.capacity {
			return &AccessError{Kind: AccessOutOfBounds, Address: addr, Size: chunk}
		}
		if err := m.storage.Write(uint64(addr), data[:chunk]); err != nil {
			return fmt.Errorf("failed to write 0x%08X: %w", addr, err)
		}
		m.markPages(addr, chunk)
		data = data[chunk:]
		addr += uint32(chunk)
	}
	return nil
}

// LoadProgram copies a program image into memory at addr.
func (m *Memory) LoadProgram(addr uint32, program []byte) error {
	return m.WriteBytes(addr, program)
}

// Pages returns the base addresses of allocated pages in ascending order.
func (m *Memory) Pages() []uint32 {
	out := make([]uint32, 0, len(m.pages))
	for p := range m.pages {
		out = append(out, p*PageSize)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// page returns the bytes of the page at base, clipped to the capacity.
func (m *Memory) page(base uint32) []byte {
	n := PageSize
	if uint64(base)+PageSize > m.capacity {
		n = int(m.capacity - uint64(base))
	}
	b, err := m.readChunk(base, n)
	if err != nil {
		return make([]byte, n)
	}
	return b
}

// Clone returns an independent copy of the memory.
func (m *Memory) Clone() *Memory {
	c := NewMemory(WithCapacity(m.capacity))
	for p := range m.pages {
		base := p * PageSize
		if err := c.storage.Write(uint64(base), m.page(base)); err == nil {
			c.pages[p] = struct{}{}
		}
	}
	return c
}

// Diff returns every address, ascending, whose byte differs between the two
// memories.
func (m *Memory) Diff(other *Memory) []uint32 {
	var out []uint32
	for _, base := range unionPages(m, other) {
		a, b := m.page(base), other.page(base)
		if bytes.Equal(a, b) {
			continue
		}
		for i := range a {
			if i >= len(b) || a[i] != b[i] {
				out = append(out, base+uint32(i))
			}
		}
	}
	return out
}

// Equal reports whether both memories hold the same bytes.
func (m *Memory) Equal(other *Memory) bool {
	if m.capacity != other.capacity {
		return false
	}
	for _, base := range unionPages(m, other) {
		if !bytes.Equal(m.page(base), other.page(base)) {
			return false
		}
	}
	return true
}

func unionPages(a, b *Memory) []uint32 {
	set := make(map[uint32]struct{}, len(a.pages)+len(b.pages))
	for p := range a.pages {
		set[p] = struct{}{}
	}
	for p := range b.pages {
		set[p] = struct{}{}
	}
	out := make([]uint32, 0, len(set))
	for p := range set {
		out = append(out, p*PageSize)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
