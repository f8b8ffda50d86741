// Package cache provides a decoded-instruction cache using Akita cache
// components.
//
// The cache maps an instruction address to the instruction decoded there.
// Each entry keeps the bytes it was decoded from; a lookup hits only when
// the caller's freshly fetched bytes still match, so stores to code and
// rolled-back stores never return stale instructions.
package cache

import (
	"bytes"

	akitacache "github.com/sarchlab/akita/v4/mem/cache"

	"github.com/sarchlab/m0sim/insts"
)

// Config holds cache configuration parameters.
type Config struct {
	// Size in bytes of instruction memory covered.
	Size int
	// Associativity (number of ways)
	Associativity int
	// BlockSize in bytes (cache line size)
	BlockSize int
}

// DefaultConfig returns the configuration used by the emulator: 16KB of
// code, 4-way, 64B lines.
func DefaultConfig() Config {
	return Config{
		Size:          16 * 1024,
		Associativity: 4,
		BlockSize:     64,
	}
}

// Validate checks that the geometry describes at least one set.
func (c Config) Validate() bool {
	return c.Associativity > 0 && c.BlockSize >= 2 && c.BlockSize%2 == 0 &&
		c.Size >= c.Associativity*c.BlockSize
}

// Statistics holds cache performance statistics.
type Statistics struct {
	Lookups   uint64
	Hits      uint64
	Misses    uint64
	Stale     uint64
	Evictions uint64
}

// slot holds one decoded instruction of a line. Instructions start on
// halfword boundaries, so a line has BlockSize/2 slots.
type slot struct {
	valid bool
	raw   []byte
	inst  insts.Instruction
	n     int
}

// Cache is a set-associative cache of decoded instructions.
type Cache struct {
	config Config

	// Akita cache directory for tag/state management
	directory *akitacache.DirectoryImpl

	// Slots - indexed by (setID * associativity + wayID)
	lines [][]slot

	stats Statistics
}

// New creates a new cache with the given configuration.
func New(config Config) *Cache {
	numSets := config.Size / (config.Associativity * config.BlockSize)
	totalBlocks := numSets * config.Associativity

	lines := make([][]slot, totalBlocks)
	for i := range lines {
		lines[i] = make([]slot, config.BlockSize/2)
	}

	return &Cache{
		config: config,
		directory: akitacache.NewDirectory(
			numSets,
			config.Associativity,
			config.BlockSize,
			akitacache.NewLRUVictimFinder(),
		),
		lines: lines,
	}
}

// Config returns the cache configuration.
func (c *Cache) Config() Config {
	return c.config
}

// Stats returns cache statistics.
func (c *Cache) Stats() Statistics {
	return c.stats
}

// ResetStats clears cache statistics.
func (c *Cache) ResetStats() {
	c.stats = Statistics{}
}

// blockIndex computes the index into lines for a block.
func (c *Cache) blockIndex(block *akitacache.Block) int {
	return block.SetID*c.config.Associativity + block.WayID
}

func (c *Cache) split(pc uint32) (blockAddr uint64, offset int) {
	blockAddr = (uint64(pc) / uint64(c.config.BlockSize)) * uint64(c.config.BlockSize)
	offset = int(uint64(pc)-blockAddr) / 2
	return blockAddr, offset
}

// Lookup returns the instruction cached for pc if it was decoded from a
// prefix of fetched. fetched is what memory holds at pc now.
func (c *Cache) Lookup(pc uint32, fetched []byte) (insts.Instruction, int, bool) {
	c.stats.Lookups++

	blockAddr, offset := c.split(pc)
	block := c.directory.Lookup(0, blockAddr)
	if block == nil || !block.IsValid {
		c.stats.Misses++
		return insts.Instruction{}, 0, false
	}
	c.directory.Visit(block) // Update LRU

	s := &c.lines[c.blockIndex(block)][offset]
	if !s.valid {
		c.stats.Misses++
		return insts.Instruction{}, 0, false
	}
	if len(fetched) < s.n || !bytes.Equal(s.raw, fetched[:s.n]) {
		c.stats.Stale++
		s.valid = false
		return insts.Instruction{}, 0, false
	}

	c.stats.Hits++
	return s.inst, s.n, true
}

// Insert records the instruction decoded from raw at pc.
func (c *Cache) Insert(pc uint32, raw []byte, inst insts.Instruction) {
	blockAddr, offset := c.split(pc)

	block := c.directory.Lookup(0, blockAddr)
	if block == nil || !block.IsValid {
		block = c.directory.FindVictim(blockAddr)
		if block == nil {
			return
		}
		if block.IsValid {
			c.stats.Evictions++
		}
		line := c.lines[c.blockIndex(block)]
		for i := range line {
			line[i] = slot{}
		}
		block.Tag = blockAddr
		block.IsValid = true
		block.IsDirty = false
	}
	c.directory.Visit(block)

	cp := make([]byte, len(raw))
	copy(cp, raw)
	c.lines[c.blockIndex(block)][offset] = slot{
		valid: true,
		raw:   cp,
		inst:  inst,
		n:     len(raw),
	}
}

// Invalidate drops the line holding addr.
func (c *Cache) Invalidate(addr uint32) {
	blockAddr, _ := c.split(addr)
	block := c.directory.Lookup(0, blockAddr)
	if block != nil && block.IsValid {
		block.IsValid = false
		block.IsDirty = false
	}
}

// Reset invalidates all lines and clears statistics.
func (c *Cache) Reset() {
	c.directory.Reset()
	c.stats = Statistics{}
}
