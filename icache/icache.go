// Package icache provides a decoded-instruction cache using Akita cache
// components.
package icache

import (
	akitacache "github.com/sarchlab/akita/v4/mem/cache"

	"github.com/sarchlab/rvemu/insts"
)

// Config holds cache geometry.
type Config struct {
	// Size in bytes of guest code covered
	Size int
	// Associativity (number of ways)
	Associativity int
	// BlockSize in bytes (cache line size)
	BlockSize int
}

// DefaultConfig returns a 16KB, 4-way cache with 64B lines.
func DefaultConfig() Config {
	return Config{
		Size:          16 * 1024,
		Associativity: 4,
		BlockSize:     64,
	}
}

// Statistics holds cache statistics.
type Statistics struct {
	Lookups       uint64
	Hits          uint64
	Misses        uint64
	Evictions     uint64
	Invalidations uint64
}

// Cache maps instruction addresses to decoded instructions. Each line
// holds the decoded form of every word in one block of guest code; a
// store into a block drops the whole line.
type Cache struct {
	config Config

	// Akita cache directory for tag/state management
	directory *akitacache.DirectoryImpl

	// Decoded slots - indexed by (setID * associativity + wayID)
	lines [][]*insts.Instruction

	stats Statistics
}

// New creates a cache with the given configuration.
func New(config Config) *Cache {
	numSets := config.Size / (config.Associativity * config.BlockSize)
	totalBlocks := numSets * config.Associativity

	lines := make([][]*insts.Instruction, totalBlocks)
	for i := range lines {
		lines[i] = make([]*insts.Instruction, config.BlockSize/4)
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

func (c *Cache) blockAddr(addr uint32) uint64 {
	bs := uint64(c.config.BlockSize)
	return uint64(addr) / bs * bs
}

func (c *Cache) slot(block *akitacache.Block, addr uint32) **insts.Instruction {
	line := c.lines[block.SetID*c.config.Associativity+block.WayID]
	return &line[(uint64(addr)%uint64(c.config.BlockSize))/4]
}

// Lookup returns the decoded instruction at pc if it is cached.
func (c *Cache) Lookup(pc uint32) (*insts.Instruction, bool) {
	c.stats.Lookups++

	block := c.directory.Lookup(0, c.blockAddr(pc))
	if block == nil || !block.IsValid {
		c.stats.Misses++
		return nil, false
	}

	inst := *c.slot(block, pc)
	if inst == nil {
		c.stats.Misses++
		return nil, false
	}

	c.stats.Hits++
	c.directory.Visit(block)
	return inst, true
}

// Insert caches the decoded instruction at pc, allocating a line if
// needed.
func (c *Cache) Insert(pc uint32, inst *insts.Instruction) {
	blockAddr := c.blockAddr(pc)

	block := c.directory.Lookup(0, blockAddr)
	if block == nil || !block.IsValid {
		block = c.directory.FindVictim(blockAddr)
		if block == nil {
			return
		}
		if block.IsValid {
			c.stats.Evictions++
		}
		c.clearLine(block)
		block.Tag = blockAddr
		block.IsValid = true
	}

	*c.slot(block, pc) = inst
	c.directory.Visit(block)
}

// Invalidate drops every line overlapping [addr, addr+width).
func (c *Cache) Invalidate(addr uint32, width int) {
	first := c.blockAddr(addr)
	last := c.blockAddr(addr + uint32(width) - 1)

	for b := first; b <= last; b += uint64(c.config.BlockSize) {
		block := c.directory.Lookup(0, b)
		if block != nil && block.IsValid {
			block.IsValid = false
			c.clearLine(block)
			c.stats.Invalidations++
		}
	}
}

// Reset invalidates all lines.
func (c *Cache) Reset() {
	c.directory.Reset()
	for _, line := range c.lines {
		for i := range line {
			line[i] = nil
		}
	}
	c.stats = Statistics{}
}

func (c *Cache) clearLine(block *akitacache.Block) {
	line := c.lines[block.SetID*c.config.Associativity+block.WayID]
	for i := range line {
		line[i] = nil
	}
}
