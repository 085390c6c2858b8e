// Package codecache manages a region of host memory holding generated code.
//
// The region is split into fixed-size blocks. A block is written while
// writable and sealed to read+execute before it runs, so no page is writable
// and executable at once unless the host cannot change protections.
package codecache

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
	"unsafe"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/multierr"

	"github.com/srediag/hostsys/api"
	"github.com/srediag/hostsys/internal/logging"
	"github.com/srediag/hostsys/pkg/hostsys"
)

var logger = logging.New("codecache", nil)

var (
	ErrFull      = errors.New("no free code block of the requested size")
	ErrTooLarge  = errors.New("code does not fit in block")
	ErrNotSealed = errors.New("block is not sealed for execution")
	ErrClosed    = errors.New("code cache closed")
)

// Cache is a partitioned region of executable memory.
type Cache struct {
	mu     sync.Mutex
	mapper api.MemoryMapper
	size   uintptr
	write  unsafe.Pointer
	exec   unsafe.Pointer
	rwx    bool
	mem    *hostsys.SharedMemory
	area   *hostsys.SharedMemoryMappingArea
	pools  map[uintptr][]*Block
	sizes  []uintptr
	closed bool
}

// Block is one fixed-size slot of the cache.
type Block struct {
	c      *Cache
	offset uintptr
	size   uintptr
	used   bool
	length int
	sealed bool
}

// New reserves and partitions a cache described by config. A nil config
// uses DefaultConfig. Reservations failing with hostsys.ErrExhausted are
// retried; other errors are returned at once.
func New(config *Config) (*Cache, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Mapper == nil {
		config.Mapper = hostsys.HostMemoryMap{}
	}
	if err := VerifyConfig(config); err != nil {
		return nil, err
	}
	c := &Cache{
		mapper: config.Mapper,
		size:   config.Size,
		pools:  make(map[uintptr][]*Block),
	}
	var err error
	if config.DualMap {
		err = reserve(config, c.mapDual)
	} else {
		err = reserve(config, c.mapSingle)
	}
	if err != nil {
		return nil, err
	}
	c.partition(config.BlockSizes)
	logger.Debugf("code cache of %#x bytes ready, dual=%v rwx=%v", c.size, c.area != nil, c.rwx)
	return c, nil
}

func reserve(config *Config, mapFn func() error) error {
	op := func() error {
		err := mapFn()
		if err == nil {
			return nil
		}
		if !errors.Is(err, hostsys.ErrExhausted) {
			return backoff.Permanent(err)
		}
		if config.OnExhausted != nil {
			config.OnExhausted()
		}
		return err
	}
	policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(config.RetryInterval), config.MaxRetries)
	return backoff.RetryNotify(op, policy, func(err error, d time.Duration) {
		logger.Warnf("code cache reservation failed, retrying in %s: %v", d, err)
	})
}

func (c *Cache) mapSingle() error {
	mode := hostsys.ModeReadWrite
	if !c.mapper.CanReprotect() {
		mode = hostsys.ModeReadWriteExecute
		c.rwx = true
	}
	addr, err := c.mapper.ReserveAndMap(nil, c.size, mode)
	if err != nil {
		return err
	}
	c.write, c.exec = addr, addr
	return nil
}

func (c *Cache) mapDual() (err error) {
	mem, err := hostsys.CreateSharedMemory(hostsys.FileMappingName("codecache"), c.size)
	if err != nil {
		return err
	}
	area, err := hostsys.CreateMappingArea(2 * c.size)
	if err != nil {
		return multierr.Append(err, mem.Destroy())
	}
	defer func() {
		if err != nil {
			err = multierr.Combine(err, area.Close(), mem.Destroy())
		}
	}()
	w, err := area.Map(mem, 0, 0, c.size, hostsys.ModeReadWrite)
	if err != nil {
		return err
	}
	x, err := area.Map(mem, 0, c.size, c.size, hostsys.ModeReadExecute)
	if err != nil {
		return err
	}
	c.mem, c.area, c.write, c.exec = mem, area, w, x
	return nil
}

func (c *Cache) partition(layout []SizePercentPair) {
	var offset uintptr
	for _, pair := range layout {
		share := c.size * uintptr(pair.Percent) / 100
		for n := share / pair.Size; n > 0 && offset+pair.Size <= c.size; n-- {
			c.pools[pair.Size] = append(c.pools[pair.Size], &Block{c: c, offset: offset, size: pair.Size})
			offset += pair.Size
		}
		c.sizes = append(c.sizes, pair.Size)
	}
	sort.Slice(c.sizes, func(i, j int) bool { return c.sizes[i] < c.sizes[j] })
}

// Size returns the cache size in bytes.
func (c *Cache) Size() uintptr { return c.size }

// DualMapped reports whether code is written and executed through different addresses.
func (c *Cache) DualMapped() bool { return c.area != nil }

// RWX reports whether the cache fell back to writable+executable pages.
func (c *Cache) RWX() bool { return c.rwx }

// Alloc returns a free block of the smallest class that holds size bytes.
func (c *Cache) Alloc(size uintptr) (*Block, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	for _, class := range c.sizes {
		if class < size {
			continue
		}
		for _, b := range c.pools[class] {
			if !b.used {
				b.used = true
				return b, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: %#x bytes", ErrFull, size)
}

// Free returns b to its pool. Its code must no longer be running.
func (c *Cache) Free(b *Block) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b.used = false
	b.length = 0
}

// Reset frees every block.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, pool := range c.pools {
		for _, b := range pool {
			b.used = false
			b.length = 0
		}
	}
}

// Stats returns the number of free blocks per block size.
func (c *Cache) Stats() map[uintptr]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	stats := make(map[uintptr]int, len(c.pools))
	for size, pool := range c.pools {
		for _, b := range pool {
			if !b.used {
				stats[size]++
			}
		}
	}
	return stats
}

// Close releases the cache memory. Blocks must not be used afterwards.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.area != nil {
		return multierr.Combine(c.area.Close(), c.mem.Destroy())
	}
	c.mapper.Release(c.write, c.size)
	return nil
}

// Offset returns the block's offset inside the cache.
func (b *Block) Offset() uintptr { return b.offset }

// Cap returns the block size in bytes.
func (b *Block) Cap() uintptr { return b.size }

// Len returns the number of code bytes written.
func (b *Block) Len() int { return b.length }

// Sealed reports whether the block is ready to execute.
func (b *Block) Sealed() bool { return b.sealed }

// Entry returns the address code in the block executes from.
func (b *Block) Entry() unsafe.Pointer {
	return unsafe.Add(b.c.exec, b.offset)
}

// Write makes the block writable and copies code to its start.
func (b *Block) Write(code []byte) error {
	if uintptr(len(code)) > b.size {
		return fmt.Errorf("%w: %d > %d", ErrTooLarge, len(code), b.size)
	}
	dst := unsafe.Add(b.c.write, b.offset)
	if b.sealed && b.c.area == nil && !b.c.rwx {
		if err := b.c.mapper.Reprotect(dst, b.size, hostsys.ModeReadWrite); err != nil {
			return err
		}
	}
	b.sealed = false
	copy(hostsys.Bytes(dst, b.size), code)
	b.length = len(code)
	return nil
}

// Seal makes the block read+execute and flushes it from the instruction cache.
func (b *Block) Seal() error {
	if b.c.area == nil && !b.c.rwx {
		if err := b.c.mapper.Reprotect(unsafe.Add(b.c.write, b.offset), b.size, hostsys.ModeReadExecute); err != nil {
			return err
		}
	}
	b.c.mapper.FlushInstructionCache(b.Entry(), b.size)
	b.sealed = true
	return nil
}

// Code returns the bytes written to the block, read through the execute address.
func (b *Block) Code() []byte {
	return hostsys.Bytes(b.Entry(), b.size)[:b.length]
}
