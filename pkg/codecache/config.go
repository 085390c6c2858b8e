package codecache

import (
	"errors"
	"fmt"
	"time"

	"github.com/srediag/hostsys/api"
	"github.com/srediag/hostsys/pkg/hostsys"
)

const (
	defaultSize          = 16 << 20
	defaultMaxRetries    = 3
	defaultRetryInterval = 10 * time.Millisecond
)

// SizePercentPair describes one block class: blocks of Size bytes taking
// Percent percent of the cache.
type SizePercentPair struct {
	Size    uintptr
	Percent uint32
}

// Config is used to tune the code cache.
type Config struct {
	// Size of the whole cache in bytes, a multiple of the page size.
	Size uintptr
	// BlockSizes partitions the cache. Percents must add up to 100.
	BlockSizes []SizePercentPair
	// DualMap maps the cache twice, once writable and once executable, so
	// code is never written through an executable address.
	DualMap bool
	// MaxRetries bounds how often a reservation is retried after ErrExhausted.
	MaxRetries uint64
	// RetryInterval is the pause between reservation attempts.
	RetryInterval time.Duration
	// OnExhausted is called before each retry, e.g. to evict another cache.
	OnExhausted func()
	// Mapper reserves single-mapped caches. Nil means the host mapper.
	Mapper api.MemoryMapper
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Size: defaultSize,
		BlockSizes: []SizePercentPair{
			{Size: 64 << 10, Percent: 75},
			{Size: 1 << 20, Percent: 25},
		},
		MaxRetries:    defaultMaxRetries,
		RetryInterval: defaultRetryInterval,
		Mapper:        hostsys.HostMemoryMap{},
	}
}

// VerifyConfig is used to verify the sanity of configuration.
func VerifyConfig(config *Config) error {
	ps := hostsys.PageSize()
	if config.Mapper != nil {
		ps = config.Mapper.PageSize()
	}
	if config.Size == 0 || config.Size%ps != 0 {
		return fmt.Errorf("Size %#x must be a non-zero multiple of the page size %#x", config.Size, ps)
	}
	if len(config.BlockSizes) == 0 {
		return errors.New("BlockSizes must not be empty")
	}
	var sum uint32
	for _, pair := range config.BlockSizes {
		if pair.Size == 0 || pair.Size%ps != 0 {
			return fmt.Errorf("block size %#x must be a non-zero multiple of the page size %#x", pair.Size, ps)
		}
		if pair.Size > config.Size {
			return fmt.Errorf("block size %#x exceeds cache size %#x", pair.Size, config.Size)
		}
		sum += pair.Percent
	}
	if sum != 100 {
		return fmt.Errorf("the sum of BlockSizes percents must be 100, got %d", sum)
	}
	if config.DualMap && config.Mapper != nil {
		if _, host := config.Mapper.(hostsys.HostMemoryMap); !host {
			return errors.New("DualMap needs the host mapper")
		}
	}
	return nil
}
