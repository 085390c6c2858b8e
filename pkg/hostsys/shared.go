package hostsys

import (
	"fmt"
	"sync"
	"time"
	"unsafe"

	cmap "github.com/orcaman/concurrent-map/v2"

	"github.com/srediag/hostsys/internal/shm"
	"github.com/srediag/hostsys/internal/vm"
)

// SharedMemory is a fixed-size memory object that can be mapped at several
// addresses at once. It can only be destroyed after every view is unmapped.
type SharedMemory struct {
	mu       sync.Mutex
	obj      *shm.Object
	name     string
	size     uintptr
	mappings int
	closed   bool
}

type liveView struct {
	mem  *SharedMemory
	size uintptr
}

// views tracks mappings made by MapSharedMemory so UnmapSharedMemory can find their owner.
var views = cmap.NewWithCustomShardingFunction[uintptr, liveView](func(addr uintptr) uint32 {
	page := uint64(addr) >> 12
	return uint32(page ^ page>>32)
})

// CreateSharedMemory creates a zero-filled object of size bytes. An empty name
// creates an anonymous object. The name is informational and never opened by
// another process.
func CreateSharedMemory(name string, size uintptr) (*SharedMemory, error) {
	mustAlign("CreateSharedMemory", 0, size)
	start := time.Now()
	obj, err := shm.Create(shm.Options{Name: name, Size: int64(size)})
	err = shmErr(err)
	emit(OpShmCreate, nil, size, ModeNone, start, err)
	if err != nil {
		return nil, fmt.Errorf("create shared memory %q: %w", name, err)
	}
	logger.Debugf("created shared memory %q of %#x bytes", name, size)
	return &SharedMemory{obj: obj, name: name, size: size}, nil
}

// DestroySharedMemory is the function form of mem.Destroy.
func DestroySharedMemory(mem *SharedMemory) error {
	return mem.Destroy()
}

// Name returns the name given at creation.
func (m *SharedMemory) Name() string { return m.name }

// Size returns the object size in bytes.
func (m *SharedMemory) Size() uintptr { return m.size }

// Mappings returns the number of live views of the object.
func (m *SharedMemory) Mappings() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mappings
}

// Destroy closes the object. It fails with ErrBusy while views are mapped and
// with ErrClosed when called twice.
func (m *SharedMemory) Destroy() error {
	start := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if m.mappings > 0 {
		return fmt.Errorf("destroy shared memory %q: %w (%d)", m.name, ErrBusy, m.mappings)
	}
	m.closed = true
	err := m.obj.Close()
	emit(OpShmDestroy, nil, m.size, ModeNone, start, err)
	if err != nil {
		return fmt.Errorf("destroy shared memory %q: %w", m.name, err)
	}
	return nil
}

func (m *SharedMemory) acquire() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return -1, ErrClosed
	}
	m.mappings++
	return m.obj.Fd, nil
}

func (m *SharedMemory) release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.mappings > 0 {
		m.mappings--
	}
}

func (m *SharedMemory) checkRange(offset, size uintptr) error {
	if end := offset + size; end < offset || end > m.size {
		return fmt.Errorf("%w: [%#x, +%#x) of %#x byte object", ErrOutOfRange, offset, size, m.size)
	}
	return nil
}

// MapSharedMemory maps [offset, offset+size) of mem as mode. A nil base lets the
// kernel choose; a non-nil base must be free, as with ReserveAndMap. A range
// past the end of mem fails with ErrOutOfRange and is never truncated.
func MapSharedMemory(mem *SharedMemory, offset uintptr, base unsafe.Pointer, size uintptr, mode PageProtectionMode) (unsafe.Pointer, error) {
	mustAlign("MapSharedMemory", uintptr(base), size)
	mustAlignOffset("MapSharedMemory", offset)
	if err := mem.checkRange(offset, size); err != nil {
		return nil, err
	}
	if mode.IsNone() {
		return nil, ErrNoAccess
	}
	fd, err := mem.acquire()
	if err != nil {
		return nil, err
	}
	start := time.Now()
	addr, err := vm.MapShared(fd, int64(offset), base, size, mode.prot(), false)
	emit(OpShmMap, addr, size, mode, start, err)
	if err != nil {
		mem.release()
		return nil, fmt.Errorf("map shared memory %q: %w", mem.name, err)
	}
	views.Set(uintptr(addr), liveView{mem: mem, size: size})
	return addr, nil
}

// UnmapSharedMemory unmaps a view returned by MapSharedMemory. Failures are logged.
func UnmapSharedMemory(addr unsafe.Pointer, size uintptr) {
	if addr == nil {
		return
	}
	mustAlign("UnmapSharedMemory", uintptr(addr), size)
	start := time.Now()
	err := vm.Release(addr, size)
	emit(OpShmUnmap, addr, size, ModeNone, start, err)
	if err != nil {
		logger.Warnf("unmap shared view [%p, +%#x) failed: %v", addr, size, err)
		return
	}
	if v, ok := views.Pop(uintptr(addr)); ok {
		if v.size != size {
			logger.Warnf("unmap shared view [%p, +%#x) does not match mapped size %#x", addr, size, v.size)
		}
		v.mem.release()
	}
}
