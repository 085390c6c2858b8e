package hostsys

import (
	"fmt"
	"os"
	"time"
	"unsafe"

	"github.com/srediag/hostsys/internal/logging"
	"github.com/srediag/hostsys/internal/vm"
)

var logger = logging.New("hostsys", nil)

// PageSize returns the host page size. It is queried once per process.
func PageSize() uintptr {
	return vm.PageSize()
}

// CacheLineSize returns the L1 data cache line size. It is queried once per process.
func CacheLineSize() uintptr {
	return vm.CacheLineSize()
}

// CanReprotect reports whether Reprotect changes protection on this host.
// Where it returns false Reprotect is a no-op and callers should map RWX up front.
func CanReprotect() bool {
	return vm.Supported
}

// mustAlign panics on a misaligned base or a size that is not a non-zero page multiple.
func mustAlign(op string, base, size uintptr) {
	if size == 0 || !vm.IsAligned(size) {
		panic(fmt.Sprintf("hostsys: BUG: %s: size %#x is not a non-zero multiple of page size %#x", op, size, vm.PageSize()))
	}
	if !vm.IsAligned(base) {
		panic(fmt.Sprintf("hostsys: BUG: %s: address %#x is not page aligned", op, base))
	}
}

func mustAlignOffset(op string, offset uintptr) {
	if !vm.IsAligned(offset) {
		panic(fmt.Sprintf("hostsys: BUG: %s: offset %#x is not page aligned", op, offset))
	}
}

// ReserveAndMap reserves size bytes of private memory accessible as mode.
//
// A nil base lets the kernel choose the address. A non-nil base requests that
// exact address and fails with ErrFixedPlacement rather than moving or
// replacing an existing mapping. ModeNone fails with ErrNoAccess without
// touching the kernel.
func ReserveAndMap(base unsafe.Pointer, size uintptr, mode PageProtectionMode) (unsafe.Pointer, error) {
	mustAlign("ReserveAndMap", uintptr(base), size)
	if mode.IsNone() {
		return nil, ErrNoAccess
	}
	start := time.Now()
	addr, err := vm.Reserve(base, size, mode.prot())
	emit(OpReserve, addr, size, mode, start, err)
	if err != nil {
		logger.Debugf("reserve %#x bytes at %p as %s failed: %v", size, base, mode, err)
		return nil, fmt.Errorf("reserve %#x bytes: %w", size, err)
	}
	logger.Tracef("reserved [%p, +%#x) %s", addr, size, mode)
	return addr, nil
}

// Release returns [addr, addr+size) to the kernel. It never reports failure;
// errors are logged. Releasing a range twice is undefined.
func Release(addr unsafe.Pointer, size uintptr) {
	if addr == nil || !vm.Supported {
		return
	}
	mustAlign("Release", uintptr(addr), size)
	start := time.Now()
	err := vm.Release(addr, size)
	emit(OpRelease, addr, size, ModeNone, start, err)
	if err != nil {
		logger.Warnf("release [%p, +%#x) failed: %v", addr, size, err)
	}
}

// Reprotect changes the protection of [addr, addr+size) in place. The change is
// visible to every thread when Reprotect returns. On hosts where CanReprotect
// is false it does nothing.
func Reprotect(addr unsafe.Pointer, size uintptr, mode PageProtectionMode) error {
	if !vm.Supported {
		return nil
	}
	mustAlign("Reprotect", uintptr(addr), size)
	start := time.Now()
	err := vm.Protect(addr, size, mode.prot())
	emit(OpReprotect, addr, size, mode, start, err)
	if err != nil {
		return fmt.Errorf("reprotect [%p, +%#x) to %s: %w", addr, size, mode, err)
	}
	return nil
}

// Bytes returns a slice over [addr, addr+size). The slice is only valid while
// the range is mapped and only writable while the range is writable.
func Bytes(addr unsafe.Pointer, size uintptr) []byte {
	return unsafe.Slice((*byte)(addr), size)
}

// FileMappingName returns a shared memory name unique to this process.
func FileMappingName(prefix string) string {
	return fmt.Sprintf("%s_%d", prefix, os.Getpid())
}

// HostMemoryMap exposes the package functions as methods so consumers can
// accept a mapper interface and swap in a fake.
type HostMemoryMap struct{}

func (HostMemoryMap) ReserveAndMap(base unsafe.Pointer, size uintptr, mode PageProtectionMode) (unsafe.Pointer, error) {
	return ReserveAndMap(base, size, mode)
}

func (HostMemoryMap) Release(addr unsafe.Pointer, size uintptr) {
	Release(addr, size)
}

func (HostMemoryMap) Reprotect(addr unsafe.Pointer, size uintptr, mode PageProtectionMode) error {
	return Reprotect(addr, size, mode)
}

func (HostMemoryMap) CanReprotect() bool { return CanReprotect() }

func (HostMemoryMap) FlushInstructionCache(addr unsafe.Pointer, size uintptr) {
	FlushInstructionCache(addr, size)
}

func (HostMemoryMap) PageSize() uintptr { return PageSize() }
