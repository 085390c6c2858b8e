package hostsys

import (
	"fmt"
	"slices"
	"sync"
	"time"
	"unsafe"

	"github.com/Workiva/go-datastructures/augmentedtree"

	"github.com/srediag/hostsys/internal/logging"
	"github.com/srediag/hostsys/internal/vm"
)

// SharedMemoryMappingArea owns one contiguous reserved range and maps views of
// shared memory into fixed windows of it. Unused pages stay reserved and
// inaccessible, so nothing else in the process can be placed inside the area.
//
// Map and Unmap are safe for concurrent use.
type SharedMemoryMappingArea struct {
	mu     sync.Mutex
	base   unsafe.Pointer
	size   uintptr
	pages  uintptr
	tree   augmentedtree.Tree
	views  map[uint64]*areaView // keyed by first page
	nextID uint64
	closed bool
}

// View describes a live view inside a mapping area.
type View struct {
	Offset     uintptr
	Size       uintptr
	FileOffset uintptr
	Mode       PageProtectionMode
	Mem        *SharedMemory
}

// areaView is an inclusive page interval [first, last].
type areaView struct {
	id          uint64
	first, last int64
	fileOffset  uintptr
	mode        PageProtectionMode
	mem         *SharedMemory
}

func (v *areaView) LowAtDimension(uint64) int64  { return v.first }
func (v *areaView) HighAtDimension(uint64) int64 { return v.last }
func (v *areaView) ID() uint64                   { return v.id }

func (v *areaView) OverlapsAtDimension(iv augmentedtree.Interval, d uint64) bool {
	return v.first <= iv.HighAtDimension(d) && iv.LowAtDimension(d) <= v.last
}

// CreateMappingArea reserves size bytes of inaccessible address space.
func CreateMappingArea(size uintptr) (*SharedMemoryMappingArea, error) {
	mustAlign("CreateMappingArea", 0, size)
	start := time.Now()
	base, err := vm.Reserve(nil, size, vm.ProtNone)
	emit(OpAreaCreate, base, size, ModeNone, start, err)
	if err != nil {
		return nil, fmt.Errorf("reserve mapping area of %#x bytes: %w", size, err)
	}
	logger.Debugf("mapping area [%p, +%#x) reserved", base, size)
	return &SharedMemoryMappingArea{
		base:  base,
		size:  size,
		pages: size / vm.PageSize(),
		tree:  augmentedtree.New(1),
		views: make(map[uint64]*areaView),
	}, nil
}

// Base returns the first address of the area.
func (a *SharedMemoryMappingArea) Base() unsafe.Pointer { return a.base }

// Size returns the area size in bytes.
func (a *SharedMemoryMappingArea) Size() uintptr { return a.size }

// NumPages returns the area size in pages.
func (a *SharedMemoryMappingArea) NumPages() uintptr { return a.pages }

// PointerAt returns Base()+offset. It panics when offset is outside the area.
func (a *SharedMemoryMappingArea) PointerAt(offset uintptr) unsafe.Pointer {
	if offset >= a.size {
		panic(fmt.Sprintf("hostsys: BUG: offset %#x outside mapping area of %#x bytes", offset, a.size))
	}
	return unsafe.Add(a.base, offset)
}

// OffsetOf returns the offset of p inside the area.
func (a *SharedMemoryMappingArea) OffsetOf(p unsafe.Pointer) (uintptr, bool) {
	off := uintptr(p) - uintptr(a.base)
	if uintptr(p) < uintptr(a.base) || off >= a.size {
		return 0, false
	}
	return off, true
}

func (a *SharedMemoryMappingArea) pageRange(offset, size uintptr) (int64, int64) {
	ps := vm.PageSize()
	return int64(offset / ps), int64((offset+size)/ps - 1)
}

// overlapping returns the live views sharing a page with [first, last].
func (a *SharedMemoryMappingArea) overlapping(first, last int64) []*areaView {
	// Widen the probe by a page on each side so the result does not depend on
	// whether the tree treats bounds as inclusive, then filter exactly.
	probe := &areaView{first: first - 1, last: last + 1}
	var hits []*areaView
	for _, iv := range a.tree.Query(probe) {
		v := iv.(*areaView)
		if v.first <= last && first <= v.last {
			hits = append(hits, v)
		}
	}
	return hits
}

// Map maps [fileOffset, fileOffset+size) of mem at Base()+offset as mode.
// It fails with ErrOutOfRange when the window leaves the area or the object,
// with ErrOverlap when it shares a page with a live view, and with ErrClosed
// after Close.
func (a *SharedMemoryMappingArea) Map(mem *SharedMemory, fileOffset, offset, size uintptr, mode PageProtectionMode) (unsafe.Pointer, error) {
	mustAlign("SharedMemoryMappingArea.Map", offset, size)
	mustAlignOffset("SharedMemoryMappingArea.Map", fileOffset)
	if end := offset + size; end < offset || end > a.size {
		return nil, fmt.Errorf("%w: [%#x, +%#x) of %#x byte area", ErrOutOfRange, offset, size, a.size)
	}
	if err := mem.checkRange(fileOffset, size); err != nil {
		return nil, err
	}
	if mode.IsNone() {
		return nil, ErrNoAccess
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil, ErrClosed
	}
	first, last := a.pageRange(offset, size)
	if hits := a.overlapping(first, last); len(hits) > 0 {
		return nil, fmt.Errorf("%w: [%#x, +%#x) hits view at page %d", ErrOverlap, offset, size, hits[0].first)
	}

	fd, err := mem.acquire()
	if err != nil {
		return nil, err
	}
	start := time.Now()
	target := unsafe.Add(a.base, offset)
	addr, err := vm.MapShared(fd, int64(fileOffset), target, size, mode.prot(), true)
	emit(OpAreaMap, target, size, mode, start, err)
	if err != nil {
		mem.release()
		return nil, fmt.Errorf("map %q into area at %#x: %w", mem.name, offset, err)
	}

	a.nextID++
	v := &areaView{id: a.nextID, first: first, last: last, fileOffset: fileOffset, mode: mode, mem: mem}
	a.tree.Add(v)
	a.views[uint64(first)] = v
	a.checkConsistency()
	return addr, nil
}

// Unmap removes the live view that starts at offset and spans exactly size
// bytes, returning its pages to the reserved inaccessible state. It returns
// false when no such view exists.
func (a *SharedMemoryMappingArea) Unmap(offset, size uintptr) bool {
	mustAlign("SharedMemoryMappingArea.Unmap", offset, size)
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return false
	}
	first, last := a.pageRange(offset, size)
	v, ok := a.views[uint64(first)]
	if !ok || v.last != last {
		return false
	}
	start := time.Now()
	target := unsafe.Add(a.base, offset)
	err := vm.Decommit(target, size)
	emit(OpAreaUnmap, target, size, ModeNone, start, err)
	if err != nil {
		logger.Warnf("unmap area view [%p, +%#x) failed: %v", target, size, err)
		return false
	}
	a.tree.Delete(v)
	delete(a.views, uint64(first))
	v.mem.release()
	a.checkConsistency()
	return true
}

// checkConsistency cross-checks the page tree against the view index in
// debug mode. Callers hold a.mu.
func (a *SharedMemoryMappingArea) checkConsistency() {
	if !logging.DebugMode() {
		return
	}
	if n := a.tree.Len(); n != uint64(len(a.views)) {
		panic(fmt.Sprintf("hostsys: BUG: mapping area tree holds %d views, index holds %d", n, len(a.views)))
	}
	for first, v := range a.views {
		if uint64(v.first) != first {
			panic(fmt.Sprintf("hostsys: BUG: view at page %d indexed under page %d", v.first, first))
		}
		if hits := a.overlapping(v.first, v.last); len(hits) != 1 || hits[0] != v {
			panic(fmt.Sprintf("hostsys: BUG: view [%d, %d] overlaps %d tree entries", v.first, v.last, len(hits)))
		}
	}
}

// Views returns the live views ordered by offset.
func (a *SharedMemoryMappingArea) Views() []View {
	a.mu.Lock()
	defer a.mu.Unlock()
	ps := vm.PageSize()
	out := make([]View, 0, len(a.views))
	for _, v := range a.views {
		out = append(out, View{
			Offset:     uintptr(v.first) * ps,
			Size:       uintptr(v.last-v.first+1) * ps,
			FileOffset: v.fileOffset,
			Mode:       v.mode,
			Mem:        v.mem,
		})
	}
	slices.SortFunc(out, func(x, y View) int {
		switch {
		case x.Offset < y.Offset:
			return -1
		case x.Offset > y.Offset:
			return 1
		}
		return 0
	})
	return out
}

// Close releases the whole area. Views still mapped are dropped with it and
// stop counting against their shared memory objects. Each dropped view is
// reported to the Observer as an OpAreaUnmap. Close is idempotent.
func (a *SharedMemoryMappingArea) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	if n := len(a.views); n > 0 {
		logger.Debugf("closing mapping area [%p, +%#x) with %d live views", a.base, a.size, n)
	}
	start := time.Now()
	ps := vm.PageSize()
	for _, v := range a.views {
		v.mem.release()
		// dropped views count as unmapped
		emit(OpAreaUnmap, unsafe.Add(a.base, uintptr(v.first)*ps), uintptr(v.last-v.first+1)*ps, ModeNone, start, nil)
	}
	a.views = nil
	a.tree = nil

	err := vm.Release(a.base, a.size)
	emit(OpAreaClose, a.base, a.size, ModeNone, start, err)
	if err != nil {
		return fmt.Errorf("release mapping area: %w", err)
	}
	return nil
}
