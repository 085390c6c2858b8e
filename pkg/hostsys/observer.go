package hostsys

import (
	"sync/atomic"
	"time"
	"unsafe"
)

// Op names a memory operation reported to an Observer.
type Op string

const (
	OpReserve    Op = "reserve"
	OpRelease    Op = "release"
	OpReprotect  Op = "reprotect"
	OpShmCreate  Op = "shm_create"
	OpShmDestroy Op = "shm_destroy"
	OpShmMap     Op = "shm_map"
	OpShmUnmap   Op = "shm_unmap"
	OpAreaCreate Op = "area_create"
	OpAreaMap    Op = "area_map"
	OpAreaUnmap  Op = "area_unmap"
	OpAreaClose  Op = "area_close"
)

// Event describes one completed memory operation.
type Event struct {
	Op       Op
	Addr     uintptr
	Size     uintptr
	Mode     PageProtectionMode
	Err      error
	Start    time.Time
	Duration time.Duration
}

// Observer receives an Event after every memory operation. Observe is called
// on the thread that performed the operation and must not block.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) Observe(e Event) { f(e) }

type observerHolder struct{ o Observer }

var observer atomic.Pointer[observerHolder]

// SetObserver installs o and returns the previous observer. A nil o disables reporting.
func SetObserver(o Observer) Observer {
	var prev *observerHolder
	if o == nil {
		prev = observer.Swap(nil)
	} else {
		prev = observer.Swap(&observerHolder{o})
	}
	if prev == nil {
		return nil
	}
	return prev.o
}

func emit(op Op, addr unsafe.Pointer, size uintptr, mode PageProtectionMode, start time.Time, err error) {
	h := observer.Load()
	if h == nil {
		return
	}
	h.o.Observe(Event{
		Op:       op,
		Addr:     uintptr(addr),
		Size:     size,
		Mode:     mode,
		Err:      err,
		Start:    start,
		Duration: time.Since(start),
	})
}
