// Package threading provides native threads with stable identities, per-thread
// CPU accounting and affinity, and a kernel-backed counting semaphore.
//
// A Thread runs its entry point on a goroutine locked to one OS thread for the
// whole of its life, so the identity reported by GetForCallingThread inside the
// entry point stays valid until it returns.
package threading

import (
	"strconv"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"

	"github.com/srediag/hostsys/internal/logging"
)

var logger = logging.New("threading", nil)

// ThreadHandle is a copyable, non-owning reference to a native thread.
// Handles compare equal when they refer to the same thread. The zero value
// refers to no thread.
type ThreadHandle struct {
	id int64
}

// GetForCallingThread returns a handle for the thread running the caller.
func GetForCallingThread() ThreadHandle {
	return ThreadHandle{id: currentThreadID()}
}

// Valid reports whether h refers to a thread.
func (h ThreadHandle) Valid() bool { return h.id != 0 }

// ID returns the native thread id, or 0 for the zero handle.
func (h ThreadHandle) ID() int64 { return h.id }

func (h ThreadHandle) String() string {
	if !h.Valid() {
		return "thread(none)"
	}
	return "thread(" + strconv.FormatInt(h.id, 10) + ")"
}

// CPUTime returns the CPU time consumed by the thread. It is monotonic for a
// live thread and 0 when the host cannot report it.
func (h ThreadHandle) CPUTime() time.Duration {
	if !h.Valid() {
		return 0
	}
	return threadCPUTime(h.id)
}

// SetAffinity restricts the thread to the CPUs whose bits are set in mask.
// Bits past the host CPU count are ignored. It returns false when the host
// does not support affinity or the mask selects no usable CPU.
func (h ThreadHandle) SetAffinity(mask uint64) bool {
	if !h.Valid() || mask == 0 {
		return false
	}
	return setAffinity(h.id, mask, numCPU())
}

var numCPU = sync.OnceValue(func() int {
	n, err := cpu.Counts(true)
	if err != nil || n <= 0 {
		logger.Debugf("cpu count unavailable: %v", err)
		return 64
	}
	return n
})
