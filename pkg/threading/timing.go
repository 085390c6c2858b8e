package threading

import (
	"runtime"
	"sync/atomic"
	"time"
)

// epoch anchors CPUTicks to the monotonic clock.
var epoch = time.Now()

var hires atomic.Int32

// EnableHiresScheduler requests fine-grained sleep and timer resolution.
// Calls nest and must be paired with DisableHiresScheduler. The Go runtime
// already sleeps with high resolution on every supported host, so only the
// request count is kept.
func EnableHiresScheduler() {
	hires.Add(1)
}

// DisableHiresScheduler drops one EnableHiresScheduler request. Unpaired
// calls are ignored.
func DisableHiresScheduler() {
	for {
		n := hires.Load()
		if n == 0 || hires.CompareAndSwap(n, n-1) {
			return
		}
	}
}

// HiresSchedulerRequested reports whether any EnableHiresScheduler call is outstanding.
func HiresSchedulerRequested() bool {
	return hires.Load() > 0
}

// Timeslice gives up the rest of the calling thread's time slice.
func Timeslice() {
	osYield()
}

// SpinWait is the pause inside a busy-wait loop.
func SpinWait() {
	runtime.Gosched()
}

// Sleep suspends the caller for ms milliseconds.
func Sleep(ms uint) {
	time.Sleep(time.Duration(ms) * time.Millisecond)
}

// TickFrequency is the number of CPUTicks per second.
func TickFrequency() uint64 {
	return uint64(time.Second)
}

// CPUTicks returns a monotonic tick count in units of 1/TickFrequency seconds.
func CPUTicks() uint64 {
	return uint64(time.Since(epoch))
}

// SleepUntil sleeps until CPUTicks reaches ticks. It returns at once when
// ticks is already in the past.
func SleepUntil(ticks uint64) {
	now := CPUTicks()
	if ticks <= now {
		return
	}
	time.Sleep(time.Duration(ticks - now))
}

// ThreadTicksPerSecond is the resolution of CPUTime values, in ticks per second.
func ThreadTicksPerSecond() uint64 {
	return uint64(time.Second)
}

// CurrentThreadCPUTime returns the CPU time consumed by the calling thread.
func CurrentThreadCPUTime() time.Duration {
	return currentThreadCPUTime()
}
