//go:build linux

package threading

import (
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

func currentThreadID() int64 {
	return int64(unix.Gettid())
}

// threadClock builds the per-thread CPUCLOCK_SCHED clock id for tid.
func threadClock(tid int64) int32 {
	return ^int32(tid)<<3 | 6
}

func threadCPUTime(tid int64) time.Duration {
	var ts unix.Timespec
	if err := unix.ClockGettime(threadClock(tid), &ts); err != nil {
		return 0
	}
	return time.Duration(ts.Nano())
}

func currentThreadCPUTime() time.Duration {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_THREAD_CPUTIME_ID, &ts); err != nil {
		return 0
	}
	return time.Duration(ts.Nano())
}

func setAffinity(tid int64, mask uint64, ncpu int) bool {
	var set unix.CPUSet
	set.Zero()
	for i := 0; i < 64 && i < ncpu; i++ {
		if mask&(1<<uint(i)) != 0 {
			set.Set(i)
		}
	}
	if set.Count() == 0 {
		return false
	}
	if err := unix.SchedSetaffinity(int(tid), &set); err != nil {
		logger.Debugf("sched_setaffinity(%d, %#x) failed: %v", tid, mask, err)
		return false
	}
	return true
}

func setOSThreadName(name string) error {
	// the kernel keeps 15 bytes plus the terminator
	b := make([]byte, 16)
	copy(b[:15], name)
	return unix.Prctl(unix.PR_SET_NAME, uintptr(unsafe.Pointer(&b[0])), 0, 0, 0)
}

func osYield() {
	_, _, _ = unix.Syscall(unix.SYS_SCHED_YIELD, 0, 0, 0)
}
