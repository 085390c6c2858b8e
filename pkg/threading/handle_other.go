//go:build !linux

package threading

import (
	"bytes"
	"runtime"
	"strconv"
	"time"
)

// currentThreadID uses the goroutine id. Threads started by this package pin
// their goroutine to one OS thread, so the two identities coincide.
func currentThreadID() int64 {
	var buf [64]byte
	b := buf[:runtime.Stack(buf[:], false)]
	b = bytes.TrimPrefix(b, []byte("goroutine "))
	if i := bytes.IndexByte(b, ' '); i > 0 {
		if id, err := strconv.ParseInt(string(b[:i]), 10, 64); err == nil {
			return id
		}
	}
	return -1
}

func threadCPUTime(int64) time.Duration { return 0 }

func currentThreadCPUTime() time.Duration { return 0 }

func setAffinity(int64, uint64, int) bool { return false }

func setOSThreadName(string) error { return nil }

func osYield() {
	runtime.Gosched()
}
