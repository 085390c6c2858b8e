//go:build !arm64

package hostsys

// x86 keeps instruction fetch coherent with stores.
func flushICache(start, end uintptr) {}
