package hostsys

import "unsafe"

// FlushInstructionCache makes code written to [addr, addr+size) visible to
// instruction fetch on every core. Call it after writing generated code and
// before running it. It is a no-op where the caches are coherent.
func FlushInstructionCache(addr unsafe.Pointer, size uintptr) {
	if addr == nil || size == 0 {
		return
	}
	start := uintptr(addr)
	flushICache(start, start+size)
}
