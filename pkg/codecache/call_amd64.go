//go:build amd64

package codecache

import "unsafe"

// Call runs the block's code as a function without arguments and returns
// RAX. The code must follow the Go internal ABI: it must preserve RSP, RBP,
// R14 (the current goroutine) and X15 (kept zero), may clobber the other
// general and vector registers, and must return with RET.
func (b *Block) Call() (uint64, error) {
	if !b.sealed {
		return 0, ErrNotSealed
	}
	entry := uintptr(b.Entry())
	code := &entry
	fn := *(*func() uint64)(unsafe.Pointer(&code))
	return fn(), nil
}
