//go:build !amd64

package codecache

import "github.com/srediag/hostsys/pkg/hostsys"

// Call is only implemented on amd64. Elsewhere generated code is still
// written, sealed and flushed from the instruction cache, but the caller
// must enter it through its own trampoline.
func (b *Block) Call() (uint64, error) {
	if !b.sealed {
		return 0, ErrNotSealed
	}
	return 0, hostsys.ErrUnsupported
}
