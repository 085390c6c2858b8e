// Package api defines the contracts hostsys consumers program against.
package api

import (
	"unsafe"

	"github.com/srediag/hostsys/pkg/hostsys"
)

// MemoryMapper reserves, reprotects and releases page-aligned private memory
// and publishes code written to it.
// hostsys.HostMemoryMap is the host implementation.
type MemoryMapper interface {
	ReserveAndMap(base unsafe.Pointer, size uintptr, mode hostsys.PageProtectionMode) (unsafe.Pointer, error)
	Release(addr unsafe.Pointer, size uintptr)
	Reprotect(addr unsafe.Pointer, size uintptr, mode hostsys.PageProtectionMode) error
	CanReprotect() bool
	FlushInstructionCache(addr unsafe.Pointer, size uintptr)
	PageSize() uintptr
}

var _ MemoryMapper = hostsys.HostMemoryMap{}
