/*
 * Copyright 2025 SREDiag Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

//go:build darwin || dragonfly || freebsd || linux || netbsd || openbsd

package vm

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// Supported reports whether this host can reserve, protect and map pages.
const Supported = true

func unixProt(p Prot) int {
	prot := unix.PROT_NONE
	if p&ProtRead != 0 {
		prot |= unix.PROT_READ
	}
	if p&ProtWrite != 0 {
		prot |= unix.PROT_WRITE
	}
	if p&ProtExec != 0 {
		prot |= unix.PROT_EXEC
	}
	return prot
}

// Reserve maps size bytes of private anonymous memory with protection p.
// A non-nil base requests that exact address; an existing mapping there is
// never replaced. Inaccessible reservations are not backed by swap.
func Reserve(base unsafe.Pointer, size uintptr, p Prot) (unsafe.Pointer, error) {
	flags := unix.MAP_PRIVATE | unix.MAP_ANON
	if base != nil {
		flags |= mapFixedNoReplace
	}
	if p == ProtNone {
		flags |= mapNoReserve
	}
	addr, err := unix.MmapPtr(-1, 0, base, size, unixProt(p), flags)
	if err != nil {
		return nil, classify("mmap", err)
	}
	if base != nil && addr != base {
		// the kernel took base as a hint only
		_ = unix.MunmapPtr(addr, size)
		return nil, ErrFixedPlacement
	}
	return addr, nil
}

// Release unmaps [addr, addr+size).
func Release(addr unsafe.Pointer, size uintptr) error {
	return classify("munmap", unix.MunmapPtr(addr, size))
}

// Protect changes the protection of [addr, addr+size) in place.
func Protect(addr unsafe.Pointer, size uintptr, p Prot) error {
	return classify("mprotect", unix.Mprotect(unsafe.Slice((*byte)(addr), size), unixProt(p)))
}

// Decommit replaces [addr, addr+size) with fresh inaccessible pages, dropping
// whatever was mapped there but keeping the range reserved.
func Decommit(addr unsafe.Pointer, size uintptr) error {
	flags := unix.MAP_PRIVATE | unix.MAP_ANON | unix.MAP_FIXED | mapNoReserve
	_, err := unix.MmapPtr(-1, 0, addr, size, unix.PROT_NONE, flags)
	return classify("mmap", err)
}

// MapShared maps size bytes of fd starting at offset. With fixed set, the view
// replaces whatever is mapped at base, which must be a range owned by the caller.
// Otherwise base is a no-replace placement request, or nil for any address.
func MapShared(fd int, offset int64, base unsafe.Pointer, size uintptr, p Prot, fixed bool) (unsafe.Pointer, error) {
	flags := unix.MAP_SHARED
	switch {
	case fixed:
		flags |= unix.MAP_FIXED
	case base != nil:
		flags |= mapFixedNoReplace
	}
	addr, err := unix.MmapPtr(fd, offset, base, size, unixProt(p), flags)
	if err != nil {
		return nil, classify("mmap", err)
	}
	if base != nil && addr != base {
		_ = unix.MunmapPtr(addr, size)
		return nil, ErrFixedPlacement
	}
	return addr, nil
}
