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

//go:build !(darwin || dragonfly || freebsd || linux || netbsd || openbsd)

package vm

import (
	"unsafe"

	"golang.org/x/sys/cpu"
)

// Supported reports whether this host can reserve, protect and map pages.
const Supported = false

func Reserve(base unsafe.Pointer, size uintptr, p Prot) (unsafe.Pointer, error) {
	return nil, ErrUnsupported
}

func Release(addr unsafe.Pointer, size uintptr) error {
	return ErrUnsupported
}

func Protect(addr unsafe.Pointer, size uintptr, p Prot) error {
	return ErrUnsupported
}

func Decommit(addr unsafe.Pointer, size uintptr) error {
	return ErrUnsupported
}

func MapShared(fd int, offset int64, base unsafe.Pointer, size uintptr, p Prot, fixed bool) (unsafe.Pointer, error) {
	return nil, ErrUnsupported
}

func cacheLineSize() uintptr {
	return unsafe.Sizeof(cpu.CacheLinePad{})
}
