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

// Package vm wraps the host's page-level virtual memory calls.
//
// Every function works on raw addresses. Callers are expected to pass page
// aligned sizes; this package does not round.
package vm

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"syscall"
)

// Prot is a page protection bitset.
type Prot int

const (
	ProtNone  Prot = 0
	ProtRead  Prot = 1 << 0
	ProtWrite Prot = 1 << 1
	ProtExec  Prot = 1 << 2
)

var (
	// ErrUnsupported is returned on hosts without page-level memory control.
	ErrUnsupported = errors.New("virtual memory operation not supported on this host")
	// ErrExhausted is returned when the kernel is out of memory or address space.
	ErrExhausted = errors.New("address space exhausted")
	// ErrFixedPlacement is returned when a fixed address could not be honoured.
	ErrFixedPlacement = errors.New("requested address unavailable")
)

// PageSize is the host page size, read once.
var PageSize = sync.OnceValue(func() uintptr {
	return uintptr(os.Getpagesize())
})

// CacheLineSize is the L1 data cache line size, read once.
var CacheLineSize = sync.OnceValue(cacheLineSize)

// IsAligned reports whether n is a multiple of the page size.
func IsAligned(n uintptr) bool {
	return n&(PageSize()-1) == 0
}

// AlignUp rounds n up to the next page boundary.
func AlignUp(n uintptr) uintptr {
	p := PageSize()
	return (n + p - 1) &^ (p - 1)
}

// classify maps kernel errors onto the package sentinels while keeping the errno.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, syscall.ENOMEM):
		return fmt.Errorf("%s: %w: %w", op, ErrExhausted, err)
	case errors.Is(err, syscall.EEXIST):
		return fmt.Errorf("%s: %w: %w", op, ErrFixedPlacement, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
