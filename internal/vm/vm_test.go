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

package vm

import (
	"errors"
	"syscall"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPageSize(t *testing.T) {
	p := PageSize()
	assert.NotZero(t, p)
	assert.Zero(t, p&(p-1), "page size %d is not a power of two", p)
	assert.Equal(t, p, PageSize())

	assert.True(t, IsAligned(0))
	assert.True(t, IsAligned(p*3))
	assert.False(t, IsAligned(p+1))
	assert.Equal(t, p, AlignUp(1))
	assert.Equal(t, 2*p, AlignUp(p+1))
	assert.Equal(t, p, AlignUp(p))
}

func TestCacheLineSize(t *testing.T) {
	n := CacheLineSize()
	assert.GreaterOrEqual(t, n, uintptr(16))
	assert.Zero(t, n&(n-1))
}

func TestClassify(t *testing.T) {
	assert.Nil(t, classify("mmap", nil))

	err := classify("mmap", syscall.ENOMEM)
	assert.ErrorIs(t, err, ErrExhausted)
	assert.ErrorIs(t, err, syscall.ENOMEM)

	err = classify("mmap", syscall.EEXIST)
	assert.ErrorIs(t, err, ErrFixedPlacement)

	err = classify("mprotect", syscall.EACCES)
	assert.False(t, errors.Is(err, ErrExhausted))
	assert.ErrorIs(t, err, syscall.EACCES)
	assert.Contains(t, err.Error(), "mprotect")
}

func TestReserveProtectRelease(t *testing.T) {
	if !Supported {
		_, err := Reserve(nil, PageSize(), ProtRead)
		assert.ErrorIs(t, err, ErrUnsupported)
		return
	}
	size := 4 * PageSize()
	addr, err := Reserve(nil, size, ProtRead|ProtWrite)
	require.NoError(t, err)
	require.NotNil(t, addr)
	assert.True(t, IsAligned(uintptr(addr)))

	mem := unsafe.Slice((*byte)(addr), size)
	mem[0] = 0xAA
	mem[size-1] = 0x55

	require.NoError(t, Protect(addr, size, ProtRead))
	assert.Equal(t, byte(0xAA), mem[0])
	require.NoError(t, Protect(addr, size, ProtRead|ProtWrite))
	mem[1] = 1

	require.NoError(t, Decommit(addr, PageSize()))
	require.NoError(t, Protect(addr, PageSize(), ProtRead))
	assert.Zero(t, mem[0], "decommitted page must come back zeroed")
	assert.Equal(t, byte(0x55), mem[size-1])

	require.NoError(t, Release(addr, size))
}

func TestReserveFixedDoesNotReplace(t *testing.T) {
	if !Supported {
		t.Skip("no virtual memory support")
	}
	size := 2 * PageSize()
	addr, err := Reserve(nil, size, ProtNone)
	require.NoError(t, err)
	defer func() { _ = Release(addr, size) }()

	_, err = Reserve(addr, size, ProtRead)
	assert.ErrorIs(t, err, ErrFixedPlacement)
}

func TestReserveFixedFreeRange(t *testing.T) {
	if !Supported {
		t.Skip("no virtual memory support")
	}
	size := 2 * PageSize()
	addr, err := Reserve(nil, size, ProtNone)
	require.NoError(t, err)
	require.NoError(t, Release(addr, size))

	// the range was just released, so it is almost always still free
	again, err := Reserve(addr, size, ProtRead|ProtWrite)
	if errors.Is(err, ErrFixedPlacement) {
		t.Skip("address reused by the runtime")
	}
	require.NoError(t, err)
	assert.Equal(t, addr, again)
	require.NoError(t, Release(again, size))
}
