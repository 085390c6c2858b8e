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

package probe

import (
	"bytes"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/shirou/gopsutil/v3/disk"

	"github.com/srediag/hostsys/api"
	"github.com/srediag/hostsys/pkg/codecache"
	"github.com/srediag/hostsys/pkg/fault"
	"github.com/srediag/hostsys/pkg/hostsys"
	"github.com/srediag/hostsys/pkg/threading"
)

// Options tunes the default probe set.
type Options struct {
	// ArenaSize is the size of the mapping area probe, in bytes.
	ArenaSize uintptr
	// ShmMinFree is the free space /dev/shm must have, in bytes.
	ShmMinFree uint64
	// Trap is the fault trap whose support is reported. Nil means fault.Default().
	Trap fault.Trap
}

// Default returns the probes for every capability the layer offers.
func Default(opts Options) []Probe {
	ps := hostsys.PageSize()
	if opts.ArenaSize < 4*ps {
		opts.ArenaSize = 64 * ps
	}
	opts.ArenaSize = (opts.ArenaSize + ps - 1) &^ (ps - 1)
	if opts.Trap == nil {
		opts.Trap = fault.Default()
	}
	return []Probe{
		{Name: "virtual-memory", Required: true, Check: checkVirtualMemory},
		{Name: "reprotect", Required: true, Check: checkReprotect},
		{Name: "shared-memory", Check: checkSharedMemory},
		{Name: "mapping-area", Check: func() error { return checkMappingArea(opts.ArenaSize) }},
		{Name: "fault-trap", Check: func() error { return checkFaultTrap(opts.Trap) }},
		{Name: "semaphore", Required: true, Check: checkSemaphore},
		{Name: "thread", Required: true, Check: checkThread},
		{Name: "affinity", Check: checkAffinity},
		{Name: "jit-roundtrip", Check: checkJIT},
		{Name: "shm-capacity", Check: func() error { return checkShmCapacity(opts.ShmMinFree) }},
	}
}

func checkVirtualMemory() error {
	size := 16 * hostsys.PageSize()
	addr, err := hostsys.ReserveAndMap(nil, size, hostsys.ModeReadWrite)
	if err != nil {
		return err
	}
	defer hostsys.Release(addr, size)
	mem := hostsys.Bytes(addr, size)
	mem[0], mem[size-1] = 1, 2
	if mem[0] != 1 || mem[size-1] != 2 {
		return errors.New("reserved memory does not hold writes")
	}
	return nil
}

func checkReprotect() error {
	if !hostsys.CanReprotect() {
		return hostsys.ErrUnsupported
	}
	size := hostsys.PageSize()
	addr, err := hostsys.ReserveAndMap(nil, size, hostsys.ModeReadWrite)
	if err != nil {
		return err
	}
	defer hostsys.Release(addr, size)
	hostsys.Bytes(addr, size)[0] = 0x5A
	for _, mode := range []hostsys.PageProtectionMode{hostsys.ModeRead, hostsys.ModeReadExecute, hostsys.ModeReadWrite} {
		if err := hostsys.Reprotect(addr, size, mode); err != nil {
			return err
		}
	}
	if hostsys.Bytes(addr, size)[0] != 0x5A {
		return errors.New("contents changed across reprotect")
	}
	return nil
}

func checkSharedMemory() error {
	size := 4 * hostsys.PageSize()
	mem, err := hostsys.CreateSharedMemory(hostsys.FileMappingName("hostsys-probe"), size)
	if err != nil {
		return err
	}
	a, err := hostsys.MapSharedMemory(mem, 0, nil, size, hostsys.ModeReadWrite)
	if err != nil {
		_ = mem.Destroy()
		return err
	}
	b, err := hostsys.MapSharedMemory(mem, 0, nil, size, hostsys.ModeRead)
	if err != nil {
		hostsys.UnmapSharedMemory(a, size)
		_ = mem.Destroy()
		return err
	}
	copy(hostsys.Bytes(a, size), "alias")
	same := bytes.Equal(hostsys.Bytes(b, size)[:5], []byte("alias"))
	hostsys.UnmapSharedMemory(a, size)
	hostsys.UnmapSharedMemory(b, size)
	if err := mem.Destroy(); err != nil {
		return err
	}
	if !same {
		return errors.New("views of one object do not alias")
	}
	return nil
}

func checkMappingArea(size uintptr) error {
	ps := hostsys.PageSize()
	mem, err := hostsys.CreateSharedMemory("hostsys-probe-area", 2*ps)
	if err != nil {
		return err
	}
	defer func() { _ = mem.Destroy() }()
	area, err := hostsys.CreateMappingArea(size)
	if err != nil {
		return err
	}
	defer func() { _ = area.Close() }()

	if _, err := area.Map(mem, 0, 0, 2*ps, hostsys.ModeReadWrite); err != nil {
		return err
	}
	if _, err := area.Map(mem, 0, ps, ps, hostsys.ModeRead); !errors.Is(err, hostsys.ErrOverlap) {
		return fmt.Errorf("overlapping view not rejected: %v", err)
	}
	if !area.Unmap(0, 2*ps) {
		return errors.New("view could not be unmapped")
	}
	if _, err := area.Map(mem, 0, 0, 2*ps, hostsys.ModeRead); err != nil {
		return fmt.Errorf("remap after unmap: %w", err)
	}
	return nil
}

// guardPage is the page checkFaultTrap write-protects, or 0.
var (
	guardMu   sync.Mutex
	guardPage atomic.Uintptr
)

// FaultHandler resolves the write fault checkFaultTrap provokes by making its
// guard page writable again. Every other fault propagates.
func FaultHandler(f fault.Fault) fault.Decision {
	page := guardPage.Load()
	if page == 0 || f.Access != fault.AccessWrite || f.Addr&^(hostsys.PageSize()-1) != page {
		return fault.Propagate
	}
	if err := hostsys.Reprotect(unsafe.Pointer(page), hostsys.PageSize(), hostsys.ModeReadWrite); err != nil {
		return fault.Propagate
	}
	return fault.Retry
}

// checkFaultTrap reports support. When FaultHandler is installed on trap it
// also writes to a read-only page under Run and expects one retried fault.
func checkFaultTrap(trap fault.Trap) error {
	if !trap.IsSupported() {
		return fault.ErrUnsupported
	}
	if !trap.Installed() {
		return nil
	}
	guardMu.Lock()
	defer guardMu.Unlock()

	ps := hostsys.PageSize()
	addr, err := hostsys.ReserveAndMap(nil, ps, hostsys.ModeRead)
	if err != nil {
		return err
	}
	defer hostsys.Release(addr, ps)
	guardPage.Store(uintptr(addr))
	defer guardPage.Store(0)

	mem := hostsys.Bytes(addr, ps)
	if err := trap.Run(fault.AccessWrite, func() { mem[8] = 0x5A }); err != nil {
		return err
	}
	if mem[8] != 0x5A {
		return errors.New("write lost after retry")
	}
	f, ok := trap.LastFault()
	if !ok || f.Addr != uintptr(addr)+8 {
		return fmt.Errorf("fault not recorded at %p+8", addr)
	}
	return nil
}

func checkSemaphore() error {
	sem, err := threading.NewKernelSemaphore()
	if err != nil {
		return err
	}
	defer sem.Close()
	return countRoundTrip(sem)
}

// countRoundTrip checks that an empty sem counts two posts exactly.
func countRoundTrip(sem api.Semaphore) error {
	if sem.TryWait() {
		return errors.New("new semaphore is not empty")
	}
	sem.Post()
	sem.Post()
	sem.Wait()
	if !sem.TryWait() || sem.TryWait() {
		return errors.New("semaphore count is wrong")
	}
	return nil
}

func checkThread() error {
	var inner threading.ThreadHandle
	t := threading.NewThread()
	if !t.Start(func() { inner = threading.GetForCallingThread() }) {
		return errors.New("thread did not start")
	}
	outer := t.Handle()
	t.Join()
	if !outer.Valid() || inner != outer {
		return fmt.Errorf("thread identity mismatch: %s != %s", inner, outer)
	}
	return nil
}

func checkAffinity() error {
	var ok bool
	t := threading.StartThread(func() {
		ok = threading.GetForCallingThread().SetAffinity(1)
	})
	t.Join()
	if !ok {
		return hostsys.ErrUnsupported
	}
	return nil
}

func checkJIT() error {
	ps := hostsys.PageSize()
	cfg := codecache.DefaultConfig()
	cfg.Size = 4 * ps
	cfg.BlockSizes = []codecache.SizePercentPair{{Size: ps, Percent: 100}}
	cfg.MaxRetries = 0
	c, err := codecache.New(cfg)
	if err != nil {
		return err
	}
	defer c.Close()
	b, err := c.Alloc(16)
	if err != nil {
		return err
	}
	// mov eax, 42; ret
	if err := b.Write([]byte{0xB8, 0x2A, 0x00, 0x00, 0x00, 0xC3}); err != nil {
		return err
	}
	if err := b.Seal(); err != nil {
		return err
	}
	if runtime.GOARCH != "amd64" {
		return hostsys.ErrUnsupported
	}
	v, err := b.Call()
	if err != nil {
		return err
	}
	if v != 42 {
		return fmt.Errorf("generated code returned %d", v)
	}
	return nil
}

func checkShmCapacity(minFree uint64) error {
	if runtime.GOOS != "linux" {
		return hostsys.ErrUnsupported
	}
	stat, err := disk.Usage("/dev/shm")
	if err != nil {
		return fmt.Errorf("%w: %v", hostsys.ErrUnsupported, err)
	}
	if stat.Free < minFree {
		return fmt.Errorf("/dev/shm has %d bytes free, need %d", stat.Free, minFree)
	}
	return nil
}
