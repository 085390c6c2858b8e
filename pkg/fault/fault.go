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

// Package fault intercepts memory access faults raised by guarded code and
// lets one process-wide handler decide whether to fix up and retry the access
// or let the fault crash the process as usual.
//
// Interception is scoped: only faults raised inside Trap.Run are seen by the
// handler. A typical handler write-protects pages holding generated code,
// invalidates the code on the first write, restores write access and retries.
package fault

import (
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/valyala/bytebufferpool"

	"github.com/srediag/hostsys/internal/logging"
	"github.com/srediag/hostsys/pkg/hostsys"
)

var logger = logging.New("fault", nil)

var (
	// ErrUnsupported is returned by Install on hosts that cannot intercept faults.
	ErrUnsupported = hostsys.ErrUnsupported
	// ErrAlreadyInstalled is returned by every Install after the first in a process.
	ErrAlreadyInstalled = errors.New("fault handler already installed")
	// ErrRetryLimit is returned by Run when the handler kept retrying a fault.
	ErrRetryLimit = errors.New("fault retry limit reached")
)

// Access is the kind of access that faulted.
type Access uint8

const (
	AccessUnknown Access = iota
	AccessRead
	AccessWrite
	AccessExecute
)

func (a Access) String() string {
	switch a {
	case AccessRead:
		return "read"
	case AccessWrite:
		return "write"
	case AccessExecute:
		return "execute"
	}
	return "unknown"
}

// Decision is a handler's verdict on a fault.
type Decision uint8

const (
	// Propagate leaves the fault unhandled; it crashes the process as if no
	// handler was installed.
	Propagate Decision = iota
	// Retry reports the cause fixed; the guarded code runs again.
	Retry
)

func (d Decision) String() string {
	if d == Retry {
		return "retry"
	}
	return "propagate"
}

// Fault describes one intercepted access fault.
type Fault struct {
	Addr    uintptr
	Access  Access
	Time    time.Time
	Attempt int

	cause any
}

func (f Fault) String() string {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	_, _ = buf.WriteString(f.Access.String())
	_, _ = buf.WriteString(" fault at 0x")
	_, _ = buf.WriteString(strconv.FormatUint(uint64(f.Addr), 16))
	if f.Attempt > 0 {
		_, _ = buf.WriteString(" (attempt ")
		_, _ = buf.WriteString(strconv.Itoa(f.Attempt + 1))
		_ = buf.WriteByte(')')
	}
	return buf.String()
}

// HandlerFunc decides what happens to a fault. It runs on the faulting
// thread and must not block.
type HandlerFunc func(Fault) Decision

// Trap intercepts faults raised by guarded code.
type Trap interface {
	// IsSupported reports whether Install can succeed on this host.
	IsSupported() bool
	// Install registers h as the process-wide handler. It succeeds at most
	// once per process and cannot be undone.
	Install(h HandlerFunc) error
	// Installed reports whether Install succeeded on this trap.
	Installed() bool
	// Run calls fn, handing any access fault it raises to the handler.
	// access is the kind of access fn performs. Without a handler fn runs
	// unguarded.
	//
	// On Retry the whole of fn runs again, so fn must be idempotent up to
	// its first faulting access: side effects before the fault repeat.
	Run(access Access, fn func()) error
	// LastFault returns the most recent fault seen by Run.
	LastFault() (Fault, bool)
	// Drain removes and returns the recorded fault history, oldest first.
	Drain() []Fault
}

var (
	installMu sync.Mutex
	installed bool
)

// claim marks the process handler slot as taken.
func claim() error {
	installMu.Lock()
	defer installMu.Unlock()
	if installed {
		return ErrAlreadyInstalled
	}
	installed = true
	return nil
}

// Unsupported returns a Trap for hosts without fault interception. Install
// always fails with an error wrapping ErrUnsupported and carrying reason.
// Run calls fn directly.
func Unsupported(reason string) Trap {
	return unsupportedTrap{reason: reason}
}

type unsupportedTrap struct {
	reason string
}

func (unsupportedTrap) IsSupported() bool { return false }

func (t unsupportedTrap) Install(HandlerFunc) error {
	return fmt.Errorf("install page fault handler: %w: %s", ErrUnsupported, t.reason)
}

func (unsupportedTrap) Run(_ Access, fn func()) error {
	fn()
	return nil
}

func (unsupportedTrap) Installed() bool { return false }

func (unsupportedTrap) LastFault() (Fault, bool) { return Fault{}, false }

func (unsupportedTrap) Drain() []Fault { return nil }

var defaultTrap = sync.OnceValue(func() Trap { return New() })

// Default returns the process-wide trap built by New with no options.
func Default() Trap {
	return defaultTrap()
}
