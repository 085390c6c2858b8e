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

package fault

import (
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	queuepkg "github.com/Workiva/go-datastructures/queue"
)

const (
	defaultMaxRetries = 8
	defaultHistory    = 64
	pollTimeout       = time.Microsecond
)

// Observer is told about every fault and the decision taken on it.
type Observer func(Fault, Decision)

// Option configures a Registration.
type Option func(*Registration)

// WithCapability replaces the host capability check. Install fails with the
// returned error when it is non-nil.
func WithCapability(check func() error) Option {
	return func(r *Registration) {
		r.capability = check
	}
}

// WithMaxRetries bounds how often one Run call retries before giving up with ErrRetryLimit.
func WithMaxRetries(n int) Option {
	return func(r *Registration) {
		if n > 0 {
			r.maxRetries = n
		}
	}
}

// WithHistory sets how many faults are kept for Drain.
func WithHistory(n uint64) Option {
	return func(r *Registration) {
		if n > 0 {
			r.historySize = n
		}
	}
}

// WithObserver reports every fault to o.
func WithObserver(o Observer) Option {
	return func(r *Registration) {
		r.observer = o
	}
}

// Registration is the host Trap. Guarded code runs with the goroutine's
// panic-on-fault flag set, which turns an access fault at a non-nil address
// into a recoverable runtime error that carries the address.
type Registration struct {
	capability  func() error
	maxRetries  int
	historySize uint64
	observer    Observer

	handler atomic.Pointer[HandlerFunc]
	last    atomic.Pointer[Fault]
	history *queuepkg.RingBuffer
}

// New returns a Trap for this host.
func New(opts ...Option) *Registration {
	r := &Registration{
		capability:  hostCapability,
		maxRetries:  defaultMaxRetries,
		historySize: defaultHistory,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.history = queuepkg.NewRingBuffer(r.historySize)
	return r
}

func (r *Registration) IsSupported() bool {
	return r.capability() == nil
}

func (r *Registration) Install(h HandlerFunc) error {
	if h == nil {
		return fmt.Errorf("install page fault handler: nil handler")
	}
	if err := r.capability(); err != nil {
		return fmt.Errorf("install page fault handler: %w", err)
	}
	if err := claim(); err != nil {
		return err
	}
	r.handler.Store(&h)
	logger.Debugf("page fault handler installed")
	return nil
}

// Installed reports whether Install succeeded on r.
func (r *Registration) Installed() bool {
	return r.handler.Load() != nil
}

func (r *Registration) Run(access Access, fn func()) error {
	h := r.handler.Load()
	if h == nil {
		fn()
		return nil
	}
	for attempt := 0; ; attempt++ {
		f, faulted := guard(access, fn)
		if !faulted {
			return nil
		}
		f.Attempt = attempt
		r.record(f)
		if attempt >= r.maxRetries {
			logger.Warnf("%s: giving up after %d retries", f, r.maxRetries)
			return fmt.Errorf("%w: %s", ErrRetryLimit, f)
		}
		d := (*h)(f)
		if r.observer != nil {
			r.observer(f, d)
		}
		if d != Retry {
			logger.Errorf("unhandled %s", f)
			panic(f.cause)
		}
		logger.Tracef("%s handled, retrying", f)
	}
}

// guard runs fn and converts an access fault into a Fault.
func guard(access Access, fn func()) (f Fault, faulted bool) {
	old := debug.SetPanicOnFault(true)
	defer debug.SetPanicOnFault(old)
	defer func() {
		p := recover()
		if p == nil {
			return
		}
		af, ok := p.(interface{ Addr() uintptr })
		if !ok {
			// not an access fault
			panic(p)
		}
		f = Fault{Addr: af.Addr(), Access: access, Time: time.Now(), cause: p}
		faulted = true
	}()
	fn()
	return Fault{}, false
}

func (r *Registration) record(f Fault) {
	r.last.Store(&f)
	ok, err := r.history.Offer(f)
	if err != nil || ok {
		return
	}
	// full: drop the oldest entry
	_, _ = r.history.Poll(pollTimeout)
	_, _ = r.history.Offer(f)
}

func (r *Registration) LastFault() (Fault, bool) {
	f := r.last.Load()
	if f == nil {
		return Fault{}, false
	}
	return *f, true
}

func (r *Registration) Drain() []Fault {
	var out []Fault
	for r.history.Len() > 0 {
		item, err := r.history.Poll(pollTimeout)
		if err != nil {
			break
		}
		out = append(out, item.(Fault))
	}
	return out
}
