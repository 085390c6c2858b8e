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
	"errors"
	"sync/atomic"
	"testing"
	"time"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/srediag/hostsys/pkg/hostsys"
)

// FaultTestSuite installs the one handler this test binary gets and swaps
// the per-test behaviour behind it.
type FaultTestSuite struct {
	suite.Suite
	trap      *Registration
	behaviour atomic.Pointer[HandlerFunc]
	observed  atomic.Int32
	page      unsafe.Pointer
}

func (s *FaultTestSuite) SetupSuite() {
	s.trap = New(
		WithMaxRetries(3),
		WithHistory(8),
		WithObserver(func(Fault, Decision) { s.observed.Add(1) }),
	)
	if !s.trap.IsSupported() {
		s.T().Skip("fault interception not supported on this host")
	}
	s.Require().NoError(s.trap.Install(func(f Fault) Decision {
		return (*s.behaviour.Load())(f)
	}))
	s.True(s.trap.Installed())
}

func (s *FaultTestSuite) SetupTest() {
	p, err := hostsys.ReserveAndMap(nil, hostsys.PageSize(), hostsys.ModeRead)
	s.Require().NoError(err)
	s.page = p
	s.trap.Drain()
	s.observed.Store(0)
}

func (s *FaultTestSuite) TearDownTest() {
	hostsys.Release(s.page, hostsys.PageSize())
}

func (s *FaultTestSuite) handle(h HandlerFunc) {
	s.behaviour.Store(&h)
}

func (s *FaultTestSuite) TestRetryAfterFixup() {
	s.handle(func(f Fault) Decision {
		if f.Addr != uintptr(s.page) {
			return Propagate
		}
		if err := hostsys.Reprotect(s.page, hostsys.PageSize(), hostsys.ModeReadWrite); err != nil {
			return Propagate
		}
		return Retry
	})

	mem := hostsys.Bytes(s.page, hostsys.PageSize())
	err := s.trap.Run(AccessWrite, func() { mem[0] = 0x99 })
	s.Require().NoError(err)
	s.Equal(byte(0x99), mem[0])

	last, ok := s.trap.LastFault()
	s.True(ok)
	s.Equal(uintptr(s.page), last.Addr)
	s.Equal(AccessWrite, last.Access)
	s.Zero(last.Attempt)
	s.WithinDuration(time.Now(), last.Time, time.Minute)

	history := s.trap.Drain()
	s.Len(history, 1)
	s.Empty(s.trap.Drain())
	s.Equal(int32(1), s.observed.Load())
}

func (s *FaultTestSuite) TestRetryRerunsWholeFunction() {
	s.handle(func(f Fault) Decision {
		if err := hostsys.Reprotect(s.page, hostsys.PageSize(), hostsys.ModeReadWrite); err != nil {
			return Propagate
		}
		return Retry
	})
	mem := hostsys.Bytes(s.page, hostsys.PageSize())
	calls := 0
	s.Require().NoError(s.trap.Run(AccessWrite, func() {
		calls++
		mem[0] = byte(calls)
	}))
	s.Equal(2, calls, "work before the faulting write repeats")
	s.Equal(byte(2), mem[0])
}

func (s *FaultTestSuite) TestNoFaultNoHandler() {
	called := false
	s.handle(func(Fault) Decision { called = true; return Propagate })
	var v byte
	s.NoError(s.trap.Run(AccessRead, func() { v = hostsys.Bytes(s.page, 1)[0] }))
	s.Zero(v)
	s.False(called)
}

func (s *FaultTestSuite) TestPropagateRepanics() {
	s.handle(func(Fault) Decision { return Propagate })
	mem := hostsys.Bytes(s.page, hostsys.PageSize())
	s.Panics(func() {
		_ = s.trap.Run(AccessWrite, func() { mem[8] = 1 })
	})
	last, ok := s.trap.LastFault()
	s.True(ok)
	s.Equal(uintptr(s.page)+8, last.Addr)
}

func (s *FaultTestSuite) TestRetryLimit() {
	s.handle(func(Fault) Decision { return Retry })
	mem := hostsys.Bytes(s.page, hostsys.PageSize())
	err := s.trap.Run(AccessWrite, func() { mem[0] = 1 })
	s.ErrorIs(err, ErrRetryLimit)
	history := s.trap.Drain()
	s.Len(history, 4)
	s.Equal(3, history[3].Attempt)
}

func (s *FaultTestSuite) TestOtherPanicsPassThrough() {
	s.handle(func(Fault) Decision { return Retry })
	s.PanicsWithValue("boom", func() {
		_ = s.trap.Run(AccessUnknown, func() { panic("boom") })
	})
}

func (s *FaultTestSuite) TestSecondInstallFails() {
	err := New().Install(func(Fault) Decision { return Propagate })
	s.ErrorIs(err, ErrAlreadyInstalled)
	s.ErrorIs(s.trap.Install(func(Fault) Decision { return Propagate }), ErrAlreadyInstalled)
}

func TestFaultTestSuite(t *testing.T) {
	suite.Run(t, new(FaultTestSuite))
}

func TestUnsupportedStub(t *testing.T) {
	trap := Unsupported("fault handler not implemented for this console")
	assert.False(t, trap.IsSupported())
	assert.False(t, trap.Installed())

	err := trap.Install(func(Fault) Decision { return Retry })
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsupported)
	assert.Contains(t, err.Error(), "not implemented for this console")

	ran := false
	assert.NoError(t, trap.Run(AccessRead, func() { ran = true }))
	assert.True(t, ran)
	_, ok := trap.LastFault()
	assert.False(t, ok)
	assert.Empty(t, trap.Drain())
}

func TestCapabilityIsConsulted(t *testing.T) {
	denied := errors.New("sandboxed")
	r := New(WithCapability(func() error { return denied }))
	assert.False(t, r.IsSupported())
	err := r.Install(func(Fault) Decision { return Retry })
	assert.ErrorIs(t, err, denied)
	assert.False(t, r.Installed())

	ran := false
	assert.NoError(t, r.Run(AccessRead, func() { ran = true }))
	assert.True(t, ran)
}

func TestHistoryKeepsNewest(t *testing.T) {
	r := New(WithHistory(4))
	for i := 0; i < 6; i++ {
		r.record(Fault{Addr: uintptr(0x1000 * (i + 1)), Attempt: i})
	}
	got := r.Drain()
	require.Len(t, got, 4)
	assert.Equal(t, uintptr(0x3000), got[0].Addr)
	assert.Equal(t, uintptr(0x6000), got[3].Addr)

	last, ok := r.LastFault()
	assert.True(t, ok)
	assert.Equal(t, 5, last.Attempt)
}

func TestStrings(t *testing.T) {
	assert.Equal(t, "write fault at 0xdead000", Fault{Addr: 0xdead000, Access: AccessWrite}.String())
	assert.Equal(t, "read fault at 0x10 (attempt 3)", Fault{Addr: 0x10, Access: AccessRead, Attempt: 2}.String())
	assert.Equal(t, "retry", Retry.String())
	assert.Equal(t, "propagate", Propagate.String())
	assert.Equal(t, "execute", AccessExecute.String())
}
