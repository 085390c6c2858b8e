package hostsys

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/srediag/hostsys/internal/logging"
)

type AreaTestSuite struct {
	suite.Suite
	mem  *SharedMemory
	area *SharedMemoryMappingArea
	ps   uintptr
}

func (s *AreaTestSuite) SetupTest() {
	s.ps = PageSize()
	mem, err := CreateSharedMemory(FileMappingName("hostsys-area"), 16*s.ps)
	if errors.Is(err, ErrUnsupported) {
		s.T().Skip("no shared memory on this host")
	}
	s.Require().NoError(err)
	s.mem = mem
	s.area, err = CreateMappingArea(64 * s.ps)
	s.Require().NoError(err)
}

func (s *AreaTestSuite) TearDownTest() {
	if s.area != nil {
		s.NoError(s.area.Close())
		s.area = nil
	}
	if s.mem != nil {
		s.NoError(s.mem.Destroy())
		s.mem = nil
	}
}

func (s *AreaTestSuite) TestGeometry() {
	s.Equal(64*s.ps, s.area.Size())
	s.Equal(uintptr(64), s.area.NumPages())
	s.NotNil(s.area.Base())
	off, ok := s.area.OffsetOf(s.area.PointerAt(3 * s.ps))
	s.True(ok)
	s.Equal(3*s.ps, off)
	s.Panics(func() { s.area.PointerAt(64 * s.ps) })
}

func (s *AreaTestSuite) TestMapUnmapMapAgain() {
	p, err := s.area.Map(s.mem, 0, 4*s.ps, 2*s.ps, ModeReadWrite)
	s.Require().NoError(err)
	s.Equal(s.area.PointerAt(4*s.ps), p)
	s.Equal(1, s.mem.Mappings())

	s.True(s.area.Unmap(4*s.ps, 2*s.ps))
	s.Zero(s.mem.Mappings())

	p2, err := s.area.Map(s.mem, 0, 4*s.ps, 2*s.ps, ModeReadWrite)
	s.Require().NoError(err)
	s.Equal(p, p2)
	s.True(s.area.Unmap(4*s.ps, 2*s.ps))
}

func (s *AreaTestSuite) TestOverlapRejected() {
	_, err := s.area.Map(s.mem, 0, 4*s.ps, 4*s.ps, ModeRead)
	s.Require().NoError(err)

	_, err = s.area.Map(s.mem, 0, 6*s.ps, 4*s.ps, ModeRead)
	s.ErrorIs(err, ErrOverlap)
	_, err = s.area.Map(s.mem, 0, 2*s.ps, 3*s.ps, ModeRead)
	s.ErrorIs(err, ErrOverlap)
	_, err = s.area.Map(s.mem, 0, 5*s.ps, s.ps, ModeRead)
	s.ErrorIs(err, ErrOverlap)

	// touching neighbours on either side are fine
	_, err = s.area.Map(s.mem, 0, 8*s.ps, s.ps, ModeRead)
	s.NoError(err)
	_, err = s.area.Map(s.mem, 0, 3*s.ps, s.ps, ModeRead)
	s.NoError(err)
	s.Len(s.area.Views(), 3)
}

func (s *AreaTestSuite) TestUnmapRequiresExactView() {
	_, err := s.area.Map(s.mem, 0, 0, 4*s.ps, ModeRead)
	s.Require().NoError(err)

	s.False(s.area.Unmap(0, 2*s.ps))
	s.False(s.area.Unmap(s.ps, 3*s.ps))
	s.False(s.area.Unmap(32*s.ps, s.ps))
	s.True(s.area.Unmap(0, 4*s.ps))
	s.False(s.area.Unmap(0, 4*s.ps))
}

func (s *AreaTestSuite) TestBounds() {
	_, err := s.area.Map(s.mem, 0, 63*s.ps, 2*s.ps, ModeRead)
	s.ErrorIs(err, ErrOutOfRange)
	_, err = s.area.Map(s.mem, 15*s.ps, 0, 2*s.ps, ModeRead)
	s.ErrorIs(err, ErrOutOfRange)
	_, err = s.area.Map(s.mem, 0, 0, s.ps, ModeNone)
	s.ErrorIs(err, ErrNoAccess)
	s.Empty(s.area.Views())
}

func (s *AreaTestSuite) TestDualViewsShareBytes() {
	rw, err := s.area.Map(s.mem, 2*s.ps, 0, s.ps, ModeReadWrite)
	s.Require().NoError(err)
	ro, err := s.area.Map(s.mem, 2*s.ps, 10*s.ps, s.ps, ModeRead)
	s.Require().NoError(err)

	Bytes(rw, s.ps)[17] = 0x5A
	s.Equal(byte(0x5A), Bytes(ro, s.ps)[17])
	s.Equal(2, s.mem.Mappings())

	views := s.area.Views()
	s.Require().Len(views, 2)
	s.Equal(uintptr(0), views[0].Offset)
	s.Equal(ModeReadWrite, views[0].Mode)
	s.Equal(10*s.ps, views[1].Offset)
	s.Equal(2*s.ps, views[1].FileOffset)
}

func (s *AreaTestSuite) TestDestroyWhileMappedIsBusy() {
	_, err := s.area.Map(s.mem, 0, 0, s.ps, ModeRead)
	s.Require().NoError(err)
	s.ErrorIs(s.mem.Destroy(), ErrBusy)

	// closing the area drops the remaining view
	s.NoError(s.area.Close())
	s.NoError(s.area.Close())
	s.area = nil
	s.Zero(s.mem.Mappings())
}

func (s *AreaTestSuite) TestMapAfterClose() {
	s.Require().NoError(s.area.Close())
	_, err := s.area.Map(s.mem, 0, 0, s.ps, ModeRead)
	s.ErrorIs(err, ErrClosed)
	s.False(s.area.Unmap(0, s.ps))
	s.area = nil
}

func (s *AreaTestSuite) TestCloseReportsDroppedViews() {
	var unmapped []uintptr
	prev := SetObserver(ObserverFunc(func(e Event) {
		if e.Op == OpAreaUnmap {
			unmapped = append(unmapped, e.Size)
		}
	}))
	defer SetObserver(prev)

	_, err := s.area.Map(s.mem, 0, 0, 4*s.ps, ModeReadWrite)
	s.Require().NoError(err)
	_, err = s.area.Map(s.mem, 0, 8*s.ps, s.ps, ModeRead)
	s.Require().NoError(err)
	s.Require().NoError(s.area.Close())
	s.area = nil

	s.ElementsMatch([]uintptr{4 * s.ps, s.ps}, unmapped)
	s.Zero(s.mem.Mappings())
}

func (s *AreaTestSuite) TestDebugModeConsistency() {
	logging.SetDebugMode(true)
	defer logging.SetDebugMode(false)

	for i := uintptr(0); i < 8; i++ {
		_, err := s.area.Map(s.mem, 0, i*2*s.ps, s.ps, ModeRead)
		s.Require().NoError(err)
	}
	for i := uintptr(0); i < 8; i += 2 {
		s.True(s.area.Unmap(i*2*s.ps, s.ps))
	}

	s.area.mu.Lock()
	defer s.area.mu.Unlock()
	v := s.area.views[2]
	delete(s.area.views, 2)
	s.PanicsWithValue("hostsys: BUG: mapping area tree holds 4 views, index holds 3", s.area.checkConsistency)
	s.area.views[2] = v
	s.NotPanics(s.area.checkConsistency)
}

func (s *AreaTestSuite) TestConcurrentDisjointMaps() {
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			off := uintptr(i) * 4 * s.ps
			for j := 0; j < 20; j++ {
				_, err := s.area.Map(s.mem, 0, off, 2*s.ps, ModeReadWrite)
				if !s.NoError(err) {
					return
				}
				s.True(s.area.Unmap(off, 2*s.ps))
			}
		}(i)
	}
	wg.Wait()
	s.Empty(s.area.Views())
	s.Zero(s.mem.Mappings())
}

func TestAreaTestSuite(t *testing.T) {
	suite.Run(t, new(AreaTestSuite))
}
