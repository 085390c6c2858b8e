package threading

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/srediag/hostsys/api"
)

var _ api.Semaphore = (*KernelSemaphore)(nil)

type SemaphoreTestSuite struct {
	suite.Suite
	sem *KernelSemaphore
}

func (s *SemaphoreTestSuite) SetupTest() {
	sem, err := NewKernelSemaphore()
	s.Require().NoError(err)
	s.sem = sem
}

func (s *SemaphoreTestSuite) TearDownTest() {
	s.NoError(s.sem.Close())
}

func (s *SemaphoreTestSuite) TestTryWaitEmpty() {
	s.False(s.sem.TryWait())
	s.sem.Post()
	s.True(s.sem.TryWait())
	s.False(s.sem.TryWait())
}

func (s *SemaphoreTestSuite) TestPostsThenWaits() {
	const n = 32
	for i := 0; i < n; i++ {
		s.sem.Post()
	}
	for i := 0; i < n; i++ {
		s.sem.Wait()
	}

	var woke atomic.Bool
	done := make(chan struct{})
	go func() {
		s.sem.Wait()
		woke.Store(true)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	s.False(woke.Load(), "wait past the count must block")

	s.sem.Post()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		s.Fail("waiter not woken by post")
	}
	s.True(woke.Load())
}

func (s *SemaphoreTestSuite) TestFramePacing() {
	const frames = 200
	vsync, err := NewKernelSemaphore()
	s.Require().NoError(err)
	defer vsync.Close()

	var produced atomic.Int32
	cpu := StartThread(func() {
		for i := 0; i < frames; i++ {
			produced.Add(1)
			s.sem.Post()
			vsync.Wait()
		}
	})
	for i := 0; i < frames; i++ {
		s.sem.Wait()
		s.LessOrEqual(produced.Load(), int32(i+1))
		vsync.Post()
	}
	cpu.Join()
	s.Equal(int32(frames), produced.Load())
}

func (s *SemaphoreTestSuite) TestManyWaiters() {
	const waiters = 8
	var wg sync.WaitGroup
	var taken atomic.Int32
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.sem.Wait()
			taken.Add(1)
		}()
	}
	for i := 0; i < waiters; i++ {
		s.sem.Post()
	}
	wg.Wait()
	s.Equal(int32(waiters), taken.Load())
	s.False(s.sem.TryWait())
}

func TestSemaphoreTestSuite(t *testing.T) {
	suite.Run(t, new(SemaphoreTestSuite))
}
