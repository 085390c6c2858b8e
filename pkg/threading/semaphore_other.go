//go:build !linux

package threading

import "sync"

// semImpl is a runtime-backed counting semaphore for hosts without eventfd.
type semImpl struct {
	mu    *sync.Mutex
	cond  *sync.Cond
	count uint64
}

func newSemImpl() (semImpl, error) {
	mu := new(sync.Mutex)
	return semImpl{mu: mu, cond: sync.NewCond(mu)}, nil
}

func (s *semImpl) post() {
	s.mu.Lock()
	s.count++
	s.mu.Unlock()
	s.cond.Signal()
}

func (s *semImpl) tryWait() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.count == 0 {
		return false
	}
	s.count--
	return true
}

func (s *semImpl) wait() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.count == 0 {
		s.cond.Wait()
	}
	s.count--
}

func (s *semImpl) close() error {
	return nil
}
