//go:build linux

package threading

import (
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// semImpl is an eventfd in semaphore mode: each read takes one unit.
type semImpl struct {
	fd int
}

func newSemImpl() (semImpl, error) {
	fd, err := unix.Eventfd(0, unix.EFD_SEMAPHORE|unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return semImpl{fd: -1}, fmt.Errorf("eventfd: %w", err)
	}
	return semImpl{fd: fd}, nil
}

func (s *semImpl) post() {
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	for {
		_, err := unix.Write(s.fd, buf[:])
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			logger.Errorf("semaphore post on fd %d failed: %v", s.fd, err)
		}
		return
	}
}

func (s *semImpl) tryWait() bool {
	var buf [8]byte
	for {
		_, err := unix.Read(s.fd, buf[:])
		switch {
		case err == nil:
			return true
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			return false
		}
		logger.Errorf("semaphore wait on fd %d failed: %v", s.fd, err)
		return false
	}
}

func (s *semImpl) wait() {
	fds := []unix.PollFd{{Fd: int32(s.fd), Events: unix.POLLIN}}
	for !s.tryWait() {
		// another waiter may take the unit between poll and read
		if _, err := unix.Poll(fds, -1); err != nil && !errors.Is(err, unix.EINTR) {
			panic(fmt.Sprintf("threading: semaphore poll on fd %d: %v", s.fd, err))
		}
	}
}

func (s *semImpl) close() error {
	if s.fd < 0 {
		return nil
	}
	err := unix.Close(s.fd)
	s.fd = -1
	if err != nil {
		return fmt.Errorf("close eventfd: %w", err)
	}
	return nil
}
