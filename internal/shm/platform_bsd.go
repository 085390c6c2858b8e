//go:build darwin || dragonfly || freebsd || netbsd || openbsd

package shm

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

var seq atomic.Uint64

func create(opts Options) (*Object, error) {
	name := opts.Name
	if name == "" {
		name = "hostsys-anon"
	}
	path := filepath.Join(os.TempDir(), name+"."+strconv.Itoa(os.Getpid())+"."+strconv.FormatUint(seq.Add(1), 10))
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CREAT|unix.O_EXCL|unix.O_CLOEXEC, 0600)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	_ = unix.Unlink(path)
	if err := unix.Ftruncate(fd, opts.Size); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("ftruncate: %w", err)
	}
	return &Object{Fd: fd, Name: opts.Name, Size: opts.Size}, nil
}

func closeFd(fd int) error {
	return unix.Close(fd)
}
