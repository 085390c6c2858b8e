//go:build linux

package shm

import (
	"errors"
	"fmt"
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
	fd, err := unix.MemfdCreate(name, unix.MFD_CLOEXEC)
	if errors.Is(err, unix.ENOSYS) {
		fd, err = openDevShm(name)
	}
	if err != nil {
		return nil, fmt.Errorf("memfd_create: %w", err)
	}
	if err := unix.Ftruncate(fd, opts.Size); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("ftruncate: %w", err)
	}
	return &Object{Fd: fd, Name: opts.Name, Size: opts.Size}, nil
}

// openDevShm is used on kernels older than 3.17.
func openDevShm(name string) (int, error) {
	shmPath := filepath.Join("/dev/shm", name+"."+strconv.FormatUint(seq.Add(1), 10))
	fd, err := unix.Open(shmPath, unix.O_RDWR|unix.O_CREAT|unix.O_EXCL|unix.O_CLOEXEC, 0600)
	if err != nil {
		return -1, fmt.Errorf("open: %w", err)
	}
	_ = unix.Unlink(shmPath)
	return fd, nil
}

func closeFd(fd int) error {
	return unix.Close(fd)
}
