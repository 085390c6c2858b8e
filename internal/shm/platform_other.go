//go:build !(darwin || dragonfly || freebsd || linux || netbsd || openbsd)

package shm

func create(opts Options) (*Object, error) {
	return nil, ErrUnsupported
}

func closeFd(fd int) error {
	return nil
}
