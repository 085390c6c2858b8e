package hostsys

import (
	"errors"

	"github.com/srediag/hostsys/internal/shm"
	"github.com/srediag/hostsys/internal/vm"
)

var (
	// ErrUnsupported reports that the host lacks the capability. Callers fall back.
	ErrUnsupported = vm.ErrUnsupported
	// ErrExhausted reports that the kernel ran out of memory or address space.
	ErrExhausted = vm.ErrExhausted
	// ErrFixedPlacement reports that a requested base address was not available.
	ErrFixedPlacement = vm.ErrFixedPlacement

	ErrNoAccess   = errors.New("mapping with no access requested")
	ErrOutOfRange = errors.New("range exceeds object or area bounds")
	ErrOverlap    = errors.New("range overlaps a live view")
	ErrNotMapped  = errors.New("range is not a live view")
	ErrClosed     = errors.New("object already closed")
	ErrBusy       = errors.New("shared memory still has live mappings")
)

// shmErr folds the shared memory helper's sentinel into ErrUnsupported.
func shmErr(err error) error {
	if errors.Is(err, shm.ErrUnsupported) {
		return ErrUnsupported
	}
	return err
}
