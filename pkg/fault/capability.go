//go:build !(js || wasip1)

package fault

import "github.com/srediag/hostsys/pkg/hostsys"

// hostCapability requires page protection, since a handler can only fix up a
// fault by changing it.
func hostCapability() error {
	if !hostsys.CanReprotect() {
		return ErrUnsupported
	}
	return nil
}
