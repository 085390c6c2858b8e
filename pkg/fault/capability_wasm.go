//go:build js || wasip1

package fault

import "fmt"

func hostCapability() error {
	return fmt.Errorf("%w: no signal delivery on this target", ErrUnsupported)
}
