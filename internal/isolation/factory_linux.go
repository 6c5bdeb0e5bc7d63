//go:build linux

package isolation

// NewIsolator returns the platform-appropriate Isolator.
// On Linux, this is ProcessGroupIsolator.
func NewIsolator() (Isolator, error) {
	return NewProcessGroupIsolator(), nil
}
