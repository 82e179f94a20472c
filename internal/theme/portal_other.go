//go:build !linux

package theme

import "fmt"

// NewOSSignalSource is only wired for Linux session buses; other platforms
// fall back to the static source.
func NewOSSignalSource() (SignalSource, error) {
	return nil, fmt.Errorf("no OS appearance source on this platform")
}
