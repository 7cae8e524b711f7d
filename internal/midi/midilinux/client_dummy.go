//go:build !linux
// +build !linux

package midilinux

import (
	"fmt"
	"runtime"

	"github.com/leandrodaf/midikit/sdk/contracts"
)

// New reports that ALSA is not available on this platform.
func New(log contracts.Logger) (contracts.Backend, error) {
	return nil, fmt.Errorf("%w: %s is not available on %s", contracts.ErrUnsupportedOS, Name, runtime.GOOS)
}
