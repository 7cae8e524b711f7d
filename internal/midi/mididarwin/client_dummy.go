//go:build !darwin
// +build !darwin

package mididarwin

import (
	"fmt"
	"runtime"

	"github.com/leandrodaf/midikit/sdk/contracts"
)

// New reports that CoreMIDI is not available on this platform.
func New(log contracts.Logger) (contracts.Backend, error) {
	return nil, fmt.Errorf("%w: %s is not available on %s", contracts.ErrUnsupportedOS, Name, runtime.GOOS)
}
