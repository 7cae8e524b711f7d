package midi

import (
	"fmt"
	"runtime"

	"github.com/leandrodaf/midikit/internal/midi/mididarwin"
	"github.com/leandrodaf/midikit/internal/midi/midilinux"
	"github.com/leandrodaf/midikit/internal/midi/midiloop"
	"github.com/leandrodaf/midikit/internal/midi/midiwindows"
	"github.com/leandrodaf/midikit/sdk/contracts"
)

// ErrUnsupportedOS is returned when the operating system is not supported by the MIDI client.
var ErrUnsupportedOS = contracts.ErrUnsupportedOS

// backendInitializers maps OS names to the backend for that system.
var backendInitializers = map[string]func(contracts.Logger) (contracts.Backend, error){
	"darwin":  mididarwin.New,  // CoreMIDI
	"linux":   midilinux.New,   // ALSA rawmidi
	"windows": midiwindows.New, // Windows multimedia API
}

// NewBackend returns opts.Backend when set, otherwise the backend of the
// current operating system. It returns ErrUnsupportedOS when there is none.
func NewBackend(opts *contracts.ClientOptions) (contracts.Backend, error) {
	if opts.Backend != nil {
		return opts.Backend, nil
	}
	if initializer, exists := backendInitializers[runtime.GOOS]; exists {
		return initializer(opts.Logger)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedOS, runtime.GOOS)
}

// NewLoopback returns an in-memory backend with one cable per name. Bytes
// sent to output i arrive on input i; Inject feeds an input directly.
// Pass it to WithBackend.
func NewLoopback(log contracts.Logger, names ...string) *midiloop.Backend {
	return midiloop.New(log, names...)
}
