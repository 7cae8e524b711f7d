// Package midi creates MIDI clients bound to the platform backend.
package midi

import (
	"github.com/leandrodaf/midikit/sdk/contracts"
	"github.com/leandrodaf/midikit/sdk/realtime"
)

// NewMIDIClient creates a new MIDI client with the specified options.
// It applies default options and initializes the client.
//
// opts ...contracts.Option: A variadic list of option functions to customize the client configuration.
//
// Returns:
//   - contracts.ClientMIDI: An instance of the MIDI client.
//   - error: ErrUnsupportedOS when no backend exists for this system, or the backend's error.
func NewMIDIClient(opts ...contracts.Option) (contracts.ClientMIDI, error) {
	options, err := applyDefaultOptions(opts...)
	if err != nil {
		return nil, err
	}

	backend, err := NewBackend(&options)
	if err != nil {
		options.Logger.Error("Failed to initialize MIDI backend", options.Logger.Field().Error("error", err))
		return nil, err
	}
	options.Logger.Info("MIDI client created", options.Logger.Field().String("backend", backend.Name()))

	return realtime.NewDispatcher(backend, &options), nil
}
