package midi

import (
	"errors"

	"github.com/leandrodaf/midikit/internal/logger"
	"github.com/leandrodaf/midikit/sdk/contracts"
)

// applyDefaultOptions sets default values for ClientOptions if not explicitly provided.
//
// opts ...contracts.Option: A variadic list of option functions that can modify ClientOptions.
//
// Returns:
//   - contracts.ClientOptions: A structure containing the finalized client options with defaults applied.
//   - error: An error if there was an issue applying the options.
func applyDefaultOptions(opts ...contracts.Option) (contracts.ClientOptions, error) {
	options := &contracts.ClientOptions{}
	for _, opt := range opts {
		opt(options)
	}

	if options.QueueSize < 0 {
		return contracts.ClientOptions{}, errors.New("queue size must not be negative")
	}

	// Set defaults if options are not provided
	if options.Logger == nil {
		options.Logger = logger.NewZapLogger()
	}
	if options.LogFilePath != "" {
		options.Logger.SetDestination(contracts.FileLog, options.LogFilePath)
	}
	if options.ClientName == "" {
		options.ClientName = contracts.DefaultClientName
		if options.CoreMIDIConfig != nil && options.CoreMIDIConfig.ClientName != "" {
			options.ClientName = options.CoreMIDIConfig.ClientName
		}
	}
	if options.QueueSize == 0 {
		options.QueueSize = contracts.DefaultQueueSize
	}
	if options.Ignore == nil {
		options.Ignore = &contracts.IgnoreConfig{Timing: true, ActiveSensing: true}
	}

	options.Logger.SetLevel(options.LogLevel) // InfoLevel is the zero value
	return *options, nil
}
