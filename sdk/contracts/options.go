package contracts

// MIDICommand is a status value used for input filtering. Channel-voice
// commands match any channel.
type MIDICommand byte

const (
	// NoteOff is the MIDI command for a Note Off event (0x80).
	NoteOff MIDICommand = 0x80
	// NoteOn is the MIDI command for a Note On event (0x90).
	NoteOn MIDICommand = 0x90
	// PolyPressure is the polyphonic key pressure command (0xA0).
	PolyPressure MIDICommand = 0xA0
	// ControlChange is the control change command (0xB0).
	ControlChange MIDICommand = 0xB0
	// ProgramChange is the program change command (0xC0).
	ProgramChange MIDICommand = 0xC0
	// ChannelPressure is the channel pressure command (0xD0).
	ChannelPressure MIDICommand = 0xD0
	// PitchBend is the pitch bend command (0xE0).
	PitchBend MIDICommand = 0xE0
	// SysEx matches system exclusive messages (0xF0).
	SysEx MIDICommand = 0xF0
)

// MIDIEventFilter allows users to specify which MIDI commands to capture.
type MIDIEventFilter struct {
	Commands []MIDICommand // List of MIDI commands to accept. Empty accepts all.
}

// Allows reports whether a message with the given status byte passes.
func (f *MIDIEventFilter) Allows(status byte) bool {
	if f == nil || len(f.Commands) == 0 {
		return true
	}
	cmd := MIDICommand(status)
	if status < 0xF0 {
		cmd = MIDICommand(status & 0xF0)
	}
	for _, c := range f.Commands {
		if c == cmd {
			return true
		}
	}
	return false
}

// CoreMIDIConfig holds configuration for CoreMIDI.
type CoreMIDIConfig struct {
	ClientName string // Name of the MIDI client.
}

// IgnoreConfig selects message classes dropped before they reach a queue.
type IgnoreConfig struct {
	SysEx         bool // System exclusive dumps.
	Timing        bool // Timing clock and MTC quarter frames.
	ActiveSensing bool // Active sensing keep-alives.
}

// DefaultQueueSize is the per-port queue capacity used when none is set.
const DefaultQueueSize = 100

// DefaultClientName names the client towards the platform MIDI service.
const DefaultClientName = "GO MIDI Client"

// ClientOptions defines the configuration options for the MIDI client.
type ClientOptions struct {
	Logger          Logger           // Logger for logging events and errors.
	LogLevel        LogLevel         // Level of logging to use.
	LogFilePath     string           // File path for logging if file logging is enabled.
	MIDIEventFilter *MIDIEventFilter // Optional filter for MIDI events to capture.
	CoreMIDIConfig  *CoreMIDIConfig  // Deprecated: use ClientName.
	ClientName      string           // Client name announced to the platform.
	QueueSize       int              // Capacity of every input queue.
	Ignore          *IgnoreConfig    // Message classes dropped on input.
	Backend         Backend          // Overrides the compiled-in backend.
}

// Option is a function that modifies ClientOptions.
type Option func(*ClientOptions)

// WithLogger sets the logger for the MIDI client.
func WithLogger(l Logger) Option {
	return func(opts *ClientOptions) {
		opts.Logger = l
	}
}

// WithLogLevel sets the logging level for the MIDI client.
func WithLogLevel(level LogLevel) Option {
	return func(opts *ClientOptions) {
		opts.LogLevel = level
	}
}

// WithLogFilePath sends log output to a file instead of the console.
func WithLogFilePath(path string) Option {
	return func(opts *ClientOptions) {
		opts.LogFilePath = path
	}
}

// WithMIDIEventFilter sets the MIDI event filter for the MIDI client.
func WithMIDIEventFilter(filter MIDIEventFilter) Option {
	return func(opts *ClientOptions) {
		opts.MIDIEventFilter = &filter
	}
}

// WithCoreMIDIConfig sets the CoreMIDI configuration for the MIDI client.
//
// Deprecated: use WithClientName, which applies to every backend.
func WithCoreMIDIConfig(config CoreMIDIConfig) Option {
	return func(opts *ClientOptions) {
		opts.CoreMIDIConfig = &config
	}
}

// WithClientName sets the client name announced to the platform.
func WithClientName(name string) Option {
	return func(opts *ClientOptions) {
		opts.ClientName = name
	}
}

// WithQueueSize sets the capacity of every input queue.
func WithQueueSize(n int) Option {
	return func(opts *ClientOptions) {
		opts.QueueSize = n
	}
}

// WithIgnore selects which message classes are dropped on input. By default
// timing and active sensing are ignored and SysEx is kept.
func WithIgnore(sysex, timing, activeSensing bool) Option {
	return func(opts *ClientOptions) {
		opts.Ignore = &IgnoreConfig{SysEx: sysex, Timing: timing, ActiveSensing: activeSensing}
	}
}

// WithBackend replaces the compiled-in backend, typically with a loopback
// backend in tests.
func WithBackend(b Backend) Option {
	return func(opts *ClientOptions) {
		opts.Backend = b
	}
}
