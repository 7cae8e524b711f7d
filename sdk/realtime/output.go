package realtime

import (
	"github.com/leandrodaf/midikit/sdk/contracts"
	"github.com/leandrodaf/midikit/sdk/event"
	"go.uber.org/multierr"
)

// Controller numbers of the channel mode messages sent by Output.
const (
	ControllerAllSoundOff = 120
	ControllerAllNotesOff = 123
)

// Output adds channel-voice helpers to a Sender. Arguments are validated
// before anything is sent.
type Output struct {
	contracts.Sender
}

// NewOutput wraps s.
func NewOutput(s contracts.Sender) *Output {
	return &Output{Sender: s}
}

func (o *Output) send(cv event.ChannelVoice) error {
	if err := cv.Validate(); err != nil {
		return err
	}
	return o.Send(cv.Bytes())
}

func (o *Output) NoteOn(channel, key, velocity uint8) error {
	return o.send(event.NoteOn(channel, key, velocity))
}

func (o *Output) NoteOff(channel, key, velocity uint8) error {
	return o.send(event.NoteOff(channel, key, velocity))
}

func (o *Output) ControlChange(channel, controller, value uint8) error {
	return o.send(event.ControlChange(channel, controller, value))
}

func (o *Output) ProgramChange(channel, program uint8) error {
	return o.send(event.ProgramChange(channel, program))
}

// PitchBend sends a signed bend, -8192..8191 with 0 at the centre.
func (o *Output) PitchBend(channel uint8, value int16) error {
	return o.send(event.PitchBendSigned(channel, value))
}

// AllNotesOff sends controller 123 on one channel.
func (o *Output) AllNotesOff(channel uint8) error {
	return o.ControlChange(channel, ControllerAllNotesOff, 0)
}

// AllSoundOff sends controller 120 on one channel.
func (o *Output) AllSoundOff(channel uint8) error {
	return o.ControlChange(channel, ControllerAllSoundOff, 0)
}

// Panic sends AllSoundOff and AllNotesOff on all sixteen channels and
// returns every failure.
func (o *Output) Panic() error {
	var err error
	for ch := uint8(0); ch < 16; ch++ {
		err = multierr.Append(err, o.AllSoundOff(ch))
		err = multierr.Append(err, o.AllNotesOff(ch))
	}
	return err
}
