// Package event defines the MIDI message model shared by the SMF codec and the
// real-time layer: channel-voice messages, meta events, system-exclusive
// messages and live-only system messages.
package event

import (
	"errors"
	"fmt"
)

var (
	// ErrOutOfRange is returned when a field does not fit its wire encoding.
	ErrOutOfRange = errors.New("event: value out of range")
	// ErrInvalidStatus is returned for bytes that do not start a message.
	ErrInvalidStatus = errors.New("event: invalid status byte")
	// ErrIncomplete is returned when a raw message is shorter than its status requires.
	ErrIncomplete = errors.New("event: incomplete message")
)

// Event is one of ChannelVoice, Meta, SysEx or System.
type Event interface {
	// Bytes returns the event in its live (wire) representation. Meta events
	// return their file representation since they have no live form.
	Bytes() []byte
	String() string
	isEvent()
}

// TimedEvent pairs an event with the ticks elapsed since the previous event
// of the same track.
type TimedEvent struct {
	Delta uint32
	Event Event
}

func (te TimedEvent) String() string {
	return fmt.Sprintf("+%d %s", te.Delta, te.Event)
}

// IsEndOfTrack reports whether e is the End-of-Track meta event.
func IsEndOfTrack(e Event) bool {
	m, ok := e.(Meta)
	return ok && m.Type == MetaEndOfTrack
}

// Kind is the high nibble of a channel-voice status byte.
type Kind uint8

// Channel-voice kinds.
const (
	KindNoteOff         Kind = 0x80
	KindNoteOn          Kind = 0x90
	KindPolyPressure    Kind = 0xA0
	KindControlChange   Kind = 0xB0
	KindProgramChange   Kind = 0xC0
	KindChannelPressure Kind = 0xD0
	KindPitchBend       Kind = 0xE0
)

// Valid reports whether k is one of the seven channel-voice kinds.
func (k Kind) Valid() bool {
	return k >= KindNoteOff && k <= KindPitchBend && k&0x0F == 0
}

// DataLen returns the number of data bytes following the status byte.
func (k Kind) DataLen() int {
	if k == KindProgramChange || k == KindChannelPressure {
		return 1
	}
	return 2
}

func (k Kind) String() string {
	switch k {
	case KindNoteOff:
		return "NoteOff"
	case KindNoteOn:
		return "NoteOn"
	case KindPolyPressure:
		return "PolyPressure"
	case KindControlChange:
		return "ControlChange"
	case KindProgramChange:
		return "ProgramChange"
	case KindChannelPressure:
		return "ChannelPressure"
	case KindPitchBend:
		return "PitchBend"
	}
	return fmt.Sprintf("Kind(%#02x)", uint8(k))
}

// ChannelVoice is a channel-voice message. Data2 is unused for kinds with a
// single data byte. PitchBend carries its 14-bit value LSB-first across Data1
// and Data2.
type ChannelVoice struct {
	Kind    Kind
	Channel uint8
	Data1   uint8
	Data2   uint8
}

func (ChannelVoice) isEvent() {}

// Status returns the status byte.
func (c ChannelVoice) Status() byte {
	return byte(c.Kind) | c.Channel&0x0F
}

// Validate checks that every field fits its 4- or 7-bit slot.
func (c ChannelVoice) Validate() error {
	if !c.Kind.Valid() {
		return fmt.Errorf("%w: kind %#02x", ErrOutOfRange, uint8(c.Kind))
	}
	if c.Channel > 15 {
		return fmt.Errorf("%w: channel %d", ErrOutOfRange, c.Channel)
	}
	if c.Data1 > 0x7F {
		return fmt.Errorf("%w: %s data1 %d", ErrOutOfRange, c.Kind, c.Data1)
	}
	if c.Kind.DataLen() == 2 && c.Data2 > 0x7F {
		return fmt.Errorf("%w: %s data2 %d", ErrOutOfRange, c.Kind, c.Data2)
	}
	return nil
}

// Bytes returns the status byte followed by the data bytes.
func (c ChannelVoice) Bytes() []byte {
	if c.Kind.DataLen() == 1 {
		return []byte{c.Status(), c.Data1}
	}
	return []byte{c.Status(), c.Data1, c.Data2}
}

// PitchBendValue returns the 14-bit bend value (0x2000 is centre).
func (c ChannelVoice) PitchBendValue() uint16 {
	return uint16(c.Data1&0x7F) | uint16(c.Data2&0x7F)<<7
}

// IsNoteOn reports a NoteOn with non-zero velocity.
func (c ChannelVoice) IsNoteOn() bool {
	return c.Kind == KindNoteOn && c.Data2 > 0
}

// IsNoteOff reports a NoteOff or a NoteOn with zero velocity.
func (c ChannelVoice) IsNoteOff() bool {
	return c.Kind == KindNoteOff || (c.Kind == KindNoteOn && c.Data2 == 0)
}

func (c ChannelVoice) String() string {
	switch c.Kind {
	case KindNoteOn, KindNoteOff:
		return fmt.Sprintf("%s(ch=%d, key=%d, vel=%d)", c.Kind, c.Channel, c.Data1, c.Data2)
	case KindControlChange:
		return fmt.Sprintf("CC(ch=%d, cc=%d, val=%d)", c.Channel, c.Data1, c.Data2)
	case KindPitchBend:
		return fmt.Sprintf("PitchBend(ch=%d, val=%d)", c.Channel, c.PitchBendValue())
	case KindProgramChange, KindChannelPressure:
		return fmt.Sprintf("%s(ch=%d, %d)", c.Kind, c.Channel, c.Data1)
	}
	return fmt.Sprintf("%s(ch=%d, %d, %d)", c.Kind, c.Channel, c.Data1, c.Data2)
}

// NoteOn builds a NoteOn message.
func NoteOn(channel, key, velocity uint8) ChannelVoice {
	return ChannelVoice{Kind: KindNoteOn, Channel: channel, Data1: key, Data2: velocity}
}

// NoteOff builds a NoteOff message.
func NoteOff(channel, key, velocity uint8) ChannelVoice {
	return ChannelVoice{Kind: KindNoteOff, Channel: channel, Data1: key, Data2: velocity}
}

// PolyPressure builds a polyphonic key pressure message.
func PolyPressure(channel, key, pressure uint8) ChannelVoice {
	return ChannelVoice{Kind: KindPolyPressure, Channel: channel, Data1: key, Data2: pressure}
}

// ControlChange builds a control change message.
func ControlChange(channel, controller, value uint8) ChannelVoice {
	return ChannelVoice{Kind: KindControlChange, Channel: channel, Data1: controller, Data2: value}
}

// ProgramChange builds a program change message.
func ProgramChange(channel, program uint8) ChannelVoice {
	return ChannelVoice{Kind: KindProgramChange, Channel: channel, Data1: program}
}

// ChannelPressure builds a channel pressure message.
func ChannelPressure(channel, pressure uint8) ChannelVoice {
	return ChannelVoice{Kind: KindChannelPressure, Channel: channel, Data1: pressure}
}

// PitchBend builds a pitch bend message from a 14-bit value. A value above
// 0x3FFF leaves Data2 out of range so Validate rejects it.
func PitchBend(channel uint8, value uint16) ChannelVoice {
	msb := uint8(value >> 7)
	if value > 0x3FFF {
		msb = 0xFF
	}
	return ChannelVoice{
		Kind:    KindPitchBend,
		Channel: channel,
		Data1:   uint8(value & 0x7F),
		Data2:   msb,
	}
}

// PitchBendSigned builds a pitch bend from a signed offset around centre,
// clamped to -8192..8191.
func PitchBendSigned(channel uint8, value int16) ChannelVoice {
	v := int32(value) + 0x2000
	if v < 0 {
		v = 0
	}
	if v > 0x3FFF {
		v = 0x3FFF
	}
	return PitchBend(channel, uint16(v))
}
