// Package smf reads and writes Standard MIDI Files.
//
// Read and Write are pure functions over byte slices: Read never mutates its
// input and Write validates the whole file before producing any output.
package smf

import (
	"fmt"

	"github.com/leandrodaf/midikit/sdk/event"
	"github.com/leandrodaf/midikit/sdk/vlq"
	"github.com/pkg/errors"
)

// Format is the SMF header format field.
type Format uint16

const (
	// FormatSingleTrack holds exactly one track.
	FormatSingleTrack Format = 0
	// FormatMultiTrack holds simultaneous tracks sharing one timeline.
	FormatMultiTrack Format = 1
	// FormatMultiSequence holds independent single-track sequences.
	FormatMultiSequence Format = 2
)

func (f Format) String() string {
	switch f {
	case FormatSingleTrack:
		return "single-track"
	case FormatMultiTrack:
		return "multi-track"
	case FormatMultiSequence:
		return "multi-sequence"
	}
	return fmt.Sprintf("Format(%d)", uint16(f))
}

// Division is the raw header division field. With the top bit clear it is a
// number of ticks per quarter note; with it set the high byte is a negative
// SMPTE frame rate and the low byte the ticks per frame.
type Division uint16

// Metric returns a ticks-per-quarter-note division.
func Metric(ticksPerQuarter uint16) Division {
	return Division(ticksPerQuarter & 0x7FFF)
}

// SMPTE returns a frame-based division. fps is the positive frame rate code
// (24, 25, 29 or 30).
func SMPTE(fps, ticksPerFrame uint8) Division {
	return Division(uint16(uint8(-int8(fps)))<<8 | uint16(ticksPerFrame))
}

// IsSMPTE reports a frame-based division.
func (d Division) IsSMPTE() bool {
	return d&0x8000 != 0
}

// TicksPerQuarter returns the ticks per quarter note, or 0 for SMPTE.
func (d Division) TicksPerQuarter() uint16 {
	if d.IsSMPTE() {
		return 0
	}
	return uint16(d)
}

// SMPTE returns the frame rate code and ticks per frame, or zeros for a
// metric division.
func (d Division) SMPTE() (fps, ticksPerFrame uint8) {
	if !d.IsSMPTE() {
		return 0, 0
	}
	return uint8(-int8(d >> 8)), uint8(d & 0xFF)
}

func (d Division) String() string {
	if d.IsSMPTE() {
		fps, tpf := d.SMPTE()
		return fmt.Sprintf("%d fps, %d ticks per frame", fps, tpf)
	}
	return fmt.Sprintf("%d ticks per quarter note", uint16(d))
}

// File is a decoded Standard MIDI File.
type File struct {
	Format   Format
	Division Division
	Tracks   []Track

	// Warnings lists irregularities tolerated by Read. Write ignores it.
	Warnings []Warning
}

// New returns an empty file.
func New(format Format, division Division) *File {
	return &File{Format: format, Division: division}
}

// AddTrack appends t and returns its index.
func (f *File) AddTrack(t Track) int {
	f.Tracks = append(f.Tracks, t)
	return len(f.Tracks) - 1
}

// Validate reports whether Write can encode f.
func (f *File) Validate() error {
	if err := validateHeader(f.Format, len(f.Tracks), f.Division); err != nil {
		return err
	}
	for i, t := range f.Tracks {
		if err := t.Validate(); err != nil {
			return errors.Wrapf(err, "track %d", i)
		}
	}
	return nil
}

func validateHeader(format Format, tracks int, division Division) error {
	if format > FormatMultiSequence {
		return errors.Wrapf(ErrBadHeader, "format %d", uint16(format))
	}
	if format == FormatSingleTrack && tracks != 1 {
		return errors.Wrapf(ErrBadHeader, "format 0 with %d tracks", tracks)
	}
	if tracks > 0xFFFF {
		return errors.Wrapf(ErrBadHeader, "%d tracks", tracks)
	}
	if division == 0 {
		return errors.Wrap(ErrBadHeader, "zero division")
	}
	return nil
}

// Validate checks every event of t against its wire encoding and the
// End-of-Track placement rule.
func (t Track) Validate() error {
	for i, te := range t {
		if te.Delta > vlq.Max {
			return errors.Wrapf(ErrEventOutOfRange, "event %d: delta %d", i, te.Delta)
		}
		switch ev := te.Event.(type) {
		case event.ChannelVoice:
			if err := ev.Validate(); err != nil {
				return errors.Wrapf(ErrEventOutOfRange, "event %d: %v", i, err)
			}
		case event.Meta:
			if len(ev.Data) > vlq.Max {
				return errors.Wrapf(ErrEventOutOfRange, "event %d: meta payload of %d bytes", i, len(ev.Data))
			}
			if ev.Type == event.MetaEndOfTrack {
				if len(ev.Data) != 0 {
					return errors.Wrapf(ErrEventOutOfRange, "event %d: end-of-track with payload", i)
				}
				if i != len(t)-1 {
					return errors.Wrapf(ErrEventOutOfRange, "event %d: end-of-track before last event", i)
				}
			}
		case event.SysEx:
			if len(ev.Data) > vlq.Max {
				return errors.Wrapf(ErrEventOutOfRange, "event %d: sysex payload of %d bytes", i, len(ev.Data))
			}
		case nil:
			return errors.Wrapf(ErrEventOutOfRange, "event %d: nil event", i)
		default:
			return errors.Wrapf(ErrEventOutOfRange, "event %d: %s cannot be stored in a file", i, ev)
		}
	}
	return nil
}
