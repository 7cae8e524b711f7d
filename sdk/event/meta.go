package event

import (
	"fmt"
	"math"
	"math/bits"
	"unicode/utf8"

	"github.com/leandrodaf/midikit/sdk/vlq"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"
)

// MetaType is the type byte of a meta event.
type MetaType uint8

// Meta event types.
const (
	MetaSequenceNumber    MetaType = 0x00
	MetaText              MetaType = 0x01
	MetaCopyright         MetaType = 0x02
	MetaTrackName         MetaType = 0x03
	MetaInstrumentName    MetaType = 0x04
	MetaLyric             MetaType = 0x05
	MetaMarker            MetaType = 0x06
	MetaCuePoint          MetaType = 0x07
	MetaProgramName       MetaType = 0x08
	MetaDeviceName        MetaType = 0x09
	MetaChannelPrefix     MetaType = 0x20
	MetaPort              MetaType = 0x21
	MetaEndOfTrack        MetaType = 0x2F
	MetaSetTempo          MetaType = 0x51
	MetaSMPTEOffset       MetaType = 0x54
	MetaTimeSignature     MetaType = 0x58
	MetaKeySignature      MetaType = 0x59
	MetaSequencerSpecific MetaType = 0x7F
)

// DefaultTempo is the tempo assumed before any SetTempo event (120 BPM).
const DefaultTempo = 500000

// MaxTempo is the largest tempo a SetTempo event can carry.
const MaxTempo = 0xFFFFFF

// IsText reports whether the type carries a text payload.
func (t MetaType) IsText() bool {
	return t >= MetaText && t <= MetaDeviceName
}

func (t MetaType) String() string {
	switch t {
	case MetaSequenceNumber:
		return "SequenceNumber"
	case MetaText:
		return "Text"
	case MetaCopyright:
		return "Copyright"
	case MetaTrackName:
		return "TrackName"
	case MetaInstrumentName:
		return "InstrumentName"
	case MetaLyric:
		return "Lyric"
	case MetaMarker:
		return "Marker"
	case MetaCuePoint:
		return "CuePoint"
	case MetaProgramName:
		return "ProgramName"
	case MetaDeviceName:
		return "DeviceName"
	case MetaChannelPrefix:
		return "ChannelPrefix"
	case MetaPort:
		return "Port"
	case MetaEndOfTrack:
		return "EndOfTrack"
	case MetaSetTempo:
		return "SetTempo"
	case MetaSMPTEOffset:
		return "SMPTEOffset"
	case MetaTimeSignature:
		return "TimeSignature"
	case MetaKeySignature:
		return "KeySignature"
	case MetaSequencerSpecific:
		return "SequencerSpecific"
	}
	return fmt.Sprintf("Meta(%#02x)", uint8(t))
}

// Meta is an SMF-only meta event. Types the package does not know are kept
// as opaque payloads.
type Meta struct {
	Type MetaType
	Data []byte
}

func (Meta) isEvent() {}

// Bytes returns the file encoding: 0xFF, the type byte, a VLQ length and the
// payload.
func (m Meta) Bytes() []byte {
	out := make([]byte, 0, 2+vlq.MaxLen+len(m.Data))
	out = append(out, 0xFF, byte(m.Type))
	out, _ = vlq.Append(out, uint32(len(m.Data)))
	return append(out, m.Data...)
}

func (m Meta) String() string {
	switch {
	case m.Type == MetaEndOfTrack:
		return "EndOfTrack"
	case m.Type == MetaSetTempo:
		if bpm, ok := m.BPM(); ok {
			return fmt.Sprintf("Tempo(%.2f BPM)", bpm)
		}
	case m.Type == MetaTimeSignature:
		if num, denom, _, _, ok := m.TimeSignature(); ok {
			return fmt.Sprintf("TimeSignature(%d/%d)", num, denom)
		}
	case m.Type == MetaKeySignature:
		if sf, minor, ok := m.KeySignature(); ok {
			mode := "major"
			if minor {
				mode = "minor"
			}
			return fmt.Sprintf("KeySignature(%d %s)", sf, mode)
		}
	case m.Type.IsText():
		return fmt.Sprintf("%s(%q)", m.Type, m.Text())
	}
	return fmt.Sprintf("%s(% x)", m.Type, m.Data)
}

// EndOfTrack returns the End-of-Track meta event.
func EndOfTrack() Meta {
	return Meta{Type: MetaEndOfTrack}
}

// Tempo returns a SetTempo event for the given microseconds per quarter note.
func Tempo(usPerQuarter uint32) (Meta, error) {
	if usPerQuarter == 0 || usPerQuarter > MaxTempo {
		return Meta{}, fmt.Errorf("%w: tempo %d", ErrOutOfRange, usPerQuarter)
	}
	return Meta{
		Type: MetaSetTempo,
		Data: []byte{byte(usPerQuarter >> 16), byte(usPerQuarter >> 8), byte(usPerQuarter)},
	}, nil
}

// TempoBPM returns a SetTempo event for beats per minute.
func TempoBPM(bpm float64) (Meta, error) {
	if bpm <= 0 || math.IsNaN(bpm) || math.IsInf(bpm, 0) {
		return Meta{}, fmt.Errorf("%w: bpm %v", ErrOutOfRange, bpm)
	}
	return Tempo(uint32(math.Round(60000000 / bpm)))
}

// TimeSignature returns a TimeSignature event. denominator is the written
// value (4 for x/4) and must be a power of two.
func TimeSignature(numerator, denominator, clocksPerClick, thirtySecondsPerQuarter uint8) (Meta, error) {
	if denominator == 0 || bits.OnesCount8(denominator) != 1 {
		return Meta{}, fmt.Errorf("%w: time signature denominator %d", ErrOutOfRange, denominator)
	}
	power := uint8(bits.TrailingZeros8(denominator))
	return Meta{
		Type: MetaTimeSignature,
		Data: []byte{numerator, power, clocksPerClick, thirtySecondsPerQuarter},
	}, nil
}

// KeySignature returns a KeySignature event; sharps is negative for flats.
func KeySignature(sharps int8, minor bool) (Meta, error) {
	if sharps < -7 || sharps > 7 {
		return Meta{}, fmt.Errorf("%w: key signature %d", ErrOutOfRange, sharps)
	}
	var mode byte
	if minor {
		mode = 1
	}
	return Meta{Type: MetaKeySignature, Data: []byte{byte(sharps), mode}}, nil
}

// Text returns a text-class meta event holding s verbatim.
func Text(typ MetaType, s string) Meta {
	return Meta{Type: typ, Data: []byte(s)}
}

// TextWith returns a text-class meta event with s encoded by t, for files
// expected in a legacy code page.
func TextWith(typ MetaType, s string, t transform.Transformer) (Meta, error) {
	if t == nil {
		return Text(typ, s), nil
	}
	buf, _, err := transform.Bytes(t, []byte(s))
	if err != nil {
		return Meta{}, fmt.Errorf("encoding %s text: %w", typ, err)
	}
	return Meta{Type: typ, Data: buf}, nil
}

// Tempo returns the microseconds per quarter note of a SetTempo event.
func (m Meta) Tempo() (uint32, bool) {
	if m.Type != MetaSetTempo || len(m.Data) < 3 {
		return 0, false
	}
	return uint32(m.Data[0])<<16 | uint32(m.Data[1])<<8 | uint32(m.Data[2]), true
}

// BPM returns the beats per minute of a SetTempo event.
func (m Meta) BPM() (float64, bool) {
	us, ok := m.Tempo()
	if !ok || us == 0 {
		return 0, false
	}
	return 60000000 / float64(us), true
}

// TimeSignature decodes a TimeSignature event; denominator is the written value.
func (m Meta) TimeSignature() (numerator, denominator, clocksPerClick, thirtySecondsPerQuarter uint8, ok bool) {
	if m.Type != MetaTimeSignature || len(m.Data) < 4 || m.Data[1] > 7 {
		return 0, 0, 0, 0, false
	}
	return m.Data[0], 1 << m.Data[1], m.Data[2], m.Data[3], true
}

// KeySignature decodes a KeySignature event.
func (m Meta) KeySignature() (sharps int8, minor bool, ok bool) {
	if m.Type != MetaKeySignature || len(m.Data) < 2 {
		return 0, false, false
	}
	return int8(m.Data[0]), m.Data[1] != 0, true
}

// Text returns the payload as a string. Payloads that are not valid UTF-8 are
// read as ISO-8859-1, the most common encoding of older files.
func (m Meta) Text() string {
	if utf8.Valid(m.Data) {
		return string(m.Data)
	}
	s, err := m.DecodeText(charmap.ISO8859_1.NewDecoder())
	if err != nil {
		return string(m.Data)
	}
	return s
}

// DecodeText decodes the payload with t.
func (m Meta) DecodeText(t transform.Transformer) (string, error) {
	buf, _, err := transform.Bytes(t, m.Data)
	if err != nil {
		return "", fmt.Errorf("decoding %s text: %w", m.Type, err)
	}
	return string(buf), nil
}
