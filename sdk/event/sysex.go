package event

import "fmt"

// SysEx is a system-exclusive message. In a file, Escape marks the 0xF7 form
// (a continuation packet or an escaped arbitrary byte sequence); otherwise the
// event was introduced by 0xF0. Data excludes the introducing status byte.
type SysEx struct {
	Data   []byte
	Escape bool
}

func (SysEx) isEvent() {}

// Bytes returns the live form: 0xF0, the payload and a closing 0xF7 unless
// the payload already ends with one. Escaped packets are returned as-is.
func (s SysEx) Bytes() []byte {
	if s.Escape {
		return append([]byte(nil), s.Data...)
	}
	out := make([]byte, 0, len(s.Data)+2)
	out = append(out, 0xF0)
	out = append(out, s.Data...)
	if len(s.Data) == 0 || s.Data[len(s.Data)-1] != 0xF7 {
		out = append(out, 0xF7)
	}
	return out
}

func (s SysEx) String() string {
	if s.Escape {
		return fmt.Sprintf("SysExEscape(% x)", s.Data)
	}
	return fmt.Sprintf("SysEx(% x)", s.Data)
}

// System status bytes for live system common and real-time messages.
const (
	StatusMTCQuarterFrame = 0xF1
	StatusSongPosition    = 0xF2
	StatusSongSelect      = 0xF3
	StatusTuneRequest     = 0xF6
	StatusTimingClock     = 0xF8
	StatusStart           = 0xFA
	StatusContinue        = 0xFB
	StatusStop            = 0xFC
	StatusActiveSensing   = 0xFE
	StatusSystemReset     = 0xFF
)

// System is a live-only system common or real-time message. It never appears
// inside an SMF track.
type System struct {
	Status byte
	Data   []byte
}

func (System) isEvent() {}

// Bytes returns the status byte followed by the data bytes.
func (s System) Bytes() []byte {
	return append([]byte{s.Status}, s.Data...)
}

func (s System) String() string {
	switch s.Status {
	case StatusTimingClock:
		return "TimingClock"
	case StatusStart:
		return "Start"
	case StatusContinue:
		return "Continue"
	case StatusStop:
		return "Stop"
	case StatusActiveSensing:
		return "ActiveSensing"
	case StatusSystemReset:
		return "SystemReset"
	case StatusTuneRequest:
		return "TuneRequest"
	}
	return fmt.Sprintf("System(%#02x % x)", s.Status, s.Data)
}

// IsRealtime reports a single-byte real-time message (0xF8..0xFF).
func (s System) IsRealtime() bool {
	return s.Status >= StatusTimingClock
}

// systemDataLen returns the data length of a system common status byte, or
// -1 if the status is undefined.
func systemDataLen(status byte) int {
	switch status {
	case StatusMTCQuarterFrame, StatusSongSelect:
		return 1
	case StatusSongPosition:
		return 2
	case StatusTuneRequest, StatusTimingClock, StatusStart, StatusContinue,
		StatusStop, StatusActiveSensing, StatusSystemReset:
		return 0
	}
	return -1
}
