package event

import (
	"fmt"

	gomidi "gitlab.com/gomidi/midi/v2"
)

// DefaultMaxSysEx bounds SysEx accumulation in a Parser.
const DefaultMaxSysEx = 64 * 1024

// Parse decodes one complete live message: a channel-voice message, a SysEx
// framed by 0xF0 and 0xF7, or a system common/real-time message.
func Parse(raw []byte) (Event, error) {
	if len(raw) == 0 {
		return nil, ErrIncomplete
	}
	status := raw[0]
	switch {
	case status < 0x80:
		return nil, fmt.Errorf("%w: %#02x", ErrInvalidStatus, status)
	case status < 0xF0:
		cv := ChannelVoice{Kind: Kind(status & 0xF0), Channel: status & 0x0F}
		n := cv.Kind.DataLen()
		if len(raw) < 1+n {
			return nil, fmt.Errorf("%w: %s needs %d data bytes", ErrIncomplete, cv.Kind, n)
		}
		cv.Data1 = raw[1]
		if n == 2 {
			cv.Data2 = raw[2]
		}
		return cv, cv.Validate()
	case status == 0xF0:
		if raw[len(raw)-1] != 0xF7 {
			return nil, fmt.Errorf("%w: unterminated sysex", ErrIncomplete)
		}
		return SysEx{Data: append([]byte(nil), raw[1:]...)}, nil
	}
	n := systemDataLen(status)
	if n < 0 {
		return nil, fmt.Errorf("%w: %#02x", ErrInvalidStatus, status)
	}
	if len(raw) < 1+n {
		return nil, fmt.Errorf("%w: system %#02x", ErrIncomplete, status)
	}
	return System{Status: status, Data: append([]byte(nil), raw[1:1+n]...)}, nil
}

// Describe renders a raw live message for logs.
func Describe(raw []byte) string {
	return gomidi.Message(raw).String()
}

// Parser assembles complete live messages from a MIDI byte stream as read
// from a serial-style device. It honours running status, lets real-time
// bytes interrupt other messages and accumulates SysEx up to MaxSysEx bytes.
// A Parser is not safe for concurrent use.
type Parser struct {
	MaxSysEx int

	status  byte
	need    int
	buf     []byte
	inSysEx bool
}

// NewParser returns a Parser with DefaultMaxSysEx.
func NewParser() *Parser {
	return &Parser{MaxSysEx: DefaultMaxSysEx, buf: make([]byte, 0, 3)}
}

// Feed consumes b and calls emit for every message completed by it. The
// slice passed to emit is owned by the callee.
func (p *Parser) Feed(b []byte, emit func([]byte)) {
	for _, c := range b {
		p.feedByte(c, emit)
	}
}

func (p *Parser) feedByte(c byte, emit func([]byte)) {
	switch {
	case c >= StatusTimingClock:
		// real-time bytes never disturb the message in progress
		emit([]byte{c})
		return
	case c == 0xF7 && p.inSysEx:
		p.buf = append(p.buf, c)
		emit(p.take())
		p.inSysEx = false
		p.status = 0
		return
	case c == 0xF0:
		p.buf = append(p.buf[:0], c)
		p.inSysEx = true
		p.status = 0
		return
	case c&0x80 != 0:
		p.inSysEx = false
		p.buf = p.buf[:0]
		if c >= 0xF1 {
			// system common cancels running status
			p.status = 0
			n := systemDataLen(c)
			if n < 0 {
				return
			}
			if n == 0 {
				emit([]byte{c})
				return
			}
			p.buf = append(p.buf, c)
			p.need = n
			return
		}
		p.status = c
		p.need = Kind(c & 0xF0).DataLen()
		p.buf = append(p.buf, c)
		return
	}

	if p.inSysEx {
		if p.MaxSysEx > 0 && len(p.buf) >= p.MaxSysEx {
			// drop oversized dumps rather than grow without bound
			p.inSysEx = false
			p.buf = p.buf[:0]
			return
		}
		p.buf = append(p.buf, c)
		return
	}
	if len(p.buf) == 0 {
		if p.status == 0 {
			return
		}
		p.buf = append(p.buf, p.status)
		p.need = Kind(p.status & 0xF0).DataLen()
	}
	p.buf = append(p.buf, c)
	if len(p.buf) == 1+p.need {
		emit(p.take())
	}
}

func (p *Parser) take() []byte {
	out := append([]byte(nil), p.buf...)
	p.buf = p.buf[:0]
	return out
}

// Reset drops any partial message and running status.
func (p *Parser) Reset() {
	p.status = 0
	p.need = 0
	p.inSysEx = false
	p.buf = p.buf[:0]
}
