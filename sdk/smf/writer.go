package smf

import (
	"bytes"
	"encoding/binary"
	"io"
	"os"

	"github.com/leandrodaf/midikit/sdk/event"
	"github.com/leandrodaf/midikit/sdk/vlq"
	"github.com/pkg/errors"
)

type writeConfig struct {
	runningStatus bool
}

// WriteOption configures Write.
type WriteOption func(*writeConfig)

// WithRunningStatus controls running-status compression of channel-voice
// events. It is enabled by default.
func WithRunningStatus(enabled bool) WriteOption {
	return func(c *writeConfig) {
		c.runningStatus = enabled
	}
}

// Write encodes f. Tracks lacking a final End-of-Track get one appended in
// the output; f itself is not modified.
func Write(f *File, opts ...WriteOption) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := WriteTo(&buf, f, opts...); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteTo encodes f to w. Nothing is written unless the whole file is valid.
func WriteTo(w io.Writer, f *File, opts ...WriteOption) (int64, error) {
	cfg := writeConfig{runningStatus: true}
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := f.Validate(); err != nil {
		return 0, err
	}

	var out bytes.Buffer
	out.WriteString(headerID)
	writeUint32(&out, headerSize)
	writeUint16(&out, uint16(f.Format))
	writeUint16(&out, uint16(len(f.Tracks)))
	writeUint16(&out, uint16(f.Division))

	var body bytes.Buffer
	for _, t := range f.Tracks {
		body.Reset()
		encodeTrack(&body, t, cfg)
		if uint64(body.Len()) > 0xFFFFFFFF {
			return 0, errors.Wrapf(ErrEventOutOfRange, "track body of %d bytes", body.Len())
		}
		out.WriteString(trackID)
		writeUint32(&out, uint32(body.Len()))
		body.WriteTo(&out)
	}
	return out.WriteTo(w)
}

// WriteFile encodes f and writes it to path.
func WriteFile(path string, f *File, opts ...WriteOption) error {
	data, err := Write(f, opts...)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// encodeTrack writes a validated track body.
func encodeTrack(buf *bytes.Buffer, t Track, cfg writeConfig) {
	var (
		scratch [vlq.MaxLen]byte
		running byte
	)
	putVLQ := func(n uint32) {
		b, _ := vlq.Append(scratch[:0], n)
		buf.Write(b)
	}
	for _, te := range t {
		putVLQ(te.Delta)
		switch ev := te.Event.(type) {
		case event.ChannelVoice:
			st := ev.Status()
			if !cfg.runningStatus || st != running {
				buf.WriteByte(st)
			}
			running = st
			buf.WriteByte(ev.Data1)
			if ev.Kind.DataLen() == 2 {
				buf.WriteByte(ev.Data2)
			}
		case event.Meta:
			running = 0
			buf.WriteByte(0xFF)
			buf.WriteByte(byte(ev.Type))
			putVLQ(uint32(len(ev.Data)))
			buf.Write(ev.Data)
		case event.SysEx:
			running = 0
			if ev.Escape {
				buf.WriteByte(0xF7)
			} else {
				buf.WriteByte(0xF0)
			}
			putVLQ(uint32(len(ev.Data)))
			buf.Write(ev.Data)
		}
	}
	if !t.HasEndOfTrack() {
		buf.Write([]byte{0x00, 0xFF, byte(event.MetaEndOfTrack), 0x00})
	}
}

func writeUint16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}
