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

const (
	headerID   = "MThd"
	trackID    = "MTrk"
	chunkHead  = 8
	headerSize = 6
)

// Read decodes a complete Standard MIDI File. Unknown chunks, a missing
// End-of-Track and bytes after End-of-Track are tolerated and reported in
// File.Warnings; any other irregularity is an error.
func Read(data []byte) (*File, error) {
	if len(data) < chunkHead+headerSize {
		return nil, errors.Wrapf(ErrBadHeader, "file is %d bytes", len(data))
	}
	if string(data[:4]) != headerID {
		return nil, errors.Wrapf(ErrBadHeader, "chunk id %q", data[:4])
	}
	if n := binary.BigEndian.Uint32(data[4:8]); n != headerSize {
		return nil, errors.Wrapf(ErrBadHeader, "header length %d", n)
	}
	f := &File{
		Format:   Format(binary.BigEndian.Uint16(data[8:10])),
		Division: Division(binary.BigEndian.Uint16(data[12:14])),
	}
	ntracks := int(binary.BigEndian.Uint16(data[10:12]))
	if err := validateHeader(f.Format, ntracks, f.Division); err != nil {
		return nil, err
	}
	f.Tracks = make([]Track, 0, ntracks)

	pos := chunkHead + headerSize
	for len(f.Tracks) < ntracks {
		if len(data)-pos < chunkHead {
			return nil, errors.Wrapf(ErrTruncatedChunk, "found %d of %d tracks", len(f.Tracks), ntracks)
		}
		id := string(data[pos : pos+4])
		length := int64(binary.BigEndian.Uint32(data[pos+4 : pos+8]))
		start := pos + chunkHead
		if int64(len(data)-start) < length {
			return nil, errors.Wrapf(ErrTruncatedChunk, "chunk %q at offset %d declares %d bytes, %d remain",
				id, pos, length, len(data)-start)
		}
		end := start + int(length)
		pos = end
		if id != trackID {
			f.Warnings = append(f.Warnings, Warning{
				Track: -1,
				Err:   errors.Wrapf(ErrUnknownChunkType, "chunk %q at offset %d", id, start-chunkHead),
			})
			continue
		}
		idx := len(f.Tracks)
		t, warn, err := readTrack(data[start:end])
		if err != nil {
			return nil, errors.Wrapf(err, "track %d", idx)
		}
		f.Tracks = append(f.Tracks, t)
		if warn != nil {
			f.Warnings = append(f.Warnings, Warning{Track: idx, Err: warn})
		}
	}
	return f, nil
}

// ReadFrom reads r to EOF and decodes it.
func ReadFrom(r io.Reader) (*File, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return Read(data)
}

// ReadFile decodes the file at path.
func ReadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Read(data)
}

// readTrack decodes one MTrk body. Running status is carried only across
// channel-voice events; meta and sysex events cancel it.
func readTrack(body []byte) (t Track, warn error, err error) {
	var (
		pos    int
		status byte
	)
	for pos < len(body) {
		evStart := pos
		delta, n, derr := vlq.Decode(body[pos:])
		if derr != nil {
			return nil, nil, errors.Wrapf(derr, "delta at offset %d", pos)
		}
		pos += n
		if pos >= len(body) {
			return nil, nil, errors.Wrapf(ErrTruncatedChunk, "delta at offset %d has no event", evStart)
		}

		c := body[pos]
		switch {
		case c == 0xFF:
			pos++
			if pos >= len(body) {
				return nil, nil, errors.Wrapf(ErrTruncatedChunk, "meta at offset %d has no type", evStart)
			}
			typ := event.MetaType(body[pos])
			pos++
			payload, next, perr := readPayload(body, pos, evStart)
			if perr != nil {
				return nil, nil, perr
			}
			pos = next
			status = 0
			t = append(t, event.TimedEvent{Delta: delta, Event: event.Meta{Type: typ, Data: payload}})
			if typ == event.MetaEndOfTrack {
				if pos < len(body) {
					return t, errors.Wrapf(ErrTrailingData, "%d bytes ignored", len(body)-pos), nil
				}
				return t, nil, nil
			}
			continue

		case c == 0xF0 || c == 0xF7:
			payload, next, perr := readPayload(body, pos+1, evStart)
			if perr != nil {
				return nil, nil, perr
			}
			pos = next
			status = 0
			t = append(t, event.TimedEvent{Delta: delta, Event: event.SysEx{Data: payload, Escape: c == 0xF7}})
			continue

		case c > 0xF0:
			return nil, nil, errors.Wrapf(ErrInvalidStatus, "status %#02x at offset %d", c, pos)

		case c&0x80 != 0:
			status = c
			pos++

		case status == 0:
			return nil, nil, errors.Wrapf(ErrRunningStatus, "data byte %#02x at offset %d", c, pos)
		}

		cv := event.ChannelVoice{Kind: event.Kind(status & 0xF0), Channel: status & 0x0F}
		need := cv.Kind.DataLen()
		if len(body)-pos < need {
			return nil, nil, errors.Wrapf(ErrTruncatedChunk, "%s at offset %d", cv.Kind, evStart)
		}
		for i := 0; i < need; i++ {
			if body[pos+i] > 0x7F {
				return nil, nil, errors.Wrapf(ErrEventOutOfRange, "%s data byte %#02x at offset %d",
					cv.Kind, body[pos+i], pos+i)
			}
		}
		cv.Data1 = body[pos]
		if need == 2 {
			cv.Data2 = body[pos+1]
		}
		pos += need
		t = append(t, event.TimedEvent{Delta: delta, Event: cv})
	}
	return t, ErrMissingEndOfTrack, nil
}

// readPayload reads a VLQ length and that many bytes starting at pos.
func readPayload(body []byte, pos, evStart int) ([]byte, int, error) {
	if pos >= len(body) {
		return nil, 0, errors.Wrapf(ErrTruncatedChunk, "event at offset %d has no length", evStart)
	}
	length, n, err := vlq.Decode(body[pos:])
	if err != nil {
		return nil, 0, errors.Wrapf(err, "length at offset %d", pos)
	}
	pos += n
	if uint64(len(body)-pos) < uint64(length) {
		return nil, 0, errors.Wrapf(ErrTruncatedChunk, "event at offset %d declares %d bytes, %d remain",
			evStart, length, len(body)-pos)
	}
	end := pos + int(length)
	return bytes.Clone(body[pos:end]), end, nil
}
