package smf

import (
	"fmt"

	"github.com/leandrodaf/midikit/sdk/vlq"
	"github.com/pkg/errors"
)

// Format errors. Every error returned by Read and Write wraps one of these
// (or vlq.ErrMalformed) and can be tested with errors.Is.
var (
	ErrBadHeader         = errors.New("smf: bad header")
	ErrTruncatedChunk    = errors.New("smf: truncated chunk")
	ErrUnknownChunkType  = errors.New("smf: unknown chunk type")
	ErrEventOutOfRange   = errors.New("smf: event out of range")
	ErrRunningStatus     = errors.New("smf: data byte without running status")
	ErrInvalidStatus     = errors.New("smf: invalid status byte in track")
	ErrMissingEndOfTrack = errors.New("smf: track has no end-of-track event")
	ErrTrailingData      = errors.New("smf: data after end-of-track")
)

// ErrMalformedVLQ is the VLQ decoding failure surfaced by the reader.
var ErrMalformedVLQ = vlq.ErrMalformed

// Warning records a tolerated irregularity found while reading: a skipped
// vendor chunk, a missing End-of-Track, or bytes following End-of-Track.
// Track is the index of the affected track, or -1 for file-level chunks.
type Warning struct {
	Track int
	Err   error
}

func (w Warning) String() string {
	if w.Track < 0 {
		return w.Err.Error()
	}
	return fmt.Sprintf("track %d: %v", w.Track, w.Err)
}
