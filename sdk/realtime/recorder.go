package realtime

import (
	"context"
	"errors"

	"github.com/leandrodaf/midikit/sdk/contracts"
	"github.com/leandrodaf/midikit/sdk/event"
	"github.com/leandrodaf/midikit/sdk/smf"
	"github.com/leandrodaf/midikit/sdk/vlq"
)

// Recorder turns received messages into an SMF track. Message timestamps
// are taken as nanoseconds on a monotonic clock and converted to ticks at a
// fixed tempo. System common and real-time messages are skipped.
type Recorder struct {
	division     smf.Division
	usPerQuarter uint32
	nsPerTick    float64
	track        smf.Track
	started      bool
	start        uint64
	tick         uint64
}

// NewRecorder returns a recorder for the given division and tempo in
// microseconds per quarter note. A zero tempo means event.DefaultTempo and
// tempos above event.MaxTempo are clamped to it.
func NewRecorder(division smf.Division, usPerQuarter uint32) *Recorder {
	switch {
	case usPerQuarter == 0:
		usPerQuarter = event.DefaultTempo
	case usPerQuarter > event.MaxTempo:
		usPerQuarter = event.MaxTempo
	}
	if division == 0 {
		division = smf.Metric(480)
	}
	f := smf.File{Division: division}
	tempo, err := event.Tempo(usPerQuarter)
	if err != nil {
		// unreachable once the tempo is in range
		panic(err)
	}
	f.AddTrack(smf.Track{{Event: tempo}})
	ns := float64(f.TempoMap().TicksToDuration(1 << 20)) / (1 << 20)
	if ns <= 0 {
		ns = float64(usPerQuarter) * 1e3 / 480
	}
	return &Recorder{division: division, usPerQuarter: usPerQuarter, nsPerTick: ns}
}

// Add appends m at the tick matching its timestamp. The first recorded
// message lands on tick 0. Timestamps that go backwards are clamped.
func (r *Recorder) Add(m contracts.Message) error {
	ev, err := m.Event()
	if err != nil {
		return err
	}
	if _, ok := ev.(event.System); ok {
		return nil
	}
	if !r.started {
		r.started = true
		r.start = m.Timestamp
	}
	var elapsed uint64
	if m.Timestamp > r.start {
		elapsed = m.Timestamp - r.start
	}
	tick := uint64(float64(elapsed)/r.nsPerTick + 0.5)
	if tick < r.tick {
		tick = r.tick
	}
	delta := tick - r.tick
	for delta > vlq.Max {
		// split very long silences with an empty marker
		r.track.Add(vlq.Max, event.Text(event.MetaMarker, ""))
		delta -= vlq.Max
	}
	r.track.Add(uint32(delta), ev)
	r.tick = tick
	return nil
}

// Drain adds every buffered message of rc and returns how many were read.
// It stops at the first empty read.
func (r *Recorder) Drain(rc contracts.Receiver) (int, error) {
	n := 0
	for {
		m, err := rc.TryRecv()
		if errors.Is(err, contracts.ErrEmpty) || errors.Is(err, contracts.ErrCancelled) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		n++
		if err := r.Add(m); err != nil {
			return n, err
		}
	}
}

// Capture records from rc until it is closed or ctx is done. Undecodable
// messages are skipped.
func (r *Recorder) Capture(ctx context.Context, rc contracts.Receiver) error {
	for {
		m, err := rc.Recv(ctx)
		if err != nil {
			if errors.Is(err, contracts.ErrCancelled) || errors.Is(err, contracts.ErrTimeout) {
				return nil
			}
			return err
		}
		_ = r.Add(m)
	}
}

// Track returns a closed copy of the recorded track.
func (r *Recorder) Track() smf.Track {
	t := append(smf.Track(nil), r.track...)
	t.Close()
	return t
}

// File returns a single-track file holding the recording and its tempo.
func (r *Recorder) File() (*smf.File, error) {
	tempo, err := event.Tempo(r.usPerQuarter)
	if err != nil {
		return nil, err
	}
	f := smf.New(smf.FormatSingleTrack, r.division)
	f.AddTrack(append(smf.Track{{Event: tempo}}, r.Track()...))
	return f, nil
}
