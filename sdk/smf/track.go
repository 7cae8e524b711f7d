package smf

import (
	"sort"

	"github.com/leandrodaf/midikit/sdk/event"
)

// Track is an ordered sequence of timed events; slice order is playback
// order. A well-formed track ends with exactly one End-of-Track event.
type Track []event.TimedEvent

// Add appends ev delta ticks after the current last event. If the track is
// already closed, ev is placed before End-of-Track.
func (t *Track) Add(delta uint32, ev event.Event) {
	if t.HasEndOfTrack() {
		events := *t
		eot := events[len(events)-1]
		// the End-of-Track keeps its absolute position unless ev lands later
		if delta >= eot.Delta {
			eot.Delta = 0
		} else {
			eot.Delta -= delta
		}
		events[len(events)-1] = event.TimedEvent{Delta: delta, Event: ev}
		*t = append(events, eot)
		return
	}
	*t = append(*t, event.TimedEvent{Delta: delta, Event: ev})
}

// AddAt inserts ev at an absolute tick, after any event already at that
// tick. End-of-Track stays last and moves later if needed.
func (t *Track) AddAt(tick uint64, ev event.Event) {
	abs := t.AbsoluteTicks()
	events := *t
	limit := len(events)
	if t.HasEndOfTrack() {
		limit--
	}
	i := sort.Search(limit, func(j int) bool { return abs[j] > tick })

	ticks := make([]uint64, 0, len(events)+1)
	evs := make([]event.Event, 0, len(events)+1)
	for j := 0; j < i; j++ {
		ticks = append(ticks, abs[j])
		evs = append(evs, events[j].Event)
	}
	ticks = append(ticks, tick)
	evs = append(evs, ev)
	for j := i; j < len(events); j++ {
		at := abs[j]
		if at < tick {
			at = tick
		}
		ticks = append(ticks, at)
		evs = append(evs, events[j].Event)
	}
	*t = fromAbsolute(ticks, evs)
}

// HasEndOfTrack reports whether the last event is End-of-Track.
func (t Track) HasEndOfTrack() bool {
	return len(t) > 0 && event.IsEndOfTrack(t[len(t)-1].Event)
}

// Close appends End-of-Track if the track lacks one.
func (t *Track) Close() {
	if !t.HasEndOfTrack() {
		*t = append(*t, event.TimedEvent{Event: event.EndOfTrack()})
	}
}

// AbsoluteTicks returns the absolute tick of every event.
func (t Track) AbsoluteTicks() []uint64 {
	out := make([]uint64, len(t))
	var now uint64
	for i, te := range t {
		now += uint64(te.Delta)
		out[i] = now
	}
	return out
}

// Duration returns the absolute tick of the last event.
func (t Track) Duration() uint64 {
	var now uint64
	for _, te := range t {
		now += uint64(te.Delta)
	}
	return now
}

// Name returns the first TrackName text, or "".
func (t Track) Name() string {
	for _, te := range t {
		if m, ok := te.Event.(event.Meta); ok && m.Type == event.MetaTrackName {
			return m.Text()
		}
	}
	return ""
}

// SetName replaces the first TrackName event or inserts one at tick 0.
func (t *Track) SetName(name string) {
	for i, te := range *t {
		if m, ok := te.Event.(event.Meta); ok && m.Type == event.MetaTrackName {
			(*t)[i].Event = event.Text(event.MetaTrackName, name)
			return
		}
	}
	*t = append(Track{{Event: event.Text(event.MetaTrackName, name)}}, *t...)
}

// Channel returns the channel-voice events of one channel with re-computed
// deltas, closed with End-of-Track at the source track's length.
func (t Track) Channel(ch uint8) Track {
	abs := t.AbsoluteTicks()
	var ticks []uint64
	var evs []event.Event
	for i, te := range t {
		if cv, ok := te.Event.(event.ChannelVoice); ok && cv.Channel == ch {
			ticks = append(ticks, abs[i])
			evs = append(evs, cv)
		}
	}
	ticks = append(ticks, t.Duration())
	evs = append(evs, event.EndOfTrack())
	return fromAbsolute(ticks, evs)
}

// fromAbsolute builds a track from non-decreasing absolute ticks.
func fromAbsolute(ticks []uint64, evs []event.Event) Track {
	out := make(Track, len(evs))
	var prev uint64
	for i, ev := range evs {
		out[i] = event.TimedEvent{Delta: uint32(ticks[i] - prev), Event: ev}
		prev = ticks[i]
	}
	return out
}
