package smf

import (
	"fmt"
	"sort"

	"github.com/leandrodaf/midikit/sdk/event"
)

type placed struct {
	tick  uint64
	track int
	ev    event.Event
}

// flatten lists every event except End-of-Track on one timeline, ordered by
// tick then by track index, and returns the latest tick seen.
func (f *File) flatten() ([]placed, uint64) {
	var (
		all []placed
		end uint64
	)
	for ti, t := range f.Tracks {
		abs := t.AbsoluteTicks()
		for i, te := range t {
			if abs[i] > end {
				end = abs[i]
			}
			if event.IsEndOfTrack(te.Event) {
				continue
			}
			all = append(all, placed{abs[i], ti, te.Event})
		}
	}
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].tick != all[j].tick {
			return all[i].tick < all[j].tick
		}
		return all[i].track < all[j].track
	})
	return all, end
}

// Merge returns a format 0 copy of f with all tracks interleaved by absolute
// time. Events at the same tick keep their track order.
func (f *File) Merge() *File {
	all, end := f.flatten()
	ticks := make([]uint64, 0, len(all)+1)
	evs := make([]event.Event, 0, len(all)+1)
	for _, p := range all {
		ticks = append(ticks, p.tick)
		evs = append(evs, p.ev)
	}
	ticks = append(ticks, end)
	evs = append(evs, event.EndOfTrack())

	out := New(FormatSingleTrack, f.Division)
	out.AddTrack(fromAbsolute(ticks, evs))
	return out
}

// SplitByChannel returns a format 1 copy of f with a conductor track holding
// every non-channel event followed by one named track per used channel, in
// channel order.
func (f *File) SplitByChannel() *File {
	all, end := f.flatten()

	type column struct {
		ticks []uint64
		evs   []event.Event
	}
	var (
		conductor column
		channels  [16]*column
	)
	for _, p := range all {
		col := &conductor
		if cv, ok := p.ev.(event.ChannelVoice); ok {
			ch := cv.Channel & 0x0F
			if channels[ch] == nil {
				channels[ch] = &column{}
			}
			col = channels[ch]
		}
		col.ticks = append(col.ticks, p.tick)
		col.evs = append(col.evs, p.ev)
	}

	build := func(c *column) Track {
		return fromAbsolute(append(c.ticks, end), append(c.evs, event.EndOfTrack()))
	}

	out := New(FormatMultiTrack, f.Division)
	out.AddTrack(build(&conductor))
	for ch, c := range channels {
		if c == nil {
			continue
		}
		t := build(c)
		t.SetName(fmt.Sprintf("Channel %d", ch+1))
		out.AddTrack(t)
	}
	return out
}
