package smf

import (
	"math"
	"sort"
	"time"

	"github.com/leandrodaf/midikit/sdk/event"
)

type tempoChange struct {
	tick         uint64
	at           time.Duration
	usPerQuarter uint32
}

// TempoMap converts between ticks and wall time for one file. Tempo events
// from every track apply to the shared timeline; a file without any plays at
// event.DefaultTempo. SMPTE divisions ignore tempo.
type TempoMap struct {
	division Division
	changes  []tempoChange
}

// TempoMap builds the file's tempo map.
func (f *File) TempoMap() *TempoMap {
	type change struct {
		tick uint64
		us   uint32
	}
	var found []change
	for _, t := range f.Tracks {
		abs := t.AbsoluteTicks()
		for i, te := range t {
			if m, ok := te.Event.(event.Meta); ok {
				if us, ok := m.Tempo(); ok && us > 0 {
					found = append(found, change{abs[i], us})
				}
			}
		}
	}
	sort.SliceStable(found, func(i, j int) bool { return found[i].tick < found[j].tick })

	m := &TempoMap{
		division: f.Division,
		changes:  []tempoChange{{usPerQuarter: event.DefaultTempo}},
	}
	for _, c := range found {
		last := &m.changes[len(m.changes)-1]
		if c.tick == last.tick {
			last.usPerQuarter = c.us
			continue
		}
		m.changes = append(m.changes, tempoChange{
			tick:         c.tick,
			at:           last.at + m.span(c.tick-last.tick, last.usPerQuarter),
			usPerQuarter: c.us,
		})
	}
	return m
}

// nsPerTick returns the length of one tick at the given tempo.
func (m *TempoMap) nsPerTick(usPerQuarter uint32) float64 {
	if m.division.IsSMPTE() {
		fps, tpf := m.division.SMPTE()
		rate := float64(fps)
		if fps == 29 {
			rate = 30000.0 / 1001.0
		}
		if rate == 0 || tpf == 0 {
			return 0
		}
		return 1e9 / (rate * float64(tpf))
	}
	tpq := m.division.TicksPerQuarter()
	if tpq == 0 {
		return 0
	}
	return float64(usPerQuarter) * 1e3 / float64(tpq)
}

func (m *TempoMap) span(ticks uint64, usPerQuarter uint32) time.Duration {
	if tpq := m.division.TicksPerQuarter(); tpq > 0 {
		return time.Duration(math.Round(float64(ticks) * float64(usPerQuarter) * 1e3 / float64(tpq)))
	}
	return time.Duration(math.Round(float64(ticks) * m.nsPerTick(usPerQuarter)))
}

// TempoAt returns the tempo in microseconds per quarter note at tick.
func (m *TempoMap) TempoAt(tick uint64) uint32 {
	return m.changes[m.indexAtTick(tick)].usPerQuarter
}

// TicksToDuration returns the wall time of an absolute tick.
func (m *TempoMap) TicksToDuration(tick uint64) time.Duration {
	c := m.changes[m.indexAtTick(tick)]
	return c.at + m.span(tick-c.tick, c.usPerQuarter)
}

// DurationToTicks returns the last tick at or before d.
func (m *TempoMap) DurationToTicks(d time.Duration) uint64 {
	if d <= 0 {
		return 0
	}
	i := sort.Search(len(m.changes), func(i int) bool { return m.changes[i].at > d }) - 1
	c := m.changes[i]
	per := m.nsPerTick(c.usPerQuarter)
	if per == 0 {
		return c.tick
	}
	return c.tick + uint64(math.Floor(float64(d-c.at)/per+1e-9))
}

func (m *TempoMap) indexAtTick(tick uint64) int {
	return sort.Search(len(m.changes), func(i int) bool { return m.changes[i].tick > tick }) - 1
}

// Duration returns the wall time of the longest track.
func (f *File) Duration() time.Duration {
	var ticks uint64
	for _, t := range f.Tracks {
		if d := t.Duration(); d > ticks {
			ticks = d
		}
	}
	return f.TempoMap().TicksToDuration(ticks)
}
