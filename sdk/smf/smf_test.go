package smf

import (
	"bytes"
	"errors"
	"math/rand"
	"path/filepath"
	"testing"
	"time"

	"github.com/leandrodaf/midikit/sdk/event"
	"github.com/leandrodaf/midikit/sdk/vlq"
)

func chunk(id string, body ...byte) []byte {
	out := []byte(id)
	n := len(body)
	out = append(out, byte(n>>24), byte(n>>16), byte(n>>8), byte(n))
	return append(out, body...)
}

func header(format, tracks, division uint16) []byte {
	return chunk("MThd",
		byte(format>>8), byte(format),
		byte(tracks>>8), byte(tracks),
		byte(division>>8), byte(division))
}

func file(parts ...[]byte) []byte {
	return bytes.Join(parts, nil)
}

func sameTrack(t *testing.T, got, want Track) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("track has %d events, want %d\ngot:  %v\nwant: %v", len(got), len(want), got, want)
	}
	for i := range want {
		if got[i].Delta != want[i].Delta || !bytes.Equal(got[i].Event.Bytes(), want[i].Event.Bytes()) {
			t.Fatalf("event %d = %v, want %v", i, got[i], want[i])
		}
	}
}

// The example file from the Standard MIDI File 1.0 document, section 4.
var referenceFile = file(
	header(1, 4, 96),
	chunk("MTrk",
		0, 0xff, 0x58, 4, 4, 2, 0x18, 8,
		0, 0xff, 0x51, 3, 7, 0xa1, 0x20,
		0x83, 0, 0xff, 0x2f, 0,
	),
	chunk("MTrk",
		0, 0xc0, 5,
		0x81, 0x40, 0x90, 0x4c, 0x20,
		0x81, 0x40, 0x4c, 0,
		0, 0xff, 0x2f, 0,
	),
	chunk("MTrk",
		0, 0xc1, 0x2e,
		0x60, 0x91, 0x43, 0x40,
		0x82, 0x20, 0x43, 0,
		0, 0xff, 0x2f, 0,
	),
	chunk("MTrk",
		0, 0xc2, 0x46,
		0, 0x92, 0x30, 0x60,
		0, 0x3c, 0x60,
		0x83, 0, 0x30, 0,
		0, 0x3c, 0,
		0, 0xff, 0x2f, 0,
	),
)

func TestReadReferenceFile(t *testing.T) {
	f, err := Read(referenceFile)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if f.Format != FormatMultiTrack || f.Division.TicksPerQuarter() != 96 || len(f.Tracks) != 4 {
		t.Fatalf("header = %v %v %d tracks", f.Format, f.Division, len(f.Tracks))
	}
	if len(f.Warnings) != 0 {
		t.Fatalf("unexpected warnings %v", f.Warnings)
	}
	sameTrack(t, f.Tracks[3], Track{
		{Delta: 0, Event: event.ProgramChange(2, 0x46)},
		{Delta: 0, Event: event.NoteOn(2, 0x30, 0x60)},
		{Delta: 0, Event: event.NoteOn(2, 0x3c, 0x60)},
		{Delta: 384, Event: event.NoteOn(2, 0x30, 0)},
		{Delta: 0, Event: event.NoteOn(2, 0x3c, 0)},
		{Delta: 0, Event: event.EndOfTrack()},
	})
	for i, tr := range f.Tracks {
		if tr.Duration() != 384 {
			t.Errorf("track %d lasts %d ticks", i, tr.Duration())
		}
	}

	out, err := Write(f)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if !bytes.Equal(out, referenceFile) {
		t.Fatalf("re-encoded file differs\ngot:  % x\nwant: % x", out, referenceFile)
	}
}

func TestWriteMinimalFile(t *testing.T) {
	f := New(FormatSingleTrack, Metric(480))
	var tr Track
	tr.Add(0, event.NoteOn(0, 60, 100))
	tr.Add(480, event.NoteOff(0, 60, 64))
	tr.Close()
	f.AddTrack(tr)

	want := file(
		header(0, 1, 480),
		chunk("MTrk",
			0x00, 0x90, 0x3C, 0x64,
			0x83, 0x60, 0x80, 0x3C, 0x40,
			0x00, 0xFF, 0x2F, 0x00,
		),
	)
	got, err := Write(f)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("got  % x\nwant % x", got, want)
	}

	back, err := Read(got)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	abs := back.Tracks[0].AbsoluteTicks()
	if len(abs) != 3 || abs[0] != 0 || abs[1] != 480 || abs[2] != 480 {
		t.Fatalf("absolute ticks = %v", abs)
	}
}

func TestWriteRunningStatus(t *testing.T) {
	tr := Track{
		{Delta: 0, Event: event.NoteOn(1, 60, 100)},
		{Delta: 10, Event: event.NoteOn(1, 64, 100)},
		{Delta: 0, Event: event.Text(event.MetaMarker, "")},
		{Delta: 10, Event: event.NoteOn(1, 67, 100)},
	}
	f := &File{Format: FormatSingleTrack, Division: Metric(96), Tracks: []Track{tr}}

	compressed := chunk("MTrk",
		0x00, 0x91, 60, 100,
		0x0A, 64, 100,
		0x00, 0xFF, 0x06, 0x00,
		0x0A, 0x91, 67, 100,
		0x00, 0xFF, 0x2F, 0x00,
	)
	got, err := Write(f)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got[14:], compressed) {
		t.Fatalf("compressed track\ngot  % x\nwant % x", got[14:], compressed)
	}

	plain := chunk("MTrk",
		0x00, 0x91, 60, 100,
		0x0A, 0x91, 64, 100,
		0x00, 0xFF, 0x06, 0x00,
		0x0A, 0x91, 67, 100,
		0x00, 0xFF, 0x2F, 0x00,
	)
	got, err = Write(f, WithRunningStatus(false))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got[14:], plain) {
		t.Fatalf("plain track\ngot  % x\nwant % x", got[14:], plain)
	}
	if len(f.Tracks[0]) != 4 {
		t.Fatal("Write modified the file")
	}
}

func TestReadErrors(t *testing.T) {
	track := func(body ...byte) []byte { return file(header(0, 1, 96), chunk("MTrk", body...)) }

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"empty", nil, ErrBadHeader},
		{"wrong magic", file(chunk("MThx", 0, 0, 0, 1, 0, 96)), ErrBadHeader},
		{"long header", file(chunk("MThd", 0, 0, 0, 1, 0, 96, 0)), ErrBadHeader},
		{"format 3", header(3, 1, 96), ErrBadHeader},
		{"format 0 two tracks", header(0, 2, 96), ErrBadHeader},
		{"zero division", header(1, 0, 0), ErrBadHeader},
		{"missing track", header(1, 1, 96), ErrTruncatedChunk},
		{
			"chunk overruns file",
			file(header(0, 1, 96), []byte{'M', 'T', 'r', 'k', 0, 0, 0, 0x20, 0, 0xFF, 0x2F, 0}),
			ErrTruncatedChunk,
		},
		{"five byte delta", track(0xFF, 0xFF, 0xFF, 0xFF, 0x00, 0x90, 1, 1), ErrMalformedVLQ},
		{"delta runs off chunk", track(0x81), ErrMalformedVLQ},
		{"delta without event", track(0x00), ErrTruncatedChunk},
		{"data without status", track(0x00, 0x3C, 0x64), ErrRunningStatus},
		{
			"meta cancels running status",
			track(0x00, 0x90, 0x3C, 0x64, 0x00, 0xFF, 0x01, 0x00, 0x00, 0x3C, 0x00),
			ErrRunningStatus,
		},
		{
			"sysex cancels running status",
			track(0x00, 0x90, 0x3C, 0x64, 0x00, 0xF0, 0x01, 0xF7, 0x00, 0x3C, 0x00),
			ErrRunningStatus,
		},
		{"short note", track(0x00, 0x90, 0x3C), ErrTruncatedChunk},
		{"meta overruns chunk", track(0x00, 0xFF, 0x01, 0x05, 'a'), ErrTruncatedChunk},
		{"system common in track", track(0x00, 0xF2, 0x00, 0x00), ErrInvalidStatus},
		{"status byte as data", track(0x00, 0x90, 0x3C, 0x90), ErrEventOutOfRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := Read(tt.data)
			if !errors.Is(err, tt.want) {
				t.Fatalf("Read() = %v, %v; want %v", f, err, tt.want)
			}
		})
	}
}

func TestReadToleratesIrregularities(t *testing.T) {
	data := file(
		header(1, 2, 96),
		chunk("XFIH", 1, 2, 3),
		chunk("MTrk", 0x00, 0x90, 0x3C, 0x64),
		chunk("MTrk", 0x00, 0xFF, 0x2F, 0x00, 0x00, 0x90, 0x3C, 0x64),
	)
	f, err := Read(data)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(f.Tracks) != 2 || len(f.Tracks[0]) != 1 || len(f.Tracks[1]) != 1 {
		t.Fatalf("tracks = %v", f.Tracks)
	}
	if len(f.Warnings) != 3 {
		t.Fatalf("warnings = %v", f.Warnings)
	}
	checks := []struct {
		track int
		err   error
	}{
		{-1, ErrUnknownChunkType},
		{0, ErrMissingEndOfTrack},
		{1, ErrTrailingData},
	}
	for i, c := range checks {
		w := f.Warnings[i]
		if w.Track != c.track || !errors.Is(w.Err, c.err) {
			t.Errorf("warning %d = %v, want track %d %v", i, w, c.track, c.err)
		}
	}

	out, err := Write(f)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	back, err := Read(out)
	if err != nil {
		t.Fatalf("Read rewritten: %v", err)
	}
	if len(back.Warnings) != 0 || !back.Tracks[0].HasEndOfTrack() {
		t.Fatalf("rewritten file not canonical: %v", back.Warnings)
	}
}

func TestWriteRejectsInvalidFiles(t *testing.T) {
	closed := Track{{Event: event.EndOfTrack()}}
	tests := []struct {
		name string
		file *File
		want error
	}{
		{"format 0 without tracks", &File{Format: FormatSingleTrack, Division: 96}, ErrBadHeader},
		{"format 0 with two tracks", &File{Format: FormatSingleTrack, Division: 96, Tracks: []Track{closed, closed}}, ErrBadHeader},
		{"zero division", &File{Format: FormatMultiTrack, Tracks: []Track{closed}}, ErrBadHeader},
		{"format 5", &File{Format: 5, Division: 96}, ErrBadHeader},
		{"channel 16", &File{Format: FormatMultiTrack, Division: 96, Tracks: []Track{
			{{Event: event.ChannelVoice{Kind: event.KindNoteOn, Channel: 16, Data1: 1}}},
		}}, ErrEventOutOfRange},
		{"early end of track", &File{Format: FormatMultiTrack, Division: 96, Tracks: []Track{
			{{Event: event.EndOfTrack()}, {Event: event.NoteOn(0, 1, 1)}},
		}}, ErrEventOutOfRange},
		{"delta too large", &File{Format: FormatMultiTrack, Division: 96, Tracks: []Track{
			{{Delta: vlq.Max + 1, Event: event.NoteOn(0, 1, 1)}},
		}}, ErrEventOutOfRange},
		{"live-only event", &File{Format: FormatMultiTrack, Division: 96, Tracks: []Track{
			{{Event: event.System{Status: event.StatusTimingClock}}},
		}}, ErrEventOutOfRange},
		{"nil event", &File{Format: FormatMultiTrack, Division: 96, Tracks: []Track{{{}}}}, ErrEventOutOfRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			n, err := WriteTo(&buf, tt.file)
			if !errors.Is(err, tt.want) {
				t.Fatalf("WriteTo() = %v, want %v", err, tt.want)
			}
			if n != 0 || buf.Len() != 0 {
				t.Fatalf("wrote %d bytes for an invalid file", buf.Len())
			}
		})
	}
}

func randomEvent(r *rand.Rand) event.Event {
	switch r.Intn(10) {
	case 0:
		return event.Text(event.MetaType(1+r.Intn(7)), string(rune('a'+r.Intn(26))))
	case 1:
		data := make([]byte, r.Intn(300))
		for i := range data {
			data[i] = byte(r.Intn(0x80))
		}
		return event.SysEx{Data: append(data, 0xF7)}
	case 2:
		return event.SysEx{Data: []byte{byte(r.Intn(0x80))}, Escape: true}
	}
	kinds := []event.Kind{
		event.KindNoteOff, event.KindNoteOn, event.KindPolyPressure, event.KindControlChange,
		event.KindProgramChange, event.KindChannelPressure, event.KindPitchBend,
	}
	cv := event.ChannelVoice{
		Kind:    kinds[r.Intn(len(kinds))],
		Channel: uint8(r.Intn(3)),
		Data1:   uint8(r.Intn(0x80)),
	}
	if cv.Kind.DataLen() == 2 {
		cv.Data2 = uint8(r.Intn(0x80))
	}
	return cv
}

func randomDelta(r *rand.Rand) uint32 {
	switch r.Intn(4) {
	case 0:
		return 0
	case 1:
		return uint32(r.Intn(0x80))
	case 2:
		return uint32(r.Intn(0x4000))
	}
	return uint32(r.Int63n(vlq.Max + 1))
}

func TestRoundTripRandomFiles(t *testing.T) {
	r := rand.New(rand.NewSource(20240601))
	for iter := 0; iter < 50; iter++ {
		f := New(FormatMultiTrack, Metric(uint16(1+r.Intn(0x7FFF))))
		for n := r.Intn(4); n >= 0; n-- {
			var tr Track
			for k := r.Intn(64); k > 0; k-- {
				tr.Add(randomDelta(r), randomEvent(r))
			}
			tr.Close()
			f.AddTrack(tr)
		}
		for _, rs := range []bool{true, false} {
			data, err := Write(f, WithRunningStatus(rs))
			if err != nil {
				t.Fatalf("iteration %d: Write: %v", iter, err)
			}
			back, err := Read(data)
			if err != nil {
				t.Fatalf("iteration %d: Read: %v", iter, err)
			}
			if back.Format != f.Format || back.Division != f.Division || len(back.Tracks) != len(f.Tracks) {
				t.Fatalf("iteration %d: header mismatch", iter)
			}
			for i := range f.Tracks {
				sameTrack(t, back.Tracks[i], f.Tracks[i])
			}
		}
	}
}

func TestReadWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reference.mid")
	f, err := Read(referenceFile)
	if err != nil {
		t.Fatal(err)
	}
	if err := WriteFile(path, f); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	back, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(back.Tracks) != 4 {
		t.Fatalf("got %d tracks", len(back.Tracks))
	}
	if _, err := ReadFile(filepath.Join(t.TempDir(), "missing.mid")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestTrackHelpers(t *testing.T) {
	var tr Track
	tr.Add(0, event.NoteOn(0, 60, 100))
	tr.Add(100, event.NoteOff(0, 60, 0))
	tr.Close()
	tr.Close()
	if !tr.HasEndOfTrack() || len(tr) != 3 {
		t.Fatalf("Close: %v", tr)
	}

	tr.AddAt(50, event.NoteOn(1, 64, 90))
	tr.AddAt(200, event.NoteOff(1, 64, 0))
	sameTrack(t, tr, Track{
		{Delta: 0, Event: event.NoteOn(0, 60, 100)},
		{Delta: 50, Event: event.NoteOn(1, 64, 90)},
		{Delta: 50, Event: event.NoteOff(0, 60, 0)},
		{Delta: 100, Event: event.NoteOff(1, 64, 0)},
		{Delta: 0, Event: event.EndOfTrack()},
	})

	tr.Add(10, event.ControlChange(0, 64, 0))
	if !tr.HasEndOfTrack() || tr.Duration() != 210 {
		t.Fatalf("Add on closed track: %v", tr)
	}

	tr.SetName("Lead")
	tr.SetName("Piano")
	if tr.Name() != "Piano" || tr[0].Delta != 0 {
		t.Fatalf("Name() = %q", tr.Name())
	}
	if err := tr.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	ch1 := tr.Channel(1)
	sameTrack(t, ch1, Track{
		{Delta: 50, Event: event.NoteOn(1, 64, 90)},
		{Delta: 150, Event: event.NoteOff(1, 64, 0)},
		{Delta: 10, Event: event.EndOfTrack()},
	})
}

func TestMergeAndSplit(t *testing.T) {
	f, err := Read(referenceFile)
	if err != nil {
		t.Fatal(err)
	}
	merged := f.Merge()
	if merged.Format != FormatSingleTrack || len(merged.Tracks) != 1 {
		t.Fatalf("Merge: %v tracks", len(merged.Tracks))
	}
	m := merged.Tracks[0]
	if err := m.Validate(); err != nil {
		t.Fatalf("merged track invalid: %v", err)
	}
	// 13 events plus a single End-of-Track.
	if len(m) != 14 || m.Duration() != 384 {
		t.Fatalf("merged track has %d events over %d ticks", len(m), m.Duration())
	}
	if _, err := Write(merged); err != nil {
		t.Fatalf("Write merged: %v", err)
	}

	split := merged.SplitByChannel()
	if split.Format != FormatMultiTrack || len(split.Tracks) != 4 {
		t.Fatalf("SplitByChannel: %d tracks", len(split.Tracks))
	}
	names := []string{"", "Channel 1", "Channel 2", "Channel 3"}
	for i, tr := range split.Tracks {
		if tr.Name() != names[i] {
			t.Errorf("track %d name %q, want %q", i, tr.Name(), names[i])
		}
		if tr.Duration() != 384 || !tr.HasEndOfTrack() {
			t.Errorf("track %d: %d ticks", i, tr.Duration())
		}
	}
	sameTrack(t, split.Tracks[2].Channel(1), f.Tracks[2])
}

func TestSplitByChannelOutOfRangeChannel(t *testing.T) {
	var tr Track
	tr.Add(0, event.NoteOn(18, 60, 100))
	tr.Add(96, event.NoteOff(2, 60, 0))
	tr.Add(0, event.EndOfTrack())
	f := New(FormatSingleTrack, Metric(96))
	f.AddTrack(tr)

	split := f.SplitByChannel()
	// channel 18 shares the status nibble of channel 2
	if len(split.Tracks) != 2 || split.Tracks[1].Name() != "Channel 3" {
		t.Fatalf("SplitByChannel: %d tracks", len(split.Tracks))
	}
	if d := split.Tracks[1].Duration(); d != 96 {
		t.Fatalf("channel track spans %d ticks", d)
	}
}

func TestTempoMap(t *testing.T) {
	tempo, err := event.Tempo(250000)
	if err != nil {
		t.Fatal(err)
	}
	f := New(FormatMultiTrack, Metric(480))
	var conductor Track
	conductor.AddAt(960, tempo)
	conductor.Close()
	f.AddTrack(conductor)
	var notes Track
	notes.Add(1440, event.NoteOn(0, 60, 1))
	notes.Close()
	f.AddTrack(notes)

	m := f.TempoMap()
	tests := []struct {
		tick uint64
		at   time.Duration
	}{
		{0, 0},
		{480, 500 * time.Millisecond},
		{960, time.Second},
		{1440, 1250 * time.Millisecond},
	}
	for _, tt := range tests {
		if got := m.TicksToDuration(tt.tick); got != tt.at {
			t.Errorf("TicksToDuration(%d) = %v, want %v", tt.tick, got, tt.at)
		}
		if got := m.DurationToTicks(tt.at); got != tt.tick {
			t.Errorf("DurationToTicks(%v) = %d, want %d", tt.at, got, tt.tick)
		}
	}
	if m.TempoAt(100) != event.DefaultTempo || m.TempoAt(960) != 250000 {
		t.Errorf("TempoAt = %d, %d", m.TempoAt(100), m.TempoAt(960))
	}
	if d := f.Duration(); d != 1250*time.Millisecond {
		t.Errorf("Duration() = %v", d)
	}

	smpte := &File{Format: FormatMultiTrack, Division: SMPTE(25, 40), Tracks: []Track{notes}}
	if d := smpte.TempoMap().TicksToDuration(1000); d != time.Second {
		t.Errorf("SMPTE TicksToDuration(1000) = %v", d)
	}
}

func TestDivision(t *testing.T) {
	d := SMPTE(30, 80)
	if !d.IsSMPTE() || d.TicksPerQuarter() != 0 || uint16(d) != 0xE250 {
		t.Fatalf("SMPTE(30, 80) = %#04x", uint16(d))
	}
	if fps, tpf := d.SMPTE(); fps != 30 || tpf != 80 {
		t.Fatalf("SMPTE() = %d, %d", fps, tpf)
	}
	if m := Metric(960); m.IsSMPTE() || m.TicksPerQuarter() != 960 {
		t.Fatalf("Metric(960) = %v", m)
	}
}
