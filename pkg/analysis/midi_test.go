package analysis

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"
)

type testNote struct {
	key, velocity uint8
	start, length uint32 // ticks at 96 per quarter
}

// writeTestMIDI writes a single track file. bpm 0 omits the tempo event.
func writeTestMIDI(t *testing.T, path string, bpm float64, notes []testNote) {
	t.Helper()

	type event struct {
		at  uint32
		off bool
		msg []byte
	}
	var events []event
	for _, n := range notes {
		events = append(events,
			event{at: n.start, msg: midi.NoteOn(0, n.key, n.velocity)},
			event{at: n.start + n.length, off: true, msg: midi.NoteOff(0, n.key)},
		)
	}
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].at != events[j].at {
			return events[i].at < events[j].at
		}
		return events[i].off && !events[j].off
	})

	var tr smf.Track
	if bpm > 0 {
		tr.Add(0, smf.MetaTempo(bpm))
	}
	var last uint32
	for _, e := range events {
		tr.Add(e.at-last, e.msg)
		last = e.at
	}
	tr.Close(0)

	s := smf.New()
	s.TimeFormat = smf.MetricTicks(96)
	require.NoError(t, s.Add(tr))

	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	_, err = s.WriteTo(f)
	require.NoError(t, err)
}

func TestMIDIExtractor(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scale.mid")
	writeTestMIDI(t, path, 120, []testNote{
		{key: 60, velocity: 127, start: 0, length: 96},
		{key: 62, velocity: 64, start: 96, length: 48},
		{key: 69, velocity: 100, start: 192, length: 192},
	})

	f, err := MIDIExtractor{}.Extract(context.Background(), path, 512)
	require.NoError(t, err)

	assert.Equal(t, "scale.mid", f.File)
	assert.Equal(t, 512, f.Resolution)
	assert.InDelta(t, 120, f.Tempo, 1e-6)
	assert.InDeltaSlice(t, []float64{0, 0.5, 1.0}, f.Onsets, 1e-6)
	assert.InDelta(t, 2.0, f.Duration, 1e-6)

	require.Len(t, f.Pitches, 3)
	assert.InDelta(t, 261.6255653, f.Pitches[0], 1e-6)
	assert.InDelta(t, 440, f.Pitches[2], 1e-9)
	assert.InDelta(t, 1.0, f.Magnitudes[0], 1e-9)
	assert.InDelta(t, 64.0/127, f.Magnitudes[1], 1e-9)

	assert.Equal(t, f.Onsets, f.Peaks.Times)
	assert.Equal(t, f.Pitches, f.Peaks.Freqs)
	assert.Equal(t, f.Magnitudes, f.Peaks.Amps)
}

func TestMIDIExtractor_TempoScalesTime(t *testing.T) {
	path := filepath.Join(t.TempDir(), "slow.mid")
	writeTestMIDI(t, path, 60, []testNote{
		{key: 60, velocity: 90, start: 0, length: 96},
		{key: 60, velocity: 90, start: 96, length: 96},
	})

	f, err := MIDIExtractor{}.Extract(context.Background(), path, 0)
	require.NoError(t, err)
	assert.InDelta(t, 60, f.Tempo, 1e-6)
	assert.InDeltaSlice(t, []float64{0, 1.0}, f.Onsets, 1e-6)
}

func TestMIDIExtractor_DefaultTempo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "untimed.mid")
	writeTestMIDI(t, path, 0, []testNote{{key: 67, velocity: 80, start: 0, length: 96}})

	f, err := MIDIExtractor{}.Extract(context.Background(), path, 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultMIDITempo, f.Tempo)
	assert.Len(t, f.Onsets, 1)
}

func TestMIDIExtractor_Chord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chord.mid")
	writeTestMIDI(t, path, 120, []testNote{
		{key: 60, velocity: 100, start: 0, length: 96},
		{key: 64, velocity: 100, start: 0, length: 96},
		{key: 67, velocity: 100, start: 0, length: 96},
	})

	f, err := MIDIExtractor{}.Extract(context.Background(), path, 0)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0, 0}, f.Onsets)
	assert.Equal(t, []float64{0, 0}, f.Durations())
}

func TestMIDINotes_Restruck(t *testing.T) {
	// key 60 struck twice before a single note off
	var tr smf.Track
	tr.Add(0, smf.MetaTempo(120))
	tr.Add(0, midi.NoteOn(0, 60, 100))
	tr.Add(96, midi.NoteOn(0, 60, 80))
	tr.Add(96, midi.NoteOff(0, 60))
	tr.Close(0)

	s := smf.New()
	s.TimeFormat = smf.MetricTicks(96)
	require.NoError(t, s.Add(tr))

	path := filepath.Join(t.TempDir(), "restruck.mid")
	f, err := os.Create(path)
	require.NoError(t, err)
	_, err = s.WriteTo(f)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	read, err := readMIDIFile(path)
	require.NoError(t, err)
	notes, _ := midiNotes(read)
	require.Len(t, notes, 2)
	assert.InDelta(t, 0, notes[0].start, 1e-9)
	assert.InDelta(t, 0.5, notes[0].end, 1e-9)
	assert.InDelta(t, 0.5, notes[1].start, 1e-9)
	assert.InDelta(t, 1.0, notes[1].end, 1e-9)
	assert.Equal(t, uint8(80), notes[1].velocity)
}

func TestMIDIExtractor_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.mid")
	require.NoError(t, os.WriteFile(path, []byte("MThd\x00\x00"), 0644))

	_, err := MIDIExtractor{}.Extract(context.Background(), path, 0)
	assert.Error(t, err)

	_, err = MIDIExtractor{}.Extract(context.Background(), filepath.Join(t.TempDir(), "missing.mid"), 0)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestMIDIExtractor_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := MIDIExtractor{}.Extract(ctx, "whatever.mid", 0)
	assert.ErrorIs(t, err, context.Canceled)
}
