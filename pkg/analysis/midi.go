package analysis

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gitlab.com/gomidi/midi/v2/smf"
)

// DefaultMIDITempo is assumed when a file has no tempo meta event.
const DefaultMIDITempo = 120.0

// MIDIExtractor reads a reference performance from a Standard MIDI File.
// Every note becomes one onset, pitch and peak; resolution is ignored.
type MIDIExtractor struct{}

type midiNote struct {
	start    float64
	end      float64
	key      uint8
	velocity uint8
}

// Extract implements Extractor.
func (MIDIExtractor) Extract(ctx context.Context, path string, resolution int) (*Features, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s, err := readMIDIFile(path)
	if err != nil {
		return nil, err
	}

	notes, tempo := midiNotes(s)

	f := &Features{
		File:       filepath.Base(path),
		Resolution: resolution,
		Tempo:      tempo,
		Pitches:    make([]float64, 0, len(notes)),
		Magnitudes: make([]float64, 0, len(notes)),
		Onsets:     make([]float64, 0, len(notes)),
		Peaks: Peaks{
			Times: make([]float64, 0, len(notes)),
			Freqs: make([]float64, 0, len(notes)),
			Amps:  make([]float64, 0, len(notes)),
		},
	}

	for _, n := range notes {
		hz := MIDIToHz(float64(n.key))
		amp := float64(n.velocity) / 127

		f.Pitches = append(f.Pitches, hz)
		f.Magnitudes = append(f.Magnitudes, amp)
		f.Onsets = append(f.Onsets, n.start)
		f.Peaks.Times = append(f.Peaks.Times, n.start)
		f.Peaks.Freqs = append(f.Peaks.Freqs, hz)
		f.Peaks.Amps = append(f.Peaks.Amps, amp)

		if n.end > f.Duration {
			f.Duration = n.end
		}
	}

	return f, nil
}

// readMIDIFile parses a file, converting parser panics into errors.
func readMIDIFile(path string) (s *smf.SMF, err error) {
	// https://github.com/gomidi/midi/issues/20
	defer func() {
		if r := recover(); r != nil {
			s = nil
			err = fmt.Errorf("parse midi file %s: %v", filepath.Base(path), r)
		}
	}()

	dat, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read midi file: %w", err)
	}

	s, err = smf.ReadFrom(bytes.NewReader(dat))
	if err != nil {
		return nil, fmt.Errorf("parse midi file %s: %w", filepath.Base(path), err)
	}
	return s, nil
}

// midiNotes returns notes across all tracks ordered by start time, and the first tempo.
func midiNotes(s *smf.SMF) ([]midiNote, float64) {
	tempo := 0.0
	var notes []midiNote

	for _, track := range s.Tracks {
		var absTicks int64
		// open notes per channel and key
		pressed := make(map[[2]uint8]int)

		for _, event := range track {
			absTicks += int64(event.Delta)
			at := float64(s.TimeAt(absTicks)) / 1e6

			var channel, key, velocity uint8
			var bpm float64
			switch {
			case event.Message.GetMetaTempo(&bpm):
				if tempo == 0 {
					tempo = bpm
				}
			case event.Message.GetNoteOn(&channel, &key, &velocity) && velocity > 0:
				k := [2]uint8{channel, key}
				// a re-struck key ends the note still sounding
				if i, ok := pressed[k]; ok {
					notes[i].end = at
				}
				pressed[k] = len(notes)
				notes = append(notes, midiNote{start: at, end: at, key: key, velocity: velocity})
			case event.Message.GetNoteOn(&channel, &key, &velocity),
				event.Message.GetNoteOff(&channel, &key, &velocity):
				if i, ok := pressed[[2]uint8{channel, key}]; ok {
					notes[i].end = at
					delete(pressed, [2]uint8{channel, key})
				}
			}
		}
	}

	sort.SliceStable(notes, func(i, j int) bool {
		return notes[i].start < notes[j].start
	})

	if tempo == 0 {
		tempo = DefaultMIDITempo
	}
	return notes, tempo
}
