// This file provides audio file probing: format detection, sample rate and duration.
package analysis

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
)

// AudioInfo describes a probed file.
type AudioInfo struct {
	Format     string        `json:"format"` // "wav", "mp3" or "midi"
	SampleRate int           `json:"sample_rate,omitempty"`
	Channels   int           `json:"channels,omitempty"`
	BitDepth   int           `json:"bit_depth,omitempty"`
	Duration   time.Duration `json:"duration"`

	// EncoderDelay is the number of leading samples the MP3 encoder padded.
	EncoderDelay int `json:"encoder_delay,omitempty"`
}

// ProbeAudio detects the format of path from its content and reads its basic properties.
// Files that are not WAV, MP3 or MIDI return ErrUnsupportedFormat, and files that
// look like one but fail to decode return ErrInvalidAudio.
func ProbeAudio(path string) (*AudioInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	defer f.Close()

	head := make([]byte, 12)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF {
		if err == io.EOF {
			return nil, fmt.Errorf("%w: empty file", ErrUnsupportedFormat)
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	head = head[:n]
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek: %w", err)
	}

	switch {
	case len(head) >= 12 && string(head[0:4]) == "RIFF" && string(head[8:12]) == "WAVE":
		return probeWAV(f)
	case bytes.HasPrefix(head, []byte("MThd")):
		return probeMIDI(path)
	case bytes.HasPrefix(head, []byte("ID3")) || isMP3Sync(head):
		return probeMP3(path, f)
	default:
		return nil, fmt.Errorf("%w: unrecognized header", ErrUnsupportedFormat)
	}
}

func isMP3Sync(head []byte) bool {
	return len(head) >= 2 && head[0] == 0xFF && head[1]&0xE0 == 0xE0
}

func probeWAV(f *os.File) (*AudioInfo, error) {
	decoder := wav.NewDecoder(f)
	if !decoder.IsValidFile() {
		return nil, fmt.Errorf("%w: not a decodable WAV file", ErrInvalidAudio)
	}

	duration, err := decoder.Duration()
	if err != nil {
		return nil, fmt.Errorf("wav duration: %w", err)
	}

	return &AudioInfo{
		Format:     "wav",
		SampleRate: int(decoder.SampleRate),
		Channels:   int(decoder.NumChans),
		BitDepth:   int(decoder.BitDepth),
		Duration:   duration,
	}, nil
}

func probeMP3(path string, f *os.File) (*AudioInfo, error) {
	decoder, err := mp3.NewDecoder(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAudio, err)
	}

	sampleRate := decoder.SampleRate()
	delay := encoderDelay(path)

	// go-mp3 outputs 16-bit stereo: 4 bytes per sample pair
	samples := decoder.Length()/4 - int64(delay)
	if samples < 0 {
		samples = 0
	}

	var duration time.Duration
	if sampleRate > 0 {
		duration = time.Duration(float64(samples) / float64(sampleRate) * float64(time.Second))
	}

	return &AudioInfo{
		Format:       "mp3",
		SampleRate:   sampleRate,
		Channels:     2,
		BitDepth:     16,
		Duration:     duration,
		EncoderDelay: delay,
	}, nil
}

func probeMIDI(path string) (*AudioInfo, error) {
	s, err := readMIDIFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAudio, err)
	}

	notes, _ := midiNotes(s)
	var end float64
	for _, n := range notes {
		end = max(end, n.end)
	}

	return &AudioInfo{
		Format:   "midi",
		Duration: time.Duration(end * float64(time.Second)),
	}, nil
}

// defaultEncoderDelay is the LAME delay assumed when an MP3 has no LAME tag.
const defaultEncoderDelay = 576

// encoderDelay returns the encoder padding declared in the LAME tag near the start
// of the file.
func encoderDelay(path string) int {
	f, err := os.Open(path)
	if err != nil {
		return defaultEncoderDelay
	}
	defer f.Close()

	buf := make([]byte, 4096)
	n, _ := io.ReadFull(f, buf)
	if n < 200 {
		return defaultEncoderDelay
	}
	return lameDelay(buf[:n])
}

// lameDelay parses the 12-bit encoder delay at offset 21 from the "LAME" marker.
func lameDelay(buf []byte) int {
	lameIdx := bytes.Index(buf, []byte("LAME"))
	if lameIdx == -1 {
		return defaultEncoderDelay
	}

	delayOffset := lameIdx + 21
	if delayOffset+3 > len(buf) {
		return defaultEncoderDelay
	}

	// Encoder delay is in the upper 12 bits of the 24-bit value
	b := buf[delayOffset : delayOffset+3]
	delay := (int(b[0]) << 4) | (int(b[1]) >> 4)

	// typically 576-1152
	if delay > 4096 {
		return defaultEncoderDelay
	}

	return delay
}
