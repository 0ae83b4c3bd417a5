package analysis

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrNoResolution is returned by a sidecar that has no entry for a resolution.
	ErrNoResolution = errors.New("resolution not present in sidecar")

	// ErrUnsupportedFormat is returned for files no extractor or probe understands.
	ErrUnsupportedFormat = errors.New("unsupported audio format")

	// ErrInvalidAudio is returned by the probe for a recognized container that
	// does not decode.
	ErrInvalidAudio = errors.New("invalid audio file")
)

// Extractor produces features for one file at one resolution.
type Extractor interface {
	Extract(ctx context.Context, path string, resolution int) (*Features, error)
}

// SidecarPath returns the path of the feature sidecar for an audio file.
func SidecarPath(audioPath string) string {
	ext := filepath.Ext(audioPath)
	return strings.TrimSuffix(audioPath, ext) + ".features.json"
}

// AutoExtractor picks an extractor per file: MIDI files are read symbolically,
// audio files with a sidecar read the sidecar, anything else runs librosa.
type AutoExtractor struct {
	MIDI    Extractor
	Sidecar Extractor
	Audio   Extractor
}

// NewAutoExtractor returns an AutoExtractor with the default implementations.
func NewAutoExtractor() *AutoExtractor {
	return &AutoExtractor{
		MIDI:    &MIDIExtractor{},
		Sidecar: &SidecarExtractor{},
		Audio:   NewLibrosaExtractor(),
	}
}

// Extract implements Extractor.
func (a *AutoExtractor) Extract(ctx context.Context, path string, resolution int) (*Features, error) {
	if isMIDI(path) {
		return a.MIDI.Extract(ctx, path, resolution)
	}

	if a.Sidecar != nil {
		if _, err := os.Stat(SidecarPath(path)); err == nil {
			f, err := a.Sidecar.Extract(ctx, path, resolution)
			if !errors.Is(err, ErrNoResolution) {
				return f, err
			}
		}
	}

	if ext := strings.ToLower(filepath.Ext(path)); !isSupportedAudio(ext) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
	return a.Audio.Extract(ctx, path, resolution)
}

// Supported reports whether an extractor reads path, judged by its extension.
func Supported(path string) bool {
	return isMIDI(path) || isSupportedAudio(strings.ToLower(filepath.Ext(path)))
}

// FormatExtension returns the file extension for a probed AudioInfo.Format, or ""
// for an unknown format.
func FormatExtension(format string) string {
	switch format {
	case "wav":
		return ".wav"
	case "mp3":
		return ".mp3"
	case "midi":
		return ".mid"
	default:
		return ""
	}
}

func isMIDI(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mid", ".midi":
		return true
	default:
		return false
	}
}

// isSupportedAudio returns true if the file extension is a supported audio format.
func isSupportedAudio(ext string) bool {
	switch ext {
	case ".mp3", ".m4a", ".aac", ".wav", ".flac", ".ogg", ".aiff":
		return true
	default:
		return false
	}
}
