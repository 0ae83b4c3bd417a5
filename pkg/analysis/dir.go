package analysis

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// DirOptions controls ExtractDir.
type DirOptions struct {
	// Resolutions to extract. Default: [DefaultResolution]
	Resolutions []int

	// Force overwrites existing sidecars.
	Force bool

	Logger Logger
}

// DirSummary counts what ExtractDir did.
type DirSummary struct {
	Written int
	Skipped int
	Failed  int
}

// ExtractDir recursively extracts features for all audio files in a directory.
// For each audio file, it creates a corresponding .features.json sidecar.
// A file that fails to extract is logged and skipped.
func ExtractDir(ctx context.Context, ext Extractor, dir string, opts DirOptions) (DirSummary, error) {
	var sum DirSummary

	log := opts.Logger
	if log == nil {
		log = NopLogger{}
	}

	resolutions := opts.Resolutions
	if len(resolutions) == 0 {
		resolutions = []int{DefaultResolution}
	}

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		if !isSupportedAudio(strings.ToLower(filepath.Ext(path))) {
			return nil
		}

		sidecar := SidecarPath(path)
		if !opts.Force {
			if _, err := os.Stat(sidecar); err == nil {
				log.Infof("Skipping %s (already analyzed)", filepath.Base(path))
				sum.Skipped++
				return nil
			}
		}

		log.Infof("Analyzing %s...", filepath.Base(path))

		set := &FeatureSet{
			File:        filepath.Base(path),
			Resolutions: make(map[int]*Features, len(resolutions)),
		}
		for _, r := range resolutions {
			if r <= 0 {
				r = DefaultResolution
			}
			f, err := ext.Extract(ctx, path, r)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				log.Errorf("  %s at %d: %v", filepath.Base(path), r, err)
				sum.Failed++
				return nil
			}
			set.Resolutions[r] = f
			log.Debugf("  %d: onsets=%d pitches=%d tempo=%.1f", r, len(f.Onsets), len(f.Pitches), f.Tempo)
		}

		if err := set.WriteJSON(sidecar); err != nil {
			return fmt.Errorf("write sidecar: %w", err)
		}
		sum.Written++
		return nil
	})

	return sum, err
}
