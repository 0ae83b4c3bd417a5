package analysis

import (
	"context"
	"fmt"
	"path/filepath"
)

// SidecarExtractor reads features written earlier by ExtractDir.
type SidecarExtractor struct{}

// Extract implements Extractor. Resolution 0 selects DefaultResolution.
func (SidecarExtractor) Extract(ctx context.Context, path string, resolution int) (*Features, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fs, err := ReadFeatureSet(SidecarPath(path))
	if err != nil {
		return nil, fmt.Errorf("read sidecar for %s: %w", filepath.Base(path), err)
	}

	key := resolution
	if key <= 0 {
		key = DefaultResolution
	}
	f, ok := fs.Resolutions[key]
	if !ok || f == nil {
		return nil, fmt.Errorf("%s at %d: %w", filepath.Base(path), key, ErrNoResolution)
	}

	out := *f
	out.Resolution = resolution
	if out.File == "" {
		out.File = fs.File
	}
	return &out, nil
}
