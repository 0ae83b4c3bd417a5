// Package server provides the Echo web server for upload-and-score requests.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/nzoschke/perfscore/pkg/analysis"
	"github.com/nzoschke/perfscore/pkg/assess"
)

// Comparer scores a candidate recording against a reference. *assess.Assessor
// implements it.
type Comparer interface {
	Compare(ctx context.Context, referencePath, candidatePath string) (*assess.Report, error)
}

// Form fields of POST /calculate.
const (
	ReferenceField = "original_file"
	CandidateField = "user_file"
)

// accuracyKeys maps dimensions to response keys.
var accuracyKeys = map[assess.Dimension]string{
	assess.Pitch:    "pitch_accuracy",
	assess.Time:     "timing_accuracy",
	assess.Dynamics: "dynamics_accuracy",
	assess.Rhythm:   "rhythm_accuracy",
	assess.Duration: "duration_accuracy",
	assess.Tempo:    "tempo_accuracy",
}

type handler struct {
	cmp Comparer
	dir string
}

// New returns the Echo app. Uploads are staged in dir, or the system temp dir if
// dir is empty.
func New(cmp Comparer, dir string) *echo.Echo {
	if dir == "" {
		dir = os.TempDir()
	}
	h := &handler{cmp: cmp, dir: dir}

	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = errorHandler

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	// Routes
	e.GET("/", serveIndex)
	e.GET("/health", health)
	e.POST("/calculate", h.calculate)

	return e
}

// serveIndex describes the service.
func serveIndex(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"service": "perfscore",
		"routes": map[string]string{
			"POST /calculate": fmt.Sprintf("multipart %s and %s, returns accuracy scores", ReferenceField, CandidateField),
			"GET /health":     "liveness",
		},
	})
}

func health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// calculate stages both uploads, scores them and removes them.
func (h *handler) calculate(c echo.Context) error {
	ref, err := h.stage(c, ReferenceField)
	if err != nil {
		return err
	}
	defer os.Remove(ref)

	cand, err := h.stage(c, CandidateField)
	if err != nil {
		return err
	}
	defer os.Remove(cand)

	report, err := h.cmp.Compare(c.Request().Context(), ref, cand)
	if err != nil {
		return fmt.Errorf("compare: %w", err)
	}

	return c.JSON(http.StatusOK, accuracies(report))
}

// stage copies the form file to a unique path in h.dir and probes it. The client's
// extension is kept when an extractor reads it, otherwise the probed format names
// the file. Uploads that neither the probe nor an extractor understand are rejected.
func (h *handler) stage(c echo.Context, field string) (string, error) {
	fh, err := c.FormFile(field)
	if err != nil {
		return "", echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("missing form file %q", field))
	}

	src, err := fh.Open()
	if err != nil {
		return "", fmt.Errorf("open %s: %w", field, err)
	}
	defer src.Close()

	path := filepath.Join(h.dir, uuid.NewString()+strings.ToLower(filepath.Ext(fh.Filename)))
	dst, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("stage %s: %w", field, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(path)
		return "", fmt.Errorf("stage %s: %w", field, err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("stage %s: %w", field, err)
	}

	info, err := analysis.ProbeAudio(path)
	switch {
	case err == nil:
		c.Logger().Infof("%s: %s %s %dHz %dch %s", field, fh.Filename, info.Format, info.SampleRate, info.Channels, info.Duration)
		if analysis.Supported(path) {
			return path, nil
		}
		named := strings.TrimSuffix(path, filepath.Ext(path)) + analysis.FormatExtension(info.Format)
		if err := os.Rename(path, named); err != nil {
			os.Remove(path)
			return "", fmt.Errorf("stage %s: %w", field, err)
		}
		return named, nil
	case errors.Is(err, analysis.ErrUnsupportedFormat) && analysis.Supported(path):
		c.Logger().Infof("%s: %s not probed, left to the extractor", field, fh.Filename)
		return path, nil
	case errors.Is(err, analysis.ErrUnsupportedFormat), errors.Is(err, analysis.ErrInvalidAudio):
		os.Remove(path)
		return "", echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("%s: %v", field, err))
	default:
		os.Remove(path)
		return "", fmt.Errorf("probe %s: %w", field, err)
	}
}

// accuracies returns the response body: one key per computed dimension.
func accuracies(r *assess.Report) map[string]float64 {
	out := make(map[string]float64, len(r.Dimensions))
	for d, key := range accuracyKeys {
		if s, ok := r.Score(d); ok {
			out[key] = s
		}
	}
	return out
}

// errorHandler renders every error as {"error": "..."}. Errors that aren't
// *echo.HTTPError are faults and answer 500.
func errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	code := http.StatusInternalServerError
	msg := err.Error()
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		msg = fmt.Sprint(he.Message)
	}

	if code >= http.StatusInternalServerError {
		c.Logger().Errorf("%s %s: %v", c.Request().Method, c.Path(), err)
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(code)
	} else {
		err = c.JSON(code, map[string]string{"error": msg})
	}
	if err != nil {
		c.Logger().Error(err)
	}
}
