// CLI for performance scoring and the upload server.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/labstack/gommon/log"
	"github.com/nzoschke/perfscore/pkg/analysis"
	"github.com/nzoschke/perfscore/pkg/assess"
	"github.com/nzoschke/perfscore/pkg/server"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "perfscore",
	Short:         "Score a performance recording against a reference",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var compareCmd = &cobra.Command{
	Use:   "compare <reference> <candidate>",
	Short: "Score one candidate against a reference",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		return runCompare(cmd, args[0], args[1], asJSON)
	},
}

var batchCmd = &cobra.Command{
	Use:   "batch <reference> <candidate...>",
	Short: "Score many candidates against one reference",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBatch(cmd, args[0], args[1:])
	},
}

var tempoCmd = &cobra.Command{
	Use:   "tempo <reference> <candidate...>",
	Short: "Compare candidate tempos against a reference",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTempo(cmd, args[0], args[1:])
	},
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze <directory>",
	Short: "Extract features for audio files and write JSON sidecars",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		resolutions, _ := cmd.Flags().GetIntSlice("resolutions")
		return runAnalyze(cmd, args[0], resolutions, force)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the upload and score web server",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		return runServe(cmd, addr)
	},
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "YAML scoring profile")
	rootCmd.PersistentFlags().StringP("preset", "p", "", fmt.Sprintf("Scoring preset %v (default standard, web for serve)", assess.Presets()))
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Log debug output")

	compareCmd.Flags().Bool("json", false, "Print the full report as JSON")
	analyzeCmd.Flags().BoolP("force", "f", false, "Force re-extraction even if a sidecar exists")
	analyzeCmd.Flags().IntSlice("resolutions", []int{analysis.DefaultResolution}, "FFT sizes to extract")
	serveCmd.Flags().String("addr", ":8080", "Listen address")

	rootCmd.AddCommand(compareCmd, batchCmd, tempoCmd, analyzeCmd, serveCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func newLogger(cmd *cobra.Command) *log.Logger {
	l := log.New("perfscore")
	l.SetOutput(os.Stderr)
	l.SetHeader("${time_rfc3339} ${level}")
	l.SetLevel(log.INFO)
	if v, _ := cmd.Flags().GetBool("verbose"); v {
		l.SetLevel(log.DEBUG)
	}
	return l
}

// loadConfig resolves --config, then --preset, then defaultPreset.
func loadConfig(cmd *cobra.Command, defaultPreset string) (assess.Config, error) {
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		return assess.LoadConfig(path)
	}
	preset, _ := cmd.Flags().GetString("preset")
	if !cmd.Flags().Changed("preset") {
		preset = defaultPreset
	}
	return assess.Preset(preset)
}

func newAssessor(cmd *cobra.Command, defaultPreset string) (*assess.Assessor, *log.Logger, error) {
	cfg, err := loadConfig(cmd, defaultPreset)
	if err != nil {
		return nil, nil, err
	}
	l := newLogger(cmd)
	a, err := assess.New(cfg, analysis.NewAutoExtractor(), assess.WithLogger(l))
	if err != nil {
		return nil, nil, err
	}
	l.Debugf("preset %s, resolutions %v", cfg.Preset, a.Resolutions())
	return a, l, nil
}

var dimensions = []assess.Dimension{assess.Pitch, assess.Dynamics, assess.Time, assess.Rhythm, assess.Duration, assess.Tempo}

func runCompare(cmd *cobra.Command, reference, candidate string, asJSON bool) error {
	a, _, err := newAssessor(cmd, "")
	if err != nil {
		return err
	}

	report, err := a.Compare(cmd.Context(), reference, candidate)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if asJSON {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal report: %w", err)
		}
		fmt.Fprintln(out, string(data))
		return nil
	}

	fmt.Fprintf(out, "%s vs %s\n", report.Reference, report.Candidate)
	for _, d := range dimensions {
		ds, ok := report.Dimensions[d]
		if !ok {
			continue
		}
		fmt.Fprintf(out, "%-9s %5.2f\n", d, ds.Score)
		if d == assess.Tempo || len(ds.PerResolution) < 2 {
			continue
		}
		for _, rs := range ds.PerResolution {
			fmt.Fprintf(out, "  %6d %5.2f (raw %5.2f, %d/%d matched)\n", rs.Resolution, rs.Score, rs.Raw, rs.Matched, rs.Total)
		}
	}
	if t := report.Tempo; t != nil {
		fmt.Fprintf(out, "tempo     %.1f vs %.1f bpm (corrected %.1f, accuracy %.1f%%)\n", t.Reference, t.Candidate, t.Corrected, t.Accuracy)
	}
	return nil
}

func runBatch(cmd *cobra.Command, reference string, candidates []string) error {
	a, _, err := newAssessor(cmd, "")
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	failed := 0
	for _, res := range a.Batch(cmd.Context(), reference, candidates) {
		name := filepath.Base(res.Candidate)
		if res.Err != nil {
			failed++
			fmt.Fprintf(out, "%s\terror: %v\n", name, res.Err)
			continue
		}
		var parts []string
		for _, d := range dimensions {
			if s, ok := res.Report.Score(d); ok {
				parts = append(parts, fmt.Sprintf("%s=%.2f", d, s))
			}
		}
		fmt.Fprintf(out, "%s\t%s\n", name, strings.Join(parts, " "))
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d candidates failed", failed, len(candidates))
	}
	return nil
}

func runTempo(cmd *cobra.Command, reference string, candidates []string) error {
	cfg, err := loadConfig(cmd, "")
	if err != nil {
		return err
	}
	l := newLogger(cmd)

	r := cfg.Tempo.Resolution
	if r == 0 {
		r = analysis.DefaultResolution
		if len(cfg.Resolutions) > 0 {
			r = cfg.Resolutions[0]
		}
	}

	ext := analysis.NewAutoExtractor()
	ref, err := ext.Extract(cmd.Context(), reference, r)
	if err != nil {
		return fmt.Errorf("extract reference: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "reference %s: %.1f bpm\n", filepath.Base(reference), ref.Tempo)
	for _, c := range candidates {
		cand, err := ext.Extract(cmd.Context(), c, r)
		if err != nil {
			l.Errorf("%s: %v", filepath.Base(c), err)
			continue
		}
		t := assess.CompareTempo(ref.Tempo, cand.Tempo, cfg.Tempo)
		flag := ""
		if t.Significant {
			flag = " *"
		}
		fmt.Fprintf(out, "%s\t%.1f bpm\tcorrected %.1f\taccuracy %.1f%%\tscore %.1f%s\n",
			filepath.Base(c), t.Candidate, t.Corrected, t.Accuracy, t.Score, flag)
	}
	return nil
}

func runAnalyze(cmd *cobra.Command, dir string, resolutions []int, force bool) error {
	l := newLogger(cmd)

	sum, err := analysis.ExtractDir(cmd.Context(), analysis.NewLibrosaExtractor(), dir, analysis.DirOptions{
		Resolutions: resolutions,
		Force:       force,
		Logger:      l,
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%d written, %d skipped, %d failed\n", sum.Written, sum.Skipped, sum.Failed)
	return nil
}

func runServe(cmd *cobra.Command, addr string) error {
	a, l, err := newAssessor(cmd, "web")
	if err != nil {
		return err
	}
	e := server.New(a, "")
	e.Logger.SetLevel(l.Level())
	l.Infof("serving %s preset on %s", a.Config().Preset, addr)
	return e.Start(addr)
}
