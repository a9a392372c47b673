// Package pipeline wires the image source, the segmenters, the sample
// selector and the local space average into one run, writes the outputs
// and records the run.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"path/filepath"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/seathru/internal/backscatter"
	"github.com/banshee-data/seathru/internal/clustering"
	"github.com/banshee-data/seathru/internal/compute"
	"github.com/banshee-data/seathru/internal/config"
	"github.com/banshee-data/seathru/internal/depthmap"
	"github.com/banshee-data/seathru/internal/errs"
	"github.com/banshee-data/seathru/internal/fsutil"
	"github.com/banshee-data/seathru/internal/illuminant"
	"github.com/banshee-data/seathru/internal/imagesource"
	"github.com/banshee-data/seathru/internal/monitoring"
	"github.com/banshee-data/seathru/internal/render"
	"github.com/banshee-data/seathru/internal/segmentation"
	"github.com/banshee-data/seathru/internal/storage/sqlite"
)

// Output file names inside the output directory.
const (
	SummaryFile     = "summary.json"
	SamplesFile     = "samples.json"
	SamplesPlotFile = "samples.png"
	SamplesHTMLFile = "samples.html"
)

// Request names the inputs and the requested outputs of one run.
type Request struct {
	ImagePath string
	DepthPath string
	// OutputDir receives the label map, plots and JSON. Empty skips all file output.
	OutputDir string
	// LabelFormat is "png" or "webp". Empty means png.
	LabelFormat string
	// Plots enables the PNG scatter and HTML chart of the samples.
	Plots bool
	// LocalSpaceAverage runs the illuminant estimate over the segmentation.
	LocalSpaceAverage bool
}

// Summary describes a completed run.
type Summary struct {
	RunID           string   `json:"run_id,omitempty"`
	ImagePath       string   `json:"image_path"`
	DepthPath       string   `json:"depth_path"`
	Segmenter       string   `json:"segmenter"`
	Width           int      `json:"width"`
	Height          int      `json:"height"`
	SourceWidth     int      `json:"source_width"`
	SourceHeight    int      `json:"source_height"`
	DepthMin        float64  `json:"depth_min"`
	DepthMax        float64  `json:"depth_max"`
	DepthMean       float64  `json:"depth_mean"`
	DepthStdDev     float64  `json:"depth_stddev"`
	Segments        uint32   `json:"segments"`
	BackgroundCells int      `json:"background_cells"`
	SampleCount     int      `json:"sample_count"`
	LSAIterations   int      `json:"lsa_iterations,omitempty"`
	LSAConverged    bool     `json:"lsa_converged,omitempty"`
	DurationMS      int64    `json:"duration_ms"`
	Outputs         []string `json:"outputs,omitempty"`
}

// Runner executes pipeline runs.
type Runner struct {
	Config *config.TuningConfig
	FS     fsutil.FileSystem
	// Backend runs the clustering segmenter. Nil builds a CPU backend from Config.
	Backend compute.Backend
	// Store records every run, successful or not. Nil disables recording.
	Store *sqlite.RunStore
}

// NewRunner returns a Runner on the OS filesystem.
func NewRunner(cfg *config.TuningConfig) *Runner {
	return &Runner{Config: cfg, FS: fsutil.OSFileSystem{}}
}

// Run executes req. When a Store is set the run is recorded even if it fails.
func (r *Runner) Run(ctx context.Context, req Request) (*Summary, error) {
	start := time.Now()
	summary := &Summary{
		ImagePath: req.ImagePath,
		DepthPath: req.DepthPath,
		Segmenter: r.cfg().GetSegmenter(),
	}

	var lsa illuminant.Result
	err := r.run(ctx, req, summary, &lsa)
	summary.DurationMS = time.Since(start).Milliseconds()
	if err != nil {
		monitoring.Opsf("pipeline: run failed (%s): %v", errs.Kind(err), err)
	}

	if r.Store != nil {
		if recErr := r.record(summary, err); recErr != nil {
			monitoring.Opsf("pipeline: failed to record run: %v", recErr)
			if err == nil {
				err = recErr
			}
		}
	}
	if err != nil {
		return nil, err
	}

	if req.OutputDir != "" {
		if err := r.writeJSON(filepath.Join(req.OutputDir, SummaryFile), summary); err != nil {
			return nil, err
		}
	}
	return summary, nil
}

func (r *Runner) cfg() *config.TuningConfig {
	if r.Config == nil {
		return config.EmptyTuningConfig()
	}
	return r.Config
}

func (r *Runner) fs() fsutil.FileSystem {
	if r.FS == nil {
		return fsutil.OSFileSystem{}
	}
	return r.FS
}

func (r *Runner) run(ctx context.Context, req Request, summary *Summary, lsa *illuminant.Result) error {
	cfg := r.cfg()

	scene, err := imagesource.Load(r.fs(), req.ImagePath, req.DepthPath, imagesource.Options{MaxPixels: r.maxPixels()})
	if err != nil {
		return err
	}
	summary.Width, summary.Height = scene.Depth.Width, scene.Depth.Height
	summary.SourceWidth, summary.SourceHeight = scene.SourceWidth, scene.SourceHeight
	summary.DepthMin, summary.DepthMax = scene.Depth.Range()
	summary.DepthMean, summary.DepthStdDev = stat.MeanStdDev(scene.Depth.Depths, nil)
	monitoring.Diagf("pipeline: loaded %dx%d (source %dx%d), depth [%g, %g]",
		summary.Width, summary.Height, summary.SourceWidth, summary.SourceHeight, summary.DepthMin, summary.DepthMax)

	seg, err := r.segmenter()
	if err != nil {
		return err
	}
	nmap, count, err := seg.Segment(ctx, scene.Depth)
	if err != nil {
		return fmt.Errorf("segment: %w", err)
	}
	summary.Segments = count
	summary.BackgroundCells = countLabel(nmap, 0)

	params, err := SelectorParams(cfg)
	if err != nil {
		return err
	}
	samples, err := backscatter.SelectSamples(scene.Depth, scene.Image, params)
	if err != nil {
		return fmt.Errorf("select samples: %w", err)
	}
	summary.SampleCount = samples.Len()
	monitoring.Diagf("pipeline: %d segments, %d background cells, %d samples", count, summary.BackgroundCells, samples.Len())

	if req.LocalSpaceAverage {
		*lsa, err = illuminant.LocalSpaceAverage(ctx, scene.Image, nmap, LSAParams(cfg))
		if err != nil {
			return fmt.Errorf("local space average: %w", err)
		}
		summary.LSAIterations, summary.LSAConverged = lsa.Iterations, lsa.Converged
	}

	if req.OutputDir == "" {
		return nil
	}
	return r.writeOutputs(req, summary, nmap, samples, lsa)
}

func (r *Runner) writeOutputs(req Request, summary *Summary, nmap *depthmap.NeighborhoodMap, samples backscatter.Samples, lsa *illuminant.Result) error {
	fsys := r.fs()
	if err := fsys.MkdirAll(req.OutputDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	format := req.LabelFormat
	if format == "" {
		format = "png"
	}
	out := func(name string) string {
		p := filepath.Join(req.OutputDir, name)
		summary.Outputs = append(summary.Outputs, p)
		return p
	}

	if err := render.WriteLabelMap(fsys, out("labels."+format), nmap); err != nil {
		return err
	}
	if err := r.writeJSON(out(SamplesFile), samplesJSON(samples)); err != nil {
		return err
	}
	if lsa.Average != nil {
		if err := render.WriteRGBImage(fsys, out("illuminant."+format), lsa.Average); err != nil {
			return err
		}
	}
	if !req.Plots {
		return nil
	}
	if err := render.PlotSamples(fsys, out(SamplesPlotFile), samples); err != nil {
		return err
	}
	w, err := fsys.Create(out(SamplesHTMLFile))
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", SamplesHTMLFile, err)
	}
	if err := render.SamplesHTML(w, samples, filepath.Base(req.ImagePath)); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

// maxPixels applies dbscan_max_points on top of max_pixels for the
// clustering segmenter, whose cost grows with the square of the cell count.
func (r *Runner) maxPixels() int {
	cfg := r.cfg()
	limit := cfg.GetMaxPixels()
	if cfg.GetSegmenter() == "dbscan" {
		if p := cfg.GetDBSCANMaxPoints(); limit <= 0 || p < limit {
			limit = p
		}
	}
	return limit
}

func (r *Runner) segmenter() (segmentation.Segmenter, error) {
	cfg := r.cfg()
	switch name := cfg.GetSegmenter(); name {
	case "flood":
		return &segmentation.FloodSegmenter{
			EpsilonFraction: cfg.GetEpsilonFraction(),
			RandomizedSeed:  cfg.GetRandomizedSeed(),
			NearZeroOffset:  cfg.GetNearZeroOffset(),
			Rand:            rand.New(rand.NewSource(cfg.GetRandomSeed())),
		}, nil
	case "dbscan":
		backend := r.Backend
		if backend == nil {
			backend = compute.NewCPUBackend(compute.AcquireOptions{
				PowerPreference: compute.ParsePowerPreference(cfg.GetPowerPreference()),
				Label:           "seathru",
			})
		}
		engine := clustering.NewEngine(backend, EngineOptions(cfg))
		seg := segmentation.NewClusterSegmenter(clustering.NewDBSCANClusterer(engine, ClusterParams(cfg)), cfg.GetDBSCANDepthScale())
		seg.NearZeroOffset = cfg.GetNearZeroOffset()
		return seg, nil
	default:
		return nil, errs.Invalid("unknown segmenter %q", name)
	}
}

func (r *Runner) record(summary *Summary, runErr error) error {
	params, err := json.Marshal(r.cfg())
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}
	run := &sqlite.Run{
		ImagePath:       summary.ImagePath,
		DepthPath:       summary.DepthPath,
		Segmenter:       summary.Segmenter,
		Width:           summary.Width,
		Height:          summary.Height,
		Segments:        summary.Segments,
		BackgroundCells: summary.BackgroundCells,
		SampleCount:     summary.SampleCount,
		LSAIterations:   summary.LSAIterations,
		LSAConverged:    summary.LSAConverged,
		DurationMS:      summary.DurationMS,
		ParamsJSON:      params,
	}
	if runErr != nil {
		run.ErrorKind = errs.Kind(runErr)
		run.ErrorMessage = runErr.Error()
	}
	if err := r.Store.Insert(run); err != nil {
		return err
	}
	summary.RunID = run.RunID
	return nil
}

func (r *Runner) writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	if err := r.fs().WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func countLabel(nmap *depthmap.NeighborhoodMap, label int32) int {
	n := 0
	for _, l := range nmap.Labels {
		if l == label {
			n++
		}
	}
	return n
}

type channelSamples struct {
	Depth     []float64 `json:"depth"`
	Intensity []float64 `json:"intensity"`
}

func samplesJSON(s backscatter.Samples) map[string]channelSamples {
	names := [3]string{"red", "green", "blue"}
	out := make(map[string]channelSamples, len(names))
	for ch, seq := range s {
		cs := channelSamples{Depth: make([]float64, len(seq)), Intensity: make([]float64, len(seq))}
		for i, smp := range seq {
			cs.Depth[i], cs.Intensity[i] = smp.Depth, smp.Intensity
		}
		out[names[ch]] = cs
	}
	return out
}
