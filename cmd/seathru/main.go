// Package main provides the seathru command line tool. It segments a depth
// map into neighborhoods, selects backscatter sample points from the
// paired color image and writes the results.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/banshee-data/seathru/internal/config"
	"github.com/banshee-data/seathru/internal/fsutil"
	"github.com/banshee-data/seathru/internal/monitoring"
	"github.com/banshee-data/seathru/internal/pipeline"
	"github.com/banshee-data/seathru/internal/storage/sqlite"
	"github.com/banshee-data/seathru/internal/version"
)

// Config holds the command line options.
type Config struct {
	ImagePath   string
	DepthPath   string
	ConfigPath  string
	Segmenter   string
	OutputDir   string
	LabelFormat string
	DBPath      string
	Plots       bool
	LSA         bool
	Verbose     bool
	Trace       bool
	ListRuns    int
	Version     bool
}

func main() {
	cfg := parseFlags()

	if cfg.Version {
		fmt.Println(version.String())
		return
	}

	writers := monitoring.LogWriters{Ops: os.Stderr}
	if cfg.Verbose || cfg.Trace {
		writers.Diag = os.Stderr
	}
	if cfg.Trace {
		writers.Trace = os.Stderr
	}
	monitoring.SetLogWriters(writers)

	if cfg.ListRuns > 0 {
		if err := listRuns(cfg); err != nil {
			log.Fatalf("List runs failed: %v", err)
		}
		return
	}

	if cfg.ImagePath == "" || cfg.DepthPath == "" {
		fmt.Fprintln(os.Stderr, "usage: seathru -image <color> -depth <depth> [-config tuning.json] [-out dir] ...")
		os.Exit(2)
	}

	tuning, err := loadTuning(cfg)
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	runner := &pipeline.Runner{Config: tuning, FS: fsutil.OSFileSystem{}}
	if cfg.DBPath != "" {
		store, err := sqlite.OpenRunStore(cfg.DBPath)
		if err != nil {
			log.Fatalf("Failed to open run store: %v", err)
		}
		defer store.Close()
		runner.Store = store
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	summary, err := runner.Run(ctx, pipeline.Request{
		ImagePath:         cfg.ImagePath,
		DepthPath:         cfg.DepthPath,
		OutputDir:         cfg.OutputDir,
		LabelFormat:       cfg.LabelFormat,
		Plots:             cfg.Plots,
		LocalSpaceAverage: cfg.LSA,
	})
	if err != nil {
		stop()
		log.Fatalf("Run failed: %v", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		log.Printf("Warning: failed to print summary: %v", err)
	}
}

func parseFlags() Config {
	cfg := Config{}

	flag.StringVar(&cfg.ImagePath, "image", "", "Color image (PNG, JPEG, WebP or TIFF)")
	flag.StringVar(&cfg.DepthPath, "depth", "", "Depth map image (grayscale, 16-bit preferred)")
	flag.StringVar(&cfg.ConfigPath, "config", "", "Tuning config JSON (defaults apply to omitted fields)")
	flag.StringVar(&cfg.Segmenter, "segmenter", "", "Override segmenter: flood or dbscan")
	flag.StringVar(&cfg.OutputDir, "out", "", "Output directory for label map, samples and summary")
	flag.StringVar(&cfg.LabelFormat, "format", "png", "Label map format: png or webp")
	flag.StringVar(&cfg.DBPath, "db", "", "SQLite database recording each run")
	flag.BoolVar(&cfg.Plots, "plots", false, "Write sample scatter plot (PNG) and chart (HTML)")
	flag.BoolVar(&cfg.LSA, "lsa", false, "Compute the local space average illuminant estimate")
	flag.BoolVar(&cfg.Verbose, "verbose", false, "Enable diagnostic logging")
	flag.BoolVar(&cfg.Trace, "trace", false, "Enable per-region and per-bin trace logging")
	flag.IntVar(&cfg.ListRuns, "list", 0, "List the N most recent runs from -db and exit")
	flag.BoolVar(&cfg.Version, "version", false, "Print version and exit")

	flag.Parse()

	return cfg
}

func loadTuning(cfg Config) (*config.TuningConfig, error) {
	tuning := config.EmptyTuningConfig()
	if cfg.ConfigPath != "" {
		loaded, err := config.LoadTuningConfig(cfg.ConfigPath)
		if err != nil {
			return nil, err
		}
		tuning = loaded
	}
	if cfg.Segmenter != "" {
		tuning.Segmenter = &cfg.Segmenter
	}
	if cfg.LabelFormat != "png" && cfg.LabelFormat != "webp" {
		return nil, fmt.Errorf("format must be png or webp, got %q", cfg.LabelFormat)
	}
	return tuning, tuning.Validate()
}

func listRuns(cfg Config) error {
	if cfg.DBPath == "" {
		return fmt.Errorf("-list requires -db")
	}
	store, err := sqlite.OpenRunStore(cfg.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.List(cfg.ListRuns)
	if err != nil {
		return err
	}
	for _, r := range runs {
		status := "ok"
		if r.ErrorKind != "" {
			status = r.ErrorKind
		}
		fmt.Printf("%s  %s  %-6s %4dx%-4d segments=%-5d samples=%-6d %6dms  %s\n",
			r.RunID, r.CreatedAt.Format("2006-01-02 15:04:05"), r.Segmenter,
			r.Width, r.Height, r.Segments, r.SampleCount, r.DurationMS, status)
	}
	return nil
}
