// Command voxcache opens a raw volume from a blob store, prints its
// descriptor and value summary, and optionally exports PNG slices and a
// compressed snapshot.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/hupe1980/voxcache"
	"github.com/hupe1980/voxcache/export"
	"github.com/hupe1980/voxcache/internal/config"
	"github.com/hupe1980/voxcache/internal/resource"
	"github.com/hupe1980/voxcache/pixel"
	"github.com/hupe1980/voxcache/rawvol"
	"github.com/hupe1980/voxcache/snapshot"
)

type flags struct {
	configPath  string
	writeConfig string
	volume      string
	importPath  string
	as          string
	pngPrefix   string
	pngWidth    int
	snapshot    string
	compression string
}

func main() {
	var f flags
	flag.StringVar(&f.configPath, "config", "voxcache.yaml", "Configuration file (.yaml or .toml)")
	flag.StringVar(&f.writeConfig, "write-config", "", "Write the effective configuration to this file and exit")
	flag.StringVar(&f.volume, "volume", "", "Name of the raw volume in the store")
	flag.StringVar(&f.importPath, "import", "", "Copy a local raw volume (path without -raw.dat) into the store as -volume first")
	flag.StringVar(&f.as, "as", "", "Pixel type to materialize the volume as (default: native)")
	flag.StringVar(&f.pngPrefix, "png", "", "Export every slice as PNG under this prefix")
	flag.IntVar(&f.pngWidth, "png-width", 0, "Resize exported PNGs to this width")
	flag.StringVar(&f.snapshot, "snapshot", "", "Write a snapshot of the volume under this name")
	flag.StringVar(&f.compression, "compression", "zstd", "Snapshot compression (none, lz4, zstd)")
	flag.Parse()

	cfg, err := config.Load(f.configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if f.writeConfig != "" {
		if err := config.Save(cfg, f.writeConfig); err != nil {
			log.Fatalf("Failed to write configuration: %v", err)
		}
		fmt.Printf("Configuration written to %s\n", f.writeConfig)
		return
	}

	if f.volume == "" {
		flag.Usage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, cfg, f, os.Stdout); err != nil {
		log.Fatalf("voxcache: %v", err)
	}
}

func newLogger(cfg config.Logging) (*voxcache.Logger, io.Closer, error) {
	level, err := cfg.SlogLevel()
	if err != nil {
		return nil, nil, err
	}

	if cfg.File != "" {
		logger, closer := voxcache.NewFileLogger(voxcache.FileLogConfig{
			Path:       cfg.File,
			MaxSizeMB:  cfg.MaxSizeMB,
			MaxAgeDays: cfg.MaxAgeDays,
			MaxBackups: cfg.MaxBackups,
			JSON:       cfg.Format == "json",
			Level:      level,
		})
		return logger, closer, nil
	}

	if cfg.Format == "json" {
		return voxcache.NewJSONLogger(level), io.NopCloser(nil), nil
	}
	return voxcache.NewTextLogger(level), io.NopCloser(nil), nil
}

func run(ctx context.Context, cfg *config.Config, f flags, out io.Writer) error {
	logger, closer, err := newLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer closer.Close()

	rc := resource.NewController(resource.Config{
		MaxReaders:         int64(cfg.Readers),
		MemoryLimitBytes:   cfg.MemoryLimitBytes,
		IOLimitBytesPerSec: cfg.IOLimitBytesPerSec,
	})

	store, blocks, err := openStore(ctx, cfg.Storage, rc)
	if err != nil {
		return err
	}
	if blocks != nil {
		defer blocks.Close()
	}

	if f.importPath != "" {
		if err := importVolume(ctx, store, f.importPath, f.volume, rc); err != nil {
			return err
		}
		logger.Info("imported raw volume", "from", f.importPath, "to", f.volume)
	}

	metrics := &voxcache.BasicMetricsCollector{}
	env := voxcache.New(
		voxcache.WithController(rc),
		voxcache.WithParallelism(cfg.Parallelism),
		voxcache.WithLoader(rawvol.NewLoader(store)),
		voxcache.WithLogger(logger),
		voxcache.WithMetricsCollector(metrics),
	)
	defer env.Close()

	start := time.Now()
	img, err := env.Load(ctx, f.volume, true, true)
	if err != nil {
		return err
	}

	if f.as != "" {
		t, err := pixel.ParseType(f.as)
		if err != nil {
			return err
		}
		if img, err = env.Materialize(ctx, img, t); err != nil {
			return err
		}
	}

	desc := img.Descriptor()
	fmt.Fprintf(out, "Volume:     %s\n", desc.Name())
	fmt.Fprintf(out, "Dimensions: %s (%s voxels)\n", desc.Dims, humanize.Comma(desc.Dims.Voxels()))
	fmt.Fprintf(out, "Type:       %s (%s in memory)\n", img.NativeType(), humanize.IBytes(uint64(img.Bytes())))
	fmt.Fprintf(out, "Position:   %s\n", desc.Position)
	fmt.Fprintf(out, "Voxel size: %s\n", desc.ElementSize)
	fmt.Fprintf(out, "Loaded in:  %s\n", time.Since(start).Round(time.Millisecond))

	summary, err := export.Summarize(ctx, img)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Values:     min %g, max %g, mean %.3f, stddev %.3f, median %g\n",
		summary.Min, summary.Max, summary.Mean, summary.StdDev, summary.Median)
	fmt.Fprintf(out, "Non-zero:   %s voxels\n", humanize.Comma(summary.NonZero))

	if f.pngPrefix != "" {
		win := export.WindowOf(summary)
		names, err := export.PNGs(ctx, store, f.pngPrefix, img, export.PNGOptions{Window: &win, Width: f.pngWidth})
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Exported %d PNG slices under %s\n", len(names), f.pngPrefix)
	}

	if f.snapshot != "" {
		comp, err := snapshot.ParseCompression(f.compression)
		if err != nil {
			return err
		}
		if err := snapshot.Save(ctx, store, f.snapshot, img, snapshot.WithCompression(comp)); err != nil {
			return err
		}
		fmt.Fprintf(out, "Snapshot written to %s (%s)\n", f.snapshot, comp)
	}

	stats := metrics.Stats()
	fmt.Fprintf(out, "Slice reads: %d (%d failed), conversions: %d\n",
		stats.SliceReads, stats.SliceReadErrors, stats.Conversions)
	if blocks != nil {
		st := blocks.Snapshot()
		fmt.Fprintf(out, "Block cache: %d hits, %d misses (%.0f%%), %s in %d blocks\n",
			st.Hits, st.Misses, st.HitRatio()*100, humanize.IBytes(uint64(st.Bytes)), st.Entries)
	}
	return nil
}
