// Package export turns volumes into artifacts for inspection: PNG slice
// sequences and voxel value summaries.
package export

import (
	"context"
	"fmt"
	"image"
	"io"
	"math"
	"slices"

	"github.com/disintegration/imaging"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/hupe1980/voxcache/blobstore"
	"github.com/hupe1980/voxcache/pixel"
	"github.com/hupe1980/voxcache/volume"
)

// Summary holds statistics over the raw voxel values of a volume.
type Summary struct {
	Voxels int64
	Min    float64
	Max    float64
	Mean   float64
	StdDev float64
	Median float64
	// NonZero counts voxels that are not 0 (set voxels for masks).
	NonZero int64
}

// Summarize reads every slice of src at its native type and computes a
// Summary.
func Summarize(ctx context.Context, src volume.Source) (Summary, error) {
	desc := src.Descriptor()
	if err := desc.Validate(); err != nil {
		return Summary{}, err
	}

	values := make([]float64, 0, desc.Dims.Voxels())
	for z := range desc.SliceCount() {
		buf, err := src.Slice(ctx, z, desc.PixelType)
		if err != nil {
			return Summary{}, fmt.Errorf("export: slice %d: %w", z, err)
		}
		values = append(values, pixel.Float64s(buf)...)
	}
	return summarize(values), nil
}

func summarize(values []float64) Summary {
	s := Summary{Voxels: int64(len(values))}
	if len(values) == 0 {
		return s
	}

	for _, v := range values {
		if v != 0 {
			s.NonZero++
		}
	}

	s.Min = floats.Min(values)
	s.Max = floats.Max(values)
	s.Mean = stat.Mean(values, nil)
	if len(values) > 1 {
		s.StdDev = stat.StdDev(values, nil)
	}

	sorted := slices.Clone(values)
	slices.Sort(sorted)
	s.Median = stat.Quantile(0.5, stat.Empirical, sorted, nil)
	return s
}

// Window maps the value range [Lo, Hi] onto gray levels 0 to 255.
type Window struct {
	Lo, Hi float64
}

// WindowOf returns the full value range of a summary.
func WindowOf(s Summary) Window { return Window{Lo: s.Min, Hi: s.Max} }

func (w Window) gray(v float64) uint8 {
	if w.Hi <= w.Lo {
		if v > w.Lo {
			return 255
		}
		return 0
	}
	f := (v - w.Lo) / (w.Hi - w.Lo) * 255
	return uint8(math.Round(math.Max(0, math.Min(255, f))))
}

// SliceImage renders one slice of width x height voxels as a gray image.
func SliceImage(buf pixel.Buffer, width, height int, w Window) (*image.Gray, error) {
	if buf.Len() != width*height {
		return nil, fmt.Errorf("export: slice has %d voxels, want %dx%d", buf.Len(), width, height)
	}

	img := image.NewGray(image.Rect(0, 0, width, height))
	for i, v := range pixel.Float64s(buf) {
		img.Pix[(i/width)*img.Stride+i%width] = w.gray(v)
	}
	return img, nil
}

// PNGOptions configures PNG export.
type PNGOptions struct {
	// Window fixes the gray mapping. If nil, the volume's full range is used.
	Window *Window
	// Width resizes slices to this width, keeping the aspect ratio. Zero keeps
	// the native size.
	Width int
}

// SliceName returns the blob name of slice z under prefix.
func SliceName(prefix string, z int) string {
	return fmt.Sprintf("%s/slice_%04d.png", prefix, z)
}

// WritePNG encodes one slice as PNG.
func WritePNG(w io.Writer, buf pixel.Buffer, width, height int, win Window, resize int) error {
	img, err := SliceImage(buf, width, height, win)
	if err != nil {
		return err
	}

	var out image.Image = img
	if resize > 0 && resize != width {
		out = imaging.Resize(img, resize, 0, imaging.Lanczos)
	}
	return imaging.Encode(w, out, imaging.PNG)
}

// PNGs writes every slice of src to store as prefix/slice_NNNN.png and
// returns the blob names in slice order.
func PNGs(ctx context.Context, store blobstore.BlobStore, prefix string, src volume.Source, opts PNGOptions) ([]string, error) {
	desc := src.Descriptor()
	if err := desc.Validate(); err != nil {
		return nil, err
	}

	win := opts.Window
	if win == nil {
		s, err := Summarize(ctx, src)
		if err != nil {
			return nil, err
		}
		w := WindowOf(s)
		win = &w
	}

	names := make([]string, 0, desc.SliceCount())
	for z := range desc.SliceCount() {
		buf, err := src.Slice(ctx, z, desc.PixelType)
		if err != nil {
			return nil, fmt.Errorf("export: slice %d: %w", z, err)
		}

		name := SliceName(prefix, z)
		wb, err := store.Create(ctx, name)
		if err != nil {
			return nil, err
		}
		if err := WritePNG(wb, buf, desc.Dims.X, desc.Dims.Y, *win, opts.Width); err != nil {
			_ = blobstore.Abort(wb)
			return nil, fmt.Errorf("export: %s: %w", name, err)
		}
		if err := wb.Close(); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, nil
}
