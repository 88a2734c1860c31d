package volume

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hupe1980/voxcache/pixel"
)

// ErrInvalidDescriptor is returned by Descriptor.Validate.
var ErrInvalidDescriptor = errors.New("invalid volume descriptor")

// Point3 is an integer triple (x, y, z).
type Point3 struct {
	X int `json:"x" yaml:"x"`
	Y int `json:"y" yaml:"y"`
	Z int `json:"z" yaml:"z"`
}

func (p Point3) String() string { return fmt.Sprintf("%d,%d,%d", p.X, p.Y, p.Z) }

// Voxels returns X*Y*Z.
func (p Point3) Voxels() int64 { return int64(p.X) * int64(p.Y) * int64(p.Z) }

// Vec3 is a floating point triple (x, y, z).
type Vec3 struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
	Z float64 `json:"z" yaml:"z"`
}

func (v Vec3) String() string { return fmt.Sprintf("%g,%g,%g", v.X, v.Y, v.Z) }

// Descriptor is the metadata of a volume.
type Descriptor struct {
	// Path is the canonical location the volume was read from, if any.
	Path string `json:"path,omitempty"`
	// SampleName identifies the volume when it has no path.
	SampleName string `json:"sampleName,omitempty"`

	Dims        Point3 `json:"dims"`
	ElementSize Vec3   `json:"elementSize"`
	Position    Point3 `json:"position"`
	Offset      Point3 `json:"offset"`

	PixelType   pixel.Type `json:"pixelType"`
	Signed      bool       `json:"signed"`
	ScaleFactor float32    `json:"scaleFactor"`
	// MaxValues overrides the nominal maximum per integer type, e.g. 4095 for
	// 12-bit data stored as SHORT. Signed conversions offset by half of it.
	// The map is shared by copies and must not be modified once set.
	MaxValues map[pixel.Type]int64 `json:"maxValues,omitempty"`

	// ProcessLog is append-only; use AppendProcLog.
	ProcessLog string `json:"processLog,omitempty"`
}

// Name returns SampleName, falling back to Path.
func (d Descriptor) Name() string {
	if d.SampleName != "" {
		return d.SampleName
	}
	return d.Path
}

// SliceCount returns the number of addressable slices.
func (d Descriptor) SliceCount() int { return d.Dims.Z }

// SliceLen returns the number of voxels in one slice.
func (d Descriptor) SliceLen() int { return d.Dims.X * d.Dims.Y }

// SizeBytes returns the in-memory size of the whole volume encoded as t.
func (d Descriptor) SizeBytes(t pixel.Type) int64 {
	return d.Dims.Voxels() * int64(t.Size())
}

// Conversion returns the conversion parameters shared by every slice.
func (d Descriptor) Conversion() pixel.Conversion {
	return pixel.Conversion{Signed: d.Signed, ScaleFactor: d.ScaleFactor, MaxValues: d.MaxValues}
}

// Validate checks the invariants every source must satisfy.
func (d Descriptor) Validate() error {
	if d.Dims.X <= 0 || d.Dims.Y <= 0 || d.Dims.Z <= 0 {
		return fmt.Errorf("%w: dims %s must be positive", ErrInvalidDescriptor, d.Dims)
	}
	if !d.PixelType.Valid() {
		return fmt.Errorf("%w: pixel type %s", ErrInvalidDescriptor, d.PixelType)
	}
	if d.ScaleFactor < 0 {
		return fmt.Errorf("%w: negative scale factor %g", ErrInvalidDescriptor, d.ScaleFactor)
	}
	for t, v := range d.MaxValues {
		if v <= 0 {
			return fmt.Errorf("%w: max value %d for %s must be positive", ErrInvalidDescriptor, v, t)
		}
	}
	return nil
}

// CheckIndex reports whether index addresses a slice of d.
func (d Descriptor) CheckIndex(index int) bool {
	return index >= 0 && index < d.Dims.Z
}

// AppendLog returns a copy of d with text appended to its process log.
func (d Descriptor) AppendLog(text string, at time.Time) Descriptor {
	d.ProcessLog = AppendProcLog(d.ProcessLog, text, at)
	return d
}

// Source is a synchronous, possibly blocking, provider of slices.
type Source interface {
	Descriptor() Descriptor
	// Slice returns slice index converted to t. Implementations must be safe for
	// concurrent use and must not return a buffer that is later mutated.
	Slice(ctx context.Context, index int, t pixel.Type) (pixel.Buffer, error)
}

// AppendProcLog appends one timestamped, tab separated entry to log.
func AppendProcLog(log, text string, at time.Time) string {
	var sb strings.Builder
	sb.Grow(len(log) + len(text) + 32)
	sb.WriteString(log)
	sb.WriteByte('\n')
	sb.WriteString(at.Format(time.RFC3339))
	sb.WriteByte('\t')
	sb.WriteString(text)
	return sb.String()
}

// CheckSizes reports whether a and b have the same dims, position and offset.
// The returned error names the first mismatch.
func CheckSizes(a, b Descriptor) error {
	switch {
	case a.Dims != b.Dims:
		return fmt.Errorf("volume: dims differ: %s vs %s", a.Dims, b.Dims)
	case a.Position != b.Position:
		return fmt.Errorf("volume: position differs: %s vs %s", a.Position, b.Position)
	case a.Offset != b.Offset:
		return fmt.Errorf("volume: offset differs: %s vs %s", a.Offset, b.Offset)
	}
	return nil
}
