// Package rawvol reads and writes raw volumes: a headerless big-endian voxel
// payload stored slice after slice, plus a small text header next to it.
//
// For a volume stored as <name> the header lives in <name>-raw.dat:
//
//	x,y,z          dimensions
//	type           pixel type code (0 byte, 1 short, 2 int, 3 float, 10 bool)
//	px,py,pz       position
//	ex,ey,ez       element size (optional)
//	signed         0 or 1 (optional)
//	scale          scale factor (optional)
//
// Bool slices are bit packed, least significant bit first, and every slice
// starts on a byte boundary.
package rawvol

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/hupe1980/voxcache/pixel"
	"github.com/hupe1980/voxcache/volume"
)

// HeaderSuffix is appended to a volume name to form its header name.
const HeaderSuffix = "-raw.dat"

// ErrInvalidHeader is returned for malformed raw headers.
var ErrInvalidHeader = errors.New("rawvol: invalid header")

// HeaderName returns the header blob name of volume name.
func HeaderName(name string) string { return name + HeaderSuffix }

// Header is the parsed content of a raw header.
type Header struct {
	Dims        volume.Point3
	Type        pixel.Type
	Position    volume.Point3
	ElementSize volume.Vec3
	Signed      bool
	ScaleFactor float32
}

// HeaderFor extracts the header fields of d, storing voxels as t.
func HeaderFor(d volume.Descriptor, t pixel.Type) Header {
	return Header{
		Dims:        d.Dims,
		Type:        t,
		Position:    d.Position,
		ElementSize: d.ElementSize,
		Signed:      d.Signed,
		ScaleFactor: d.ScaleFactor,
	}
}

// SliceBytes returns the stored size of one slice.
func (h Header) SliceBytes() int64 {
	return int64(pixel.EncodedLen(h.Type, h.Dims.X*h.Dims.Y))
}

// PayloadBytes returns the stored size of all slices.
func (h Header) PayloadBytes() int64 {
	return h.SliceBytes() * int64(h.Dims.Z)
}

// MarshalText renders the header, including the optional lines.
func (h Header) MarshalText() ([]byte, error) {
	var b bytes.Buffer
	fmt.Fprintf(&b, "%s\n", h.Dims)
	fmt.Fprintf(&b, "%d\n", h.Type)
	fmt.Fprintf(&b, "%s\n", h.Position)
	fmt.Fprintf(&b, "%s,%s,%s\n", formatFloat(h.ElementSize.X), formatFloat(h.ElementSize.Y), formatFloat(h.ElementSize.Z))
	if h.Signed {
		b.WriteString("1\n")
	} else {
		b.WriteString("0\n")
	}
	fmt.Fprintf(&b, "%s\n", strconv.FormatFloat(float64(h.ScaleFactor), 'g', -1, 32))
	return b.Bytes(), nil
}

func formatFloat(f float64) string { return strconv.FormatFloat(f, 'g', -1, 64) }

// ParseHeader reads a header. The first three lines are required.
func ParseHeader(r io.Reader) (Header, error) {
	var lines []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	if err := sc.Err(); err != nil {
		return Header{}, err
	}
	if len(lines) < 3 {
		return Header{}, fmt.Errorf("%w: %d lines, want at least 3", ErrInvalidHeader, len(lines))
	}

	h := Header{ElementSize: volume.Vec3{X: 1, Y: 1, Z: 1}}

	var err error
	if h.Dims, err = parsePoint(lines[0]); err != nil {
		return Header{}, fmt.Errorf("%w: dims: %v", ErrInvalidHeader, err)
	}
	if h.Type, err = pixel.ParseType(lines[1]); err != nil {
		return Header{}, fmt.Errorf("%w: %v", ErrInvalidHeader, err)
	}
	if h.Position, err = parsePoint(lines[2]); err != nil {
		return Header{}, fmt.Errorf("%w: position: %v", ErrInvalidHeader, err)
	}

	if len(lines) > 3 {
		if h.ElementSize, err = parseVec(lines[3]); err != nil {
			return Header{}, fmt.Errorf("%w: element size: %v", ErrInvalidHeader, err)
		}
	}
	if len(lines) > 4 {
		switch lines[4] {
		case "0", "false":
		case "1", "true":
			h.Signed = true
		default:
			return Header{}, fmt.Errorf("%w: signed flag %q", ErrInvalidHeader, lines[4])
		}
	}
	if len(lines) > 5 {
		f, err := strconv.ParseFloat(lines[5], 32)
		if err != nil || f < 0 {
			return Header{}, fmt.Errorf("%w: scale factor %q", ErrInvalidHeader, lines[5])
		}
		h.ScaleFactor = float32(f)
	}

	if h.Dims.X <= 0 || h.Dims.Y <= 0 || h.Dims.Z <= 0 {
		return Header{}, fmt.Errorf("%w: dims %s must be positive", ErrInvalidHeader, h.Dims)
	}
	return h, nil
}

func fields3(s string) ([3]string, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return [3]string{}, fmt.Errorf("%q: want 3 comma separated values", s)
	}
	return [3]string{strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]), strings.TrimSpace(parts[2])}, nil
}

func parsePoint(s string) (volume.Point3, error) {
	f, err := fields3(s)
	if err != nil {
		return volume.Point3{}, err
	}
	var v [3]int
	for i := range f {
		if v[i], err = strconv.Atoi(f[i]); err != nil {
			return volume.Point3{}, err
		}
	}
	return volume.Point3{X: v[0], Y: v[1], Z: v[2]}, nil
}

func parseVec(s string) (volume.Vec3, error) {
	f, err := fields3(s)
	if err != nil {
		return volume.Vec3{}, err
	}
	var v [3]float64
	for i := range f {
		if v[i], err = strconv.ParseFloat(f[i], 64); err != nil {
			return volume.Vec3{}, err
		}
	}
	return volume.Vec3{X: v[0], Y: v[1], Z: v[2]}, nil
}
