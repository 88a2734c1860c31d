package pixel

import (
	"errors"
	"fmt"
	"math"
)

// ErrUnsupportedConversion is matched by every *ConversionError.
var ErrUnsupportedConversion = errors.New("unsupported type conversion")

// invalid is reported as the source type of a nil buffer.
const invalid Type = 0xff

// ConversionError reports a (From, To) pair the matrix cannot serve.
type ConversionError struct {
	From Type
	To   Type
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("pixel: unsupported conversion %s -> %s", e.From, e.To)
}

func (e *ConversionError) Unwrap() error { return ErrUnsupportedConversion }

// Values written for a true voxel when a mask is widened.
const (
	boolIntValue   = 127
	boolFloatValue = 1.0
)

// DefaultMaxValue returns the nominal maximum of an integer encoding.
// INT uses 65535 to match the range of the on-disk formats.
func DefaultMaxValue(t Type) int64 {
	switch t {
	case Byte:
		return math.MaxUint8
	case Short, Int:
		return math.MaxUint16
	default:
		return 0
	}
}

// Conversion holds the image-wide parameters that drive Convert.
type Conversion struct {
	// Signed shifts integer encodings by half their range when mapped to floats.
	Signed bool
	// ScaleFactor multiplies shifted integer values. Zero means 1.
	ScaleFactor float32
	// MaxValues overrides DefaultMaxValue per type.
	MaxValues map[Type]int64
}

// MaxValue returns the maximum value used for t.
func (c Conversion) MaxValue(t Type) int64 {
	if v, ok := c.MaxValues[t]; ok {
		return v
	}
	return DefaultMaxValue(t)
}

// HalfRange returns the offset applied to raw integers of type t, zero when
// the image is unsigned.
func (c Conversion) HalfRange(t Type) float64 {
	if !c.Signed {
		return 0
	}
	return float64((c.MaxValue(t) + 1) / 2)
}

// Scale returns the effective scale factor.
func (c Conversion) Scale() float64 {
	if c.ScaleFactor == 0 {
		return 1
	}
	return float64(c.ScaleFactor)
}

// Convert re-encodes in as type to. When in is already of type to it is
// returned unchanged. The input is never modified.
func (c Conversion) Convert(in Buffer, to Type) (Buffer, error) {
	if in == nil {
		return nil, &ConversionError{From: invalid, To: to}
	}
	if !to.Valid() {
		return nil, &ConversionError{From: in.Type(), To: to}
	}
	if in.Type() == to {
		return in, nil
	}

	switch src := in.(type) {
	case BoolBuffer:
		return fromBool(src, to), nil
	case ByteBuffer:
		return fromInteger(c, src, Byte, to), nil
	case ShortBuffer:
		return fromInteger(c, src, Short, to), nil
	case IntBuffer:
		return fromInteger(c, src, Int, to), nil
	case FloatBuffer:
		return fromFloat(c, src, to), nil
	default:
		return nil, &ConversionError{From: in.Type(), To: to}
	}
}

// Convert is shorthand for c.Convert(in, to).
func Convert(in Buffer, to Type, c Conversion) (Buffer, error) {
	return c.Convert(in, to)
}

type integer interface {
	~uint8 | ~uint16 | ~int32
}

func bounds(t Type) (lo, hi int64) {
	switch t {
	case Byte:
		return 0, math.MaxUint8
	case Short:
		return 0, math.MaxUint16
	default:
		return math.MinInt32, math.MaxInt32
	}
}

func fromBool(src BoolBuffer, to Type) Buffer {
	switch to {
	case Byte:
		return ByteBuffer(mask[uint8](src, boolIntValue))
	case Short:
		return ShortBuffer(mask[uint16](src, boolIntValue))
	case Int:
		return IntBuffer(mask[int32](src, boolIntValue))
	default:
		return FloatBuffer(mask[float32](src, boolFloatValue))
	}
}

func mask[E uint8 | uint16 | int32 | float32](src []bool, on E) []E {
	out := make([]E, len(src))
	for i, v := range src {
		if v {
			out[i] = on
		}
	}
	return out
}

func fromInteger[S integer](c Conversion, src []S, from, to Type) Buffer {
	switch to {
	case Bool:
		out := make(BoolBuffer, len(src))
		for i, v := range src {
			out[i] = v > 0
		}
		return out
	case Byte:
		return ByteBuffer(saturate[S, uint8](src, Byte))
	case Short:
		return ShortBuffer(saturate[S, uint16](src, Short))
	case Int:
		return IntBuffer(saturate[S, int32](src, Int))
	default:
		half, scale := c.HalfRange(from), c.Scale()
		out := make(FloatBuffer, len(src))
		for i, v := range src {
			out[i] = float32((float64(v) - half) * scale)
		}
		return out
	}
}

func saturate[S, D integer](src []S, to Type) []D {
	lo, hi := bounds(to)
	out := make([]D, len(src))
	for i, v := range src {
		out[i] = D(clamp(int64(v), lo, hi))
	}
	return out
}

func fromFloat(c Conversion, src FloatBuffer, to Type) Buffer {
	switch to {
	case Bool:
		out := make(BoolBuffer, len(src))
		for i, v := range src {
			out[i] = v > 0
		}
		return out
	case Byte:
		return ByteBuffer(quantize[uint8](c, src, Byte))
	case Short:
		return ShortBuffer(quantize[uint16](c, src, Short))
	default:
		return IntBuffer(quantize[int32](c, src, Int))
	}
}

func quantize[D integer](c Conversion, src []float32, to Type) []D {
	lo, hi := bounds(to)
	half, scale := c.HalfRange(to), c.Scale()
	out := make([]D, len(src))
	for i, v := range src {
		f := float64(v)
		if math.IsNaN(f) {
			continue
		}
		r := math.Round(f/scale) + half
		switch {
		case r <= float64(lo):
			out[i] = D(lo)
		case r >= float64(hi):
			out[i] = D(hi)
		default:
			out[i] = D(int64(r))
		}
	}
	return out
}

func clamp(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
