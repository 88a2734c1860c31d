package pixel

import "fmt"

// Buffer is the payload of one slice. The set of implementations is closed:
// BoolBuffer, ByteBuffer, ShortBuffer, IntBuffer and FloatBuffer.
type Buffer interface {
	// Type returns the encoding of the buffer.
	Type() Type
	// Len returns the number of voxels.
	Len() int

	sealed()
}

// BoolBuffer holds BOOL voxels.
type BoolBuffer []bool

// ByteBuffer holds BYTE voxels.
type ByteBuffer []uint8

// ShortBuffer holds SHORT voxels.
type ShortBuffer []uint16

// IntBuffer holds INT voxels.
type IntBuffer []int32

// FloatBuffer holds FLOAT voxels.
type FloatBuffer []float32

func (BoolBuffer) Type() Type  { return Bool }
func (ByteBuffer) Type() Type  { return Byte }
func (ShortBuffer) Type() Type { return Short }
func (IntBuffer) Type() Type   { return Int }
func (FloatBuffer) Type() Type { return Float }

func (b BoolBuffer) Len() int  { return len(b) }
func (b ByteBuffer) Len() int  { return len(b) }
func (b ShortBuffer) Len() int { return len(b) }
func (b IntBuffer) Len() int   { return len(b) }
func (b FloatBuffer) Len() int { return len(b) }

func (BoolBuffer) sealed()  {}
func (ByteBuffer) sealed()  {}
func (ShortBuffer) sealed() {}
func (IntBuffer) sealed()   {}
func (FloatBuffer) sealed() {}

// New allocates a zeroed buffer of n voxels.
func New(t Type, n int) (Buffer, error) {
	if n < 0 {
		return nil, fmt.Errorf("pixel: negative length %d", n)
	}
	switch t {
	case Bool:
		return make(BoolBuffer, n), nil
	case Byte:
		return make(ByteBuffer, n), nil
	case Short:
		return make(ShortBuffer, n), nil
	case Int:
		return make(IntBuffer, n), nil
	case Float:
		return make(FloatBuffer, n), nil
	default:
		return nil, fmt.Errorf("pixel: invalid type %s", t)
	}
}

// SizeBytes returns the in-memory size of the buffer's voxels.
func SizeBytes(b Buffer) int64 {
	if b == nil {
		return 0
	}
	return int64(b.Len()) * int64(b.Type().Size())
}

// Clone returns a deep copy of b.
func Clone(b Buffer) Buffer {
	switch v := b.(type) {
	case BoolBuffer:
		return append(BoolBuffer(nil), v...)
	case ByteBuffer:
		return append(ByteBuffer(nil), v...)
	case ShortBuffer:
		return append(ShortBuffer(nil), v...)
	case IntBuffer:
		return append(IntBuffer(nil), v...)
	case FloatBuffer:
		return append(FloatBuffer(nil), v...)
	default:
		return nil
	}
}

// Concat joins parts, in order, into one buffer of type t. Every part must
// already be of type t.
func Concat(t Type, parts []Buffer) (Buffer, error) {
	total := 0
	for i, p := range parts {
		if p == nil || p.Type() != t {
			return nil, fmt.Errorf("pixel: part %d is not %s", i, t)
		}
		total += p.Len()
	}

	out, err := New(t, total)
	if err != nil {
		return nil, err
	}

	off := 0
	for _, p := range parts {
		switch dst := out.(type) {
		case BoolBuffer:
			copy(dst[off:], p.(BoolBuffer))
		case ByteBuffer:
			copy(dst[off:], p.(ByteBuffer))
		case ShortBuffer:
			copy(dst[off:], p.(ShortBuffer))
		case IntBuffer:
			copy(dst[off:], p.(IntBuffer))
		case FloatBuffer:
			copy(dst[off:], p.(FloatBuffer))
		}
		off += p.Len()
	}
	return out, nil
}

// Float64s returns the raw voxel values widened to float64. Bools map to 0 and 1.
func Float64s(b Buffer) []float64 {
	switch v := b.(type) {
	case BoolBuffer:
		out := make([]float64, len(v))
		for i, x := range v {
			if x {
				out[i] = 1
			}
		}
		return out
	case ByteBuffer:
		return widen(v)
	case ShortBuffer:
		return widen(v)
	case IntBuffer:
		return widen(v)
	case FloatBuffer:
		return widen(v)
	default:
		return nil
	}
}

func widen[E uint8 | uint16 | int32 | float32](src []E) []float64 {
	out := make([]float64, len(src))
	for i, x := range src {
		out[i] = float64(x)
	}
	return out
}
