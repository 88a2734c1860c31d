package pixel

import (
	"encoding/binary"
	"fmt"
	"math"
)

// EncodedLen returns the number of bytes Encode produces for n voxels of type t.
// Bool voxels are bit packed.
func EncodedLen(t Type, n int) int {
	if t == Bool {
		return (n + 7) / 8
	}
	return n * t.Size()
}

// Encode serializes b in big-endian order. Bool voxels are packed eight per
// byte, least significant bit first.
func Encode(b Buffer) []byte {
	if b == nil {
		return nil
	}
	return AppendEncoded(make([]byte, 0, EncodedLen(b.Type(), b.Len())), b)
}

// AppendEncoded appends the encoding of b to dst.
func AppendEncoded(dst []byte, b Buffer) []byte {
	switch v := b.(type) {
	case BoolBuffer:
		start := len(dst)
		dst = append(dst, make([]byte, EncodedLen(Bool, len(v)))...)
		for i, x := range v {
			if x {
				dst[start+i/8] |= 1 << (uint(i) % 8)
			}
		}
	case ByteBuffer:
		dst = append(dst, v...)
	case ShortBuffer:
		for _, x := range v {
			dst = binary.BigEndian.AppendUint16(dst, x)
		}
	case IntBuffer:
		for _, x := range v {
			dst = binary.BigEndian.AppendUint32(dst, uint32(x))
		}
	case FloatBuffer:
		for _, x := range v {
			dst = binary.BigEndian.AppendUint32(dst, math.Float32bits(x))
		}
	}
	return dst
}

// Decode parses n voxels of type t from data.
func Decode(t Type, data []byte, n int) (Buffer, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("pixel: invalid type %s", t)
	}
	if n < 0 {
		return nil, fmt.Errorf("pixel: negative length %d", n)
	}
	if need := EncodedLen(t, n); len(data) < need {
		return nil, fmt.Errorf("pixel: short %s data: have %d bytes, need %d", t, len(data), need)
	}

	switch t {
	case Bool:
		out := make(BoolBuffer, n)
		for i := range out {
			out[i] = data[i/8]&(1<<(uint(i)%8)) != 0
		}
		return out, nil
	case Byte:
		return append(ByteBuffer(nil), data[:n]...), nil
	case Short:
		out := make(ShortBuffer, n)
		for i := range out {
			out[i] = binary.BigEndian.Uint16(data[2*i:])
		}
		return out, nil
	case Int:
		out := make(IntBuffer, n)
		for i := range out {
			out[i] = int32(binary.BigEndian.Uint32(data[4*i:]))
		}
		return out, nil
	default:
		out := make(FloatBuffer, n)
		for i := range out {
			out[i] = math.Float32frombits(binary.BigEndian.Uint32(data[4*i:]))
		}
		return out, nil
	}
}
