// Package pixel defines the five voxel encodings of a volume slice and the
// conversion matrix between them.
//
// # Encodings
//
// A slice payload is a Buffer, a closed union over five concrete slice types:
//
//	BoolBuffer  []bool     (BOOL,  code 10)
//	ByteBuffer  []uint8    (BYTE,  code 0)
//	ShortBuffer []uint16   (SHORT, code 1)
//	IntBuffer   []int32    (INT,   code 2)
//	FloatBuffer []float32  (FLOAT, code 3)
//
// The numeric codes match the type codes written into raw volume headers.
//
// # Conversion
//
// Conversion carries the image-wide parameters (signed flag, scale factor and
// optional per-type maximum values) and converts any Buffer to any Type:
//
//	conv := pixel.Conversion{ScaleFactor: 2}
//	out, err := conv.Convert(pixel.ByteBuffer{10, 20}, pixel.Float)
//	// out == pixel.FloatBuffer{20, 40}
//
// Integer encodings become floats as (raw - halfRange) * scale, where halfRange
// is zero for unsigned images. Floats become integers as
// round(value / scale) + halfRange, saturated to the destination range.
package pixel
