package pixel

import (
	"fmt"
	"strconv"
	"strings"
)

// Type identifies a voxel encoding.
type Type uint8

const (
	// Byte is an unsigned 8-bit encoding.
	Byte Type = 0
	// Short is an unsigned 16-bit encoding.
	Short Type = 1
	// Int is a 32-bit integer encoding.
	Int Type = 2
	// Float is a 32-bit floating point encoding.
	Float Type = 3
	// Bool is a binary mask encoding.
	Bool Type = 10
)

// Types lists every supported encoding.
var Types = []Type{Bool, Byte, Short, Int, Float}

// Valid reports whether t is one of the supported encodings.
func (t Type) Valid() bool {
	switch t {
	case Bool, Byte, Short, Int, Float:
		return true
	default:
		return false
	}
}

// Size returns the number of bytes a single voxel occupies in memory.
// Bool voxels count as one byte; packed on-disk layouts are smaller.
func (t Type) Size() int {
	switch t {
	case Bool, Byte:
		return 1
	case Short:
		return 2
	case Int, Float:
		return 4
	default:
		return 0
	}
}

func (t Type) String() string {
	switch t {
	case Bool:
		return "BOOL"
	case Byte:
		return "BYTE"
	case Short:
		return "SHORT"
	case Int:
		return "INT"
	case Float:
		return "FLOAT"
	default:
		return fmt.Sprintf("Type(%d)", uint8(t))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (t Type) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("pixel: invalid type %d", uint8(t))
	}
	return []byte(strings.ToLower(t.String())), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Type) UnmarshalText(text []byte) error {
	v, err := ParseType(string(text))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// ParseType parses a type name (bool, byte, char, short, int, float) or a
// numeric type code.
func ParseType(s string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "bool", "mask":
		return Bool, nil
	case "byte", "char", "uint8":
		return Byte, nil
	case "short", "uint16":
		return Short, nil
	case "int", "int32":
		return Int, nil
	case "float", "float32":
		return Float, nil
	}

	code, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || code < 0 || code > 255 || !Type(code).Valid() {
		return 0, fmt.Errorf("pixel: unknown type %q", s)
	}
	return Type(code), nil
}
