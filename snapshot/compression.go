package snapshot

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression selects how slice payloads are compressed.
type Compression string

const (
	// CompressionNone stores payloads as is.
	CompressionNone Compression = "none"
	// CompressionLZ4 uses LZ4 blocks (fast).
	CompressionLZ4 Compression = "lz4"
	// CompressionZSTD uses zstd (better ratio).
	CompressionZSTD Compression = "zstd"
)

// ParseCompression parses a compression name. The empty string means none.
func ParseCompression(s string) (Compression, error) {
	switch c := Compression(s); c {
	case "":
		return CompressionNone, nil
	case CompressionNone, CompressionLZ4, CompressionZSTD:
		return c, nil
	default:
		return "", fmt.Errorf("snapshot: unknown compression %q", s)
	}
}

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

// Block format: [UncompressedSize uint32][CompressedSize uint32][Data...].
// CompressedSize 0 marks an uncompressed block.
const blockHeaderSize = 8

var errCorruptBlock = errors.New("snapshot: corrupt block")

// compressBlock frames data, compressing it when that saves at least 10%.
func compressBlock(data []byte, c Compression) ([]byte, error) {
	var compressed []byte

	switch c {
	case CompressionLZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, buf, nil)
		if err != nil {
			return nil, err
		}
		compressed = buf[:n]
	case CompressionZSTD:
		enc := getZstdEncoder()
		compressed = enc.EncodeAll(data, nil)
		zstdEncoderPool.Put(enc)
	}

	if len(compressed) == 0 || float64(len(compressed)) > float64(len(data))*0.9 {
		out := make([]byte, blockHeaderSize+len(data))
		binary.LittleEndian.PutUint32(out[0:], uint32(len(data)))
		copy(out[blockHeaderSize:], data)
		return out, nil
	}

	out := make([]byte, blockHeaderSize+len(compressed))
	binary.LittleEndian.PutUint32(out[0:], uint32(len(data)))
	binary.LittleEndian.PutUint32(out[4:], uint32(len(compressed)))
	copy(out[blockHeaderSize:], compressed)
	return out, nil
}

// blockLen returns the framed length of the block starting at hdr.
func blockLen(hdr []byte) (int, error) {
	if len(hdr) < blockHeaderSize {
		return 0, errCorruptBlock
	}
	raw := binary.LittleEndian.Uint32(hdr[0:])
	packed := binary.LittleEndian.Uint32(hdr[4:])
	if packed == 0 {
		return blockHeaderSize + int(raw), nil
	}
	return blockHeaderSize + int(packed), nil
}

func decompressBlock(block []byte, c Compression) ([]byte, error) {
	if len(block) < blockHeaderSize {
		return nil, errCorruptBlock
	}
	raw := binary.LittleEndian.Uint32(block[0:])
	packed := binary.LittleEndian.Uint32(block[4:])

	if packed == 0 {
		if uint32(len(block)) < blockHeaderSize+raw {
			return nil, errCorruptBlock
		}
		return block[blockHeaderSize : blockHeaderSize+raw], nil
	}
	if uint32(len(block)) < blockHeaderSize+packed {
		return nil, errCorruptBlock
	}
	data := block[blockHeaderSize : blockHeaderSize+packed]

	switch c {
	case CompressionLZ4:
		out := make([]byte, raw)
		n, err := lz4.UncompressBlock(data, out)
		if err != nil {
			return nil, err
		}
		if uint32(n) != raw {
			return nil, fmt.Errorf("%w: lz4 size mismatch", errCorruptBlock)
		}
		return out, nil
	case CompressionZSTD:
		dec := getZstdDecoder()
		defer zstdDecoderPool.Put(dec)

		out, err := dec.DecodeAll(data, make([]byte, 0, raw))
		if err != nil {
			return nil, err
		}
		if uint32(len(out)) != raw {
			return nil, fmt.Errorf("%w: zstd size mismatch", errCorruptBlock)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: compressed block in %q snapshot", errCorruptBlock, c)
	}
}
