// Package snapshot serializes materialized images into a single compact blob.
//
// Layout:
//
//	magic "VXSN" | version uint8 | codec name length uint8 | codec name
//	header length uint32 | header (encoded by the named codec)
//	one framed block per slice, in slice order
//	checksum uint32 (CRC32-Castagnoli of everything before it)
//
// Every block is [uncompressed size uint32][compressed size uint32][data],
// little endian, with a compressed size of 0 for blocks stored as is. BOOL
// slices are stored as roaring bitmaps of their set voxels; other types use
// the big-endian voxel encoding of package pixel.
package snapshot

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"runtime"

	"github.com/RoaringBitmap/roaring/v2"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/voxcache"
	"github.com/hupe1980/voxcache/blobstore"
	"github.com/hupe1980/voxcache/codec"
	"github.com/hupe1980/voxcache/internal/hash"
	"github.com/hupe1980/voxcache/pixel"
	"github.com/hupe1980/voxcache/volume"
)

const (
	magic   = "VXSN"
	version = 1
)

// ErrInvalidSnapshot is returned for blobs that are not snapshots or are
// truncated.
var ErrInvalidSnapshot = errors.New("snapshot: invalid snapshot")

// Header describes the encoded image.
type Header struct {
	Descriptor  volume.Descriptor `json:"descriptor"`
	Type        pixel.Type        `json:"type"`
	Compression Compression       `json:"compression"`
	Slices      int               `json:"slices"`
}

type options struct {
	codec       codec.Codec
	compression Compression
	concurrency int
}

// Option configures Encode.
type Option func(*options)

// WithCodec sets the header codec. If nil is passed, codec.Default is used.
func WithCodec(c codec.Codec) Option {
	return func(o *options) {
		if c == nil {
			c = codec.Default
		}
		o.codec = c
	}
}

// WithCompression sets the slice compression.
func WithCompression(c Compression) Option {
	return func(o *options) {
		o.compression = c
	}
}

// WithConcurrency caps the number of slices read and compressed at once.
func WithConcurrency(n int) Option {
	return func(o *options) {
		o.concurrency = n
	}
}

func buildOptions(optFns []Option) options {
	o := options{
		codec:       codec.Default,
		compression: CompressionZSTD,
		concurrency: runtime.GOMAXPROCS(0),
	}
	for _, fn := range optFns {
		fn(&o)
	}
	if o.concurrency <= 0 {
		o.concurrency = runtime.GOMAXPROCS(0)
	}
	return o
}

// Encode writes src at its native type to w.
func Encode(ctx context.Context, w io.Writer, src volume.Source, optFns ...Option) error {
	o := buildOptions(optFns)
	if _, err := ParseCompression(string(o.compression)); err != nil {
		return err
	}

	desc := src.Descriptor()
	if err := desc.Validate(); err != nil {
		return err
	}
	t := desc.PixelType

	hdr, err := o.codec.Marshal(Header{
		Descriptor:  desc,
		Type:        t,
		Compression: o.compression,
		Slices:      desc.SliceCount(),
	})
	if err != nil {
		return fmt.Errorf("snapshot: encode header: %w", err)
	}

	blocks := make([][]byte, desc.SliceCount())

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)
	for i := range blocks {
		g.Go(func() error {
			buf, err := src.Slice(gctx, i, t)
			if err != nil {
				return err
			}
			payload, err := encodeSlice(buf)
			if err != nil {
				return err
			}
			blocks[i], err = compressBlock(payload, o.compression)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("snapshot: encode slices: %w", err)
	}

	bw := bufio.NewWriter(w)
	sum := hash.NewCRC32C()
	hw := io.MultiWriter(bw, sum)

	name := o.codec.Name()
	pre := make([]byte, 0, len(magic)+2+len(name)+4)
	pre = append(pre, magic...)
	pre = append(pre, version, byte(len(name)))
	pre = append(pre, name...)
	pre = binary.LittleEndian.AppendUint32(pre, uint32(len(hdr)))

	if _, err := hw.Write(pre); err != nil {
		return err
	}
	if _, err := hw.Write(hdr); err != nil {
		return err
	}
	for _, b := range blocks {
		if _, err := hw.Write(b); err != nil {
			return err
		}
	}
	if _, err := bw.Write(binary.LittleEndian.AppendUint32(nil, sum.Sum32())); err != nil {
		return err
	}
	return bw.Flush()
}

func encodeSlice(buf pixel.Buffer) ([]byte, error) {
	mask, ok := buf.(pixel.BoolBuffer)
	if !ok {
		return pixel.Encode(buf), nil
	}

	bm := roaring.New()
	for i, v := range mask {
		if v {
			bm.Add(uint32(i))
		}
	}
	bm.RunOptimize()
	return bm.ToBytes()
}

func decodeSlice(t pixel.Type, data []byte, n int) (pixel.Buffer, error) {
	if t != pixel.Bool {
		return pixel.Decode(t, data, n)
	}

	bm := roaring.New()
	if err := bm.UnmarshalBinary(data); err != nil {
		return nil, err
	}

	mask := make(pixel.BoolBuffer, n)
	it := bm.Iterator()
	for it.HasNext() {
		i := int(it.Next())
		if i >= n {
			return nil, fmt.Errorf("%w: voxel %d outside slice of %d", ErrInvalidSnapshot, i, n)
		}
		mask[i] = true
	}
	return mask, nil
}

// Decode reads a snapshot into an in-memory image.
func Decode(ctx context.Context, r io.Reader) (*voxcache.Image, error) {
	br := bufio.NewReader(r)
	sum := hash.NewCRC32C()
	hr := io.TeeReader(br, sum)

	pre := make([]byte, len(magic)+2)
	if _, err := io.ReadFull(hr, pre); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}
	if string(pre[:len(magic)]) != magic {
		return nil, fmt.Errorf("%w: bad magic", ErrInvalidSnapshot)
	}
	if pre[len(magic)] != version {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrInvalidSnapshot, pre[len(magic)])
	}

	name := make([]byte, pre[len(magic)+1])
	if _, err := io.ReadFull(hr, name); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}
	c, err := codec.Lookup(string(name))
	if err != nil {
		return nil, err
	}

	var size [4]byte
	if _, err := io.ReadFull(hr, size[:]); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}
	raw := make([]byte, binary.LittleEndian.Uint32(size[:]))
	if _, err := io.ReadFull(hr, raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}

	var h Header
	if err := c.Unmarshal(raw, &h); err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrInvalidSnapshot, err)
	}
	if err := h.Descriptor.Validate(); err != nil {
		return nil, err
	}
	if h.Slices != h.Descriptor.SliceCount() {
		return nil, fmt.Errorf("%w: %d slices for depth %d", ErrInvalidSnapshot, h.Slices, h.Descriptor.SliceCount())
	}

	blocks := make([][]byte, h.Slices)
	for i := range blocks {
		var bh [blockHeaderSize]byte
		if _, err := io.ReadFull(hr, bh[:]); err != nil {
			return nil, fmt.Errorf("%w: slice %d: %v", ErrInvalidSnapshot, i, err)
		}
		n, err := blockLen(bh[:])
		if err != nil {
			return nil, err
		}
		block := make([]byte, n)
		copy(block, bh[:])
		if _, err := io.ReadFull(hr, block[blockHeaderSize:]); err != nil {
			return nil, fmt.Errorf("%w: slice %d: %v", ErrInvalidSnapshot, i, err)
		}
		blocks[i] = block
	}

	want := sum.Sum32()
	var trailer [4]byte
	if _, err := io.ReadFull(br, trailer[:]); err != nil {
		return nil, fmt.Errorf("%w: checksum: %v", ErrInvalidSnapshot, err)
	}
	if got := binary.LittleEndian.Uint32(trailer[:]); got != want {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrInvalidSnapshot)
	}

	n := h.Descriptor.SliceLen()
	slices := make([]pixel.Buffer, h.Slices)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, block := range blocks {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			payload, err := decompressBlock(block, h.Compression)
			if err != nil {
				return fmt.Errorf("slice %d: %w", i, err)
			}
			slices[i], err = decodeSlice(h.Type, payload, n)
			if err != nil {
				return fmt.Errorf("slice %d: %w", i, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("snapshot: decode: %w", err)
	}

	return voxcache.NewImage(h.Descriptor, h.Type, slices)
}

// Save encodes src into the blob name.
func Save(ctx context.Context, store blobstore.BlobStore, name string, src volume.Source, optFns ...Option) error {
	w, err := store.Create(ctx, name)
	if err != nil {
		return err
	}
	if err := Encode(ctx, w, src, optFns...); err != nil {
		_ = blobstore.Abort(w)
		return err
	}
	return w.Close()
}

// Loader reads snapshots from a store for voxcache.Env.Load.
type Loader struct {
	store blobstore.BlobStore
}

// NewLoader creates a Loader reading from store.
func NewLoader(store blobstore.BlobStore) *Loader {
	return &Loader{store: store}
}

// Load decodes the snapshot stored under name.
func (l *Loader) Load(ctx context.Context, name string) (volume.Source, error) {
	b, err := l.store.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	defer b.Close()

	rc, err := b.ReadRange(ctx, 0, b.Size())
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	img, err := Decode(ctx, rc)
	if err != nil {
		return nil, fmt.Errorf("snapshot: %s: %w", name, err)
	}
	return img, nil
}
