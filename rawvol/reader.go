package rawvol

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/hupe1980/voxcache/blobstore"
	"github.com/hupe1980/voxcache/pixel"
	"github.com/hupe1980/voxcache/volume"
)

// Reader serves the slices of a raw volume. It implements volume.Source and
// is safe for concurrent use.
type Reader struct {
	name   string
	header Header
	desc   volume.Descriptor
	blob   blobstore.Blob
	mapped []byte
}

// Open reads the header of volume name and opens its payload.
func Open(ctx context.Context, store blobstore.BlobStore, name string) (*Reader, error) {
	raw, err := blobstore.ReadAll(ctx, store, HeaderName(name))
	if err != nil {
		return nil, fmt.Errorf("rawvol: read header of %s: %w", name, err)
	}
	h, err := ParseHeader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("rawvol: %s: %w", name, err)
	}

	blob, err := store.Open(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("rawvol: open %s: %w", name, err)
	}
	if blob.Size() < h.PayloadBytes() {
		_ = blob.Close()
		return nil, fmt.Errorf("%w: %s holds %d bytes, header needs %d", ErrInvalidHeader, name, blob.Size(), h.PayloadBytes())
	}

	r := &Reader{
		name:   name,
		header: h,
		blob:   blob,
		desc: volume.Descriptor{
			Path:        name,
			SampleName:  path.Base(name),
			Dims:        h.Dims,
			ElementSize: h.ElementSize,
			Position:    h.Position,
			PixelType:   h.Type,
			Signed:      h.Signed,
			ScaleFactor: h.ScaleFactor,
		}.AppendLog("opened raw volume "+name, time.Now()),
	}

	if m, ok := blob.(blobstore.Mappable); ok {
		if data, err := m.Bytes(); err == nil {
			r.mapped = data
		}
	}
	return r, nil
}

// Header returns the parsed header.
func (r *Reader) Header() Header { return r.header }

// Descriptor implements volume.Source.
func (r *Reader) Descriptor() volume.Descriptor { return r.desc }

// Slice implements volume.Source.
func (r *Reader) Slice(ctx context.Context, index int, t pixel.Type) (pixel.Buffer, error) {
	if !r.desc.CheckIndex(index) {
		return nil, fmt.Errorf("rawvol: slice %d of %s out of range [0, %d)", index, r.name, r.desc.SliceCount())
	}

	n := r.desc.SliceLen()
	size := r.header.SliceBytes()
	off := int64(index) * size

	var data []byte
	if r.mapped != nil {
		data = r.mapped[off : off+size]
	} else {
		data = make([]byte, size)
		got, err := r.blob.ReadAt(ctx, data, off)
		if err != nil && !(err == io.EOF && int64(got) == size) {
			return nil, fmt.Errorf("rawvol: read slice %d of %s: %w", index, r.name, err)
		}
	}

	buf, err := pixel.Decode(r.header.Type, data, n)
	if err != nil {
		return nil, err
	}
	return r.desc.Conversion().Convert(buf, t)
}

// Close releases the payload blob.
func (r *Reader) Close() error {
	return r.blob.Close()
}

// Loader opens raw volumes from a store for voxcache.Env.Load.
type Loader struct {
	store blobstore.BlobStore
}

// NewLoader creates a Loader reading from store.
func NewLoader(store blobstore.BlobStore) *Loader {
	return &Loader{store: store}
}

// Load opens the raw volume stored under name.
func (l *Loader) Load(ctx context.Context, name string) (volume.Source, error) {
	r, err := Open(ctx, l.store, name)
	if err != nil {
		return nil, err
	}
	return r, nil
}
