package rawvol

import (
	"context"
	"fmt"
	"io"

	"github.com/hupe1980/voxcache/blobstore"
	"github.com/hupe1980/voxcache/internal/resource"
	"github.com/hupe1980/voxcache/pixel"
	"github.com/hupe1980/voxcache/volume"
)

type writeOptions struct {
	rc *resource.Controller
}

// WriteOption configures Write.
type WriteOption func(*writeOptions)

// WithController charges written bytes against the IO budget of rc.
func WithController(rc *resource.Controller) WriteOption {
	return func(o *writeOptions) {
		o.rc = rc
	}
}

// Write stores src under name as type t: the header first, then every slice
// in order. The payload becomes visible once all slices are written.
func Write(ctx context.Context, store blobstore.BlobStore, name string, src volume.Source, t pixel.Type, optFns ...WriteOption) error {
	var o writeOptions
	for _, fn := range optFns {
		fn(&o)
	}

	if !t.Valid() {
		return fmt.Errorf("rawvol: invalid type %s", t)
	}
	desc := src.Descriptor()
	if err := desc.Validate(); err != nil {
		return err
	}

	wb, err := store.Create(ctx, name)
	if err != nil {
		return fmt.Errorf("rawvol: create %s: %w", name, err)
	}

	var w io.Writer = wb
	if o.rc != nil {
		w = resource.NewRateLimitedWriter(ctx, wb, o.rc)
	}

	if err := writeSlices(ctx, w, src, desc, t); err != nil {
		_ = blobstore.Abort(wb)
		return fmt.Errorf("rawvol: write %s: %w", name, err)
	}
	if err := wb.Sync(); err != nil {
		_ = blobstore.Abort(wb)
		return err
	}
	if err := wb.Close(); err != nil {
		return fmt.Errorf("rawvol: close %s: %w", name, err)
	}

	header, err := HeaderFor(desc, t).MarshalText()
	if err != nil {
		return err
	}
	return store.Put(ctx, HeaderName(name), header)
}

func writeSlices(ctx context.Context, w io.Writer, src volume.Source, desc volume.Descriptor, t pixel.Type) error {
	buf := make([]byte, 0, pixel.EncodedLen(t, desc.SliceLen()))
	for z := range desc.SliceCount() {
		if err := ctx.Err(); err != nil {
			return err
		}

		s, err := src.Slice(ctx, z, t)
		if err != nil {
			return err
		}
		if s.Len() != desc.SliceLen() {
			return fmt.Errorf("slice %d has %d voxels, want %d", z, s.Len(), desc.SliceLen())
		}

		buf = pixel.AppendEncoded(buf[:0], s)
		if _, err := w.Write(buf); err != nil {
			return err
		}
	}
	return nil
}
