// Package volume describes 3-D volumetric images and the synchronous slice
// source surface that every reader, cache and materialized image exposes.
//
// A Descriptor carries the geometry and encoding of a volume: its voxel extent,
// physical voxel spacing, world-space position, border offset, native pixel type,
// signed flag, scale factor and append-only process log. The number of
// addressable slices always equals Dims.Z.
//
// A Source yields one slice at a time in any requested pixel type:
//
//	desc := src.Descriptor()
//	for z := 0; z < desc.Dims.Z; z++ {
//	    buf, err := src.Slice(ctx, z, pixel.Float)
//	    ...
//	}
package volume
