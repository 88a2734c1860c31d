// Package voxcache provides concurrent, type-polymorphic access to volumetric
// images stored as stacks of 2D slices.
//
// An Env owns the shared runtime: a bounded set of reader slots that limits
// how many slice reads block on storage at once, a FIFO slice scheduler, and
// a cache of fully loaded images keyed by canonical path.
//
// # Quick Start
//
//	env := voxcache.New(
//	    voxcache.WithMaxReaders(4),
//	    voxcache.WithLoader(rawvol.NewLoader(store)),
//	)
//	defer env.Close()
//
//	img, _ := env.Load(ctx, "scans/femur", true, true)
//	slice, _ := img.Slice(ctx, 10, pixel.Float)
//
// # Access Modes
//
//	// LAZY: each slice is read once, on first request, at its native type.
//	r := env.Open(src)
//	buf, _ := r.Slice(ctx, 3, pixel.Short)
//
//	// PREFETCH: every slice is queued now; reads return as slices arrive.
//	cr := r.Prefetch(pixel.Float)
//
//	// MATERIALIZED: every slice is read and held in memory at one type.
//	img, _ := env.Materialize(ctx, src, pixel.Byte)
//
// Slices are converted between BOOL, BYTE, SHORT, INT and FLOAT on the way
// out; see package pixel for the conversion rules.
//
// # Observability
//
//	env := voxcache.New(
//	    voxcache.WithLogger(voxcache.NewJSONLogger(slog.LevelDebug)),
//	    voxcache.WithMetricsCollector(&voxcache.BasicMetricsCollector{}),
//	)
package voxcache
