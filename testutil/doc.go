// Package testutil provides testing utilities for voxcache.
//
// This package is intended for use in tests only. It provides seeded random
// voxel data and in-memory volume sources that count reads, block on a gate
// and fail on demand.
//
// # Random Voxels
//
//	rng := testutil.NewRNG(seed)
//	buf := rng.Buffer(pixel.Short, 64*64)
//
// # Instrumented Sources
//
//	src := testutil.Ramp("vol", volume.Point3{X: 4, Y: 4, Z: 8}, pixel.Byte)
//	release := src.Block()
//	...
//	release()
//	src.Reads(3) // number of times slice 3 was read
package testutil
