// Package mmap maps volume files into memory for zero-copy slice reads.
//
//	m, err := mmap.Open("bone.raw")
//	if err != nil { ... }
//	defer m.Close()
//
//	_ = m.Advise(mmap.AccessRandom)
//	slice, err := m.Slice(off, n)
//
// Unix platforms use mmap(2) and madvise(2). Windows uses
// CreateFileMapping/MapViewOfFile, and Advise is a no-op there.
//
// A Mapping is safe for concurrent reads. Close is idempotent; callers must not
// touch slices obtained from Bytes or Slice after Close returns.
package mmap
