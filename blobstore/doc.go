// Package blobstore provides the storage abstraction under volume readers and
// snapshot files.
//
// BlobStore reads and writes immutable blobs (raw volume payloads, their text
// headers and encoded snapshots). Implementations must be safe for concurrent use.
//
// # Built-in Implementations
//
//   - LocalStore: local filesystem, memory mapped reads
//   - MemoryStore: in-process map, for tests and scratch volumes
//   - CachingStore: block cache in front of any other store
//   - s3.Store: Amazon S3 with range reads and streamed uploads
//   - minio.Store: MinIO and other S3-compatible servers
//
// Remote stores are usually wrapped by a CachingStore so that repeated slice
// reads hit memory:
//
//	bc := cache.NewShardedLRUBlockCache(256<<20, rc)
//	store := blobstore.NewCachingStore(s3store, bc, blobstore.DefaultBlockSize)
package blobstore
