package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/hupe1980/voxcache/blobstore"
	"github.com/hupe1980/voxcache/blobstore/minio"
	"github.com/hupe1980/voxcache/blobstore/s3"
	"github.com/hupe1980/voxcache/internal/cache"
	"github.com/hupe1980/voxcache/internal/config"
	"github.com/hupe1980/voxcache/internal/resource"
	"github.com/hupe1980/voxcache/rawvol"
)

// openStore builds the configured blob store. When a block cache is
// configured the store is wrapped by a CachingStore and the cache is returned
// so its statistics can be reported.
func openStore(ctx context.Context, cfg config.Storage, rc *resource.Controller) (blobstore.BlobStore, *cache.ShardedLRUBlockCache, error) {
	var store blobstore.BlobStore

	switch cfg.Kind {
	case config.StorageLocal:
		store = blobstore.NewLocalStore(cfg.Root)
	case config.StorageMemory:
		store = blobstore.NewMemoryStore()
	case config.StorageS3:
		opts := []s3.Option{s3.WithPrefix(cfg.Prefix)}
		if cfg.Region != "" {
			opts = append(opts, s3.WithRegion(cfg.Region))
		}
		if cfg.Endpoint != "" {
			opts = append(opts, s3.WithEndpoint(cfg.Endpoint))
		}
		if cfg.AccessKey != "" {
			opts = append(opts, s3.WithStaticCredentials(cfg.AccessKey, cfg.SecretKey))
		}
		s, err := s3.New(ctx, cfg.Bucket, opts...)
		if err != nil {
			return nil, nil, err
		}
		store = s
	case config.StorageMinio:
		client, err := minio.Dial(cfg.Endpoint, cfg.AccessKey, cfg.SecretKey, cfg.Secure)
		if err != nil {
			return nil, nil, err
		}
		store = minio.NewStore(client, cfg.Bucket, cfg.Prefix)
	default:
		return nil, nil, fmt.Errorf("unknown storage kind %q", cfg.Kind)
	}

	if cfg.CacheBytes <= 0 {
		return store, nil, nil
	}

	blocks := cache.NewShardedLRUBlockCache(cfg.CacheBytes, rc)
	return blobstore.NewCachingStore(store, blocks, cfg.BlockSize), blocks, nil
}

// importVolume copies the raw volume at path on local disk into store under
// name, throttled by the controller's IO budget.
func importVolume(ctx context.Context, store blobstore.BlobStore, path, name string, rc *resource.Controller) error {
	local := blobstore.NewLocalStore(filepath.Dir(path))

	r, err := rawvol.Open(ctx, local, filepath.Base(path))
	if err != nil {
		return err
	}
	defer r.Close()

	return rawvol.Write(ctx, store, name, r, r.Descriptor().PixelType, rawvol.WithController(rc))
}
