// Package s3 provides an Amazon S3 implementation of blobstore.BlobStore.
//
// # Usage
//
//	store, err := s3.New(ctx, "scans",
//	    s3.WithPrefix("tomography/"),
//	    s3.WithRegion("eu-central-1"),
//	)
//
// # Features
//
//   - Range reads, so a slice read fetches only the bytes of that slice
//   - Streamed multipart uploads through the transfer manager
//   - Automatic pagination for listing
//   - Key prefix for sharing one bucket between datasets
package s3
