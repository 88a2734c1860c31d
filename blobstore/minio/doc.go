// Package minio provides a BlobStore backed by the MinIO client, for MinIO and
// other S3-compatible servers such as Ceph or Garage.
//
//	client, err := minio.Dial("localhost:9000", "minioadmin", "minioadmin", false)
//	if err != nil {
//	    return err
//	}
//	store := minio.NewStore(client, "scans", "tomography/")
//
// Slice reads issue ranged GETs, so only the bytes of the requested slice
// travel over the network.
package minio
