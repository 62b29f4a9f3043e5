// Package s3 provides an Amazon S3 implementation of blobstore.BlobStore.
//
// # Usage
//
//	cfg, err := config.LoadDefaultConfig(ctx)
//	client := s3.NewFromConfig(cfg)
//	store := s3store.NewStore(client, "my-bucket", "indexes/products")
//
// Segment files are written through the multipart upload manager; reads are
// ranged GETs. S3 has no atomic rename, so the CURRENT pointer of a manifest
// can be committed through DynamoDB with DDBCommitStore when several writers
// share a prefix.
package s3
