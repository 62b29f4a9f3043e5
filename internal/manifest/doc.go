// Package manifest persists the segment catalog.
//
// # Overview
//
// A manifest records every live segment with its document counts, size,
// delete generation and packaging, plus the next segment ID to allocate. A
// restarted process rebuilds its catalog from the manifest alone; the
// packaging decision is never recomputed.
//
// # Binary Format
//
//	Header (16 bytes):
//	  Magic    (4 bytes) - 0x464d4753 ("SGMF")
//	  Version  (4 bytes) - Format version (currently 1)
//	  Checksum (4 bytes) - CRC32C of payload
//	  Length   (4 bytes) - Payload length in bytes
//
//	Payload:
//	  ID            (8 bytes)  - Manifest version ID
//	  CreatedAt     (8 bytes)  - UnixNano
//	  NextSegmentID (8 bytes)
//	  NumSegments   (uvarint)
//	  Segments (repeated):
//	    ID          (uvarint)
//	    LiveDocs    (uvarint)
//	    DeletedDocs (uvarint)
//	    SizeBytes   (uvarint)
//	    DelGen      (uvarint)
//	    Flags       (1 byte)  - bit 0 compound, bit 1 from forced merge
//
// # Atomic Commit
//
// Save writes MANIFEST-NNNNNN.bin and then replaces the CURRENT pointer with
// its name. Readers follow CURRENT, so a crash between the two writes leaves
// the previous manifest in effect. On S3 the pointer can be committed through
// DynamoDB (see blobstore/s3.DDBCommitStore) for conditional updates.
package manifest
