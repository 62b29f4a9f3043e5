// Package segment implements the on-disk layout of a segment.
//
// A segment is an immutable set of opaque document records. Its files are:
//
//	_<id>.dat        document records, back to back
//	_<id>.idx        record offsets and the data checksum
//	_<id>.cfs        compound container holding .dat and .idx (packed segments)
//	_<id>.si         segment info: doc count, packaging decision, codec
//	_<id>_<gen>.liv  deleted documents (roaring bitmap), one file per delete generation
//
// The .si file records the packaging decision, so a restarted process can
// reopen every segment without re-deciding it. Segment files are never
// modified after Finish; deletes produce a new .liv generation.
package segment
