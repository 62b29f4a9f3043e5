// Package conv provides checked integer conversions.
//
// Use them where a value comes from disk (manifest counts, segment sizes) or
// where a count is bounded by a fixed-width on-disk field, such as the
// uint32 DocIDs of a segment. Conversions that are safe by construction use
// plain casts.
package conv
