// Package imaging implements the local image operations exposed as tools:
// resizing, format conversion and metadata inspection.
//
// Decoding, resampling and encoding are delegated to
// github.com/disintegration/imaging, with WEBP handled by
// github.com/chai2010/webp. This package owns the policies around them:
// aspect-ratio handling, default output names, and flattening transparent
// images before they are written to formats without an alpha channel.
//
// # Formats
//
// Sources may be PNG, JPEG, GIF, WEBP, BMP or TIFF. Convert targets are
// limited to PNG, JPEG, WEBP and GIF. Quality applies to JPEG and WEBP; PNG is
// always written with the best compression level.
//
// # Thread Safety
//
// Backend holds no mutable state and may be used from multiple goroutines.
// Concurrent writes to the same output path are the caller's problem.
//
// # Error Handling
//
// Every error returned is a *toolerr.Error (possibly wrapped):
//   - KindSourceNotFound when the source path does not exist
//   - KindMissingDimension when a resize names neither width nor height
//   - KindUnsupportedFormat for conversion targets outside the supported set
//   - KindIOFailure for decode, encode and write failures
package imaging
