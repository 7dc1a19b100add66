// Package imaging provides the raster primitives shared by every layersmith stage.
//
// The package owns the in-memory image representation used between pipeline stages
// (Raster), decoding of uploaded bytes, the perceptual colour-space conversion used
// for clustering, optional preprocessing, and PNG/thumbnail encoding.
//
// # Raster Layout
//
// A Raster is a 3-channel, 8-bit RGB buffer stored row-major with no padding:
//
//	offset(x, y) = (y*Width + x) * 3
//
// Coordinates are 0-based with the origin at the top-left corner. Alpha is discarded
// on decode; transparent pixels become black, matching how segmentation masks leave
// the background at zero.
//
// Rasters are treated as immutable once handed to another stage. Functions that
// modify pixels (preprocessing, annotation) always work on a Clone.
//
// # Perceptual Colour Space
//
// ToPerceptual converts a Raster into CIE L*a*b* (D65) using go-colorful. Note that
// go-colorful scales L to [0,1] and a/b by the same factor of 1/100 compared to the
// textbook ranges; Euclidean distances are therefore uniformly scaled, which does not
// change any clustering result. FromPerceptual clamps out-of-gamut values into
// [0,255] instead of wrapping.
//
// # Thread Safety
//
// ImageCache is safe for concurrent use. All other functions are stateless and may be
// called concurrently on different rasters.
//
// # Error Handling
//
// Malformed buffers (non-positive dimensions, a pixel slice whose length is not
// Width*Height*3) are reported as ErrInvalidImageShape. Decoding failures wrap the
// underlying decoder error.
package imaging
