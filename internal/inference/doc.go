// Package inference defines the external model capabilities used by the batch
// pipeline (segmentation, region classification and super-resolution) and ships
// two implementations of each: a remote client for HTTP inference servers and a
// local CPU fallback built on classic image operations.
//
// The pipeline only sees the interfaces. Implementations report exhausted model
// memory by wrapping ErrResourceExhausted.
package inference
