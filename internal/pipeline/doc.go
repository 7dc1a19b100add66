// Package pipeline runs batches of images through segmentation, classification,
// upscaling, colour decomposition, annotation and archiving.
//
// Images of a batch are processed one after another and the stages of an image
// strictly in order. A failure in any stage is recorded against that image only;
// the batch continues with the next one. A batch in which every image failed is
// reported with ErrAllItemsFailed alongside the full Result.
//
// The external model capabilities are injected through inference.Services, and
// progress is reported through a callback so transports can forward it over
// whatever channel they own.
package pipeline
