// Package archive packages batch results into downloadable zip files.
//
// Each batch owns one archive named after its identifier. Every successfully
// processed image contributes a folder, named from the image file stem, holding
// one PNG per layer (layer_<n>_<hex>.png) and a manifest.json describing them.
// Archives are written to a ".partial" file and renamed on Finalize, so readers
// never observe a half-written archive.
//
// Store resolves identifiers to archive paths and enforces the retention TTL.
// Registry keeps the JSON summary of each batch for later lookup.
package archive
