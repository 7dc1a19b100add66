// Package layers decomposes a raster into flat colour layers.
//
// Decomposition clusters pixel colours in CIE L*a*b* with k-means and emits one
// layer per non-empty cluster. Every foreground pixel of a layer carries the
// cluster centroid colour; everything else is black. Layers are returned darkest
// first, which is the order material is stacked when cutting.
//
// # Cluster Count
//
// The caller either fixes the number of clusters (1-10) or passes 0 to let
// SelectCount pick one with an elbow heuristic:
//
//  1. Fit a fast, subsampled k-means for every k in [kMin, min(kMax, 15)]
//  2. Take first differences of the inertia sequence
//  3. Divide each difference by its predecessor (denominator guarded by epsilon)
//  4. k = argmin(ratio) + kMin + 1, clamped to [2, 10]
//
// The "+1" compensates for the index shift introduced by differencing, and the cap
// of 10 matches what downstream cutting tools accept. The heuristic is a known
// approximation of the elbow, not an optimum.
//
// # Determinism
//
// Every fit uses a fixed seed. Initialisations run in parallel, each on its own
// seeded PCG stream, and the best run is chosen by inertia with ties going to the
// lowest run index, so repeated calls produce identical layers.
package layers
