// Package anchor stamps registration crosses into the corners of colour layers.
//
// Every layer of an image receives marks at the same four positions, so physically
// cut layers can be aligned by their crosses. A mark is a plus shape: a thick outline
// cross is drawn first and a 1-pixel cross in the contrasting colour on top of it.
// The cross colour follows the brightness of the area under the mark unless a fixed
// colour is configured.
package anchor
