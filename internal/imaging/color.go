package imaging

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/lucasb-eyer/go-colorful"
)

// Brightness returns the perceived brightness of c using ITU-R BT.601 luma weights
// (0.299*R + 0.587*G + 0.114*B) on the 0-255 scale.
func Brightness(c RGB) float64 {
	return 0.299*float64(c.R) + 0.587*float64(c.G) + 0.114*float64(c.B)
}

// Hex formats c as a zero-padded lowercase "#rrggbb" string.
func Hex(c RGB) string {
	return colorful.Color{
		R: float64(c.R) / 255.0,
		G: float64(c.G) / 255.0,
		B: float64(c.B) / 255.0,
	}.Hex()
}

// ParseHex parses "#rrggbb" or "rrggbb" (either case).
func ParseHex(hex string) (RGB, error) {
	hex = strings.TrimPrefix(hex, "#")
	if len(hex) != 6 {
		return RGB{}, fmt.Errorf("invalid hex color length: %q", hex)
	}
	val, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return RGB{}, fmt.Errorf("invalid hex color %q: %w", hex, err)
	}
	return RGB{R: uint8(val >> 16), G: uint8(val >> 8), B: uint8(val)}, nil
}
