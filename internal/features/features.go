// Package features reduces a raster image to the small feature vector scored
// by the heuristic classifier: aspect ratio, dominant color buckets, mean luma
// and luma range.
package features

// ColorLabel is a coarse color bucket assigned to a single pixel.
type ColorLabel string

const (
	White  ColorLabel = "white"
	Black  ColorLabel = "black"
	Red    ColorLabel = "red"
	Green  ColorLabel = "green"
	Blue   ColorLabel = "blue"
	Orange ColorLabel = "orange"
	Brown  ColorLabel = "brown"
	Gray   ColorLabel = "gray"
)

// MaxDominantColors is the number of ranked labels kept in Features.
const MaxDominantColors = 3

// Labels lists every ColorLabel in rule order.
var Labels = []ColorLabel{White, Black, Red, Green, Blue, Orange, Brown, Gray}

// Features is the reduced description of one image.
type Features struct {
	AspectRatio    float64      `json:"aspect_ratio"`
	DominantColors []ColorLabel `json:"dominant_colors"`
	Brightness     float64      `json:"brightness"`
	Contrast       float64      `json:"contrast"`
}

// Label assigns exactly one bucket to an RGB triple. The rules overlap, so
// they are evaluated in a fixed order and the first match wins; reordering
// them changes classification outcomes.
func Label(r, g, b uint8) ColorLabel {
	switch {
	case r > 200 && g > 200 && b > 200:
		return White
	case r < 50 && g < 50 && b < 50:
		return Black
	case r > g && r > b:
		return Red
	case g > r && g > b:
		return Green
	case b > r && b > g:
		return Blue
	case r > 150 && g > 100 && b < 100:
		return Orange
	case r > 100 && g > 80 && b < 80:
		return Brown
	default:
		return Gray
	}
}

// Luma returns the BT.601 weighted brightness of an 8-bit RGB triple.
func Luma(r, g, b uint8) float64 {
	l := 0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)
	// The weights sum to 1 only up to float rounding; white can land a
	// hair above 255.
	if l > 255 {
		return 255
	}
	return l
}
