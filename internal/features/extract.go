package features

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // register GIF decoder
	_ "image/jpeg" // register JPEG decoder
	_ "image/png"  // register PNG decoder
	"io"
	"sort"

	_ "github.com/chai2010/webp" // register libwebp decoder
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
)

// DefaultMaxPixels is a pixel cap suited to untrusted uploads.
const DefaultMaxPixels = 50_000_000

// ErrTooManyPixels reports an image whose header declares more pixels than
// the caller allows. It is always wrapped in a *DecodeError.
var ErrTooManyPixels = errors.New("image exceeds pixel limit")

var (
	errEmptyInput = errors.New("empty image data")
	errEmptyImage = errors.New("image has no pixels")
)

// Extract decodes r and reduces the resulting pixels to Features. Any decode
// failure is returned as a *DecodeError; a cancelled ctx returns ctx.Err().
func Extract(ctx context.Context, r io.Reader) (Features, error) {
	return ExtractLimited(ctx, r, 0)
}

// ExtractLimited is Extract with a cap on the pixel count declared by the
// image header, checked before any pixel buffer is allocated. A
// non-positive maxPixels disables the cap.
func ExtractLimited(ctx context.Context, r io.Reader, maxPixels int64) (Features, error) {
	img, err := DecodeLimited(ctx, r, maxPixels)
	if err != nil {
		return Features{}, err
	}
	return FromPixels(img.Rect.Dx(), img.Rect.Dy(), img.Pix)
}

// Decode reads an encoded image and returns it as a tightly packed,
// non-premultiplied RGBA buffer with its origin at (0, 0).
func Decode(ctx context.Context, r io.Reader) (*image.NRGBA, error) {
	return DecodeLimited(ctx, r, 0)
}

// DecodeLimited is Decode with the pixel cap of ExtractLimited.
func DecodeLimited(ctx context.Context, r io.Reader, maxPixels int64) (*image.NRGBA, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, NewDecodeError(fmt.Errorf("read image: %w", err))
	}
	if len(data) == 0 {
		return nil, NewDecodeError(errEmptyInput)
	}
	if maxPixels > 0 {
		cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
		if err != nil {
			return nil, NewDecodeError(err)
		}
		if pixels := int64(cfg.Width) * int64(cfg.Height); pixels > maxPixels {
			return nil, NewDecodeError(fmt.Errorf("%w: %dx%d is over %d", ErrTooManyPixels, cfg.Width, cfg.Height, maxPixels))
		}
	}

	type decoded struct {
		img *image.NRGBA
		err error
	}
	done := make(chan decoded, 1)
	go func() {
		img, _, err := image.Decode(bytes.NewReader(data))
		if err != nil {
			done <- decoded{err: err}
			return
		}
		done <- decoded{img: imaging.Clone(img)}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-done:
		if res.err != nil {
			return nil, NewDecodeError(res.err)
		}
		if res.img.Rect.Empty() {
			return nil, NewDecodeError(errEmptyImage)
		}
		return res.img, nil
	}
}

// FromImage reduces an already decoded image.
func FromImage(img image.Image) (Features, error) {
	if img == nil || img.Bounds().Empty() {
		return Features{}, NewDecodeError(errEmptyImage)
	}
	nrgba, ok := img.(*image.NRGBA)
	if !ok || nrgba.Rect.Min != (image.Point{}) || nrgba.Stride != 4*nrgba.Rect.Dx() {
		nrgba = imaging.Clone(img)
	}
	return FromPixels(nrgba.Rect.Dx(), nrgba.Rect.Dy(), nrgba.Pix)
}

// FromPixels reduces a row-major RGBA buffer of width*height*4 bytes. Alpha
// is ignored.
func FromPixels(width, height int, pix []uint8) (Features, error) {
	if width <= 0 || height <= 0 {
		return Features{}, NewDecodeError(fmt.Errorf("invalid dimensions %dx%d", width, height))
	}
	if len(pix) < width*height*4 {
		return Features{}, NewDecodeError(fmt.Errorf("pixel buffer holds %d bytes, want %d", len(pix), width*height*4))
	}
	return reduce(width, height, pix[:width*height*4]), nil
}

func reduce(width, height int, pix []uint8) Features {
	var (
		sum    float64
		minL   = 255.0
		maxL   = 0.0
		counts = make(map[ColorLabel]int, len(Labels))
		seen   = make([]ColorLabel, 0, len(Labels))
	)

	for i := 0; i+3 < len(pix); i += 4 {
		r, g, b := pix[i], pix[i+1], pix[i+2]

		l := Luma(r, g, b)
		sum += l
		if l < minL {
			minL = l
		}
		if l > maxL {
			maxL = l
		}

		label := Label(r, g, b)
		if counts[label] == 0 {
			seen = append(seen, label)
		}
		counts[label]++
	}

	// seen is in first-observed order; a stable sort keeps that order on ties.
	sort.SliceStable(seen, func(i, j int) bool {
		return counts[seen[i]] > counts[seen[j]]
	})
	if len(seen) > MaxDominantColors {
		seen = seen[:MaxDominantColors]
	}

	return Features{
		AspectRatio:    float64(width) / float64(height),
		DominantColors: seen,
		Brightness:     sum / float64(width*height),
		Contrast:       maxL - minL,
	}
}
