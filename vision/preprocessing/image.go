// Package preprocessing decodes and resizes images into the flat CHW float32
// layout the tensor package expects. Pixel values stay in [0, 255]; rescaling
// belongs to the batch streams.
package preprocessing

import (
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"github.com/pkg/errors"
)

// ColorMode selects the channel layout of the output.
type ColorMode string

const (
	RGB       ColorMode = "rgb"
	Grayscale ColorMode = "grayscale"
)

// Channels returns the channel count of a color mode.
func Channels(mode ColorMode) (int, error) {
	switch mode {
	case RGB:
		return 3, nil
	case Grayscale:
		return 1, nil
	default:
		return 0, errors.Errorf("unknown color mode %q", mode)
	}
}

// Options controls decoding: the square target size and the color mode.
type Options struct {
	Size int
	Mode ColorMode
}

// DecodeFile reads and decodes a JPEG or PNG image.
func DecodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening image %s", path)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, errors.Wrapf(err, "decoding image %s", path)
	}
	return img, nil
}

// ToCHW resizes the image to opts.Size x opts.Size with bilinear sampling and
// returns channel-major float32 pixels in [0, 255].
func ToCHW(img image.Image, opts Options) ([]float32, error) {
	channels, err := Channels(opts.Mode)
	if err != nil {
		return nil, err
	}
	if opts.Size < 1 {
		return nil, errors.Errorf("invalid target size %d", opts.Size)
	}

	size := opts.Size
	bounds := img.Bounds()
	srcW := bounds.Dx()
	srcH := bounds.Dy()
	if srcW < 1 || srcH < 1 {
		return nil, errors.New("empty source image")
	}

	out := make([]float32, channels*size*size)
	plane := size * size

	scaleX := float64(srcW) / float64(size)
	scaleY := float64(srcH) / float64(size)

	for y := 0; y < size; y++ {
		srcY := (float64(y)+0.5)*scaleY - 0.5
		y0, y1, fy := sampleCoords(srcY, srcH)
		for x := 0; x < size; x++ {
			srcX := (float64(x)+0.5)*scaleX - 0.5
			x0, x1, fx := sampleCoords(srcX, srcW)

			r00, g00, b00 := pixelAt(img, bounds, x0, y0)
			r01, g01, b01 := pixelAt(img, bounds, x1, y0)
			r10, g10, b10 := pixelAt(img, bounds, x0, y1)
			r11, g11, b11 := pixelAt(img, bounds, x1, y1)

			r := bilerp(r00, r01, r10, r11, fx, fy)
			g := bilerp(g00, g01, g10, g11, fx, fy)
			b := bilerp(b00, b01, b10, b11, fx, fy)

			idx := y*size + x
			if channels == 1 {
				// ITU-R BT.601 luma weights.
				out[idx] = 0.299*r + 0.587*g + 0.114*b
			} else {
				out[idx] = r
				out[plane+idx] = g
				out[2*plane+idx] = b
			}
		}
	}
	return out, nil
}

func sampleCoords(pos float64, limit int) (lo, hi int, frac float64) {
	if pos < 0 {
		pos = 0
	}
	lo = int(pos)
	if lo > limit-1 {
		lo = limit - 1
	}
	hi = lo + 1
	if hi > limit-1 {
		hi = limit - 1
	}
	return lo, hi, pos - float64(lo)
}

func pixelAt(img image.Image, bounds image.Rectangle, x, y int) (r, g, b float32) {
	r16, g16, b16, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
	return float32(r16 >> 8), float32(g16 >> 8), float32(b16 >> 8)
}

func bilerp(v00, v01, v10, v11 float32, fx, fy float64) float32 {
	top := v00 + float32(fx)*(v01-v00)
	bottom := v10 + float32(fx)*(v11-v10)
	return top + float32(fy)*(bottom-top)
}
