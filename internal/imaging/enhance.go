// Package imaging holds the post-capture enhancement filter.
package imaging

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"os"
	"path/filepath"
)

// Brightness is the fixed brightness multiplier applied to every shot.
const Brightness = 1.5

// Brighten returns a copy of img with every colour channel multiplied by
// factor and clamped to the valid range. Alpha is preserved.
func Brighten(img image.Image, factor float64) *image.RGBA {
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)

	scale := func(v uint8) uint8 {
		f := float64(v) * factor
		if f > 255 {
			return 255
		}
		if f < 0 {
			return 0
		}
		return uint8(f + 0.5)
	}
	for i := 0; i+3 < len(out.Pix); i += 4 {
		out.Pix[i] = scale(out.Pix[i])
		out.Pix[i+1] = scale(out.Pix[i+1])
		out.Pix[i+2] = scale(out.Pix[i+2])
	}
	return out
}

// Enhance brightens the JPEG at path in place by the fixed Brightness factor.
func Enhance(path string) error {
	return EnhanceFile(path, Brightness)
}

// EnhanceFile brightens the JPEG at path by factor, replacing the file
// atomically.
func EnhanceFile(path string, factor float64) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	img, _, err := image.Decode(f)
	f.Close()
	if err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".enhance-*.jpg")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := jpeg.Encode(tmp, Brighten(img, factor), &jpeg.Options{Quality: 95}); err != nil {
		tmp.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}

// Luma returns the mean Rec. 601 luma of img, 0-255.
func Luma(img image.Image) float64 {
	b := img.Bounds()
	if b.Empty() {
		return 0
	}
	var sum float64
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			g := color.GrayModel.Convert(img.At(x, y)).(color.Gray)
			sum += float64(g.Y)
		}
	}
	return sum / float64(b.Dx()*b.Dy())
}
