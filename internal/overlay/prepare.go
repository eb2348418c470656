package overlay

import (
	"fmt"
	"image"
	_ "image/jpeg" // overlay sources and archived shots
	_ "image/png"  // overlay assets
	"os"

	"golang.org/x/image/draw"
)

// Block alignment required by the overlay renderer: padded frames must have
// a width that is a multiple of BlockWidth and a height that is a multiple of
// BlockHeight.
const (
	BlockWidth  = 32
	BlockHeight = 16
)

// Load decodes the image at path.
func Load(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return img, nil
}

// Fit scales img down so its width does not exceed maxWidth, preserving the
// aspect ratio. Images that already fit are returned unchanged.
func Fit(img image.Image, maxWidth int) image.Image {
	b := img.Bounds()
	if maxWidth <= 0 || b.Dx() <= maxWidth {
		return img
	}
	h := b.Dy() * maxWidth / b.Dx()
	if h < 1 {
		h = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, maxWidth, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

// PaddedSize rounds size up to the renderer's block alignment.
func PaddedSize(size image.Point) image.Point {
	return image.Pt(
		(size.X+BlockWidth-1)/BlockWidth*BlockWidth,
		(size.Y+BlockHeight-1)/BlockHeight*BlockHeight,
	)
}

// Pad copies img into the top-left corner of a transparent RGBA frame whose
// dimensions are block aligned.
func Pad(img image.Image) *image.RGBA {
	b := img.Bounds()
	p := PaddedSize(b.Size())
	dst := image.NewRGBA(image.Rect(0, 0, p.X, p.Y))
	draw.Draw(dst, b.Sub(b.Min), img, b.Min, draw.Src)
	return dst
}

// Prepare loads, fits and pads the image at path. It returns the padded frame
// and the size of the visible image inside it.
func Prepare(path string, maxWidth int) (*image.RGBA, image.Point, error) {
	img, err := Load(path)
	if err != nil {
		return nil, image.Point{}, err
	}
	fitted := Fit(img, maxWidth)
	return Pad(fitted), fitted.Bounds().Size(), nil
}
