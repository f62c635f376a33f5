package keyframe

import (
	"image"

	"github.com/nfnt/resize"
)

// analysisGray downsizes img to at most width pixels wide and converts it to
// 8-bit luminance. Scoring always runs on this reduced copy.
func analysisGray(img image.Image, width int) *image.Gray {
	b := img.Bounds()
	if width > 0 && b.Dx() > width {
		img = resize.Resize(uint(width), 0, img, resize.Bilinear)
		b = img.Bounds()
	}

	if g, ok := img.(*image.Gray); ok && g.Rect.Min == (image.Point{}) {
		return g
	}

	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := out.Pix[(y-b.Min.Y)*out.Stride:]
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			lum := 0.299*float64(r>>8) + 0.587*float64(g>>8) + 0.114*float64(bl>>8)
			row[x-b.Min.X] = uint8(lum + 0.5)
		}
	}
	return out
}

// matchSize resizes g to the given dimensions when they differ.
func matchSize(g *image.Gray, w, h int) *image.Gray {
	if g.Rect.Dx() == w && g.Rect.Dy() == h {
		return g
	}
	resized := resize.Resize(uint(w), uint(h), g, resize.Bilinear)
	return analysisGray(resized, 0)
}
