// Package preview renders small thumbnails of processed images.
package preview

import (
	"fmt"
	"image"

	"github.com/bamiaux/rez"
)

// minResample is the smallest side rez accepts on either image.
const minResample = 2

// Thumbnail downsamples img so its longer side is at most maxSide, keeping
// the aspect ratio. Images already small enough are returned as is. Sides
// never shrink below two pixels unless the source is thinner.
func Thumbnail(img *image.RGBA, maxSide int) (*image.RGBA, error) {
	if maxSide <= 0 {
		return nil, fmt.Errorf("preview: invalid size %d", maxSide)
	}
	b := img.Bounds()
	w, h := Fit(b.Dx(), b.Dy(), maxSide)
	if w == b.Dx() && h == b.Dy() {
		return img, nil
	}

	if b.Dx() < minResample || b.Dy() < minResample || w < minResample || h < minResample {
		return nearest(img, w, h), nil
	}

	out := image.NewRGBA(image.Rect(0, 0, w, h))
	if err := rez.Convert(out, img, rez.NewLanczosFilter(3)); err != nil {
		return nil, fmt.Errorf("preview: %w", err)
	}
	return out, nil
}

// Fit scales width x height down to fit a maxSide square. A side is kept at
// two pixels or the source side, whichever is smaller.
func Fit(width, height, maxSide int) (int, int) {
	if width <= maxSide && height <= maxSide {
		return width, height
	}
	var w, h int
	if width >= height {
		w, h = maxSide, height*maxSide/width
	} else {
		w, h = width*maxSide/height, maxSide
	}
	return max(w, min(minResample, width)), max(h, min(minResample, height))
}

// nearest is a nearest-neighbour resize for images rez cannot take.
func nearest(img *image.RGBA, w, h int) *image.RGBA {
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		sy := b.Min.Y + y*b.Dy()/h
		for x := 0; x < w; x++ {
			sx := b.Min.X + x*b.Dx()/w
			si := img.PixOffset(sx, sy)
			di := out.PixOffset(x, y)
			copy(out.Pix[di:di+4], img.Pix[si:si+4])
		}
	}
	return out
}
