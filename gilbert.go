// Package imageencrypt scrambles raster images by moving every pixel along a
// generalized Hilbert ("gilbert") curve by a fixed golden-ratio offset, and
// restores them with the inverse move.
package imageencrypt

import "fmt"

// GilbertCurve holds the visiting order of a Width x Height grid as two
// parallel coordinate slices.
type GilbertCurve struct {
	Width  int
	Height int
	X      []int32
	Y      []int32
}

// Len returns the number of visited cells, always Width*Height.
func (curve *GilbertCurve) Len() int {
	return len(curve.X)
}

// At returns the i-th coordinate of the curve.
func (curve *GilbertCurve) At(i int) (x, y int) {
	return int(curve.X[i]), int(curve.Y[i])
}

// InBounds reports whether (x, y) lies inside the curve's grid.
func (curve *GilbertCurve) InBounds(x, y int) bool {
	return x >= 0 && x < curve.Width && y >= 0 && y < curve.Height
}

// Generate builds the gilbert curve for a width x height grid. The longer
// side is used as the primary axis. Both dimensions must be at least 1.
func Generate(width, height int) (*GilbertCurve, error) {
	if width < 1 || height < 1 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidDimension, width, height)
	}

	size := width * height
	curve := &GilbertCurve{
		Width:  width,
		Height: height,
		X:      make([]int32, 0, size),
		Y:      make([]int32, 0, size),
	}

	if width >= height {
		curve.generate2d(0, 0, width, 0, 0, height)
	} else {
		curve.generate2d(0, 0, 0, height, width, 0)
	}
	return curve, nil
}

func (curve *GilbertCurve) emit(x, y int) {
	curve.X = append(curve.X, int32(x))
	curve.Y = append(curve.Y, int32(y))
}

// generate2d fills the rectangle spanned from (x, y) by the axis-aligned
// vectors a and b.
func (curve *GilbertCurve) generate2d(x, y, ax, ay, bx, by int) {
	w := abs(ax + ay)
	h := abs(bx + by)

	dax, day := sign(ax), sign(ay)
	dbx, dby := sign(bx), sign(by)

	if h == 1 {
		for i := 0; i < w; i++ {
			curve.emit(x, y)
			x += dax
			y += day
		}
		return
	}

	if w == 1 {
		for i := 0; i < h; i++ {
			curve.emit(x, y)
			x += dbx
			y += dby
		}
		return
	}

	// Arithmetic shift floors negative halves.
	ax2, ay2 := ax>>1, ay>>1
	bx2, by2 := bx>>1, by>>1

	w2 := abs(ax2 + ay2)
	h2 := abs(bx2 + by2)

	if 2*w > 3*h {
		// prefer even steps
		if w2%2 != 0 && w > 2 {
			ax2 += dax
			ay2 += day
		}

		// long case: split in two parts only
		curve.generate2d(x, y, ax2, ay2, bx, by)
		curve.generate2d(x+ax2, y+ay2, ax-ax2, ay-ay2, bx, by)
		return
	}

	if h2%2 != 0 && h > 2 {
		bx2 += dbx
		by2 += dby
	}

	// standard case: one step up, one long horizontal, one step down
	curve.generate2d(x, y, bx2, by2, ax2, ay2)
	curve.generate2d(x+bx2, y+by2, ax, ay, bx-bx2, by-by2)
	curve.generate2d(x+(ax-dax)+(bx2-dbx), y+(ay-day)+(by2-dby),
		-bx2, -by2, -(ax-ax2), -(ay-ay2))
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func sign(v int) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}
