package imageencrypt

import (
	"fmt"
	"image"
	"math"
)

// Direction selects the scrambling (Forward) or restoring (Inverse) pass.
type Direction int

const (
	Forward Direction = iota
	Inverse
)

func (d Direction) String() string {
	switch d {
	case Forward:
		return "encrypt"
	case Inverse:
		return "decrypt"
	}
	return fmt.Sprintf("Direction(%d)", int(d))
}

// goldenRatioConjugate is (sqrt(5)-1)/2.
var goldenRatioConjugate = (math.Sqrt(5) - 1) / 2

// Offset returns how many curve positions each pixel moves for a
// width x height image.
func Offset(width, height int) int {
	size := width * height
	if size <= 0 {
		return 0
	}
	return int(math.Round(goldenRatioConjugate*float64(width)*float64(height))) % size
}

// Permute generates the curve for width x height and applies it to src in
// the given direction. The result is a new image with bounds (0,0)-(width,height).
func Permute(src *image.RGBA, width, height int, dir Direction) (*image.RGBA, error) {
	if width < 1 || height < 1 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidDimension, width, height)
	}
	if err := checkBounds(src, width, height); err != nil {
		return nil, err
	}
	curve, err := Generate(width, height)
	if err != nil {
		return nil, err
	}
	return permute(src, curve, dir), nil
}

// PermuteWithCurve is Permute with a previously generated curve, which must
// match the dimensions of src.
func PermuteWithCurve(src *image.RGBA, curve *GilbertCurve, dir Direction) (*image.RGBA, error) {
	if curve == nil {
		return nil, fmt.Errorf("%w: nil curve", ErrInvalidDimension)
	}
	if err := checkBounds(src, curve.Width, curve.Height); err != nil {
		return nil, err
	}
	if curve.Len() != curve.Width*curve.Height || len(curve.Y) != len(curve.X) {
		return nil, fmt.Errorf("%w: curve has %d points for %dx%d",
			ErrDimensionMismatch, curve.Len(), curve.Width, curve.Height)
	}
	return permute(src, curve, dir), nil
}

func checkBounds(src *image.RGBA, width, height int) error {
	if src == nil {
		return fmt.Errorf("%w: nil image", ErrDimensionMismatch)
	}
	b := src.Bounds()
	if b.Dx() != width || b.Dy() != height {
		return fmt.Errorf("%w: image is %dx%d, declared %dx%d",
			ErrDimensionMismatch, b.Dx(), b.Dy(), width, height)
	}
	if len(src.Pix) < src.Stride*(height-1)+width*4 {
		return fmt.Errorf("%w: pixel buffer holds %d bytes", ErrDimensionMismatch, len(src.Pix))
	}
	return nil
}

// permute walks the curve once. Reads outside the grid yield the zero
// sentinel, writes outside it are dropped.
func permute(src *image.RGBA, curve *GilbertCurve, dir Direction) *image.RGBA {
	width, height := curve.Width, curve.Height
	size := width * height
	offset := Offset(width, height)
	origin := src.Bounds().Min

	dst := image.NewRGBA(image.Rect(0, 0, width, height))

	for i := 0; i < size; i++ {
		ox, oy := curve.At(i)
		nx, ny := curve.At((i + offset) % size)

		// Forward reads the curve position and writes the shifted one;
		// Inverse reads the shifted position back into place.
		rx, ry, wx, wy := ox, oy, nx, ny
		if dir == Inverse {
			rx, ry, wx, wy = nx, ny, ox, oy
		}

		if !curve.InBounds(wx, wy) {
			continue
		}
		di := dst.PixOffset(wx, wy)
		if !curve.InBounds(rx, ry) {
			clear(dst.Pix[di : di+4])
			continue
		}
		si := src.PixOffset(origin.X+rx, origin.Y+ry)
		copy(dst.Pix[di:di+4], src.Pix[si:si+4])
	}
	return dst
}
