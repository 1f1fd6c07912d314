package imageencrypt

import "errors"

var (
	// ErrInvalidDimension is returned when a width or height is not positive.
	ErrInvalidDimension = errors.New("invalid dimension")

	// ErrDimensionMismatch is returned when a pixel buffer or curve does not
	// match the declared width and height.
	ErrDimensionMismatch = errors.New("dimension mismatch")
)
