package imageencrypt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type point struct{ x, y int }

func points(curve *GilbertCurve) []point {
	out := make([]point, curve.Len())
	for i := range out {
		x, y := curve.At(i)
		out[i] = point{x, y}
	}
	return out
}

func TestGenerateCoversGrid(t *testing.T) {
	for width := 1; width <= 40; width++ {
		for height := 1; height <= 40; height++ {
			curve, err := Generate(width, height)
			require.NoError(t, err)
			require.Equal(t, width*height, curve.Len(), "%dx%d", width, height)

			seen := make(map[point]bool, width*height)
			for _, p := range points(curve) {
				require.True(t, curve.InBounds(p.x, p.y), "%dx%d: %v out of range", width, height, p)
				require.False(t, seen[p], "%dx%d: %v visited twice", width, height, p)
				seen[p] = true
			}
		}
	}
}

func TestGenerateReferenceOrder(t *testing.T) {
	tests := []struct {
		width, height int
		want          []point
	}{
		{1, 5, []point{{0, 0}, {0, 1}, {0, 2}, {0, 3}, {0, 4}}},
		{6, 1, []point{{0, 0}, {1, 0}, {2, 0}, {3, 0}, {4, 0}, {5, 0}}},
		{2, 2, []point{{0, 0}, {0, 1}, {1, 1}, {1, 0}}},
		{3, 2, []point{{0, 0}, {0, 1}, {1, 1}, {2, 1}, {2, 0}, {1, 0}}},
		{4, 4, []point{
			{0, 0}, {1, 0}, {1, 1}, {0, 1}, {0, 2}, {0, 3}, {1, 3}, {1, 2},
			{2, 2}, {2, 3}, {3, 3}, {3, 2}, {3, 1}, {2, 1}, {2, 0}, {3, 0},
		}},
		{5, 3, []point{
			{0, 0}, {0, 1}, {0, 2}, {1, 2}, {1, 1}, {1, 0}, {2, 0}, {2, 1},
			{2, 2}, {3, 2}, {4, 2}, {4, 1}, {3, 1}, {3, 0}, {4, 0},
		}},
		{3, 5, []point{
			{0, 0}, {1, 0}, {2, 0}, {2, 1}, {1, 1}, {0, 1}, {0, 2}, {1, 2},
			{2, 2}, {2, 3}, {2, 4}, {1, 4}, {1, 3}, {0, 3}, {0, 4},
		}},
	}

	for _, tt := range tests {
		curve, err := Generate(tt.width, tt.height)
		require.NoError(t, err)
		assert.Equal(t, tt.want, points(curve), "%dx%d", tt.width, tt.height)
	}
}

func TestGenerateDeterministic(t *testing.T) {
	a, err := Generate(37, 23)
	require.NoError(t, err)
	b, err := Generate(37, 23)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestGenerateLarge(t *testing.T) {
	curve, err := Generate(640, 480)
	require.NoError(t, err)
	require.Equal(t, 640*480, curve.Len())

	seen := make([]bool, 640*480)
	for i := 0; i < curve.Len(); i++ {
		x, y := curve.At(i)
		require.True(t, curve.InBounds(x, y))
		idx := y*640 + x
		require.False(t, seen[idx])
		seen[idx] = true
	}
}

func TestGenerateInvalidDimension(t *testing.T) {
	for _, d := range [][2]int{{0, 1}, {1, 0}, {-3, 4}, {0, 0}} {
		curve, err := Generate(d[0], d[1])
		assert.ErrorIs(t, err, ErrInvalidDimension)
		assert.Nil(t, curve)
	}
}
