package imageencrypt

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCurveCacheReuses(t *testing.T) {
	c := NewCurveCache(2)

	a, err := c.Get(8, 6)
	require.NoError(t, err)
	b, err := c.Get(8, 6)
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Equal(t, 1, c.Len())
}

func TestCurveCacheEvicts(t *testing.T) {
	c := NewCurveCache(2)

	first, err := c.Get(3, 3)
	require.NoError(t, err)
	_, err = c.Get(4, 4)
	require.NoError(t, err)
	_, err = c.Get(3, 3) // 4x4 is now least recently used
	require.NoError(t, err)
	_, err = c.Get(5, 5)
	require.NoError(t, err)
	assert.Equal(t, 2, c.Len())

	again, err := c.Get(3, 3)
	require.NoError(t, err)
	assert.Same(t, first, again)
	assert.False(t, c.entries.Contains(dimension{4, 4}))
	assert.True(t, c.entries.Contains(dimension{5, 5}))
}

func TestCurveCacheConcurrent(t *testing.T) {
	c := NewCurveCache(0)
	var wg sync.WaitGroup
	curves := make([]*GilbertCurve, 16)
	for i := range curves {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			curve, err := c.Get(120, 80)
			assert.NoError(t, err)
			curves[i] = curve
		}(i)
	}
	wg.Wait()
	for _, curve := range curves {
		assert.Same(t, curves[0], curve)
	}
}

func TestCurveCacheInvalid(t *testing.T) {
	c := NewCurveCache(1)
	_, err := c.Get(0, 10)
	assert.ErrorIs(t, err, ErrInvalidDimension)
	assert.Equal(t, 0, c.Len())
}
