package volume

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGridCropTo(t *testing.T) {
	g := NewGrid(3, 4)
	for y := 0; y < 3; y++ {
		for x := 0; x < 4; x++ {
			g.Set(y, x, float64(10*y+x))
		}
	}

	cropped := g.CropTo(2, 3)
	require.Equal(t, 2, cropped.H)
	require.Equal(t, 3, cropped.W)
	for y := 0; y < 2; y++ {
		for x := 0; x < 3; x++ {
			assert.Equal(t, float64(10*y+x), cropped.At(y, x))
		}
	}

	// Cropping to the same shape copies, not aliases.
	same := g.CropTo(3, 4)
	same.Set(0, 0, -1)
	assert.Equal(t, 0.0, g.At(0, 0))
}

func TestStack(t *testing.T) {
	a := NewGrid(2, 2)
	a.Set(0, 0, 1)
	a.Set(1, 1, 2)
	b := NewGrid(2, 2)
	b.Set(0, 0, 3)

	vol, err := Stack([]Grid{a, b})
	require.NoError(t, err)
	assert.Equal(t, [3]int{2, 2, 2}, vol.Shape())
	assert.Equal(t, 1.0, vol.At(0, 0, 0))
	assert.Equal(t, 2.0, vol.At(0, 1, 1))
	assert.Equal(t, 3.0, vol.At(1, 0, 0))
}

func TestStackCropsToMinimumShape(t *testing.T) {
	big := NewGrid(3, 3)
	for y := 0; y < 3; y++ {
		for x := 0; x < 3; x++ {
			big.Set(y, x, float64(y*3+x))
		}
	}
	small := NewGrid(2, 3)

	vol, err := Stack([]Grid{big, small})
	require.NoError(t, err)
	assert.Equal(t, [3]int{2, 2, 3}, vol.Shape())
	// The larger grid keeps its top-left region.
	assert.Equal(t, 0.0, vol.At(0, 0, 0))
	assert.Equal(t, 5.0, vol.At(0, 1, 2))
}

func TestStackErrors(t *testing.T) {
	_, err := Stack(nil)
	assert.Error(t, err)

	_, err = Stack([]Grid{NewGrid(0, 5)})
	assert.Error(t, err)
}

func TestVolumeSliceSharesBacking(t *testing.T) {
	vol := New(2, 2, 2)
	vol.Slice(1)[3] = 7
	assert.Equal(t, 7.0, vol.At(1, 1, 1))
}
