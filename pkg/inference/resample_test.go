package inference

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func constant(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestResizeSameSizeIsIdentity(t *testing.T) {
	src := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9}

	got := resizeBicubic(src, 3, 3, 3, 3, true)
	require.Len(t, got, 9)
	for i := range src {
		assert.InDelta(t, src[i], got[i], 1e-9)
	}

	got = resizeBilinear(src, 3, 3, 3, 3)
	for i := range src {
		assert.InDelta(t, src[i], got[i], 1e-9)
	}
}

func TestResizePreservesConstantField(t *testing.T) {
	src := constant(8*8, 3.5)

	up := resizeBicubic(src, 8, 8, 32, 32, true)
	require.Len(t, up, 32*32)
	for _, v := range up {
		assert.InDelta(t, 3.5, v, 1e-9)
	}

	// Downscaling with antialias keeps the weights normalized.
	down := resizeBicubic(constant(32*32, 3.5), 32, 32, 8, 8, true)
	for _, v := range down {
		assert.InDelta(t, 3.5, v, 1e-9)
	}
}

func TestResizeUpsampleInterpolatesBetweenSamples(t *testing.T) {
	// A horizontal step: upsampled values stay within the source range
	// away from ringing, and the left half stays darker than the right.
	src := []float64{0, 0, 1, 1, 0, 0, 1, 1, 0, 0, 1, 1, 0, 0, 1, 1}
	up := resizeBilinear(src, 4, 4, 8, 8)
	require.Len(t, up, 64)
	assert.Less(t, up[0], up[7])
	for _, v := range up {
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, 1.0)
	}
}

func TestCubicKernel(t *testing.T) {
	assert.InDelta(t, 1.0, cubicKernel(0), 1e-12)
	assert.InDelta(t, 0.0, cubicKernel(1), 1e-12)
	assert.InDelta(t, 0.0, cubicKernel(2), 1e-12)
	assert.Equal(t, 0.0, cubicKernel(2.5))
	assert.Equal(t, cubicKernel(0.3), cubicKernel(-0.3))
}
