package inference

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TerminallyLazy/Novion/pkg/volume"
)

// squareParams are the no-op transform params of a volume that is
// already square at the target resolution.
func squareParams(size int) TransformParams {
	return TransformParams{PaddedSize: size}
}

// bundleFor builds a model output with the given per-channel constant
// mask logit and per-slice existence logits. H and W equal the target
// size so the upsample step is the identity.
func bundleFor(size int, maskLogits []float64, existence [][]float64) *PredictionBundle {
	n := len(maskLogits)
	d := len(existence[0])
	b := &PredictionBundle{
		MaskLogits: make([]float64, n*d*size*size),
		Existence:  make([]float64, n*d),
		N:          n, D: d, H: size, W: size,
	}
	for i := 0; i < n; i++ {
		for z := 0; z < d; z++ {
			b.Existence[i*d+z] = existence[i][z]
			slice := b.MaskSlice(i, z)
			for j := range slice {
				slice[j] = maskLogits[i]
			}
		}
	}
	return b
}

func TestProcessBinarizesAndScoresForeground(t *testing.T) {
	const size = 8
	// Logit 2 → probability ~0.881, above the 0.5 threshold everywhere.
	bundle := bundleFor(size, []float64{2}, [][]float64{{3, 3}})

	p := &Postprocessor{Transform: PadResizeTransform{}, TargetSize: size, Threshold: 0.5}
	results, err := p.Process(bundle, squareParams(size), []string{"liver"}, false)
	require.NoError(t, err)
	require.Len(t, results, 1)

	res := results[0]
	assert.Equal(t, "liver", res.Prompt)
	assert.Equal(t, [3]int{2, size, size}, res.Shape)
	assert.Nil(t, res.Heatmap)

	wantProb := sigmoid(2)
	assert.InDelta(t, wantProb, res.MaskConfidence, 1e-6)
	assert.InDelta(t, sigmoid(3), res.PresenceConfidence, 1e-6)
	for _, v := range res.Mask {
		assert.Equal(t, uint8(1), v)
	}
}

func TestProcessGatesAbsentSlices(t *testing.T) {
	const size = 8
	// Strong mask logits, but the second slice's existence is below
	// threshold and must come back all zero.
	bundle := bundleFor(size, []float64{4}, [][]float64{{3, -3}})

	p := &Postprocessor{Transform: PadResizeTransform{}, TargetSize: size, Threshold: 0.5}
	results, err := p.Process(bundle, squareParams(size), []string{"tumor"}, false)
	require.NoError(t, err)
	require.Len(t, results, 1)

	mask := results[0].Mask
	sliceLen := size * size
	for j := 0; j < sliceLen; j++ {
		assert.Equal(t, uint8(1), mask[j], "present slice keeps foreground")
	}
	for j := sliceLen; j < 2*sliceLen; j++ {
		assert.Equal(t, uint8(0), mask[j], "gated slice is zeroed")
	}

	// Presence still reports the best slice.
	assert.InDelta(t, sigmoid(3), results[0].PresenceConfidence, 1e-6)
}

func TestProcessEmptyMaskConfidenceIsZero(t *testing.T) {
	const size = 4
	bundle := bundleFor(size, []float64{-4}, [][]float64{{-5}})

	p := &Postprocessor{Transform: PadResizeTransform{}, TargetSize: size, Threshold: 0.5}
	results, err := p.Process(bundle, squareParams(size), []string{"spleen"}, false)
	require.NoError(t, err)
	require.Len(t, results, 1)

	assert.Equal(t, 0.0, results[0].MaskConfidence)
	for _, v := range results[0].Mask {
		assert.Equal(t, uint8(0), v)
	}
}

func TestProcessTruncatesToModelChannels(t *testing.T) {
	const size = 4
	bundle := bundleFor(size, []float64{1}, [][]float64{{2}})

	p := &Postprocessor{Transform: PadResizeTransform{}, TargetSize: size, Threshold: 0.5}
	results, err := p.Process(bundle, squareParams(size), []string{"a", "b", "c"}, false)
	require.NoError(t, err)
	assert.Len(t, results, 1)
	assert.Equal(t, "a", results[0].Prompt)
}

func TestProcessHeatmapQuantization(t *testing.T) {
	const size = 4
	bundle := bundleFor(size, []float64{2}, [][]float64{{3}})

	p := &Postprocessor{Transform: PadResizeTransform{}, TargetSize: size, Threshold: 0.5}
	results, err := p.Process(bundle, squareParams(size), []string{"liver"}, true)
	require.NoError(t, err)
	require.Len(t, results, 1)

	heatmap := results[0].Heatmap
	require.Len(t, heatmap, size*size)
	want := uint8(sigmoid(2) * 255)
	for _, v := range heatmap {
		assert.Equal(t, want, v)
	}
}

func TestProcessRejectsCorruptBundle(t *testing.T) {
	bundle := &PredictionBundle{MaskLogits: make([]float64, 3), Existence: make([]float64, 1), N: 1, D: 1, H: 2, W: 2}
	p := &Postprocessor{Transform: PadResizeTransform{}, TargetSize: 2, Threshold: 0.5}
	_, err := p.Process(bundle, squareParams(2), []string{"x"}, false)
	assert.Error(t, err)
}

func TestSigmoid(t *testing.T) {
	assert.InDelta(t, 0.5, sigmoid(0), 1e-12)
	assert.InDelta(t, 1, sigmoid(40), 1e-9)
	assert.InDelta(t, 0, sigmoid(-40), 1e-9)
	assert.False(t, math.IsNaN(sigmoid(-1000)))
}

func TestQuantizeProbabilitiesClips(t *testing.T) {
	v := volume.New(1, 1, 4)
	copy(v.Data, []float64{-0.5, 0, 0.5, 1.5})
	got := quantizeProbabilities(v)
	assert.Equal(t, []uint8{0, 0, 127, 255}, got)
}
