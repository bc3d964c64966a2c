package inference

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/TerminallyLazy/Novion/pkg/volume"
)

// PromptResult is the postprocessed output for one text prompt: a
// binary mask volume in original geometry, its confidences, and the
// optional quantized probability volume.
type PromptResult struct {
	Prompt string

	// PresenceConfidence is the maximum slice existence probability.
	PresenceConfidence float64

	// MaskConfidence is the mean gated probability over foreground
	// voxels, 0 when no voxel is foreground.
	MaskConfidence float64

	// Mask is the binary volume (0/1 per voxel), row-major [D,H,W].
	Mask  []uint8
	Shape [3]int

	// Heatmap is the uint8-quantized probability volume, same shape as
	// Mask. Nil unless a heatmap was requested.
	Heatmap []uint8
}

// Postprocessor converts raw model logits into original-geometry masks.
// The transform must be the same implementation whose Forward produced
// the params handed to Process.
type Postprocessor struct {
	Transform  Transform
	TargetSize int

	// Threshold gates both voxel probability and slice existence.
	Threshold float64
}

// Process postprocesses each prompt channel: bicubic upsampling of the
// mask logits to the target resolution with antialiasing, sigmoid on
// both heads, existence gating, binarization, confidence computation,
// and geometric inversion through the captured transform params.
// Prompts beyond the model's output channel count are silently dropped.
func (p *Postprocessor) Process(bundle *PredictionBundle, params TransformParams, prompts []string, wantHeatmap bool) ([]PromptResult, error) {
	if err := bundle.validate(); err != nil {
		return nil, err
	}

	n := len(prompts)
	if bundle.N < n {
		n = bundle.N
	}

	results := make([]PromptResult, 0, n)
	target := p.TargetSize
	sliceLen := target * target

	for i := 0; i < n; i++ {
		existence := make([]float64, bundle.D)
		for z, logit := range bundle.ExistenceRow(i) {
			existence[z] = sigmoid(logit)
		}

		// Gated probability volume at target resolution.
		gated := make([]float64, bundle.D*sliceLen)
		for z := 0; z < bundle.D; z++ {
			if existence[z] <= p.Threshold {
				continue
			}
			up := resizeBicubic(bundle.MaskSlice(i, z), bundle.H, bundle.W, target, target, true)
			dst := gated[z*sliceLen : (z+1)*sliceLen]
			for j, logit := range up {
				dst[j] = sigmoid(logit)
			}
		}

		binary := make([]float64, len(gated))
		var foreground []float64
		for j, pr := range gated {
			if pr > p.Threshold {
				binary[j] = 1
				foreground = append(foreground, pr)
			}
		}

		maskConf := 0.0
		if len(foreground) > 0 {
			maskConf = stat.Mean(foreground, nil)
		}
		presenceConf := 0.0
		for _, e := range existence {
			if e > presenceConf {
				presenceConf = e
			}
		}

		maskVol, err := p.Transform.Inverse(binary, bundle.D, target, params)
		if err != nil {
			return nil, fmt.Errorf("inverting mask geometry for prompt %q: %w", prompts[i], err)
		}

		res := PromptResult{
			Prompt:             prompts[i],
			PresenceConfidence: presenceConf,
			MaskConfidence:     maskConf,
			Mask:               binarizeToUint8(maskVol),
			Shape:              maskVol.Shape(),
		}

		if wantHeatmap {
			probVol, err := p.Transform.Inverse(gated, bundle.D, target, params)
			if err != nil {
				return nil, fmt.Errorf("inverting probability geometry for prompt %q: %w", prompts[i], err)
			}
			res.Heatmap = quantizeProbabilities(probVol)
		}

		results = append(results, res)
	}
	return results, nil
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// binarizeToUint8 maps an inverted mask volume to 0/1 bytes. The
// inverse resize produces fractional values at mask borders; anything
// above one half counts as foreground.
func binarizeToUint8(v *volume.Volume) []uint8 {
	out := make([]uint8, len(v.Data))
	for i, val := range v.Data {
		if val > 0.5 {
			out[i] = 1
		}
	}
	return out
}

// quantizeProbabilities clips to [0,1] and scales to the uint8 range.
func quantizeProbabilities(v *volume.Volume) []uint8 {
	out := make([]uint8, len(v.Data))
	for i, val := range v.Data {
		if val < 0 {
			val = 0
		} else if val > 1 {
			val = 1
		}
		out[i] = uint8(val * 255)
	}
	return out
}
