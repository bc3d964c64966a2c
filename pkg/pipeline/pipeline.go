// Package pipeline orchestrates one segmentation request end to end:
// normalize the volume to model geometry, resolve the slice batch size,
// run the prompted model, postprocess its output back into original
// geometry, and persist the resulting artifacts.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/TerminallyLazy/Novion/pkg/artifact"
	"github.com/TerminallyLazy/Novion/pkg/inference"
	"github.com/TerminallyLazy/Novion/pkg/volume"
)

// Request carries the per-call segmentation options.
type Request struct {
	// Prompts are the text prompts; each yields one result.
	Prompts []string

	// Threshold gates voxel probabilities and slice existence. Only
	// consulted when HasThreshold is set; an explicit zero is a valid
	// gate, not a request for the default.
	Threshold    float64
	HasThreshold bool

	// ReturnHeatmap requests a quantized probability artifact per
	// prompt in addition to the binary mask.
	ReturnHeatmap bool

	// SliceBatchSize, when positive, overrides the batch policy.
	SliceBatchSize int
}

// Result describes one prompt's persisted output.
type Result struct {
	Prompt             string  `json:"prompt"`
	Description        string  `json:"description"`
	PresenceConfidence float64 `json:"presence_confidence"`
	MaskConfidence     float64 `json:"mask_confidence"`
	MaskFormat         string  `json:"mask_format"`
	MaskShape          []int   `json:"mask_shape"`

	// MaskName and HeatmapName are artifact file names inside the
	// store's controlled directory.
	MaskName    string `json:"mask_name"`
	HeatmapName string `json:"heatmap_name,omitempty"`
}

// Engine wires the pipeline stages together. One engine is shared by
// all requests; the model behind Handle is constructed once on first
// use.
type Engine struct {
	Handle    *inference.Handle
	Transform inference.Transform
	Batch     inference.BatchPolicy
	Store     *artifact.Store
	Validator artifact.HeatmapValidator

	// TargetSize is the square model input resolution.
	TargetSize int

	// DefaultThreshold applies when a request does not set one.
	DefaultThreshold float64
}

// Segment runs one request synchronously against vol. Any stage error
// fails the whole request; there is no per-prompt salvage beyond the
// postprocessor's channel-count truncation.
func (e *Engine) Segment(ctx context.Context, vol *volume.Volume, req Request) ([]Result, error) {
	if len(req.Prompts) == 0 {
		return nil, fmt.Errorf("no prompts provided")
	}
	threshold := e.DefaultThreshold
	if req.HasThreshold {
		threshold = req.Threshold
	}

	model, err := e.Handle.Model()
	if err != nil {
		return nil, err
	}

	normalized, params, err := e.Transform.Forward(vol, e.TargetSize)
	if err != nil {
		return nil, fmt.Errorf("normalizing volume: %w", err)
	}

	batch := e.Batch.Resolve(req.SliceBatchSize)
	start := time.Now()
	slog.Info("running segmentation inference",
		"slices", vol.D, "prompts", len(req.Prompts), "slice_batch_size", batch)

	bundle, err := model.Predict(ctx, normalized, req.Prompts, batch)
	if err != nil {
		return nil, fmt.Errorf("model inference: %w", err)
	}
	slog.Info("inference complete", "channels", bundle.N, "elapsed", time.Since(start))

	post := inference.Postprocessor{
		Transform:  e.Transform,
		TargetSize: e.TargetSize,
		Threshold:  threshold,
	}
	// The params captured above belong to this request's forward pass;
	// they must not be reused for any other volume.
	prompts, err := post.Process(bundle, params, req.Prompts, req.ReturnHeatmap)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(prompts))
	for _, pr := range prompts {
		res := Result{
			Prompt:             pr.Prompt,
			Description:        pr.Prompt,
			PresenceConfidence: pr.PresenceConfidence,
			MaskConfidence:     pr.MaskConfidence,
			MaskFormat:         "npz",
			MaskShape:          []int{pr.Shape[0], pr.Shape[1], pr.Shape[2]},
		}

		if pr.Heatmap != nil {
			name, err := e.Store.Write(artifact.KindProbability, res.MaskShape, pr.Heatmap)
			if err != nil {
				return nil, fmt.Errorf("persisting heatmap for %q: %w", pr.Prompt, err)
			}
			if err := e.Validator.Validate(filepath.Join(e.Store.Dir(), name)); err != nil {
				return nil, err
			}
			res.HeatmapName = name
		}

		name, err := e.Store.Write(artifact.KindSegmentation, res.MaskShape, pr.Mask)
		if err != nil {
			return nil, fmt.Errorf("persisting mask for %q: %w", pr.Prompt, err)
		}
		res.MaskName = name

		results = append(results, res)
	}
	return results, nil
}
