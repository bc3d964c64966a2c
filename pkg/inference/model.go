// Package inference contains the model-facing half of the segmentation
// pipeline: normalizing volumes to model geometry, sizing slice
// batches, invoking the prompted segmentation model, and converting its
// output back into original-geometry masks with confidences.
package inference

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// PromptSeparator joins multiple text prompts into the single string
// the model consumes.
const PromptSeparator = "[SEP]"

// PredictionBundle is the raw model output for one request: per-voxel
// mask logits and per-slice existence logits for each prompt channel.
type PredictionBundle struct {
	// MaskLogits is [N, D, H, W] row-major.
	MaskLogits []float64

	// Existence is [N, D] row-major.
	Existence []float64

	// N is the number of output channels, which may be fewer than the
	// number of submitted prompts.
	N, D, H, W int
}

// MaskSlice returns the logits of prompt channel i, slice z.
func (b *PredictionBundle) MaskSlice(i, z int) []float64 {
	n := b.H * b.W
	off := (i*b.D + z) * n
	return b.MaskLogits[off : off+n]
}

// ExistenceRow returns the existence logits of prompt channel i.
func (b *PredictionBundle) ExistenceRow(i int) []float64 {
	return b.Existence[i*b.D : (i+1)*b.D]
}

func (b *PredictionBundle) validate() error {
	if b.N < 0 || b.D <= 0 || b.H <= 0 || b.W <= 0 {
		return fmt.Errorf("invalid prediction shape [%d,%d,%d,%d]", b.N, b.D, b.H, b.W)
	}
	if len(b.MaskLogits) != b.N*b.D*b.H*b.W {
		return fmt.Errorf("mask logits length %d does not match shape [%d,%d,%d,%d]",
			len(b.MaskLogits), b.N, b.D, b.H, b.W)
	}
	if len(b.Existence) != b.N*b.D {
		return fmt.Errorf("existence length %d does not match shape [%d,%d]",
			len(b.Existence), b.N, b.D)
	}
	return nil
}

// SegmentationModel is the narrow contract with the prompted
// segmentation network. One Predict call blocks until the whole
// batched-slice forward pass completes; no cancellation is applied to
// the inference itself.
type SegmentationModel interface {
	Predict(ctx context.Context, vol *NormalizedVolume, prompts []string, sliceBatchSize int) (*PredictionBundle, error)
}

// ModelUnavailableError reports that the segmentation model could not
// be constructed, typically because its checkpoint is missing. It is
// fatal at first use, not per request.
type ModelUnavailableError struct {
	CheckpointPath string
	Err            error
}

func (e *ModelUnavailableError) Error() string {
	return fmt.Sprintf("segmentation model unavailable (checkpoint %q): %v", e.CheckpointPath, e.Err)
}

func (e *ModelUnavailableError) Unwrap() error { return e.Err }

// IsModelUnavailable reports whether err is a ModelUnavailableError.
func IsModelUnavailable(err error) bool {
	var m *ModelUnavailableError
	return errors.As(err, &m)
}

// Handle is the process-wide holder of the expensive model instance.
// Construction is lazy, happens exactly once even when first use is
// raced by concurrent requests, and the outcome (instance or error) is
// memoized for every later caller.
type Handle struct {
	construct func() (SegmentationModel, error)

	once  sync.Once
	model SegmentationModel
	err   error
}

// NewHandle wraps a constructor without invoking it.
func NewHandle(construct func() (SegmentationModel, error)) *Handle {
	return &Handle{construct: construct}
}

// Model returns the shared model instance, constructing it on first
// use.
func (h *Handle) Model() (SegmentationModel, error) {
	h.once.Do(func() {
		h.model, h.err = h.construct()
	})
	return h.model, h.err
}
