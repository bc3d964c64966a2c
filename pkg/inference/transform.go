package inference

import (
	"fmt"

	"github.com/TerminallyLazy/Novion/pkg/volume"
)

// TransformParams describes how a volume was normalized to model input
// geometry. The fields are a matched triple with the NormalizedVolume
// they were produced with: they must only be passed to the Inverse of
// the same forward call, never mixed across requests.
type TransformParams struct {
	// PadTop/PadBottom/PadLeft/PadRight are the zero-padding widths
	// applied to each slice before resizing.
	PadTop, PadBottom, PadLeft, PadRight int

	// PaddedSize is the square side length after padding, before the
	// resize to model resolution.
	PaddedSize int

	// ValidAxis is the slice axis of the normalized layout. The
	// current forward keeps the leading axis, so this is always 0, but
	// the inverse honors whatever it is handed.
	ValidAxis int
}

// NormalizedVolume is a volume resized to the model's square input
// resolution, together with the parameters needed to invert the
// transform.
type NormalizedVolume struct {
	// Data is [D, Size, Size] row-major.
	Data []float64
	D    int
	Size int

	Params TransformParams
}

// Transform converts volumes to and from model input geometry. Forward
// and Inverse of one implementation form a pair: the params returned by
// Forward are only valid for that implementation's Inverse.
type Transform interface {
	// Forward pads and resizes vol to a targetSize square per slice.
	Forward(vol *volume.Volume, targetSize int) (*NormalizedVolume, TransformParams, error)

	// Inverse maps data shaped [d, targetSize, targetSize] back into
	// the original volume geometry captured in params.
	Inverse(data []float64, d, targetSize int, params TransformParams) (*volume.Volume, error)
}

// PadResizeTransform is the default Transform: symmetric zero-padding
// of each slice to a square, then a bilinear resize to the target
// resolution. The inverse resizes back to the padded square and strips
// the padding.
type PadResizeTransform struct{}

// Forward implements Transform.
func (PadResizeTransform) Forward(vol *volume.Volume, targetSize int) (*NormalizedVolume, TransformParams, error) {
	if targetSize <= 0 {
		return nil, TransformParams{}, fmt.Errorf("target size must be positive, got %d", targetSize)
	}

	side := vol.H
	if vol.W > side {
		side = vol.W
	}
	padV := side - vol.H
	padH := side - vol.W
	params := TransformParams{
		PadTop:     padV / 2,
		PadBottom:  padV - padV/2,
		PadLeft:    padH / 2,
		PadRight:   padH - padH/2,
		PaddedSize: side,
		ValidAxis:  0,
	}

	out := &NormalizedVolume{
		Data:   make([]float64, vol.D*targetSize*targetSize),
		D:      vol.D,
		Size:   targetSize,
		Params: params,
	}

	padded := make([]float64, side*side)
	for z := 0; z < vol.D; z++ {
		for i := range padded {
			padded[i] = 0
		}
		src := vol.Slice(z)
		for y := 0; y < vol.H; y++ {
			dstRow := (y + params.PadTop) * side
			copy(padded[dstRow+params.PadLeft:dstRow+params.PadLeft+vol.W], src[y*vol.W:(y+1)*vol.W])
		}
		resized := resizeBilinear(padded, side, side, targetSize, targetSize)
		copy(out.Data[z*targetSize*targetSize:(z+1)*targetSize*targetSize], resized)
	}

	return out, params, nil
}

// Inverse implements Transform.
func (PadResizeTransform) Inverse(data []float64, d, targetSize int, params TransformParams) (*volume.Volume, error) {
	if len(data) != d*targetSize*targetSize {
		return nil, fmt.Errorf("inverse input length %d does not match [%d,%d,%d]",
			len(data), d, targetSize, targetSize)
	}
	side := params.PaddedSize
	if side <= 0 {
		return nil, fmt.Errorf("invalid transform params: padded size %d", side)
	}
	origH := side - params.PadTop - params.PadBottom
	origW := side - params.PadLeft - params.PadRight
	if origH <= 0 || origW <= 0 {
		return nil, fmt.Errorf("invalid transform params: original shape %dx%d", origH, origW)
	}

	vol := volume.New(d, origH, origW)
	for z := 0; z < d; z++ {
		slice := data[z*targetSize*targetSize : (z+1)*targetSize*targetSize]
		restored := resizeBilinear(slice, targetSize, targetSize, side, side)
		dst := vol.Slice(z)
		for y := 0; y < origH; y++ {
			srcRow := (y + params.PadTop) * side
			copy(dst[y*origW:(y+1)*origW], restored[srcRow+params.PadLeft:srcRow+params.PadLeft+origW])
		}
	}
	return vol, nil
}
