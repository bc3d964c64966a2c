package inference

import "math"

// kernelFunc is a symmetric 1D reconstruction kernel.
type kernelFunc func(float64) float64

// cubicKernel is the Catmull-Rom cubic (a = -0.5), the kernel commonly
// used for bicubic image resampling.
func cubicKernel(x float64) float64 {
	const a = -0.5
	x = math.Abs(x)
	switch {
	case x <= 1:
		return (a+2)*x*x*x - (a+3)*x*x + 1
	case x < 2:
		return a*x*x*x - 5*a*x*x + 8*a*x - 4*a
	default:
		return 0
	}
}

// linearKernel is the triangle kernel used for bilinear resampling.
func linearKernel(x float64) float64 {
	x = math.Abs(x)
	if x < 1 {
		return 1 - x
	}
	return 0
}

// resizeBicubic resamples a row-major 2D grid to dstH x dstW with the
// bicubic kernel. When antialias is set and the axis is downscaled, the
// kernel footprint is widened to the scale factor so high frequencies
// are averaged out instead of aliased.
func resizeBicubic(src []float64, srcH, srcW, dstH, dstW int, antialias bool) []float64 {
	return resize2D(src, srcH, srcW, dstH, dstW, cubicKernel, 2, antialias)
}

// resizeBilinear resamples a row-major 2D grid to dstH x dstW with the
// triangle kernel.
func resizeBilinear(src []float64, srcH, srcW, dstH, dstW int) []float64 {
	return resize2D(src, srcH, srcW, dstH, dstW, linearKernel, 1, false)
}

// resize2D applies the kernel separably: columns first (width), then
// rows (height).
func resize2D(src []float64, srcH, srcW, dstH, dstW int, k kernelFunc, support float64, antialias bool) []float64 {
	if srcH == dstH && srcW == dstW {
		out := make([]float64, len(src))
		copy(out, src)
		return out
	}
	horizontal := resampleAxis(src, srcH, srcW, dstW, k, support, antialias)
	return transpose(resampleAxis(transpose(horizontal, srcH, dstW), dstW, srcH, dstH, k, support, antialias), dstW, dstH)
}

// resampleAxis resamples each of rows lines of length srcN down/up to
// dstN samples. Edge samples are clamped.
func resampleAxis(src []float64, rows, srcN, dstN int, k kernelFunc, support float64, antialias bool) []float64 {
	scale := float64(srcN) / float64(dstN)
	filterScale := 1.0
	if antialias && scale > 1 {
		filterScale = scale
	}
	span := support * filterScale

	// Precompute per-output-sample contributions once; they are the
	// same for every line.
	type tap struct {
		idx int
		w   float64
	}
	taps := make([][]tap, dstN)
	for d := 0; d < dstN; d++ {
		center := (float64(d)+0.5)*scale - 0.5
		lo := int(math.Floor(center - span))
		hi := int(math.Ceil(center + span))
		var sum float64
		line := make([]tap, 0, hi-lo+1)
		for s := lo; s <= hi; s++ {
			w := k((float64(s) - center) / filterScale)
			if w == 0 {
				continue
			}
			idx := s
			if idx < 0 {
				idx = 0
			} else if idx >= srcN {
				idx = srcN - 1
			}
			line = append(line, tap{idx: idx, w: w})
			sum += w
		}
		if sum != 0 {
			for i := range line {
				line[i].w /= sum
			}
		}
		taps[d] = line
	}

	out := make([]float64, rows*dstN)
	for r := 0; r < rows; r++ {
		in := src[r*srcN : (r+1)*srcN]
		dst := out[r*dstN : (r+1)*dstN]
		for d := 0; d < dstN; d++ {
			var acc float64
			for _, t := range taps[d] {
				acc += in[t.idx] * t.w
			}
			dst[d] = acc
		}
	}
	return out
}

// transpose flips a rows x cols row-major grid to cols x rows.
func transpose(src []float64, rows, cols int) []float64 {
	out := make([]float64, len(src))
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			out[c*rows+r] = src[r*cols+c]
		}
	}
	return out
}
