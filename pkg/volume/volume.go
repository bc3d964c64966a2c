// Package volume provides the in-memory representation of volumetric
// image data: 2D intensity grids as read from individual slices, and
// 3D volumes stacked from them in [D,H,W] order.
package volume

import (
	"fmt"
)

// Grid is a single 2D intensity matrix in row-major order.
type Grid struct {
	// Data holds H*W calibrated intensity values, row-major.
	Data []float64

	// H and W are the grid dimensions in pixels.
	H, W int
}

// NewGrid allocates a zeroed grid with the given dimensions.
func NewGrid(h, w int) Grid {
	return Grid{Data: make([]float64, h*w), H: h, W: w}
}

// At returns the value at row y, column x.
func (g Grid) At(y, x int) float64 {
	return g.Data[y*g.W+x]
}

// Set assigns the value at row y, column x.
func (g Grid) Set(y, x int, v float64) {
	g.Data[y*g.W+x] = v
}

// CropTo returns a copy of the grid truncated to the top-left h x w
// region. Passing the grid's own dimensions returns a plain copy.
func (g Grid) CropTo(h, w int) Grid {
	if h > g.H || w > g.W {
		panic(fmt.Sprintf("volume: crop %dx%d exceeds grid %dx%d", h, w, g.H, g.W))
	}
	out := NewGrid(h, w)
	for y := 0; y < h; y++ {
		copy(out.Data[y*w:(y+1)*w], g.Data[y*g.W:y*g.W+w])
	}
	return out
}

// Volume is a 3D array stored flat in row-major [D,H,W] order:
// index = z*H*W + y*W + x. D is the slice count.
type Volume struct {
	Data    []float64
	D, H, W int
}

// New allocates a zeroed volume with the given dimensions.
func New(d, h, w int) *Volume {
	return &Volume{Data: make([]float64, d*h*w), D: d, H: h, W: w}
}

// At returns the voxel value at slice z, row y, column x.
func (v *Volume) At(z, y, x int) float64 {
	return v.Data[z*v.H*v.W+y*v.W+x]
}

// Set assigns the voxel value at slice z, row y, column x.
func (v *Volume) Set(z, y, x int, val float64) {
	v.Data[z*v.H*v.W+y*v.W+x] = val
}

// Slice returns the backing data of slice z as a shared sub-slice.
// Mutating the result mutates the volume.
func (v *Volume) Slice(z int) []float64 {
	n := v.H * v.W
	return v.Data[z*n : (z+1)*n]
}

// Shape returns the dimensions as [D,H,W].
func (v *Volume) Shape() [3]int {
	return [3]int{v.D, v.H, v.W}
}

// Stack crops every grid to the minimum shared height and width across
// the input and stacks the results along a new leading axis. The order
// of the input grids is preserved.
func Stack(grids []Grid) (*Volume, error) {
	if len(grids) == 0 {
		return nil, fmt.Errorf("volume: cannot stack zero grids")
	}

	minH, minW := grids[0].H, grids[0].W
	for _, g := range grids[1:] {
		if g.H < minH {
			minH = g.H
		}
		if g.W < minW {
			minW = g.W
		}
	}
	if minH == 0 || minW == 0 {
		return nil, fmt.Errorf("volume: degenerate slice dimensions %dx%d", minH, minW)
	}

	vol := New(len(grids), minH, minW)
	for z, g := range grids {
		cropped := g
		if g.H != minH || g.W != minW {
			cropped = g.CropTo(minH, minW)
		}
		copy(vol.Slice(z), cropped.Data)
	}
	return vol, nil
}
