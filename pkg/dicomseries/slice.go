// Package dicomseries recovers ordered 3D volumes from unordered DICOM
// series. Individual files are parsed into calibrated RawSlices; the
// series resolver then orders them by projected distance along the
// series normal, falling back to slice location or instance number for
// files with incomplete geometry.
package dicomseries

import (
	"encoding/binary"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/GoogleCloudPlatform/go-dicom-parser/dicom"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/TerminallyLazy/Novion/pkg/volume"
)

// DICOM data element tags consumed by the slice reader.
const (
	tagImagePositionPatient    = 0x0020_0032
	tagImageOrientationPatient = 0x0020_0037
	tagInstanceNumber          = 0x0020_0013
	tagSliceLocation           = 0x0020_1041
	tagRows                    = 0x0028_0010
	tagColumns                 = 0x0028_0011
	tagBitsAllocated           = 0x0028_0100
	tagPixelRepresentation     = 0x0028_0103
	tagRescaleIntercept        = 0x0028_1052
	tagRescaleSlope            = 0x0028_1053
	tagPixelData               = 0x7FE0_0010
)

// RawSlice is one parsed DICOM file: a calibrated 2D intensity grid plus
// the geometry and ordering metadata needed to place it in a series.
// Instances are discarded once the series volume has been stacked.
type RawSlice struct {
	Grid volume.Grid

	// RescaleSlope and RescaleIntercept are the calibration constants
	// already applied to Grid (pixel = raw*slope + intercept).
	RescaleSlope     float64
	RescaleIntercept float64

	// Position is ImagePositionPatient; RowDir/ColDir are the two
	// direction cosines of ImageOrientationPatient. Valid only when
	// HasGeometry is true.
	Position    r3.Vec
	RowDir      r3.Vec
	ColDir      r3.Vec
	HasGeometry bool

	SliceLocation  float64
	HasLocation    bool
	InstanceNumber float64
	HasInstance    bool
}

// Normal returns the slice normal, the cross product of the row and
// column direction cosines. Only meaningful when HasGeometry is true.
func (s *RawSlice) Normal() r3.Vec {
	return r3.Cross(s.RowDir, s.ColDir)
}

// FallbackKey returns the ordering key for slices without full
// geometry: slice location, else instance number, else 0.
func (s *RawSlice) FallbackKey() float64 {
	switch {
	case s.HasLocation:
		return s.SliceLocation
	case s.HasInstance:
		return s.InstanceNumber
	default:
		return 0
	}
}

// ReadSlice parses one DICOM file into a RawSlice. The raw pixel matrix
// is calibrated with the file's rescale slope and intercept (defaulting
// to 1 and 0). Files that cannot be parsed, or that carry no pixel
// data, yield an UnreadableSliceError.
func ReadSlice(r io.Reader) (*RawSlice, error) {
	ds, err := dicom.Parse(r)
	if err != nil {
		return nil, &UnreadableSliceError{Reason: "parse failed", Err: err}
	}

	rows, ok := elementUint(ds, tagRows)
	if !ok {
		return nil, &UnreadableSliceError{Reason: "missing Rows"}
	}
	cols, ok := elementUint(ds, tagColumns)
	if !ok {
		return nil, &UnreadableSliceError{Reason: "missing Columns"}
	}
	bits, ok := elementUint(ds, tagBitsAllocated)
	if !ok {
		bits = 16
	}
	signed := false
	if rep, ok := elementUint(ds, tagPixelRepresentation); ok && rep == 1 {
		signed = true
	}

	raw, err := pixelBytes(ds)
	if err != nil {
		return nil, err
	}

	slope := 1.0
	intercept := 0.0
	if v, ok := elementFloats(ds, tagRescaleSlope, 1); ok {
		slope = v[0]
	}
	if v, ok := elementFloats(ds, tagRescaleIntercept, 1); ok {
		intercept = v[0]
	}

	grid, err := decodePixels(raw, int(rows), int(cols), int(bits), signed, slope, intercept)
	if err != nil {
		return nil, err
	}

	s := &RawSlice{
		Grid:             grid,
		RescaleSlope:     slope,
		RescaleIntercept: intercept,
	}

	if pos, ok := elementFloats(ds, tagImagePositionPatient, 3); ok {
		if orient, ok := elementFloats(ds, tagImageOrientationPatient, 6); ok {
			s.Position = r3.Vec{X: pos[0], Y: pos[1], Z: pos[2]}
			s.RowDir = r3.Vec{X: orient[0], Y: orient[1], Z: orient[2]}
			s.ColDir = r3.Vec{X: orient[3], Y: orient[4], Z: orient[5]}
			s.HasGeometry = true
		}
	}
	if v, ok := elementFloats(ds, tagSliceLocation, 1); ok {
		s.SliceLocation = v[0]
		s.HasLocation = true
	}
	if v, ok := elementFloats(ds, tagInstanceNumber, 1); ok {
		s.InstanceNumber = v[0]
		s.HasInstance = true
	}

	return s, nil
}

// pixelBytes extracts the raw PixelData bytes from a parsed data set.
// Native transfer syntaxes are buffered by dicom.Parse either as a
// BulkDataBuffer or, for some OW paths, as a decoded numeric slice.
func pixelBytes(ds *dicom.DataSet) ([]byte, error) {
	elem, ok := ds.Elements[tagPixelData]
	if !ok {
		return nil, &UnreadableSliceError{Reason: "missing PixelData"}
	}

	switch vf := elem.ValueField.(type) {
	case dicom.BulkDataBuffer:
		var buf []byte
		for _, fragment := range vf.Data() {
			buf = append(buf, fragment...)
		}
		if len(buf) == 0 {
			return nil, &UnreadableSliceError{Reason: "empty PixelData"}
		}
		return buf, nil
	case []byte:
		if len(vf) == 0 {
			return nil, &UnreadableSliceError{Reason: "empty PixelData"}
		}
		return vf, nil
	case []uint16:
		buf := make([]byte, 2*len(vf))
		for i, v := range vf {
			binary.LittleEndian.PutUint16(buf[2*i:], v)
		}
		return buf, nil
	case []int16:
		buf := make([]byte, 2*len(vf))
		for i, v := range vf {
			binary.LittleEndian.PutUint16(buf[2*i:], uint16(v))
		}
		return buf, nil
	default:
		return nil, &UnreadableSliceError{
			Reason: fmt.Sprintf("unsupported PixelData representation %T", elem.ValueField),
		}
	}
}

// decodePixels interprets raw little-endian pixel bytes and applies the
// rescale calibration.
func decodePixels(raw []byte, rows, cols, bits int, signed bool, slope, intercept float64) (volume.Grid, error) {
	n := rows * cols
	if n <= 0 {
		return volume.Grid{}, &UnreadableSliceError{Reason: fmt.Sprintf("degenerate matrix %dx%d", rows, cols)}
	}

	grid := volume.NewGrid(rows, cols)
	switch bits {
	case 8:
		if len(raw) < n {
			return volume.Grid{}, &UnreadableSliceError{Reason: "truncated 8-bit PixelData"}
		}
		for i := 0; i < n; i++ {
			v := float64(raw[i])
			if signed {
				v = float64(int8(raw[i]))
			}
			grid.Data[i] = v*slope + intercept
		}
	case 16:
		if len(raw) < 2*n {
			return volume.Grid{}, &UnreadableSliceError{Reason: "truncated 16-bit PixelData"}
		}
		for i := 0; i < n; i++ {
			u := binary.LittleEndian.Uint16(raw[2*i:])
			v := float64(u)
			if signed {
				v = float64(int16(u))
			}
			grid.Data[i] = v*slope + intercept
		}
	default:
		return volume.Grid{}, &UnreadableSliceError{Reason: fmt.Sprintf("unsupported BitsAllocated %d", bits)}
	}
	return grid, nil
}

// elementFloats reads a numeric multi-valued element (DS/IS string VRs
// or native numeric VRs) and requires at least min values.
func elementFloats(ds *dicom.DataSet, tag uint32, min int) ([]float64, bool) {
	elem, ok := ds.Elements[dicom.DataElementTag(tag)]
	if !ok {
		return nil, false
	}

	var out []float64
	switch vf := elem.ValueField.(type) {
	case []string:
		for _, s := range vf {
			s = strings.TrimSpace(s)
			if s == "" {
				continue
			}
			f, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, false
			}
			out = append(out, f)
		}
	case []float64:
		out = vf
	case []float32:
		for _, f := range vf {
			out = append(out, float64(f))
		}
	case []int32:
		for _, v := range vf {
			out = append(out, float64(v))
		}
	case []uint32:
		for _, v := range vf {
			out = append(out, float64(v))
		}
	case []int16:
		for _, v := range vf {
			out = append(out, float64(v))
		}
	case []uint16:
		for _, v := range vf {
			out = append(out, float64(v))
		}
	default:
		return nil, false
	}

	if len(out) < min {
		return nil, false
	}
	return out, true
}

func elementUint(ds *dicom.DataSet, tag uint32) (uint16, bool) {
	elem, ok := ds.Elements[dicom.DataElementTag(tag)]
	if !ok {
		return 0, false
	}
	if vs, ok := elem.ValueField.([]uint16); ok && len(vs) > 0 {
		return vs[0], true
	}
	if vs, ok := elementFloats(ds, tag, 1); ok {
		return uint16(vs[0]), true
	}
	return 0, false
}
