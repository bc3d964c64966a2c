// Package nifti loads NIfTI-1 volumes (.nii, optionally gzip
// compressed) into the [D,H,W] volume representation used by the
// segmentation pipeline.
package nifti

import (
	"bufio"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/TerminallyLazy/Novion/pkg/volume"
)

const headerSize = 348

// NIfTI-1 datatype codes.
const (
	dtUint8   = 2
	dtInt16   = 4
	dtInt32   = 8
	dtFloat32 = 16
	dtFloat64 = 64
	dtInt8    = 256
	dtUint16  = 512
	dtUint32  = 768
)

type header struct {
	dim       [8]int16
	datatype  int16
	bitpix    int16
	voxOffset float32
	sclSlope  float32
	sclInter  float32
}

// Load reads a NIfTI-1 file, gunzipping transparently when the stream
// carries the gzip magic. The scl_slope/scl_inter calibration is
// applied when set. The x/y/z axes of the file map to W/H/D of the
// returned volume, so the slice axis leads.
func Load(r io.Reader) (*volume.Volume, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(2)
	if err != nil {
		return nil, fmt.Errorf("reading NIfTI stream: %w", err)
	}
	var src io.Reader = br
	if magic[0] == 0x1f && magic[1] == 0x8b {
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("opening gzip stream: %w", err)
		}
		defer gz.Close()
		src = gz
	}

	raw, err := io.ReadAll(src)
	if err != nil {
		return nil, fmt.Errorf("reading NIfTI payload: %w", err)
	}
	if len(raw) < headerSize {
		return nil, fmt.Errorf("NIfTI header truncated: %d bytes", len(raw))
	}

	order, err := detectOrder(raw)
	if err != nil {
		return nil, err
	}
	hdr := parseHeader(raw, order)

	if hdr.dim[0] < 3 {
		return nil, fmt.Errorf("NIfTI volume must have at least 3 dimensions, got %d", hdr.dim[0])
	}
	nx, ny, nz := int(hdr.dim[1]), int(hdr.dim[2]), int(hdr.dim[3])
	if nx <= 0 || ny <= 0 || nz <= 0 {
		return nil, fmt.Errorf("degenerate NIfTI dimensions %dx%dx%d", nx, ny, nz)
	}

	offset := int(hdr.voxOffset)
	if offset < headerSize {
		offset = headerSize
	}
	if offset > len(raw) {
		return nil, fmt.Errorf("vox_offset %d beyond file size %d", offset, len(raw))
	}
	data := raw[offset:]

	n := nx * ny * nz
	values, err := decodeVoxels(data, n, hdr.datatype, order)
	if err != nil {
		return nil, err
	}

	slope := float64(hdr.sclSlope)
	inter := float64(hdr.sclInter)
	if slope != 0 && (slope != 1 || inter != 0) {
		for i := range values {
			values[i] = values[i]*slope + inter
		}
	}

	// File layout is x-fastest; reorder to [D,H,W] = [z,y,x].
	vol := volume.New(nz, ny, nx)
	for z := 0; z < nz; z++ {
		for y := 0; y < ny; y++ {
			base := z*nx*ny + y*nx
			copy(vol.Slice(z)[y*nx:(y+1)*nx], values[base:base+nx])
		}
	}
	return vol, nil
}

// detectOrder determines header byte order from sizeof_hdr, which is
// always 348 in the writer's native order.
func detectOrder(raw []byte) (binary.ByteOrder, error) {
	if binary.LittleEndian.Uint32(raw) == headerSize {
		return binary.LittleEndian, nil
	}
	if binary.BigEndian.Uint32(raw) == headerSize {
		return binary.BigEndian, nil
	}
	return nil, fmt.Errorf("not a NIfTI-1 file: sizeof_hdr != %d", headerSize)
}

func parseHeader(raw []byte, order binary.ByteOrder) header {
	var hdr header
	for i := 0; i < 8; i++ {
		hdr.dim[i] = int16(order.Uint16(raw[40+2*i:]))
	}
	hdr.datatype = int16(order.Uint16(raw[70:]))
	hdr.bitpix = int16(order.Uint16(raw[72:]))
	hdr.voxOffset = math.Float32frombits(order.Uint32(raw[108:]))
	hdr.sclSlope = math.Float32frombits(order.Uint32(raw[112:]))
	hdr.sclInter = math.Float32frombits(order.Uint32(raw[116:]))
	return hdr
}

func decodeVoxels(data []byte, n int, datatype int16, order binary.ByteOrder) ([]float64, error) {
	out := make([]float64, n)
	need := func(bytes int) error {
		if len(data) < n*bytes {
			return fmt.Errorf("NIfTI data truncated: need %d bytes, have %d", n*bytes, len(data))
		}
		return nil
	}

	switch datatype {
	case dtUint8:
		if err := need(1); err != nil {
			return nil, err
		}
		for i := 0; i < n; i++ {
			out[i] = float64(data[i])
		}
	case dtInt8:
		if err := need(1); err != nil {
			return nil, err
		}
		for i := 0; i < n; i++ {
			out[i] = float64(int8(data[i]))
		}
	case dtInt16:
		if err := need(2); err != nil {
			return nil, err
		}
		for i := 0; i < n; i++ {
			out[i] = float64(int16(order.Uint16(data[2*i:])))
		}
	case dtUint16:
		if err := need(2); err != nil {
			return nil, err
		}
		for i := 0; i < n; i++ {
			out[i] = float64(order.Uint16(data[2*i:]))
		}
	case dtInt32:
		if err := need(4); err != nil {
			return nil, err
		}
		for i := 0; i < n; i++ {
			out[i] = float64(int32(order.Uint32(data[4*i:])))
		}
	case dtUint32:
		if err := need(4); err != nil {
			return nil, err
		}
		for i := 0; i < n; i++ {
			out[i] = float64(order.Uint32(data[4*i:]))
		}
	case dtFloat32:
		if err := need(4); err != nil {
			return nil, err
		}
		for i := 0; i < n; i++ {
			out[i] = float64(math.Float32frombits(order.Uint32(data[4*i:])))
		}
	case dtFloat64:
		if err := need(8); err != nil {
			return nil, err
		}
		for i := 0; i < n; i++ {
			out[i] = math.Float64frombits(order.Uint64(data[8*i:]))
		}
	default:
		return nil, fmt.Errorf("unsupported NIfTI datatype %d", datatype)
	}
	return out, nil
}
