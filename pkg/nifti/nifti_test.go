package nifti

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type niftiSpec struct {
	nx, ny, nz int
	datatype   int16
	bitpix     int16
	sclSlope   float32
	sclInter   float32
	order      binary.ByteOrder
	voxels     []byte
}

func encodeNIfTI(spec niftiSpec) []byte {
	order := spec.order
	if order == nil {
		order = binary.LittleEndian
	}

	hdr := make([]byte, headerSize+4) // vox_offset 352 per the .nii convention
	order.PutUint32(hdr[0:], headerSize)
	order.PutUint16(hdr[40:], 3)
	order.PutUint16(hdr[42:], uint16(spec.nx))
	order.PutUint16(hdr[44:], uint16(spec.ny))
	order.PutUint16(hdr[46:], uint16(spec.nz))
	for i := 4; i < 8; i++ {
		order.PutUint16(hdr[40+2*i:], 1)
	}
	order.PutUint16(hdr[70:], uint16(spec.datatype))
	order.PutUint16(hdr[72:], uint16(spec.bitpix))
	order.PutUint32(hdr[108:], math.Float32bits(352))
	order.PutUint32(hdr[112:], math.Float32bits(spec.sclSlope))
	order.PutUint32(hdr[116:], math.Float32bits(spec.sclInter))
	copy(hdr[344:], "n+1\x00")

	return append(hdr, spec.voxels...)
}

func TestLoadUint8AxisMapping(t *testing.T) {
	const nx, ny, nz = 2, 3, 2
	voxels := make([]byte, nx*ny*nz)
	for i := range voxels {
		voxels[i] = byte(i)
	}
	raw := encodeNIfTI(niftiSpec{nx: nx, ny: ny, nz: nz, datatype: dtUint8, bitpix: 8, voxels: voxels})

	vol, err := Load(bytes.NewReader(raw))
	require.NoError(t, err)
	require.Equal(t, [3]int{nz, ny, nx}, vol.Shape())

	// File order is x-fastest; voxel (x,y,z) lands at At(z,y,x).
	for z := 0; z < nz; z++ {
		for y := 0; y < ny; y++ {
			for x := 0; x < nx; x++ {
				want := float64(x + y*nx + z*nx*ny)
				assert.Equal(t, want, vol.At(z, y, x))
			}
		}
	}
}

func TestLoadInt16WithCalibration(t *testing.T) {
	voxels := make([]byte, 2*8)
	neg := int16(-5)
	binary.LittleEndian.PutUint16(voxels[0:], uint16(neg))
	binary.LittleEndian.PutUint16(voxels[2:], 100)
	raw := encodeNIfTI(niftiSpec{
		nx: 2, ny: 2, nz: 2, datatype: dtInt16, bitpix: 16,
		sclSlope: 2, sclInter: 10, voxels: voxels,
	})

	vol, err := Load(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, -5.0*2+10, vol.At(0, 0, 0))
	assert.Equal(t, 100.0*2+10, vol.At(0, 0, 1))
}

func TestLoadFloat32(t *testing.T) {
	voxels := make([]byte, 4*8)
	binary.LittleEndian.PutUint32(voxels[0:], math.Float32bits(1.5))
	raw := encodeNIfTI(niftiSpec{nx: 2, ny: 2, nz: 2, datatype: dtFloat32, bitpix: 32, voxels: voxels})

	vol, err := Load(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.InDelta(t, 1.5, vol.At(0, 0, 0), 1e-6)
}

func TestLoadBigEndian(t *testing.T) {
	voxels := make([]byte, 2*8)
	binary.BigEndian.PutUint16(voxels[0:], 300)
	raw := encodeNIfTI(niftiSpec{
		nx: 2, ny: 2, nz: 2, datatype: dtUint16, bitpix: 16,
		order: binary.BigEndian, voxels: voxels,
	})

	vol, err := Load(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, 300.0, vol.At(0, 0, 0))
}

func TestLoadGzipped(t *testing.T) {
	voxels := make([]byte, 8)
	voxels[0] = 42
	raw := encodeNIfTI(niftiSpec{nx: 2, ny: 2, nz: 2, datatype: dtUint8, bitpix: 8, voxels: voxels})

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, err := gz.Write(raw)
	require.NoError(t, err)
	require.NoError(t, gz.Close())

	vol, err := Load(&buf)
	require.NoError(t, err)
	assert.Equal(t, 42.0, vol.At(0, 0, 0))
}

func TestLoadErrors(t *testing.T) {
	t.Run("truncated header", func(t *testing.T) {
		_, err := Load(bytes.NewReader(make([]byte, 100)))
		assert.Error(t, err)
	})

	t.Run("bad magic size", func(t *testing.T) {
		raw := make([]byte, headerSize)
		binary.LittleEndian.PutUint32(raw, 999)
		_, err := Load(bytes.NewReader(raw))
		assert.Error(t, err)
	})

	t.Run("too few dimensions", func(t *testing.T) {
		raw := encodeNIfTI(niftiSpec{nx: 4, ny: 4, nz: 1, datatype: dtUint8, bitpix: 8, voxels: make([]byte, 16)})
		binary.LittleEndian.PutUint16(raw[40:], 2)
		_, err := Load(bytes.NewReader(raw))
		assert.Error(t, err)
	})

	t.Run("unsupported datatype", func(t *testing.T) {
		raw := encodeNIfTI(niftiSpec{nx: 2, ny: 2, nz: 2, datatype: 1, bitpix: 1, voxels: make([]byte, 8)})
		_, err := Load(bytes.NewReader(raw))
		assert.Error(t, err)
	})

	t.Run("truncated voxel data", func(t *testing.T) {
		raw := encodeNIfTI(niftiSpec{nx: 4, ny: 4, nz: 4, datatype: dtUint8, bitpix: 8, voxels: make([]byte, 3)})
		_, err := Load(bytes.NewReader(raw))
		assert.Error(t, err)
	})
}
