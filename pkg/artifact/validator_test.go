package artifact

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateAcceptsWrittenHeatmap(t *testing.T) {
	s := newTestStore(t)
	name, err := s.Write(KindProbability, []int{2, 2}, []uint8{0, 64, 128, 255})
	require.NoError(t, err)

	v := HeatmapValidator{Enabled: true}
	assert.NoError(t, v.Validate(filepath.Join(s.Dir(), name)))
}

func TestValidateRejectsMissingProbKey(t *testing.T) {
	s := newTestStore(t)
	name, err := s.Write(KindSegmentation, []int{1}, []uint8{1})
	require.NoError(t, err)

	v := HeatmapValidator{Enabled: true}
	err = v.Validate(filepath.Join(s.Dir(), name))
	require.Error(t, err)
	assert.True(t, IsValidationError(err))
	assert.Contains(t, err.Error(), "missing")
}

func TestValidateRejectsWrongDtype(t *testing.T) {
	s := newTestStore(t)
	writeFloat32NPZ(t, s.Dir(), "prob_f32.npz", "prob", []int{2}, []float32{0.1, 0.9})

	v := HeatmapValidator{Enabled: true}
	err := v.Validate(filepath.Join(s.Dir(), "prob_f32.npz"))
	require.Error(t, err)
	assert.True(t, IsValidationError(err))
	assert.Contains(t, err.Error(), "uint8")
}

func TestValidateDisabledSkipsChecks(t *testing.T) {
	v := HeatmapValidator{}
	assert.NoError(t, v.Validate(filepath.Join(t.TempDir(), "never-written.npz")))
}
