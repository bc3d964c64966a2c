package inference

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCheckpoint(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "model.pt")
	require.NoError(t, os.WriteFile(path, []byte("weights"), 0o644))
	return path
}

func TestNewRemoteModelValidation(t *testing.T) {
	_, err := NewRemoteModel("", "/any/ckpt.pt")
	assert.True(t, IsModelUnavailable(err), "missing endpoint")

	_, err = NewRemoteModel("http://model:5000", filepath.Join(t.TempDir(), "absent.pt"))
	require.Error(t, err)
	assert.True(t, IsModelUnavailable(err), "missing checkpoint")

	m, err := NewRemoteModel("http://model:5000/", writeCheckpoint(t))
	require.NoError(t, err)
	assert.NotNil(t, m)
}

func TestRemoteModelPredict(t *testing.T) {
	const d, size = 2, 4

	var got remoteRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/predict", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		masks := make([]float64, 1*d*size*size)
		masks[0] = 2.5
		existence := []float64{1, -1}
		resp := remoteResponse{
			PredMasks:       remoteTensor{Shape: []int{1, d, size, size}, DataBase64: encodeFloat32(masks)},
			ObjectExistence: remoteTensor{Shape: []int{1, d}, DataBase64: encodeFloat32(existence)},
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer srv.Close()

	m, err := NewRemoteModel(srv.URL, writeCheckpoint(t))
	require.NoError(t, err)

	vol := &NormalizedVolume{Data: make([]float64, d*size*size), D: d, Size: size}
	bundle, err := m.Predict(context.Background(), vol, []string{"liver", "kidney"}, 3)
	require.NoError(t, err)

	assert.Equal(t, []int{d, size, size}, got.Shape)
	assert.Equal(t, "liver[SEP]kidney", got.Text)
	assert.Equal(t, 3, got.SliceBatchSize)

	assert.Equal(t, 1, bundle.N)
	assert.Equal(t, d, bundle.D)
	assert.InDelta(t, 2.5, bundle.MaskSlice(0, 0)[0], 1e-6)
	assert.InDelta(t, -1.0, bundle.ExistenceRow(0)[1], 1e-6)
}

func TestRemoteModelPredictErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "cuda out of memory", http.StatusInternalServerError)
	}))
	defer srv.Close()

	m, err := NewRemoteModel(srv.URL, writeCheckpoint(t))
	require.NoError(t, err)

	vol := &NormalizedVolume{Data: make([]float64, 4), D: 1, Size: 2}
	_, err = m.Predict(context.Background(), vol, []string{"liver"}, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestBundleFromResponseShapeChecks(t *testing.T) {
	good := func() *remoteResponse {
		return &remoteResponse{
			PredMasks:       remoteTensor{Shape: []int{1, 1, 2, 2}, DataBase64: encodeFloat32(make([]float64, 4))},
			ObjectExistence: remoteTensor{Shape: []int{1, 1}, DataBase64: encodeFloat32(make([]float64, 1))},
		}
	}

	_, err := bundleFromResponse(good())
	assert.NoError(t, err)

	bad := good()
	bad.PredMasks.Shape = []int{1, 2, 2}
	_, err = bundleFromResponse(bad)
	assert.Error(t, err, "rank mismatch")

	bad = good()
	bad.ObjectExistence.Shape = []int{2, 1}
	_, err = bundleFromResponse(bad)
	assert.Error(t, err, "existence channel mismatch")

	bad = good()
	bad.PredMasks.DataBase64 = "!!!"
	_, err = bundleFromResponse(bad)
	assert.Error(t, err, "corrupt payload")
}
