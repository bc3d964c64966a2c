package inference

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"os"
	"strings"
)

// RemoteModel drives a segmentation model served by an inference
// sidecar over HTTP. The checkpoint path is validated at construction
// so a missing checkpoint fails fast at first use rather than on every
// request.
type RemoteModel struct {
	endpoint string
	client   *http.Client
}

// NewRemoteModel validates the checkpoint and returns the adapter.
// The HTTP client carries no timeout: a model invocation blocks its
// request until the forward pass completes.
func NewRemoteModel(endpoint, checkpointPath string) (*RemoteModel, error) {
	if endpoint == "" {
		return nil, &ModelUnavailableError{
			CheckpointPath: checkpointPath,
			Err:            fmt.Errorf("no model endpoint configured"),
		}
	}
	if checkpointPath != "" {
		if _, err := os.Stat(checkpointPath); err != nil {
			return nil, &ModelUnavailableError{CheckpointPath: checkpointPath, Err: err}
		}
	}
	return &RemoteModel{
		endpoint: strings.TrimRight(endpoint, "/"),
		client:   &http.Client{},
	}, nil
}

type remoteRequest struct {
	Shape          []int  `json:"shape"`
	ImageBase64    string `json:"image_base64"`
	Text           string `json:"text"`
	SliceBatchSize int    `json:"slice_batch_size"`
}

type remoteTensor struct {
	Shape      []int  `json:"shape"`
	DataBase64 string `json:"data_base64"`
}

type remoteResponse struct {
	PredMasks       remoteTensor `json:"pred_masks"`
	ObjectExistence remoteTensor `json:"object_existence"`
}

// Predict implements SegmentationModel.
func (m *RemoteModel) Predict(ctx context.Context, vol *NormalizedVolume, prompts []string, sliceBatchSize int) (*PredictionBundle, error) {
	body := remoteRequest{
		Shape:          []int{vol.D, vol.Size, vol.Size},
		ImageBase64:    encodeFloat32(vol.Data),
		Text:           strings.Join(prompts, PromptSeparator),
		SliceBatchSize: sliceBatchSize,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding inference request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint+"/predict", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling model endpoint: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("model endpoint returned status %d", resp.StatusCode)
	}

	var out remoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding inference response: %w", err)
	}
	return bundleFromResponse(&out)
}

func bundleFromResponse(out *remoteResponse) (*PredictionBundle, error) {
	if len(out.PredMasks.Shape) != 4 {
		return nil, fmt.Errorf("pred_masks shape must be rank 4, got %v", out.PredMasks.Shape)
	}
	if len(out.ObjectExistence.Shape) != 2 {
		return nil, fmt.Errorf("object_existence shape must be rank 2, got %v", out.ObjectExistence.Shape)
	}
	masks, err := decodeFloat32(out.PredMasks.DataBase64)
	if err != nil {
		return nil, fmt.Errorf("decoding pred_masks: %w", err)
	}
	existence, err := decodeFloat32(out.ObjectExistence.DataBase64)
	if err != nil {
		return nil, fmt.Errorf("decoding object_existence: %w", err)
	}

	b := &PredictionBundle{
		MaskLogits: masks,
		Existence:  existence,
		N:          out.PredMasks.Shape[0],
		D:          out.PredMasks.Shape[1],
		H:          out.PredMasks.Shape[2],
		W:          out.PredMasks.Shape[3],
	}
	if err := b.validate(); err != nil {
		return nil, err
	}
	if out.ObjectExistence.Shape[0] != b.N || out.ObjectExistence.Shape[1] != b.D {
		return nil, fmt.Errorf("existence shape %v does not match masks [%d,%d]",
			out.ObjectExistence.Shape, b.N, b.D)
	}
	return b, nil
}

// encodeFloat32 packs float64 samples as little-endian float32 base64,
// the sidecar's wire format.
func encodeFloat32(data []float64) string {
	buf := make([]byte, 4*len(data))
	for i, v := range data {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(float32(v)))
	}
	return base64.StdEncoding.EncodeToString(buf)
}

func decodeFloat32(s string) ([]float64, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(raw)%4 != 0 {
		return nil, fmt.Errorf("float32 payload length %d not a multiple of 4", len(raw))
	}
	out := make([]float64, len(raw)/4)
	for i := range out {
		out[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:])))
	}
	return out, nil
}
