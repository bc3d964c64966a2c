// Package server exposes the segmentation pipeline over HTTP: volume
// upload endpoints for NIfTI files and zipped DICOM series, artifact
// retrieval, and a health probe.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/TerminallyLazy/Novion/pkg/artifact"
	"github.com/TerminallyLazy/Novion/pkg/dicomseries"
	"github.com/TerminallyLazy/Novion/pkg/inference"
	"github.com/TerminallyLazy/Novion/pkg/nifti"
	"github.com/TerminallyLazy/Novion/pkg/pipeline"
	"github.com/TerminallyLazy/Novion/pkg/volume"
)

const apiPrefix = "/api/biomedparse/v1"

// maxUploadBytes bounds the in-memory portion of multipart parsing;
// larger uploads spill to temporary files.
const maxUploadBytes = 64 << 20

// Server holds the handlers' shared dependencies.
type Server struct {
	Engine *pipeline.Engine
	Store  *artifact.Store

	// Probe backs the health endpoint's accelerator report.
	Probe inference.AcceleratorProbe
}

// Routes builds the HTTP handler for the service API.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+apiPrefix+"/predict-3d-nifti", s.handlePredictNIfTI)
	mux.HandleFunc("POST "+apiPrefix+"/predict-3d-dicom", s.handlePredictDicom)
	mux.HandleFunc("GET "+apiPrefix+"/fetch-npz", s.handleFetchNPZ)
	mux.HandleFunc("GET "+apiPrefix+"/health", s.handleHealth)
	mux.HandleFunc("GET /files/{name}", s.handleFile)
	return mux
}

// requestOptions extracts the per-call segmentation options from the
// query string. Prompts are repeated query parameters.
func requestOptions(r *http.Request) pipeline.Request {
	q := r.URL.Query()
	req := pipeline.Request{Prompts: q["prompts"]}
	if v := q.Get("threshold"); v != "" {
		if t, err := strconv.ParseFloat(v, 64); err == nil {
			req.Threshold = t
			req.HasThreshold = true
		}
	}
	if v := q.Get("return_heatmap"); v != "" {
		req.ReturnHeatmap = v == "1" || strings.EqualFold(v, "true")
	}
	if v := q.Get("slice_batch_size"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			req.SliceBatchSize = n
		}
	}
	return req
}

// promptResponse is the wire form of one prompt's result.
type promptResponse struct {
	Prompt             string  `json:"prompt"`
	Description        string  `json:"description"`
	PresenceConfidence float64 `json:"presence_confidence"`
	MaskConfidence     float64 `json:"mask_confidence"`
	MaskFormat         string  `json:"mask_format"`
	MaskShape          []int   `json:"mask_shape"`
	MaskURL            string  `json:"mask_url"`
	HeatmapURL         string  `json:"heatmap_url,omitempty"`
}

func toResponse(results []pipeline.Result) []promptResponse {
	out := make([]promptResponse, len(results))
	for i, res := range results {
		out[i] = promptResponse{
			Prompt:             res.Prompt,
			Description:        res.Description,
			PresenceConfidence: res.PresenceConfidence,
			MaskConfidence:     res.MaskConfidence,
			MaskFormat:         res.MaskFormat,
			MaskShape:          res.MaskShape,
			MaskURL:            "/files/" + res.MaskName,
		}
		if res.HeatmapName != "" {
			out[i].HeatmapURL = "/files/" + res.HeatmapName
		}
	}
	return out
}

func (s *Server) handlePredictNIfTI(w http.ResponseWriter, r *http.Request) {
	req := requestOptions(r)
	if len(req.Prompts) == 0 {
		writeError(w, http.StatusBadRequest, "at least one prompt is required")
		return
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart upload: "+err.Error())
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file upload")
		return
	}
	defer file.Close()

	name := strings.ToLower(header.Filename)
	if !strings.HasSuffix(name, ".nii") && !strings.HasSuffix(name, ".nii.gz") {
		writeError(w, http.StatusBadRequest, "expected a .nii or .nii.gz file")
		return
	}

	vol, err := nifti.Load(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable NIfTI volume: "+err.Error())
		return
	}

	s.segment(w, r, vol, req)
}

func (s *Server) handlePredictDicom(w http.ResponseWriter, r *http.Request) {
	req := requestOptions(r)
	if len(req.Prompts) == 0 {
		writeError(w, http.StatusBadRequest, "at least one prompt is required")
		return
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart upload: "+err.Error())
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file upload")
		return
	}
	defer file.Close()

	if !strings.HasSuffix(strings.ToLower(header.Filename), ".zip") {
		writeError(w, http.StatusBadRequest, "expected a .zip archive of DICOM slices")
		return
	}

	archive, err := os.CreateTemp("", "series-*.zip")
	if err != nil {
		internalError(w, "staging upload", err)
		return
	}
	defer os.Remove(archive.Name())
	if _, err := archive.ReadFrom(file); err != nil {
		archive.Close()
		internalError(w, "staging upload", err)
		return
	}
	archive.Close()

	extractDir, err := os.MkdirTemp("", "series-")
	if err != nil {
		internalError(w, "staging extraction", err)
		return
	}
	defer os.RemoveAll(extractDir)

	if err := dicomseries.ExtractZip(archive.Name(), extractDir); err != nil {
		writeError(w, http.StatusBadRequest, "unreadable series archive: "+err.Error())
		return
	}

	vol, report, err := dicomseries.ResolveSeries(extractDir)
	if err != nil {
		if errors.Is(err, dicomseries.ErrNoDicomFound) || errors.Is(err, dicomseries.ErrEmptySeries) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		internalError(w, "resolving series", err)
		return
	}
	if len(report.Skipped) > 0 {
		slog.Warn("series resolved with unreadable slices",
			"readable", report.Readable, "skipped", len(report.Skipped))
	}

	s.segment(w, r, vol, req)
}

// segment runs the pipeline and writes the shared response shape.
func (s *Server) segment(w http.ResponseWriter, r *http.Request, vol *volume.Volume, req pipeline.Request) {
	results, err := s.Engine.Segment(r.Context(), vol, req)
	if err != nil {
		if inference.IsModelUnavailable(err) {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		internalError(w, "segmentation", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "success",
		"results": toResponse(results),
	})
}

func (s *Server) handleFetchNPZ(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		writeError(w, http.StatusBadRequest, "name query parameter is required")
		return
	}
	key := r.URL.Query().Get("key")
	if key == "" {
		key = "seg"
	}

	res, err := s.Store.Fetch(name, key)
	if err != nil {
		switch {
		case artifact.IsPathAccessDenied(err):
			writeError(w, http.StatusForbidden, err.Error())
		case errors.Is(err, artifact.ErrNotFound):
			writeError(w, http.StatusNotFound, "artifact not found")
		default:
			internalError(w, "fetching artifact", err)
		}
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleFile serves raw artifact archives for direct download, with the
// same containment rules as fetch-npz.
func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	path, err := s.Store.FilePath(name)
	if err != nil {
		switch {
		case artifact.IsPathAccessDenied(err):
			writeError(w, http.StatusForbidden, err.Error())
		case errors.Is(err, artifact.ErrNotFound):
			writeError(w, http.StatusNotFound, "artifact not found")
		default:
			internalError(w, "resolving artifact", err)
		}
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	http.ServeFile(w, r, path)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	gpu := s.Probe != nil && s.Probe.Available()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "healthy",
		"gpu_available": gpu,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func internalError(w http.ResponseWriter, stage string, err error) {
	slog.Error("request failed", "stage", stage, "error", err)
	writeError(w, http.StatusInternalServerError, fmt.Sprintf("%s: %v", stage, err))
}
