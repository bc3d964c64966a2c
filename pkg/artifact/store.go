// Package artifact persists segmentation results as compressed NPZ
// archives inside one controlled directory, and serves them back with
// path-containment guarantees. Artifact identifiers are random, so
// concurrent writers never collide and no directory locking is needed.
package artifact

import (
	"archive/zip"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind labels what an artifact holds.
type Kind string

const (
	// KindSegmentation is a binary mask volume, archive key "seg".
	KindSegmentation Kind = "seg"

	// KindProbability is a quantized probability volume, key "prob".
	KindProbability Kind = "prob"
)

// Key returns the archive entry key for the kind.
func (k Kind) Key() string { return string(k) }

const npzExt = ".npz"

// Store writes and fetches artifact archives under a single controlled
// directory.
type Store struct {
	dir string

	// index, when non-nil, records every write for retention sweeps.
	index *Index
}

// NewStore creates the controlled directory if needed.
func NewStore(dir string, index *Index) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating artifact directory: %w", err)
	}
	return &Store{dir: dir, index: index}, nil
}

// Dir returns the controlled directory.
func (s *Store) Dir() string { return s.dir }

// Write persists a uint8 array as a compressed NPZ under a fresh random
// identifier. The archive holds a single NPY entry named after the
// kind's key. Returns the artifact file name (not a full path).
func (s *Store) Write(kind Kind, shape []int, data []uint8) (string, error) {
	n := 1
	for _, d := range shape {
		n *= d
	}
	if n != len(data) {
		return "", fmt.Errorf("artifact data length %d does not match shape %v", len(data), shape)
	}

	id := uuid.NewString()
	name := fmt.Sprintf("%s_%s%s", kind, id, npzExt)
	path := filepath.Join(s.dir, name)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("creating artifact file: %w", err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	entry, err := zw.Create(kind.Key() + ".npy")
	if err != nil {
		return "", fmt.Errorf("creating archive entry: %w", err)
	}
	if err := writeNPY(entry, DtypeUint8, shape, data); err != nil {
		return "", fmt.Errorf("encoding artifact array: %w", err)
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("finalizing artifact archive: %w", err)
	}

	if s.index != nil {
		if err := s.index.Record(id, string(kind), name, time.Now()); err != nil {
			return "", fmt.Errorf("recording artifact in index: %w", err)
		}
	}
	return name, nil
}

// FetchResult is the wire form of a fetched array.
type FetchResult struct {
	Shape      []int  `json:"shape"`
	Dtype      string `json:"dtype"`
	DataBase64 string `json:"data_base64"`
}

// Fetch loads the array stored under key in the named archive, subject
// to the FilePath containment rules. The array is clipped to uint8
// before serialization.
func (s *Store) Fetch(name, key string) (*FetchResult, error) {
	resolved, err := s.FilePath(name)
	if err != nil {
		return nil, err
	}

	descr, shape, data, err := readNPZEntry(resolved, key)
	if err != nil {
		return nil, err
	}

	bytes, err := coerceUint8(descr, data)
	if err != nil {
		return nil, err
	}
	return &FetchResult{
		Shape:      shape,
		Dtype:      "uint8",
		DataBase64: base64.StdEncoding.EncodeToString(bytes),
	}, nil
}

// FilePath resolves an artifact name to its on-disk path. The name must
// end in .npz and must resolve, after symlink evaluation, to a file
// whose parent is exactly the controlled directory; anything else is
// denied identically whether or not the target exists.
func (s *Store) FilePath(name string) (string, error) {
	if !strings.HasSuffix(name, npzExt) {
		return "", &PathAccessDeniedError{Name: name, Reason: "expected " + npzExt + " filename"}
	}

	realDir, err := filepath.EvalSymlinks(s.dir)
	if err != nil {
		return "", fmt.Errorf("resolving artifact directory: %w", err)
	}

	candidate := filepath.Join(realDir, name)
	resolved, err := filepath.EvalSymlinks(candidate)
	if err != nil {
		if os.IsNotExist(err) {
			// The target is absent. Still refuse names that would have
			// escaped the directory, without revealing which case hit.
			if filepath.Dir(filepath.Clean(candidate)) != realDir {
				return "", &PathAccessDeniedError{Name: name, Reason: "outside artifact directory"}
			}
			return "", ErrNotFound
		}
		return "", fmt.Errorf("resolving artifact path: %w", err)
	}
	if filepath.Dir(resolved) != realDir {
		return "", &PathAccessDeniedError{Name: name, Reason: "outside artifact directory"}
	}
	return resolved, nil
}

// readNPZEntry opens the archive and decodes the NPY entry for key.
func readNPZEntry(path, key string) (descr string, shape []int, data []byte, err error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return "", nil, nil, fmt.Errorf("opening artifact archive: %w", err)
	}
	defer zr.Close()

	want := key + ".npy"
	for _, f := range zr.File {
		if f.Name != want && f.Name != key {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return "", nil, nil, fmt.Errorf("opening archive entry: %w", err)
		}
		defer rc.Close()
		return readNPY(rc)
	}
	return "", nil, nil, fmt.Errorf("key %q not in archive", key)
}

// coerceUint8 converts decoded array bytes to uint8, clipping to 0-255.
func coerceUint8(descr string, data []byte) ([]byte, error) {
	switch descr {
	case DtypeUint8:
		return data, nil
	case DtypeFloat32:
		if len(data)%4 != 0 {
			return nil, fmt.Errorf("float32 payload length %d not a multiple of 4", len(data))
		}
		out := make([]byte, len(data)/4)
		for i := range out {
			v := float32FromLE(data[4*i:])
			if v < 0 {
				v = 0
			} else if v > 255 {
				v = 255
			}
			out[i] = uint8(v)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported artifact dtype %q", descr)
	}
}
