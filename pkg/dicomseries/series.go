package dicomseries

import (
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/TerminallyLazy/Novion/pkg/volume"
)

// SliceFailure records one file the resolver skipped and why.
type SliceFailure struct {
	Path   string
	Reason string
}

// ParseReport aggregates the per-file outcomes of a series parse.
// Per-file failures are non-fatal; the report keeps them for
// diagnostics so callers can log or surface skip counts.
type ParseReport struct {
	Readable int
	Skipped  []SliceFailure
}

// keyedSlice pairs a slice with its resolved ordering key.
type keyedSlice struct {
	key   float64
	slice *RawSlice
}

// ResolveSeries walks root recursively, parses every file with a DICOM
// extension, orders the readable slices, and stacks them into a volume
// shaped [D,H,W].
//
// Ordering: slices carrying both ImagePositionPatient and
// ImageOrientationPatient are keyed by the signed projected distance of
// their position onto the normal of the first such slice encountered.
// Slices without full geometry are keyed by slice location, else
// instance number, else 0. All geometry-resolvable slices precede all
// fallback slices; within each group the sort is stable ascending, so
// equal keys retain walk order.
//
// Returns ErrNoDicomFound when no candidate file exists and
// ErrEmptySeries when candidates exist but none parsed.
func ResolveSeries(root string) (*volume.Volume, *ParseReport, error) {
	paths, err := findDicomFiles(root)
	if err != nil {
		return nil, nil, err
	}
	if len(paths) == 0 {
		return nil, nil, ErrNoDicomFound
	}

	report := &ParseReport{}
	var geometric []keyedSlice
	var fallback []keyedSlice

	haveRef := false
	var refPos, refNormal r3.Vec

	for _, p := range paths {
		s, err := readSliceFile(p)
		if err != nil {
			report.Skipped = append(report.Skipped, SliceFailure{Path: p, Reason: err.Error()})
			continue
		}
		report.Readable++

		if s.HasGeometry {
			// The first geometry-resolvable slice fixes the series
			// reference frame.
			if !haveRef {
				refPos = s.Position
				refNormal = s.Normal()
				haveRef = true
			}
			dist := r3.Dot(r3.Sub(s.Position, refPos), refNormal)
			geometric = append(geometric, keyedSlice{key: dist, slice: s})
		} else {
			fallback = append(fallback, keyedSlice{key: s.FallbackKey(), slice: s})
		}
	}

	if report.Readable == 0 {
		return nil, report, ErrEmptySeries
	}
	if len(report.Skipped) > 0 {
		slog.Warn("skipped unreadable DICOM files",
			"root", root, "skipped", len(report.Skipped), "readable", report.Readable)
	}

	sort.SliceStable(geometric, func(i, j int) bool { return geometric[i].key < geometric[j].key })
	sort.SliceStable(fallback, func(i, j int) bool { return fallback[i].key < fallback[j].key })

	grids := make([]volume.Grid, 0, len(geometric)+len(fallback))
	for _, ks := range geometric {
		grids = append(grids, ks.slice.Grid)
	}
	for _, ks := range fallback {
		grids = append(grids, ks.slice.Grid)
	}

	vol, err := volume.Stack(grids)
	if err != nil {
		return nil, report, err
	}
	return vol, report, nil
}

// findDicomFiles returns every path under root with a recognized DICOM
// extension, in walk order. A DICOMDIR index, if present, is not
// consulted; discovery is by extension only.
func findDicomFiles(root string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if isDicomName(d.Name()) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return paths, nil
}

func isDicomName(name string) bool {
	lower := strings.ToLower(name)
	return strings.HasSuffix(lower, ".dcm") || strings.HasSuffix(lower, ".dicom")
}

func readSliceFile(path string) (*RawSlice, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &UnreadableSliceError{Path: path, Reason: "open failed", Err: err}
	}
	defer f.Close()

	s, err := ReadSlice(f)
	if err != nil {
		if u, ok := err.(*UnreadableSliceError); ok {
			u.Path = path
		}
		return nil, err
	}
	return s, nil
}
