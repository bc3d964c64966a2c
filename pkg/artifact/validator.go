package artifact

import (
	"fmt"
)

// HeatmapValidator is the post-write integrity gate on probability
// artifacts: after a prob archive is written, it is reloaded and
// checked for the expected key and dtype. This runs on the write path
// only; fetches do not re-validate.
type HeatmapValidator struct {
	// Enabled mirrors the configuration flag; a disabled validator
	// accepts everything without touching the file.
	Enabled bool
}

// Validate reloads the archive at path and asserts that the "prob"
// entry exists and holds uint8 data. Failures surface as a
// ValidationError; the offending file is left in place.
func (v HeatmapValidator) Validate(path string) error {
	if !v.Enabled {
		return nil
	}

	key := KindProbability.Key()
	descr, _, _, err := readNPZEntry(path, key)
	if err != nil {
		return &ValidationError{
			Path:   path,
			Reason: fmt.Sprintf("missing %q key: %v", key, err),
		}
	}
	if descr != DtypeUint8 {
		return &ValidationError{
			Path:   path,
			Reason: fmt.Sprintf("heatmap %q must be uint8, got %q", key, descr),
		}
	}
	return nil
}
