package dicomseries

import (
	"errors"
	"fmt"
)

var (
	// ErrNoDicomFound is returned when the extraction root contains no
	// file with a recognized DICOM extension.
	ErrNoDicomFound = errors.New("no DICOM files found")

	// ErrEmptySeries is returned when candidate files exist but none of
	// them could be parsed into a usable slice.
	ErrEmptySeries = errors.New("DICOM files present but none readable")
)

// UnreadableSliceError reports a single DICOM file that could not be
// turned into a RawSlice. It is non-fatal at series level: the resolver
// records it in the ParseReport and continues with the remaining files.
type UnreadableSliceError struct {
	Path   string
	Reason string
	Err    error
}

func (e *UnreadableSliceError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("unreadable slice %s: %s", e.Path, e.Reason)
	}
	return fmt.Sprintf("unreadable slice: %s", e.Reason)
}

func (e *UnreadableSliceError) Unwrap() error { return e.Err }

// IsUnreadableSlice reports whether err is an UnreadableSliceError,
// unwrapping as needed.
func IsUnreadableSlice(err error) bool {
	var u *UnreadableSliceError
	return errors.As(err, &u)
}
