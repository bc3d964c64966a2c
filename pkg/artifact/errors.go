package artifact

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by Fetch when the requested artifact does not
// exist inside the controlled directory.
var ErrNotFound = errors.New("artifact not found")

// PathAccessDeniedError reports a fetch request that was rejected
// before touching the filesystem target: a missing extension, a path
// escaping the controlled directory, or a symlink resolving outside it.
// The denial is identical whether or not the target exists, so callers
// cannot probe for file existence.
type PathAccessDeniedError struct {
	Name   string
	Reason string
}

func (e *PathAccessDeniedError) Error() string {
	return fmt.Sprintf("access denied for %q: %s", e.Name, e.Reason)
}

// IsPathAccessDenied reports whether err is a PathAccessDeniedError.
func IsPathAccessDenied(err error) bool {
	var p *PathAccessDeniedError
	return errors.As(err, &p)
}

// ValidationError reports a persisted artifact that failed the
// post-write integrity check. The file itself is not rolled back.
type ValidationError struct {
	Path   string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("heatmap artifact validation failed for %s: %s", e.Path, e.Reason)
}

// IsValidationError reports whether err is a ValidationError.
func IsValidationError(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
