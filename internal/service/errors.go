package service

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput marks malformed trip attributes. Resolve never returns
	// it; it turns into a NoMatch result instead.
	ErrInvalidInput = errors.New("invalid trip attributes")
	// ErrStalePackage marks a matched rule whose package is missing or
	// inactive. Resolve recovers by moving on to the next rule.
	ErrStalePackage      = errors.New("stale package")
	ErrInvalidConditions = errors.New("invalid rule conditions")
	ErrPackageNotFound   = errors.New("package not found")
)

// RepositoryError wraps a storage fault that prevented a decision. It is
// distinct from an empty rule set or a clean no-match.
type RepositoryError struct {
	Op  string
	Err error
}

func (e *RepositoryError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *RepositoryError) Unwrap() error {
	return e.Err
}

// IsRepositoryError reports whether err carries a [RepositoryError].
func IsRepositoryError(err error) bool {
	var repoErr *RepositoryError
	return errors.As(err, &repoErr)
}
