package pathtree

import (
	"errors"
	"fmt"
)

var (
	// ErrPathNotFound is returned by exact resolution when a segment has no
	// matching child.
	ErrPathNotFound = errors.New("path not found")

	// ErrMalformedPath is returned for syntactically invalid paths, such as
	// an empty segment produced by a doubled slash.
	ErrMalformedPath = errors.New("malformed path")
)

// CatalogueLoadError reports that the catalogue source could not be read.
// The tree cannot exist without it.
type CatalogueLoadError struct {
	Source string
	Err    error
}

func (e *CatalogueLoadError) Error() string {
	return fmt.Sprintf("failed to load catalogue %s: %v", e.Source, e.Err)
}

func (e *CatalogueLoadError) Unwrap() error {
	return e.Err
}
