package cacheaside

import (
	"errors"
	"fmt"
)

// ErrPopulate reports that ThroughCache could neither compute a value nor
// serve a stale one before running out of retries.
var ErrPopulate = errors.New("cacheaside: failed to populate cache")

// PopulateError carries the key and how many lock attempts were made.
// errors.Is(err, ErrPopulate) matches it.
type PopulateError struct {
	Key      string
	Attempts int
}

func (e *PopulateError) Error() string {
	return fmt.Sprintf("cacheaside: failed to populate cache for %q after %d lock attempts", e.Key, e.Attempts)
}

func (e *PopulateError) Is(target error) bool { return target == ErrPopulate }

var (
	errNoStore     = errors.New("cacheaside: store is required")
	errNoCodec     = errors.New("cacheaside: codec is required")
	errNoNamespace = errors.New("cacheaside: namespace is required")
)
