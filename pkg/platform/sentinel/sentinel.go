package sentinel

import "errors"

// Sentinel dependency errors. Stores return these (optionally wrapped) so the
// controller translates them into domain errors exactly once.
var (
	ErrNotFound = errors.New("not found")
	ErrStale    = errors.New("stale write")
)
