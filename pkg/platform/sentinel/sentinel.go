package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and lockers return these
// (optionally wrapped) so services can translate them into domain errors.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: case does not exist in store
// - ErrConflict: case exists already, or its stored version moved on
// - ErrUnavailable: backend temporarily unavailable
// - ErrLockHeld: per-case lock could not be acquired before the deadline
//
// For validation errors (bad input, missing fields), use pkg/domain-errors directly.
var (
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrUnavailable = errors.New("unavailable")
	ErrLockHeld    = errors.New("lock held")
)
