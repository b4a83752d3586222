package shortcut

import "errors"

// Common errors returned by shortcut operations.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, shortcut.ErrNoStrategy) {
//	    // every link strategy failed for this target
//	}
var (
	// ErrUnknownStrategy is returned when a forced strategy name is not
	// registered.
	ErrUnknownStrategy = errors.New("unknown shortcut strategy")

	// ErrStrategyUnavailable is returned when a forced strategy cannot
	// work on this system.
	ErrStrategyUnavailable = errors.New("shortcut strategy not available")

	// ErrNoStrategy is returned when no strategy in the chain succeeded,
	// or none is usable at all.
	ErrNoStrategy = errors.New("no shortcut strategy succeeded")

	// ErrTargetMissing is returned when the shortcut target does not
	// exist or is not a regular file.
	ErrTargetMissing = errors.New("shortcut target missing")
)
