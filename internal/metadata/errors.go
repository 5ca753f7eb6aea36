package metadata

import "errors"

var (
	// ErrCacheAlreadyExists reports a populate call against a cache
	// whose backing store is already present. The cache must be deleted
	// before it can be populated again; it is never silently rebuilt.
	ErrCacheAlreadyExists = errors.New("cache already exists")

	// ErrCacheNotRemovable reports a delete call against a backend
	// without a local footprint to remove.
	ErrCacheNotRemovable = errors.New("cache is not removable")

	// ErrInvalidCache reports an open failure: the store is missing,
	// corrupt or cannot be initialized. Callers cannot distinguish
	// those cases, so they are folded into one error.
	ErrInvalidCache = errors.New("cache is invalid or not created")
)
