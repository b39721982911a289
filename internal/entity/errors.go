package entity

import "errors"

// Store-facing sentinel errors. Lookup misses are tagged rather than
// swallowed so callers must choose a policy instead of silently
// defaulting to create-new.
var (
	// ErrNotFound means a lookup completed and the profile does not
	// exist. Distinct from a failed lookup, which surfaces as any
	// other error.
	ErrNotFound = errors.New("entity not found")

	// ErrConflict means a conditional create lost the race for its
	// (kind, canonical name) key. The resolver retries the occurrence
	// as an update against the winner; it is never surfaced to callers.
	ErrConflict = errors.New("entity already exists for canonical name")

	// ErrInvalidMention rejects blank or malformed mentions before
	// normalization.
	ErrInvalidMention = errors.New("invalid mention")
)
