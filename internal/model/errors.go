package model

import "errors"

// Sentinel errors shared across packages. Callers match them with errors.Is;
// wrapping adds the offending field or key.
var (
	// ErrMalformedInput marks an ingested payload missing a required field.
	// The whole record is rejected, nothing is persisted.
	ErrMalformedInput = errors.New("malformed input")

	// ErrEmptyTitle marks an article with neither a title nor a text to
	// derive a slug from.
	ErrEmptyTitle = errors.New("empty title and text")

	// ErrEmptySlugBase marks a slug base that sanitization stripped to
	// nothing and that has no numeric fallback.
	ErrEmptySlugBase = errors.New("empty slug base")

	// ErrDuplicateKey maps a store-level unique constraint violation.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrNotFound marks a point lookup that matched no record.
	ErrNotFound = errors.New("not found")

	// ErrInvariant marks a state that the annotation ordering should make
	// unreachable, such as interesting_to membership without seen_by.
	ErrInvariant = errors.New("invariant violation")
)
