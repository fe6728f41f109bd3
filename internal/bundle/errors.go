package bundle

import "errors"

var (
	// ErrEmptyBundle is returned when splitting a zero-length payload.
	ErrEmptyBundle = errors.New("bundle: empty payload")

	// ErrBundleTooLarge is returned when a payload needs more than MaxFragments fragments.
	ErrBundleTooLarge = errors.New("bundle: payload too large")

	// ErrInconsistentFragment is returned when a fragment disagrees with the
	// fragments already buffered for its bundle.
	ErrInconsistentFragment = errors.New("bundle: inconsistent fragment")

	// ErrNotFragment is returned when a non-bundle frame is passed to the reassembler.
	ErrNotFragment = errors.New("bundle: frame is not a bundle fragment")
)
