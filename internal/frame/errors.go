package frame

import "errors"

// Classification errors. A frame that fails to parse is logged and dropped
// by the caller; none of these are fatal.
var (
	// ErrUnknownPrefix is returned when the first byte matches no configured prefix.
	ErrUnknownPrefix = errors.New("frame: unknown prefix")

	// ErrMalformed is returned when a frame is too short for its class header
	// or carries inconsistent header fields.
	ErrMalformed = errors.New("frame: malformed header")

	// ErrDuplicatePrefix is returned when two classes share a prefix byte.
	ErrDuplicatePrefix = errors.New("frame: prefixes must be distinct")

	// ErrLocationOutOfRange is returned when a coordinate cannot be encoded in 24 bits.
	ErrLocationOutOfRange = errors.New("frame: location out of range")
)
