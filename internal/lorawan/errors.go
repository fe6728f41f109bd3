package lorawan

import "errors"

// Radio parameter errors. Resolve wraps them with the offending value.
var (
	ErrInvalidFrequency       = errors.New("lorawan: frequency not allowed")
	ErrInvalidBandwidth       = errors.New("lorawan: bandwidth not allowed")
	ErrInvalidSpreadingFactor = errors.New("lorawan: spreading factor out of range")
	ErrInvalidDataRate        = errors.New("lorawan: data rate out of range")
	ErrNoMatchingDataRate     = errors.New("lorawan: no data rate for modulation")
)

// Duty-cycle errors.
var (
	// ErrDutyCycleExceeded is returned by Reserve when the sub-band budget
	// of a gateway cannot absorb the requested airtime.
	ErrDutyCycleExceeded = errors.New("lorawan: duty cycle budget exceeded")

	// ErrNoSubBand is returned for frequencies outside the EU868 sub-band table.
	ErrNoSubBand = errors.New("lorawan: frequency outside EU868 sub-bands")
)
