package chirpstack

import "errors"

var (
	// ErrInvalidTopic is returned for topics outside the gateway bridge layout.
	ErrInvalidTopic = errors.New("chirpstack: invalid topic")

	// ErrDecodeFailed is returned when an uplink payload cannot be unmarshalled.
	ErrDecodeFailed = errors.New("chirpstack: decode failed")

	// ErrNotLoRa is returned for uplinks received with a non-LoRa modulation.
	ErrNotLoRa = errors.New("chirpstack: modulation is not LoRa")

	// ErrNoGateways is returned by Flood when no gateway is known yet.
	ErrNoGateways = errors.New("chirpstack: no known gateways")
)
