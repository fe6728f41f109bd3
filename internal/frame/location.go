package frame

import (
	"fmt"
	"math"
)

// LocationSize is the encoded size of a Location: three signed 24-bit values.
const LocationSize = 9

const (
	int24Min = -1 << 23
	int24Max = 1<<23 - 1

	latitudeStep  = 90.0 / (1 << 23)
	longitudeStep = 180.0 / (1 << 23)
	altitudeScale = 100.0
)

// Location is a GPS position appended to announcement payloads.
// Altitude is in metres with centimetre resolution.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Altitude  float64 `json:"altitude"`
}

// EncodeLocation packs loc into LocationSize bytes, big-endian.
//
// Latitude covers [-90, 90), longitude [-180, 180) and altitude
// [-83886.08, 83886.07]; anything else returns ErrLocationOutOfRange.
func EncodeLocation(loc Location) ([]byte, error) {
	lat, err := toInt24(loc.Latitude/latitudeStep, "latitude", loc.Latitude)
	if err != nil {
		return nil, err
	}
	long, err := toInt24(loc.Longitude/longitudeStep, "longitude", loc.Longitude)
	if err != nil {
		return nil, err
	}
	alt, err := toInt24(loc.Altitude*altitudeScale, "altitude", loc.Altitude)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, LocationSize)
	putInt24(buf[0:3], lat)
	putInt24(buf[3:6], long)
	putInt24(buf[6:9], alt)
	return buf, nil
}

// DecodeLocation reverses EncodeLocation. Latitude and longitude are rounded
// to five decimal places (about one metre).
func DecodeLocation(b []byte) (Location, error) {
	if len(b) < LocationSize {
		return Location{}, fmt.Errorf("%w: location needs %d bytes, got %d", ErrMalformed, LocationSize, len(b))
	}
	return Location{
		Latitude:  round5(float64(getInt24(b[0:3])) * latitudeStep),
		Longitude: round5(float64(getInt24(b[3:6])) * longitudeStep),
		Altitude:  float64(getInt24(b[6:9])) / altitudeScale,
	}, nil
}

func toInt24(scaled float64, name string, raw float64) (int32, error) {
	if math.IsNaN(scaled) || math.IsInf(scaled, 0) {
		return 0, fmt.Errorf("%w: %s %v", ErrLocationOutOfRange, name, raw)
	}
	v := math.Round(scaled)
	if v < int24Min || v > int24Max {
		return 0, fmt.Errorf("%w: %s %v", ErrLocationOutOfRange, name, raw)
	}
	return int32(v), nil
}

func putInt24(b []byte, v int32) {
	u := uint32(v)
	b[0] = byte(u >> 16)
	b[1] = byte(u >> 8)
	b[2] = byte(u)
}

func getInt24(b []byte) int32 {
	u := uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
	// sign-extend from bit 23
	return int32(u<<8) >> 8
}

func round5(v float64) float64 {
	return math.Round(v*1e5) / 1e5
}
