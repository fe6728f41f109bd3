package lorawan

import "fmt"

// DataRate is an EU868 LoRa data rate index.
type DataRate uint8

// MaxDataRate is the highest LoRa data rate in EU868.
const MaxDataRate DataRate = 6

type modulation struct {
	spreadingFactor uint8
	bandwidth       uint32
}

var dataRates = [...]modulation{
	{12, 125000},
	{11, 125000},
	{10, 125000},
	{9, 125000},
	{8, 125000},
	{7, 125000},
	{7, 250000},
}

// Valid reports whether dr is a LoRa data rate.
func (dr DataRate) Valid() bool {
	return dr <= MaxDataRate
}

// Modulation returns the spreading factor and bandwidth of dr.
func (dr DataRate) Modulation() (spreadingFactor uint8, bandwidth uint32, err error) {
	if !dr.Valid() {
		return 0, 0, fmt.Errorf("%w: DR%d", ErrInvalidDataRate, dr)
	}
	m := dataRates[dr]
	return m.spreadingFactor, m.bandwidth, nil
}

func (dr DataRate) String() string {
	return fmt.Sprintf("DR%d", uint8(dr))
}

// FromModulation returns the data rate using bandwidth and spreading factor.
func FromModulation(bandwidth uint32, spreadingFactor uint8) (DataRate, error) {
	for i, m := range dataRates {
		if m.bandwidth == bandwidth && m.spreadingFactor == spreadingFactor {
			return DataRate(i), nil
		}
	}
	return 0, fmt.Errorf("%w: SF%d/%dHz", ErrNoMatchingDataRate, spreadingFactor, bandwidth)
}

// MaxPayload returns the largest PHY payload in bytes (MACPayload plus MIC)
// that may be sent at dr. repeaterCompatible leaves room for a LoRaWAN
// repeater at the fast data rates.
func MaxPayload(dr DataRate, repeaterCompatible bool) (int, error) {
	switch {
	case dr <= 2:
		return 63, nil
	case dr == 3:
		return 127, nil
	case dr <= MaxDataRate:
		if repeaterCompatible {
			return 234, nil
		}
		return 254, nil
	default:
		return 0, fmt.Errorf("%w: DR%d", ErrInvalidDataRate, dr)
	}
}
