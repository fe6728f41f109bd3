package lorawan

import (
	"math"
	"time"
)

const (
	preambleSymbols = 8.0
	syncWordSymbols = 4.25

	// codingRate is the CR term of the payload symbol formula for 4/5.
	codingRate = 1
)

// Airtime returns the on-air time of a LoRa frame with payloadLen PHY
// payload bytes, per Semtech AN1200.13 with an explicit header and coding
// rate 4/5. Frames sent with normal IQ polarity (uplinks and relay traffic
// between gateways) carry a payload CRC; inverted downlinks to end devices
// do not. The result is rounded to 0.1 ms.
func Airtime(p Params, payloadLen int, crc bool) time.Duration {
	sf := float64(p.SpreadingFactor)
	symbol := math.Pow(2, sf) / (float64(p.Bandwidth) / 1000) // ms

	preamble := (preambleSymbols + syncWordSymbols) * symbol

	crcSymbols := 0.0
	if crc {
		crcSymbols = 1
	}
	de := 0.0
	if lowDataRateOptimize(p.Bandwidth, p.SpreadingFactor) {
		de = 1
	}

	num := 8*float64(payloadLen) - 4*sf + 28 + 16*crcSymbols
	symbols := math.Max(math.Ceil(num/(4*(sf-2*de)))*(codingRate+4), 0) + 8

	ms := preamble + symbols*symbol
	tenths := math.Round(ms * 10)
	return time.Duration(tenths) * 100 * time.Microsecond
}

// lowDataRateOptimize reports whether the symbol time is long enough to
// require the low data rate optimiser.
func lowDataRateOptimize(bandwidth uint32, sf uint8) bool {
	switch bandwidth {
	case 125000:
		return sf >= 11
	case 250000:
		return sf == 12
	default:
		return false
	}
}
