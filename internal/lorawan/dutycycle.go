package lorawan

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"
)

// DutyCycleWindow is the observation period over which duty cycle is measured.
const DutyCycleWindow = time.Hour

// SubBand is an EU868 frequency range sharing one duty-cycle limit.
type SubBand struct {
	Name      string
	Low, High uint32
	DutyCycle float64
}

// Budget returns the airtime allowed in one DutyCycleWindow.
func (b SubBand) Budget() time.Duration {
	return time.Duration(math.Round(float64(DutyCycleWindow) * b.DutyCycle))
}

// subBands per ETSI EN 300 220-2. Bounds are inclusive.
var subBands = []SubBand{
	{Name: "863.0-865.0", Low: 863000000, High: 865000000, DutyCycle: 0.001},
	{Name: "865.0-868.0", Low: 865000001, High: 868000000, DutyCycle: 0.01},
	{Name: "868.0-868.6", Low: 868000001, High: 868600000, DutyCycle: 0.01},
	{Name: "868.7-869.2", Low: 868700000, High: 869200000, DutyCycle: 0.001},
	{Name: "869.4-869.65", Low: 869400000, High: 869650000, DutyCycle: 0.1},
	{Name: "869.7-870.0", Low: 869700000, High: 870000000, DutyCycle: 0.01},
}

// LookupSubBand returns the sub-band containing frequency.
func LookupSubBand(frequency uint32) (SubBand, error) {
	for _, b := range subBands {
		if frequency >= b.Low && frequency <= b.High {
			return b, nil
		}
	}
	return SubBand{}, fmt.Errorf("%w: %d", ErrNoSubBand, frequency)
}

// SubBandUsage reports consumption of one sub-band on one gateway.
type SubBandUsage struct {
	SubBand   string        `json:"sub_band"`
	DutyCycle float64       `json:"duty_cycle"`
	Used      time.Duration `json:"used_ns"`
	Budget    time.Duration `json:"budget_ns"`
}

type transmission struct {
	at      time.Time
	airtime time.Duration
}

type usageKey struct {
	gateway string
	subBand string
}

// DutyCycle tracks transmitted airtime per gateway and sub-band over a
// rolling DutyCycleWindow.
//
// All public methods are thread-safe.
type DutyCycle struct {
	mu      sync.Mutex
	enforce bool
	log     map[usageKey][]transmission
}

// NewDutyCycle creates a tracker. With enforce false, Reserve always
// succeeds but usage is still recorded.
func NewDutyCycle(enforce bool) *DutyCycle {
	return &DutyCycle{
		enforce: enforce,
		log:     make(map[usageKey][]transmission),
	}
}

// Reserve records airtime on gateway's sub-band for frequency if the budget
// allows it, and returns ErrDutyCycleExceeded otherwise.
func (d *DutyCycle) Reserve(gateway string, frequency uint32, airtime time.Duration, now time.Time) error {
	band, err := LookupSubBand(frequency)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	key := usageKey{gateway: gateway, subBand: band.Name}
	entries := prune(d.log[key], now)
	used := total(entries)

	if d.enforce && used+airtime > band.Budget() {
		d.log[key] = entries
		return fmt.Errorf("%w: gateway %s sub-band %s used %v of %v", ErrDutyCycleExceeded, gateway, band.Name, used, band.Budget())
	}

	d.log[key] = append(entries, transmission{at: now, airtime: airtime})
	return nil
}

// Release undoes a Reserve made with the same arguments, for a transmission
// that never left the gateway. It is a no-op when no match is recorded.
func (d *DutyCycle) Release(gateway string, frequency uint32, airtime time.Duration, at time.Time) {
	band, err := LookupSubBand(frequency)
	if err != nil {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	key := usageKey{gateway: gateway, subBand: band.Name}
	entries := d.log[key]
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].at.Equal(at) && entries[i].airtime == airtime {
			d.log[key] = append(entries[:i], entries[i+1:]...)
			return
		}
	}
}

// Usage returns per sub-band consumption of gateway at now, sorted by sub-band.
func (d *DutyCycle) Usage(gateway string, now time.Time) []SubBandUsage {
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []SubBandUsage
	for key, entries := range d.log {
		if key.gateway != gateway {
			continue
		}
		entries = prune(entries, now)
		d.log[key] = entries

		band := subBandByName(key.subBand)
		out = append(out, SubBandUsage{
			SubBand:   band.Name,
			DutyCycle: band.DutyCycle,
			Used:      total(entries),
			Budget:    band.Budget(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubBand < out[j].SubBand })
	return out
}

// prune drops transmissions that left the window.
func prune(entries []transmission, now time.Time) []transmission {
	cutoff := now.Add(-DutyCycleWindow)
	i := 0
	for i < len(entries) && !entries[i].at.After(cutoff) {
		i++
	}
	return entries[i:]
}

func total(entries []transmission) time.Duration {
	var sum time.Duration
	for _, e := range entries {
		sum += e.airtime
	}
	return sum
}

func subBandByName(name string) SubBand {
	for _, b := range subBands {
		if b.Name == name {
			return b
		}
	}
	return SubBand{Name: name}
}
