package lorawan

import "fmt"

// AllowedFrequencies are the EU868 default channels relay frames may use.
var AllowedFrequencies = []uint32{868100000, 868300000, 868500000}

// Spreading factor bounds.
const (
	MinSpreadingFactor uint8 = 7
	MaxSpreadingFactor uint8 = 12
)

// Params is the canonical set of downlink radio parameters.
type Params struct {
	Frequency       uint32 `json:"frequency"`
	Bandwidth       uint32 `json:"bandwidth"`
	SpreadingFactor uint8  `json:"spreading_factor"`
}

// DefaultParams returns the parameters for frequency at data rate dr.
func DefaultParams(frequency uint32, dr DataRate) (Params, error) {
	return Request{Frequency: frequency, DataRate: &dr}.Resolve(Params{})
}

// Validate checks every field against the EU868 constraints.
func (p Params) Validate() error {
	if !frequencyAllowed(p.Frequency) {
		return fmt.Errorf("%w: %d", ErrInvalidFrequency, p.Frequency)
	}
	if p.Bandwidth != 125000 && p.Bandwidth != 250000 {
		return fmt.Errorf("%w: %d", ErrInvalidBandwidth, p.Bandwidth)
	}
	if p.SpreadingFactor < MinSpreadingFactor || p.SpreadingFactor > MaxSpreadingFactor {
		return fmt.Errorf("%w: %d", ErrInvalidSpreadingFactor, p.SpreadingFactor)
	}
	return nil
}

// DataRate returns the data rate matching p's modulation.
func (p Params) DataRate() (DataRate, error) {
	return FromModulation(p.Bandwidth, p.SpreadingFactor)
}

// Request is radio parameters as supplied by an operator: either an explicit
// bandwidth and spreading factor or a data rate. Zero fields are filled from
// the defaults passed to Resolve.
type Request struct {
	Frequency       uint32 `json:"frequency,omitempty"`
	Bandwidth       uint32 `json:"bandwidth,omitempty"`
	SpreadingFactor uint8  `json:"spreading_factor,omitempty"`

	// DataRate, when set, overrides Bandwidth and SpreadingFactor.
	DataRate *DataRate `json:"data_rate,omitempty"`
}

// Resolve returns the canonical parameters of r, falling back to defaults
// for the frequency and, when neither a data rate nor a modulation is given,
// for the modulation.
func (r Request) Resolve(defaults Params) (Params, error) {
	p := Params{
		Frequency:       r.Frequency,
		Bandwidth:       r.Bandwidth,
		SpreadingFactor: r.SpreadingFactor,
	}
	if p.Frequency == 0 {
		p.Frequency = defaults.Frequency
	}

	switch {
	case r.DataRate != nil:
		sf, bw, err := r.DataRate.Modulation()
		if err != nil {
			return Params{}, err
		}
		p.SpreadingFactor, p.Bandwidth = sf, bw
	case p.Bandwidth == 0 && p.SpreadingFactor == 0:
		p.Bandwidth, p.SpreadingFactor = defaults.Bandwidth, defaults.SpreadingFactor
	}

	if err := p.Validate(); err != nil {
		return Params{}, err
	}
	return p, nil
}

func frequencyAllowed(f uint32) bool {
	for _, allowed := range AllowedFrequencies {
		if f == allowed {
			return true
		}
	}
	return false
}
