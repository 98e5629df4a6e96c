package bandpower

import (
	"encoding/json"
	"fmt"
	"math"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Snapshot holds the power of every band computed from one window.
// The zero value (all bands zero) is the state before the first window closes.
// Snapshots are values: each window closure produces a whole new one.
type Snapshot [NumBands]float64

// Get returns the power of band b.
func (s Snapshot) Get(b Band) float64 {
	return s[b]
}

// Total returns the summed power of all bands, saturating at math.MaxFloat64.
func (s Snapshot) Total() float64 {
	var total float64
	for _, p := range s {
		total += p
	}
	return saturate(total)
}

// Relative returns each band's share of the total power, in percent.
// All values are zero when the total is zero.
func (s Snapshot) Relative() Snapshot {
	var rel Snapshot

	var peak float64
	for _, p := range s {
		peak = math.Max(peak, p)
	}
	if peak <= 0 {
		return rel
	}

	// Shares are taken relative to the largest band so the sum cannot overflow.
	var total float64
	for _, p := range s {
		total += p / peak
	}
	for i, p := range s {
		rel[i] = p / peak / total * 100
	}
	return rel
}

// Ordered returns the snapshot as a band-name keyed map that preserves the
// Delta..Gamma order.
func (s Snapshot) Ordered() *orderedmap.OrderedMap[string, float64] {
	om := orderedmap.New[string, float64]()
	for _, b := range Bands {
		om.Set(b.String(), s[b])
	}
	return om
}

// Map returns the snapshot as a plain band-name keyed map.
func (s Snapshot) Map() map[string]float64 {
	m := make(map[string]float64, NumBands)
	for _, b := range Bands {
		m[b.String()] = s[b]
	}
	return m
}

// MarshalJSON renders the snapshot as {"Delta":…,"Theta":…,"Alpha":…,"Beta":…,"Gamma":…}.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Ordered())
}

// UnmarshalJSON accepts the object form produced by MarshalJSON.
// Every band must be present; unknown keys are rejected.
func (s *Snapshot) UnmarshalJSON(data []byte) error {
	var raw map[string]float64
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var out Snapshot
	seen := 0
	for name, v := range raw {
		b, ok := ParseBand(name)
		if !ok {
			return fmt.Errorf("unknown band %q", name)
		}
		out[b] = v
		seen++
	}
	if seen != NumBands {
		return fmt.Errorf("band snapshot needs %d bands, got %d", NumBands, seen)
	}

	*s = out
	return nil
}
