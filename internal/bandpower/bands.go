package bandpower

import "fmt"

// Band identifies one of the five physiological EEG frequency bands.
type Band int

const (
	Delta Band = iota
	Theta
	Alpha
	Beta
	Gamma

	// NumBands is the number of bands in every Snapshot.
	NumBands = 5
)

// Bands lists all bands ordered low to high frequency.
var Bands = [NumBands]Band{Delta, Theta, Alpha, Beta, Gamma}

// bandRanges holds the half-open [lo, hi) frequency range of each band in Hz.
// Ranges are contiguous, non-overlapping and ordered low to high.
var bandRanges = [NumBands][2]float64{
	Delta: {0.5, 4},
	Theta: {4, 8},
	Alpha: {8, 13},
	Beta:  {13, 30},
	Gamma: {30, 100},
}

var bandNames = [NumBands]string{
	Delta: "Delta",
	Theta: "Theta",
	Alpha: "Alpha",
	Beta:  "Beta",
	Gamma: "Gamma",
}

func (b Band) String() string {
	if b < 0 || int(b) >= NumBands {
		return fmt.Sprintf("Band(%d)", int(b))
	}
	return bandNames[b]
}

// Range returns the band's half-open frequency range [lo, hi) in Hz.
func (b Band) Range() (lo, hi float64) {
	r := bandRanges[b]
	return r[0], r[1]
}

// Contains reports whether frequency f (Hz) falls inside the band.
func (b Band) Contains(f float64) bool {
	lo, hi := b.Range()
	return f >= lo && f < hi
}

// ParseBand resolves a band by its name (case-sensitive, as produced by String).
func ParseBand(name string) (Band, bool) {
	for _, b := range Bands {
		if bandNames[b] == name {
			return b, true
		}
	}
	return 0, false
}

// bandFor returns the band containing frequency f, or false if f lies outside all bands.
func bandFor(f float64) (Band, bool) {
	for _, b := range Bands {
		if b.Contains(f) {
			return b, true
		}
	}
	return 0, false
}
