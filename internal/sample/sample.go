// Package sample defines the scalar EEG sample carried from the sensor to the
// pipeline and the sample log, and decodes it from its wire form.
package sample

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// ErrMalformed is returned by Decode for payloads that are not a single finite decimal number.
var ErrMalformed = errors.New("malformed sample payload")

// Sample is one reading delivered by the sensor. Immutable once created.
type Sample struct {
	Timestamp time.Time
	Value     float64
}

// New creates a sample stamped with the given arrival time.
func New(at time.Time, value float64) Sample {
	return Sample{Timestamp: at, Value: value}
}

// String renders the value the way the sensor sent it (shortest round-trip form).
func (s Sample) String() string {
	return strconv.FormatFloat(s.Value, 'g', -1, 64)
}

// Decode parses a notification payload: UTF-8 text holding a single decimal
// number, no framing. Surrounding whitespace (including a trailing newline some
// firmwares append) is tolerated. NaN and infinities are rejected.
func Decode(payload []byte, at time.Time) (Sample, error) {
	if !utf8.Valid(payload) {
		return Sample{}, fmt.Errorf("%w: invalid UTF-8 (%d bytes)", ErrMalformed, len(payload))
	}

	text := strings.TrimSpace(string(payload))
	if text == "" {
		return Sample{}, fmt.Errorf("%w: empty payload", ErrMalformed)
	}

	v, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return Sample{}, fmt.Errorf("%w: %q", ErrMalformed, text)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Sample{}, fmt.Errorf("%w: non-finite value %q", ErrMalformed, text)
	}

	return Sample{Timestamp: at, Value: v}, nil
}
