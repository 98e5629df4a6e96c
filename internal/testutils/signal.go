package testutils

import (
	"math"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/eegstream/internal/sample"
)

// Sine returns n samples of amp*sin(2π·freq·t) at sample rate fs.
func Sine(freq, fs, amp float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = amp * math.Sin(2*math.Pi*freq*float64(i)/fs)
	}
	return out
}

// Samples stamps values at fs Hz starting from start.
func Samples(start time.Time, fs float64, values []float64) []sample.Sample {
	step := time.Duration(float64(time.Second) / fs)
	out := make([]sample.Sample, len(values))
	for i, v := range values {
		out[i] = sample.New(start.Add(time.Duration(i)*step), v)
	}
	return out
}

type testWriter struct{ t testing.TB }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Helper()
	w.t.Log(string(p))
	return len(p), nil
}

// NewTestLogger returns a logger that writes through t.Log at the given level.
func NewTestLogger(t testing.TB, level logrus.Level) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(testWriter{t: t})
	l.SetLevel(level)
	l.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	return l
}
