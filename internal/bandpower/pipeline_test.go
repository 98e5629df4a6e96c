package bandpower_test

import (
	"math"
	"math/rand"
	"testing"

	"github.com/srg/eegstream/internal/bandpower"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// referenceBandPowers computes band powers with a direct O(N^2) DFT, independent
// of the FFT used by the pipeline: sum of |X[k]|^2 over bins 0..N/2 whose
// frequency k*fs/N lies in the band's [lo, hi) range.
func referenceBandPowers(values []float64, fs float64) bandpower.Snapshot {
	n := len(values)
	var snap bandpower.Snapshot
	for k := 0; k <= n/2; k++ {
		var re, im float64
		for t, x := range values {
			angle := -2 * math.Pi * float64(k) * float64(t) / float64(n)
			re += x * math.Cos(angle)
			im += x * math.Sin(angle)
		}
		f := float64(k) * fs / float64(n)
		for _, b := range bandpower.Bands {
			if b.Contains(f) {
				snap[b] += re*re + im*im
			}
		}
	}
	return snap
}

type PipelineTestSuite struct {
	suite.Suite
	pipeline *bandpower.Pipeline
}

func (s *PipelineTestSuite) SetupTest() {
	p, err := bandpower.NewPipeline(bandpower.DefaultSampleRate)
	s.Require().NoError(err)
	s.pipeline = p
}

// feed ingests values and returns every snapshot emitted, failing on the first error.
func (s *PipelineTestSuite) feed(values []float64) []bandpower.Snapshot {
	var out []bandpower.Snapshot
	for _, v := range values {
		snap, err := s.pipeline.Ingest(v)
		s.Require().NoError(err)
		if snap != nil {
			out = append(out, *snap)
		}
	}
	return out
}

func (s *PipelineTestSuite) TestEmitsOnlyOnWindowClose() {
	for i := 1; i < bandpower.WindowSize; i++ {
		snap, err := s.pipeline.Ingest(float64(i))
		s.Require().NoError(err)
		s.Require().Nil(snap, "no snapshot expected on call %d", i)
		s.Equal(i, s.pipeline.Fill())
	}

	snap, err := s.pipeline.Ingest(256)
	s.Require().NoError(err)
	s.Require().NotNil(snap, "snapshot expected on call 256")
	s.Equal(0, s.pipeline.Fill(), "window must be cleared after transform")
	s.Equal(uint64(1), s.pipeline.Windows())
}

func (s *PipelineTestSuite) TestCadenceIsOnePerWindow() {
	values := make([]float64, 3*bandpower.WindowSize+17)
	for i := range values {
		values[i] = math.Sin(float64(i))
	}

	snaps := s.feed(values)

	s.Len(snaps, 3)
	s.Equal(17, s.pipeline.Fill())
}

func (s *PipelineTestSuite) TestSilenceYieldsZeroPower() {
	snaps := s.feed(make([]float64, bandpower.WindowSize))

	s.Require().Len(snaps, 1)
	for _, b := range bandpower.Bands {
		s.Equal(0.0, snaps[0].Get(b), "band %s", b)
	}
}

func (s *PipelineTestSuite) TestRampMatchesReferenceDFT() {
	values := make([]float64, bandpower.WindowSize)
	for i := range values {
		values[i] = float64(i + 1) // 1.0, 2.0, ..., 256.0
	}

	snaps := s.feed(values)

	s.Require().Len(snaps, 1)
	want := referenceBandPowers(values, bandpower.DefaultSampleRate)
	for _, b := range bandpower.Bands {
		s.Greater(want[b], 0.0)
		s.InEpsilon(want[b], snaps[0][b], 1e-9, "band %s", b)
	}
}

func (s *PipelineTestSuite) TestPureToneLandsInItsBand() {
	tests := []struct {
		freq float64
		band bandpower.Band
	}{
		{2, bandpower.Delta},
		{6, bandpower.Theta},
		{10, bandpower.Alpha},
		{20, bandpower.Beta},
		{40, bandpower.Gamma},
	}

	for _, tt := range tests {
		s.Run(tt.band.String(), func() {
			s.SetupTest()
			values := make([]float64, bandpower.WindowSize)
			for i := range values {
				values[i] = math.Sin(2 * math.Pi * tt.freq * float64(i) / bandpower.DefaultSampleRate)
			}

			snaps := s.feed(values)

			s.Require().Len(snaps, 1)
			// A unit sine on an exact bin has |X[k]| = N/2.
			s.InDelta(math.Pow(bandpower.WindowSize/2, 2), snaps[0][tt.band], 1e-6)
			for _, other := range bandpower.Bands {
				if other != tt.band {
					s.InDelta(0, snaps[0][other], 1e-6, "leak into %s", other)
				}
			}
		})
	}
}

func (s *PipelineTestSuite) TestRejectsNonFinite() {
	s.feed([]float64{1, 2, 3})

	for _, v := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		snap, err := s.pipeline.Ingest(v)
		s.ErrorIs(err, bandpower.ErrNonFinite)
		s.Nil(snap)
	}
	s.Equal(3, s.pipeline.Fill(), "rejected samples must not enter the window")
}

func (s *PipelineTestSuite) TestReset() {
	s.feed([]float64{1, 2, 3})
	s.pipeline.Reset()
	s.Equal(0, s.pipeline.Fill())
}

func TestPipelineTestSuite(t *testing.T) {
	suite.Run(t, new(PipelineTestSuite))
}

func TestBandPowersAreNonNegative(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	p, err := bandpower.NewPipeline(bandpower.DefaultSampleRate)
	require.NoError(t, err)

	emitted := 0
	for i := 0; i < 20*bandpower.WindowSize; i++ {
		v := (rng.Float64()*2 - 1) * math.Pow(10, float64(rng.Intn(8)-2))
		snap, err := p.Ingest(v)
		require.NoError(t, err)
		if snap == nil {
			continue
		}
		emitted++
		for _, b := range bandpower.Bands {
			assert.GreaterOrEqual(t, snap.Get(b), 0.0)
		}
	}
	assert.Equal(t, 20, emitted)
}

func TestExtremeAmplitudesStayFinite(t *testing.T) {
	for _, amp := range []float64{math.MaxFloat64, math.MaxFloat64 / 3, 1e200, 1e-300, math.SmallestNonzeroFloat64} {
		p, err := bandpower.NewPipeline(bandpower.DefaultSampleRate)
		require.NoError(t, err)

		var snap *bandpower.Snapshot
		for i := 0; i < bandpower.WindowSize; i++ {
			sign := 1.0
			if i%3 == 0 {
				sign = -1
			}
			snap, err = p.Ingest(sign * amp * math.Sin(float64(i)))
			require.NoError(t, err)
		}
		require.NotNil(t, snap, "amplitude %g", amp)

		for _, b := range bandpower.Bands {
			v := snap.Get(b)
			assert.False(t, math.IsNaN(v) || math.IsInf(v, 0), "amplitude %g band %s: %v", amp, b, v)
			assert.GreaterOrEqual(t, v, 0.0, "amplitude %g band %s", amp, b)
		}
		total := snap.Total()
		assert.False(t, math.IsNaN(total) || math.IsInf(total, 0), "amplitude %g total %v", amp, total)
	}
}

func TestOverflowingBandSaturates(t *testing.T) {
	p, err := bandpower.NewPipeline(bandpower.DefaultSampleRate)
	require.NoError(t, err)

	var snap *bandpower.Snapshot
	for i := 0; i < bandpower.WindowSize; i++ {
		snap, err = p.Ingest(math.MaxFloat64 * math.Sin(2*math.Pi*10*float64(i)/bandpower.WindowSize))
		require.NoError(t, err)
	}
	require.NotNil(t, snap)

	assert.Equal(t, math.MaxFloat64, snap.Get(bandpower.Alpha))
	assert.Equal(t, math.MaxFloat64, snap.Total())
}

func TestScaledInputScalesPowerExactly(t *testing.T) {
	values := make([]float64, bandpower.WindowSize)
	for i := range values {
		values[i] = math.Sin(float64(i)*0.3) + 0.5*math.Cos(float64(i)*1.7)
	}

	run := func(scale float64) bandpower.Snapshot {
		p, err := bandpower.NewPipeline(bandpower.DefaultSampleRate)
		require.NoError(t, err)
		var snap *bandpower.Snapshot
		for _, v := range values {
			snap, err = p.Ingest(v * scale)
			require.NoError(t, err)
		}
		require.NotNil(t, snap)
		return *snap
	}

	base := run(1)
	big := run(math.Ldexp(1, 400))
	for _, b := range bandpower.Bands {
		assert.Equal(t, math.Ldexp(base.Get(b), 800), big.Get(b), "band %s", b)
	}
}

func TestNewPipelineRejectsBadSampleRate(t *testing.T) {
	for _, fs := range []float64{0, -1, math.NaN(), math.Inf(1)} {
		_, err := bandpower.NewPipeline(fs)
		assert.Error(t, err, "sample rate %v", fs)
	}
}

func TestOtherSampleRateMatchesReference(t *testing.T) {
	const fs = 500.0
	p, err := bandpower.NewPipeline(fs)
	require.NoError(t, err)

	values := make([]float64, bandpower.WindowSize)
	for i := range values {
		values[i] = math.Sin(float64(i)*0.3) + 0.5*math.Cos(float64(i)*1.7)
	}

	var snap *bandpower.Snapshot
	for _, v := range values {
		snap, err = p.Ingest(v)
		require.NoError(t, err)
	}
	require.NotNil(t, snap)

	want := referenceBandPowers(values, fs)
	for _, b := range bandpower.Bands {
		assert.InDelta(t, want[b], snap[b], 1e-6*math.Max(1, want[b]), "band %s", b)
	}
}
