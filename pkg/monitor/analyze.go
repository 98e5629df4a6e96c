package monitor

import (
	"errors"
	"time"

	"github.com/srg/eegstream/internal/bandpower"
	"github.com/srg/eegstream/internal/derive"
	"github.com/srg/eegstream/internal/sample"
	"github.com/srg/eegstream/internal/state"
)

// Window is one closed analysis window from an offline replay.
type Window struct {
	Index   uint64             `json:"window"`
	Start   time.Time          `json:"start"`
	End     time.Time          `json:"end"`
	Bands   bandpower.Snapshot `json:"bands"`
	Derived []state.Metric     `json:"derived,omitempty"`
}

// Analyze replays samples through a fresh pipeline, the same way a live
// session would, and returns every closed window. A trailing partial window
// is discarded. engine may be nil to skip derived metrics.
func Analyze(samples []sample.Sample, sampleRate float64, engine *derive.Engine) ([]Window, error) {
	p, err := bandpower.NewPipeline(sampleRate)
	if err != nil {
		return nil, err
	}

	var (
		windows []Window
		start   time.Time
	)
	for _, s := range samples {
		if p.Fill() == 0 {
			start = s.Timestamp
		}
		snap, err := p.Ingest(s.Value)
		if errors.Is(err, bandpower.ErrNonFinite) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if snap == nil {
			continue
		}

		w := Window{
			Index: p.Windows(),
			Start: start,
			End:   s.Timestamp,
			Bands: *snap,
		}
		if engine != nil {
			metrics, err := engine.Derive(*snap)
			if err != nil {
				return nil, err
			}
			w.Derived = Metrics(metrics)
		}
		windows = append(windows, w)
	}
	return windows, nil
}
