// Package state holds the read-only surface observers see: the latest sample,
// the latest band powers, the connection state and the event-log tail.
//
// Each publish replaces the whole View atomically, so readers never see a torn
// update. Watchers get a last-value-wins channel and can never slow a publisher.
package state

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/srg/eegstream/internal/bandpower"
	"github.com/srg/eegstream/internal/ringchan"
	"github.com/srg/eegstream/internal/sample"
)

const (
	// InitialSample is shown before the first sample arrives.
	InitialSample = "0"

	// DisconnectedSample replaces the sample string when the link drops.
	DisconnectedSample = "Disconnected"
)

// Metric is one named derived value, kept in script order.
type Metric struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// View is an immutable snapshot. Never modify a View obtained from the Store.
type View struct {
	Sample     string             `json:"sample"`
	LastSample *sample.Sample     `json:"last_sample,omitempty"`
	Bands      bandpower.Snapshot `json:"bands"`
	Derived    []Metric           `json:"derived,omitempty"`
	Windows    uint64             `json:"windows"`
	Connection string             `json:"connection"`
	Events     []string           `json:"events"`
	UpdatedAt  time.Time          `json:"updated_at"`
}

// Derive returns the value of the named derived metric.
func (v *View) Derive(name string) (float64, bool) {
	for _, m := range v.Derived {
		if m.Name == name {
			return m.Value, true
		}
	}
	return 0, false
}

func (v *View) clone() *View {
	c := *v
	return &c
}

// Store publishes Views. Reads are lock-free; writers serialize on a mutex.
type Store struct {
	mu       sync.Mutex
	view     atomic.Pointer[View]
	watchers *hashmap.Map[uint64, *ringchan.RingChannel[*View]]
	nextID   atomic.Uint64
	now      func() time.Time
}

// NewStore creates a store holding the initial view.
func NewStore() *Store {
	s := &Store{
		watchers: hashmap.New[uint64, *ringchan.RingChannel[*View]](),
		now:      time.Now,
	}
	s.view.Store(&View{
		Sample:     InitialSample,
		Connection: "Idle",
		Events:     []string{},
		UpdatedAt:  s.now(),
	})
	return s
}

// Load returns the current view.
func (s *Store) Load() *View {
	return s.view.Load()
}

// Update applies fn to a copy of the current view and publishes the result.
// fn must not retain the pointer.
func (s *Store) Update(fn func(v *View)) *View {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.view.Load().clone()
	fn(next)
	next.UpdatedAt = s.now()
	s.view.Store(next)

	// Send never blocks, so fan-out under the lock keeps watchers in publish order.
	s.watchers.Range(func(_ uint64, rc *ringchan.RingChannel[*View]) bool {
		rc.Send(next)
		return true
	})
	return next
}

// SetSample publishes the latest accepted sample.
func (s *Store) SetSample(smp sample.Sample) {
	s.Update(func(v *View) {
		v.Sample = smp.String()
		v.LastSample = &smp
	})
}

// MarkDisconnected replaces the sample string with DisconnectedSample.
func (s *Store) MarkDisconnected() {
	s.Update(func(v *View) {
		v.Sample = DisconnectedSample
	})
}

// SetBands publishes a new band-power snapshot together with its derived metrics.
func (s *Store) SetBands(bands bandpower.Snapshot, derived []Metric, windows uint64) {
	d := append([]Metric(nil), derived...)
	s.Update(func(v *View) {
		v.Bands = bands
		v.Derived = d
		v.Windows = windows
	})
}

// SetConnection publishes the connection state name.
func (s *Store) SetConnection(state string) {
	s.Update(func(v *View) {
		v.Connection = state
	})
}

// SetEvents publishes the event-log tail. The slice is copied.
func (s *Store) SetEvents(events []string) {
	e := append([]string{}, events...)
	s.Update(func(v *View) {
		v.Events = e
	})
}

// Watch returns a channel that always holds the most recent view, starting with
// the current one, and a cancel func that releases it. Slow readers skip
// intermediate views rather than queueing them.
func (s *Store) Watch() (<-chan *View, func()) {
	id := s.nextID.Add(1)
	rc := ringchan.New[*View](1)

	s.mu.Lock()
	s.watchers.Set(id, rc)
	rc.Send(s.Load())
	s.mu.Unlock()

	var once sync.Once
	return rc.C(), func() {
		once.Do(func() {
			s.watchers.Del(id)
			rc.Close()
		})
	}
}

// Watchers returns the number of active watches.
func (s *Store) Watchers() int {
	return s.watchers.Len()
}
