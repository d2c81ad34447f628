package accumulator

import (
	"context"
	"sync"
	"time"

	"go.uber.org/atomic"
)

// Accumulator counts occurrences and stores the count on an interval.
type Accumulator struct {
	Label string

	acc *atomic.Int64

	mu      sync.RWMutex
	samples []Sample

	// Samples to store before being discarded.
	// 60 samples with an interval of 1 second provide a minute of history.
	storedSamples int
	interval      time.Duration
}

// Sample is the count of one interval.
type Sample struct {
	Value    int64     `json:"value"`
	StoredAt time.Time `json:"stored_at"`
}

// NewAccumulator creates an accumulator. This does not automatically call Run.
func NewAccumulator(label string, storedSamples int, interval time.Duration) *Accumulator {
	return &Accumulator{
		Label:         label,
		acc:           atomic.NewInt64(0),
		samples:       make([]Sample, 0, storedSamples),
		storedSamples: storedSamples,
		interval:      interval,
	}
}

func (ac *Accumulator) Increment() {
	ac.acc.Inc()
}

func (ac *Accumulator) IncrementBy(n int64) {
	ac.acc.Add(n)
}

// Pending returns the count of the interval in progress.
func (ac *Accumulator) Pending() int64 {
	return ac.acc.Load()
}

// Samples returns a copy of every stored sample, oldest first.
func (ac *Accumulator) Samples() SampleGroup {
	return ac.Last(ac.storedSamples)
}

// Last returns a copy of the last n samples.
func (ac *Accumulator) Last(n int) SampleGroup {
	ac.mu.RLock()
	defer ac.mu.RUnlock()

	index := max(len(ac.samples)-n, 0)

	samples := make([]Sample, len(ac.samples)-index)
	copy(samples, ac.samples[index:])

	return SampleGroup{Label: ac.Label, Samples: samples}
}

// Store closes the interval in progress at t. Use it instead of Run when a
// task already runs every interval.
func (ac *Accumulator) Store(t time.Time) {
	sample := Sample{Value: ac.acc.Swap(0), StoredAt: t}

	ac.mu.Lock()
	defer ac.mu.Unlock()

	ac.samples = append(ac.samples, sample)

	if len(ac.samples) > ac.storedSamples {
		ac.samples = append(ac.samples[:0], ac.samples[len(ac.samples)-ac.storedSamples:]...)
	}
}

// Run stores a sample every interval until ctx is done.
func (ac *Accumulator) Run(ctx context.Context) {
	t := time.NewTicker(ac.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			ac.Store(now.UTC())
		}
	}
}

// SampleGroup holds a group of samples.
type SampleGroup struct {
	Label   string   `json:"label"`
	Samples []Sample `json:"samples"`
}

func (sg SampleGroup) Sum() int64 {
	var acc int64

	for _, sample := range sg.Samples {
		acc += sample.Value
	}

	return acc
}

// Avg returns the average sample, or 0 without samples.
func (sg SampleGroup) Avg() float64 {
	if len(sg.Samples) == 0 {
		return 0
	}

	return float64(sg.Sum()) / float64(len(sg.Samples))
}

// Since returns the samples stored after t.
func (sg SampleGroup) Since(t time.Time) SampleGroup {
	for index, sample := range sg.Samples {
		if sample.StoredAt.After(t) {
			return SampleGroup{Label: sg.Label, Samples: sg.Samples[index:]}
		}
	}

	return SampleGroup{Label: sg.Label}
}
