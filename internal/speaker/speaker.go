// Package speaker picks the loudest remote participant on a fixed tick.
package speaker

import (
	"context"
	"sort"
	"sync"
	"time"
)

const (
	// Bins is the number of frequency bins an Analyzer fills.
	Bins = 128

	// Threshold is the average bin energy (0-255) above which the loudest
	// remote counts as speaking.
	Threshold = 30

	// DefaultInterval is the tick used when none is given.
	DefaultInterval = 100 * time.Millisecond
)

// Analyzer exposes the current frequency-domain energy of one inbound audio stream.
type Analyzer interface {
	// ByteFrequencyData fills dst with bin magnitudes scaled to 0-255.
	ByteFrequencyData(dst []byte)
}

// Estimator compares analyzers on every tick and reports the active speaker.
// It holds no state across ticks besides the registered analyzers.
type Estimator struct {
	interval  time.Duration
	onSpeaker func(remoteID string)

	mu        sync.Mutex
	analyzers map[string]Analyzer
	cancel    context.CancelFunc
	done      chan struct{}
}

// New creates a stopped estimator. onSpeaker receives the active remote id on
// every tick, or "" when nobody is above the threshold.
func New(interval time.Duration, onSpeaker func(remoteID string)) *Estimator {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Estimator{
		interval:  interval,
		onSpeaker: onSpeaker,
		analyzers: make(map[string]Analyzer),
	}
}

// Add registers the analyzer for a remote, replacing any previous one.
func (e *Estimator) Add(remoteID string, a Analyzer) {
	if a == nil {
		return
	}
	e.mu.Lock()
	e.analyzers[remoteID] = a
	e.mu.Unlock()
}

// Remove forgets the analyzer of a remote.
func (e *Estimator) Remove(remoteID string) {
	e.mu.Lock()
	delete(e.analyzers, remoteID)
	e.mu.Unlock()
}

// Len returns the number of registered analyzers.
func (e *Estimator) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.analyzers)
}

// Estimate samples every analyzer once and returns the active speaker, or "".
func (e *Estimator) Estimate() string {
	e.mu.Lock()
	ids := make([]string, 0, len(e.analyzers))
	for id := range e.analyzers {
		ids = append(ids, id)
	}
	analyzers := make([]Analyzer, len(ids))
	sort.Strings(ids)
	for i, id := range ids {
		analyzers[i] = e.analyzers[id]
	}
	e.mu.Unlock()

	buf := make([]byte, Bins)
	var (
		active  string
		loudest float64
	)
	for i, a := range analyzers {
		clear(buf)
		a.ByteFrequencyData(buf)
		if v := average(buf); v > loudest {
			loudest = v
			active = ids[i]
		}
	}

	if loudest > Threshold {
		return active
	}
	return ""
}

// Start begins ticking. A running estimator is restarted.
func (e *Estimator) Start(ctx context.Context) {
	e.Stop()

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	e.mu.Lock()
	e.cancel = cancel
	e.done = done
	e.mu.Unlock()

	go e.run(ctx, done)
}

// Stop halts ticking and waits for the current tick to finish.
func (e *Estimator) Stop() {
	e.mu.Lock()
	cancel, done := e.cancel, e.done
	e.cancel, e.done = nil, nil
	e.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (e *Estimator) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			active := e.Estimate()
			if e.onSpeaker != nil {
				e.onSpeaker(active)
			}
		}
	}
}

func average(bins []byte) float64 {
	if len(bins) == 0 {
		return 0
	}
	var sum int
	for _, b := range bins {
		sum += int(b)
	}
	return float64(sum) / float64(len(bins))
}
