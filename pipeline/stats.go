package pipeline

import (
	"sync/atomic"
	"time"

	"github.com/c360/telestream/pkg/buffer"
)

// processingWindowSize bounds the rolling latency window. Oldest samples are
// evicted once the window is full.
const processingWindowSize = 1000

// Snapshot is a point-in-time view of pipeline throughput. ValidationRate and
// AverageProcessingTime are derived on demand, never stored.
type Snapshot struct {
	TotalReceived         int64   `json:"totalReceived"`
	ValidCount            int64   `json:"validCount"`
	InvalidCount          int64   `json:"invalidCount"`
	ValidationRate        float64 `json:"validationRate"`
	AverageProcessingTime float64 `json:"averageProcessingTimeMillis"`
}

// Stats tracks pipeline counters and a bounded rolling window of per-message
// processing times. All methods are safe for concurrent use.
//
// TotalReceived is always derived as valid+invalid so the two class counters
// can never drift from the total.
type Stats struct {
	valid   atomic.Int64
	invalid atomic.Int64
	window  buffer.Buffer[float64]
}

// NewStats creates a Stats with an empty rolling window.
func NewStats() *Stats {
	// Capacity and policy are fixed, so construction cannot fail
	window, _ := buffer.NewCircularBuffer(processingWindowSize,
		buffer.WithOverflowPolicy[float64](buffer.DropOldest))

	return &Stats{window: window}
}

// RecordValid counts one accepted reading and its processing time.
func (s *Stats) RecordValid(elapsed time.Duration) {
	s.valid.Add(1)
	s.recordTime(elapsed)
}

// RecordInvalid counts one rejected reading and its processing time.
func (s *Stats) RecordInvalid(elapsed time.Duration) {
	s.invalid.Add(1)
	s.recordTime(elapsed)
}

func (s *Stats) recordTime(elapsed time.Duration) {
	millis := float64(elapsed.Microseconds()) / 1000.0
	_ = s.window.Write(millis)
}

// Snapshot derives the current counters and rolling average.
func (s *Stats) Snapshot() Snapshot {
	valid := s.valid.Load()
	invalid := s.invalid.Load()
	total := valid + invalid

	snap := Snapshot{
		TotalReceived: total,
		ValidCount:    valid,
		InvalidCount:  invalid,
	}

	if total > 0 {
		snap.ValidationRate = float64(valid) / float64(total)
	}

	times := s.window.Snapshot()
	if len(times) > 0 {
		var sum float64
		for _, t := range times {
			sum += t
		}
		snap.AverageProcessingTime = sum / float64(len(times))
	}

	return snap
}

// WindowSize reports how many samples the rolling window currently holds.
func (s *Stats) WindowSize() int {
	return s.window.Size()
}

// Close releases the rolling window.
func (s *Stats) Close() {
	_ = s.window.Close()
}
