package pipeline

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStats_Snapshot(t *testing.T) {
	s := NewStats()
	defer s.Close()

	s.RecordValid(2 * time.Millisecond)
	s.RecordValid(4 * time.Millisecond)
	s.RecordInvalid(6 * time.Millisecond)

	snap := s.Snapshot()
	assert.Equal(t, int64(3), snap.TotalReceived)
	assert.Equal(t, int64(2), snap.ValidCount)
	assert.Equal(t, int64(1), snap.InvalidCount)
	assert.InDelta(t, 2.0/3.0, snap.ValidationRate, 0.0001)
	assert.InDelta(t, 4.0, snap.AverageProcessingTime, 0.0001)
}

func TestStats_EmptySnapshot(t *testing.T) {
	s := NewStats()
	defer s.Close()

	snap := s.Snapshot()
	assert.Zero(t, snap.TotalReceived)
	assert.Zero(t, snap.ValidationRate)
	assert.Zero(t, snap.AverageProcessingTime)
}

func TestStats_WindowEvictsOldest(t *testing.T) {
	s := NewStats()
	defer s.Close()

	// Fill past capacity with a known split: the first 500 samples of 100ms
	// must be fully evicted by the 1500 that follow
	for range 500 {
		s.RecordValid(100 * time.Millisecond)
	}
	for range processingWindowSize + 500 {
		s.RecordValid(10 * time.Millisecond)
	}

	assert.Equal(t, processingWindowSize, s.WindowSize())

	snap := s.Snapshot()
	assert.InDelta(t, 10.0, snap.AverageProcessingTime, 0.0001)
	assert.Equal(t, int64(processingWindowSize+1000), snap.TotalReceived)
}

func TestStats_ConcurrentRecording(t *testing.T) {
	s := NewStats()
	defer s.Close()

	const workers = 8
	const perWorker = 250

	var wg sync.WaitGroup
	for w := range workers {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := range perWorker {
				if i%2 == 0 {
					s.RecordValid(time.Millisecond)
				} else {
					s.RecordInvalid(time.Millisecond)
				}
			}
		}(w)
	}
	wg.Wait()

	snap := s.Snapshot()
	assert.Equal(t, int64(workers*perWorker), snap.TotalReceived)
	assert.Equal(t, snap.TotalReceived, snap.ValidCount+snap.InvalidCount)
	assert.Equal(t, int64(workers*perWorker/2), snap.ValidCount)
}
