package buffer

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircularBufferBasicOperations(t *testing.T) {
	buf, err := NewCircularBuffer[string](3)
	require.NoError(t, err, "Failed to create buffer")
	defer buf.Close()

	require.NoError(t, buf.Write("first"))
	assert.Equal(t, 1, buf.Size())

	require.NoError(t, buf.Write("second"))
	require.NoError(t, buf.Write("third"))

	assert.True(t, buf.IsFull())
	assert.False(t, buf.IsEmpty())
	assert.Equal(t, 3, buf.Capacity())

	item, ok := buf.Read()
	assert.True(t, ok)
	assert.Equal(t, "first", item)
	assert.Equal(t, 2, buf.Size())

	item, ok = buf.Read()
	assert.True(t, ok)
	assert.Equal(t, "second", item)

	item, ok = buf.Read()
	assert.True(t, ok)
	assert.Equal(t, "third", item)

	_, ok = buf.Read()
	assert.False(t, ok, "read from empty buffer should fail")
	assert.True(t, buf.IsEmpty())
}

func TestCircularBufferDropOldest(t *testing.T) {
	var dropped []int
	buf, err := NewCircularBuffer[int](3,
		WithOverflowPolicy[int](DropOldest),
		WithDropCallback[int](func(item int) { dropped = append(dropped, item) }),
	)
	require.NoError(t, err)
	defer buf.Close()

	for i := 1; i <= 5; i++ {
		require.NoError(t, buf.Write(i))
	}

	// 1 and 2 evicted, window holds 3,4,5
	assert.Equal(t, []int{1, 2}, dropped)
	assert.Equal(t, []int{3, 4, 5}, buf.Snapshot())
	assert.Equal(t, int64(2), buf.Stats().Drops())
	assert.Equal(t, int64(2), buf.Stats().Overflows())
}

func TestCircularBufferDropNewest(t *testing.T) {
	buf, err := NewCircularBuffer[int](2, WithOverflowPolicy[int](DropNewest))
	require.NoError(t, err)
	defer buf.Close()

	require.NoError(t, buf.Write(1))
	require.NoError(t, buf.Write(2))
	require.NoError(t, buf.Write(3)) // dropped

	assert.Equal(t, []int{1, 2}, buf.Snapshot())
	assert.Equal(t, int64(1), buf.Stats().Drops())
}

func TestCircularBufferBlock(t *testing.T) {
	buf, err := NewCircularBuffer[int](1, WithOverflowPolicy[int](Block))
	require.NoError(t, err)

	require.NoError(t, buf.Write(1))

	var wg sync.WaitGroup
	wg.Add(1)
	writeDone := make(chan struct{})
	go func() {
		defer wg.Done()
		_ = buf.Write(2) // blocks until a read frees space
		close(writeDone)
	}()

	select {
	case <-writeDone:
		t.Fatal("write should block while buffer is full")
	case <-time.After(50 * time.Millisecond):
	}

	item, ok := buf.Read()
	require.True(t, ok)
	assert.Equal(t, 1, item)

	select {
	case <-writeDone:
	case <-time.After(time.Second):
		t.Fatal("blocked write did not complete after space freed")
	}
	wg.Wait()

	require.NoError(t, buf.Close())
}

func TestCircularBufferCloseUnblocksWriter(t *testing.T) {
	buf, err := NewCircularBuffer[int](1, WithOverflowPolicy[int](Block))
	require.NoError(t, err)

	require.NoError(t, buf.Write(1))

	errCh := make(chan error, 1)
	go func() {
		errCh <- buf.Write(2)
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, buf.Close())

	select {
	case err := <-errCh:
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("close did not unblock writer")
	}
}

func TestCircularBufferWriteAfterClose(t *testing.T) {
	buf, err := NewCircularBuffer[int](2)
	require.NoError(t, err)
	require.NoError(t, buf.Close())

	assert.Error(t, buf.Write(1))
}

func TestCircularBufferReadBatch(t *testing.T) {
	buf, err := NewCircularBuffer[int](10)
	require.NoError(t, err)
	defer buf.Close()

	for i := 0; i < 5; i++ {
		require.NoError(t, buf.Write(i))
	}

	batch := buf.ReadBatch(3)
	assert.Equal(t, []int{0, 1, 2}, batch)
	assert.Equal(t, 2, buf.Size())

	// Batch larger than contents drains the buffer
	batch = buf.ReadBatch(10)
	assert.Equal(t, []int{3, 4}, batch)
	assert.True(t, buf.IsEmpty())

	assert.Nil(t, buf.ReadBatch(3))
	assert.Nil(t, buf.ReadBatch(0))
}

func TestCircularBufferSnapshotWraparound(t *testing.T) {
	buf, err := NewCircularBuffer[int](4)
	require.NoError(t, err)
	defer buf.Close()

	for i := 1; i <= 4; i++ {
		require.NoError(t, buf.Write(i))
	}
	_, _ = buf.Read()
	_, _ = buf.Read()
	require.NoError(t, buf.Write(5))
	require.NoError(t, buf.Write(6))

	// Internal head has wrapped; snapshot must stay oldest-first
	assert.Equal(t, []int{3, 4, 5, 6}, buf.Snapshot())
	assert.Equal(t, 4, buf.Size(), "snapshot must not consume items")
}

func TestCircularBufferClear(t *testing.T) {
	buf, err := NewCircularBuffer[int](5)
	require.NoError(t, err)
	defer buf.Close()

	for i := 0; i < 3; i++ {
		require.NoError(t, buf.Write(i))
	}

	buf.Clear()
	assert.True(t, buf.IsEmpty())
	assert.Nil(t, buf.Snapshot())
	assert.Equal(t, int64(0), buf.Stats().CurrentSize())
}

func TestCircularBufferMinimumCapacity(t *testing.T) {
	buf, err := NewCircularBuffer[int](0)
	require.NoError(t, err)
	defer buf.Close()

	assert.Equal(t, 1, buf.Capacity())
}

func TestCircularBufferConcurrentAccess(t *testing.T) {
	buf, err := NewCircularBuffer[int](100)
	require.NoError(t, err)
	defer buf.Close()

	var wg sync.WaitGroup
	writers := 4
	perWriter := 250

	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				_ = buf.Write(base + i)
			}
		}(w * perWriter)
	}

	wg.Wait()

	stats := buf.Stats()
	assert.Equal(t, int64(writers*perWriter), stats.Writes())
	assert.Equal(t, 100, buf.Size(), "DropOldest keeps buffer at capacity")
	assert.Equal(t, int64(writers*perWriter-100), stats.Drops())
}

func TestStatisticsSummary(t *testing.T) {
	buf, err := NewCircularBuffer[int](2)
	require.NoError(t, err)
	defer buf.Close()

	require.NoError(t, buf.Write(1))
	require.NoError(t, buf.Write(2))
	require.NoError(t, buf.Write(3)) // evicts 1
	_, _ = buf.Read()

	summary := buf.Stats().Summary()
	assert.Equal(t, int64(3), summary.Writes)
	assert.Equal(t, int64(1), summary.Reads)
	assert.Equal(t, int64(1), summary.Drops)
	assert.Equal(t, int64(2), summary.MaxSize)
	assert.InDelta(t, 1.0/3.0, summary.DropRate, 1e-9)
}
