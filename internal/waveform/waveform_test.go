package waveform_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openventio/ventcore/internal/waveform"
)

func sampleAt(i int) waveform.Sample {
	return waveform.Sample{
		Time:    time.Unix(0, int64(i)*int64(time.Millisecond)),
		Channel: "pressure",
		Value:   float64(i),
		Valid:   true,
	}
}

func TestSnapshotKeepsLastNInOrder(t *testing.T) {
	const capacity = 7
	const pushes = 23

	buf := waveform.NewBuffer(capacity)
	for i := 0; i < pushes; i++ {
		buf.Push(sampleAt(i))
	}

	got := buf.Snapshot()
	require.Len(t, got, capacity)

	for i, s := range got {
		want := float64(pushes - capacity + i)
		assert.Equal(t, want, s.Value, "position %d", i)
	}

	// Timestamps must be strictly increasing.
	for i := 1; i < len(got); i++ {
		assert.True(t, got[i].Time.After(got[i-1].Time))
	}

	assert.Equal(t, uint64(pushes-capacity), buf.Dropped())
}

func TestSnapshotBeforeFull(t *testing.T) {
	buf := waveform.NewBuffer(10)
	for i := 0; i < 4; i++ {
		buf.Push(sampleAt(i))
	}

	got := buf.Snapshot()
	require.Len(t, got, 4)
	assert.Equal(t, 0.0, got[0].Value)
	assert.Equal(t, 3.0, got[3].Value)
	assert.Equal(t, 4, buf.Len())
	assert.Equal(t, 10, buf.Capacity())
}

func TestTail(t *testing.T) {
	buf := waveform.NewBuffer(5)

	assert.Nil(t, buf.Tail(3))

	for i := 0; i < 3; i++ {
		buf.Push(sampleAt(i))
	}
	got := buf.Tail(2)
	require.Len(t, got, 2)
	assert.Equal(t, 1.0, got[0].Value)
	assert.Equal(t, 2.0, got[1].Value)

	// Wrap around the ring.
	for i := 3; i < 9; i++ {
		buf.Push(sampleAt(i))
	}
	got = buf.Tail(4)
	require.Len(t, got, 4)
	assert.Equal(t, 5.0, got[0].Value)
	assert.Equal(t, 8.0, got[3].Value)

	// Asking for more than buffered returns everything.
	got = buf.Tail(100)
	require.Len(t, got, 5)
	assert.Equal(t, 4.0, got[0].Value)
}

func TestLatest(t *testing.T) {
	buf := waveform.NewBuffer(3)

	_, ok := buf.Latest()
	assert.False(t, ok)

	for i := 0; i < 5; i++ {
		buf.Push(sampleAt(i))
	}

	s, ok := buf.Latest()
	require.True(t, ok)
	assert.Equal(t, 4.0, s.Value)
}

func TestConcurrentReadersSeeConsistentViews(t *testing.T) {
	const capacity = 64

	buf := waveform.NewBuffer(capacity)
	done := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		i := 0
		for {
			select {
			case <-done:
				return
			default:
				buf.Push(sampleAt(i))
				i++
			}
		}
	}()

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				view := buf.Snapshot()
				for k := 1; k < len(view); k++ {
					// A torn view would show out-of-order values.
					if view[k].Value != view[k-1].Value+1 {
						t.Errorf("out-of-order view: %v after %v", view[k].Value, view[k-1].Value)
						return
					}
				}
			}
		}()
	}

	time.Sleep(20 * time.Millisecond)
	close(done)
	wg.Wait()
}
