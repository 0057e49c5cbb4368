package queue

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_FIFO(t *testing.T) {
	q := New[int]()
	assert.True(t, q.Empty())

	for i := 0; i < 5; i++ {
		q.Push(i)
	}
	assert.Equal(t, 5, q.Len())

	for i := 0; i < 5; i++ {
		v, ok := q.TryPop()
		require.True(t, ok)
		assert.Equal(t, i, v)
	}

	_, ok := q.TryPop()
	assert.False(t, ok)
	assert.True(t, q.Empty())
}

func TestQueue_ZeroValue(t *testing.T) {
	var q Queue[string]
	q.Push("a")
	v, ok := q.TryPop()
	require.True(t, ok)
	assert.Equal(t, "a", v)
}

func TestQueue_CompactionKeepsOrder(t *testing.T) {
	q := New[int]()
	next := 0
	want := 0
	// Interleave pushes and pops so the head crosses the compaction threshold
	// several times.
	for round := 0; round < 20; round++ {
		for i := 0; i < 50; i++ {
			q.Push(next)
			next++
		}
		for i := 0; i < 40; i++ {
			v, ok := q.TryPop()
			require.True(t, ok)
			require.Equal(t, want, v)
			want++
		}
	}
	assert.Equal(t, next-want, q.Len())
	for !q.Empty() {
		v, _ := q.TryPop()
		require.Equal(t, want, v)
		want++
	}
	assert.Equal(t, next, want)
}

func TestQueue_ConcurrentProducers(t *testing.T) {
	q := New[int]()
	const producers, perProducer = 8, 500

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Push(p*perProducer + i)
			}
		}(p)
	}
	wg.Wait()

	seen := make(map[int]bool)
	lastPerProducer := make(map[int]int)
	for {
		v, ok := q.TryPop()
		if !ok {
			break
		}
		seen[v] = true
		p := v / perProducer
		if last, ok := lastPerProducer[p]; ok {
			assert.Greater(t, v, last, "per-producer order must be preserved")
		}
		lastPerProducer[p] = v
	}
	assert.Len(t, seen, producers*perProducer)
}
