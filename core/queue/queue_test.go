package queue

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_Empty(t *testing.T) {
	q := New[string]()
	_, ok := q.Pop()
	assert.False(t, ok)
	assert.Nil(t, q.Drain())
	assert.Zero(t, q.Len())
}

func TestQueue_FIFO(t *testing.T) {
	q := New[int]()
	for i := range 5 {
		q.Push(i)
	}
	require.Equal(t, 5, q.Len())

	for want := range 5 {
		got, ok := q.Pop()
		require.True(t, ok)
		assert.Equal(t, want, got)
	}
	assert.Zero(t, q.Len())
}

func TestQueue_Drain(t *testing.T) {
	q := New[string]()
	q.Push("a")
	q.Push("b")
	q.Push("c")

	assert.Equal(t, []string{"a", "b", "c"}, q.Drain())
	assert.Zero(t, q.Len())
	assert.Nil(t, q.Drain())
}

func TestQueue_WaitTimeout(t *testing.T) {
	q := New[int]()
	start := time.Now()
	_, ok := q.Wait(20*time.Millisecond, nil)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestQueue_WaitReceivesPush(t *testing.T) {
	q := New[int]()
	go func() {
		time.Sleep(10 * time.Millisecond)
		q.Push(42)
	}()

	got, ok := q.Wait(time.Second, nil)
	require.True(t, ok)
	assert.Equal(t, 42, got)
}

func TestQueue_WaitDone(t *testing.T) {
	q := New[int]()
	done := make(chan struct{})
	close(done)

	start := time.Now()
	_, ok := q.Wait(time.Second, done)
	assert.False(t, ok)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestQueue_ConcurrentProducers(t *testing.T) {
	q := New[int]()
	const producers, perProducer = 8, 200

	var wg sync.WaitGroup
	for p := range producers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perProducer {
				q.Push(p*perProducer + i)
			}
		}()
	}
	wg.Wait()

	items := q.Drain()
	require.Len(t, items, producers*perProducer)

	// Each producer's items keep their relative order.
	last := make(map[int]int)
	for _, v := range items {
		p := v / perProducer
		if prev, seen := last[p]; seen {
			assert.Greater(t, v, prev)
		}
		last[p] = v
	}
}
