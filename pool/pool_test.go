package pool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndexQueueFIFO(t *testing.T) {
	q := NewIndexQueue(4)

	assert.True(t, q.Enqueue(7))
	idx, ok := q.Dequeue()
	require.True(t, ok)
	assert.Equal(t, uint16(7), idx)

	_, ok = q.Dequeue()
	assert.False(t, ok)
}

func TestIndexQueueFullEmpty(t *testing.T) {
	q := NewIndexQueue(2)

	assert.True(t, q.Enqueue(0))
	assert.True(t, q.Enqueue(1))
	assert.False(t, q.Enqueue(2), "enqueue into full queue must fail")
	assert.Equal(t, uint32(2), q.Len())

	idx, ok := q.Dequeue()
	require.True(t, ok)
	assert.Equal(t, uint16(0), idx)

	idx, ok = q.Dequeue()
	require.True(t, ok)
	assert.Equal(t, uint16(1), idx)

	_, ok = q.Dequeue()
	assert.False(t, ok)
	assert.Equal(t, uint32(0), q.Len())
}

//TestIndexQueueCounterWrap head/tail are plain uint32 counters, ordering must
//survive many full drain cycles.
func TestIndexQueueCounterWrap(t *testing.T) {
	q := NewIndexQueue(3)

	for cycle := 0; cycle < 10000; cycle++ {
		for i := uint16(0); i < 3; i++ {
			require.True(t, q.Enqueue(i))
		}
		for i := uint16(0); i < 3; i++ {
			idx, ok := q.Dequeue()
			require.True(t, ok)
			require.Equal(t, i, idx)
		}
	}
}

func TestBufferPoolSlots(t *testing.T) {
	p := NewBufferPool(4, 32)

	assert.Equal(t, uint32(4), p.Count())
	assert.Equal(t, uint32(4), p.Free())
	assert.Equal(t, uint32(32), p.BufferSize())

	s0 := p.Slot(0)
	s1 := p.Slot(1)
	require.Len(t, s0, 32)
	require.Len(t, s1, 32)

	// windows are disjoint
	for i := range s0 {
		s0[i] = 0xAA
	}
	for i := range s1 {
		assert.Equal(t, byte(0), s1[i])
	}
}

//TestBufferPoolConservation every index is either free or held, never both,
//never neither.
func TestBufferPoolConservation(t *testing.T) {
	p := NewBufferPool(8, 16)

	held := make(map[uint16]bool)
	for {
		idx, ok := p.Acquire()
		if !ok {
			break
		}
		require.False(t, held[idx], "index handed out twice")
		held[idx] = true
	}

	assert.Len(t, held, 8)
	assert.Equal(t, uint32(0), p.Free())

	for idx := range held {
		p.Release(idx)
	}
	assert.Equal(t, uint32(8), p.Free())
}

//TestBufferPoolRecycleOrder releasing then acquiring once yields the same
//index while no other releases intervene.
func TestBufferPoolRecycleOrder(t *testing.T) {
	p := NewBufferPool(2, 16)

	a, ok := p.Acquire()
	require.True(t, ok)
	b, ok := p.Acquire()
	require.True(t, ok)
	_, ok = p.Acquire()
	require.False(t, ok)

	p.Release(b)
	got, ok := p.Acquire()
	require.True(t, ok)
	assert.Equal(t, b, got)

	p.Release(a)
	got, ok = p.Acquire()
	require.True(t, ok)
	assert.Equal(t, a, got)
}
