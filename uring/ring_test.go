//go:build linux

package uring

import (
	"errors"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateRing(t *testing.T) {
	r, err := New(64)
	require.NoError(t, err)

	assert.NotEqual(t, 0, r.Fd())

	err = r.Close()
	require.NoError(t, err)
}

func queueNOPs(r *Ring, count int, offset int) (err error) {
	for i := 0; i < count; i++ {
		err = r.QueueSQE(Nop(), 0, uint64(i+offset))
		if err != nil {
			return err
		}
	}
	_, err = r.Submit()
	return err
}

//TestCQRingReady test CQ ready count bookkeeping.
func TestCQRingReady(t *testing.T) {
	ring, err := New(4)
	require.NoError(t, err)
	defer ring.Close()

	assert.Equal(t, uint32(0), ring.cqReady())

	require.NoError(t, queueNOPs(ring, 4, 0))
	_, err = ring.SubmitAndWait(4)
	require.NoError(t, err)
	assert.Equal(t, uint32(4), ring.cqReady())
	ring.AdvanceCQ(4)

	assert.Equal(t, uint32(0), ring.cqReady())

	require.NoError(t, queueNOPs(ring, 4, 0))
	_, err = ring.SubmitAndWait(4)
	require.NoError(t, err)
	assert.Equal(t, uint32(4), ring.cqReady())

	ring.AdvanceCQ(1)
	assert.Equal(t, uint32(3), ring.cqReady())

	ring.AdvanceCQ(2)
	assert.Equal(t, uint32(1), ring.cqReady())

	ring.AdvanceCQ(1)
	assert.Equal(t, uint32(0), ring.cqReady())
}

func fillNOPs(r *Ring) (filled int) {
	for {
		if err := r.QueueSQE(Nop(), 0, 0); errors.Is(err, ErrSQRingOverflow) {
			break
		}
		filled++
	}
	return filled
}

//TestSQRingOverflow reserving past the ring size must fail without losing entries.
func TestSQRingOverflow(t *testing.T) {
	ring, err := New(4)
	require.NoError(t, err)
	defer ring.Close()

	filled := fillNOPs(ring)
	assert.Equal(t, 4, filled)

	_, err = ring.NextSQE()
	assert.ErrorIs(t, err, ErrSQRingOverflow)

	_, err = ring.SubmitAndWait(uint32(filled))
	require.NoError(t, err)
	ring.AdvanceCQ(uint32(filled))

	// drained ring accepts a full batch again
	assert.Equal(t, 4, fillNOPs(ring))
	_, err = ring.SubmitAndWait(4)
	require.NoError(t, err)
	ring.AdvanceCQ(4)
}

//TestRingNopManyCycles exercise repeated fill/submit cycles: aggregate backlog
//stays within sq_entries, no SQE may be lost and none duplicated.
func TestRingNopManyCycles(t *testing.T) {
	ring, err := New(8)
	require.NoError(t, err)
	defer ring.Close()

	cqeBuff := make([]*CQEvent, 16)

	var completed int
	const cycles = 1024
	for c := 0; c < cycles; c++ {
		require.NoError(t, queueNOPs(ring, 8, c*8))

		_, err = ring.SubmitAndWait(8)
		require.NoError(t, err)

		n := ring.PeekCQEventBatch(cqeBuff)
		for i := 0; i < n; i++ {
			assert.Equal(t, uint64(completed+i), cqeBuff[i].UserData)
		}
		completed += n
		ring.AdvanceCQ(uint32(n))
	}

	assert.Equal(t, cycles*8, completed)
}

//TestCQPeekBatch test CQ peek-batch.
func TestCQPeekBatch(t *testing.T) {
	ring, err := New(4)
	require.NoError(t, err)
	defer ring.Close()

	cqeBuff := make([]*CQEvent, 128)

	cnt := ring.PeekCQEventBatch(cqeBuff)
	assert.Equal(t, 0, cnt)

	require.NoError(t, queueNOPs(ring, 4, 0))
	_, err = ring.SubmitAndWait(4)
	require.NoError(t, err)

	cnt = ring.PeekCQEventBatch(cqeBuff)
	assert.Equal(t, 4, cnt)
	for i := 0; i < 4; i++ {
		assert.Equal(t, uint64(i), cqeBuff[i].UserData)
	}

	require.NoError(t, queueNOPs(ring, 4, 4))
	_, err = ring.SubmitAndWait(4)
	require.NoError(t, err)

	ring.AdvanceCQ(4)
	cnt = ring.PeekCQEventBatch(cqeBuff)
	assert.Equal(t, 4, cnt)
	for i := 0; i < 4; i++ {
		assert.Equal(t, uint64(i+4), cqeBuff[i].UserData)
	}

	ring.AdvanceCQ(4)
}

func TestCQEventError(t *testing.T) {
	cqe := CQEvent{Res: -int32(syscall.EBADF)}
	assert.ErrorIs(t, cqe.Error(), syscall.EBADF)

	cqe = CQEvent{Res: 10}
	assert.NoError(t, cqe.Error())
}
