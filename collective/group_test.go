package collective

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestGroupReduceMax(t *testing.T) {
	group := NewGroup(4)
	ctx := context.Background()

	locals := []float64{0, 0, 1, 0}
	results := make([]float64, 4)

	var eg errgroup.Group
	for rank := 0; rank < 4; rank++ {
		rank := rank
		eg.Go(func() error {
			v, err := group.Member(rank).ReduceMax(ctx, locals[rank])
			results[rank] = v
			return err
		})
	}
	require.NoError(t, eg.Wait())

	for rank, v := range results {
		assert.Equal(t, 1.0, v, "rank %d should see the group maximum", rank)
	}
}

func TestGroupReduceMaxAllZero(t *testing.T) {
	group := NewGroup(3)
	ctx := context.Background()

	var eg errgroup.Group
	for rank := 0; rank < 3; rank++ {
		rank := rank
		eg.Go(func() error {
			v, err := group.Member(rank).ReduceMax(ctx, 0)
			if err != nil {
				return err
			}
			assert.Equal(t, 0.0, v)
			return nil
		})
	}
	require.NoError(t, eg.Wait())
}

func TestGroupBarrier(t *testing.T) {
	group := NewGroup(3)
	ctx := context.Background()

	arrived := make(chan int, 3)
	var eg errgroup.Group
	for rank := 0; rank < 3; rank++ {
		rank := rank
		eg.Go(func() error {
			if err := group.Member(rank).Barrier(ctx); err != nil {
				return err
			}
			arrived <- rank
			return nil
		})
	}
	require.NoError(t, eg.Wait())
	assert.Len(t, arrived, 3)
}

func TestGroupSizeOne(t *testing.T) {
	group := NewGroup(1)
	m := group.Member(0)
	ctx := context.Background()

	require.NoError(t, m.Barrier(ctx))

	v, err := m.ReduceMax(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1.0, v)
	assert.True(t, m.Active())
	assert.Equal(t, 0, m.Rank())
	assert.Equal(t, 1, m.Size())
}

func TestGroupTimeoutPoisonsGroup(t *testing.T) {
	// Only one of two ranks arrives; its context expires and the whole group
	// must fail fast rather than hang.
	group := NewGroup(2)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := group.Member(0).ReduceMax(ctx, 0)
	require.ErrorIs(t, err, ErrGroupFailure)

	// The straggler arriving later must not block either.
	_, err = group.Member(1).ReduceMax(context.Background(), 0)
	assert.ErrorIs(t, err, ErrGroupFailure)
}

func TestGroupPoisonReleasesWaiters(t *testing.T) {
	group := NewGroup(3)

	errs := make(chan error, 2)
	for rank := 0; rank < 2; rank++ {
		rank := rank
		go func() {
			err := group.Member(rank).Barrier(context.Background())
			errs <- err
		}()
	}

	// Give both waiters time to join the round, then kill the group.
	time.Sleep(20 * time.Millisecond)
	group.Poison()

	for i := 0; i < 2; i++ {
		select {
		case err := <-errs:
			assert.ErrorIs(t, err, ErrGroupFailure)
		case <-time.After(time.Second):
			t.Fatal("waiter was not released after Poison")
		}
	}
}

func TestGroupOutOfOrderCalls(t *testing.T) {
	group := NewGroup(2)

	done := make(chan error, 1)
	go func() {
		err := group.Member(0).Barrier(context.Background())
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)

	// Rank 1 joins with a different operation: caller bug, surfaced as a
	// poisoned group instead of a deadlock.
	_, err := group.Member(1).ReduceMax(context.Background(), 0)
	require.ErrorIs(t, err, ErrOutOfOrder)

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("barrier waiter was not released")
	}
}

func TestInactiveCommunicator(t *testing.T) {
	comm := Inactive()
	assert.False(t, comm.Active())
	assert.Equal(t, 0, comm.Rank())
	assert.Equal(t, 1, comm.Size())

	err := comm.Barrier(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = comm.ReduceMax(context.Background(), 1)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestCell(t *testing.T) {
	cell := NewCell()
	assert.Equal(t, 0.0, cell.Value())
	assert.False(t, cell.Signaled())

	cell.Mark()
	assert.Equal(t, 1.0, cell.Value())
	assert.True(t, cell.Signaled())

	// Marking again changes nothing.
	cell.Mark()
	assert.Equal(t, 1.0, cell.Value())
}
