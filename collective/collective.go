// Package collective defines the group-communication primitive consumed by
// the coordinator: a blocking barrier and a group-wide max-reduce shared by
// every rank of a job. The package ships an in-process implementation for
// simulation and tests; network transports (MPI, NCCL, rendezvous services)
// plug in behind the same interface.
package collective

import (
	"context"
	"errors"
)

var (
	// ErrUnavailable reports that no collective context was initialized for
	// this process, e.g. a single-process run. Callers degrade to local-only
	// signal handling.
	ErrUnavailable = errors.New("collective context not initialized")

	// ErrGroupFailure reports that a barrier or reduce failed or timed out
	// mid-run. The group is considered lost; every subsequent call fails
	// fast instead of hanging.
	ErrGroupFailure = errors.New("collective group failure")

	// ErrOutOfOrder reports that members of the group invoked different
	// collective operations in the same round. This is a caller bug, but it
	// poisons the group rather than deadlocking it.
	ErrOutOfOrder = errors.New("collective operations called out of order")
)

// Communicator is the per-rank handle onto the job group. Barrier and
// ReduceMax are collective: every rank must call them the same number of
// times in the same order, and each call blocks until the whole group has
// arrived or ctx expires.
type Communicator interface {
	// Rank returns this process's identity within the group. Rank 0 is the
	// designated leader.
	Rank() int

	// Size returns the number of ranks in the group.
	Size() int

	// Active reports whether the collective context is usable. When false,
	// Barrier and ReduceMax return ErrUnavailable immediately.
	Active() bool

	// Barrier blocks until every rank in the group has arrived.
	Barrier(ctx context.Context) error

	// ReduceMax combines the local value with every other rank's value by
	// taking the maximum, and returns the combined value to every rank.
	ReduceMax(ctx context.Context, local float64) (float64, error)
}

// inactive is the Communicator handed to processes that have no collective
// context. It never blocks.
type inactive struct{}

// Inactive returns a Communicator for a process without a collective
// context: rank 0 of a group of one, with Active reporting false.
func Inactive() Communicator { return inactive{} }

func (inactive) Rank() int    { return 0 }
func (inactive) Size() int    { return 1 }
func (inactive) Active() bool { return false }

func (inactive) Barrier(ctx context.Context) error { return ErrUnavailable }

func (inactive) ReduceMax(ctx context.Context, local float64) (float64, error) {
	return 0, ErrUnavailable
}
