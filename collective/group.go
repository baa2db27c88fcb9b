package collective

import (
	"context"
	"fmt"
	"math"
	"sync"
)

type opKind int8

const (
	opBarrier opKind = iota
	opReduceMax
)

func (k opKind) String() string {
	if k == opBarrier {
		return "barrier"
	}
	return "reduce_max"
}

// round is one rendezvous of the whole group. All fields are written under
// Group.mu before done is closed; waiters read them only after done.
type round struct {
	kind    opKind
	arrived int
	max     float64
	err     error
	closed  bool
	done    chan struct{}
}

// Group is an in-process collective context: N member handles backed by a
// shared round-based rendezvous. Each collective call joins the current
// round; the last arrival completes it and wakes every member with the
// combined result. A member whose context expires poisons the whole group so
// that no peer is left hanging, matching the fail-fast contract of
// ErrGroupFailure.
type Group struct {
	size     int
	mu       sync.Mutex
	cur      *round
	poisoned bool
}

// NewGroup creates an in-process group of the given size. Sizes below one
// are treated as one.
func NewGroup(size int) *Group {
	if size < 1 {
		size = 1
	}
	return &Group{size: size}
}

// Member returns the Communicator handle for one rank of the group.
func (g *Group) Member(rank int) Communicator {
	return &member{group: g, rank: rank}
}

// Poison marks the group as failed. Any in-flight round is released with
// ErrGroupFailure and every later call fails immediately. Used to model a
// partial-membership crash or network partition.
func (g *Group) Poison() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.poisonLocked(ErrGroupFailure)
}

func (g *Group) poisonLocked(err error) {
	g.poisoned = true
	if r := g.cur; r != nil {
		g.cur = nil
		if r.err == nil {
			r.err = err
		}
		if !r.closed {
			r.closed = true
			close(r.done)
		}
	}
}

// enter joins the current round of the given kind and blocks until the group
// completes it or ctx expires.
func (g *Group) enter(ctx context.Context, kind opKind, local float64) (float64, error) {
	g.mu.Lock()
	if g.poisoned {
		g.mu.Unlock()
		return 0, ErrGroupFailure
	}
	if g.cur == nil {
		g.cur = &round{kind: kind, max: math.Inf(-1), done: make(chan struct{})}
	}
	r := g.cur
	if r.kind != kind {
		err := fmt.Errorf("%w: %s joined a %s round", ErrOutOfOrder, kind, r.kind)
		g.poisonLocked(err)
		g.mu.Unlock()
		return 0, err
	}
	r.arrived++
	if local > r.max {
		r.max = local
	}
	if r.arrived == g.size {
		g.cur = nil
		r.closed = true
		close(r.done)
	}
	g.mu.Unlock()

	select {
	case <-r.done:
		if r.err != nil {
			return 0, r.err
		}
		return r.max, nil
	case <-ctx.Done():
		g.mu.Lock()
		if r.closed && r.err == nil {
			// Round completed just as ctx expired; the result stands.
			g.mu.Unlock()
			return r.max, nil
		}
		if r.err == nil {
			r.err = fmt.Errorf("%w: %s: %v", ErrGroupFailure, kind, ctx.Err())
		}
		if !r.closed {
			r.closed = true
			close(r.done)
		}
		g.poisonLocked(r.err)
		g.mu.Unlock()
		return 0, r.err
	}
}

type member struct {
	group *Group
	rank  int
}

func (m *member) Rank() int    { return m.rank }
func (m *member) Size() int    { return m.group.size }
func (m *member) Active() bool { return true }

func (m *member) Barrier(ctx context.Context) error {
	_, err := m.group.enter(ctx, opBarrier, 0)
	return err
}

func (m *member) ReduceMax(ctx context.Context, local float64) (float64, error) {
	return m.group.enter(ctx, opReduceMax, local)
}

var _ Communicator = (*member)(nil)
