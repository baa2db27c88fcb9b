package collective

import (
	"math"
	"sync/atomic"
)

// Cell is the per-rank consensus scalar. It holds a single float64 in the
// domain {0, 1}: zero at job start, one once the local process has observed a
// termination request. It is the only value ever reduced across the group.
//
// Mark is safe to call from the interrupt delivery path: it performs exactly
// one atomic store, no allocation, no locking. Repeated Marks are no-ops.
type Cell struct {
	bits atomic.Uint64
}

// NewCell allocates a cell initialized to zero.
func NewCell() *Cell {
	return &Cell{}
}

// Mark sets the cell to one.
func (c *Cell) Mark() {
	c.bits.Store(math.Float64bits(1))
}

// Value returns the current scalar, 0 or 1.
func (c *Cell) Value() float64 {
	return math.Float64frombits(c.bits.Load())
}

// Signaled reports whether the cell has been marked.
func (c *Cell) Signaled() bool {
	return c.Value() >= 1
}
