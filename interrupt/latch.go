// Package interrupt converts one OS-level termination request per process
// into a race-free in-process flag. All real handling is deferred to the
// next step boundary of the owning loop; the delivery path performs nothing
// but two pre-wired atomic writes.
package interrupt

import (
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"

	"go.uber.org/zap"

	"github.com/BaSui01/preemptflow/collective"
)

// DefaultSignals are the termination-request signals latched when Install is
// called without arguments.
var DefaultSignals = []os.Signal{syscall.SIGTERM}

// Latch captures the first termination request delivered to this process.
// The flag write and the consensus-cell write are the only effects of
// delivery; nothing is observable outside the process until the next
// collective reduce. Repeated deliveries are no-ops.
type Latch struct {
	triggered atomic.Bool
	stopped   atomic.Bool
	cell      atomic.Pointer[collective.Cell]

	installOnce sync.Once
	stopOnce    sync.Once
	ch          chan os.Signal
	done        chan struct{}
	logger      *zap.Logger
}

// New creates an uninstalled latch.
func New(logger *zap.Logger) *Latch {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Latch{
		done:   make(chan struct{}),
		logger: logger.With(zap.String("component", "interrupt")),
	}
}

// Bind pre-registers the consensus cell so delivery can mark it without
// allocating. Bind before Install; binding after a trigger marks the cell
// immediately so the signal is not lost.
func (l *Latch) Bind(cell *collective.Cell) {
	l.cell.Store(cell)
	if l.triggered.Load() && cell != nil {
		cell.Mark()
	}
}

// Install registers the signal handler. It is idempotent: only the first
// call has any effect, and a stopped latch never installs. With no
// arguments DefaultSignals are used.
func (l *Latch) Install(signals ...os.Signal) {
	l.installOnce.Do(func() {
		if l.stopped.Load() {
			return
		}
		if len(signals) == 0 {
			signals = DefaultSignals
		}
		l.ch = make(chan os.Signal, 1)
		signal.Notify(l.ch, signals...)
		go l.deliver()
		l.logger.Debug("interrupt latch installed")
	})
}

// deliver runs for the lifetime of the latch and performs only the latch
// writes per delivery.
func (l *Latch) deliver() {
	for {
		select {
		case <-l.ch:
			l.Trigger()
		case <-l.done:
			return
		}
	}
}

// Trigger latches a termination request as if a signal had been delivered.
// Safe to call concurrently and repeatedly.
func (l *Latch) Trigger() {
	if l.triggered.Swap(true) {
		return
	}
	if cell := l.cell.Load(); cell != nil {
		cell.Mark()
	}
}

// Triggered reports whether a termination request has been latched.
func (l *Latch) Triggered() bool {
	return l.triggered.Load()
}

// Stop unregisters the handler and releases the delivery goroutine.
// Idempotent; the latched flag survives Stop.
func (l *Latch) Stop() {
	l.stopOnce.Do(func() {
		l.stopped.Store(true)
		if l.ch != nil {
			signal.Stop(l.ch)
		}
		close(l.done)
	})
}
