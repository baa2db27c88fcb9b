package metrics

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

var collectorNamespaceSeq uint64

func nextTestNamespace() string {
	seq := atomic.AddUint64(&collectorNamespaceSeq, 1)
	return fmt.Sprintf("test_%d", seq)
}

func TestNewCollector(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	assert.NotNil(t, collector)
	assert.NotNil(t, collector.interruptsTotal)
	assert.NotNil(t, collector.reduceTotal)
	assert.NotNil(t, collector.stateTransitions)
	assert.NotNil(t, collector.checkpointsTotal)
}

func TestCollector_RecordInterrupt(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordInterrupt()
	collector.RecordInterrupt()

	assert.Equal(t, 2.0, testutil.ToFloat64(collector.interruptsTotal))
}

func TestCollector_RecordReduce(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordReduce("ok", 5*time.Millisecond)
	collector.RecordReduce("error", 10*time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.reduceTotal.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.reduceTotal.WithLabelValues("error")))
}

func TestCollector_RecordStateTransition(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordStateTransition("running", "save_requested")
	collector.RecordStateTransition("save_requested", "stopped")

	assert.Equal(t, 1.0, testutil.ToFloat64(
		collector.stateTransitions.WithLabelValues("running", "save_requested")))
}

func TestCollector_SetDegraded(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.SetDegraded(true)
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.degradedMode))

	collector.SetDegraded(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(collector.degradedMode))
}

func TestCollector_RecordCheckpointWrite(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordCheckpointWrite("ok", 100*time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.checkpointsTotal.WithLabelValues("ok")))
}
