package interrupt

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestFileWatcherTriggersOnMarker(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "preempt.marker")
	latch := New(zap.NewNop())

	w, err := NewFileWatcher(marker, latch, zap.NewNop(), WithPollInterval(5*time.Millisecond))
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	assert.False(t, latch.Triggered())

	require.NoError(t, os.WriteFile(marker, nil, 0o644))

	require.Eventually(t, latch.Triggered, time.Second, 5*time.Millisecond,
		"marker creation must latch a termination request")
}

func TestFileWatcherPreexistingMarker(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "preempt.marker")
	require.NoError(t, os.WriteFile(marker, nil, 0o644))

	latch := New(zap.NewNop())
	w, err := NewFileWatcher(marker, latch, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	require.Eventually(t, latch.Triggered, time.Second, 5*time.Millisecond)
}

func TestFileWatcherDoubleStart(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "preempt.marker")
	latch := New(zap.NewNop())

	w, err := NewFileWatcher(marker, latch, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	assert.Error(t, w.Start(context.Background()))
	assert.True(t, w.IsRunning())
}

func TestFileWatcherStopIdempotent(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "preempt.marker")
	latch := New(zap.NewNop())

	w, err := NewFileWatcher(marker, latch, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))

	w.Stop()
	w.Stop()
	assert.False(t, w.IsRunning())
}
