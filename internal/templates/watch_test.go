package templates

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type countingReloader struct {
	calls atomic.Int64
}

func (c *countingReloader) Reload() error {
	c.calls.Add(1)
	return nil
}

func TestWatcherReloadsAfterEdit(t *testing.T) {
	dir := t.TempDir()
	reloader := &countingReloader{}

	w, err := NewWatcher(dir, reloader, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	fragment := filepath.Join(dir, "entry-card.html")
	require.NoError(t, os.WriteFile(fragment, []byte(`<article>{{.Title}}</article>`), 0o644))

	require.Eventually(t, func() bool {
		return reloader.calls.Load() >= 1
	}, 5*time.Second, 50*time.Millisecond, "reload never fired after fragment write")
}

func TestWatcherIgnoresOtherExtensions(t *testing.T) {
	dir := t.TempDir()
	reloader := &countingReloader{}

	w, err := NewWatcher(dir, reloader, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("scratch"), 0o644))

	time.Sleep(600 * time.Millisecond)
	require.Zero(t, reloader.calls.Load())
}

func TestWatcherDebouncesBursts(t *testing.T) {
	dir := t.TempDir()
	reloader := &countingReloader{}

	w, err := NewWatcher(dir, reloader, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	fragment := filepath.Join(dir, "result-item.html")
	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(fragment, []byte(`<li>{{.Label}}</li>`), 0o644))
		time.Sleep(20 * time.Millisecond)
	}

	require.Eventually(t, func() bool {
		return w.Reloads() >= 1
	}, 5*time.Second, 50*time.Millisecond)

	// The burst settled well inside one debounce window, so a single
	// reload covers it.
	time.Sleep(600 * time.Millisecond)
	require.EqualValues(t, 1, w.Reloads())
	require.EqualValues(t, 1, reloader.calls.Load())
}

func TestNewWatcherValidatesArguments(t *testing.T) {
	_, err := NewWatcher("", &countingReloader{}, nil)
	require.Error(t, err)

	_, err = NewWatcher(t.TempDir(), nil, nil)
	require.Error(t, err)
}
