package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amanrag/internal/corpus"
	"github.com/Aman-CERP/amanrag/internal/logging"
)

func publish(t *testing.T, dir string, gen int64) {
	t.Helper()
	path := corpus.GenerationPath(dir)
	tmp := path + ".tmp"
	require.NoError(t, os.WriteFile(tmp, []byte(strconv.FormatInt(gen, 10)), 0644))
	require.NoError(t, os.Rename(tmp, path))
}

func waitGeneration(t *testing.T, w *GenerationWatcher) int64 {
	t.Helper()
	select {
	case gen, ok := <-w.Events():
		require.True(t, ok, "events closed")
		return gen
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for generation")
		return 0
	}
}

func TestGenerationWatcher(t *testing.T) {
	for _, polling := range []bool{false, true} {
		name := "fsnotify"
		if polling {
			name = "polling"
		}
		t.Run(name, func(t *testing.T) {
			// Given: a data dir at generation 1 and a running watcher
			dir := t.TempDir()
			publish(t, dir, 1)
			w := New(dir, Options{
				DebounceWindow: 20 * time.Millisecond,
				PollInterval:   20 * time.Millisecond,
				ForcePolling:   polling,
			}, logging.Discard())

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			done := make(chan error, 1)
			go func() { done <- w.Start(ctx) }()
			time.Sleep(50 * time.Millisecond)

			// When: a load publishes generation 2
			publish(t, dir, 2)

			// Then: 2 is reported, not the baseline
			assert.Equal(t, int64(2), waitGeneration(t, w))
			assert.Equal(t, polling, w.Polling())

			cancel()
			select {
			case err := <-done:
				assert.ErrorIs(t, err, context.Canceled)
			case <-time.After(5 * time.Second):
				t.Fatal("watcher did not stop")
			}
			_, ok := <-w.Events()
			assert.False(t, ok, "Events is closed after stop")
		})
	}
}

func TestGenerationWatcher_IgnoresOlderGeneration(t *testing.T) {
	dir := t.TempDir()
	publish(t, dir, 5)
	w := New(dir, Options{PollInterval: 10 * time.Millisecond, ForcePolling: true}, logging.Discard())

	publish(t, dir, 3)
	w.check()

	select {
	case gen := <-w.Events():
		t.Fatalf("unexpected generation %d", gen)
	default:
	}
	w.Stop()
}

func TestGenerationWatcher_KeepsLatestForSlowReader(t *testing.T) {
	dir := t.TempDir()
	w := New(dir, DefaultOptions(), logging.Discard())
	defer w.Stop()

	publish(t, dir, 1)
	w.check()
	publish(t, dir, 2)
	w.check()

	assert.Equal(t, int64(2), <-w.Events())
}

func TestGenerationWatcher_StartAfterStop(t *testing.T) {
	w := New(t.TempDir(), DefaultOptions(), logging.Discard())
	w.Stop()
	w.Stop()
	assert.ErrorIs(t, w.Start(context.Background()), ErrStopped)
}

func TestGenerationWatcher_StartFailureClosesEvents(t *testing.T) {
	// Given: a data dir below a regular file, so it cannot be created
	file := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(file, nil, 0644))
	w := New(filepath.Join(file, "data"), DefaultOptions(), logging.Discard())

	// When: starting
	err := w.Start(context.Background())

	// Then: Start fails and a reader ranging over Events is released
	require.Error(t, err)
	select {
	case _, ok := <-w.Events():
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("events not closed")
	}
	assert.ErrorIs(t, w.Start(context.Background()), ErrStopped)
}

func TestDebouncer_Coalesces(t *testing.T) {
	var calls atomic.Int32
	d := newDebouncer(30*time.Millisecond, func() { calls.Add(1) })
	defer d.Stop()

	for i := 0; i < 5; i++ {
		d.Trigger()
		time.Sleep(5 * time.Millisecond)
	}

	assert.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 10*time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
}

func TestDebouncer_StopCancels(t *testing.T) {
	var calls atomic.Int32
	d := newDebouncer(20*time.Millisecond, func() { calls.Add(1) })
	d.Trigger()
	d.Stop()
	d.Trigger()

	time.Sleep(60 * time.Millisecond)
	assert.Zero(t, calls.Load())
}

func TestOptionsWithDefaults(t *testing.T) {
	o := Options{}.WithDefaults()
	assert.Equal(t, DefaultOptions().DebounceWindow, o.DebounceWindow)
	assert.Equal(t, DefaultOptions().PollInterval, o.PollInterval)
	assert.Equal(t, "generation", filepath.Base(corpus.GenerationPath("x")))
}
