package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeployTrigger_DebouncesRapidWritesIntoOneDeploy(t *testing.T) {
	dir := t.TempDir()

	var mu sync.Mutex
	var calls int
	var lastBatch []string

	trigger, err := NewDeployTrigger(dir, func(ctx context.Context, changed []string) error {
		mu.Lock()
		calls++
		lastBatch = append([]string(nil), changed...)
		mu.Unlock()
		return nil
	}, &WatcherOptions{DebounceDelay: 50 * time.Millisecond, Recursive: true})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, trigger.Start(ctx))
	defer trigger.Stop()

	pathA := filepath.Join(dir, "a.txt")
	pathB := filepath.Join(dir, "b.txt")
	require.NoError(t, os.WriteFile(pathA, []byte("1"), 0644))
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, os.WriteFile(pathB, []byte("1"), 0644))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls >= 1
	}, 2*time.Second, 20*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.NotEmpty(t, lastBatch)
}

func TestDeployTrigger_SkipsDeletedPaths(t *testing.T) {
	dir := t.TempDir()

	var mu sync.Mutex
	var got []string
	done := make(chan struct{})

	trigger, err := NewDeployTrigger(dir, func(ctx context.Context, changed []string) error {
		mu.Lock()
		got = changed
		mu.Unlock()
		close(done)
		return nil
	}, &WatcherOptions{DebounceDelay: 20 * time.Millisecond, Recursive: true})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, trigger.Start(ctx))
	defer trigger.Stop()

	missing := filepath.Join(dir, "never-existed.txt")
	trigger.batch.Add(missing)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("deploy never ran")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Empty(t, got)
}
