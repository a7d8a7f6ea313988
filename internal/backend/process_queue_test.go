package backend

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"UnShiney/server/internal/errs"
	"UnShiney/server/internal/imageref"
)

type fakeProcessor struct {
	mu    sync.Mutex
	calls int
	gate  map[string]chan struct{}
}

func (f *fakeProcessor) Process(ctx context.Context, image imageref.File, modelType string) (string, error) {
	f.mu.Lock()
	f.calls++
	gate := f.gate[image.Name]
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if image.Name == "broken" {
		return "", errs.ErrServer
	}
	return "processed:" + image.Name + ":" + modelType, nil
}

func TestFence(t *testing.T) {
	var f Fence
	a := f.Next()
	assert.True(t, f.Current(a))
	b := f.Next()
	assert.False(t, f.Current(a))
	assert.True(t, f.Current(b))
}

func TestProcessQueueUsesCache(t *testing.T) {
	proc := &fakeProcessor{}
	cache := NewResultCache(t.TempDir(), 8, 0)
	require.NoError(t, cache.Initialize())

	var published []*ProcessResult
	q := NewProcessQueue(proc, cache, 1, func(r *ProcessResult) { published = append(published, r) })
	q.Start(context.Background())
	defer q.Stop()

	img := imageref.File{Name: "a.png", Data: []byte("abc")}
	res, err := q.Submit(context.Background(), img, "dense")
	require.NoError(t, err)
	assert.Equal(t, "processed:a.png:dense", res.ProcessedImage)
	assert.False(t, res.Cached)

	res, err = q.Submit(context.Background(), img, "dense")
	require.NoError(t, err)
	assert.True(t, res.Cached)
	assert.Equal(t, 1, proc.calls)
	assert.Len(t, published, 2)

	_, err = q.Submit(context.Background(), imageref.File{Name: "broken"}, "dense")
	assert.True(t, errs.Is(err, errs.ErrServer))
	assert.Len(t, published, 2)
}

func TestProcessQueueDropsStaleResults(t *testing.T) {
	slow := make(chan struct{})
	proc := &fakeProcessor{gate: map[string]chan struct{}{"slow.png": slow}}

	var mu sync.Mutex
	var published []string
	q := NewProcessQueue(proc, nil, 2, func(r *ProcessResult) {
		mu.Lock()
		published = append(published, r.ProcessedImage)
		mu.Unlock()
	})
	q.Start(context.Background())
	defer q.Stop()

	slowDone := make(chan *ProcessResult, 1)
	go func() {
		res, _ := q.Submit(context.Background(), imageref.File{Name: "slow.png"}, "dense")
		slowDone <- res
	}()
	require.Eventually(t, func() bool {
		proc.mu.Lock()
		defer proc.mu.Unlock()
		return proc.calls == 1
	}, 2*time.Second, 5*time.Millisecond)

	fast, err := q.Submit(context.Background(), imageref.File{Name: "fast.png"}, "dense")
	require.NoError(t, err)
	assert.False(t, fast.Stale)

	close(slow)
	stale := <-slowDone
	require.NotNil(t, stale)
	assert.True(t, stale.Stale)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"processed:fast.png:dense"}, published)
}

func TestResultCacheEvictsAndReloads(t *testing.T) {
	dir := t.TempDir()
	cache := NewResultCache(dir, 2, time.Hour)
	require.NoError(t, cache.Initialize())

	k1, k2, k3 := CacheKey([]byte("1"), "dense"), CacheKey([]byte("2"), "dense"), CacheKey([]byte("3"), "dense")
	assert.NotEqual(t, k1, CacheKey([]byte("1"), "conv"))

	require.NoError(t, cache.Put(k1, "dense", "one"))
	time.Sleep(2 * time.Millisecond)
	require.NoError(t, cache.Put(k2, "dense", "two"))
	time.Sleep(2 * time.Millisecond)
	require.NoError(t, cache.Put(k3, "dense", "three"))

	_, ok := cache.Get(k1)
	assert.False(t, ok)
	got, ok := cache.Get(k3)
	require.True(t, ok)
	assert.Equal(t, "three", got)
	assert.Equal(t, 2, cache.Stats().TotalEntries)

	reloaded := NewResultCache(dir, 2, time.Hour)
	require.NoError(t, reloaded.Initialize())
	got, ok = reloaded.Get(k2)
	require.True(t, ok)
	assert.Equal(t, "two", got)
}
