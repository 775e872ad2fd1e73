package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type wfKey struct{ project, name string }

func (k wfKey) String() string { return k.project + "/" + k.name }

// --- ParseISODuration ---

func TestParseISODuration(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"PT5M", 5 * time.Minute},
		{"PT1H30M", 90 * time.Minute},
		{"P1DT12H", 36 * time.Hour},
		{"PT0.5S", 500 * time.Millisecond},
		{"PT90S", 90 * time.Second},
		{"P2D", 48 * time.Hour},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseISODuration(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseISODuration_Invalid(t *testing.T) {
	for _, in := range []string{"", "P", "PT", "P1DT", "5m", "P1Y", "P1W", "PT-5M", "PT0S", "pt5m",
		"PT9999999999999H", "P106752D"} {
		t.Run(in, func(t *testing.T) {
			_, err := ParseISODuration(in)
			assert.Error(t, err)
		})
	}
}

// --- ResultCache ---

func TestResultCache_SingleLoadUnderConcurrency(t *testing.T) {
	var loads atomic.Int32
	release := make(chan struct{})

	c := NewResultCache[wfKey, string](time.Minute, func(_ context.Context, k wfKey) (string, error) {
		loads.Add(1)
		<-release
		return "compiled:" + k.name, nil
	})

	const callers = 32
	var wg sync.WaitGroup
	results := make([]string, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := c.GetOrLoad(context.Background(), wfKey{"p", "enrichment"})
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}

	// Give every caller time to block on the in-flight load.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), loads.Load())
	for _, r := range results {
		assert.Equal(t, "compiled:enrichment", r)
	}

	v, ok := c.Peek(wfKey{"p", "enrichment"})
	require.True(t, ok)
	assert.Equal(t, "compiled:enrichment", v)
}

func TestResultCache_DistinctKeysLoadIndependently(t *testing.T) {
	var loads atomic.Int32
	c := NewResultCache[wfKey, string](time.Minute, func(_ context.Context, k wfKey) (string, error) {
		loads.Add(1)
		return k.String(), nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := c.GetOrLoad(context.Background(), wfKey{"p", fmt.Sprintf("wf-%d", i)})
			assert.NoError(t, err)
			assert.Equal(t, fmt.Sprintf("p/wf-%d", i), v)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(4), loads.Load())
}

func TestResultCache_ExpiryTriggersReload(t *testing.T) {
	var loads atomic.Int32
	c := NewResultCache[wfKey, int32](100*time.Millisecond, func(_ context.Context, _ wfKey) (int32, error) {
		return loads.Add(1), nil
	})

	ctx := context.Background()
	key := wfKey{"", "wf"}

	v, err := c.GetOrLoad(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int32(1), v)

	v, _ = c.GetOrLoad(ctx, key)
	assert.Equal(t, int32(1), v, "still live before ttl")

	time.Sleep(150 * time.Millisecond)
	v, _ = c.GetOrLoad(ctx, key)
	assert.Equal(t, int32(2), v, "reloaded after ttl")

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(2), stats.Misses)
	assert.Equal(t, int64(2), stats.Loads)
}

func TestResultCache_CancelledCallerLeavesSharedLoadRunning(t *testing.T) {
	var loads atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	c := NewResultCache[wfKey, string](time.Minute, func(ctx context.Context, k wfKey) (string, error) {
		loads.Add(1)
		close(started)
		<-release
		if err := ctx.Err(); err != nil {
			return "", err
		}
		return "compiled:" + k.name, nil
	})
	key := wfKey{"p", "wf"}

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := c.GetOrLoad(ctx, key)
		first <- err
	}()
	<-started

	waiter := make(chan string, 1)
	go func() {
		v, err := c.GetOrLoad(context.Background(), key)
		assert.NoError(t, err)
		waiter <- v
	}()
	// Let the second caller join the in-flight load.
	time.Sleep(50 * time.Millisecond)

	cancel()
	require.ErrorIs(t, <-first, context.Canceled)

	close(release)
	assert.Equal(t, "compiled:wf", <-waiter)
	assert.Equal(t, int32(1), loads.Load())

	v, ok := c.Peek(key)
	require.True(t, ok)
	assert.Equal(t, "compiled:wf", v)
}

func TestResultCache_ErrorsAreNotCached(t *testing.T) {
	var calls atomic.Int32
	boom := errors.New("store unavailable")
	c := NewResultCache[wfKey, string](time.Minute, func(_ context.Context, _ wfKey) (string, error) {
		if calls.Add(1) == 1 {
			return "", boom
		}
		return "ok", nil
	})

	_, err := c.GetOrLoad(context.Background(), wfKey{"", "wf"})
	require.ErrorIs(t, err, boom)

	v, err := c.GetOrLoad(context.Background(), wfKey{"", "wf"})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, int64(1), c.Stats().Errors)
}
