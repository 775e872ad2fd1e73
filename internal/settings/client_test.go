package settings

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/docflow/pkg/schema"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// settingsServer fakes the settings service. values maps setting name to value;
// names missing from values return 404.
type settingsServer struct {
	*httptest.Server
	mu       sync.Mutex
	values   map[string]string
	calls    atomic.Int32
	lastURL  atomic.Value
	status   atomic.Int32
	noCaches atomic.Int32
}

func newSettingsServer(t *testing.T, values map[string]string) *settingsServer {
	t.Helper()
	s := &settingsServer{values: values}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/settings/healthcheck" {
			if code := s.status.Load(); code != 0 {
				w.WriteHeader(int(code))
				return
			}
			w.WriteHeader(http.StatusNotFound)
			return
		}
		s.calls.Add(1)
		s.lastURL.Store(r.URL.String())
		if strings.Contains(r.Header.Get("Cache-Control"), "no-cache") {
			s.noCaches.Add(1)
		}
		if code := s.status.Load(); code != 0 {
			w.WriteHeader(int(code))
			return
		}

		name := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/settings/"), "/resolved")
		s.mu.Lock()
		v, ok := s.values[name]
		s.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		_ = json.NewEncoder(w).Encode(map[string]string{"value": v})
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *settingsServer) set(name, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[name] = value
}

func newTestClient(t *testing.T, baseURL string, opts ...ClientOption) *Client {
	t.Helper()
	c, err := NewClient(baseURL, opts...)
	require.NoError(t, err)
	return c
}

func TestNewClient_RequiresURL(t *testing.T) {
	_, err := NewClient("")
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeConfig))

	_, err = NewClient("not a url")
	require.Error(t, err)
}

func TestClient_GetResolvedSetting_WireFormat(t *testing.T) {
	srv := newSettingsServer(t, map[string]string{"ocrLanguage": "en"})
	c := newTestClient(t, srv.URL+"/")

	v, err := c.GetResolvedSetting(context.Background(), "ocrLanguage",
		[]string{"repository-1", "tenant-2"}, []int{1, 2}, false)
	require.NoError(t, err)
	assert.Equal(t, "en", v)

	got := srv.lastURL.Load().(string)
	assert.Contains(t, got, "/settings/ocrLanguage/resolved?")
	assert.Contains(t, got, "scopes=repository-1%2Ctenant-2")
	assert.Contains(t, got, "priorities=1%2C2")
}

func TestClient_CachesDespiteServerHeaders(t *testing.T) {
	srv := newSettingsServer(t, map[string]string{"s": "v1"})
	c := newTestClient(t, srv.URL)
	ctx := context.Background()

	for range 3 {
		v, err := c.GetResolvedSetting(ctx, "s", []string{"a"}, []int{1}, false)
		require.NoError(t, err)
		assert.Equal(t, "v1", v)
	}
	assert.Equal(t, int32(1), srv.calls.Load(), "max-age override makes the response cacheable")

	srv.set("s", "v2")
	v, err := c.GetResolvedSetting(ctx, "s", []string{"a"}, []int{1}, true)
	require.NoError(t, err)
	assert.Equal(t, "v2", v)
	assert.Equal(t, int32(2), srv.calls.Load())
	assert.Equal(t, int32(1), srv.noCaches.Load())

	v, err = c.GetResolvedSetting(ctx, "s", []string{"a"}, []int{1}, false)
	require.NoError(t, err)
	assert.Equal(t, "v2", v, "forced refresh repopulates the shared store")
	assert.Equal(t, int32(2), srv.calls.Load())
}

func TestClient_DifferentScopesAreDistinctEntries(t *testing.T) {
	srv := newSettingsServer(t, map[string]string{"s": "v"})
	c := newTestClient(t, srv.URL)
	ctx := context.Background()

	_, err := c.GetResolvedSetting(ctx, "s", []string{"a"}, []int{1}, false)
	require.NoError(t, err)
	_, err = c.GetResolvedSetting(ctx, "s", []string{"b"}, []int{1}, false)
	require.NoError(t, err)
	assert.Equal(t, int32(2), srv.calls.Load())
}

func TestClient_CacheExpiresAfterMaxAge(t *testing.T) {
	srv := newSettingsServer(t, map[string]string{"s": "v"})
	c := newTestClient(t, srv.URL, WithMaxAge(2*time.Second))
	ctx := context.Background()

	_, err := c.GetResolvedSetting(ctx, "s", nil, nil, false)
	require.NoError(t, err)
	_, err = c.GetResolvedSetting(ctx, "s", nil, nil, false)
	require.NoError(t, err)
	assert.Equal(t, int32(1), srv.calls.Load())

	time.Sleep(3 * time.Second)
	_, err = c.GetResolvedSetting(ctx, "s", nil, nil, false)
	require.NoError(t, err)
	assert.Equal(t, int32(2), srv.calls.Load())
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore(50 * time.Millisecond)

	_, ok := s.Get("k")
	assert.False(t, ok)

	s.Set("k", []byte("v"))
	got, ok := s.Get("k")
	require.True(t, ok)
	assert.Equal(t, []byte("v"), got)
	assert.Equal(t, 1, s.Len())

	s.Delete("k")
	_, ok = s.Get("k")
	assert.False(t, ok)

	s.Set("k", []byte("v"))
	time.Sleep(100 * time.Millisecond)
	_, ok = s.Get("k")
	assert.False(t, ok, "entry dropped after its ttl")
}

func TestClient_NotFound(t *testing.T) {
	srv := newSettingsServer(t, map[string]string{})
	c := newTestClient(t, srv.URL)

	_, err := c.GetResolvedSetting(context.Background(), "missing", []string{"a"}, []int{1}, false)
	require.Error(t, err)
	assert.True(t, schema.IsNotFound(err))
	assert.False(t, schema.IsTransient(err))
}

func TestClient_ServerErrorIsTransientAndNotCached(t *testing.T) {
	srv := newSettingsServer(t, map[string]string{"s": "v"})
	srv.status.Store(http.StatusBadGateway)
	c := newTestClient(t, srv.URL)
	ctx := context.Background()

	_, err := c.GetResolvedSetting(ctx, "s", nil, nil, false)
	require.Error(t, err)
	assert.True(t, schema.IsTransient(err))

	srv.status.Store(0)
	v, err := c.GetResolvedSetting(ctx, "s", nil, nil, false)
	require.NoError(t, err)
	assert.Equal(t, "v", v)
	assert.Equal(t, int32(2), srv.calls.Load())
}

func TestClient_NetworkErrorIsTransient(t *testing.T) {
	srv := newSettingsServer(t, nil)
	url := srv.URL
	srv.Close()

	c := newTestClient(t, url, WithTimeout(time.Second))
	_, err := c.GetResolvedSetting(context.Background(), "s", nil, nil, false)
	require.Error(t, err)
	assert.True(t, schema.IsTransient(err))
}

func TestClient_CircuitOpensAfterFailures(t *testing.T) {
	clock := newFakeClock()
	srv := newSettingsServer(t, map[string]string{"s": "v"})
	srv.status.Store(http.StatusServiceUnavailable)
	breaker := NewBreaker("settings-service", BreakerConfig{FailureThreshold: 2, Cooldown: time.Minute}, clock.Now)
	c := newTestClient(t, srv.URL, WithBreaker(breaker))
	ctx := context.Background()

	for range 2 {
		_, err := c.GetResolvedSetting(ctx, "s", nil, nil, false)
		require.Error(t, err)
	}
	assert.Equal(t, CircuitOpen, breaker.State())

	_, err := c.GetResolvedSetting(ctx, "s", nil, nil, false)
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeCircuitOpen))
	assert.True(t, schema.IsTransient(err))
	assert.Equal(t, int32(2), srv.calls.Load(), "open circuit short-circuits the request")

	srv.status.Store(0)
	clock.Advance(time.Minute)
	v, err := c.GetResolvedSetting(ctx, "s", nil, nil, false)
	require.NoError(t, err)
	assert.Equal(t, "v", v)
	assert.Equal(t, CircuitClosed, breaker.State())
}

func TestClient_CheckHealth(t *testing.T) {
	srv := newSettingsServer(t, nil)
	c := newTestClient(t, srv.URL)
	ctx := context.Background()

	require.NoError(t, c.CheckHealth(ctx), "404 counts as healthy")

	srv.status.Store(http.StatusOK)
	require.NoError(t, c.CheckHealth(ctx))

	srv.status.Store(http.StatusServiceUnavailable)
	assert.Error(t, c.CheckHealth(ctx), "health checks are never served from cache")
}

func TestBreaker_HalfOpenReopensOnFailure(t *testing.T) {
	clock := newFakeClock()
	b := NewBreaker("svc", BreakerConfig{FailureThreshold: 1, Cooldown: 10 * time.Second}, clock.Now)

	require.NoError(t, b.Allow())
	assert.Equal(t, CircuitOpen, b.Failure())
	assert.Error(t, b.Allow())

	clock.Advance(10 * time.Second)
	require.NoError(t, b.Allow(), "first trial call passes")
	assert.Error(t, b.Allow(), "second trial call rejected")

	assert.Equal(t, CircuitOpen, b.Failure())
	assert.Equal(t, "open", b.State().String())
}
