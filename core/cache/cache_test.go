package cache

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brasildados/localidades-mcp/core/clock"
	"github.com/brasildados/localidades-mcp/core/errors"
)

func newMemoryCache(t *testing.T) (*Cache, *clock.Manual) {
	t.Helper()
	manual := clock.NewManual(time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC))
	c, err := New(manual, logr.Discard(), "")
	require.NoError(t, err)
	return c, manual
}

func staticFetcher(value string, calls *atomic.Int64) Fetcher {
	return func(context.Context) (json.RawMessage, bool, error) {
		if calls != nil {
			calls.Add(1)
		}
		return json.RawMessage(value), true, nil
	}
}

func TestGetOrFetchStoresAndServes(t *testing.T) {
	c, _ := newMemoryCache(t)
	var calls atomic.Int64

	value, fromCache, err := c.GetOrFetch(context.Background(), "k", time.Minute, false, staticFetcher(`{"a":1}`, &calls))
	require.NoError(t, err)
	assert.False(t, fromCache)
	assert.JSONEq(t, `{"a":1}`, string(value))

	value, fromCache, err = c.GetOrFetch(context.Background(), "k", time.Minute, false, staticFetcher(`{"a":2}`, &calls))
	require.NoError(t, err)
	assert.True(t, fromCache)
	assert.JSONEq(t, `{"a":1}`, string(value), "fresh entry must short-circuit the fetcher")
	assert.Equal(t, int64(1), calls.Load())
}

func TestTTLExpiryUnderSimulatedClock(t *testing.T) {
	c, manual := newMemoryCache(t)
	var calls atomic.Int64
	_, _, err := c.GetOrFetch(context.Background(), "k", 30*time.Second, false, staticFetcher(`1`, &calls))
	require.NoError(t, err)

	manual.Advance(29 * time.Second)
	_, fromCache, err := c.GetOrFetch(context.Background(), "k", 30*time.Second, false, staticFetcher(`2`, &calls))
	require.NoError(t, err)
	assert.True(t, fromCache, "entry expired before its TTL")

	manual.Advance(2 * time.Second)
	value, fromCache, err := c.GetOrFetch(context.Background(), "k", 30*time.Second, false, staticFetcher(`2`, &calls))
	require.NoError(t, err)
	assert.False(t, fromCache, "entry survived past its TTL")
	assert.Equal(t, `2`, string(value))
	assert.Equal(t, int64(2), calls.Load())
}

func TestSingleFlightPerKey(t *testing.T) {
	c, _ := newMemoryCache(t)
	var fetches atomic.Int64
	release := make(chan struct{})
	fetcher := func(context.Context) (json.RawMessage, bool, error) {
		fetches.Add(1)
		<-release
		return json.RawMessage(`"shared"`), true, nil
	}

	const callers = 100
	var wg sync.WaitGroup
	results := make([]json.RawMessage, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			value, _, err := c.GetOrFetch(context.Background(), "hot", time.Minute, false, fetcher)
			if err == nil {
				results[slot] = value
			}
		}(i)
	}

	// Give every caller time to queue on the flight before releasing it.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int64(1), fetches.Load(), "exactly one upstream fetch per fresh-miss key")
	for _, value := range results {
		assert.Equal(t, `"shared"`, string(value))
	}
}

func TestFailedFetchIsNotCached(t *testing.T) {
	c, _ := newMemoryCache(t)
	var calls atomic.Int64
	failing := func(context.Context) (json.RawMessage, bool, error) {
		calls.Add(1)
		return nil, false, errors.New(errors.KindTransport, "connection refused")
	}

	_, _, err := c.GetOrFetch(context.Background(), "k", time.Minute, false, failing)
	require.Error(t, err)
	_, _, err = c.GetOrFetch(context.Background(), "k", time.Minute, false, failing)
	require.Error(t, err)
	assert.Equal(t, int64(2), calls.Load(), "failures must not produce negative entries")
}

func TestMirrorSurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")
	manual := clock.NewManual(time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC))

	first, err := New(manual, logr.Discard(), path)
	require.NoError(t, err)
	var calls atomic.Int64
	_, _, err = first.GetOrFetch(context.Background(), "municipios", 24*time.Hour, true, staticFetcher(`["3550308"]`, &calls))
	require.NoError(t, err)
	first.Flush()
	first.Close()

	second, err := New(manual, logr.Discard(), path)
	require.NoError(t, err)
	defer second.Close()
	value, fromCache, err := second.GetOrFetch(context.Background(), "municipios", 24*time.Hour, true, staticFetcher(`[]`, &calls))
	require.NoError(t, err)
	assert.True(t, fromCache, "restart must serve the persisted entry without a fetch")
	assert.Equal(t, `["3550308"]`, string(value))
	assert.Equal(t, int64(1), calls.Load())
}

func TestNonPersistentEntriesStayOffDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")
	manual := clock.NewManual(time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC))
	c, err := New(manual, logr.Discard(), path)
	require.NoError(t, err)
	_, _, err = c.GetOrFetch(context.Background(), "volatile", time.Minute, false, staticFetcher(`1`, nil))
	require.NoError(t, err)
	_, _, err = c.GetOrFetch(context.Background(), "durable", time.Minute, true, staticFetcher(`2`, nil))
	require.NoError(t, err)
	c.Flush()
	c.Close()

	persisted := map[string]Entry{}
	require.NoError(t, readJSONFile(t, path, &persisted))
	assert.Contains(t, persisted, "durable")
	assert.NotContains(t, persisted, "volatile")
}

func TestKeyCanonicalization(t *testing.T) {
	a, err := Key("ibge/municipios", map[string]string{"uf": "SP", "orderBy": "nome"})
	require.NoError(t, err)
	b, err := Key("ibge/municipios", map[string]string{"orderBy": "nome", "uf": "SP"})
	require.NoError(t, err)
	assert.Equal(t, a, b, "key order must not change the cache key")

	c, err := Key("ibge/municipios", map[string]string{"uf": "RJ", "orderBy": "nome"})
	require.NoError(t, err)
	assert.NotEqual(t, a, c)

	d, err := Key("ibge/estados", nil)
	require.NoError(t, err)
	assert.Contains(t, d, "ibge/estados:")
}

func readJSONFile(t *testing.T, path string, target any) error {
	t.Helper()
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, target)
}
