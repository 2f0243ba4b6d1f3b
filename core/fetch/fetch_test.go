package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-logr/logr"

	"github.com/brasildados/localidades-mcp/core/cache"
	"github.com/brasildados/localidades-mcp/core/clock"
	"github.com/brasildados/localidades-mcp/core/endpoint"
	"github.com/brasildados/localidades-mcp/core/errors"
	"github.com/brasildados/localidades-mcp/core/ratelimit"
)

func newTestClient(t *testing.T, keys map[string]string) *Client {
	t.Helper()
	limiter := ratelimit.NewLimiter(clock.System{}, logr.Discard(),
		ratelimit.BucketConfig{ID: "test", Capacity: 1_000_000})
	return New(Config{
		Clock:       clock.System{},
		Logger:      logr.Discard(),
		Limiter:     limiter,
		Keys:        keys,
		BackoffBase: time.Millisecond,
	})
}

func jsonDescriptor(id, url string) endpoint.Descriptor {
	return endpoint.Descriptor{
		ID: id, Family: "test", Method: "GET",
		URLTemplate: url, Bucket: "test",
		TTL: time.Minute, ExpectJSON: true,
	}
}

func TestFetchParsesJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	client := newTestClient(t, nil)
	result, err := client.Fetch(context.Background(), jsonDescriptor("test/ok", server.URL), nil)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if result.Fallback {
		t.Fatalf("live data tagged as fallback")
	}
	if string(result.Value) != `{"ok":true}` {
		t.Fatalf("unexpected value: %s", result.Value)
	}
}

func TestFetch4xxNeverRetriesNorFallsBack(t *testing.T) {
	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "no such aggregate", http.StatusNotFound)
	}))
	defer server.Close()

	descriptor := jsonDescriptor("test/notfound", server.URL)
	descriptor.Fixture = "ibge_regioes.json"
	client := newTestClient(t, nil)
	_, err := client.Fetch(context.Background(), descriptor, nil)
	if err == nil {
		t.Fatalf("expected error for 404")
	}
	if errors.KindOf(err) != errors.KindHTTPStatus || errors.StatusOf(err) != 404 {
		t.Fatalf("unexpected classification: kind=%s status=%d", errors.KindOf(err), errors.StatusOf(err))
	}
	if hits.Load() != 1 {
		t.Fatalf("4xx must not retry, saw %d requests", hits.Load())
	}
}

func TestFetch5xxRetriesThenFallsBack(t *testing.T) {
	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	descriptor := jsonDescriptor("test/unstable", server.URL)
	descriptor.Fixture = "ibge_regioes.json"
	client := newTestClient(t, nil)
	result, err := client.Fetch(context.Background(), descriptor, nil)
	if err != nil {
		t.Fatalf("expected fixture fallback, got: %v", err)
	}
	if !result.Fallback {
		t.Fatalf("fixture result not tagged Fallback")
	}
	if hits.Load() != 4 {
		t.Fatalf("expected initial attempt plus 3 retries, saw %d", hits.Load())
	}
}

func TestFetch5xxWithoutFixtureSurfacesStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newTestClient(t, nil)
	_, err := client.Fetch(context.Background(), jsonDescriptor("test/broken", server.URL), nil)
	if err == nil {
		t.Fatalf("expected error without fixture")
	}
	if errors.StatusOf(err) != 500 {
		t.Fatalf("expected status 500, got %d", errors.StatusOf(err))
	}
}

func TestFetchHTMLBodyIsDegraded(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<!DOCTYPE html><html><body>manutenção</body></html>"))
	}))
	defer server.Close()

	client := newTestClient(t, nil)

	bare := jsonDescriptor("test/html", server.URL)
	_, err := client.Fetch(context.Background(), bare, nil)
	if errors.KindOf(err) != errors.KindUpstreamDegraded {
		t.Fatalf("expected upstream_degraded, got %v", err)
	}

	withFixture := bare
	withFixture.Fixture = "dadosgov_conjuntos.json"
	result, err := client.Fetch(context.Background(), withFixture, nil)
	if err != nil {
		t.Fatalf("expected fallback for degraded upstream: %v", err)
	}
	if !result.Fallback {
		t.Fatalf("fallback tag missing")
	}
}

func TestFetchErrorEnvelopeIsDegraded(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"erro":true,"mensagem":"agregado inexistente"}`))
	}))
	defer server.Close()

	descriptor := jsonDescriptor("test/envelope", server.URL)
	descriptor.ErrorKeys = []string{"erro"}
	client := newTestClient(t, nil)
	_, err := client.Fetch(context.Background(), descriptor, nil)
	if errors.KindOf(err) != errors.KindUpstreamDegraded {
		t.Fatalf("expected upstream_degraded, got %v", err)
	}
}

func TestFetchTransportFailureFallsBack(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	target := server.URL
	server.Close()

	descriptor := jsonDescriptor("test/down", target)
	descriptor.Fixture = "ibge_estados.json"
	client := newTestClient(t, nil)
	result, err := client.Fetch(context.Background(), descriptor, nil)
	if err != nil {
		t.Fatalf("expected fallback for dead upstream: %v", err)
	}
	if !result.Fallback {
		t.Fatalf("fallback tag missing")
	}
}

func TestFetchAttachesAPIKeyHeader(t *testing.T) {
	var got atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.Store(r.Header.Get("chave-api-dados"))
		_, _ = w.Write([]byte(`[]`))
	}))
	defer server.Close()

	descriptor := jsonDescriptor("test/keyed", server.URL)
	descriptor.Auth = endpoint.AuthAPIKeyHeader
	descriptor.AuthHeader = "chave-api-dados"
	client := newTestClient(t, map[string]string{"test": "secret-key"})
	if _, err := client.Fetch(context.Background(), descriptor, nil); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if got.Load() != "secret-key" {
		t.Fatalf("api key header not attached: %v", got.Load())
	}
}

func TestFetchMissingKeyRefused(t *testing.T) {
	descriptor := jsonDescriptor("test/keyed", "https://example.invalid")
	descriptor.Auth = endpoint.AuthAPIKeyHeader
	descriptor.AuthHeader = "chave-api-dados"
	client := newTestClient(t, nil)
	if _, err := client.Fetch(context.Background(), descriptor, nil); err == nil {
		t.Fatalf("expected refusal without api key")
	}
}

func TestFetchMissingParamIsInvalidParams(t *testing.T) {
	client := newTestClient(t, nil)
	descriptor := jsonDescriptor("test/tpl", "https://example.invalid/{municipio}")
	_, err := client.Fetch(context.Background(), descriptor, nil)
	if errors.KindOf(err) != errors.KindInvalidParams {
		t.Fatalf("expected invalid_params, got %v", err)
	}
}

func TestFetchCachedSingleUpstreamHit(t *testing.T) {
	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`["data"]`))
	}))
	defer server.Close()

	manual := clock.NewManual(time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC))
	store, err := cache.New(manual, logr.Discard(), "")
	if err != nil {
		t.Fatalf("cache: %v", err)
	}
	client := newTestClient(t, nil)
	descriptor := jsonDescriptor("test/cached", server.URL)

	first, fromCache, err := client.FetchCached(context.Background(), store, descriptor, map[string]string{"uf": "SP"})
	if err != nil || fromCache {
		t.Fatalf("first call: value=%s fromCache=%v err=%v", first.Value, fromCache, err)
	}
	second, fromCache, err := client.FetchCached(context.Background(), store, descriptor, map[string]string{"uf": "SP"})
	if err != nil || !fromCache {
		t.Fatalf("second call should hit cache: err=%v fromCache=%v", err, fromCache)
	}
	if string(second.Value) != string(first.Value) {
		t.Fatalf("cache changed the value")
	}
	if hits.Load() != 1 {
		t.Fatalf("expected one upstream hit, saw %d", hits.Load())
	}
}

func TestFetchCachedDoesNotStoreFallback(t *testing.T) {
	var healthy atomic.Bool
	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if !healthy.Load() {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`["live"]`))
	}))
	defer server.Close()

	manual := clock.NewManual(time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC))
	store, err := cache.New(manual, logr.Discard(), "")
	if err != nil {
		t.Fatalf("cache: %v", err)
	}
	client := newTestClient(t, nil)
	descriptor := jsonDescriptor("test/flaky", server.URL)
	descriptor.Fixture = "ibge_regioes.json"

	result, _, err := client.FetchCached(context.Background(), store, descriptor, nil)
	if err != nil {
		t.Fatalf("first call: %v", err)
	}
	if !result.Fallback {
		t.Fatalf("expected fallback while upstream is down")
	}

	healthy.Store(true)
	result, fromCache, err := client.FetchCached(context.Background(), store, descriptor, nil)
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if fromCache || result.Fallback {
		t.Fatalf("fallback value was cached: fromCache=%v fallback=%v", fromCache, result.Fallback)
	}
	if string(result.Value) != `["live"]` {
		t.Fatalf("unexpected value after recovery: %s", result.Value)
	}
}
