// Package fetch is the single generic upstream client. It renders a
// descriptor into a request, waits on the descriptor's rate bucket, retries
// transient failures with jittered exponential backoff, validates the
// payload shape and falls back to the descriptor's embedded fixture when
// the upstream is down or degraded.
package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"github.com/go-logr/logr"

	"github.com/brasildados/localidades-mcp/core/clock"
	"github.com/brasildados/localidades-mcp/core/endpoint"
	"github.com/brasildados/localidades-mcp/core/errors"
	"github.com/brasildados/localidades-mcp/core/ratelimit"
)

const (
	defaultTimeout  = 30 * time.Second
	defaultRetries  = 3
	defaultBackoff  = 500 * time.Millisecond
	maxResponseSize = 10 << 20
)

// Result is a fetched value. Fallback marks fixture data standing in for a
// failed upstream; composed reports propagate the tag so canned data is
// never mistaken for live data.
type Result struct {
	Value    json.RawMessage
	Fallback bool
}

// Config wires the client. Keys maps an API family to its key; descriptors
// whose family has no key are disabled upstream of this package, but Fetch
// also refuses them defensively.
type Config struct {
	Clock   clock.Clock
	Logger  logr.Logger
	Limiter *ratelimit.Limiter
	Keys    map[string]string

	// HTTPClient overrides the shared pooled client, for tests.
	HTTPClient *http.Client
	// BackoffBase overrides the first retry delay, for tests.
	BackoffBase time.Duration
	// MaxRetries bounds retry attempts after the first request.
	MaxRetries int
}

type Client struct {
	http        *http.Client
	clock       clock.Clock
	logger      logr.Logger
	limiter     *ratelimit.Limiter
	keys        map[string]string
	backoffBase time.Duration
	maxRetries  int
}

func New(config Config) *Client {
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        64,
				MaxIdleConnsPerHost: 8,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	backoff := config.BackoffBase
	if backoff <= 0 {
		backoff = defaultBackoff
	}
	retries := config.MaxRetries
	if retries <= 0 {
		retries = defaultRetries
	}
	return &Client{
		http:        httpClient,
		clock:       config.Clock,
		logger:      config.Logger.WithName("fetch"),
		limiter:     config.Limiter,
		keys:        config.Keys,
		backoffBase: backoff,
		maxRetries:  retries,
	}
}

// Close releases pooled connections.
func (c *Client) Close() {
	c.http.CloseIdleConnections()
}

// Fetch performs one descriptor call. Transport errors and 5xx responses
// retry up to MaxRetries times; 4xx returns immediately. When every attempt
// fails with a fallback-eligible kind and the descriptor carries a fixture,
// the fixture is returned tagged Fallback instead of the error.
func (c *Client) Fetch(ctx context.Context, descriptor endpoint.Descriptor, params map[string]string) (Result, error) {
	target, err := descriptor.Render(params)
	if err != nil {
		return Result{}, errors.Wrap(err, errors.KindInvalidParams, false)
	}
	key := c.keys[descriptor.Family]
	if descriptor.RequiresKey() && key == "" {
		return Result{}, errors.New(errors.KindInternal, "descriptor %s requires an api key for family %s", descriptor.ID, descriptor.Family)
	}

	if err := c.limiter.Acquire(ctx, descriptor.Bucket); err != nil {
		return Result{}, err
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			if err := c.clock.Sleep(ctx, c.backoffDelay(attempt)); err != nil {
				return Result{}, errors.Wrap(err, errors.KindCancelled, false)
			}
		}
		value, err := c.attempt(ctx, descriptor, target, key)
		if err == nil {
			return Result{Value: value}, nil
		}
		lastErr = err
		if errors.KindOf(err) == errors.KindCancelled {
			return Result{}, err
		}
		if !errors.RetryableOf(err) {
			break
		}
		c.logger.V(1).Info("retrying upstream call",
			"descriptor", descriptor.ID, "attempt", attempt+1, "cause", err.Error())
	}
	return c.fallbackOr(descriptor, lastErr)
}

func (c *Client) attempt(ctx context.Context, descriptor endpoint.Descriptor, target, key string) (json.RawMessage, error) {
	timeout := descriptor.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	// The invocation budget on ctx still applies; the shorter deadline wins.
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	request, err := http.NewRequestWithContext(attemptCtx, descriptor.Method, target, nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, false)
	}
	if descriptor.ExpectJSON {
		request.Header.Set("Accept", "application/json")
	}
	switch descriptor.Auth {
	case endpoint.AuthAPIKeyHeader:
		request.Header.Set(descriptor.AuthHeader, key)
	case endpoint.AuthBearer:
		request.Header.Set("Authorization", "Bearer "+key)
	}

	response, err := c.http.Do(request)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.Wrap(ctx.Err(), errors.KindCancelled, false)
		}
		if attemptCtx.Err() != nil {
			return nil, errors.Wrap(attemptCtx.Err(), errors.KindCancelled, false)
		}
		return nil, errors.Wrap(err, errors.KindTransport, true)
	}
	defer func() { _ = response.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(response.Body, maxResponseSize))
	if err != nil {
		return nil, errors.Wrap(err, errors.KindTransport, true)
	}
	if response.StatusCode >= 400 {
		return nil, errors.HTTPStatus(response.StatusCode, string(body))
	}
	return classify(descriptor, body)
}

// classify applies the descriptor's response classifier: HTML where JSON
// was promised means the upstream is degraded behind a friendly error page,
// and upstream-error JSON envelopes count as degraded too.
func classify(descriptor endpoint.Descriptor, body []byte) (json.RawMessage, error) {
	if !descriptor.ExpectJSON {
		return json.RawMessage(body), nil
	}
	trimmed := bytes.TrimSpace(body)
	if htmlPrologue(trimmed) {
		return nil, errors.New(errors.KindUpstreamDegraded, "descriptor %s: HTML payload on JSON endpoint", descriptor.ID)
	}
	if !json.Valid(trimmed) {
		return nil, errors.New(errors.KindDecode, "descriptor %s: invalid JSON payload", descriptor.ID)
	}
	if len(descriptor.ErrorKeys) > 0 && len(trimmed) > 0 && trimmed[0] == '{' {
		var envelope map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &envelope); err == nil {
			for _, errorKey := range descriptor.ErrorKeys {
				if _, present := envelope[errorKey]; present {
					return nil, errors.New(errors.KindUpstreamDegraded, "descriptor %s: upstream error envelope (%s)", descriptor.ID, errorKey)
				}
			}
		}
	}
	return json.RawMessage(trimmed), nil
}

func htmlPrologue(body []byte) bool {
	lowered := strings.ToLower(string(body[:min(len(body), 64)]))
	return strings.HasPrefix(lowered, "<!doctype") || strings.HasPrefix(lowered, "<html")
}

func (c *Client) backoffDelay(attempt int) time.Duration {
	delay := c.backoffBase * time.Duration(1<<(attempt-1))
	jitter := 0.75 + rand.Float64()*0.5
	return time.Duration(float64(delay) * jitter)
}

// fallbackOr resolves the fixture for fallback-eligible failures: transport
// errors, 5xx and degraded or undecodable payloads. 4xx and cancellation
// surface as-is.
func (c *Client) fallbackOr(descriptor endpoint.Descriptor, cause error) (Result, error) {
	if descriptor.Fixture == "" {
		return Result{}, cause
	}
	switch errors.KindOf(cause) {
	case errors.KindTransport, errors.KindUpstreamDegraded, errors.KindDecode:
	case errors.KindHTTPStatus:
		if errors.StatusOf(cause) < 500 {
			return Result{}, cause
		}
	default:
		return Result{}, cause
	}
	fixture, ok := endpoint.Fixture(descriptor.Fixture)
	if !ok {
		return Result{}, cause
	}
	c.logger.Info("serving fallback fixture",
		"descriptor", descriptor.ID, "cause", cause.Error())
	return Result{Value: fixture, Fallback: true}, nil
}
