package fetch

import (
	"context"
	"encoding/json"

	"github.com/brasildados/localidades-mcp/core/cache"
	"github.com/brasildados/localidades-mcp/core/endpoint"
	"github.com/brasildados/localidades-mcp/core/errors"
)

// envelope is the cached wire form. Keeping the Fallback tag inside the
// cached value means callers sharing a single-flight fetch see the tag too.
type envelope struct {
	Fallback bool            `json:"fallback"`
	Data     json.RawMessage `json:"data"`
}

// FetchCached is the composed read path: cache hit, else one shared fetch
// per key. Fixture fallbacks pass through to every waiting caller but are
// never stored, so the next period retries the live upstream.
func (c *Client) FetchCached(ctx context.Context, store *cache.Cache, descriptor endpoint.Descriptor, params map[string]string) (Result, bool, error) {
	key, err := cache.Key(descriptor.ID, params)
	if err != nil {
		return Result{}, false, errors.Wrap(err, errors.KindInternal, false)
	}
	raw, fromCache, err := store.GetOrFetch(ctx, key, descriptor.TTL, descriptor.Persistent, func(ctx context.Context) (json.RawMessage, bool, error) {
		result, err := c.Fetch(ctx, descriptor, params)
		if err != nil {
			return nil, false, err
		}
		wrapped, err := json.Marshal(envelope{Fallback: result.Fallback, Data: result.Value})
		if err != nil {
			return nil, false, errors.Wrap(err, errors.KindInternal, false)
		}
		return wrapped, !result.Fallback, nil
	})
	if err != nil {
		return Result{}, false, err
	}
	var unwrapped envelope
	if err := json.Unmarshal(raw, &unwrapped); err != nil {
		return Result{}, false, errors.Wrap(err, errors.KindInternal, false)
	}
	return Result{Value: unwrapped.Data, Fallback: unwrapped.Fallback}, fromCache, nil
}
