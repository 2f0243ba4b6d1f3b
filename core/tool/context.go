package tool

import "context"

type correlationKey struct{}

// WithCorrelation tags ctx with the correlation id for one inbound request,
// normally the JSON-RPC request id. Log lines emitted while serving the
// request carry it so a tool call can be tied back to its frame.
func WithCorrelation(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, correlationKey{}, id)
}

// Correlation returns the correlation id on ctx, or "" when none was set.
func Correlation(ctx context.Context) string {
	if id, ok := ctx.Value(correlationKey{}).(string); ok {
		return id
	}
	return ""
}
