// Package tool hosts the registry behind tools/call and resources/read:
// schema validation, per-surface rate limits, usage counting and panic
// containment around handlers.
package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"github.com/kaptinlin/jsonschema"

	"github.com/brasildados/localidades-mcp/core/cache"
	"github.com/brasildados/localidades-mcp/core/errors"
	"github.com/brasildados/localidades-mcp/core/ratelimit"
	"github.com/brasildados/localidades-mcp/core/usage"
)

// Rate buckets for the serving surfaces. Tool calls and resource reads are
// throttled separately from the upstream families.
const (
	BucketTools     = "tool"
	BucketResources = "resource"
)

// Buckets returns the limiter configuration for the serving surfaces.
func Buckets() []ratelimit.BucketConfig {
	return []ratelimit.BucketConfig{
		{ID: BucketTools, Capacity: 15},
		{ID: BucketResources, Capacity: 10},
	}
}

// defaultCacheTTL bounds how long an identical tools/call answer is reused
// when the definition does not set its own TTL.
const defaultCacheTTL = time.Minute

type Content struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Result is the tools/call payload. Handler failures travel inside it with
// IsError set; protocol-level errors are reserved for malformed requests.
type Result struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}

func TextResult(text string) Result {
	return Result{Content: []Content{{Type: "text", Text: text}}}
}

func ErrorResult(message string) Result {
	return Result{Content: []Content{{Type: "text", Text: message}}, IsError: true}
}

type Handler func(ctx context.Context, args json.RawMessage) (Result, error)

// Definition declares one tool: its wire name, the JSON schema its
// arguments must satisfy, and the handler. CacheTTL overrides how long a
// successful result for identical canonical arguments is reused; zero means
// the package default.
type Definition struct {
	Name        string
	Description string
	InputSchema json.RawMessage
	CacheTTL    time.Duration
	Handler     Handler
}

// Info is the tools/list projection of a Definition.
type Info struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// Resource is a readable document addressed by URI. Read may recompute on
// every call.
type Resource struct {
	URI         string                                    `json:"uri"`
	Name        string                                    `json:"name"`
	Description string                                    `json:"description"`
	MimeType    string                                    `json:"mimeType"`
	Read        func(ctx context.Context) ([]byte, error) `json:"-"`
}

type registeredTool struct {
	definition Definition
	schema     *jsonschema.Schema
	ttl        time.Duration
}

// Registry holds the tool and resource tables. Registration happens during
// startup, before any dispatch; Call and ReadResource are then safe for
// concurrent use.
type Registry struct {
	limiter   *ratelimit.Limiter
	tracker   *usage.Tracker
	store     *cache.Cache
	logger    logr.Logger
	tools     []*registeredTool
	byName    map[string]*registeredTool
	resources []Resource
	byURI     map[string]Resource
}

func NewRegistry(limiter *ratelimit.Limiter, tracker *usage.Tracker, store *cache.Cache, logger logr.Logger) *Registry {
	return &Registry{
		limiter: limiter,
		tracker: tracker,
		store:   store,
		logger:  logger.WithName("tools"),
		byName:  map[string]*registeredTool{},
		byURI:   map[string]Resource{},
	}
}

// Register compiles the input schema and adds the tool. Duplicate names and
// schemas that do not compile are registration errors.
func (r *Registry) Register(definition Definition) error {
	if definition.Name == "" || definition.Handler == nil {
		return errors.New(errors.KindInternal, "tool needs a name and a handler")
	}
	if _, exists := r.byName[definition.Name]; exists {
		return errors.New(errors.KindInternal, "tool %q already registered", definition.Name)
	}
	compiler := jsonschema.NewCompiler()
	compiler.AssertFormat = true
	schema, err := compiler.Compile(definition.InputSchema)
	if err != nil {
		return errors.Wrap(fmt.Errorf("compile schema for %q: %w", definition.Name, err), errors.KindInternal, false)
	}
	ttl := definition.CacheTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	registered := &registeredTool{definition: definition, schema: schema, ttl: ttl}
	r.tools = append(r.tools, registered)
	r.byName[definition.Name] = registered
	return nil
}

func (r *Registry) RegisterResource(resource Resource) error {
	if resource.URI == "" || resource.Read == nil {
		return errors.New(errors.KindInternal, "resource needs a URI and a reader")
	}
	if _, exists := r.byURI[resource.URI]; exists {
		return errors.New(errors.KindInternal, "resource %q already registered", resource.URI)
	}
	r.resources = append(r.resources, resource)
	r.byURI[resource.URI] = resource
	return nil
}

// Tools lists registered tools in registration order.
func (r *Registry) Tools() []Info {
	infos := make([]Info, 0, len(r.tools))
	for _, registered := range r.tools {
		infos = append(infos, Info{
			Name:        registered.definition.Name,
			Description: registered.definition.Description,
			InputSchema: registered.definition.InputSchema,
		})
	}
	return infos
}

// Resources lists registered resources in registration order.
func (r *Registry) Resources() []Resource {
	return append([]Resource(nil), r.resources...)
}

// Call runs one tool: validate arguments against the schema, count the
// call, then answer from the per-tool result cache or invoke the handler
// through the tool bucket. Cache keys hash the canonical argument JSON
// under a "tool:<name>" namespace, so identical calls within the TTL share
// one handler run. Handler errors and panics come back as error results,
// never as Go errors, so one bad call cannot take the serving loop down.
func (r *Registry) Call(ctx context.Context, name string, args json.RawMessage) (Result, error) {
	registered, ok := r.byName[name]
	if !ok {
		return Result{}, errors.New(errors.KindNotFound, "unknown tool %q", name)
	}
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	// rejected arguments never consume rate budget
	if validation := registered.schema.ValidateJSON(args); !validation.IsValid() {
		return Result{}, errors.New(errors.KindInvalidParams, "arguments for %q rejected: %v", name, validation.Errors)
	}
	r.tracker.Record(name)

	key, err := cache.Key("tool:"+name, args)
	if err != nil {
		return Result{}, errors.Wrap(fmt.Errorf("cache key for %q: %w", name, err), errors.KindInternal, false)
	}
	raw, cached, err := r.store.GetOrFetch(ctx, key, registered.ttl, false, func(ctx context.Context) (json.RawMessage, bool, error) {
		if err := r.limiter.Acquire(ctx, BucketTools); err != nil {
			return nil, false, err
		}
		result, err := r.invoke(ctx, registered, args)
		if err != nil {
			return nil, false, err
		}
		encoded, err := json.Marshal(result)
		if err != nil {
			return nil, false, errors.Wrap(err, errors.KindInternal, false)
		}
		// Error results reach the caller but are never reused.
		return encoded, !result.IsError, nil
	})
	if err != nil {
		return Result{}, err
	}
	r.logger.V(1).Info("tool call served",
		"tool", name, "correlation_id", Correlation(ctx), "cached", cached)

	var result Result
	if err := json.Unmarshal(raw, &result); err != nil {
		return Result{}, errors.Wrap(err, errors.KindInternal, false)
	}
	return result, nil
}

// invoke shields the dispatcher from the handler. Invalid-params errors
// pass through so the protocol layer can map them; everything else, panics
// included, degrades to an error result.
func (r *Registry) invoke(ctx context.Context, registered *registeredTool, args json.RawMessage) (result Result, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			r.logger.Error(nil, "tool handler panicked",
				"tool", registered.definition.Name, "correlation_id", Correlation(ctx), "panic", recovered)
			result = ErrorResult(fmt.Sprintf("%s falhou: erro interno", registered.definition.Name))
			err = nil
		}
	}()
	result, handlerErr := registered.definition.Handler(ctx, args)
	if handlerErr != nil {
		if errors.KindOf(handlerErr) == errors.KindInvalidParams {
			return Result{}, handlerErr
		}
		return ErrorResult(handlerErr.Error()), nil
	}
	return result, nil
}

// ReadResource reads one resource through the resource bucket.
func (r *Registry) ReadResource(ctx context.Context, uri string) (Resource, []byte, error) {
	resource, ok := r.byURI[uri]
	if !ok {
		return Resource{}, nil, errors.New(errors.KindNotFound, "unknown resource %q", uri)
	}
	if err := r.limiter.Acquire(ctx, BucketResources); err != nil {
		return Resource{}, nil, err
	}
	r.tracker.Record(uri)
	r.logger.V(1).Info("resource read", "uri", uri, "correlation_id", Correlation(ctx))
	data, err := resource.Read(ctx)
	if err != nil {
		return Resource{}, nil, err
	}
	return resource, data, nil
}
