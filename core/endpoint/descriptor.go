// Package endpoint holds the declarative descriptions of every upstream
// endpoint the server talks to. Descriptors replace the per-API wrapper
// sprawl of older aggregators: one generic fetch function reads these
// records, so adding an upstream is a catalogue entry, not a new client.
package endpoint

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
)

type AuthStyle string

const (
	AuthNone         AuthStyle = "none"
	AuthAPIKeyHeader AuthStyle = "api-key-header"
	AuthBearer       AuthStyle = "bearer"
)

// Descriptor is the immutable configuration for one upstream endpoint.
type Descriptor struct {
	// ID is the logical name, conventionally "<family>/<operation>".
	ID     string
	Family string
	Method string
	// URLTemplate carries {name} placeholders rendered from call params.
	URLTemplate string
	Query       map[string]string

	Auth       AuthStyle
	AuthHeader string

	Bucket     string
	TTL        time.Duration
	Persistent bool
	Timeout    time.Duration

	// Fixture names an embedded fallback document served, tagged Fallback,
	// when the upstream is unreachable or degraded. Empty disables fallback.
	Fixture string

	// ExpectJSON turns on content validation: an HTML prologue or a parse
	// failure classifies the response as degraded instead of data.
	ExpectJSON bool
	// ErrorKeys lists top-level object keys whose presence marks an
	// upstream-error JSON body (e.g. the IBGE "erro" envelope).
	ErrorKeys []string
}

var placeholderPattern = regexp.MustCompile(`\{([a-zA-Z0-9_]+)\}`)

// Render substitutes params into the URL template and static query map.
// Unresolved placeholders are an error before any I/O happens.
func (d Descriptor) Render(params map[string]string) (string, error) {
	rendered := placeholderPattern.ReplaceAllStringFunc(d.URLTemplate, func(match string) string {
		name := match[1 : len(match)-1]
		if value, ok := params[name]; ok {
			return url.PathEscape(value)
		}
		return match
	})
	if leftover := placeholderPattern.FindString(rendered); leftover != "" {
		return "", fmt.Errorf("descriptor %s: missing parameter %s", d.ID, leftover)
	}
	if len(d.Query) == 0 {
		return rendered, nil
	}
	values := url.Values{}
	for key, template := range d.Query {
		value := placeholderPattern.ReplaceAllStringFunc(template, func(match string) string {
			name := match[1 : len(match)-1]
			if v, ok := params[name]; ok {
				return v
			}
			return match
		})
		if leftover := placeholderPattern.FindString(value); leftover != "" {
			return "", fmt.Errorf("descriptor %s: missing query parameter %s", d.ID, leftover)
		}
		values.Set(key, value)
	}
	separator := "?"
	if strings.Contains(rendered, "?") {
		separator = "&"
	}
	return rendered + separator + values.Encode(), nil
}

func (d Descriptor) validate() error {
	if d.ID == "" {
		return fmt.Errorf("descriptor without id")
	}
	if d.Family == "" {
		return fmt.Errorf("descriptor %s: family is required", d.ID)
	}
	if d.Method == "" {
		return fmt.Errorf("descriptor %s: method is required", d.ID)
	}
	if d.URLTemplate == "" {
		return fmt.Errorf("descriptor %s: url is required", d.ID)
	}
	if d.Bucket == "" {
		return fmt.Errorf("descriptor %s: bucket is required", d.ID)
	}
	if d.TTL <= 0 {
		return fmt.Errorf("descriptor %s: ttl must be positive", d.ID)
	}
	switch d.Auth {
	case "", AuthNone, AuthBearer:
	case AuthAPIKeyHeader:
		if d.AuthHeader == "" {
			return fmt.Errorf("descriptor %s: api-key-header auth requires auth_header", d.ID)
		}
	default:
		return fmt.Errorf("descriptor %s: unknown auth style %q", d.ID, d.Auth)
	}
	return nil
}

// RequiresKey reports whether the descriptor cannot be used without an API
// key for its family.
func (d Descriptor) RequiresKey() bool {
	return d.Auth == AuthAPIKeyHeader || d.Auth == AuthBearer
}
