package endpoint

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/brasildados/localidades-mcp/core/ratelimit"
)

// Overlay is the operator-supplied catalogue extension: extra descriptors,
// replacements for shipped ones, and bucket quota overrides.
type Overlay struct {
	Buckets     []ratelimit.BucketConfig
	Descriptors []Descriptor
}

type overlayDoc struct {
	Buckets     []ratelimit.BucketConfig `yaml:"buckets"`
	Descriptors []overlayDescriptor      `yaml:"descriptors"`
}

type overlayDescriptor struct {
	ID             string            `yaml:"id"`
	Family         string            `yaml:"family"`
	Method         string            `yaml:"method"`
	URL            string            `yaml:"url"`
	Query          map[string]string `yaml:"query"`
	Auth           string            `yaml:"auth"`
	AuthHeader     string            `yaml:"auth_header"`
	Bucket         string            `yaml:"bucket"`
	TTLSeconds     int64             `yaml:"ttl_seconds"`
	TimeoutSeconds int64             `yaml:"timeout_seconds"`
	Persistent     bool              `yaml:"persistent"`
	Fixture        string            `yaml:"fixture"`
	ExpectJSON     bool              `yaml:"expect_json"`
	ErrorKeys      []string          `yaml:"error_keys"`
}

// LoadOverlay parses the YAML overlay file at path.
func LoadOverlay(path string) (Overlay, error) {
	// #nosec G304 -- path is explicit operator configuration.
	raw, err := os.ReadFile(path)
	if err != nil {
		return Overlay{}, fmt.Errorf("read overlay: %w", err)
	}
	var doc overlayDoc
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return Overlay{}, fmt.Errorf("parse overlay: %w", err)
	}
	overlay := Overlay{Buckets: doc.Buckets}
	for _, entry := range doc.Descriptors {
		method := entry.Method
		if method == "" {
			method = "GET"
		}
		overlay.Descriptors = append(overlay.Descriptors, Descriptor{
			ID:          entry.ID,
			Family:      entry.Family,
			Method:      method,
			URLTemplate: entry.URL,
			Query:       entry.Query,
			Auth:        AuthStyle(entry.Auth),
			AuthHeader:  entry.AuthHeader,
			Bucket:      entry.Bucket,
			TTL:         time.Duration(entry.TTLSeconds) * time.Second,
			Timeout:     time.Duration(entry.TimeoutSeconds) * time.Second,
			Persistent:  entry.Persistent,
			Fixture:     entry.Fixture,
			ExpectJSON:  entry.ExpectJSON,
			ErrorKeys:   entry.ErrorKeys,
		})
	}
	return overlay, nil
}
