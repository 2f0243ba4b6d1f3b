package endpoint

import (
	"embed"
	"encoding/json"
)

// Fixtures are canned upstream responses served when a descriptor with a
// fallback sees a transport failure, a 5xx or a degraded payload. They keep
// demos and offline runs alive; the fetch layer tags every fixture value so
// consumers can tell canned data from live data.
//
//go:embed fixtures/*.json
var fixtureFS embed.FS

// Fixture returns the embedded fallback document by name.
func Fixture(name string) (json.RawMessage, bool) {
	if name == "" {
		return nil, false
	}
	raw, err := fixtureFS.ReadFile("fixtures/" + name)
	if err != nil {
		return nil, false
	}
	return json.RawMessage(raw), true
}
