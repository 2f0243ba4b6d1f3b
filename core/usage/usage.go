// Package usage counts tool invocations for the usage_report resource.
package usage

import (
	"sort"
	"sync"
	"time"
)

type ToolCount struct {
	Name  string `json:"name"`
	Calls uint64 `json:"calls"`
}

// Snapshot is the serializable state of a Tracker at one instant. Tools
// are sorted by name so the rendered report is stable.
type Snapshot struct {
	StartedAt     time.Time   `json:"started_at"`
	UptimeSeconds int64       `json:"uptime_seconds"`
	TotalCalls    uint64      `json:"total_calls"`
	Tools         []ToolCount `json:"tools"`
}

// Tracker accumulates per-tool call counts. Safe for concurrent use.
type Tracker struct {
	mu      sync.Mutex
	started time.Time
	counts  map[string]uint64
}

func NewTracker(started time.Time) *Tracker {
	return &Tracker{started: started, counts: map[string]uint64{}}
}

func (t *Tracker) Record(tool string) {
	t.mu.Lock()
	t.counts[tool]++
	t.mu.Unlock()
}

func (t *Tracker) Snapshot(now time.Time) Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	snapshot := Snapshot{
		StartedAt:     t.started,
		UptimeSeconds: int64(now.Sub(t.started) / time.Second),
		Tools:         make([]ToolCount, 0, len(t.counts)),
	}
	if snapshot.UptimeSeconds < 0 {
		snapshot.UptimeSeconds = 0
	}
	for name, calls := range t.counts {
		snapshot.Tools = append(snapshot.Tools, ToolCount{Name: name, Calls: calls})
		snapshot.TotalCalls += calls
	}
	sort.Slice(snapshot.Tools, func(i, j int) bool {
		return snapshot.Tools[i].Name < snapshot.Tools[j].Name
	})
	return snapshot
}
