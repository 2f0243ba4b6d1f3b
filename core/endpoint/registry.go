package endpoint

import (
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/brasildados/localidades-mcp/core/ratelimit"
)

// Registry is the static-but-hot-reloadable descriptor collection. Readers
// always see a complete snapshot; ApplyOverlay swaps the snapshot
// atomically, so a reload never exposes a half-updated catalogue.
type Registry struct {
	snapshot atomic.Pointer[registrySnapshot]
}

type registrySnapshot struct {
	descriptors map[string]Descriptor
	buckets     map[string]ratelimit.BucketConfig
	order       []string
}

func NewRegistry(buckets []ratelimit.BucketConfig, descriptors []Descriptor) (*Registry, error) {
	snapshot, err := buildSnapshot(buckets, descriptors)
	if err != nil {
		return nil, err
	}
	registry := &Registry{}
	registry.snapshot.Store(snapshot)
	return registry, nil
}

func buildSnapshot(buckets []ratelimit.BucketConfig, descriptors []Descriptor) (*registrySnapshot, error) {
	snapshot := &registrySnapshot{
		descriptors: make(map[string]Descriptor, len(descriptors)),
		buckets:     make(map[string]ratelimit.BucketConfig, len(buckets)),
	}
	for _, bucket := range buckets {
		if bucket.ID == "" {
			return nil, fmt.Errorf("bucket without id")
		}
		if bucket.Capacity <= 0 {
			return nil, fmt.Errorf("bucket %s: capacity must be positive", bucket.ID)
		}
		if err := bucket.Schedule.Validate(); err != nil {
			return nil, fmt.Errorf("bucket %s: %w", bucket.ID, err)
		}
		snapshot.buckets[bucket.ID] = bucket
	}
	for _, descriptor := range descriptors {
		if err := descriptor.validate(); err != nil {
			return nil, err
		}
		if _, ok := snapshot.buckets[descriptor.Bucket]; !ok {
			return nil, fmt.Errorf("descriptor %s: unknown bucket %q", descriptor.ID, descriptor.Bucket)
		}
		if _, dup := snapshot.descriptors[descriptor.ID]; dup {
			return nil, fmt.Errorf("duplicate descriptor id %s", descriptor.ID)
		}
		snapshot.descriptors[descriptor.ID] = descriptor
		snapshot.order = append(snapshot.order, descriptor.ID)
	}
	return snapshot, nil
}

// Get returns the descriptor for id.
func (r *Registry) Get(id string) (Descriptor, bool) {
	descriptor, ok := r.snapshot.Load().descriptors[id]
	return descriptor, ok
}

// All returns every descriptor in registration order.
func (r *Registry) All() []Descriptor {
	snapshot := r.snapshot.Load()
	out := make([]Descriptor, 0, len(snapshot.order))
	for _, id := range snapshot.order {
		out = append(out, snapshot.descriptors[id])
	}
	return out
}

// Families returns the distinct API families, sorted.
func (r *Registry) Families() []string {
	snapshot := r.snapshot.Load()
	seen := map[string]bool{}
	for _, descriptor := range snapshot.descriptors {
		seen[descriptor.Family] = true
	}
	families := make([]string, 0, len(seen))
	for family := range seen {
		families = append(families, family)
	}
	sort.Strings(families)
	return families
}

// Buckets returns the bucket configurations for the rate limiter.
func (r *Registry) Buckets() []ratelimit.BucketConfig {
	snapshot := r.snapshot.Load()
	ids := make([]string, 0, len(snapshot.buckets))
	for id := range snapshot.buckets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]ratelimit.BucketConfig, 0, len(ids))
	for _, id := range ids {
		out = append(out, snapshot.buckets[id])
	}
	return out
}

// ApplyOverlay merges an overlay on top of the current snapshot: overlay
// buckets and descriptors replace same-id entries and append new ones. The
// swap only happens when the merged catalogue validates.
func (r *Registry) ApplyOverlay(overlay Overlay) error {
	current := r.snapshot.Load()

	buckets := make([]ratelimit.BucketConfig, 0, len(current.buckets)+len(overlay.Buckets))
	bucketIDs := make([]string, 0, len(current.buckets))
	for id := range current.buckets {
		bucketIDs = append(bucketIDs, id)
	}
	sort.Strings(bucketIDs)
	overlayBuckets := map[string]ratelimit.BucketConfig{}
	for _, bucket := range overlay.Buckets {
		overlayBuckets[bucket.ID] = bucket
	}
	for _, id := range bucketIDs {
		if replacement, ok := overlayBuckets[id]; ok {
			buckets = append(buckets, replacement)
			delete(overlayBuckets, id)
			continue
		}
		buckets = append(buckets, current.buckets[id])
	}
	for _, bucket := range overlay.Buckets {
		if _, pending := overlayBuckets[bucket.ID]; pending {
			buckets = append(buckets, bucket)
		}
	}

	overlayDescriptors := map[string]Descriptor{}
	for _, descriptor := range overlay.Descriptors {
		overlayDescriptors[descriptor.ID] = descriptor
	}
	descriptors := make([]Descriptor, 0, len(current.order)+len(overlay.Descriptors))
	for _, id := range current.order {
		if replacement, ok := overlayDescriptors[id]; ok {
			descriptors = append(descriptors, replacement)
			delete(overlayDescriptors, id)
			continue
		}
		descriptors = append(descriptors, current.descriptors[id])
	}
	for _, descriptor := range overlay.Descriptors {
		if _, pending := overlayDescriptors[descriptor.ID]; pending {
			descriptors = append(descriptors, descriptor)
		}
	}

	merged, err := buildSnapshot(buckets, descriptors)
	if err != nil {
		return err
	}
	r.snapshot.Store(merged)
	return nil
}
