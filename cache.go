package nuvatis

import (
	"context"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Cache is the second-level cache contract used by the execution pipeline.
// Values are opaque snapshots; each namespace owns an independent region.
//
// Get returns the epoch the region was in when the lookup happened. Put
// must drop the value when the region has been invalidated since that
// epoch, so a result computed concurrently with a mutation is never stored.
type Cache interface {
	// Get retrieves a snapshot. ok is false on a miss.
	Get(ctx context.Context, namespace string, key uint64) (value []byte, epoch uint64, ok bool)

	// Put stores a snapshot computed after a lookup at the given epoch.
	Put(ctx context.Context, namespace string, key uint64, epoch uint64, value []byte)

	// Invalidate discards every entry of the namespace's region.
	Invalidate(ctx context.Context, namespace string)
}

// EvictionPolicy names the replacement policy requested for a region.
type EvictionPolicy string

// Eviction policies. Regions backed by the built-in cache implement LRU;
// other values are pass-through hints for custom Cache implementations.
const (
	EvictionLRU  EvictionPolicy = "lru"
	EvictionFIFO EvictionPolicy = "fifo"
)

// CacheConfig holds per-namespace cache settings. The engine only consults
// Enabled; the rest are hints for the region implementation.
type CacheConfig struct {
	Enabled       bool           `yaml:"enabled"`
	SizeLimit     int            `yaml:"size_limit,omitempty"`
	Eviction      EvictionPolicy `yaml:"eviction,omitempty"`
	FlushInterval time.Duration  `yaml:"flush_interval,omitempty"`
}

// UnmarshalYAML decodes a region entry. A missing enabled key means true,
// so an entry that only tunes a region keeps it on. Unknown keys are
// rejected.
func (c *CacheConfig) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind == yaml.MappingNode {
		for i := 0; i+1 < len(n.Content); i += 2 {
			switch k := n.Content[i]; k.Value {
			case "enabled", "size_limit", "eviction", "flush_interval":
			default:
				return fmt.Errorf("line %d: field %s not found in cache config", k.Line, k.Value)
			}
		}
	}
	type plain CacheConfig
	p := plain{Enabled: true}
	if err := n.Decode(&p); err != nil {
		return err
	}
	*c = CacheConfig(p)
	return nil
}
