package config

import (
	"encoding/json"
	"fmt"
	"os"
	"slices"
)

// BackendConfig describes a single PostgreSQL backend and its shard range.
// database_url may reference environment variables as $VAR or ${VAR}.
type BackendConfig struct {
	Name        string `json:"name"`
	DatabaseURL string `json:"database_url"`
	ShardStart  int    `json:"shard_start"`
	ShardEnd    int    `json:"shard_end"`
	MaxConns    int32  `json:"max_conns,omitempty"`
}

// Shards returns the number of shards the backend owns.
func (b BackendConfig) Shards() int { return b.ShardEnd - b.ShardStart + 1 }

// ShardConfig holds the list of backends that together cover all shards,
// ordered by shard_start.
type ShardConfig struct {
	Backends []BackendConfig `json:"backends"`
}

// BackendFor returns the backend owning shardID.
func (c *ShardConfig) BackendFor(shardID int) (BackendConfig, bool) {
	for _, b := range c.Backends {
		if shardID >= b.ShardStart && shardID <= b.ShardEnd {
			return b, true
		}
	}
	return BackendConfig{}, false
}

// LoadShardConfig reads a JSON shard config file and validates it against numShards.
func LoadShardConfig(path string, numShards int) (*ShardConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read shard config: %w", err)
	}

	var cfg ShardConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse shard config: %w", err)
	}
	for i := range cfg.Backends {
		b := &cfg.Backends[i]
		b.DatabaseURL = os.ExpandEnv(b.DatabaseURL)
		if b.Name == "" {
			b.Name = fmt.Sprintf("backend-%d", i)
		}
	}
	if err := cfg.Validate(numShards); err != nil {
		return nil, err
	}
	slices.SortFunc(cfg.Backends, func(a, b BackendConfig) int { return a.ShardStart - b.ShardStart })
	return &cfg, nil
}

// Validate requires every shard in [0, numShards) to be owned by exactly one
// backend.
func (c *ShardConfig) Validate(numShards int) error {
	if len(c.Backends) == 0 {
		return fmt.Errorf("shard config: no backends defined")
	}

	covered := make([]bool, numShards)
	names := make(map[string]bool, len(c.Backends))

	for i, b := range c.Backends {
		if names[b.Name] {
			return fmt.Errorf("shard config: duplicate backend name %q", b.Name)
		}
		names[b.Name] = true
		if b.DatabaseURL == "" {
			return fmt.Errorf("shard config: backend %q (#%d) has empty database_url", b.Name, i)
		}
		if b.ShardStart < 0 || b.ShardEnd < 0 {
			return fmt.Errorf("shard config: backend %q has negative shard range", b.Name)
		}
		if b.ShardStart > b.ShardEnd {
			return fmt.Errorf("shard config: backend %q has shard_start (%d) > shard_end (%d)", b.Name, b.ShardStart, b.ShardEnd)
		}
		if b.ShardEnd >= numShards {
			return fmt.Errorf("shard config: backend %q shard_end (%d) >= num_shards (%d)", b.Name, b.ShardEnd, numShards)
		}
		if b.MaxConns < 0 {
			return fmt.Errorf("shard config: backend %q has negative max_conns", b.Name)
		}
		for s := b.ShardStart; s <= b.ShardEnd; s++ {
			if covered[s] {
				return fmt.Errorf("shard config: shard %d is covered by multiple backends", s)
			}
			covered[s] = true
		}
	}

	for s := 0; s < numShards; s++ {
		if !covered[s] {
			return fmt.Errorf("shard config: shard %d is not covered by any backend", s)
		}
	}
	return nil
}
