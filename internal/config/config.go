// Package config defines the engine's tunables and how they are loaded:
// built-in defaults, overridden by an optional YAML file, overridden by CLI
// flags.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds every tunable knob the engine exposes. Zero values are never valid
// configuration; Defaults() must be the starting point.
type Config struct {
	DataDir string `yaml:"data_dir"`

	// BlockSize is the fixed size, in bytes, of every block in every table
	// file. It cannot be changed after a database is created.
	BlockSize int `yaml:"block_size"`

	// BufferPoolSlots is the number of frames the buffer pool holds.
	BufferPoolSlots int `yaml:"buffer_pool_slots"`

	// PinTimeoutMS bounds how long Pin will spin-wait for a free frame
	// before giving up.
	PinTimeoutMS int `yaml:"pin_timeout_ms"`

	// WorkingMemBytes bounds the in-memory row buffer a TupleTable may hold
	// before it spills a segment to disk.
	WorkingMemBytes int64 `yaml:"working_mem_bytes"`

	// BTreeOrder is loaded from the config file but not read by the engine:
	// a B+Tree node's fan-out is always computed from BlockSize and key width.
	BTreeOrder int `yaml:"btree_order"`

	// HashGlobalDepth is the initial global depth of a newly created
	// extendible hash index (i.e. it starts with 2^depth buckets).
	HashGlobalDepth uint8 `yaml:"hash_global_depth"`

	// FreeSpaceGranularity is the bucket width the free space map quantizes
	// block free-byte counts to before indexing them.
	FreeSpaceGranularity int `yaml:"free_space_granularity"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		DataDir:              "./data",
		BlockSize:            4096,
		BufferPoolSlots:      100,
		PinTimeoutMS:         10000,
		WorkingMemBytes:      16000,
		BTreeOrder:           0,
		HashGlobalDepth:      4,
		FreeSpaceGranularity: 10,
	}
}

// Load starts from Defaults and overlays path's contents, if path is
// non-empty and exists. A missing path is not an error: it means "use
// defaults, let flags override them".
func Load(path string) (Config, error) {
	cfg := Defaults()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return cfg, nil
}
