package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Load decodes and validates a simulation description from path, returning
// the fully resolved model ready for the resolver.
func Load(path string) (*Resolved, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return LoadBytes(raw)
}

// LoadBytes decodes and validates a simulation description already held in
// memory, primarily for tests.
func LoadBytes(raw []byte) (*Resolved, error) {
	var sim Simulation
	meta, err := toml.Decode(string(raw), &sim)
	if err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config: unrecognized keys: %v", undecoded)
	}
	return validate(&sim)
}
