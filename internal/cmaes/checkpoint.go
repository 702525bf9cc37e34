package cmaes

import (
	"fmt"
	"math/rand"
	"os"

	"github.com/vmihailenco/msgpack/v5"
)

// SaveCheckpoint msgpack-encodes c's flattened Model and writes it to path,
// so a restart can resume the covariance model instead of re-annealing from
// identity, per SPEC_FULL.md §3.
func (c *Convex) SaveCheckpoint(path string) error {
	data, err := msgpack.Marshal(c.ToModel())
	if err != nil {
		return fmt.Errorf("cmaes: failed to marshal checkpoint: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("cmaes: failed to write checkpoint %s: %w", path, err)
	}
	return nil
}

// LoadCheckpoint reads and msgpack-decodes a Model from path, reconstructing
// a Convex. Returns an error the caller should treat as "no checkpoint" when
// the file does not exist.
func LoadCheckpoint(path string, rng *rand.Rand) (*Convex, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cmaes: failed to read checkpoint %s: %w", path, err)
	}
	var m Model
	if err := msgpack.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("cmaes: failed to unmarshal checkpoint %s: %w", path, err)
	}
	return FromModel(m, rng)
}
