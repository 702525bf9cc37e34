package variables

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// DurabilitySchema backs variable_checkpoints, a periodic snapshot of every
// registered variable's ring and flush buffers. Deliberately opened over
// github.com/mattn/go-sqlite3 (the cgo driver) rather than the pure-Go
// driver internal/database wraps elsewhere, matching the teacher's
// dual-driver posture: the response cache and job history are read far
// more than written and tolerate the pure-Go driver's single-writer
// serialization, while this table is written on every checkpoint tick, so
// its contention profile differs enough to keep the two drivers apart. See
// DESIGN.md.
const DurabilitySchema = `
CREATE TABLE IF NOT EXISTS variable_checkpoints (
    name TEXT PRIMARY KEY,
    ring TEXT NOT NULL,
    flush TEXT NOT NULL,
    updated_at INTEGER NOT NULL
);
`

// InitDurabilitySchema ensures variable_checkpoints exists.
func InitDurabilitySchema(db *sql.DB) error {
	_, err := db.Exec(DurabilitySchema)
	return err
}

// Durability persists and restores ring/flush buffer snapshots so an
// unplanned restart resumes accumulating where it left off rather than
// re-arming empty buffers.
type Durability struct {
	db *sql.DB
}

// NewDurability wraps a database connection already bearing
// variable_checkpoints (see InitDurabilitySchema).
func NewDurability(db *sql.DB) *Durability {
	return &Durability{db: db}
}

// Save upserts name's current ring and flush buffer contents.
func (d *Durability) Save(name string, ringValues, flushValues []float64) error {
	ringJSON, err := json.Marshal(ringValues)
	if err != nil {
		return fmt.Errorf("variables: failed to marshal ring checkpoint for %s: %w", name, err)
	}
	flushJSON, err := json.Marshal(flushValues)
	if err != nil {
		return fmt.Errorf("variables: failed to marshal flush checkpoint for %s: %w", name, err)
	}
	_, err = d.db.Exec(
		`INSERT OR REPLACE INTO variable_checkpoints (name, ring, flush, updated_at) VALUES (?, ?, ?, ?)`,
		name, string(ringJSON), string(flushJSON), time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("variables: failed to save checkpoint for %s: %w", name, err)
	}
	return nil
}

// Load returns the last-checkpointed ring and flush buffer contents for
// name, or (nil, nil, nil) if none was ever saved.
func (d *Durability) Load(name string) (ringValues, flushValues []float64, err error) {
	var ringJSON, flushJSON string
	err = d.db.QueryRow(`SELECT ring, flush FROM variable_checkpoints WHERE name = ?`, name).Scan(&ringJSON, &flushJSON)
	if err == sql.ErrNoRows {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("variables: failed to load checkpoint for %s: %w", name, err)
	}
	if err := json.Unmarshal([]byte(ringJSON), &ringValues); err != nil {
		return nil, nil, fmt.Errorf("variables: malformed ring checkpoint for %s: %w", name, err)
	}
	if err := json.Unmarshal([]byte(flushJSON), &flushValues); err != nil {
		return nil, nil, fmt.Errorf("variables: malformed flush checkpoint for %s: %w", name, err)
	}
	return ringValues, flushValues, nil
}

// Checkpoint snapshots every currently registered variable's ring and
// flush buffers to durability. Intended to run on a short interval via a
// scheduled job (see CheckpointJob).
func (s *Store) Checkpoint(ctx context.Context) error {
	if s.durability == nil {
		return nil
	}

	s.mu.Lock()
	snapshots := make(map[string][2][]float64, len(s.vars))
	for name, v := range s.vars {
		ring := append([]float64(nil), v.ring.values...)
		flush := append([]float64(nil), v.flush...)
		snapshots[name] = [2][]float64{ring, flush}
	}
	s.mu.Unlock()

	var firstErr error
	for name, snap := range snapshots {
		if err := s.durability.Save(name, snap[0], snap[1]); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Restore repopulates every registered variable's ring and flush buffers
// from durability, called once at startup after RegisterVariable but
// before any live Update calls.
func (s *Store) Restore(ctx context.Context) error {
	if s.durability == nil {
		return nil
	}

	s.mu.Lock()
	names := make([]string, 0, len(s.vars))
	for name := range s.vars {
		names = append(names, name)
	}
	s.mu.Unlock()

	for _, name := range names {
		ringValues, flushValues, err := s.durability.Load(name)
		if err != nil {
			return err
		}
		if ringValues == nil && flushValues == nil {
			continue
		}

		s.mu.Lock()
		v := s.vars[name]
		v.ring.values = ringValues
		if len(v.ring.values) > v.ring.capacity {
			v.ring.values = v.ring.values[:v.ring.capacity]
		}
		v.flush = flushValues
		s.mu.Unlock()
	}
	return nil
}

// CheckpointJob periodically calls Store.Checkpoint, matching the
// teacher's Run/Name job shape used by clientdata.CleanupJob.
type CheckpointJob struct {
	store *Store
}

// NewCheckpointJob constructs a CheckpointJob over store.
func NewCheckpointJob(store *Store) *CheckpointJob {
	return &CheckpointJob{store: store}
}

// Run snapshots every registered variable's buffers.
func (j *CheckpointJob) Run() error {
	return j.store.Checkpoint(context.Background())
}

// Name identifies this job for scheduling and logging.
func (j *CheckpointJob) Name() string { return "variable_checkpoint" }
