// Package variables implements the time-series variables store (C4): a
// bounded, front-pushed ring buffer per named variable plus a companion
// flush buffer that, once every column registered under a scope has
// accumulated enough values, is materialized into a compressed columnar
// blob and uploaded to object storage.
//
// Concurrency: the store is owned by a single actor (see internal/cron for
// the mailbox pattern used elsewhere) — Store itself only takes a mutex for
// its bookkeeping maps and never blocks on I/O while holding it; the blob
// upload happens after the lock is released for everything except the
// buffers being flushed, which are drained under a second short lock once
// the upload succeeds.
package variables

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aristath/marketpulse/internal/blobstore"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Errors returned by Store operations, per spec.md §4.4/§7.
var (
	ErrVariableMissing = errors.New("variables: unknown variable")
	ErrBufferDesynced   = errors.New("variables: scope column buffers desynced by more than one element")
	ErrBlobUploadFailed = errors.New("variables: blob upload failed")
)

type ring struct {
	capacity int
	values   []float64 // index 0 is most recent
}

func newRing(capacity int) *ring {
	return &ring{capacity: capacity, values: make([]float64, 0, capacity)}
}

func (r *ring) push(v float64) {
	r.values = append([]float64{v}, r.values...)
	if len(r.values) > r.capacity {
		r.values = r.values[:r.capacity]
	}
}

func (r *ring) at(i int) (float64, bool) {
	if i < 0 || i >= len(r.values) {
		return 0, false
	}
	return r.values[i], true
}

type variable struct {
	ring   *ring
	flush  []float64 // oldest-first; drained on flush
}

// Store holds every registered variable's ring and flush buffer, and the
// scope membership used to decide when to auto-flush.
type Store struct {
	mu sync.Mutex

	vars   map[string]*variable
	scopes map[string][]string // scope name -> member variable names
	frozen map[string]bool     // scopes refusing writes until a manual Flush

	flushAfter int // flush_after_incremental_size
	prefix     string
	artifact   string

	uploader   blobstore.Uploader
	durability *Durability
	log        zerolog.Logger
}

// Config controls Store construction.
type Config struct {
	FlushAfterIncrementalSize int
	BlobPrefix                string // e.g. "investing"
	ArtifactName              string // e.g. "candles"
	Uploader                  blobstore.Uploader
	Durability                *Durability // optional; enables Checkpoint/Restore
}

// New constructs an empty Store.
func New(cfg Config, log zerolog.Logger) *Store {
	if cfg.FlushAfterIncrementalSize <= 0 {
		cfg.FlushAfterIncrementalSize = 1
	}
	if cfg.BlobPrefix == "" {
		cfg.BlobPrefix = "investing"
	}
	if cfg.ArtifactName == "" {
		cfg.ArtifactName = "snapshot"
	}
	return &Store{
		vars:       make(map[string]*variable),
		scopes:     make(map[string][]string),
		frozen:     make(map[string]bool),
		flushAfter: cfg.FlushAfterIncrementalSize,
		prefix:     cfg.BlobPrefix,
		artifact:   cfg.ArtifactName,
		uploader:   cfg.Uploader,
		durability: cfg.Durability,
		log:        log.With().Str("component", "variables").Logger(),
	}
}

// RegisterVariable declares a named variable with the given ring capacity
// (timeseries_size). Re-registering an existing name is a no-op.
func (s *Store) RegisterVariable(name string, capacity int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.vars[name]; exists {
		return
	}
	s.vars[name] = &variable{ring: newRing(capacity)}
}

// RegisterScope declares the set of variable names that must all be full
// for an auto-flush of scope to fire.
func (s *Store) RegisterScope(scope string, variableNames []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]string, len(variableNames))
	copy(cp, variableNames)
	s.scopes[scope] = cp
}

// Update pushes value into name's ring (evicting the oldest value on
// overflow) and appends it to name's flush buffer, then checks whether scope
// is ready to auto-flush.
func (s *Store) Update(ctx context.Context, scope, name string, value float64) error {
	s.mu.Lock()
	v, ok := s.vars[name]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrVariableMissing, name)
	}
	if s.frozen[scope] {
		s.mu.Unlock()
		return fmt.Errorf("%w: scope %s is frozen pending manual flush", ErrBufferDesynced, scope)
	}

	v.ring.push(value)
	v.flush = append(v.flush, value)

	ready, desynced := s.scopeReadyLocked(scope)
	if desynced {
		s.frozen[scope] = true
		s.mu.Unlock()
		return fmt.Errorf("%w: scope %s", ErrBufferDesynced, scope)
	}
	s.mu.Unlock()

	if ready {
		return s.Flush(ctx, scope)
	}
	return nil
}

// scopeReadyLocked reports whether every member of scope has a flush buffer
// at least flushAfter long, and whether their lengths disagree by more than
// one (an Invariant violation). Must be called with s.mu held.
func (s *Store) scopeReadyLocked(scope string) (ready, desynced bool) {
	members := s.scopes[scope]
	if len(members) == 0 {
		return false, false
	}

	minLen, maxLen := -1, -1
	for _, name := range members {
		v, ok := s.vars[name]
		if !ok {
			return false, false
		}
		l := len(v.flush)
		if minLen == -1 || l < minLen {
			minLen = l
		}
		if l > maxLen {
			maxLen = l
		}
	}
	if maxLen-minLen > 1 {
		return false, true
	}
	return minLen >= s.flushAfter, false
}

// GetByIndex returns the i-th most recent value pushed to name (0 = latest).
func (s *Store) GetByIndex(name string, i int) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vars[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrVariableMissing, name)
	}
	val, ok := v.ring.at(i)
	if !ok {
		return 0, fmt.Errorf("variables: index %d out of range for %s", i, name)
	}
	return val, nil
}

// Flush materializes scope's buffered columns into a compressed columnar
// blob and uploads it, then drains every column's buffer. Per spec.md
// §4.4/§8, the materialized length is the max of the per-column buffer
// lengths at flush entry; a column that is one update behind (the only gap
// scopeReadyLocked admits) is held at its last value for the extra row
// rather than left short, so every column with buffered values comes out
// the same length. A member whose buffer is empty at flush entry (possible
// on a manual Flush of a frozen scope) is written as an empty column
// rather than given fabricated values.
func (s *Store) Flush(ctx context.Context, scope string) error {
	s.mu.Lock()
	members := s.scopes[scope]
	if len(members) == 0 {
		s.mu.Unlock()
		return nil
	}

	columns := make(map[string][]float64, len(members))
	committed := make(map[string]int, len(members))
	length := 0
	for _, name := range members {
		v, ok := s.vars[name]
		if !ok {
			s.mu.Unlock()
			return fmt.Errorf("%w: %s", ErrVariableMissing, name)
		}
		committed[name] = len(v.flush)
		if len(v.flush) > length {
			length = len(v.flush)
		}
	}
	if length <= 0 {
		s.mu.Unlock()
		return nil
	}
	for _, name := range members {
		v := s.vars[name]
		if len(v.flush) == 0 {
			columns[name] = []float64{}
			continue
		}
		col := make([]float64, length)
		copy(col, v.flush)
		for i := len(v.flush); i < length; i++ {
			col[i] = v.flush[len(v.flush)-1]
		}
		columns[name] = col
	}
	s.mu.Unlock()

	now := time.Now().UTC()
	blob, err := encodeColumnar(members, columns)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBlobUploadFailed, err)
	}

	key := fmt.Sprintf("%s/%s/%s-%s-%d-%s.parquet",
		s.prefix, now.Format("2006-01-02"), s.artifact, scope, now.UnixMilli(), uuid.NewString())

	if s.uploader != nil {
		if err := s.uploader.Put(ctx, key, blob, "application/octet-stream"); err != nil {
			return fmt.Errorf("%w: %v", ErrBlobUploadFailed, err)
		}
	}

	s.mu.Lock()
	for _, name := range members {
		v := s.vars[name]
		v.flush = v.flush[committed[name]:]
	}
	s.frozen[scope] = false
	s.mu.Unlock()

	s.log.Info().Str("scope", scope).Str("key", key).Int("rows", length).Msg("flushed variable scope")
	return nil
}

// FlushAll flushes every registered scope, used on graceful shutdown.
func (s *Store) FlushAll(ctx context.Context) error {
	s.mu.Lock()
	scopeNames := make([]string, 0, len(s.scopes))
	for name := range s.scopes {
		scopeNames = append(scopeNames, name)
	}
	s.mu.Unlock()

	var firstErr error
	for _, scope := range scopeNames {
		if err := s.Flush(ctx, scope); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
