// Package appstate implements the component-handle aggregator and
// liveness probe (C12): it holds the scheduler handle and a set of named
// downstream probes (it holds no price service, variables store, or
// provider registry handle), forwards the once-per-second
// external tick into the scheduler while a lock flag is clear, and answers
// health checks by combining tick freshness, inflight/done accounting, and
// a cheap probe of every downstream store. Modeled on the teacher's
// internal/server/system_handlers.go health payload assembly (CPU/mem via
// gopsutil folded in alongside component-specific checks).
package appstate

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// Ticker is the subset of internal/cron.Scheduler appstate depends on.
type Ticker interface {
	Tick(ctx context.Context, now time.Time) (int, error)
	Health() bool
	Stats() (tick, inflight, done int64)
}

// Prober is a cheap liveness check against a downstream store (a database
// ping, a blob-store HEAD, etc).
type Prober interface {
	Probe(ctx context.Context) error
}

// Config controls State construction.
type Config struct {
	Scheduler      Ticker
	Probes         map[string]Prober // name -> prober, e.g. "variables_db", "blobstore"
	Timeframe      int           // bounded deque size for recent tick timestamps
	MaxUpdatedTime time.Duration // health fails if the last tick is older than this
	MaxInflight    int64         // health fails if inflight-done exceeds this
}

// State is the C12 appstate actor: single owner of the lock flag and the
// recent-ticks deque, guarded by its own mutex per the teacher's
// single-owner-mailbox posture used throughout this module.
type State struct {
	mu sync.Mutex

	scheduler Ticker
	probes    map[string]Prober

	locked bool

	ticks     []int64 // ring of recent wall-clock unix seconds, oldest first
	timeframe int

	maxUpdatedTime time.Duration
	maxInflight    int64

	log zerolog.Logger
}

// New constructs a State.
func New(cfg Config, log zerolog.Logger) *State {
	if cfg.Timeframe <= 0 {
		cfg.Timeframe = 300
	}
	if cfg.MaxUpdatedTime <= 0 {
		cfg.MaxUpdatedTime = 15 * time.Second
	}
	if cfg.MaxInflight <= 0 {
		cfg.MaxInflight = 32
	}
	return &State{
		scheduler:      cfg.Scheduler,
		probes:         cfg.Probes,
		timeframe:      cfg.Timeframe,
		maxUpdatedTime: cfg.MaxUpdatedTime,
		maxInflight:    cfg.MaxInflight,
		log:            log.With().Str("component", "appstate").Logger(),
	}
}

// Lock suspends forwarding of Tick calls to the scheduler, per the BFF's
// PUT /api/config/v1/cronjobs/lock control endpoint.
func (s *State) Lock() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locked = true
}

// Unlock resumes forwarding of Tick calls.
func (s *State) Unlock() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locked = false
}

// Locked reports the current lock state.
func (s *State) Locked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locked
}

// Tick is invoked once per wall-clock second by the external driver. When
// unlocked it forwards to the scheduler's Tick, then records now into the
// bounded recent-ticks deque, dropping the oldest entry on overflow.
func (s *State) Tick(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	locked := s.locked
	s.mu.Unlock()

	if locked {
		return 0, nil
	}

	fired, err := s.scheduler.Tick(ctx, now)

	s.mu.Lock()
	s.ticks = append(s.ticks, now.Unix())
	if len(s.ticks) > s.timeframe {
		s.ticks = s.ticks[len(s.ticks)-s.timeframe:]
	}
	s.mu.Unlock()

	return fired, err
}

// RecentTicks returns a copy of the bounded tick-timestamp deque, newest
// last, for the /health endpoint's crontime field.
func (s *State) RecentTicks() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int64, len(s.ticks))
	copy(out, s.ticks)
	return out
}

// Health is the liveness payload returned by GET /health.
type Health struct {
	CronTime   []int64 `json:"crontime"`
	Current    int64   `json:"current"`
	Running    int64   `json:"running"`
	Done       int64   `json:"done"`
	Status     bool    `json:"status"`
	CPUPercent float64 `json:"cpu_percent"`
	MemUsedPct float64 `json:"mem_used_percent"`
}

// Check assembles the health payload: OK iff the most recent tick is
// within maxUpdatedTime, inflight-done <= maxInflight, and every
// registered downstream probe succeeds.
func (s *State) Check(ctx context.Context) Health {
	tick, inflight, done := s.scheduler.Stats()

	recent := s.RecentTicks()
	var lastTick int64
	if len(recent) > 0 {
		lastTick = recent[len(recent)-1]
	}

	fresh := s.scheduler.Health() && time.Now().Unix()-lastTick <= int64(s.maxUpdatedTime.Seconds())
	withinInflight := inflight-done <= s.maxInflight

	ok := fresh && withinInflight
	for name, probe := range s.probes {
		if err := probe.Probe(ctx); err != nil {
			s.log.Warn().Err(err).Str("probe", name).Msg("liveness probe failed")
			ok = false
		}
	}

	cpuPct, memPct := s.systemStats()

	return Health{
		CronTime:   recent,
		Current:    tick,
		Running:    inflight,
		Done:       done,
		Status:     ok,
		CPUPercent: cpuPct,
		MemUsedPct: memPct,
	}
}

// systemStats samples CPU and memory utilization the same way the
// teacher's system handlers do: a cpu.Percent window that blocks for 100 ms
// plus an instant mem.VirtualMemory read.
func (s *State) systemStats() (cpuPercent, memPercent float64) {
	percents, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil || len(percents) == 0 {
		s.log.Debug().Err(err).Msg("failed to sample cpu percent")
	} else {
		cpuPercent = percents[0]
	}

	vm, err := mem.VirtualMemory()
	if err != nil {
		s.log.Debug().Err(err).Msg("failed to sample memory stats")
		return cpuPercent, 0
	}
	return cpuPercent, vm.UsedPercent
}
