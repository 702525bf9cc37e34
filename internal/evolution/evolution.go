// Package evolution wires the genetic core (C9), the simulator strategy
// (C11), and the optional CMA-ES covariance model (C10) into a single
// schedulable unit: bootstrap a population against a candle window fetched
// through the price service (C8), then run one generation per invocation.
// There is no dedicated example for this orchestration layer — it is thin
// glue over internal/genetic, internal/simulator and internal/cmaes, built
// the way main.go's Wire() step composes every other component.
package evolution

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"github.com/rs/zerolog"

	"github.com/aristath/marketpulse/internal/cmaes"
	"github.com/aristath/marketpulse/internal/genetic"
	"github.com/aristath/marketpulse/internal/providers"
	"github.com/aristath/marketpulse/internal/simulator"
)

// CandleSource is the subset of internal/priceservice.Service the runner
// depends on to obtain the candle window a generation is evaluated against.
type CandleSource interface {
	GetOhcl(ctx context.Context, broker, symbol, resolution string, from, to int64, limit int) ([]providers.Candle, bool, error)
}

// Config controls Runner construction: which window to evaluate against and
// the genetic/simulator parameters from spec.md §3/§4.9/§4.11.
type Config struct {
	Broker, Symbol, Resolution string
	From, To                   int64

	PopulationLimit int
	InitialSize     int
	NCouples        int
	MutationRate    float64

	LookbackCandle    int
	LookbackOrder     int
	BatchMoneyForFund int
	Money, Stock      float64
	ArgMin, ArgMax    float64

	UseConvex      bool
	CheckpointPath string
}

// Runner owns one population evolving against one candle window, guarded by
// a mutex since it is invoked both from the cron scheduler and, read-only,
// from the BFF's stats endpoint.
type Runner struct {
	mu sync.Mutex

	cfg     Config
	candles CandleSource
	rng     *rand.Rand
	log     zerolog.Logger

	model      *simulator.Model
	population *genetic.Population
	session    int64
	bootstrapped bool
}

// New constructs a Runner. The population is not fetched/seeded until the
// first RunGeneration call, so construction never blocks on a network call.
func New(cfg Config, candles CandleSource, rng *rand.Rand, log zerolog.Logger) *Runner {
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	if cfg.PopulationLimit <= 0 {
		cfg.PopulationLimit = 50
	}
	if cfg.InitialSize <= 0 {
		cfg.InitialSize = cfg.PopulationLimit / 2
	}
	if cfg.NCouples <= 0 {
		cfg.NCouples = 5
	}
	if cfg.MutationRate <= 0 {
		cfg.MutationRate = 0.05
	}
	return &Runner{
		cfg:     cfg,
		candles: candles,
		rng:     rng,
		log:     log.With().Str("component", "evolution").Logger(),
	}
}

// bootstrap fetches the candle window, builds the simulator Context/Model,
// loads a checkpointed CMA-ES model if one exists, and seeds the
// population. Must be called with mu held.
func (r *Runner) bootstrap(ctx context.Context) error {
	candles, _, err := r.candles.GetOhcl(ctx, r.cfg.Broker, r.cfg.Symbol, r.cfg.Resolution, r.cfg.From, r.cfg.To, 0)
	if err != nil {
		return fmt.Errorf("evolution: failed to fetch candle window: %w", err)
	}
	if len(candles) == 0 {
		return fmt.Errorf("evolution: empty candle window for %s/%s", r.cfg.Broker, r.cfg.Symbol)
	}

	o := make([]float64, len(candles))
	h := make([]float64, len(candles))
	l := make([]float64, len(candles))
	c := make([]float64, len(candles))
	v := make([]float64, len(candles))
	for i, candle := range candles {
		o[i], h[i], l[i], c[i], v[i] = candle.O, candle.H, candle.L, candle.C, candle.V
	}

	flattened := simulator.Flatten(o, h, l, c, v)
	simCtx := simulator.NewContext(flattened, len(candles), r.cfg.LookbackCandle, r.cfg.LookbackOrder,
		r.cfg.BatchMoneyForFund, r.cfg.Money, r.cfg.Stock, r.cfg.ArgMin, r.cfg.ArgMax, c)

	model := simulator.NewModel(simCtx, r.rng)
	if r.cfg.UseConvex {
		if loaded, err := cmaes.LoadCheckpoint(r.cfg.CheckpointPath, r.rng); err == nil {
			model.Convex = loaded
		} else {
			model.Convex = cmaes.New(simulatorMarketLen(r.cfg.LookbackCandle), 0.3, r.cfg.ArgMin, r.cfg.ArgMax, r.rng)
		}
	}

	population := genetic.New(r.cfg.PopulationLimit, model, r.rng)
	population.Initialize(r.cfg.InitialSize, 0, nil)

	r.model = model
	r.population = population
	r.bootstrapped = true
	return nil
}

// simulatorMarketLen mirrors simulator's internal market gene length
// (5*lookback padded to a multiple of 8), duplicated here because the
// original helper is unexported.
func simulatorMarketLen(lookbackCandle int) int {
	raw := 5 * lookbackCandle
	if raw%8 != 0 {
		raw += 8 - raw%8
	}
	return raw
}

// RunGeneration bootstraps the population on first call, then runs one
// generation: Evolute breeds and culls, Optimize feeds the market genes of
// the whole resulting population, newly bred children included, into
// CMA-ES when enabled.
func (r *Runner) RunGeneration(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.bootstrapped {
		if err := r.bootstrap(ctx); err != nil {
			return err
		}
	}

	r.session++
	if err := r.population.Evolute(r.cfg.NCouples, r.session, r.cfg.MutationRate); err != nil {
		return fmt.Errorf("evolution: generation %d failed: %w", r.session, err)
	}
	r.population.Optimize()

	if r.model.Convex != nil && r.cfg.CheckpointPath != "" {
		if err := r.model.Convex.SaveCheckpoint(r.cfg.CheckpointPath); err != nil {
			r.log.Warn().Err(err).Msg("failed to persist cma-es checkpoint")
		}
	}
	return nil
}

// Statistics reports the current population's fitness distribution. Returns
// an error if no generation has run yet.
func (r *Runner) Statistics() (genetic.Statistics, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.bootstrapped {
		return genetic.Statistics{}, fmt.Errorf("evolution: no generation has run yet")
	}
	return r.population.Statistic()
}

// Job adapts Runner to the teacher's Run/Name job shape so it can be
// scheduled via internal/cron alongside clientdata.CleanupJob and
// variables.CheckpointJob.
type Job struct {
	runner *Runner
}

// NewJob wraps runner.
func NewJob(runner *Runner) *Job { return &Job{runner: runner} }

// Run advances the population by one generation.
func (j *Job) Run() error { return j.runner.RunGeneration(context.Background()) }

// Name identifies this job for scheduling and logging.
func (j *Job) Name() string { return "evolve" }
