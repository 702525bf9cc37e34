// Package genetic implements the genetic core (C9): a population of
// players evolved against a pluggable Model (the simulator strategy, C11,
// or CMA-ES, C10). Parallel fitness evaluation follows the job/result
// channel + sync.WaitGroup worker-pool shape of
// services/evaluator/internal/workers/pool.go's WorkerPool.EvaluateBatch,
// defaulting to 10 workers and only going parallel once the population
// exceeds 100 individuals, per spec.md §4.9 step 1.
package genetic

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
)

var (
	ErrInvalidMutationRate = errors.New("genetic: mutation rate must be within [0, 1]")
	ErrTooManyCouples      = errors.New("genetic: 2*n_couples must be less than limit")
)

// Individual is one member of the population.
type Individual struct {
	Player  interface{}
	Fitness float64
	Created int64 // session this individual was created in
	Session int64 // most recent session its fitness was recorded under
}

// Model is the pluggable strategy/optimizer the population evolves against.
// Implemented by internal/simulator for fitness/mutation/crossover and
// consulted by Optimize for population-level updates (e.g. CMA-ES).
type Model interface {
	RandomPlayer() interface{}
	Evaluate(player interface{}) float64
	IsExtinct(player interface{}) bool
	Mutate(player interface{}, geneArgs interface{}, gene int) interface{}
	Crossover(father, mother interface{}, fatherFit, motherFit float64) interface{}
	Optimize(population []Individual)
}

const parallelThreshold = 100
const defaultWorkers = 10

// Population holds the evolving set of individuals against a capacity
// limit.
type Population struct {
	Individuals []Individual
	Limit       int
	Model       Model
	Workers     int
	Rand        *rand.Rand
}

// New constructs an empty Population bounded to limit individuals.
func New(limit int, model Model, rng *rand.Rand) *Population {
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	return &Population{Limit: limit, Model: model, Workers: defaultWorkers, Rand: rng}
}

// Initialize seeds the population with n individuals. When session > 0 and
// shuttleRate is non-nil, existing players carry over with probability
// proportional to their current fitness (roulette-wheel over normalized
// fitness); the remaining slots are filled with fresh random players.
// Otherwise (session == 0, or no shuttle rate) the population is cleared
// first.
func (p *Population) Initialize(n int, session int64, shuttleRate *float64) {
	if session == 0 || shuttleRate == nil {
		p.Individuals = make([]Individual, 0, n)
		for i := 0; i < n; i++ {
			p.Individuals = append(p.Individuals, Individual{
				Player:  p.Model.RandomPlayer(),
				Created: session,
				Session: session,
			})
		}
		return
	}

	carried := p.rouletteCarryover(n, *shuttleRate, session)
	for len(carried) < n {
		carried = append(carried, Individual{
			Player:  p.Model.RandomPlayer(),
			Created: session,
			Session: session,
		})
	}
	p.Individuals = carried
}

func (p *Population) rouletteCarryover(n int, shuttleRate float64, session int64) []Individual {
	if len(p.Individuals) == 0 {
		return nil
	}

	total := 0.0
	for _, ind := range p.Individuals {
		total += math.Max(0, ind.Fitness)
	}

	carried := make([]Individual, 0, n)
	for _, ind := range p.Individuals {
		if len(carried) >= n {
			break
		}
		prob := shuttleRate
		if total > 0 {
			prob = shuttleRate * (math.Max(0, ind.Fitness) / total)
		}
		if p.Rand.Float64() < prob {
			carried = append(carried, ind)
		}
	}
	return carried
}

// EvaluateAll scores every individual's fitness under the current session,
// in parallel when the population exceeds 100.
func (p *Population) EvaluateAll(session int64) {
	n := len(p.Individuals)
	if n == 0 {
		return
	}
	if n <= parallelThreshold {
		for i := range p.Individuals {
			p.Individuals[i].Fitness = p.Model.Evaluate(p.Individuals[i].Player)
			p.Individuals[i].Session = session
		}
		return
	}

	workers := p.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	if n < workers {
		workers = n
	}

	type job struct {
		index int
	}
	jobs := make(chan job, n)
	type result struct {
		index   int
		fitness float64
	}
	results := make(chan result, n)

	done := make(chan struct{})
	for w := 0; w < workers; w++ {
		go func() {
			for j := range jobs {
				results <- result{index: j.index, fitness: p.Model.Evaluate(p.Individuals[j.index].Player)}
			}
			done <- struct{}{}
		}()
	}

	for i := 0; i < n; i++ {
		jobs <- job{index: i}
	}
	close(jobs)

	go func() {
		for w := 0; w < workers; w++ {
			<-done
		}
		close(results)
	}()

	for r := range results {
		p.Individuals[r.index].Fitness = r.fitness
		p.Individuals[r.index].Session = session
	}
}

// Evolute runs one generation: evaluate fitness, cull the extinct and
// unfit, breed nCouples children, and append them.
func (p *Population) Evolute(nCouples int, session int64, mutationRate float64) error {
	if mutationRate < 0 || mutationRate > 1 {
		return ErrInvalidMutationRate
	}
	if 2*nCouples >= p.Limit {
		return ErrTooManyCouples
	}

	p.EvaluateAll(session)

	p.removeExtinct()

	if len(p.Individuals) > p.Limit-nCouples {
		sort.Slice(p.Individuals, func(i, j int) bool {
			return p.Individuals[i].Fitness > p.Individuals[j].Fitness
		})
		p.Individuals = p.Individuals[:p.Limit-nCouples]
	}

	cumulative, totalFitness := p.buildRoulette()

	for i := 0; i < nCouples; i++ {
		father := p.pickByRoulette(cumulative, totalFitness)
		mother := p.pickByRoulette(cumulative, totalFitness)

		child := p.Model.Crossover(father.Player, mother.Player, father.Fitness, mother.Fitness)
		child = p.mutateChild(child, mutationRate)

		p.Individuals = append(p.Individuals, Individual{
			Player:  child,
			Created: session,
			Session: session,
		})
	}
	return nil
}

// removeExtinct marks individuals the model deems extinct and randomly
// removes a fraction of them equal to the extinction ratio observed.
func (p *Population) removeExtinct() {
	var extinctIdx []int
	for i, ind := range p.Individuals {
		if p.Model.IsExtinct(ind.Player) {
			extinctIdx = append(extinctIdx, i)
		}
	}
	if len(extinctIdx) == 0 {
		return
	}

	ratio := float64(len(extinctIdx)) / float64(len(p.Individuals))
	remove := make(map[int]bool)
	for _, idx := range extinctIdx {
		if p.Rand.Float64() < ratio {
			remove[idx] = true
		}
	}
	if len(remove) == 0 {
		return
	}

	kept := p.Individuals[:0:0]
	for i, ind := range p.Individuals {
		if !remove[i] {
			kept = append(kept, ind)
		}
	}
	p.Individuals = kept
}

// buildRoulette returns a cumulative normalized-fitness table. When total
// fitness is non-positive, the roulette is uniform over all individuals.
func (p *Population) buildRoulette() (cumulative []float64, total float64) {
	for _, ind := range p.Individuals {
		total += ind.Fitness
	}

	cumulative = make([]float64, len(p.Individuals))
	if total <= 0 {
		n := float64(len(p.Individuals))
		running := 0.0
		for i := range p.Individuals {
			running += 1.0 / n
			cumulative[i] = running
		}
		return cumulative, total
	}

	running := 0.0
	for i, ind := range p.Individuals {
		running += ind.Fitness / total
		cumulative[i] = running
	}
	return cumulative, total
}

// pickByRoulette picks one individual via binary search over cumulative
// with a uniform [0,1) target.
func (p *Population) pickByRoulette(cumulative []float64, total float64) Individual {
	target := p.Rand.Float64()
	idx := sort.SearchFloat64s(cumulative, target)
	if idx >= len(p.Individuals) {
		idx = len(p.Individuals) - 1
	}
	return p.Individuals[idx]
}

// mutateChild applies per-gene mutation with probability mutationRate by
// delegating to the model's MutateWithRate, which decides per gene whether
// to mutate (C11's Model implements it). A model without MutateWithRate
// leaves the child unchanged; Model.Mutate is not called here.
func (p *Population) mutateChild(child interface{}, mutationRate float64) interface{} {
	type perGeneMutator interface {
		MutateWithRate(player interface{}, rate float64, rng *rand.Rand) interface{}
	}
	if m, ok := p.Model.(perGeneMutator); ok {
		return m.MutateWithRate(child, mutationRate, p.Rand)
	}
	return child
}

// Fluctuate applies independent per-gene mutation across the whole
// population (not just new children) and re-evaluates fitness afterward.
func (p *Population) Fluctuate(session int64, perGeneArgs []interface{}, mutationRate float64) error {
	if mutationRate < 0 || mutationRate > 1 {
		return ErrInvalidMutationRate
	}
	for i, ind := range p.Individuals {
		player := ind.Player
		for gene, args := range perGeneArgs {
			if p.Rand.Float64() < mutationRate {
				player = p.Model.Mutate(player, args, gene)
			}
		}
		p.Individuals[i].Player = player
	}
	p.EvaluateAll(session)
	return nil
}

// Optimize delegates a population-level update (e.g. CMA-ES) to the model.
func (p *Population) Optimize() {
	p.Model.Optimize(p.Individuals)
}

// Statistics bundles the summary fitness distribution returned by
// Statistic.
type Statistics struct {
	Best   float64
	Worst  float64
	Median float64
	P55    float64
	P75    float64
	P95    float64
	P99    float64
	StdDev float64
}

// Statistic computes the fitness distribution for the current population.
func (p *Population) Statistic() (Statistics, error) {
	n := len(p.Individuals)
	if n == 0 {
		return Statistics{}, fmt.Errorf("genetic: cannot compute statistics over an empty population")
	}

	fitness := make([]float64, n)
	for i, ind := range p.Individuals {
		fitness[i] = ind.Fitness
	}
	sort.Float64s(fitness)

	mean := 0.0
	for _, f := range fitness {
		mean += f
	}
	mean /= float64(n)

	variance := 0.0
	for _, f := range fitness {
		variance += (f - mean) * (f - mean)
	}
	variance /= float64(n)

	return Statistics{
		Best:   fitness[n-1],
		Worst:  fitness[0],
		Median: percentile(fitness, 0.50),
		P55:    percentile(fitness, 0.55),
		P75:    percentile(fitness, 0.75),
		P95:    percentile(fitness, 0.95),
		P99:    percentile(fitness, 0.99),
		StdDev: math.Sqrt(variance),
	}, nil
}

// percentile returns the value at fraction q (0..1) of sorted (ascending).
func percentile(sorted []float64, q float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}
