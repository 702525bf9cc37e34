// Package simulator implements the investor strategy (C11): a genome of
// three real vectors walked against a shared candle window to produce a
// terminal cash fitness, plus the Mutate/Crossover/Optimize hooks the
// genetic core (C9) needs to evolve a population of them. Grounded on
// original_source/backend/src/components/simulator.rs's Investor/Setting
// split (one shared, read-only Context plus one mutable genome per
// individual) and its perform_stock_order_strategy walk.
package simulator

import (
	"math"
	"math/rand"
	"sort"

	"github.com/markcheno/go-talib"

	"github.com/aristath/marketpulse/internal/cmaes"
	"github.com/aristath/marketpulse/internal/genetic"
)

// Context is the read-only market/account state every Investor in a
// population shares: the candle window being walked, starting cash and
// share holdings, and the lookback/fund-sizing parameters from spec.md's
// Investor data model.
type Context struct {
	// Flattened [o, h, l, c, vScaled] per candle, vScaled = v/vCalibrate
	// with vCalibrate = min(v)/3; exactly 5*NumCandles values, not padded.
	Flattened []float64
	NumCandles int

	LookbackCandle int // W
	LookbackOrder  int // Lo

	BatchMoneyForFund int
	Money             float64
	Stock             float64

	ArgMin, ArgMax float64

	// sentimentBias is an additive RSI-derived series the same length as
	// NumCandles, folded into the risk-market weighting each step (the
	// go-talib supplement SPEC_FULL.md §2 wires into C11).
	sentimentBias []float64
}

// NewContext builds a Context from a window of closing prices (for the
// RSI supplement) and the flattened OHLCV rows produced by Flatten.
func NewContext(flattened []float64, numCandles, lookbackCandle, lookbackOrder, batchMoneyForFund int, money, stock, argMin, argMax float64, closes []float64) *Context {
	ctx := &Context{
		Flattened:         flattened,
		NumCandles:        numCandles,
		LookbackCandle:    lookbackCandle,
		LookbackOrder:     lookbackOrder,
		BatchMoneyForFund: batchMoneyForFund,
		Money:             money,
		Stock:             stock,
		ArgMin:            argMin,
		ArgMax:            argMax,
	}
	ctx.sentimentBias = rsiBias(closes, 14)
	return ctx
}

// rsiBias computes RSI(length) over closes via go-talib, centered at zero
// and scaled to roughly [-1, 1] so it can be added to the tanh/sigmoid
// decision blend without dominating it. Returns a zero series when there
// isn't enough history.
func rsiBias(closes []float64, length int) []float64 {
	bias := make([]float64, len(closes))
	if len(closes) < length+1 {
		return bias
	}
	rsi := talib.Rsi(closes, length)
	for i, v := range rsi {
		if v != v { // NaN warmup period
			continue
		}
		bias[i] = (v - 50) / 50
	}
	return bias
}

// Flatten converts OHLCV rows into the packed [o,h,l,c,vScaled]*N layout
// the SIMD-shaped dot product in estimate walks. It returns exactly 5*N
// values: no padding to a multiple of 8 and no zero tail is appended. Only
// the Market gene vector's length is padded to a multiple of 8.
func Flatten(o, h, l, c, v []float64) []float64 {
	n := len(o)
	minV := math.Inf(1)
	for _, x := range v {
		if x < minV {
			minV = x
		}
	}
	if minV <= 0 || math.IsInf(minV, 1) {
		minV = 1
	}
	vCalibrate := minV / 3
	if vCalibrate == 0 {
		vCalibrate = 1
	}

	flat := make([]float64, n*5)
	for i := 0; i < n; i++ {
		flat[5*i+0] = o[i]
		flat[5*i+1] = h[i]
		flat[5*i+2] = l[i]
		flat[5*i+3] = c[i]
		flat[5*i+4] = v[i] / vCalibrate
	}
	return flat
}

// Genome holds one Investor's three evolved gene vectors.
type Genome struct {
	Market     []float64 // length padded to a multiple of 8, 5*W before padding
	RiskOrder  []float64 // length Lo
	RiskMarket []float64 // length W
}

// Investor pairs a Genome with the shared Context it is evaluated against.
type Investor struct {
	Ctx    *Context
	Genome Genome
}

// Model implements genetic.Model against a fixed Context, producing and
// scoring Investor genomes. Convex is an optional CMA-ES covariance model
// (C10): when set, Optimize passes it every investor's market genes with
// their fitness, and the CMA-ES update keeps the top Mu. Children are not
// drawn from it; this package never calls Convex.Random.
type Model struct {
	Ctx    *Context
	Rng    *rand.Rand
	Convex *cmaes.Convex
}

// NewModel constructs a Model bound to ctx.
func NewModel(ctx *Context, rng *rand.Rand) *Model {
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	return &Model{Ctx: ctx, Rng: rng}
}

func marketLen(lookbackCandle int) int {
	raw := 5 * lookbackCandle
	if raw%8 != 0 {
		raw += 8 - raw%8
	}
	return raw
}

// RandomPlayer returns a freshly randomized Investor, satisfying
// genetic.Model.
func (m *Model) RandomPlayer() interface{} {
	return m.randomInvestor()
}

func (m *Model) randomInvestor() Investor {
	mLen := marketLen(m.Ctx.LookbackCandle)
	g := Genome{
		Market:     make([]float64, mLen),
		RiskOrder:  make([]float64, m.Ctx.LookbackOrder),
		RiskMarket: make([]float64, m.Ctx.LookbackCandle),
	}
	for i := range g.Market {
		g.Market[i] = m.randArg()
	}
	for i := range g.RiskOrder {
		g.RiskOrder[i] = m.Rng.Float64()
	}
	for i := range g.RiskMarket {
		g.RiskMarket[i] = m.Rng.Float64()
	}
	return Investor{Ctx: m.Ctx, Genome: g}
}

func (m *Model) randArg() float64 {
	lo, hi := m.Ctx.ArgMin, m.Ctx.ArgMax
	if lo >= hi {
		lo, hi = -1, 1
	}
	return lo + m.Rng.Float64()*(hi-lo)
}

// Evaluate walks the investor's order strategy over the shared candle
// window and returns the remaining cash as its fitness.
func (m *Model) Evaluate(player interface{}) float64 {
	inv := player.(Investor)
	cash, _, _ := estimate(inv)
	return cash
}

// IsExtinct reports an investor as extinct once its genome has drifted
// entirely outside [ArgMin, ArgMax] on every market gene — a degenerate
// strategy that can neither buy nor meaningfully react to the market.
func (m *Model) IsExtinct(player interface{}) bool {
	inv := player.(Investor)
	for _, g := range inv.Genome.Market {
		if g >= m.Ctx.ArgMin && g <= m.Ctx.ArgMax {
			return false
		}
	}
	return true
}

// geneArgs is the per-gene mutation parameters consulted by Mutate:
// std_dev and scale, matching SimulatorActor::mutate in the source.
type geneArgs struct {
	StdDev float64
	Scale  float64
}

// Mutate replaces gene index `gene` across the flattened
// [market..riskOrder..riskMarket] genome with a fresh sample centered at
// -std_dev (not zero — preserved verbatim per spec.md §9's open question;
// see DESIGN.md), scaled by `scale`.
func (m *Model) Mutate(player interface{}, args interface{}, gene int) interface{} {
	inv := player.(Investor)
	ga, _ := args.(geneArgs)
	if ga.StdDev == 0 {
		ga.StdDev = 0.5
	}
	if ga.Scale == 0 {
		ga.Scale = 0.005
	}

	sample := ga.Scale * (m.Rng.NormFloat64()*ga.StdDev - ga.StdDev)

	mLen := len(inv.Genome.Market)
	oLen := len(inv.Genome.RiskOrder)
	sample = clamp(sample, m.Ctx.ArgMin, m.Ctx.ArgMax)

	switch {
	case gene < mLen:
		inv.Genome.Market = cloneAndSet(inv.Genome.Market, gene, sample)
	case gene < mLen+oLen:
		inv.Genome.RiskOrder = cloneAndSet(inv.Genome.RiskOrder, gene-mLen, sample)
	default:
		idx := gene - mLen - oLen
		if idx >= 0 && idx < len(inv.Genome.RiskMarket) {
			inv.Genome.RiskMarket = cloneAndSet(inv.Genome.RiskMarket, idx, sample)
		}
	}
	return inv
}

// MutateWithRate applies independent per-gene mutation across the whole
// genome with probability rate, satisfying internal/genetic's optional
// perGeneMutator contract for newly-bred children.
func (m *Model) MutateWithRate(player interface{}, rate float64, rng *rand.Rand) interface{} {
	inv := player.(Investor)
	if rng == nil {
		rng = m.Rng
	}
	total := len(inv.Genome.Market) + len(inv.Genome.RiskOrder) + len(inv.Genome.RiskMarket)
	for gene := 0; gene < total; gene++ {
		if rng.Float64() < rate {
			inv = m.Mutate(inv, geneArgs{}, gene).(Investor)
		}
	}
	return clampGenome(inv, m.Ctx.ArgMin, m.Ctx.ArgMax)
}

func cloneAndSet(v []float64, idx int, val float64) []float64 {
	cp := make([]float64, len(v))
	copy(cp, v)
	if idx >= 0 && idx < len(cp) {
		cp[idx] = val
	}
	return cp
}

// clampGenome enforces the Investor invariant that all three gene vectors
// remain within [argMin, argMax] after mutation, per spec.md §3.
func clampGenome(inv Investor, lo, hi float64) Investor {
	clampSlice := func(v []float64) []float64 {
		out := make([]float64, len(v))
		for i, x := range v {
			out[i] = clamp(x, lo, hi)
		}
		return out
	}
	inv.Genome.Market = clampSlice(inv.Genome.Market)
	inv.Genome.RiskOrder = clampSlice(inv.Genome.RiskOrder)
	inv.Genome.RiskMarket = clampSlice(inv.Genome.RiskMarket)
	return inv
}

func clamp(x, lo, hi float64) float64 {
	if lo >= hi {
		return x
	}
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

// Crossover copies each gene from the father with probability
// father_fit/mother_fit, else from the mother, matching
// Investor::merge_using_random_picking_argument_base_on_dominance.
func (m *Model) Crossover(father, mother interface{}, fatherFit, motherFit float64) interface{} {
	f := father.(Investor)
	mo := mother.(Investor)

	dominance := 1.0
	if motherFit != 0 {
		dominance = fatherFit / motherFit
	}

	pick := func(a, b []float64) []float64 {
		out := make([]float64, len(a))
		for i := range a {
			bv := 0.0
			if i < len(b) {
				bv = b[i]
			}
			if m.Rng.Float64() < dominance {
				out[i] = a[i]
			} else {
				out[i] = bv
			}
		}
		return out
	}

	child := Investor{
		Ctx: f.Ctx,
		Genome: Genome{
			Market:     pick(f.Genome.Market, mo.Genome.Market),
			RiskOrder:  pick(f.Genome.RiskOrder, mo.Genome.RiskOrder),
			RiskMarket: pick(f.Genome.RiskMarket, mo.Genome.RiskMarket),
		},
	}
	return child
}

// Optimize feeds the population's market genes into the bound CMA-ES model
// (if any) and is a no-op otherwise, letting a run opt into covariance
// adaptation instead of plain roulette-wheel breeding alone.
func (m *Model) Optimize(population []genetic.Individual) {
	if m.Convex == nil || len(population) == 0 {
		return
	}
	samples := make([]cmaes.Sample, 0, len(population))
	for _, ind := range population {
		inv, ok := ind.Player.(Investor)
		if !ok {
			continue
		}
		samples = append(samples, cmaes.Sample{Fitness: ind.Fitness, Gene: inv.Genome.Market})
	}
	if err := m.Convex.Optimize(samples); err != nil {
		return
	}
}

// estimate walks the investor's order strategy across the candle window,
// applying the SIMD-shaped 8-wide dot product, order-book risk weighting,
// and sentiment decay, returning (remaining cash, remaining shares, order
// log). Grounded on Investor::perform_stock_order_strategy.
func estimate(inv Investor) (money, stock float64, orders []float64) {
	ctx := inv.Ctx
	w := ctx.LookbackCandle
	if w <= 0 || ctx.NumCandles <= w {
		return ctx.Money, ctx.Stock, nil
	}

	money = ctx.Money
	stock = ctx.Stock
	fund := money
	if ctx.BatchMoneyForFund > 0 {
		fund = money / float64(ctx.BatchMoneyForFund)
	}

	sentiments := make([]float64, len(inv.Genome.RiskMarket))
	kLimit := (w*5 + 7) / 8

	for i := 0; i < ctx.NumCandles-w; i++ {
		indicator := dot8(inv.Genome.Market, ctx.Flattened, kLimit, i)

		buys, sells := 0, 0
		for _, o := range orders {
			if o < 0 {
				sells++
			} else {
				buys++
			}
		}

		risk := 0.0
		if sells < buys {
			surplus := buys - sells
			taken := 0
			for j := len(orders) - 1; j >= 0 && taken < surplus && taken < len(inv.Genome.RiskOrder); j-- {
				if orders[j] > 0 {
					risk += inv.Genome.RiskOrder[taken] * orders[j]
					taken++
				}
			}
		}

		copy(sentiments, sentiments[1:])
		if len(sentiments) > 0 {
			sentiments[len(sentiments)-1] = indicator
		}
		for k := 0; k < len(sentiments) && k < len(inv.Genome.RiskMarket); k++ {
			risk += sentiments[k] * inv.Genome.RiskMarket[k]
		}
		if i < len(ctx.sentimentBias) {
			risk += ctx.sentimentBias[i]
		}

		decision := (math.Tanh(indicator) + sigmoid(risk)) / 2

		closePrice := ctx.Flattened[5*i+3]
		if closePrice == 0 {
			continue
		}
		fundShares := fund / closePrice

		// NOTE: the sell branch fires on decision < 0.9, not < 0.1, so the
		// buy (> 0.9) and sell (< 0.9) regions overlap across (0.5, 0.9).
		// Preserved verbatim per spec.md §9's open question; see DESIGN.md.
		switch {
		case decision > 0.9 && money > fund:
			orders = append(orders, closePrice)
			stock += fundShares
			money -= fund
		case decision < 0.9 && stock > fundShares:
			orders = append(orders, -closePrice)
			stock -= fundShares
			money += fundShares * closePrice
		}
	}

	return money, stock, orders
}

// dot8 computes the 8-wide fused multiply-add reduction over kLimit blocks
// of market against the candle window's i-th step, per spec.md §4.11's
// "SIMD dot-product" contract. Written as a manually unrolled scalar loop
// so the compiler can auto-vectorize it; there is no portable SIMD
// intrinsic in the standard library to express this with hardware
// instructions directly (see DESIGN.md).
func dot8(market, candles []float64, kLimit, i int) float64 {
	var sum float64
	for k := 0; k < kLimit; k++ {
		mBase := 8 * k
		cBase := 8*k + 5*i
		if mBase+8 > len(market) || cBase+8 > len(candles) {
			break
		}
		sum += market[mBase+0] * candles[cBase+0]
		sum += market[mBase+1] * candles[cBase+1]
		sum += market[mBase+2] * candles[cBase+2]
		sum += market[mBase+3] * candles[cBase+3]
		sum += market[mBase+4] * candles[cBase+4]
		sum += market[mBase+5] * candles[cBase+5]
		sum += market[mBase+6] * candles[cBase+6]
		sum += market[mBase+7] * candles[cBase+7]
	}
	return sum
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// TopByFitness returns the market gene vectors and fitness of the n
// fittest individuals, used to seed internal/cmaes.Optimize's sample set
// from outside the Model (e.g. when wiring a fresh Convex mid-run).
func TopByFitness(population []genetic.Individual, n int) []cmaes.Sample {
	sorted := make([]genetic.Individual, len(population))
	copy(sorted, population)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Fitness > sorted[j].Fitness })
	if n > len(sorted) {
		n = len(sorted)
	}
	out := make([]cmaes.Sample, 0, n)
	for _, ind := range sorted[:n] {
		inv := ind.Player.(Investor)
		out = append(out, cmaes.Sample{Fitness: ind.Fitness, Gene: inv.Genome.Market})
	}
	return out
}
