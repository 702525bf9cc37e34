package simulator

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/marketpulse/internal/genetic"
)

func testContext(n int) *Context {
	o := make([]float64, n)
	h := make([]float64, n)
	l := make([]float64, n)
	c := make([]float64, n)
	v := make([]float64, n)
	for i := 0; i < n; i++ {
		price := 10 + float64(i)*0.1
		o[i], h[i], l[i], c[i] = price, price+0.5, price-0.5, price+0.2
		v[i] = 1000
	}
	flat := Flatten(o, h, l, c, v)
	return NewContext(flat, n, 5, 3, 10, 1_000_000, 0, -1, 1, c)
}

func TestFlattenScalesVolumeByCalibratedMinimum(t *testing.T) {
	flat := Flatten([]float64{1, 2}, []float64{1, 2}, []float64{1, 2}, []float64{1, 2}, []float64{30, 60})
	require.Len(t, flat, 10)
	// vCalibrate = min(v)/3 = 10, so candle 0's scaled volume is 30/10 = 3.
	assert.Equal(t, 3.0, flat[4])
}

func TestRandomPlayerRespectsGeneLengthsAndPadding(t *testing.T) {
	ctx := testContext(50)
	m := NewModel(ctx, rand.New(rand.NewSource(1)))
	inv := m.RandomPlayer().(Investor)

	assert.Zero(t, len(inv.Genome.Market)%8, "market genome length must be a multiple of 8")
	assert.Len(t, inv.Genome.RiskOrder, ctx.LookbackOrder)
	assert.Len(t, inv.Genome.RiskMarket, ctx.LookbackCandle)
}

func TestEvaluateReturnsStartingCashWhenWindowTooShort(t *testing.T) {
	ctx := testContext(3) // NumCandles <= LookbackCandle(5)
	m := NewModel(ctx, rand.New(rand.NewSource(1)))
	inv := m.RandomPlayer()

	fitness := m.Evaluate(inv)
	assert.Equal(t, ctx.Money, fitness)
}

func TestMutateKeepsGenomeWithinArgBounds(t *testing.T) {
	ctx := testContext(50)
	ctx.ArgMin, ctx.ArgMax = -1, 1
	m := NewModel(ctx, rand.New(rand.NewSource(7)))
	inv := m.RandomPlayer().(Investor)

	mutated := m.MutateWithRate(inv, 1.0, rand.New(rand.NewSource(7))).(Investor)

	checkBounds := func(name string, v []float64) {
		for i, g := range v {
			assert.GreaterOrEqual(t, g, ctx.ArgMin, "%s[%d]", name, i)
			assert.LessOrEqual(t, g, ctx.ArgMax, "%s[%d]", name, i)
		}
	}
	checkBounds("market", mutated.Genome.Market)
	checkBounds("risk_order", mutated.Genome.RiskOrder)
	checkBounds("risk_market", mutated.Genome.RiskMarket)
}

func TestCrossoverProducesGenomeOfMatchingShape(t *testing.T) {
	ctx := testContext(50)
	m := NewModel(ctx, rand.New(rand.NewSource(3)))
	father := m.RandomPlayer().(Investor)
	mother := m.RandomPlayer().(Investor)

	child := m.Crossover(father, mother, 100, 50).(Investor)
	assert.Len(t, child.Genome.Market, len(father.Genome.Market))
}

func TestIsExtinctWhenEveryMarketGeneOutOfBounds(t *testing.T) {
	ctx := testContext(50)
	ctx.ArgMin, ctx.ArgMax = -1, 1
	m := NewModel(ctx, rand.New(rand.NewSource(1)))
	inv := m.RandomPlayer().(Investor)
	for i := range inv.Genome.Market {
		inv.Genome.Market[i] = 5 // out of [-1, 1]
	}
	assert.True(t, m.IsExtinct(inv), "investor with every market gene out of bounds should be extinct")
}

func TestEvolutePopulationOfInvestorsStaysWithinLimit(t *testing.T) {
	ctx := testContext(80)
	model := NewModel(ctx, rand.New(rand.NewSource(11)))
	pop := genetic.New(20, model, rand.New(rand.NewSource(11)))
	pop.Initialize(6, 0, nil)

	require.NoError(t, pop.Evolute(2, 1, 0.1))
	assert.LessOrEqual(t, len(pop.Individuals), 20)
}
