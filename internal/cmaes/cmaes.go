// Package cmaes implements the CMA-ES covariance model (C10): the optional
// population-level optimizer consulted by internal/genetic.Population's
// Optimize step. Grounded on original_source/pkgs/backend/src/algorithm/cmaes.rs
// (a from-scratch nalgebra port of CMA-ES), re-expressed with
// gonum.org/v1/gonum/mat the way internal/modules/optimization/mv_optimizer.go
// uses mat.Dense and explicit dimension checks ahead of every matrix op.
package cmaes

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// ErrEmptyPopulation is returned by Optimize when given no samples.
var ErrEmptyPopulation = errors.New("cmaes: population is empty")

// Sample is one evaluated gene vector handed to Optimize.
type Sample struct {
	Fitness float64
	Gene    []float64
}

// Convex is the CMA-ES state: a mean, a global step size, and a covariance
// matrix, plus the two evolution paths used to adapt sigma and C.
type Convex struct {
	n int

	Mean  []float64
	Sigma float64
	C     *mat.Dense // n x n, symmetric positive-definite by invariant

	PSigma []float64
	PC     []float64

	ChiN    float64
	Mu      int
	Weights []float64

	rng *rand.Rand
}

// New constructs a Convex over n genes. sigma0 defaults to 0.5 when <= 0.
// meanMin/meanMax seed the initial mean uniformly, defaulting to (-1, 1).
func New(n int, sigma0 float64, meanMin, meanMax float64, rng *rand.Rand) *Convex {
	if n <= 0 {
		n = 1
	}
	if sigma0 <= 0 {
		sigma0 = 0.5
	}
	if meanMin >= meanMax {
		meanMin, meanMax = -1, 1
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}

	lambda := 4 + int(3*math.Log(float64(n)))
	mu := lambda / 2
	if mu < 1 {
		mu = 1
	}

	weights := make([]float64, mu)
	sumW := 0.0
	for i := 0; i < mu; i++ {
		weights[i] = math.Log(float64(mu)) - math.Log(float64(i)+0.5)
		sumW += weights[i]
	}
	for i := range weights {
		weights[i] /= sumW
	}

	nf := float64(n)
	chiN := math.Sqrt(nf) * (1 - 1/(4*nf) + 1/(21*nf*nf))

	mean := make([]float64, n)
	for i := range mean {
		mean[i] = meanMin + rng.Float64()*(meanMax-meanMin)
	}

	return &Convex{
		n:       n,
		Mean:    mean,
		Sigma:   sigma0,
		C:       identity(n),
		PSigma:  make([]float64, n),
		PC:      make([]float64, n),
		ChiN:    chiN,
		Mu:      mu,
		Weights: weights,
		rng:     rng,
	}
}

func identity(n int) *mat.Dense {
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1)
	}
	return m
}

// Random samples a candidate gene vector mean + sigma*z with z ~ N(0, I),
// clamped to [-1, 1]. Per the source algorithm, sampling does not apply the
// covariance matrix's Cholesky factor even after Optimize has shaped C away
// from the identity — preserved verbatim; see DESIGN.md.
func (c *Convex) Random() []float64 {
	out := make([]float64, c.n)
	for i := 0; i < c.n; i++ {
		z := c.rng.NormFloat64()
		out[i] = clamp(c.Mean[i]+c.Sigma*z, -1, 1)
	}
	return out
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

// Optimize runs one CMA-ES generation update from samples: selects the top
// Mu by fitness, recenters the mean, adapts the evolution paths and sigma,
// and performs the rank-one/rank-mu covariance update. On Cholesky failure
// (C no longer positive definite) C is reset to the identity and the
// covariance update is skipped for this call, per spec.md §8's invariant.
func (c *Convex) Optimize(samples []Sample) error {
	if len(samples) == 0 {
		return ErrEmptyPopulation
	}
	n := c.n
	nf := float64(n)

	sorted := make([]Sample, len(samples))
	copy(sorted, samples)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j].Fitness > sorted[j-1].Fitness; j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}

	mu := c.Mu
	if mu > len(sorted) {
		mu = len(sorted)
	}
	best := sorted[:mu]

	yK := make([][]float64, mu)
	for i, s := range best {
		y := make([]float64, n)
		for k := 0; k < n && k < len(s.Gene); k++ {
			y[k] = (s.Gene[k] - c.Mean[k]) / c.Sigma
		}
		yK[i] = y
	}

	yW := make([]float64, n)
	for i, y := range yK {
		w := weightAt(c.Weights, i)
		for k := 0; k < n; k++ {
			yW[k] += w * y[k]
		}
	}
	for k := 0; k < n; k++ {
		c.Mean[k] += c.Sigma * yW[k]
	}

	sumW, sumWSq := 0.0, 0.0
	for _, w := range c.Weights {
		sumW += w
		sumWSq += w * w
	}
	muEff := sumW * sumW / sumWSq

	cSigma := (muEff + 2) / (nf + muEff + 5)
	dSigma := 1 + 2*math.Max(0, math.Sqrt((muEff-1)/(nf+1))) + cSigma
	cC := (4 + nf/(nf+4)) / (nf + 2)
	c1 := 2 / (math.Pow(nf+1.3, 2) + muEff)
	cMu := 2 * (muEff - 2 + 1/muEff) / (math.Pow(nf+2, 2) + muEff)

	chol, factored := c.factorize()
	if !factored {
		c.C = identity(n)
		chol, _ = c.factorize()
	}

	sqrtCSigma := math.Sqrt(cSigma * (2 - cSigma) * muEff)
	for k := 0; k < n; k++ {
		c.PSigma[k] = (1-cSigma)*c.PSigma[k] + sqrtCSigma*yW[k]
	}

	pSigmaNorm := norm(c.PSigma)
	hSigma := 0.0
	if pSigmaNorm/c.ChiN < 1.4+2/(nf+1) {
		hSigma = 1
	}

	sqrtCC := math.Sqrt(cC * (2 - cC) * muEff)
	for k := 0; k < n; k++ {
		c.PC[k] = (1-cC)*c.PC[k] + hSigma*sqrtCC*yW[k]
	}

	// Step-size update. The canonical CMA-ES form is
	// exp((c_sigma/d_sigma) * (||p_sigma||/chi_n - 1)); the source instead
	// computes (||p_sigma||/chi_n).exp().powf(c_sigma/d_sigma). Preserved
	// verbatim per spec.md §9's open question — see DESIGN.md.
	c.Sigma *= math.Pow(math.Exp(pSigmaNorm/c.ChiN), cSigma/dSigma)

	if !factored {
		return nil
	}

	newWeights := make([]float64, mu)
	for i, y := range yK {
		yVec := mat.NewVecDense(n, y)
		var cInvY mat.VecDense
		if err := chol.SolveVecTo(&cInvY, yVec); err != nil {
			newWeights[i] = weightAt(c.Weights, i)
			continue
		}
		zNormSq := mat.Dot(yVec, &cInvY)
		alpha := math.Min(1, nf/math.Max(zNormSq, 1e-10))
		newWeights[i] = weightAt(c.Weights, i) * alpha
	}

	deltaHSigma := (1 - hSigma) * cC * (2 - cC)

	pcOuter := mat.NewDense(n, n, nil)
	pcVec := mat.NewVecDense(n, c.PC)
	pcOuter.Outer(1, pcVec, pcVec)

	rankMu := mat.NewDense(n, n, nil)
	for i, y := range yK {
		yVec := mat.NewVecDense(n, y)
		term := mat.NewDense(n, n, nil)
		term.Outer(newWeights[i], yVec, yVec)
		rankMu.Add(rankMu, term)
	}

	rankOne := mat.NewDense(n, n, nil)
	rankOne.Scale(1-c1*deltaHSigma, c.C)
	scaledPC := mat.NewDense(n, n, nil)
	scaledPC.Scale(c1, pcOuter)
	rankOne.Add(rankOne, scaledPC)

	newC := mat.NewDense(n, n, nil)
	newC.Scale(1-cMu, rankOne)
	scaledRankMu := mat.NewDense(n, n, nil)
	scaledRankMu.Scale(cMu, rankMu)
	newC.Add(newC, scaledRankMu)

	c.C = newC
	return nil
}

// factorize attempts a Cholesky decomposition of C, reported by ok.
func (c *Convex) factorize() (*mat.Cholesky, bool) {
	sym := mat.NewSymDense(c.n, nil)
	for i := 0; i < c.n; i++ {
		for j := i; j < c.n; j++ {
			sym.SetSym(i, j, c.C.At(i, j))
		}
	}
	var chol mat.Cholesky
	ok := chol.Factorize(sym)
	return &chol, ok
}

func norm(v []float64) float64 {
	sum := 0.0
	for _, x := range v {
		sum += x * x
	}
	return math.Sqrt(sum)
}

func weightAt(weights []float64, i int) float64 {
	if i < len(weights) {
		return weights[i]
	}
	return 0
}

// Model is the flat, serializable projection of a Convex, round-tripped
// through msgpack for the checkpoint described in SPEC_FULL.md §3.
type Model struct {
	N       int       `msgpack:"n"`
	Mean    []float64 `msgpack:"mean"`
	Sigma   float64   `msgpack:"sigma"`
	Cov     []float64 `msgpack:"cov"` // row-major, n*n
	PSigma  []float64 `msgpack:"p_sigma"`
	PC      []float64 `msgpack:"p_c"`
	ChiN    float64   `msgpack:"chi_n"`
	Mu      int       `msgpack:"mu"`
	Weights []float64 `msgpack:"weights"`
}

// ToModel flattens c into its serializable form.
func (c *Convex) ToModel() Model {
	cov := make([]float64, c.n*c.n)
	for i := 0; i < c.n; i++ {
		for j := 0; j < c.n; j++ {
			cov[i*c.n+j] = c.C.At(i, j)
		}
	}
	return Model{
		N:       c.n,
		Mean:    append([]float64(nil), c.Mean...),
		Sigma:   c.Sigma,
		Cov:     cov,
		PSigma:  append([]float64(nil), c.PSigma...),
		PC:      append([]float64(nil), c.PC...),
		ChiN:    c.ChiN,
		Mu:      c.Mu,
		Weights: append([]float64(nil), c.Weights...),
	}
}

// FromModel reconstructs a Convex from a checkpointed Model.
func FromModel(m Model, rng *rand.Rand) (*Convex, error) {
	if m.N == 0 || len(m.Mean) == 0 {
		return nil, fmt.Errorf("cmaes: cannot build Convex from an empty mean vector")
	}
	if len(m.Cov) != m.N*m.N {
		return nil, fmt.Errorf("cmaes: covariance matrix requires %d elements for dimension %dx%d, found %d",
			m.N*m.N, m.N, m.N, len(m.Cov))
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}

	C := mat.NewDense(m.N, m.N, nil)
	for i := 0; i < m.N; i++ {
		for j := 0; j < m.N; j++ {
			C.Set(i, j, m.Cov[i*m.N+j])
		}
	}

	return &Convex{
		n:       m.N,
		Mean:    append([]float64(nil), m.Mean...),
		Sigma:   m.Sigma,
		C:       C,
		PSigma:  append([]float64(nil), m.PSigma...),
		PC:      append([]float64(nil), m.PC...),
		ChiN:    m.ChiN,
		Mu:      m.Mu,
		Weights: append([]float64(nil), m.Weights...),
		rng:     rng,
	}, nil
}
