// Package drift generates smooth pseudo-random supply and demand movement
// so the market has organic activity even with no trading agents attached.
package drift

import (
	"math/rand"

	opensimplex "github.com/ojrac/opensimplex-go"

	"github.com/talgya/mini-market/internal/market"
)

// Generator nudges each good's supply and demand every tick using layered
// simplex noise. Deterministic for a given seed.
type Generator struct {
	supplyNoise opensimplex.Noise
	demandNoise opensimplex.Noise
	goodOffsets map[string]float64
	amplitude   float64
	timeScale   float64
}

// New creates a generator. amplitude is the maximum per-tick nudge applied
// to supply or demand.
func New(seed int64, goods []string, amplitude float64) *Generator {
	if seed == 0 {
		seed = rand.Int63()
	}
	if amplitude <= 0 {
		amplitude = 2.0
	}

	// Each good samples the same noise fields at its own row so goods drift
	// independently but deterministically.
	offsets := make(map[string]float64, len(goods))
	for i, id := range goods {
		offsets[id] = float64(i) * 17.31
	}

	return &Generator{
		supplyNoise: opensimplex.NewNormalized(seed),
		demandNoise: opensimplex.NewNormalized(seed + 1),
		goodOffsets: offsets,
		amplitude:   amplitude,
		timeScale:   0.01,
	}
}

// Apply nudges every registered good's supply and demand for this tick.
func (g *Generator) Apply(e *market.Engine, tick uint64) {
	t := float64(tick) * g.timeScale
	for id, offset := range g.goodOffsets {
		// Noise is normalized to [0,1]; center it so drift has no net bias.
		s := (octaveNoise(g.supplyNoise, t, offset, 3, 1.0, 0.5) - 0.5) * 2
		d := (octaveNoise(g.demandNoise, t, offset, 3, 1.0, 0.5) - 0.5) * 2
		e.AdjustSupply(id, s*g.amplitude)
		e.AdjustDemand(id, d*g.amplitude)
	}
}

// octaveNoise layers multiple noise frequencies for less uniform movement.
func octaveNoise(noise opensimplex.Noise, x, y float64, octaves int, frequency, persistence float64) float64 {
	total := 0.0
	amplitude := 1.0
	maxVal := 0.0

	for i := 0; i < octaves; i++ {
		total += noise.Eval2(x*frequency, y*frequency) * amplitude
		maxVal += amplitude
		amplitude *= persistence
		frequency *= 2
	}

	return total / maxVal
}
