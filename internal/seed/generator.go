// Package seed generates a synthetic population of users and daily step
// counts. Activity levels follow the published distribution of average daily
// steps across ten bands of 1000 steps each.
package seed

import (
	"math"
	"math/rand/v2"

	"github.com/montanaflynn/stats"
)

// bandWeights[i] is the share of users whose average lies in band i+1,
// i.e. ((i+1)*1000, (i+2)*1000] steps per day.
var bandWeights = [10]float64{
	0.071702975, 0.131948276, 0.169207584, 0.172958408, 0.148552821,
	0.115283179, 0.082077452, 0.054402088, 0.033390745, 0.020476472,
}

const bandSigma = 20000.0

// Generator draws activity bands and step series from a seeded source.
type Generator struct {
	rng *rand.Rand
}

// NewGenerator returns a Generator seeded with seed.
func NewGenerator(seed uint64) *Generator {
	return &Generator{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// Band picks an activity band in [1, 10].
func (g *Generator) Band() int {
	r := g.rng.Float64()
	var acc float64
	for i, w := range bandWeights {
		acc += w
		if r < acc {
			return i + 1
		}
	}
	return len(bandWeights)
}

// Steps returns days step counts for a user in band. Values come from a
// normal distribution centred on band*1000 and truncated at zero, then
// rescaled so that their mean is band*1000+500.
func (g *Generator) Steps(band, days int) ([]int64, error) {
	if days <= 0 {
		return nil, nil
	}
	mu := float64(band) * 1000

	raw := make(stats.Float64Data, days)
	for i := range raw {
		v := g.rng.NormFloat64()*bandSigma + mu
		for v < 0 {
			v = g.rng.NormFloat64()*bandSigma + mu
		}
		raw[i] = v
	}

	mean, err := stats.Mean(raw)
	if err != nil {
		return nil, err
	}
	scale := 1.0
	if mean > 0 {
		scale = (mu + 500) / mean
	}

	out := make([]int64, days)
	for i, v := range raw {
		out[i] = int64(math.Floor(v * scale))
	}
	return out, nil
}
