// Package sampling draws the correlated Gaussian harmonic coefficients from
// the factorized covariance matrices, one packed triangle of coefficients per
// field, split across a fixed pool of deterministic random streams.
package sampling

import (
	"go.uber.org/zap"
	"golang.org/x/exp/rand"

	"github.com/mehdirezaie/flask/internal/diag"
)

// RandOffset separates the seeds of consecutive streams. Stream i is seeded
// baseSeed + i*RandOffset.
const RandOffset = 10000000

// Streams implements ports.StreamProvider with workers+1 independent PCG
// sources. Stream 0 is the serial stream; streams 1..workers belong to the
// parallel workers.
type Streams struct {
	workers int
	rngs    []*rand.Rand
}

// NewStreams builds the stream pool. A base seed at or above RandOffset is
// allowed but warned, since it can make this run's streams collide with those
// of a run seeded nearby.
func NewStreams(baseSeed uint64, workers int, rep *diag.Reporter) *Streams {
	if workers < 1 {
		workers = 1
	}
	if rep != nil && baseSeed >= RandOffset {
		rep.Warn("base seed is at or above the stream offset, streams may overlap across runs",
			zap.Uint64("seed", baseSeed), zap.Int("offset", RandOffset))
	}
	s := &Streams{workers: workers, rngs: make([]*rand.Rand, workers+1)}
	for i := range s.rngs {
		s.rngs[i] = rand.New(rand.NewSource(baseSeed + uint64(i)*RandOffset))
	}
	return s
}

func (s *Streams) Workers() int { return s.workers }

// Stream returns stream index. Index 0 is the serial stream.
func (s *Streams) Stream(index int) *rand.Rand { return s.rngs[index] }
