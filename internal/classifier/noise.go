package classifier

import (
	"math/rand/v2"
	"sync"
)

// MaxNoise bounds the random adjustment in both directions.
const MaxNoise = 0.15

// Source yields uniform values in [0, 1). *rand.Rand satisfies it.
type Source interface {
	Float64() float64
}

// Noise draws the adjustment added to the cat score and subtracted from the
// dog score. Values outside [-MaxNoise, MaxNoise] are clamped.
type Noise func() float64

// None disables the random adjustment.
var None Noise = Fixed(0)

// Fixed always draws v.
func Fixed(v float64) Noise {
	return func() float64 { return v }
}

// Uniform draws uniformly from [-MaxNoise, MaxNoise) using src.
func Uniform(src Source) Noise {
	if src == nil {
		src = globalSource{}
	}
	return func() float64 {
		return src.Float64()*2*MaxNoise - MaxNoise
	}
}

func (n Noise) draw() float64 {
	if n == nil {
		n = Uniform(nil)
	}
	return clamp(n(), -MaxNoise, MaxNoise)
}

// globalSource reads the runtime's concurrency-safe generator.
type globalSource struct{}

func (globalSource) Float64() float64 { return rand.Float64() }

// SeededSource is a reproducible Source safe for concurrent use.
type SeededSource struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSeededSource returns a Source whose sequence is fixed by seed.
func NewSeededSource(seed uint64) *SeededSource {
	return &SeededSource{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// Float64 implements Source.
func (s *SeededSource) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}
