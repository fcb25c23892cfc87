package gacha

import (
	cryptoRand "crypto/rand"
	"encoding/binary"
	"math/rand/v2"
	"sync"
)

// RandomSource yields uniform values in [0, 1).
type RandomSource interface {
	Float64() float64
}

// cryptoRNG is the production source: pull outcomes must be auditable, not PRNG-predictable.
type cryptoRNG struct{}

func (cryptoRNG) Float64() float64 {
	var buf [8]byte
	// crypto/rand.Read does not return an error since Go 1.24.
	_, _ = cryptoRand.Read(buf[:])
	u := binary.BigEndian.Uint64(buf[:]) >> 11 // 53 bits
	return float64(u) / (1 << 53)
}

func DefaultRNG() RandomSource { return cryptoRNG{} }

// seededRNG is replicable (simulations, tests). Safe for concurrent use.
type seededRNG struct {
	mu sync.Mutex
	r  *rand.Rand
}

func NewSeededRNG(seed uint64) RandomSource {
	return &seededRNG{r: rand.New(rand.NewPCG(seed, 0))}
}

func (s *seededRNG) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.r.Float64()
}

// sequenceRNG replays fixed values in order, wrapping around.
type sequenceRNG struct {
	mu   sync.Mutex
	vals []float64
	i    int
}

// NewSequenceRNG returns a source that yields vals in a loop. Values are clamped into [0, 1).
func NewSequenceRNG(vals ...float64) RandomSource {
	if len(vals) == 0 {
		vals = []float64{0}
	}
	cp := make([]float64, len(vals))
	for i, v := range vals {
		switch {
		case v < 0:
			v = 0
		case v >= 1:
			v = 1 - 1e-12
		}
		cp[i] = v
	}
	return &sequenceRNG{vals: cp}
}

func (s *sequenceRNG) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.vals[s.i%len(s.vals)]
	s.i++
	return v
}
