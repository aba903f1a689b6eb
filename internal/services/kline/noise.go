package kline

import (
	"hash/fnv"
	"math/rand"
)

// DefaultSeed pins the noise for fixtures and for callers without a request id
const DefaultSeed int64 = 42

// NoiseSource yields uniform values in [0, 1). *rand.Rand satisfies it.
type NoiseSource interface {
	Float64() float64
}

// NewSeededNoise returns a deterministic source for seed
func NewSeededNoise(seed int64) NoiseSource {
	return rand.New(rand.NewSource(seed))
}

// ConstantNoise always returns the same draw. 0.5 maps to the middle of the
// noise range (factor 1.0 with the default rules).
type ConstantNoise float64

func (c ConstantNoise) Float64() float64 { return float64(c) }

// SeedFromRequestID derives a stable seed from a request id (FNV-1a)
func SeedFromRequestID(requestID string) int64 {
	if requestID == "" {
		return DefaultSeed
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(requestID))
	return int64(h.Sum64() & 0x7fffffffffffffff)
}
