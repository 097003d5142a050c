package chain

import (
	"math"
	"time"
)

// TTLStrategy picks the TTL written to each layer. Layer 0 is the fastest.
type TTLStrategy interface {
	TTL(layerIndex, numLayers int, baseTTL time.Duration) time.Duration
}

// UniformTTLStrategy uses baseTTL for every layer.
type UniformTTLStrategy struct{}

func (UniformTTLStrategy) TTL(_, _ int, baseTTL time.Duration) time.Duration {
	return baseTTL
}

// DecayingTTLStrategy shortens the TTL of faster layers, which are not reached
// by invalidations issued from other processes. With three layers and a
// factor of 0.5 the TTLs are base/4, base/2 and base.
type DecayingTTLStrategy struct {
	DecayFactor float64
}

func (s DecayingTTLStrategy) TTL(layerIndex, numLayers int, baseTTL time.Duration) time.Duration {
	if s.DecayFactor <= 0 || s.DecayFactor >= 1 || numLayers <= 1 {
		return baseTTL
	}
	exponent := float64(numLayers - 1 - layerIndex)
	if exponent <= 0 {
		return baseTTL
	}
	return time.Duration(float64(baseTTL) * math.Pow(s.DecayFactor, exponent))
}

// CustomTTLStrategy uses an explicit TTL per layer and baseTTL past the end.
type CustomTTLStrategy struct {
	TTLs []time.Duration
}

func (s CustomTTLStrategy) TTL(layerIndex, _ int, baseTTL time.Duration) time.Duration {
	if layerIndex < len(s.TTLs) && s.TTLs[layerIndex] > 0 {
		return s.TTLs[layerIndex]
	}
	return baseTTL
}
