package chain

import (
	"math"
	"time"
)

// TTLStrategy picks the TTL a layer receives for a payload written with
// baseTTL. Indexes run from 0 (L1) to layerCount-1.
type TTLStrategy interface {
	TTL(layerIndex, layerCount int, baseTTL time.Duration) time.Duration
}

// UniformTTL gives every layer baseTTL.
type UniformTTL struct{}

func (UniformTTL) TTL(_, _ int, baseTTL time.Duration) time.Duration {
	return baseTTL
}

// DecayingTTL shortens the TTL of upper layers: each layer keeps Factor of
// the TTL of the layer below it, and the last layer keeps baseTTL. A short
// L1 lifetime means a process picks up payloads other processes pushed to
// the shared L2 sooner.
type DecayingTTL struct {
	Factor float64
}

func (s DecayingTTL) TTL(layerIndex, layerCount int, baseTTL time.Duration) time.Duration {
	if s.Factor <= 0 || s.Factor >= 1 || layerIndex >= layerCount-1 {
		return baseTTL
	}
	exponent := float64(layerCount - 1 - layerIndex)
	return time.Duration(float64(baseTTL) * math.Pow(s.Factor, exponent))
}

// MultipliedTTL scales baseTTL per layer; layers beyond the slice get baseTTL.
// []float64{1, 4} keeps redis payloads four times longer than memory ones.
type MultipliedTTL []float64

func (m MultipliedTTL) TTL(layerIndex, _ int, baseTTL time.Duration) time.Duration {
	if layerIndex >= len(m) || m[layerIndex] <= 0 {
		return baseTTL
	}
	return time.Duration(float64(baseTTL) * m[layerIndex])
}
