package Filters

import "time"

// SubBlockLength returns how many samples make up one envelope window.
// It never returns less than 1.
func SubBlockLength(sampleRate float64, subblock time.Duration) int {
	n := int(sampleRate * subblock.Seconds())
	if n < 1 {
		return 1
	}
	return n
}

// EnvelopeMeans converts an I/Q block into mean power (I²+Q²) per sub-block.
// Samples after the last complete sub-block are dropped. A block shorter than
// one sub-block yields an empty (non-nil) slice.
func EnvelopeMeans(block []complex64, subLen int) []float64 {
	if subLen < 1 {
		subLen = 1
	}
	count := len(block) / subLen
	means := make([]float64, count)

	for i := 0; i < count; i++ {
		window := block[i*subLen : (i+1)*subLen]
		sum := 0.0
		for _, s := range window {
			re := float64(real(s))
			im := float64(imag(s))
			sum += re*re + im*im
		}
		means[i] = sum / float64(subLen)
	}
	return means
}

// EnvelopeReducer bundles the sub-block length derived from the sample rate.
type EnvelopeReducer struct {
	subLen int
}

// NewEnvelopeReducer creates a reducer for the given rate and window duration.
func NewEnvelopeReducer(sampleRate float64, subblock time.Duration) EnvelopeReducer {
	return EnvelopeReducer{subLen: SubBlockLength(sampleRate, subblock)}
}

// SubBlockLength returns the window size in samples.
func (r EnvelopeReducer) SubBlockLength() int {
	return r.subLen
}

// Reduce returns the sub-block mean sequence of one block.
func (r EnvelopeReducer) Reduce(block []complex64) []float64 {
	return EnvelopeMeans(block, r.subLen)
}
