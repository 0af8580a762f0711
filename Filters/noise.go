package Filters

import (
	"errors"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

var (
	// ErrNoNoiseData means the calibration window produced no sub-block means.
	ErrNoNoiseData = errors.New("no sub-block means collected")

	// ErrZeroNoiseFloor means the noise median is zero or not finite, which
	// would yield an unusable detection threshold.
	ErrZeroNoiseFloor = errors.New("noise floor median is zero or not finite")
)

// NoiseProfile summarizes the sub-block power seen while no burst is present.
type NoiseProfile struct {
	Median float64
	Mean   float64
	StdDev float64
}

// NewNoiseProfile computes median, mean and population standard deviation.
func NewNoiseProfile(means []float64) (NoiseProfile, error) {
	if len(means) == 0 {
		return NoiseProfile{}, ErrNoNoiseData
	}

	sorted := make([]float64, len(means))
	copy(sorted, means)
	sort.Float64s(sorted)

	mid := len(sorted) / 2
	median := sorted[mid]
	if len(sorted)%2 == 0 {
		median = (sorted[mid-1] + sorted[mid]) / 2
	}

	mean, std := stat.PopMeanStdDev(sorted, nil)
	return NoiseProfile{Median: median, Mean: mean, StdDev: std}, nil
}

// Thresholds is the on/off pair used by the Schmitt trigger.
type Thresholds struct {
	On  float64
	Off float64
}

// NewThresholds derives the pair from the noise median.
// On = median * factor, Off = On * (1 - hysteresis).
func NewThresholds(noise NoiseProfile, factor, hysteresis float64) Thresholds {
	on := noise.Median * factor
	return Thresholds{
		On:  on,
		Off: on * (1.0 - hysteresis),
	}
}

// Valid reports whether the pair is usable: 0 <= Off < On.
func (t Thresholds) Valid() bool {
	return t.Off >= 0 && t.Off < t.On
}

// NoiseAccumulator concatenates the sub-block means of the calibration blocks.
type NoiseAccumulator struct {
	means  []float64
	blocks int
}

// Add appends one block's means. Empty sequences are ignored.
func (a *NoiseAccumulator) Add(means []float64) {
	if len(means) == 0 {
		return
	}
	a.means = append(a.means, means...)
	a.blocks++
}

// Count returns the number of sub-block means collected so far.
func (a *NoiseAccumulator) Count() int {
	return len(a.means)
}

// Blocks returns how many non-empty blocks contributed.
func (a *NoiseAccumulator) Blocks() int {
	return a.blocks
}

// Profile computes the noise profile of everything collected.
func (a *NoiseAccumulator) Profile() (NoiseProfile, error) {
	p, err := NewNoiseProfile(a.means)
	if err != nil {
		return p, err
	}
	if p.Median <= 0 || math.IsNaN(p.Median) || math.IsInf(p.Median, 0) {
		return p, ErrZeroNoiseFloor
	}
	return p, nil
}
