package Filters

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewNoiseProfile_Flat(t *testing.T) {
	p, err := NewNoiseProfile([]float64{1, 1, 1, 1, 1})
	require.NoError(t, err)
	assert.Equal(t, 1.0, p.Median)
	assert.Equal(t, 1.0, p.Mean)
	assert.Equal(t, 0.0, p.StdDev)
}

func TestNewNoiseProfile_MedianIgnoresOutlier(t *testing.T) {
	p, err := NewNoiseProfile([]float64{1, 2, 1000, 2, 1})
	require.NoError(t, err)
	assert.Equal(t, 2.0, p.Median)
	assert.InDelta(t, 201.2, p.Mean, 1e-9)
	assert.Greater(t, p.StdDev, 100.0)
}

func TestNewNoiseProfile_EvenLength(t *testing.T) {
	p, err := NewNoiseProfile([]float64{4, 1, 3, 2})
	require.NoError(t, err)
	assert.Equal(t, 2.5, p.Median)
	assert.Equal(t, 2.5, p.Mean)
	// Population standard deviation of 1..4.
	assert.InDelta(t, math.Sqrt(1.25), p.StdDev, 1e-12)
}

func TestNewNoiseProfile_DoesNotReorderInput(t *testing.T) {
	in := []float64{3, 1, 2}
	_, err := NewNoiseProfile(in)
	require.NoError(t, err)
	assert.Equal(t, []float64{3, 1, 2}, in)
}

func TestNewNoiseProfile_Empty(t *testing.T) {
	_, err := NewNoiseProfile(nil)
	assert.ErrorIs(t, err, ErrNoNoiseData)
}

func TestNewThresholds_ScenarioA(t *testing.T) {
	p, err := NewNoiseProfile([]float64{1, 1, 1, 1, 1})
	require.NoError(t, err)

	th := NewThresholds(p, 8, 0.6)
	assert.InDelta(t, 8.0, th.On, 1e-12)
	assert.InDelta(t, 3.2, th.Off, 1e-12)
}

func TestNewThresholds_OffBelowOn(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 10000; i++ {
		median := rng.Float64()*1e3 + 1e-9
		factor := rng.Float64()*100 + 1e-6
		hyst := 1 - rng.Float64() // (0, 1]

		th := NewThresholds(NoiseProfile{Median: median}, factor, hyst)
		require.GreaterOrEqual(t, th.Off, 0.0, "median=%v factor=%v hyst=%v", median, factor, hyst)
		require.Less(t, th.Off, th.On, "median=%v factor=%v hyst=%v", median, factor, hyst)
		require.True(t, th.Valid())
	}

	// 1 - 1e-17 rounds to 1, leaving no hysteresis band
	th := NewThresholds(NoiseProfile{Median: 1}, 8, 1e-17)
	assert.Equal(t, th.On, th.Off)
	assert.False(t, th.Valid())
}

func TestNoiseAccumulator(t *testing.T) {
	var acc NoiseAccumulator
	acc.Add([]float64{1, 2})
	acc.Add(nil)
	acc.Add([]float64{})
	acc.Add([]float64{3})

	assert.Equal(t, 3, acc.Count())
	assert.Equal(t, 2, acc.Blocks())

	p, err := acc.Profile()
	require.NoError(t, err)
	assert.Equal(t, 2.0, p.Median)
}

func TestNoiseAccumulator_Empty(t *testing.T) {
	var acc NoiseAccumulator
	acc.Add(nil)
	_, err := acc.Profile()
	assert.ErrorIs(t, err, ErrNoNoiseData)
}

func TestNoiseAccumulator_ZeroFloor(t *testing.T) {
	var acc NoiseAccumulator
	acc.Add([]float64{0, 0, 0, 5})
	_, err := acc.Profile()
	assert.ErrorIs(t, err, ErrZeroNoiseFloor)
}
