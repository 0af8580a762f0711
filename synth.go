package rfburst

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"gonum.org/v1/gonum/stat/distuv"
)

// Burst is a carrier switched on for Length, starting Start after the first
// sample.
type Burst struct {
	Start     time.Duration
	Length    time.Duration
	Amplitude float64
}

// SyntheticSource generates complex Gaussian noise with scheduled carrier
// bursts. It stands in for a receiver in demo mode and benchmarks.
type SyntheticSource struct {
	SampleRate float64
	ToneHz     float64 // carrier offset from the center frequency
	Bursts     []Burst

	// Realtime makes each read take as long as the block it returns.
	Realtime bool
	clock    Clock

	noise  distuv.Normal
	pos    int64
	closed bool
}

// NewSyntheticSource creates a deterministic source. noiseStd is the standard
// deviation of each of I and Q.
func NewSyntheticSource(sampleRate float64, seed uint64, noiseStd float64, bursts ...Burst) *SyntheticSource {
	return &SyntheticSource{
		SampleRate: sampleRate,
		ToneHz:     25e3,
		Bursts:     bursts,
		clock:      RealClock{},
		noise: distuv.Normal{
			Mu:    0,
			Sigma: noiseStd,
			Src:   rand.NewPCG(seed, seed^0x9e3779b97f4a7c15),
		},
	}
}

// KeyFobBursts schedules count presses of the given length, one every period,
// starting at first.
func KeyFobBursts(first time.Duration, count int, length, period time.Duration, amplitude float64) []Burst {
	out := make([]Burst, 0, count)
	for i := 0; i < count; i++ {
		out = append(out, Burst{
			Start:     first + time.Duration(i)*period,
			Length:    length,
			Amplitude: amplitude,
		})
	}
	return out
}

// Elapsed is the signal time generated so far.
func (s *SyntheticSource) Elapsed() time.Duration {
	return time.Duration(float64(s.pos) / s.SampleRate * float64(time.Second))
}

// ReadBlock generates the next n samples.
func (s *SyntheticSource) ReadBlock(ctx context.Context, n int) ([]complex64, error) {
	if s.closed {
		return nil, &SourceError{Op: "read", Err: ErrSourceClosed}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	block := make([]complex64, n)
	for i := range block {
		t := float64(s.pos+int64(i)) / s.SampleRate
		re, im := s.noise.Rand(), s.noise.Rand()
		if a := s.amplitudeAt(t); a > 0 {
			phase := 2 * math.Pi * s.ToneHz * t
			re += a * math.Cos(phase)
			im += a * math.Sin(phase)
		}
		block[i] = complex(float32(re), float32(im))
	}
	s.pos += int64(n)

	if s.Realtime {
		d := time.Duration(float64(n) / s.SampleRate * float64(time.Second))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.clock.After(d):
		}
	}
	return block, nil
}

func (s *SyntheticSource) amplitudeAt(t float64) float64 {
	for _, b := range s.Bursts {
		start := b.Start.Seconds()
		if t >= start && t < start+b.Length.Seconds() {
			return b.Amplitude
		}
	}
	return 0
}

// Close marks the source closed.
func (s *SyntheticSource) Close() error {
	s.closed = true
	return nil
}
