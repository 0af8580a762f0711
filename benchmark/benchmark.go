package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"text/tabwriter"
	"time"

	"rfburst"
	"rfburst/Filters"
)

// ============================================================================
// 1. Test signal
// ============================================================================

type SignalConfig struct {
	SampleRate float64
	NoiseStd   float64       // per I/Q component
	SNRdB      float64       // burst power over noise power
	Burst      time.Duration // length of one press
	Period     time.Duration // spacing between presses
	Presses    int
	FadeDepth  float64 // 0..1, slow amplitude fading across presses
}

// Bursts schedules the presses after a quiet lead-in that covers calibration.
func (c SignalConfig) Bursts(leadIn time.Duration) []rfburst.Burst {
	noisePower := 2 * c.NoiseStd * c.NoiseStd
	amp := math.Sqrt(noisePower * math.Pow(10, c.SNRdB/10))

	bursts := rfburst.KeyFobBursts(leadIn, c.Presses, c.Burst, c.Period, amp)
	for i := range bursts {
		fade := 1 - c.FadeDepth*(0.5+0.5*math.Sin(2*math.Pi*float64(i)/5))
		bursts[i].Amplitude *= fade
	}
	return bursts
}

// ============================================================================
// 2. Simulated time
// ============================================================================

var errEndOfSignal = errors.New("end of test signal")

// clockedSource advances a mock clock by one block per read so event
// timestamps line up with signal time, and stops after limit.
type clockedSource struct {
	*rfburst.SyntheticSource
	clock *rfburst.MockClock
	block time.Duration
	limit time.Duration
}

func (s *clockedSource) ReadBlock(ctx context.Context, n int) ([]complex64, error) {
	if s.Elapsed() >= s.limit {
		return nil, errEndOfSignal
	}
	b, err := s.SyntheticSource.ReadBlock(ctx, n)
	if err != nil {
		return nil, err
	}
	s.clock.Advance(s.block)
	return b, nil
}

// ============================================================================
// 3. Scoring
// ============================================================================

type Score struct {
	Hits        int
	Misses      int
	FalseAlarms int
	MeanLatency time.Duration
}

// ScoreEvents matches each Entered event to the press it belongs to. An event
// within a press (plus two blocks of reporting delay) is a hit; a second
// event for the same press or one outside any press is a false alarm.
func ScoreEvents(events []Filters.Event, bursts []rfburst.Burst, epoch time.Time, block time.Duration) Score {
	var s Score
	matched := make([]bool, len(bursts))
	var total time.Duration

	for _, ev := range events {
		if ev.Kind != Filters.Entered {
			continue
		}
		at := ev.Timestamp.Sub(epoch)
		hit := false
		for i, b := range bursts {
			if at >= b.Start && at <= b.Start+b.Length+2*block {
				if !matched[i] {
					matched[i] = true
					total += at - b.Start
					s.Hits++
					hit = true
				}
				break
			}
		}
		if !hit {
			s.FalseAlarms++
		}
	}
	s.Misses = len(bursts) - s.Hits
	if s.Hits > 0 {
		s.MeanLatency = total / time.Duration(s.Hits)
	}
	return s
}

// ============================================================================
// 4. Harness
// ============================================================================

type TestCase struct {
	Name string
	SignalConfig
}

func runCase(tc TestCase) (Score, time.Duration, error) {
	cfg := rfburst.DefaultConfig()
	cfg.SDR.SampleRate = tc.SampleRate
	cfg.Detector.PacingMs = 0

	epoch := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := rfburst.NewMockClock(epoch)
	leadIn := cfg.Calibration() + time.Second
	bursts := tc.Bursts(leadIn)

	src := &clockedSource{
		SyntheticSource: rfburst.NewSyntheticSource(tc.SampleRate, 7, tc.NoiseStd, bursts...),
		clock:           clock,
		block:           cfg.BlockDuration(),
		limit:           leadIn + time.Duration(tc.Presses)*tc.Period,
	}

	var events []Filters.Event
	sink := rfburst.EventSinkFunc(func(_ context.Context, ev Filters.Event) error {
		events = append(events, ev)
		return nil
	})

	p, err := rfburst.New(cfg,
		func(context.Context) (rfburst.SampleSource, error) { return src, nil },
		sink, rfburst.WithClock(clock))
	if err != nil {
		return Score{}, 0, err
	}

	start := time.Now()
	if err := p.Run(context.Background()); err != nil && !errors.Is(err, errEndOfSignal) {
		return Score{}, 0, err
	}
	return ScoreEvents(events, bursts, epoch, cfg.BlockDuration()), time.Since(start), nil
}

func RunBenchmark() {
	base := SignalConfig{
		SampleRate: 250e3,
		NoiseStd:   0.01,
		Burst:      80 * time.Millisecond,
		Period:     1500 * time.Millisecond,
		Presses:    20,
	}
	with := func(f func(*SignalConfig)) SignalConfig {
		c := base
		f(&c)
		return c
	}

	testCases := []TestCase{
		{"Level 1 (Easy)", with(func(c *SignalConfig) { c.SNRdB = 25 })},
		{"Level 2 (Medium)", with(func(c *SignalConfig) { c.SNRdB = 15 })},
		{"Level 2 (Short)", with(func(c *SignalConfig) { c.SNRdB = 15; c.Burst = 10 * time.Millisecond })},
		{"Level 2 (Fading)", with(func(c *SignalConfig) { c.SNRdB = 15; c.FadeDepth = 0.6 })},
		{"Level 2 (Rapid)", with(func(c *SignalConfig) { c.SNRdB = 15; c.Period = 300 * time.Millisecond })},
		{"Level 3 (Hard)", with(func(c *SignalConfig) { c.SNRdB = 9 })},
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "LEVEL\tSNR(dB)\tBURST(ms)\tPERIOD(ms)\tFADE\tHITS\tMISSES\tFALSE\tLATENCY(ms)\tTIME(ms)\tSTATUS")
	fmt.Fprintln(w, "-----\t-------\t---------\t----------\t----\t----\t------\t-----\t-----------\t--------\t------")

	for _, tc := range testCases {
		score, elapsed, err := runCase(tc)
		if err != nil {
			fmt.Fprintf(w, "%s\t%.1f\t-\t-\t-\t-\t-\t-\t-\t-\tERROR: %v\n", tc.Name, tc.SNRdB, err)
			continue
		}

		status := "PASS"
		if score.Misses > 0 || score.FalseAlarms > 0 {
			status = "FAIL"
		}
		fmt.Fprintf(w, "%s\t%.1f\t%d\t%d\t%.0f%%\t%d\t%d\t%d\t%d\t%d\t%s\n",
			tc.Name, tc.SNRdB, tc.Burst.Milliseconds(), tc.Period.Milliseconds(), tc.FadeDepth*100,
			score.Hits, score.Misses, score.FalseAlarms, score.MeanLatency.Milliseconds(), elapsed.Milliseconds(), status)
	}
	w.Flush()
}

// ============================================================================
// Main Entry
// ============================================================================

func main() {
	rfburst.SetLogger(nil)

	fmt.Println("Starting RF Burst Detector Benchmark Suite...")
	fmt.Println("==============================================")

	RunBenchmark()
}
