package rfburst

import (
	"context"
	"fmt"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"rfburst/Filters"
)

// EventSink receives detection events. Emit is called from the pipeline loop,
// so it should return quickly. A failing sink is logged and does not stop
// monitoring.
type EventSink interface {
	Emit(ctx context.Context, ev Filters.Event) error
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(ctx context.Context, ev Filters.Event) error

// Emit calls f.
func (f EventSinkFunc) Emit(ctx context.Context, ev Filters.Event) error {
	return f(ctx, ev)
}

// Stats counts what happened during a run.
type Stats struct {
	Cycles     int // monitoring blocks read
	Skipped    int // blocks that produced no sub-block means
	Entered    int
	Cleared    int
	SinkErrors int
}

// Pipeline runs calibration once and then the monitoring loop.
type Pipeline struct {
	cfg      Config
	open     SourceOpener
	sink     EventSink
	clock    Clock
	debugger SignalDebugger

	// valid after calibration
	noise      Filters.NoiseProfile
	thresholds Filters.Thresholds

	stats Stats
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithClock replaces the wall clock used for event timestamps and pacing.
func WithClock(c Clock) Option {
	return func(p *Pipeline) { p.clock = c }
}

// WithDebugger records every monitoring cycle.
func WithDebugger(d SignalDebugger) Option {
	return func(p *Pipeline) { p.debugger = d }
}

// New validates cfg and builds a pipeline. cfg is copied; later changes to it
// have no effect.
func New(cfg *Config, open SourceOpener, sink EventSink, opts ...Option) (*Pipeline, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if open == nil {
		return nil, fmt.Errorf("%w: nil source opener", ErrInvalidConfig)
	}
	if sink == nil {
		return nil, fmt.Errorf("%w: nil event sink", ErrInvalidConfig)
	}

	p := &Pipeline{
		cfg:      *cfg,
		open:     open,
		sink:     sink,
		clock:    RealClock{},
		debugger: &NoOpDebugger{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Run acquires the source, calibrates, and monitors until ctx is cancelled or
// a fatal error occurs. The source is closed before Run returns.
//
// Cancellation returns ctx.Err(). Acquisition failures return *SourceError and
// calibration failures *CalibrationError.
func (p *Pipeline) Run(ctx context.Context) error {
	src, err := p.open(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return sourceErr("open", err)
	}
	defer func() {
		if cerr := src.Close(); cerr != nil {
			Logf("[SDR] close failed: %v", cerr)
		}
	}()

	noise, err := Calibrate(ctx, src, &p.cfg)
	if err != nil {
		return err
	}
	p.noise = noise
	p.thresholds = Filters.NewThresholds(noise, p.cfg.Detector.ThresholdFactor, p.cfg.Detector.HysteresisFactor)
	if !p.thresholds.Valid() {
		return fmt.Errorf("%w: thresholds on=%v off=%v leave no hysteresis band",
			ErrInvalidConfig, p.thresholds.On, p.thresholds.Off)
	}

	Logf("[DETECT] Detection thresholds: on=%.4e, off=%.4e", p.thresholds.On, p.thresholds.Off)
	Logf("[DETECT] Monitoring %.3f MHz   sample_rate=%.3f MS/s",
		p.cfg.SDR.CenterFrequency/1e6, p.cfg.SDR.SampleRate/1e6)

	return p.monitor(ctx, src)
}

func (p *Pipeline) monitor(ctx context.Context, src SampleSource) error {
	reducer := Filters.NewEnvelopeReducer(p.cfg.SDR.SampleRate, p.cfg.Subblock())
	trigger := Filters.NewSchmittTrigger(p.thresholds, p.cfg.Debounce())
	blockLen := p.cfg.BlockSamples()
	pacing := p.cfg.Pacing()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		block, err := src.ReadBlock(ctx, blockLen)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return sourceErr("read", err)
		}
		if err := checkBlock(block, blockLen); err != nil {
			return err
		}

		means := reducer.Reduce(block)
		now := p.clock.Now()
		p.stats.Cycles++
		if len(means) == 0 {
			p.stats.Skipped++
		}

		ev, fired := trigger.Step(means, now)
		p.record(means, now, trigger.IsTriggered())
		if fired {
			p.emit(ctx, ev)
		}

		if err := p.pace(ctx, pacing); err != nil {
			return err
		}
	}
}

func (p *Pipeline) emit(ctx context.Context, ev Filters.Event) {
	switch ev.Kind {
	case Filters.Entered:
		p.stats.Entered++
	case Filters.Cleared:
		p.stats.Cleared++
	}
	if err := p.sink.Emit(ctx, ev); err != nil {
		p.stats.SinkErrors++
		Logf("[SINK] failed to deliver %s event: %v", ev.Kind, err)
	}
}

func (p *Pipeline) record(means []float64, now time.Time, triggered bool) {
	rec := CycleRecord{
		Time:      now,
		SubBlocks: len(means),
		On:        p.thresholds.On,
		Off:       p.thresholds.Off,
		Triggered: triggered,
	}
	if len(means) > 0 {
		rec.Peak = floats.Max(means)
		rec.Average = stat.Mean(means, nil)
	}
	p.debugger.Record(rec)
}

// pace waits for the pacing delay unless ctx is cancelled first.
func (p *Pipeline) pace(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.clock.After(d):
		return nil
	}
}

// Noise returns the calibrated noise profile. Zero before calibration.
func (p *Pipeline) Noise() Filters.NoiseProfile {
	return p.noise
}

// Thresholds returns the derived on/off pair. Zero before calibration.
func (p *Pipeline) Thresholds() Filters.Thresholds {
	return p.thresholds
}

// Stats returns the run counters. Only meaningful once Run has returned.
func (p *Pipeline) Stats() Stats {
	return p.stats
}
