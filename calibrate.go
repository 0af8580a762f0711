package rfburst

import (
	"context"

	"rfburst/Filters"
)

// Calibrate reads the calibration window from src and estimates the noise
// floor. Keep transmitters quiet while it runs.
//
// Read failures are returned as *SourceError; a window without usable
// sub-block means (or a zero floor) is a *CalibrationError.
func Calibrate(ctx context.Context, src SampleSource, cfg *Config) (Filters.NoiseProfile, error) {
	reducer := Filters.NewEnvelopeReducer(cfg.SDR.SampleRate, cfg.Subblock())
	blockLen := cfg.BlockSamples()
	blocks := cfg.CalibrationBlocks()

	Logf("[CALIB] Calibrating noise floor for %.1f seconds (%d blocks)... keep transmitters quiet",
		cfg.Detector.CalibrationSeconds, blocks)

	var acc Filters.NoiseAccumulator
	for i := 0; i < blocks; i++ {
		if err := ctx.Err(); err != nil {
			return Filters.NoiseProfile{}, err
		}
		block, err := src.ReadBlock(ctx, blockLen)
		if err != nil {
			if ctx.Err() != nil {
				return Filters.NoiseProfile{}, ctx.Err()
			}
			return Filters.NoiseProfile{}, sourceErr("read", err)
		}
		if err := checkBlock(block, blockLen); err != nil {
			return Filters.NoiseProfile{}, err
		}
		acc.Add(reducer.Reduce(block))
	}

	profile, err := acc.Profile()
	if err != nil {
		return Filters.NoiseProfile{}, &CalibrationError{Blocks: blocks, Means: acc.Count(), Err: err}
	}

	Logf("[CALIB] Calibration done: median=%.4e, mean=%.4e, std=%.4e (%d sub-blocks)",
		profile.Median, profile.Mean, profile.StdDev, acc.Count())
	return profile, nil
}
