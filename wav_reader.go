package rfburst

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mjibson/go-dsp/wav"
)

// IQWavSource replays a stereo WAV recording as I/Q: left channel is I,
// right channel is Q. 8-bit, 16-bit PCM and 32-bit float files are accepted.
type IQWavSource struct {
	file *os.File
	w    *wav.Wav

	// Realtime paces reads to the recording's sample rate.
	Realtime bool
	clock    Clock
	start    time.Time
	read     int64 // samples delivered so far
}

// OpenIQWav opens a recording for replay.
func OpenIQWav(path string) (*IQWavSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &SourceError{Op: "open", Err: err}
	}

	w, err := wav.New(f)
	if err != nil {
		f.Close()
		return nil, &SourceError{Op: "open", Err: fmt.Errorf("%s: %w", path, err)}
	}
	if w.NumChannels != 2 {
		f.Close()
		return nil, &SourceError{Op: "open", Err: fmt.Errorf("%s: need a stereo I/Q recording, got %d channel(s)", path, w.NumChannels)}
	}

	Logf("[SDR] Replaying %s: %d Hz, %d-bit, %v", path, w.SampleRate, w.BitsPerSample, w.Duration)
	return &IQWavSource{
		file:  f,
		w:     w,
		clock: RealClock{},
	}, nil
}

// ReadWavSampleRate returns the sample rate stored in a WAV header.
func ReadWavSampleRate(path string) (float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	w, err := wav.New(f)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", path, err)
	}
	return float64(w.SampleRate), nil
}

// SampleRate is the recording's sample rate in Hz.
func (s *IQWavSource) SampleRate() float64 {
	return float64(s.w.SampleRate)
}

// ReadBlock returns the next n I/Q samples. The end of the recording is a
// short read wrapping io.EOF.
func (s *IQWavSource) ReadBlock(ctx context.Context, n int) ([]complex64, error) {
	if s.file == nil {
		return nil, &SourceError{Op: "read", Err: ErrSourceClosed}
	}
	if err := s.wait(ctx); err != nil {
		return nil, err
	}

	data, err := s.w.ReadSamples(2 * n)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, &SourceError{Op: "read", Err: fmt.Errorf("%w: end of recording: %w", ErrShortRead, io.EOF)}
		}
		return nil, &SourceError{Op: "read", Err: err}
	}

	block := make([]complex64, n)
	switch v := data.(type) {
	case []uint8:
		u8ToIQ(v, block)
	case []int16:
		for i := range block {
			block[i] = complex(float32(v[2*i])/32768.0, float32(v[2*i+1])/32768.0)
		}
	case []float32:
		for i := range block {
			block[i] = complex(v[2*i], v[2*i+1])
		}
	default:
		return nil, &SourceError{Op: "read", Err: fmt.Errorf("unsupported sample format %T", data)}
	}

	s.read += int64(n)
	return block, nil
}

// wait blocks until the wall clock catches up with the samples already
// delivered, so a replay runs at capture speed.
func (s *IQWavSource) wait(ctx context.Context) error {
	if !s.Realtime {
		return nil
	}
	now := s.clock.Now()
	if s.start.IsZero() {
		s.start = now
		return nil
	}

	due := s.start.Add(time.Duration(float64(s.read) / s.SampleRate() * float64(time.Second)))
	d := due.Sub(now)
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.clock.After(d):
		return nil
	}
}

// Close closes the file.
func (s *IQWavSource) Close() error {
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
