package rfburst

import (
	"context"
	"fmt"
)

// SampleSource delivers fixed-size blocks of complex baseband samples.
//
// ReadBlock blocks until exactly n samples are available and returns them, or
// fails with a *SourceError. It should return early when ctx is cancelled.
// Close releases the underlying device and is safe to call more than once.
type SampleSource interface {
	ReadBlock(ctx context.Context, n int) ([]complex64, error)
	Close() error
}

// SourceOpener acquires a SampleSource. The pipeline owns what it returns and
// closes it on every exit path.
type SourceOpener func(ctx context.Context) (SampleSource, error)

// checkBlock verifies a source honoured the exact-length contract.
func checkBlock(block []complex64, n int) error {
	if len(block) != n {
		return &SourceError{Op: "read", Err: fmt.Errorf("%w: got %d of %d samples", ErrShortRead, len(block), n)}
	}
	return nil
}

// u8ToIQ converts interleaved unsigned 8-bit I/Q (rtl-sdr native format) into
// complex samples in [-1, 1].
func u8ToIQ(raw []byte, out []complex64) {
	for i := range out {
		re := (float32(raw[2*i]) - 127.5) / 127.5
		im := (float32(raw[2*i+1]) - 127.5) / 127.5
		out[i] = complex(re, im)
	}
}
