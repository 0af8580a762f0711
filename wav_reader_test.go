package rfburst

import (
	"context"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeTestWav writes a 16-bit PCM file with interleaved samples.
func writeTestWav(t *testing.T, channels, rate int, samples []int16) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "iq.wav")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	dataSize := uint32(len(samples) * 2)
	le := binary.LittleEndian
	f.Write([]byte("RIFF"))
	binary.Write(f, le, 36+dataSize)
	f.Write([]byte("WAVE"))
	f.Write([]byte("fmt "))
	binary.Write(f, le, uint32(16))
	binary.Write(f, le, uint16(1)) // PCM
	binary.Write(f, le, uint16(channels))
	binary.Write(f, le, uint32(rate))
	binary.Write(f, le, uint32(rate*channels*2))
	binary.Write(f, le, uint16(channels*2))
	binary.Write(f, le, uint16(16))
	f.Write([]byte("data"))
	binary.Write(f, le, dataSize)
	require.NoError(t, binary.Write(f, le, samples))
	return path
}

func TestIQWav_ReadsStereoAsIQ(t *testing.T) {
	path := writeTestWav(t, 2, 48000, []int16{16384, -16384, 0, 32767, -32768, 0})

	rate, err := ReadWavSampleRate(path)
	require.NoError(t, err)
	assert.Equal(t, 48000.0, rate)

	src, err := OpenIQWav(path)
	require.NoError(t, err)
	defer src.Close()
	assert.Equal(t, 48000.0, src.SampleRate())

	block, err := src.ReadBlock(context.Background(), 3)
	require.NoError(t, err)
	require.Len(t, block, 3)
	assert.Equal(t, complex64(complex(0.5, -0.5)), block[0])
	assert.InDelta(t, 1.0, imag(block[1]), 1e-4)
	assert.Equal(t, float32(-1), real(block[2]))
}

func TestIQWav_EndOfRecording(t *testing.T) {
	path := writeTestWav(t, 2, 8000, []int16{1, 2, 3, 4})
	src, err := OpenIQWav(path)
	require.NoError(t, err)
	defer src.Close()

	_, err = src.ReadBlock(context.Background(), 2)
	require.NoError(t, err)

	_, err = src.ReadBlock(context.Background(), 2)
	assert.ErrorIs(t, err, ErrShortRead)
	assert.ErrorIs(t, err, io.EOF)
	var se *SourceError
	assert.ErrorAs(t, err, &se)
}

func TestIQWav_RejectsMono(t *testing.T) {
	path := writeTestWav(t, 1, 8000, []int16{1, 2, 3, 4})
	_, err := OpenIQWav(path)
	var se *SourceError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "open", se.Op)
}

func TestIQWav_MissingFile(t *testing.T) {
	_, err := OpenIQWav(filepath.Join(t.TempDir(), "nope.wav"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = ReadWavSampleRate(filepath.Join(t.TempDir(), "nope.wav"))
	assert.Error(t, err)
}

func TestIQWav_ClosedSource(t *testing.T) {
	path := writeTestWav(t, 2, 8000, []int16{1, 2, 3, 4})
	src, err := OpenIQWav(path)
	require.NoError(t, err)
	require.NoError(t, src.Close())
	require.NoError(t, src.Close())

	_, err = src.ReadBlock(context.Background(), 1)
	assert.ErrorIs(t, err, ErrSourceClosed)
}

func TestIQWav_RealtimePacing(t *testing.T) {
	path := writeTestWav(t, 2, 1000, make([]int16, 2*300))
	src, err := OpenIQWav(path)
	require.NoError(t, err)
	defer src.Close()

	clock := NewMockClock(testEpoch)
	src.clock = clock
	src.Realtime = true

	// the first block starts the replay clock
	_, err = src.ReadBlock(context.Background(), 100)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := src.ReadBlock(context.Background(), 100)
		done <- err
	}()

	require.Eventually(t, func() bool { return clock.Waiters() == 1 }, time.Second, 5*time.Millisecond)
	select {
	case <-done:
		t.Fatal("second block delivered before its capture time")
	default:
	}

	clock.Advance(100 * time.Millisecond)
	require.NoError(t, <-done)
}
