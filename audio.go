package rfburst

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/gen2brain/malgo"
)

// SoundcardSource captures I/Q from a stereo sound-card input, as delivered by
// SDRs with an audio I/Q output (left = I, right = Q).
type SoundcardSource struct {
	ctx    *malgo.AllocatedContext
	device *malgo.Device
	acc    *iqAccumulator

	SampleRate int
	closeOnce  sync.Once
}

// OpenSoundcard opens and starts a stereo float capture device. deviceName
// selects the first device whose name contains it; empty uses the default.
func OpenSoundcard(sampleRate int, deviceName string) (*SoundcardSource, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, &SourceError{Op: "open", Err: fmt.Errorf("failed to init malgo context: %w", err)}
	}

	sc := &SoundcardSource{
		ctx:        ctx,
		acc:        newIQAccumulator(256),
		SampleRate: sampleRate,
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = 2
	deviceConfig.SampleRate = uint32(sampleRate)
	deviceConfig.Alsa.NoMMap = 1

	if deviceName != "" {
		infos, err := ctx.Devices(malgo.Capture)
		if err == nil {
			for _, info := range infos {
				if strings.Contains(strings.ToLower(info.Name()), strings.ToLower(deviceName)) {
					deviceConfig.Capture.DeviceID = info.ID.Pointer()
					Logf("[SDR] Selected audio device: %s", info.Name())
					break
				}
			}
		}
	}

	onRecvFrames := func(pOutputSample, pInputSamples []byte, framecount uint32) {
		if len(pInputSamples) == 0 {
			return
		}
		samples := unsafe.Slice((*float32)(unsafe.Pointer(&pInputSamples[0])), 2*int(framecount))
		sc.acc.push(samples)
	}

	device, err := malgo.InitDevice(ctx.Context, deviceConfig, malgo.DeviceCallbacks{Data: onRecvFrames})
	if err != nil {
		_ = ctx.Uninit()
		ctx.Free()
		return nil, &SourceError{Op: "open", Err: fmt.Errorf("failed to init device: %w", err)}
	}
	sc.device = device

	if err := device.Start(); err != nil {
		sc.Close()
		return nil, &SourceError{Op: "open", Err: fmt.Errorf("failed to start device: %w", err)}
	}

	Logf("[SDR] Audio device initialized. Rate: %d Hz", device.SampleRate())
	return sc, nil
}

// ReadBlock waits until n samples have been captured.
func (sc *SoundcardSource) ReadBlock(ctx context.Context, n int) ([]complex64, error) {
	block, err := sc.acc.take(ctx, n)
	if err != nil {
		return nil, sourceErr("read", err)
	}
	return block, nil
}

// Overruns is the number of capture buffers dropped because the reader fell
// behind.
func (sc *SoundcardSource) Overruns() int64 {
	return sc.acc.overruns.Load()
}

// Close stops capture and releases the device.
func (sc *SoundcardSource) Close() error {
	sc.closeOnce.Do(func() {
		if sc.device != nil {
			sc.device.Uninit()
			sc.device = nil
		}
		if sc.ctx != nil {
			_ = sc.ctx.Uninit()
			sc.ctx.Free()
			sc.ctx = nil
		}
		sc.acc.close()
		if n := sc.acc.overruns.Load(); n > 0 {
			Logf("[SDR] %d capture buffers dropped (reader too slow)", n)
		}
	})
	return nil
}

// iqAccumulator moves interleaved stereo frames from the audio callback to
// the reader. push never blocks; when the queue is full the chunk is dropped
// and counted.
type iqAccumulator struct {
	chunks   chan []complex64
	done     chan struct{}
	doneOnce sync.Once
	pending  []complex64
	overruns atomic.Int64
}

func newIQAccumulator(depth int) *iqAccumulator {
	return &iqAccumulator{
		chunks: make(chan []complex64, depth),
		done:   make(chan struct{}),
	}
}

// push copies interleaved I,Q,I,Q... values. A trailing odd value is ignored.
func (a *iqAccumulator) push(interleaved []float32) {
	n := len(interleaved) / 2
	if n == 0 {
		return
	}
	chunk := make([]complex64, n)
	for i := range chunk {
		chunk[i] = complex(interleaved[2*i], interleaved[2*i+1])
	}

	select {
	case <-a.done:
	case a.chunks <- chunk:
	default:
		a.overruns.Add(1)
	}
}

// take returns exactly n samples, keeping any surplus for the next call.
func (a *iqAccumulator) take(ctx context.Context, n int) ([]complex64, error) {
	for len(a.pending) < n {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-a.done:
			return nil, ErrSourceClosed
		case chunk := <-a.chunks:
			a.pending = append(a.pending, chunk...)
		}
	}

	block := make([]complex64, n)
	copy(block, a.pending)
	a.pending = append(a.pending[:0], a.pending[n:]...)
	return block, nil
}

func (a *iqAccumulator) close() {
	a.doneOnce.Do(func() { close(a.done) })
}
