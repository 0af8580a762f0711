package rfburst

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIQAccumulator_SplitsAndCarriesSurplus(t *testing.T) {
	a := newIQAccumulator(8)
	a.push([]float32{1, -1, 2, -2, 3, -3})
	a.push([]float32{4, -4, 5})

	block, err := a.take(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, []complex64{complex(1, -1), complex(2, -2)}, block)

	// the odd trailing value of the second push is dropped
	block, err = a.take(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, []complex64{complex(3, -3), complex(4, -4)}, block)
}

func TestIQAccumulator_CountsOverruns(t *testing.T) {
	a := newIQAccumulator(2)
	for i := 0; i < 5; i++ {
		a.push([]float32{float32(i), 0})
	}
	assert.Equal(t, int64(3), a.overruns.Load())

	block, err := a.take(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, []complex64{0, 1}, block)
}

func TestIQAccumulator_TakeWaitsForData(t *testing.T) {
	a := newIQAccumulator(8)
	go func() {
		time.Sleep(20 * time.Millisecond)
		a.push([]float32{7, 8})
	}()

	block, err := a.take(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, []complex64{complex(7, 8)}, block)
}

func TestIQAccumulator_Cancel(t *testing.T) {
	a := newIQAccumulator(8)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := a.take(ctx, 1)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIQAccumulator_Closed(t *testing.T) {
	a := newIQAccumulator(8)
	a.close()
	a.close()

	_, err := a.take(context.Background(), 1)
	assert.ErrorIs(t, err, ErrSourceClosed)

	// pushes after close are discarded, not counted
	a.push([]float32{1, 1})
	assert.Zero(t, a.overruns.Load())
}
