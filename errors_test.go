package rfburst

import (
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSourceErr_WrapsOnce(t *testing.T) {
	assert.NoError(t, sourceErr("read", nil))

	err := sourceErr("read", io.ErrUnexpectedEOF)
	var se *SourceError
	assert.ErrorAs(t, err, &se)
	assert.Equal(t, "sample source read: unexpected EOF", err.Error())

	again := sourceErr("open", err)
	assert.Same(t, err, again)
}

func TestCalibrationError_Unwrap(t *testing.T) {
	inner := errors.New("no data")
	err := error(&CalibrationError{Blocks: 3, Means: 0, Err: inner})
	assert.ErrorIs(t, err, inner)
	assert.Equal(t, "calibration failed after 3 blocks (0 sub-block means): no data", err.Error())
}

func TestSetLogger(t *testing.T) {
	old := Logf
	defer func() { Logf = old }()

	var got string
	SetLogger(func(format string, v ...interface{}) { got = format })
	Logf("[CALIB] hello")
	assert.Equal(t, "[CALIB] hello", got)

	SetLogger(nil)
	got = ""
	Logf("[CALIB] muted")
	assert.Empty(t, got)
}
