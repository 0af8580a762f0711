package rfburst

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCsvFileDebugger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.csv")
	d, err := NewCsvFileDebugger(path)
	require.NoError(t, err)

	d.Record(CycleRecord{Time: testEpoch, SubBlocks: 40, Peak: 0.5, Average: 0.25, On: 0.08, Off: 0.032, Triggered: true})
	d.Record(CycleRecord{Time: testEpoch.Add(200 * time.Millisecond), SubBlocks: 40, Peak: 0.01, Average: 0.01, On: 0.08, Off: 0.032})
	d.Close()
	d.Close()
	d.Record(CycleRecord{}) // ignored after close

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "Time,SubBlocks,Peak,Average,On,Off,Triggered", lines[0])
	assert.Equal(t, "2026-03-14T09:26:53Z,40,5.000000e-01,2.500000e-01,8.000000e-02,3.200000e-02,1", lines[1])
	assert.True(t, strings.HasSuffix(lines[2], ",0"))
}

func TestCsvFileDebugger_BadPath(t *testing.T) {
	_, err := NewCsvFileDebugger(filepath.Join(t.TempDir(), "missing", "trace.csv"))
	assert.Error(t, err)
}

func TestNoOpDebugger(t *testing.T) {
	var d SignalDebugger = &NoOpDebugger{}
	d.Record(CycleRecord{Peak: 1})
	d.Close()
}
