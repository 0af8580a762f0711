package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rfburst"
	"rfburst/Filters"
	"rfburst/Sinks"
)

func parse(t *testing.T, args ...string) (*rfburst.Config, error) {
	t.Helper()
	cmd := newRootCmd()
	require.NoError(t, cmd.ParseFlags(args))
	return loadConfig(cmd)
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := parse(t)
	require.NoError(t, err)
	assert.Equal(t, rfburst.SourceRTLTCP, cfg.Source.Kind)
	assert.Equal(t, 315e6, cfg.SDR.CenterFrequency)
	assert.Equal(t, 8.0, cfg.Detector.ThresholdFactor)
}

func TestLoadConfig_FlagsOverride(t *testing.T) {
	cfg, err := parse(t,
		"--freq", "433920000",
		"--gain", "20",
		"--factor", "6",
		"--hysteresis", "0.5",
		"--debounce", "300",
		"--db", "events.db",
		"--rtltcp", "10.0.0.2:1234",
	)
	require.NoError(t, err)
	assert.Equal(t, 433.92e6, cfg.SDR.CenterFrequency)
	assert.Equal(t, "20", cfg.SDR.Gain)
	assert.Equal(t, 6.0, cfg.Detector.ThresholdFactor)
	assert.Equal(t, 0.5, cfg.Detector.HysteresisFactor)
	assert.Equal(t, 300.0, cfg.Detector.DebounceMs)
	assert.Equal(t, "events.db", cfg.Output.DBPath)
	assert.Equal(t, "10.0.0.2:1234", cfg.Source.RTLTCPAddr)
}

func TestLoadConfig_FileThenFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"detector":{"threshold_factor":5,"debounce_ms":400}}`), 0o644))

	cfg, err := parse(t, "--config", path, "--debounce", "250")
	require.NoError(t, err)
	assert.Equal(t, 5.0, cfg.Detector.ThresholdFactor)
	assert.Equal(t, 250.0, cfg.Detector.DebounceMs)
}

func TestLoadConfig_Demo(t *testing.T) {
	cfg, err := parse(t, "--demo")
	require.NoError(t, err)
	assert.Equal(t, rfburst.SourceDemo, cfg.Source.Kind)
	assert.Equal(t, 250e3, cfg.SDR.SampleRate)
}

func TestLoadConfig_Rejects(t *testing.T) {
	_, err := parse(t, "--source", "carrier-pigeon")
	assert.ErrorIs(t, err, rfburst.ErrInvalidConfig)

	_, err = parse(t, "--source", "wav")
	assert.ErrorIs(t, err, rfburst.ErrInvalidConfig)

	_, err = parse(t, "--hysteresis", "1.5")
	assert.ErrorIs(t, err, rfburst.ErrInvalidConfig)

	_, err = parse(t, "--wav", filepath.Join(t.TempDir(), "missing.wav"))
	assert.Error(t, err)
}

func TestOpenSinks_ConsoleAndStore(t *testing.T) {
	cfg := rfburst.DefaultConfig()
	cfg.Output.DBPath = filepath.Join(t.TempDir(), "events.db")

	var out bytes.Buffer
	sinks, closeSinks, err := openSinks(context.Background(), cfg, &out)
	require.NoError(t, err)
	require.Len(t, sinks, 2)

	ev := Filters.Event{Kind: Filters.Entered, Timestamp: time.Now(), Peak: 1, Average: 0.5}
	require.NoError(t, sinks.Emit(context.Background(), ev))
	closeSinks()
	assert.Contains(t, out.String(), "Detected! peak=1.0000e+00  avg=5.0000e-01")

	store, err := Sinks.OpenStore(cfg.Output.DBPath, 0)
	require.NoError(t, err)
	defer store.Close()
	recs, err := store.Recent(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, 315e6, recs[0].FrequencyHz)

	var table bytes.Buffer
	require.NoError(t, printEvents(&table, recs))
	assert.Contains(t, table.String(), "entered")
	assert.Contains(t, table.String(), "315.000")
}

func TestRunDemoUntilCancelled(t *testing.T) {
	old := rfburst.Logf
	rfburst.SetLogger(nil)
	t.Cleanup(func() { rfburst.Logf = old })

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--demo", "--calibration", "0.4"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	time.AfterFunc(time.Second, cancel)

	require.NoError(t, cmd.ExecuteContext(ctx))
	assert.Contains(t, out.String(), "Interrupted by user. Exiting.")
}
