package rfburst

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Source kinds understood by the command line front end.
const (
	SourceRTLTCP    = "rtltcp"
	SourceWav       = "wav"
	SourceSoundcard = "soundcard"
	SourceDemo      = "demo"
)

// GainAuto selects the receiver's automatic gain.
const GainAuto = "auto"

// Config holds every tunable of the detector. It is treated as immutable once
// handed to New.
type Config struct {
	// --- Receiver ---
	// Passed through to the sample source, not interpreted by the detector.
	SDR struct {
		CenterFrequency float64 `json:"center_frequency"` // Hz
		SampleRate      float64 `json:"sample_rate"`      // samples per second
		Gain            string  `json:"gain"`             // "auto" or dB, e.g. "30"
	} `json:"sdr"`

	// --- Sample source selection ---
	Source struct {
		Kind        string `json:"kind"`         // rtltcp | wav | soundcard | demo
		RTLTCPAddr  string `json:"rtltcp_addr"`  // host:port of rtl_tcp
		WavPath     string `json:"wav_path"`     // stereo I/Q recording
		WavRealtime bool   `json:"wav_realtime"` // replay at capture speed
		AudioDevice string `json:"audio_device"` // substring of the capture device name
		CIVPort     string `json:"civ_port"`     // serial port of an ICOM rig, optional
		CIVBaud     int    `json:"civ_baud"`
		CIVAddress  byte   `json:"civ_address"`
	} `json:"source"`

	// --- Detection ---
	Detector struct {
		BlockDuration      float64 `json:"block_duration"`      // seconds per read block
		SubblockMs         float64 `json:"subblock_ms"`         // envelope averaging window
		CalibrationSeconds float64 `json:"calibration_seconds"` // noise-floor window
		ThresholdFactor    float64 `json:"threshold_factor"`    // on = median * factor
		HysteresisFactor   float64 `json:"hysteresis_factor"`   // off = on * (1 - factor)
		DebounceMs         float64 `json:"debounce_ms"`         // min spacing of Entered events
		PacingMs           float64 `json:"pacing_ms"`           // pause after each cycle
	} `json:"detector"`

	// --- Event outputs ---
	Output struct {
		DBPath     string `json:"db_path"`     // sqlite event store, optional
		MQTTBroker string `json:"mqtt_broker"` // host:port, optional
		MQTTTopic  string `json:"mqtt_topic"`
		MQTTClient string `json:"mqtt_client_id"`
		TracePath  string `json:"trace_path"` // per-cycle CSV trace, optional
	} `json:"output"`
}

// DefaultConfig returns the defaults for a 315 MHz key fob.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.SDR.CenterFrequency = 315e6
	cfg.SDR.SampleRate = 1.024e6 // commonly supported by RTL dongles
	cfg.SDR.Gain = GainAuto

	cfg.Source.Kind = SourceRTLTCP
	cfg.Source.RTLTCPAddr = "127.0.0.1:1234"
	cfg.Source.WavRealtime = true
	cfg.Source.CIVBaud = 115200
	cfg.Source.CIVAddress = CIVAddrIC7300

	cfg.Detector.BlockDuration = 0.2
	cfg.Detector.SubblockMs = 5
	cfg.Detector.CalibrationSeconds = 3.0
	cfg.Detector.ThresholdFactor = 8.0
	cfg.Detector.HysteresisFactor = 0.6
	cfg.Detector.DebounceMs = 200
	cfg.Detector.PacingMs = 10

	cfg.Output.MQTTTopic = "rfburst/events"
	cfg.Output.MQTTClient = "rfburst"

	return cfg
}

// LoadConfig reads a JSON file on top of DefaultConfig and validates it.
// Fields missing from the file keep their defaults.
func LoadConfig(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 << 20
	if info.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the detector and receiver settings.
func (c *Config) Validate() error {
	d := c.Detector
	switch {
	case !(c.SDR.SampleRate > 0):
		return fmt.Errorf("%w: sample_rate must be > 0, got %v", ErrInvalidConfig, c.SDR.SampleRate)
	case c.SDR.CenterFrequency < 0:
		return fmt.Errorf("%w: center_frequency must be >= 0, got %v", ErrInvalidConfig, c.SDR.CenterFrequency)
	case !(d.BlockDuration > 0):
		return fmt.Errorf("%w: block_duration must be > 0, got %v", ErrInvalidConfig, d.BlockDuration)
	case c.BlockSamples() < 1:
		return fmt.Errorf("%w: block_duration %vs holds no samples at %v S/s", ErrInvalidConfig, d.BlockDuration, c.SDR.SampleRate)
	case !(d.SubblockMs > 0):
		return fmt.Errorf("%w: subblock_ms must be > 0, got %v", ErrInvalidConfig, d.SubblockMs)
	case !(d.CalibrationSeconds > 0):
		return fmt.Errorf("%w: calibration_seconds must be > 0, got %v", ErrInvalidConfig, d.CalibrationSeconds)
	case !(d.ThresholdFactor > 0):
		return fmt.Errorf("%w: threshold_factor must be > 0, got %v", ErrInvalidConfig, d.ThresholdFactor)
	case !(d.HysteresisFactor > 0 && d.HysteresisFactor <= 1):
		return fmt.Errorf("%w: hysteresis_factor must be in (0,1], got %v", ErrInvalidConfig, d.HysteresisFactor)
	case 1-d.HysteresisFactor == 1:
		return fmt.Errorf("%w: hysteresis_factor %v too small to separate the off threshold", ErrInvalidConfig, d.HysteresisFactor)
	case !(d.DebounceMs >= 0):
		return fmt.Errorf("%w: debounce_ms must be >= 0, got %v", ErrInvalidConfig, d.DebounceMs)
	case !(d.PacingMs >= 0):
		return fmt.Errorf("%w: pacing_ms must be >= 0, got %v", ErrInvalidConfig, d.PacingMs)
	case d.DebounceMs > 0 && d.PacingMs >= d.DebounceMs:
		return fmt.Errorf("%w: pacing_ms (%v) must be well below debounce_ms (%v)", ErrInvalidConfig, d.PacingMs, d.DebounceMs)
	}

	if _, _, err := c.ParseGain(); err != nil {
		return err
	}
	return nil
}

// ParseGain returns (auto, dB). Any non-"auto" value must be a number.
func (c *Config) ParseGain() (auto bool, db float64, err error) {
	g := strings.TrimSpace(strings.ToLower(c.SDR.Gain))
	if g == "" || g == GainAuto {
		return true, 0, nil
	}
	db, err = strconv.ParseFloat(g, 64)
	if err != nil || math.IsNaN(db) || math.IsInf(db, 0) {
		return false, 0, fmt.Errorf("%w: gain must be %q or a number, got %q", ErrInvalidConfig, GainAuto, c.SDR.Gain)
	}
	return false, db, nil
}

func seconds(s float64) time.Duration {
	return time.Duration(math.Round(s * float64(time.Second)))
}

// BlockDuration is the nominal length of one acquisition cycle.
func (c *Config) BlockDuration() time.Duration {
	return seconds(c.Detector.BlockDuration)
}

// BlockSamples is the number of samples read per cycle.
func (c *Config) BlockSamples() int {
	return int(c.Detector.BlockDuration * c.SDR.SampleRate)
}

// Subblock is the envelope averaging window.
func (c *Config) Subblock() time.Duration {
	return seconds(c.Detector.SubblockMs / 1000.0)
}

// Calibration is the noise-floor estimation window.
func (c *Config) Calibration() time.Duration {
	return seconds(c.Detector.CalibrationSeconds)
}

// CalibrationBlocks is ceil(calibration / block duration), at least 1.
func (c *Config) CalibrationBlocks() int {
	block := c.BlockDuration()
	if block <= 0 {
		return 1
	}
	n := int((c.Calibration() + block - 1) / block)
	if n < 1 {
		return 1
	}
	return n
}

// Debounce is the minimum spacing between Entered events.
func (c *Config) Debounce() time.Duration {
	return seconds(c.Detector.DebounceMs / 1000.0)
}

// Pacing is the pause inserted after each cycle.
func (c *Config) Pacing() time.Duration {
	return seconds(c.Detector.PacingMs / 1000.0)
}
