package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"rfburst"
	"rfburst/Sinks"
)

var (
	flagConfig      string
	flagSource      string
	flagDemo        bool
	flagFreq        float64
	flagRate        float64
	flagGain        string
	flagAddr        string
	flagWav         string
	flagDevice      string
	flagCIVPort     string
	flagFactor      float64
	flagHysteresis  float64
	flagDebounce    float64
	flagCalibration float64
	flagDB          string
	flagMQTT        string
	flagTopic       string
	flagTrace       string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "rfburst",
		Short: "Detect short RF bursts such as key fob presses",
		Long: `rfburst calibrates the noise floor of a receiver for a few seconds and then
reports every burst that rises above it, for example a car key fob on 315 or
433.92 MHz. Keep transmitters quiet during calibration.

Samples come from an rtl_tcp server, a stereo I/Q WAV recording, a sound card
I/Q input, or a built-in synthetic signal (--demo).`,
		SilenceUsage: true,
		RunE:         run,
	}

	f := rootCmd.Flags()
	f.StringVar(&flagConfig, "config", "", "JSON config file")
	f.StringVar(&flagSource, "source", "", "sample source: rtltcp, wav, soundcard or demo")
	f.BoolVar(&flagDemo, "demo", false, "use a synthetic key fob signal (no hardware required)")
	f.Float64Var(&flagFreq, "freq", 0, "center frequency in Hz")
	f.Float64Var(&flagRate, "rate", 0, "sample rate in samples/s")
	f.StringVar(&flagGain, "gain", "", `receiver gain: "auto" or dB`)
	f.StringVar(&flagAddr, "rtltcp", "", "rtl_tcp server host:port")
	f.StringVar(&flagWav, "wav", "", "stereo I/Q WAV recording to replay (implies --source wav)")
	f.StringVar(&flagDevice, "device", "", "sound card capture device name (substring)")
	f.StringVar(&flagCIVPort, "civ-port", "", "serial port of an ICOM rig to tune before sound card capture")
	f.Float64Var(&flagFactor, "factor", 0, "on threshold as a multiple of the noise median")
	f.Float64Var(&flagHysteresis, "hysteresis", 0, "off threshold = on * (1 - hysteresis)")
	f.Float64Var(&flagDebounce, "debounce", 0, "minimum spacing between detections in ms")
	f.Float64Var(&flagCalibration, "calibration", 0, "noise calibration window in seconds")
	f.StringVar(&flagDB, "db", "", "sqlite file to store events in")
	f.StringVar(&flagMQTT, "mqtt", "", "MQTT broker host:port to publish events to")
	f.StringVar(&flagTopic, "topic", "", "MQTT topic")
	f.StringVar(&flagTrace, "trace", "", "write a per-cycle CSV trace to this file")

	rootCmd.AddCommand(newEventsCmd(), newRigCmd())
	return rootCmd
}

// loadConfig reads --config (or the defaults) and applies every flag the user
// set explicitly.
func loadConfig(cmd *cobra.Command) (*rfburst.Config, error) {
	cfg := rfburst.DefaultConfig()
	if flagConfig != "" {
		var err error
		if cfg, err = rfburst.LoadConfig(flagConfig); err != nil {
			return nil, err
		}
	}

	f := cmd.Flags()
	if f.Changed("freq") {
		cfg.SDR.CenterFrequency = flagFreq
	}
	if f.Changed("rate") {
		cfg.SDR.SampleRate = flagRate
	}
	if f.Changed("gain") {
		cfg.SDR.Gain = flagGain
	}
	if f.Changed("source") {
		cfg.Source.Kind = flagSource
	}
	if f.Changed("rtltcp") {
		cfg.Source.RTLTCPAddr = flagAddr
	}
	if f.Changed("wav") {
		cfg.Source.WavPath = flagWav
		cfg.Source.Kind = rfburst.SourceWav
	}
	if f.Changed("device") {
		cfg.Source.AudioDevice = flagDevice
	}
	if f.Changed("civ-port") {
		cfg.Source.CIVPort = flagCIVPort
	}
	if f.Changed("factor") {
		cfg.Detector.ThresholdFactor = flagFactor
	}
	if f.Changed("hysteresis") {
		cfg.Detector.HysteresisFactor = flagHysteresis
	}
	if f.Changed("debounce") {
		cfg.Detector.DebounceMs = flagDebounce
	}
	if f.Changed("calibration") {
		cfg.Detector.CalibrationSeconds = flagCalibration
	}
	if f.Changed("db") {
		cfg.Output.DBPath = flagDB
	}
	if f.Changed("mqtt") {
		cfg.Output.MQTTBroker = flagMQTT
	}
	if f.Changed("topic") {
		cfg.Output.MQTTTopic = flagTopic
	}
	if f.Changed("trace") {
		cfg.Output.TracePath = flagTrace
	}
	if flagDemo {
		cfg.Source.Kind = rfburst.SourceDemo
		if !f.Changed("rate") {
			cfg.SDR.SampleRate = 250e3
		}
	}

	switch cfg.Source.Kind {
	case rfburst.SourceRTLTCP, rfburst.SourceSoundcard, rfburst.SourceDemo:
	case rfburst.SourceWav:
		if cfg.Source.WavPath == "" {
			return nil, fmt.Errorf("%w: wav source needs a file (--wav)", rfburst.ErrInvalidConfig)
		}
		// replay at the rate the file was recorded with
		rate, err := rfburst.ReadWavSampleRate(cfg.Source.WavPath)
		if err != nil {
			return nil, err
		}
		cfg.SDR.SampleRate = rate
	default:
		return nil, fmt.Errorf("%w: unknown source %q", rfburst.ErrInvalidConfig, cfg.Source.Kind)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sinks, closeSinks, err := openSinks(ctx, cfg, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer closeSinks()

	var opts []rfburst.Option
	if cfg.Output.TracePath != "" {
		dbg, err := rfburst.NewCsvFileDebugger(cfg.Output.TracePath)
		if err != nil {
			return fmt.Errorf("failed to create trace file: %w", err)
		}
		defer dbg.Close()
		opts = append(opts, rfburst.WithDebugger(dbg))
	}

	p, err := rfburst.New(cfg, newOpener(cfg), sinks, opts...)
	if err != nil {
		return err
	}

	err = p.Run(ctx)

	st := p.Stats()
	rfburst.Logf("[DETECT] %d cycles (%d skipped), %d detections, %d cleared, %d sink errors",
		st.Cycles, st.Skipped, st.Entered, st.Cleared, st.SinkErrors)

	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled):
		fmt.Fprintln(cmd.OutOrStdout(), "\nInterrupted by user. Exiting.")
		return nil
	case cfg.Source.Kind == rfburst.SourceWav && errors.Is(err, io.EOF):
		rfburst.Logf("[SDR] End of recording")
		return nil
	}
	return err
}

// openSinks always prints to out and adds the store and publisher when
// configured.
func openSinks(ctx context.Context, cfg *rfburst.Config, out io.Writer) (Sinks.Multi, func(), error) {
	sinks := Sinks.Multi{Sinks.NewConsole(out)}
	var closers []func() error
	closeAll := func() {
		for _, c := range closers {
			if err := c(); err != nil {
				rfburst.Logf("[SINK] close failed: %v", err)
			}
		}
	}

	if cfg.Output.DBPath != "" {
		store, err := Sinks.OpenStore(cfg.Output.DBPath, cfg.SDR.CenterFrequency)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open event store: %w", err)
		}
		sinks = append(sinks, store)
		closers = append(closers, store.Close)
	}

	if cfg.Output.MQTTBroker != "" {
		pub, err := Sinks.DialMQTT(ctx, Sinks.MQTTConfig{
			Broker:      cfg.Output.MQTTBroker,
			Topic:       cfg.Output.MQTTTopic,
			ClientID:    cfg.Output.MQTTClient,
			FrequencyHz: cfg.SDR.CenterFrequency,
		})
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		sinks = append(sinks, pub)
		closers = append(closers, pub.Close)
	}

	return sinks, closeAll, nil
}

func newOpener(cfg *rfburst.Config) rfburst.SourceOpener {
	return func(ctx context.Context) (rfburst.SampleSource, error) {
		switch cfg.Source.Kind {
		case rfburst.SourceWav:
			src, err := rfburst.OpenIQWav(cfg.Source.WavPath)
			if err != nil {
				return nil, err
			}
			src.Realtime = cfg.Source.WavRealtime
			return src, nil

		case rfburst.SourceSoundcard:
			if cfg.Source.CIVPort != "" {
				if err := tuneRig(cfg); err != nil {
					return nil, &rfburst.SourceError{Op: "tune", Err: err}
				}
			}
			src, err := rfburst.OpenSoundcard(int(cfg.SDR.SampleRate), cfg.Source.AudioDevice)
			if err != nil {
				return nil, err
			}
			return src, nil

		case rfburst.SourceDemo:
			return newDemoSource(cfg), nil

		default:
			src, err := rfburst.DialRTLTCP(ctx, cfg.Source.RTLTCPAddr, cfg)
			if err != nil {
				return nil, err
			}
			return src, nil
		}
	}
}

// newDemoSource simulates a key fob pressed every three seconds once
// calibration is over.
func newDemoSource(cfg *rfburst.Config) *rfburst.SyntheticSource {
	first := cfg.Calibration() + time.Second
	bursts := rfburst.KeyFobBursts(first, 10000, 80*time.Millisecond, 3*time.Second, 0.1)
	src := rfburst.NewSyntheticSource(cfg.SDR.SampleRate, uint64(time.Now().UnixNano()), 0.01, bursts...)
	src.Realtime = true
	rfburst.Logf("[SDR] Demo mode: synthetic key fob every 3 s starting at %v", first)
	return src
}

func tuneRig(cfg *rfburst.Config) error {
	client := rfburst.NewCIVClient(cfg.Source.CIVPort, cfg.Source.CIVBaud, cfg.Source.CIVAddress)
	if err := client.Open(); err != nil {
		return err
	}
	defer client.Close()

	if err := client.SetFrequency(int64(cfg.SDR.CenterFrequency)); err != nil {
		return err
	}
	if hz, err := client.ReadFrequency(); err == nil {
		rfburst.Logf("[CIV] Rig tuned to %.6f MHz", float64(hz)/1e6)
	}
	return nil
}

func newEventsCmd() *cobra.Command {
	var dbPath string
	var limit int

	cmd := &cobra.Command{
		Use:   "events",
		Short: "List stored detection events, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			if dbPath == "" {
				return fmt.Errorf("no event store given (--db)")
			}
			store, err := Sinks.OpenStore(dbPath, 0)
			if err != nil {
				return err
			}
			defer store.Close()

			recs, err := store.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return printEvents(cmd.OutOrStdout(), recs)
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "", "sqlite event store")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of events")
	return cmd
}

func printEvents(out io.Writer, recs []Sinks.Record) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tKIND\tPEAK\tAVERAGE\tFREQ (MHz)\tID")
	for _, r := range recs {
		fmt.Fprintf(w, "%s\t%s\t%.4e\t%.4e\t%.3f\t%s\n",
			r.Timestamp.Local().Format("2006-01-02 15:04:05.000"), r.Kind, r.Peak, r.Average, r.FrequencyHz/1e6, r.ID)
	}
	return w.Flush()
}

func newRigCmd() *cobra.Command {
	var port string
	var baud int
	var addr uint8
	var setHz int64

	cmd := &cobra.Command{
		Use:   "rig",
		Short: "Read (and optionally set) the frequency of an ICOM rig over CI-V",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := rfburst.NewCIVClient(port, baud, addr)
			if err := client.Open(); err != nil {
				return err
			}
			defer client.Close()

			if setHz > 0 {
				if err := client.SetFrequency(setHz); err != nil {
					return err
				}
			}
			hz, err := client.ReadFrequency()
			if err != nil {
				return err
			}
			mode, err := client.ReadMode()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%.6f MHz %s\n", float64(hz)/1e6, mode)
			return nil
		},
	}
	cmd.Flags().StringVar(&port, "port", "/dev/ttyUSB0", "serial port")
	cmd.Flags().IntVar(&baud, "baud", 115200, "baud rate")
	cmd.Flags().Uint8Var(&addr, "addr", rfburst.CIVAddrIC7300, "rig CI-V address")
	cmd.Flags().Int64Var(&setHz, "set", 0, "tune to this frequency in Hz first")
	return cmd
}
