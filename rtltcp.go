package rfburst

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"sync"
	"time"
)

// rtl_tcp command opcodes. Each command is 1 opcode byte followed by a
// big-endian uint32 parameter.
const (
	rtlCmdSetFreq       = 0x01
	rtlCmdSetSampleRate = 0x02
	rtlCmdSetGainMode   = 0x03 // 0 = automatic, 1 = manual
	rtlCmdSetGain       = 0x04 // tenths of a dB
	rtlCmdSetAGCMode    = 0x08 // RTL2832 digital AGC, never enabled
)

var rtlMagic = [4]byte{'R', 'T', 'L', '0'}

var rtlTunerNames = map[uint32]string{
	1: "E4000", 2: "FC0012", 3: "FC0013", 4: "FC2580", 5: "R820T", 6: "R828D",
}

// DongleInfo is the greeting sent by rtl_tcp after connecting.
type DongleInfo struct {
	TunerType  uint32
	GainLevels uint32
}

// TunerName returns a readable tuner name.
func (d DongleInfo) TunerName() string {
	if name, ok := rtlTunerNames[d.TunerType]; ok {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", d.TunerType)
}

// RTLTCPSource reads I/Q from an rtl_tcp server.
type RTLTCPSource struct {
	conn net.Conn
	Info DongleInfo

	raw       []byte
	closeOnce sync.Once
	closeErr  error
}

// DialRTLTCP connects to addr and tunes the dongle from cfg.
// Gain is best effort: a rejected gain command is logged and ignored.
func DialRTLTCP(ctx context.Context, addr string, cfg *Config) (*RTLTCPSource, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &SourceError{Op: "open", Err: err}
	}

	src, err := newRTLTCPSource(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := src.configure(cfg); err != nil {
		conn.Close()
		return nil, err
	}
	return src, nil
}

func newRTLTCPSource(conn net.Conn) (*RTLTCPSource, error) {
	var hdr [12]byte
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, err := io.ReadFull(conn, hdr[:]); err != nil {
		return nil, &SourceError{Op: "open", Err: fmt.Errorf("reading dongle info: %w", err)}
	}
	conn.SetReadDeadline(time.Time{})

	if [4]byte(hdr[0:4]) != rtlMagic {
		return nil, &SourceError{Op: "open", Err: fmt.Errorf("not an rtl_tcp server (magic %q)", hdr[0:4])}
	}

	return &RTLTCPSource{
		conn: conn,
		Info: DongleInfo{
			TunerType:  binary.BigEndian.Uint32(hdr[4:8]),
			GainLevels: binary.BigEndian.Uint32(hdr[8:12]),
		},
	}, nil
}

func (s *RTLTCPSource) configure(cfg *Config) error {
	Logf("[SDR] rtl_tcp tuner %s, %d gain levels", s.Info.TunerName(), s.Info.GainLevels)

	rate, err := hzParam("sample rate", cfg.SDR.SampleRate)
	if err != nil {
		return &SourceError{Op: "tune", Err: err}
	}
	freq, err := hzParam("center frequency", cfg.SDR.CenterFrequency)
	if err != nil {
		return &SourceError{Op: "tune", Err: err}
	}
	if err := s.command(rtlCmdSetSampleRate, rate); err != nil {
		return &SourceError{Op: "tune", Err: err}
	}
	if err := s.command(rtlCmdSetFreq, freq); err != nil {
		return &SourceError{Op: "tune", Err: err}
	}

	auto, db, err := cfg.ParseGain()
	if err != nil {
		Logf("[SDR] ignoring gain setting: %v", err)
		return nil
	}
	if err := s.setGain(auto, db); err != nil {
		Logf("[SDR] gain not settable, continuing with device default: %v", err)
	}
	return nil
}

// hzParam converts a rate or frequency to the protocol's uint32 field.
func hzParam(name string, hz float64) (uint32, error) {
	r := math.Round(hz)
	if !(r >= 0 && r <= math.MaxUint32) {
		return 0, fmt.Errorf("%s %.0f Hz out of rtl_tcp range", name, hz)
	}
	return uint32(r), nil
}

func (s *RTLTCPSource) setGain(auto bool, db float64) error {
	if auto {
		return s.command(rtlCmdSetGainMode, 0)
	}
	if err := s.command(rtlCmdSetGainMode, 1); err != nil {
		return err
	}
	if db < 0 {
		return fmt.Errorf("negative gain %.1f dB", db)
	}
	return s.command(rtlCmdSetGain, uint32(math.Round(db*10)))
}

func (s *RTLTCPSource) command(op byte, param uint32) error {
	var buf [5]byte
	buf[0] = op
	binary.BigEndian.PutUint32(buf[1:], param)
	_, err := s.conn.Write(buf[:])
	return err
}

// ReadBlock reads exactly n samples. Cancelling ctx interrupts a pending read.
func (s *RTLTCPSource) ReadBlock(ctx context.Context, n int) ([]complex64, error) {
	if cap(s.raw) < 2*n {
		s.raw = make([]byte, 2*n)
	}
	raw := s.raw[:2*n]

	stop := context.AfterFunc(ctx, func() {
		s.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	got, err := io.ReadFull(s.conn, raw)
	if err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			err = fmt.Errorf("%w: got %d of %d samples: %v", ErrShortRead, got/2, n, err)
		}
		return nil, &SourceError{Op: "read", Err: err}
	}

	block := make([]complex64, n)
	u8ToIQ(raw, block)
	return block, nil
}

// Close disconnects from the server.
func (s *RTLTCPSource) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}
