package rfburst

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/tarm/serial"
)

const (
	CIVPreamble       = 0xFE
	CIVEnd            = 0xFD
	CIVAddrIC7300     = 0x94 // ICOM IC-7300 default address
	CIVAddrController = 0xE0 // controller (PC) default address

	civCmdReadFreq = 0x03
	civCmdReadMode = 0x04
	civCmdSetFreq  = 0x05
	civOK          = 0xFB
	civNG          = 0xFA
)

// ErrRigRejected is returned when the rig answers a command with NG.
var ErrRigRejected = errors.New("rig rejected command")

// SerialPort is the subset of a serial port the client needs. Tests use a
// mock.
type SerialPort interface {
	io.ReadWriteCloser
}

// CIVClient talks CI-V to an ICOM rig. The sound-card source uses it to tune
// the receiver before capture.
type CIVClient struct {
	Port       string
	BaudRate   int
	RigAddr    byte
	Controller byte
	conn       SerialPort
}

// NewCIVClient creates a client for the rig at rigAddr.
func NewCIVClient(port string, baudRate int, rigAddr byte) *CIVClient {
	if rigAddr == 0 {
		rigAddr = CIVAddrIC7300
	}
	return &CIVClient{
		Port:       port,
		BaudRate:   baudRate,
		RigAddr:    rigAddr,
		Controller: CIVAddrController,
	}
}

// Open opens the serial connection.
func (c *CIVClient) Open() error {
	config := &serial.Config{
		Name:        c.Port,
		Baud:        c.BaudRate,
		ReadTimeout: time.Millisecond * 500,
	}
	s, err := serial.OpenPort(config)
	if err != nil {
		return fmt.Errorf("open %s: %w", c.Port, err)
	}
	c.conn = s
	return nil
}

// Close closes the serial connection.
func (c *CIVClient) Close() error {
	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		return err
	}
	return nil
}

// SendCommand writes one frame: FE FE [to] [from] [cmd] [data...] FD.
func (c *CIVClient) SendCommand(cmd byte, data []byte) error {
	if c.conn == nil {
		return fmt.Errorf("connection not open")
	}
	frame := []byte{CIVPreamble, CIVPreamble, c.RigAddr, c.Controller, cmd}
	frame = append(frame, data...)
	frame = append(frame, CIVEnd)

	_, err := c.conn.Write(frame)
	return err
}

// SetFrequency tunes the rig to hz and waits for its acknowledgement.
func (c *CIVClient) SetFrequency(hz int64) error {
	if hz < 0 || hz >= 1e10 {
		return fmt.Errorf("frequency %d Hz out of range", hz)
	}
	if err := c.SendCommand(civCmdSetFreq, encodeFrequency(hz)); err != nil {
		return err
	}

	cmd, _, err := c.readResponse()
	if err != nil {
		return err
	}
	switch cmd {
	case civOK:
		return nil
	case civNG:
		return fmt.Errorf("set frequency %d Hz: %w", hz, ErrRigRejected)
	default:
		return fmt.Errorf("set frequency: unexpected reply 0x%02X", cmd)
	}
}

// ReadFrequency reads the operating frequency in Hz.
func (c *CIVClient) ReadFrequency() (int64, error) {
	if err := c.SendCommand(civCmdReadFreq, nil); err != nil {
		return 0, err
	}

	data, err := c.expect(civCmdReadFreq)
	if err != nil {
		return 0, err
	}
	if len(data) < 5 {
		return 0, fmt.Errorf("invalid frequency data length %d", len(data))
	}
	return decodeFrequency(data[:5]), nil
}

var civModes = map[byte]string{
	0x00: "LSB", 0x01: "USB", 0x02: "AM", 0x03: "CW",
	0x04: "RTTY", 0x05: "FM", 0x07: "CW-R", 0x08: "RTTY-R",
	0x17: "DV",
}

// ReadMode reads the operating mode (LSB, USB, AM, FM...).
func (c *CIVClient) ReadMode() (string, error) {
	if err := c.SendCommand(civCmdReadMode, nil); err != nil {
		return "", err
	}

	data, err := c.expect(civCmdReadMode)
	if err != nil {
		return "", err
	}
	if len(data) < 1 {
		return "", fmt.Errorf("invalid mode data")
	}

	if name, ok := civModes[data[0]]; ok {
		return name, nil
	}
	return fmt.Sprintf("Unknown(0x%02X)", data[0]), nil
}

func (c *CIVClient) expect(cmd byte) ([]byte, error) {
	got, data, err := c.readResponse()
	if err != nil {
		return nil, err
	}
	if got == civNG {
		return nil, ErrRigRejected
	}
	if got != cmd {
		return nil, fmt.Errorf("expected reply to 0x%02X, got 0x%02X", cmd, got)
	}
	return data, nil
}

// readResponse returns the command byte and payload of the first frame
// addressed from the rig to us. Echoed copies of our own frames are skipped.
func (c *CIVClient) readResponse() (byte, []byte, error) {
	if c.conn == nil {
		return 0, nil, fmt.Errorf("connection not open")
	}
	buf := make([]byte, 1024)
	n, err := c.conn.Read(buf)
	if err != nil && err != io.EOF {
		return 0, nil, err
	}
	if n == 0 {
		return 0, nil, fmt.Errorf("timeout or no data")
	}

	data := buf[:n]
	header := []byte{CIVPreamble, CIVPreamble, c.Controller, c.RigAddr}
	idx := bytes.Index(data, header)
	if idx == -1 {
		return 0, nil, fmt.Errorf("response header not found in: %s", hex.EncodeToString(data))
	}

	frame := data[idx:]
	endIdx := bytes.IndexByte(frame, CIVEnd)
	if endIdx == -1 {
		return 0, nil, fmt.Errorf("frame end not found")
	}
	if endIdx < 5 {
		return 0, nil, fmt.Errorf("truncated frame: %s", hex.EncodeToString(frame[:endIdx+1]))
	}
	return frame[4], frame[5:endIdx], nil
}

// encodeFrequency packs hz as 5 BCD bytes, least significant pair first.
func encodeFrequency(hz int64) []byte {
	out := make([]byte, 5)
	for i := range out {
		lo := byte(hz % 10)
		hz /= 10
		hi := byte(hz % 10)
		hz /= 10
		out[i] = hi<<4 | lo
	}
	return out
}

func decodeFrequency(data []byte) int64 {
	var freq, multiplier int64 = 0, 1
	for _, b := range data {
		freq += int64(bcdToDecimal(b)) * multiplier
		multiplier *= 100
	}
	return freq
}

func bcdToDecimal(b byte) int {
	return int((b>>4)*10 + (b & 0x0F))
}
