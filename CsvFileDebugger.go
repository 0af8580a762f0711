package rfburst

import (
	"bufio"
	"fmt"
	"os"
	"sync"
	"time"
)

// CycleRecord is what the pipeline saw in one monitoring cycle.
type CycleRecord struct {
	Time      time.Time
	SubBlocks int // 0 means the cycle was skipped
	Peak      float64
	Average   float64
	On        float64
	Off       float64
	Triggered bool // state after the cycle
}

// SignalDebugger receives every monitoring cycle.
// The pipeline only depends on this interface, never on a file.
type SignalDebugger interface {
	Record(rec CycleRecord)
	Close()
}

// CsvFileDebugger writes cycle records to a CSV file.
type CsvFileDebugger struct {
	mu     sync.Mutex
	file   *os.File
	writer *bufio.Writer
}

// NewCsvFileDebugger creates the file and writes the header row.
func NewCsvFileDebugger(filename string) (*CsvFileDebugger, error) {
	f, err := os.Create(filename)
	if err != nil {
		return nil, err
	}

	w := bufio.NewWriter(f)
	if _, err := w.WriteString("Time,SubBlocks,Peak,Average,On,Off,Triggered\n"); err != nil {
		f.Close()
		return nil, err
	}

	return &CsvFileDebugger{
		file:   f,
		writer: w,
	}, nil
}

// Record appends one row.
func (d *CsvFileDebugger) Record(rec CycleRecord) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.writer == nil {
		return
	}

	state := 0
	if rec.Triggered {
		state = 1
	}
	fmt.Fprintf(d.writer, "%s,%d,%e,%e,%e,%e,%d\n",
		rec.Time.Format(time.RFC3339Nano), rec.SubBlocks, rec.Peak, rec.Average, rec.On, rec.Off, state)
}

// Close flushes and closes the file.
func (d *CsvFileDebugger) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.writer != nil {
		if err := d.writer.Flush(); err != nil {
			Logf("[TRACE] flush failed: %v", err)
		}
		d.writer = nil
	}
	if d.file != nil {
		d.file.Close()
		d.file = nil
	}
}

// NoOpDebugger discards records.
type NoOpDebugger struct{}

func (d *NoOpDebugger) Record(rec CycleRecord) {}
func (d *NoOpDebugger) Close()                 {}
