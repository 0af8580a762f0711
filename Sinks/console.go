package Sinks

import (
	"context"
	"fmt"
	"io"
	"sync"

	"rfburst/Filters"
)

const consoleTimeFormat = "2006-01-02 15:04:05.000"

// Console prints one line per event:
//
//	[2024-05-01 12:00:00.123] Detected! peak=1.2345e-02  avg=3.4567e-03
//	[2024-05-01 12:00:00.523] Cleared. peak=1.0000e-04  avg=9.0000e-05
type Console struct {
	mu  sync.Mutex
	out io.Writer
}

// NewConsole writes to out.
func NewConsole(out io.Writer) *Console {
	return &Console{out: out}
}

// Emit prints ev.
func (c *Console) Emit(_ context.Context, ev Filters.Event) error {
	label := "Detected!"
	if ev.Kind == Filters.Cleared {
		label = "Cleared."
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := fmt.Fprintf(c.out, "[%s] %s peak=%.4e  avg=%.4e\n",
		ev.Timestamp.Format(consoleTimeFormat), label, ev.Peak, ev.Average)
	return err
}
