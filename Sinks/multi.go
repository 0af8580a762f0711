package Sinks

import (
	"context"
	"errors"

	"rfburst/Filters"
)

// Emitter is implemented by every sink in this package.
type Emitter interface {
	Emit(ctx context.Context, ev Filters.Event) error
}

// Multi fans an event out to several sinks. Every sink sees every event even
// if an earlier one fails; the failures are joined.
type Multi []Emitter

// Emit delivers ev to each sink in order.
func (m Multi) Emit(ctx context.Context, ev Filters.Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Emit(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
