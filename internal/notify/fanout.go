package notify

import (
	"context"
	"errors"
)

// Fanout publishes to every egress and joins their errors.
type Fanout []Egress

func (f Fanout) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, e := range f {
		if e == nil {
			continue
		}
		if err := e.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
