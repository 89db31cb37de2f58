package outbox

import (
	"context"
	"errors"

	domoutbox "github.com/atlas-commerce/fulfillment/internal/domain/outbox"
)

// Fanout publishes each event to every wrapped publisher, so the in-process
// bus and an external broker can both receive the stream.
type Fanout struct {
	publishers []domoutbox.Publisher
}

func NewFanout(publishers ...domoutbox.Publisher) *Fanout {
	return &Fanout{publishers: publishers}
}

func (f *Fanout) Publish(ctx context.Context, e domoutbox.Event) error {
	var errs []error
	for _, p := range f.publishers {
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
