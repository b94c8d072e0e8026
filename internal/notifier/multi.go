package notifier

import (
	"context"
	"errors"
)

// Multi publishes every event to each of its channels.
type Multi []Channel

func (m Multi) Publish(ctx context.Context, group, event string, payload []byte) error {
	var errs []error
	for _, ch := range m {
		if err := ch.Publish(ctx, group, event, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
