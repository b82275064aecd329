package service

import (
	"context"
	"errors"

	"github.com/alanyoungcy/privymarket/internal/domain"
)

// FanOut publishes each event to every publisher in order. All publishers
// are tried; their errors are joined.
type FanOut []domain.EventPublisher

var _ domain.EventPublisher = FanOut(nil)

// PublishEvent implements domain.EventPublisher.
func (f FanOut) PublishEvent(ctx context.Context, evt domain.Event) error {
	var errs []error
	for _, p := range f {
		if err := p.PublishEvent(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
