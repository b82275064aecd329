package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/alanyoungcy/privymarket/internal/domain"
)

// EventStream is the durable stream every settlement event is appended to.
const EventStream = "stream:events"

// EventPublisher fans settlement events out on the signal bus. Every event
// goes to the global channel and the durable stream; market events also go to
// the market's own channel.
type EventPublisher struct {
	bus domain.SignalBus
}

// NewEventPublisher creates an EventPublisher on bus.
func NewEventPublisher(bus domain.SignalBus) *EventPublisher {
	return &EventPublisher{bus: bus}
}

// PublishEvent encodes evt as JSON and delivers it everywhere it belongs.
// Delivery is attempted on every target even if one fails.
func (p *EventPublisher) PublishEvent(ctx context.Context, evt domain.Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("redis: marshal event %s: %w", evt.Type, err)
	}

	var errs []error
	if err := p.bus.Publish(ctx, domain.ChannelEvents, payload); err != nil {
		errs = append(errs, err)
	}
	if evt.HasMarket() {
		if err := p.bus.Publish(ctx, domain.MarketChannel(evt.MarketID), payload); err != nil {
			errs = append(errs, err)
		}
	}
	if err := p.bus.StreamAppend(ctx, EventStream, payload); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

var _ domain.EventPublisher = (*EventPublisher)(nil)
