// Package notify forwards settlement events to operator chat channels
// (Telegram, Discord). Only the event types an operator subscribes to are
// delivered.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/alanyoungcy/privymarket/internal/domain"
)

// Sender is one notification channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier dispatches events to every Sender. Events whose type is not in
// the allowed set are dropped; an empty set allows everything.
type Notifier struct {
	senders []Sender
	events  map[domain.EventType]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier for the given event types.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[domain.EventType]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[domain.EventType(e)] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool {
	return n != nil && len(n.senders) > 0
}

// NotifyEvent renders evt and sends it if its type is allowed.
func (n *Notifier) NotifyEvent(ctx context.Context, evt domain.Event) error {
	if !n.Enabled() {
		return nil
	}
	if len(n.events) > 0 && !n.events[evt.Type] {
		n.logger.DebugContext(ctx, "notify: event filtered out",
			slog.String("event", string(evt.Type)),
		)
		return nil
	}
	title, message := Render(evt)
	return n.dispatch(ctx, title, message)
}

// NotifyAll sends a free-form message to all senders regardless of filters.
func (n *Notifier) NotifyAll(ctx context.Context, title, message string) error {
	if !n.Enabled() {
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// dispatch delivers to every sender; one failing sender does not stop the
// others.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "notify: sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notify: sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}

// Render formats evt as a title and a message body. Bets are rendered
// without a side since none is known.
func Render(evt domain.Event) (title, message string) {
	market := "market " + strconv.FormatUint(evt.MarketID, 10)
	switch evt.Type {
	case domain.EventMarketCreated:
		return "Market created", fmt.Sprintf("%s opened by %s", market, evt.Actor.Hex())
	case domain.EventBetPlaced:
		return "Bet placed", fmt.Sprintf("%s: %d staked by %s", market, evt.Amount, evt.Actor.Hex())
	case domain.EventMarketResolved:
		return "Market resolved", fmt.Sprintf("%s resolved %s", market, outcomeLabel(evt.Outcome))
	case domain.EventWinningsClaimed:
		return "Winnings claimed", fmt.Sprintf("%s: %s claimed %d", market, evt.Actor.Hex(), evt.Amount)
	case domain.EventMarketFinalized:
		return "Market finalized", fmt.Sprintf("%s finalized, %d distributed", market, evt.Amount)
	case domain.EventAccountFunded:
		return "Account funded", fmt.Sprintf("%s credited %d", evt.Actor.Hex(), evt.Amount)
	default:
		return string(evt.Type), market
	}
}

func outcomeLabel(outcome *bool) string {
	switch {
	case outcome == nil:
		return "without outcome"
	case *outcome:
		return "YES"
	default:
		return "NO"
	}
}
