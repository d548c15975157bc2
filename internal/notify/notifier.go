// Package notify sends operator alerts about the simulator's lifecycle to
// chat webhooks. Alerts are filtered by event so operators receive only what
// they subscribed to.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Event names an alert category.
type Event string

const (
	EventStarted       Event = "started"
	EventStopped       Event = "stopped"
	EventLeaderLost    Event = "leader_lost"
	EventRestored      Event = "snapshot_restored"
	EventArchiveFailed Event = "archive_failed"
)

// sendTimeout bounds a single dispatch across every sender.
const sendTimeout = 10 * time.Second

// Sender is one delivery channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier fans an alert out to every sender.
type Notifier struct {
	senders []Sender
	events  map[Event]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier. An empty events list lets every event
// through. A Notifier without senders is valid and drops everything.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[Event]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[Event(e)] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool { return len(n.senders) > 0 }

// Allows reports whether ev passes the event filter.
func (n *Notifier) Allows(ev Event) bool {
	return len(n.events) == 0 || n.events[ev]
}

// Notify sends an alert for ev. Every sender is tried; failures are joined.
func (n *Notifier) Notify(ctx context.Context, ev Event, title, message string) error {
	if !n.Enabled() {
		return nil
	}
	if !n.Allows(ev) {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", string(ev)))
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("event", string(ev)),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("event", string(ev)),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %w", errors.Join(errs...))
	}
	return nil
}
