// Package notify implements C7 — a pluggable sink invoked on job completion.
package notify

import (
	"context"
	"fmt"
	"log/slog"
)

// Sender is a single notification transport: send(recipient, subject, body).
type Sender interface {
	Send(ctx context.Context, recipient, subject, body string) error
}

// Registry holds zero or more Senders keyed by transport name ("email",
// "chat", ...). The supervisor picks a transport based on which header key
// is present; an unconfigured transport is a silent no-op with a log line
// (spec.md §4.7).
type Registry struct {
	senders map[string]Sender
	logger  *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{senders: map[string]Sender{}, logger: logger.With("component", "notify")}
}

func (r *Registry) Register(transport string, sender Sender) {
	r.senders[transport] = sender
}

// Send dispatches to the named transport, logging and swallowing both a
// missing transport and a transport-level failure (NotifierError,
// spec.md §7 — never user-visible).
func (r *Registry) Send(ctx context.Context, transport, recipient, subject, body string) {
	sender, ok := r.senders[transport]
	if !ok {
		r.logger.Info("no notifier configured for transport, skipping", "transport", transport)
		return
	}
	if err := sender.Send(ctx, recipient, subject, body); err != nil {
		r.logger.Warn("notifier send failed", "transport", transport, "error", fmt.Errorf("notifier error: %w", err))
	}
}
