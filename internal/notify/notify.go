// Package notify delivers stretch reminders. Three channels exist: a log
// sender (always available), a webhook sender POSTing ntfy-style requests,
// and a local IPC sink speaking a framed protocol to a companion UI over a
// Unix socket or Windows named pipe.
//
// Delivery is fire-and-forget: Send returns an error for the caller to log,
// but no delivery guarantee is surfaced to the tracker and nothing retries
// beyond the webhook client's built-in policy.
package notify

import (
	"context"
	"log/slog"
)

// Sender is the notification channel consumed by the stretch notifier.
type Sender interface {
	// RequestPermission reports whether the channel is able to deliver.
	// Channels without a permission concept return true.
	RequestPermission(ctx context.Context) bool
	// Send delivers one notification.
	Send(title, body string) error
}

// ///////////////////////////////////////////////
// Log Sender
// ///////////////////////////////////////////////

// LogSender writes notifications to the daemon log. It is the fallback
// channel and the default configuration.
type LogSender struct{}

// RequestPermission always succeeds for the log channel.
func (LogSender) RequestPermission(context.Context) bool { return true }

// Send logs the notification at info level.
func (LogSender) Send(title, body string) error {
	slog.Info("stretch reminder", "title", title, "body", body)
	return nil
}
