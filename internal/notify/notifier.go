// Package notify delivers alerts to external channels. Sends are
// fire-and-forget from the monitoring core's perspective: a failed delivery is
// logged by the caller and never retried.
package notify

import (
	"context"
	"log"

	"token-sentinel/internal/domain"
)

// Notifier is the outbound notification contract.
type Notifier interface {
	// Send delivers one alert message to the recipient.
	Send(ctx context.Context, to domain.Recipient, message string) error
}

// LogNotifier writes alerts to a logger. Useful for development and as the
// default sink when no channel is configured.
type LogNotifier struct {
	logger *log.Logger
}

// NewLogNotifier creates a log-based notifier. A nil logger uses log.Default.
func NewLogNotifier(logger *log.Logger) *LogNotifier {
	if logger == nil {
		logger = log.Default()
	}
	return &LogNotifier{logger: logger}
}

// Send logs the alert.
func (n *LogNotifier) Send(_ context.Context, to domain.Recipient, message string) error {
	n.logger.Printf("[notify] chat=%d user=%d %s", to.ChatID, to.UserID, message)
	return nil
}

// Verify interface compliance at compile time.
var _ Notifier = (*LogNotifier)(nil)
