package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/veilletech/sitewatch/internal/watch"
)

// Noop discards messages. Used when notification is disabled.
type Noop struct {
	logger *zap.Logger
}

// NewNoop builds a Noop notifier.
func NewNoop(logger *zap.Logger) *Noop {
	return &Noop{logger: logger}
}

// Send logs and drops the message.
func (n *Noop) Send(_ context.Context, msg watch.Message) error {
	n.logger.Debug("notifier disabled, dropping message", zap.String("subject", msg.Subject))
	return nil
}
