package message

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/tallybook/automation/pkg/log"
)

const (
	ChannelTelegram = "telegram"
	ChannelWhatsApp = "whatsapp"
)

// Message is a rendered outbound message.
type Message struct {
	Channel   string
	Recipient string
	Text      string
}

// Sender delivers messages to a chat provider and returns the provider's
// message id.
type Sender interface {
	Send(ctx context.Context, msg Message) (string, error)
}

// LogSender writes messages to the log instead of delivering them. It prefers
// the node-scoped logger carried by ctx.
type LogSender struct {
	logger *slog.Logger
}

func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger.With("module", "message_sender")}
}

func (s *LogSender) Send(ctx context.Context, msg Message) (string, error) {
	id := uuid.NewString()

	log.FromContext(ctx, s.logger).InfoContext(ctx, "message delivery skipped",
		"channel", msg.Channel,
		"recipient", msg.Recipient,
		"message_id", id,
		"length", len(msg.Text),
	)

	return id, nil
}
