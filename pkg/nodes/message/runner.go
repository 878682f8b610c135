// Package message provides the chat message node runner.
package message

import (
	"context"
	"errors"
	"fmt"

	"github.com/tallybook/automation/pkg/automation"
	"github.com/tallybook/automation/pkg/models"
	"github.com/tallybook/automation/pkg/nodes"
	"github.com/tallybook/automation/pkg/template"
)

// Config is the message node configuration.
type Config struct {
	Channel   string `json:"channel"   validate:"required,oneof=telegram whatsapp"`
	Recipient string `json:"recipient" validate:"required"`
	Text      string `json:"text"      validate:"required"`
}

// Runner renders a message and hands it to the sender configured for its channel.
type Runner struct {
	senders map[string]Sender
}

// NewRunner creates a message runner. Channels without a sender fail at run time.
func NewRunner(senders map[string]Sender) *Runner {
	return &Runner{senders: senders}
}

func (r *Runner) Type() string {
	return models.NodeTypeMessage
}

func (r *Runner) Name() string {
	return "Message"
}

func (r *Runner) Description() string {
	return "Sends a Telegram or WhatsApp message to a contact."
}

func (r *Runner) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"channel": map[string]any{
				"type": "string",
				"enum": []string{ChannelTelegram, ChannelWhatsApp},
			},
			"recipient": map[string]any{
				"type":        "string",
				"description": "Chat id or phone number",
				"examples":    []string{"{{contact.phone}}"},
			},
			"text": map[string]any{
				"type":     "string",
				"examples": []string{"Hi {{contact.name}}, invoice {{invoice.number}} is due."},
			},
		},
		"required": []string{"channel", "recipient", "text"},
	}
}

func (r *Runner) Run(ctx context.Context, actx *automation.Context, config map[string]any, input map[string]any) (models.NodeResult, error) {
	var cfg Config

	err := nodes.DecodeConfig(config, &cfg)
	if err != nil {
		return models.Failed(err.Error(), nil), nil
	}

	sender, ok := r.senders[cfg.Channel]
	if !ok {
		return models.Failed(fmt.Sprintf("no sender configured for channel %s", cfg.Channel), nil), nil
	}

	data := nodes.TemplateData(actx, input)
	msg := Message{
		Channel:   cfg.Channel,
		Recipient: template.Render(cfg.Recipient, data),
		Text:      template.Render(cfg.Text, data),
	}

	if msg.Recipient == "" {
		return models.Failed("message recipient rendered empty", nil), nil
	}

	id, err := sender.Send(ctx, msg)
	if err != nil {
		return models.NodeResult{}, errors.Join(fmt.Errorf("failed to send %s message", cfg.Channel), err)
	}

	return models.Succeed(map[string]any{
		"channel":    msg.Channel,
		"recipient":  msg.Recipient,
		"text":       msg.Text,
		"message_id": id,
	}), nil
}
