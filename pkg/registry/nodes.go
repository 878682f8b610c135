package registry

import (
	"net/http"

	"github.com/tallybook/automation/pkg/nodes/condition"
	"github.com/tallybook/automation/pkg/nodes/log"
	"github.com/tallybook/automation/pkg/nodes/message"
	"github.com/tallybook/automation/pkg/nodes/passthrough"
	"github.com/tallybook/automation/pkg/nodes/transform"
	"github.com/tallybook/automation/pkg/nodes/webhook"
)

// Dependencies are the collaborators used by the built-in runners.
type Dependencies struct {
	HTTPClient *http.Client
	Senders    map[string]message.Sender
}

// RegisterDefaultRunners registers all built-in node runners with the registry.
func (r *Registry) RegisterDefaultRunners(deps Dependencies) {
	r.Register(passthrough.NewStart())
	r.Register(passthrough.NewEnd())
	r.Register(log.NewRunner(r.logger))
	r.Register(condition.NewRunner())
	r.Register(transform.NewRunner())
	r.Register(webhook.NewRunner(deps.HTTPClient))

	senders := deps.Senders
	if senders == nil {
		sender := message.NewLogSender(r.logger)
		senders = map[string]message.Sender{
			message.ChannelTelegram: sender,
			message.ChannelWhatsApp: sender,
		}
	}

	r.Register(message.NewRunner(senders))
}
