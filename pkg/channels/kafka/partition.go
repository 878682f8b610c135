package kafka

import (
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/tallybook/automation/pkg/events"
)

// partitionKey routes every message of a run to the same partition.
func partitionKey(_ string, msg *message.Message) (string, error) {
	return msg.Metadata.Get(events.EventMetadataKey), nil
}
