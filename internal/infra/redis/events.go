package redis

import (
	"context"
	"encoding/json"

	"crm-delivery-engine/internal/domain/ports/adapter"
)

var _ adapter.EventPublisher = (*EventPublisher)(nil)

// EventPublisher pushes job lifecycle events onto a Redis channel; the
// external websocket layer fans them out to dashboards.
type EventPublisher struct {
	client  RedisClient
	channel string
}

func NewEventPublisher(client RedisClient, channel string) *EventPublisher {
	return &EventPublisher{client: client, channel: channel}
}

func (p *EventPublisher) Publish(ctx context.Context, ev adapter.JobEvent) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, p.channel, string(b))
}
