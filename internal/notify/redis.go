package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/amankumarsingh77/transcode-orchestrator/internal/models"
	"github.com/amankumarsingh77/transcode-orchestrator/pkg/logger"
	"github.com/go-redis/redis/v8"
)

// RedisSink publishes events as JSON on a pub/sub channel.
type RedisSink struct {
	client  redis.UniversalClient
	channel string
}

func NewRedisSink(client redis.UniversalClient, channel string) *RedisSink {
	return &RedisSink{client: client, channel: channel}
}

func (r *RedisSink) Name() string {
	return "redis:" + r.channel
}

func (r *RedisSink) Send(ctx context.Context, event models.Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, body).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Relay forwards events from a pub/sub channel into a local sink, so events
// published by workers reach subscribers of the API process.
type Relay struct {
	client  redis.UniversalClient
	channel string
	sink    Sink
	logger  logger.Logger
}

func NewRelay(client redis.UniversalClient, channel string, sink Sink, log logger.Logger) *Relay {
	return &Relay{client: client, channel: channel, sink: sink, logger: log}
}

// Run blocks until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	r.logger.Infof("Relay.Run - subscribed to %s", r.channel)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var event models.Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				r.logger.Warnf("Relay.Run - decode error: %v", err)
				continue
			}
			if err := r.sink.Send(ctx, event); err != nil {
				r.logger.Warnf("Relay.Run - %s error: %v", r.sink.Name(), err)
			}
		}
	}
}
