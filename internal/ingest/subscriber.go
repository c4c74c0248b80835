// Package ingest bridges domain events published by the platform into the
// broadcast adapter. The Redis bridge subscribes to a pub/sub channel
// carrying event envelopes; the HTTP bridge lives in the server package.
package ingest

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/prop-ie/realtime/internal/events"
	"github.com/prop-ie/realtime/internal/metrics"
	goredis "github.com/redis/go-redis/v9"
)

// Subscriber consumes domain event envelopes from a Redis pub/sub channel
// and hands them to the adapter.
type Subscriber struct {
	redis   *goredis.Client
	adapter *events.Adapter
	channel string
}

// NewSubscriber creates a new event subscriber.
func NewSubscriber(redis *goredis.Client, adapter *events.Adapter, channel string) *Subscriber {
	return &Subscriber{
		redis:   redis,
		adapter: adapter,
		channel: channel,
	}
}

// Start begins listening for domain event envelopes.
// Blocks until ctx is cancelled.
func (s *Subscriber) Start(ctx context.Context) {
	pubsub := s.redis.Subscribe(ctx, s.channel)
	defer func() {
		_ = pubsub.Close()
	}()

	slog.Info("Event subscriber started", "channel", s.channel)

	ch := pubsub.Channel()
	for {
		select {
		case msg := <-ch:
			if msg == nil {
				return
			}
			s.handleMessage(msg.Payload)
		case <-ctx.Done():
			return
		}
	}
}

// handleMessage processes a single published envelope.
func (s *Subscriber) handleMessage(payload string) {
	metrics.PubSubMessagesReceived.WithLabelValues(s.channel).Inc()

	var envelope events.Envelope
	if err := json.Unmarshal([]byte(payload), &envelope); err != nil {
		metrics.PubSubDecodeErrors.Inc()
		slog.Warn("Malformed event envelope on pub/sub channel", "channel", s.channel, "error", err)
		return
	}

	event, err := envelope.Decode()
	if err != nil {
		metrics.PubSubDecodeErrors.Inc()
		slog.Warn("Undecodable event payload on pub/sub channel",
			"channel", s.channel,
			"kind", envelope.Kind,
			"error", err)
		return
	}

	metrics.DomainEventsReceived.WithLabelValues(envelope.Kind, "redis").Inc()
	if err := s.adapter.Handle(event); err != nil {
		slog.Error("Failed to broadcast domain event", "kind", envelope.Kind, "error", err)
	}
}
