// Package sessionevents carries session lifecycle notifications. A
// signed_out event is the cue for a user interface to send the user back
// to the login entry point.
package sessionevents

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Topic is where session events are published.
const Topic = "backoffice.session"

type Type string

const (
	SignedIn  Type = "signed_in"
	Refreshed Type = "refreshed"
	SignedOut Type = "signed_out"
)

type Event struct {
	Type     Type      `json:"type"`
	Username string    `json:"username,omitempty"`
	Tenant   string    `json:"tenant,omitempty"`
	Reason   string    `json:"reason,omitempty"`
	At       time.Time `json:"at"`
}

// Publisher publishes session events.
type Publisher struct {
	publisher message.Publisher
	topic     string
}

func NewPublisher(publisher message.Publisher) *Publisher {
	return &Publisher{
		publisher: publisher,
		topic:     Topic,
	}
}

// Publish sends an event, stamping At when it is zero.
func (p *Publisher) Publish(ctx context.Context, event Event) error {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("[Publisher.Publish] failed to marshal event: %w", err)
	}

	msg := message.NewMessage(uuid.NewString(), payload)
	msg.SetContext(ctx)

	if err := p.publisher.Publish(p.topic, msg); err != nil {
		return fmt.Errorf("[Publisher.Publish] failed to publish event: %w", err)
	}
	return nil
}

// NewBus returns the in-process pub/sub. Publish blocks until subscribers
// have acknowledged, so a signed_out event is handled before the publisher
// moves on.
func NewBus(logger zerolog.Logger) *gochannel.GoChannel {
	return gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer:            16,
		BlockPublishUntilSubscriberAck: true,
	}, NewLoggerAdapter(logger))
}

// Handler reacts to one event. Errors are logged; the message is acked regardless.
type Handler func(ctx context.Context, event Event) error

// Listen subscribes to Topic and consumes events on a goroutine until ctx
// ends. The returned channel closes when consumption stops.
func Listen(ctx context.Context, subscriber message.Subscriber, logger zerolog.Logger, handler Handler) (<-chan struct{}, error) {
	messages, err := subscriber.Subscribe(ctx, Topic)
	if err != nil {
		return nil, fmt.Errorf("[Listen] subscribe %s: %w", Topic, err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range messages {
			var event Event
			if err := json.Unmarshal(msg.Payload, &event); err != nil {
				logger.Error().Err(err).Str("message_uuid", msg.UUID).Msg("Dropping malformed session event")
				msg.Ack()
				continue
			}
			if err := handler(msg.Context(), event); err != nil {
				logger.Error().Err(err).Str("type", string(event.Type)).Msg("Session event handler failed")
			}
			msg.Ack()
		}
	}()
	return done, nil
}
