package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/wuwenbin0122/mindful.ai/internal/utils"
)

const (
	TypeExchangeCompleted = "exchange.completed"
	TypeExchangeFailed    = "exchange.failed"

	metadataEventType = "event_type"
	metadataUserID    = "user_id"
)

var (
	ErrRedisRequired = errors.New("events: redis client required for redis backend")
	ErrNoSubscriber  = errors.New("events: backend does not support subscribing")
)

// ExchangeEvent summarises one finished exchange. It never carries prompt or
// reply text.
type ExchangeEvent struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	UserID     string    `json:"userId"`
	State      string    `json:"state"`
	Fragments  int       `json:"fragments"`
	ReplyBytes int       `json:"replyBytes"`
	Persisted  bool      `json:"persisted"`
	ClientGone bool      `json:"clientGone,omitempty"`
	Error      string    `json:"error,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// Publisher emits exchange events to the configured watermill backend. A
// Publisher built for the "none" backend accepts and drops every event.
type Publisher struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	// shared is set when publisher and subscriber are the same gochannel.
	shared     bool
	topic      string
	logger     *zap.SugaredLogger
}

// NewPublisher selects the transport from cfg.Backend. redisClient is only
// consulted for the redis backend.
func NewPublisher(cfg utils.EventsConfig, redisClient redis.UniversalClient, logger *zap.SugaredLogger) (*Publisher, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	topic := strings.TrimSpace(cfg.Topic)
	if topic == "" {
		topic = "chat.exchanges"
	}

	p := &Publisher{topic: topic, logger: logger}
	adapter := newZapAdapter(logger)

	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", utils.EventsBackendNone:
		return p, nil
	case utils.EventsBackendGoChannel:
		channel := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 64}, adapter)
		p.publisher = channel
		p.subscriber = channel
		p.shared = true
		return p, nil
	case utils.EventsBackendRedis:
		if redisClient == nil {
			return nil, ErrRedisRequired
		}
		pub, err := redisstream.NewPublisher(redisstream.PublisherConfig{
			Client:     redisClient,
			Marshaller: redisstream.DefaultMarshallerUnmarshaller{},
		}, adapter)
		if err != nil {
			return nil, fmt.Errorf("events: create redis publisher: %w", err)
		}
		p.publisher = pub

		if group := strings.TrimSpace(cfg.ConsumerGroup); group != "" {
			sub, err := redisstream.NewSubscriber(redisstream.SubscriberConfig{
				Client:        redisClient,
				Unmarshaller:  redisstream.DefaultMarshallerUnmarshaller{},
				ConsumerGroup: group,
				Consumer:      watermill.NewShortUUID(),
			}, adapter)
			if err != nil {
				pub.Close()
				return nil, fmt.Errorf("events: create redis subscriber: %w", err)
			}
			p.subscriber = sub
		}
		return p, nil
	default:
		return nil, fmt.Errorf("events: unknown backend %q", cfg.Backend)
	}
}

func (p *Publisher) Topic() string {
	return p.topic
}

// Enabled reports whether events leave the process at all.
func (p *Publisher) Enabled() bool {
	return p != nil && p.publisher != nil
}

func (p *Publisher) PublishExchange(ctx context.Context, event ExchangeEvent) error {
	if !p.Enabled() {
		return nil
	}

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("events: encode %s: %w", event.Type, err)
	}

	msg := message.NewMessage(event.ID, payload)
	msg.SetContext(ctx)
	msg.Metadata.Set(metadataEventType, event.Type)
	msg.Metadata.Set(metadataUserID, event.UserID)

	if err := p.publisher.Publish(p.topic, msg); err != nil {
		return fmt.Errorf("events: publish %s: %w", event.Type, err)
	}
	return nil
}

// Subscribe streams decoded exchange events until ctx is cancelled. Messages
// that fail to decode are acked and skipped.
func (p *Publisher) Subscribe(ctx context.Context) (<-chan ExchangeEvent, error) {
	if p == nil || p.subscriber == nil {
		return nil, ErrNoSubscriber
	}

	messages, err := p.subscriber.Subscribe(ctx, p.topic)
	if err != nil {
		return nil, fmt.Errorf("events: subscribe %s: %w", p.topic, err)
	}

	out := make(chan ExchangeEvent)
	go func() {
		defer close(out)
		for msg := range messages {
			var event ExchangeEvent
			if err := json.Unmarshal(msg.Payload, &event); err != nil {
				p.logger.Warnw("dropping undecodable exchange event", "message_id", msg.UUID, "error", err)
				msg.Ack()
				continue
			}

			select {
			case out <- event:
				msg.Ack()
			case <-ctx.Done():
				msg.Nack()
				return
			}
		}
	}()

	return out, nil
}

// LogExchanges subscribes to the exchange topic and writes one log line per
// event until ctx ends. Backends without a subscriber return ErrNoSubscriber.
func (p *Publisher) LogExchanges(ctx context.Context, logger *zap.SugaredLogger) error {
	received, err := p.Subscribe(ctx)
	if err != nil {
		return err
	}
	if logger == nil {
		logger = p.logger
	}

	logger.Infow("logging exchange events", "topic", p.Topic())
	go func() {
		for event := range received {
			logger.Infow("exchange event",
				"topic", p.Topic(),
				"event_id", event.ID,
				"type", event.Type,
				"user_id", event.UserID,
				"state", event.State,
				"fragments", event.Fragments,
				"reply_bytes", event.ReplyBytes,
				"persisted", event.Persisted,
				"client_gone", event.ClientGone,
				"error", event.Error,
			)
		}
	}()
	return nil
}

func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}

	var errs []error
	if p.publisher != nil {
		errs = append(errs, p.publisher.Close())
	}
	if p.subscriber != nil && !p.shared {
		errs = append(errs, p.subscriber.Close())
	}
	return errors.Join(errs...)
}
