package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

type Handler func(ctx context.Context, event Event) error

type Subscriber struct {
	client        *redis.Client
	group         string
	consumer      string
	stream        string
	handler       Handler
	batchSize     int64
	blockDuration time.Duration
	retryInterval time.Duration
	claimMinIdle  time.Duration
	log           logrus.FieldLogger
}

type SubscriberConfig struct {
	Group         string
	Consumer      string
	Stream        string
	Handler       Handler
	BatchSize     int64
	BlockDuration time.Duration
	// RetryInterval is how often pending messages are redelivered.
	RetryInterval time.Duration
	// ClaimMinIdle is how long another consumer's message must sit pending
	// before it is claimed.
	ClaimMinIdle time.Duration
	Logger       logrus.FieldLogger
}

func NewSubscriber(client *redis.Client, config SubscriberConfig) *Subscriber {
	if config.BatchSize == 0 {
		config.BatchSize = 10
	}
	if config.BlockDuration == 0 {
		config.BlockDuration = 5 * time.Second
	}
	if config.RetryInterval == 0 {
		config.RetryInterval = 30 * time.Second
	}
	if config.ClaimMinIdle == 0 {
		config.ClaimMinIdle = time.Minute
	}
	if config.Logger == nil {
		config.Logger = logrus.StandardLogger()
	}

	return &Subscriber{
		client:        client,
		group:         config.Group,
		consumer:      config.Consumer,
		stream:        config.Stream,
		handler:       config.Handler,
		batchSize:     config.BatchSize,
		blockDuration: config.BlockDuration,
		retryInterval: config.RetryInterval,
		claimMinIdle:  config.ClaimMinIdle,
		log: config.Logger.WithFields(logrus.Fields{
			"stream": config.Stream,
			"group":  config.Group,
		}),
	}
}

// EnsureGroup creates the consumer group, tolerating one that already exists.
func (s *Subscriber) EnsureGroup(ctx context.Context) error {
	err := s.client.XGroupCreateMkStream(ctx, s.stream, s.group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	return nil
}

func (s *Subscriber) Start(ctx context.Context) error {
	if err := s.EnsureGroup(ctx); err != nil {
		return err
	}

	s.log.WithField("consumer", s.consumer).Info("subscriber started")

	var lastRetry time.Time
	for {
		select {
		case <-ctx.Done():
			s.log.Info("subscriber stopping")
			return ctx.Err()
		default:
			if time.Since(lastRetry) >= s.retryInterval {
				lastRetry = time.Now()
				if err := s.RetryPending(ctx); err != nil && ctx.Err() == nil {
					s.log.WithError(err).Error("error retrying pending messages")
				}
			}
			if err := s.ReadOnce(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				s.log.WithError(err).Error("error reading messages")
				time.Sleep(time.Second)
			}
		}
	}
}

// ReadOnce reads and dispatches a single batch of new messages.
func (s *Subscriber) ReadOnce(ctx context.Context) error {
	return s.readGroup(ctx, ">", s.blockDuration)
}

// RetryPending redelivers messages that were read but never acked: first this
// consumer's own backlog, then messages other consumers left idle for longer
// than ClaimMinIdle.
func (s *Subscriber) RetryPending(ctx context.Context) error {
	if err := s.readGroup(ctx, "0", -1); err != nil {
		return err
	}

	messages, _, err := s.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   s.stream,
		Group:    s.group,
		MinIdle:  s.claimMinIdle,
		Start:    "0-0",
		Count:    s.batchSize,
		Consumer: s.consumer,
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to claim pending messages: %w", err)
	}
	if len(messages) > 0 {
		s.log.WithField("count", len(messages)).Info("claimed idle pending messages")
	}
	s.handle(ctx, messages)
	return nil
}

// readGroup reads from id: ">" for new messages, "0" for this consumer's
// pending ones. A negative block does not wait.
func (s *Subscriber) readGroup(ctx context.Context, id string, block time.Duration) error {
	streams, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    s.group,
		Consumer: s.consumer,
		Streams:  []string{s.stream, id},
		Count:    s.batchSize,
		Block:    block,
	}).Result()

	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read from stream: %w", err)
	}

	for _, stream := range streams {
		s.handle(ctx, stream.Messages)
	}
	return nil
}

func (s *Subscriber) handle(ctx context.Context, messages []redis.XMessage) {
	for _, message := range messages {
		if message.Values == nil {
			// trimmed from the stream while pending
			s.ack(ctx, message.ID)
			continue
		}
		if err := s.processMessage(ctx, message); err != nil {
			// left pending; RetryPending picks it up
			s.log.WithError(err).WithField("messageId", message.ID).Warn("failed to process message")
			continue
		}

		s.ack(ctx, message.ID)
	}
}

func (s *Subscriber) ack(ctx context.Context, id string) {
	if err := s.client.XAck(ctx, s.stream, s.group, id).Err(); err != nil {
		s.log.WithError(err).WithField("messageId", id).Warn("failed to ack message")
	}
}

func (s *Subscriber) processMessage(ctx context.Context, message redis.XMessage) error {
	eventData, ok := message.Values["event"].(string)
	if !ok {
		return fmt.Errorf("invalid message format")
	}

	var event Event
	if err := json.Unmarshal([]byte(eventData), &event); err != nil {
		return fmt.Errorf("failed to unmarshal event: %w", err)
	}

	return s.handler(ctx, event)
}
