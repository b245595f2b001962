package redisclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/events"
)

const payloadField = "payload"

// StreamPublisher appends booking events to a Redis stream.
type StreamPublisher struct {
	client *redis.Client
	stream string
	maxLen int64
}

func NewStreamPublisher(client *redis.Client, stream string) *StreamPublisher {
	return &StreamPublisher{client: client, stream: stream, maxLen: 100000}
}

func (p *StreamPublisher) Publish(ctx context.Context, ev events.BookingEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	err = p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]any{
			"type":       string(ev.Type),
			payloadField: data,
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd %s: %w", p.stream, err)
	}
	return nil
}

// StreamConsumer reads booking events through a consumer group. Events whose
// handler fails stay in the group's pending list and are retried after
// RetryIdle.
type StreamConsumer struct {
	client    *redis.Client
	stream    string
	group     string
	consumer  string
	block     time.Duration
	retryIdle time.Duration
	logger    *zap.Logger
}

func NewStreamConsumer(client *redis.Client, stream, group, consumer string, logger *zap.Logger) *StreamConsumer {
	return &StreamConsumer{
		client:    client,
		stream:    stream,
		group:     group,
		consumer:  consumer,
		block:     2 * time.Second,
		retryIdle: time.Minute,
		logger:    logger,
	}
}

func (c *StreamConsumer) ensureGroup(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, c.stream, c.group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group: %w", err)
	}
	return nil
}

func (c *StreamConsumer) Consume(ctx context.Context, h events.Handler) error {
	if err := c.ensureGroup(ctx); err != nil {
		return err
	}

	for {
		if ctx.Err() != nil {
			return nil
		}

		c.reclaim(ctx, h)

		streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.group,
			Consumer: c.consumer,
			Streams:  []string{c.stream, ">"},
			Count:    20,
			Block:    c.block,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Warn("read event stream", zap.String("stream", c.stream), zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		for _, s := range streams {
			for _, msg := range s.Messages {
				c.handle(ctx, msg, h)
			}
		}
	}
}

// reclaim takes over messages that have been pending longer than retryIdle,
// including ones this consumer failed earlier.
func (c *StreamConsumer) reclaim(ctx context.Context, h events.Handler) {
	msgs, _, err := c.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   c.stream,
		Group:    c.group,
		Consumer: c.consumer,
		MinIdle:  c.retryIdle,
		Start:    "0-0",
		Count:    20,
	}).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
			c.logger.Warn("reclaim pending events", zap.Error(err))
		}
		return
	}
	for _, msg := range msgs {
		c.handle(ctx, msg, h)
	}
}

func (c *StreamConsumer) handle(ctx context.Context, msg redis.XMessage, h events.Handler) {
	ev, err := decodeEvent(msg)
	if err != nil {
		// Undecodable entries would be retried forever.
		c.logger.Error("drop malformed event", zap.String("message_id", msg.ID), zap.Error(err))
		c.ack(ctx, msg.ID)
		return
	}

	if err := h(ctx, ev); err != nil {
		c.logger.Warn("event handler failed",
			zap.String("message_id", msg.ID),
			zap.String("type", string(ev.Type)),
			zap.Stringer("appointment_id", ev.AppointmentID),
			zap.Error(err),
		)
		return
	}
	c.ack(ctx, msg.ID)
}

func (c *StreamConsumer) ack(ctx context.Context, id string) {
	if err := c.client.XAck(ctx, c.stream, c.group, id).Err(); err != nil {
		c.logger.Warn("ack event", zap.String("message_id", id), zap.Error(err))
	}
}

func decodeEvent(msg redis.XMessage) (events.BookingEvent, error) {
	var ev events.BookingEvent
	raw, ok := msg.Values[payloadField]
	if !ok {
		return ev, errors.New("missing payload field")
	}
	var data []byte
	switch v := raw.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return ev, fmt.Errorf("unexpected payload type %T", raw)
	}
	if err := json.Unmarshal(data, &ev); err != nil {
		return ev, fmt.Errorf("unmarshal payload: %w", err)
	}
	return ev, nil
}
