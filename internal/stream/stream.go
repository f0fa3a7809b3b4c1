// Package stream provides the event-log client.
//
// The pipeline's shared log is a Redis Stream read through a consumer group:
// XADD appends, XREADGROUP hands each entry to exactly one live group member,
// XACK advances the durable cursor, and entries left pending by a crashed
// consumer are recovered with XAUTOCLAIM. The ledger only ever observes the
// group cursor indirectly, through redelivery.
package stream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"github.com/reelforge/ledger/internal/events"
)

// ErrNoGroup signals that the consumer group does not exist yet. The
// ingestion loop bootstraps the group and retries immediately, which makes
// first-run startup transparent and idempotent.
var ErrNoGroup = errors.New("stream: consumer group does not exist")

// EventLog is the seam between the ingestion loop and the log transport.
// The production implementation is RedisLog; tests script a fake.
type EventLog interface {
	// Read blocks for up to the configured timeout and returns the next
	// batch of undelivered entries. An empty slice means the wait timed
	// out. Returns ErrNoGroup when the group is missing.
	Read(ctx context.Context) ([]events.Envelope, error)

	// Ack marks one entry as processed for this consumer group.
	Ack(ctx context.Context, id string) error

	// EnsureGroup creates the consumer group (and the stream, if needed),
	// anchored at the beginning of the stream. Safe to call repeatedly.
	EnsureGroup(ctx context.Context) error

	// Claim takes over entries that have been pending longer than the
	// configured idle threshold, reassigning them to this consumer.
	Claim(ctx context.Context) ([]events.Envelope, error)

	// Append publishes an envelope and returns its entry id. Used by
	// producers that share this module, the admin CLI and tests.
	Append(ctx context.Context, eventType string, payload []byte) (string, error)
}

// Options configures a RedisLog.
type Options struct {
	Stream         string
	Group          string
	Consumer       string
	BatchSize      int64
	BlockTimeout   time.Duration
	ReclaimMinIdle time.Duration
}

// RedisLog implements EventLog on Redis Streams.
type RedisLog struct {
	client *redis.Client
	opts   Options
	log    zerolog.Logger
}

// NewRedisLog creates a RedisLog on an existing client. The client's
// lifecycle belongs to the caller.
func NewRedisLog(client *redis.Client, opts Options, logger zerolog.Logger) *RedisLog {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 10
	}
	if opts.BlockTimeout <= 0 {
		opts.BlockTimeout = 5 * time.Second
	}
	if opts.ReclaimMinIdle <= 0 {
		opts.ReclaimMinIdle = 5 * time.Minute
	}
	return &RedisLog{
		client: client,
		opts:   opts,
		log:    logger.With().Str("component", "event_log").Str("stream", opts.Stream).Logger(),
	}
}

func (l *RedisLog) Read(ctx context.Context) ([]events.Envelope, error) {
	streams, err := l.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    l.opts.Group,
		Consumer: l.opts.Consumer,
		Streams:  []string{l.opts.Stream, ">"},
		Count:    l.opts.BatchSize,
		Block:    l.opts.BlockTimeout,
	}).Result()

	if err == redis.Nil {
		// Block timeout with nothing to deliver.
		return nil, nil
	}
	if err != nil {
		if strings.HasPrefix(err.Error(), "NOGROUP") {
			return nil, ErrNoGroup
		}
		return nil, fmt.Errorf("xreadgroup: %w", err)
	}

	var envelopes []events.Envelope
	for _, s := range streams {
		for _, msg := range s.Messages {
			envelopes = append(envelopes, toEnvelope(msg))
		}
	}
	return envelopes, nil
}

func (l *RedisLog) Ack(ctx context.Context, id string) error {
	if err := l.client.XAck(ctx, l.opts.Stream, l.opts.Group, id).Err(); err != nil {
		return fmt.Errorf("xack %s: %w", id, err)
	}
	return nil
}

func (l *RedisLog) EnsureGroup(ctx context.Context) error {
	err := l.client.XGroupCreateMkStream(ctx, l.opts.Stream, l.opts.Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("xgroup create: %w", err)
	}

	l.log.Info().Str("group", l.opts.Group).Msg("consumer group ready")
	return nil
}

func (l *RedisLog) Claim(ctx context.Context) ([]events.Envelope, error) {
	msgs, _, err := l.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   l.opts.Stream,
		Group:    l.opts.Group,
		Consumer: l.opts.Consumer,
		MinIdle:  l.opts.ReclaimMinIdle,
		Start:    "0-0",
		Count:    l.opts.BatchSize,
	}).Result()
	if err != nil {
		if strings.HasPrefix(err.Error(), "NOGROUP") {
			return nil, ErrNoGroup
		}
		return nil, fmt.Errorf("xautoclaim: %w", err)
	}

	var envelopes []events.Envelope
	for _, msg := range msgs {
		envelopes = append(envelopes, toEnvelope(msg))
	}
	return envelopes, nil
}

func (l *RedisLog) Append(ctx context.Context, eventType string, payload []byte) (string, error) {
	id, err := l.client.XAdd(ctx, &redis.XAddArgs{
		Stream: l.opts.Stream,
		Values: map[string]interface{}{
			"type":    eventType,
			"payload": string(payload),
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd: %w", err)
	}
	return id, nil
}

func toEnvelope(msg redis.XMessage) events.Envelope {
	env := events.Envelope{ID: msg.ID}
	if v, ok := msg.Values["type"].(string); ok {
		env.Type = v
	}
	if v, ok := msg.Values["payload"].(string); ok {
		env.Payload = []byte(v)
	}
	return env
}
