// Package consumer runs the ingestion loop: it turns the log's at-least-once,
// redelivery-prone channel into sequential, acknowledged processing.
//
// One consumer is a single sequential worker. Entries in a batch are
// dispatched strictly in delivery order and each is acknowledged only after
// its handler returns without error; a failing entry stays pending and will
// be redelivered, to this consumer or another member of the group. Handler
// execution runs to completion before the next read — a slow handler
// throttles this consumer, and throughput scales by running more consumer
// processes in the same group, not by fanning out internally.
package consumer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/reelforge/ledger/internal/events"
	"github.com/reelforge/ledger/internal/metrics"
	"github.com/reelforge/ledger/internal/stream"
)

// Handler processes one envelope. A nil return acknowledges the entry.
type Handler func(ctx context.Context, env events.Envelope) error

// Options tunes the loop's failure behavior.
type Options struct {
	// RetryBackoff is the fixed delay after a transient read error, so an
	// unavailable log is retried instead of hammered in a hot loop.
	RetryBackoff time.Duration

	// ReclaimInterval is how often the sweep claims entries left pending by
	// crashed consumers. Zero disables the sweep.
	ReclaimInterval time.Duration
}

// Consumer drives the ingestion loop and the stale-entry reclaim sweep.
type Consumer struct {
	eventLog stream.EventLog
	handle   Handler
	log      zerolog.Logger
	opts     Options

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a Consumer. Start launches it; Stop shuts it down cooperatively.
func New(eventLog stream.EventLog, handle Handler, opts Options, logger zerolog.Logger) *Consumer {
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 5 * time.Second
	}
	return &Consumer{
		eventLog: eventLog,
		handle:   handle,
		log:      logger.With().Str("component", "consumer").Logger(),
		opts:     opts,
		stopCh:   make(chan struct{}),
	}
}

// Start launches the ingestion loop and, if configured, the reclaim sweep.
func (c *Consumer) Start() {
	c.wg.Add(1)
	go c.run()

	if c.opts.ReclaimInterval > 0 {
		c.wg.Add(1)
		go c.runReclaim()
	}

	c.log.Info().Msg("consumer started")
}

// Stop signals the loop to finish and waits for it. The in-flight blocking
// read is allowed to return naturally and an in-flight handler is awaited,
// never force-cancelled.
func (c *Consumer) Stop() {
	close(c.stopCh)
	c.wg.Wait()
	c.log.Info().Msg("consumer stopped")
}

func (c *Consumer) run() {
	defer c.wg.Done()

	ctx := context.Background()

	for {
		select {
		case <-c.stopCh:
			return
		default:
		}

		batch, err := c.eventLog.Read(ctx)
		if errors.Is(err, stream.ErrNoGroup) {
			// First run against a fresh log: bootstrap the group and
			// retry immediately.
			if err := c.eventLog.EnsureGroup(ctx); err != nil {
				c.log.Error().Err(err).Msg("failed to create consumer group")
				c.sleep(c.opts.RetryBackoff)
			}
			continue
		}
		if err != nil {
			c.log.Error().Err(err).Msg("log read failed, backing off")
			c.sleep(c.opts.RetryBackoff)
			continue
		}

		c.processBatch(ctx, batch)
	}
}

// processBatch dispatches entries strictly in delivery order. A failing entry
// is logged and left pending; subsequent entries still get their turn.
func (c *Consumer) processBatch(ctx context.Context, batch []events.Envelope) {
	for _, env := range batch {
		if err := c.handle(ctx, env); err != nil {
			c.log.Error().Err(err).
				Str("entry_id", env.ID).
				Str("type", env.Type).
				Msg("handler failed, entry left pending")
			continue
		}

		if err := c.eventLog.Ack(ctx, env.ID); err != nil {
			// The entry was processed; a failed ack means it may be
			// redelivered, which the recorder's idempotency absorbs.
			c.log.Error().Err(err).Str("entry_id", env.ID).Msg("ack failed")
		}
	}
}

// runReclaim periodically claims entries pending longer than the log's idle
// threshold (a crashed consumer never acked them) and reprocesses them
// through the same dispatch-then-ack path.
func (c *Consumer) runReclaim() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.opts.ReclaimInterval)
	defer ticker.Stop()

	ctx := context.Background()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
		}

		claimed, err := c.eventLog.Claim(ctx)
		if err != nil {
			if !errors.Is(err, stream.ErrNoGroup) {
				c.log.Error().Err(err).Msg("reclaim sweep failed")
			}
			continue
		}
		if len(claimed) == 0 {
			continue
		}

		c.log.Info().Int("count", len(claimed)).Msg("reclaimed stale pending entries")
		metrics.EntriesReclaimed.Add(float64(len(claimed)))

		c.processBatch(ctx, claimed)
	}
}

// sleep waits for d but returns early on stop.
func (c *Consumer) sleep(d time.Duration) {
	select {
	case <-c.stopCh:
	case <-time.After(d):
	}
}
