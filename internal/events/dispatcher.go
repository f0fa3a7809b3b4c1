package events

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/reelforge/ledger/internal/ledger"
	"github.com/reelforge/ledger/internal/metrics"
)

// DefaultMediaProvider prices media.render_completed events whose payload
// omits the provider field. Older render workers never set it.
const DefaultMediaProvider = "heygen"

// Dispatcher maps recognized event types to ledger operations.
//
// Contract with the ingestion loop: a nil return means the entry may be
// acknowledged — including unknown types, malformed payloads and payloads
// missing required identifiers, which are dropped deliberately so that no
// upstream producer can wedge the consumer. A non-nil return means the write
// failed and the entry must stay pending for redelivery.
type Dispatcher struct {
	recorder *ledger.Recorder
	log      zerolog.Logger
	handlers map[string]func(ctx context.Context, env Envelope) error
}

// NewDispatcher creates a Dispatcher routing into the given recorder.
func NewDispatcher(recorder *ledger.Recorder, logger zerolog.Logger) *Dispatcher {
	d := &Dispatcher{
		recorder: recorder,
		log:      logger.With().Str("component", "dispatcher").Logger(),
	}
	d.handlers = map[string]func(ctx context.Context, env Envelope) error{
		TypeLLMTokensUsed:         d.handleLLMTokensUsed,
		TypeTTSSynthesisCompleted: d.handleTTSSynthesisCompleted,
		TypeMediaRenderCompleted:  d.handleMediaRenderCompleted,
		TypeThumbnailGenerated:    d.handleThumbnailGenerated,
		TypeRevenueUpdated:        d.handleRevenueUpdated,
	}
	return d
}

// Dispatch routes one envelope to its handler.
func (d *Dispatcher) Dispatch(ctx context.Context, env Envelope) error {
	if env.Type == "" {
		metrics.EventsDropped.WithLabelValues("missing_type").Inc()
		return nil
	}

	handler, ok := d.handlers[env.Type]
	if !ok {
		metrics.EventsDropped.WithLabelValues("unknown_type").Inc()
		d.log.Debug().Str("type", env.Type).Str("entry_id", env.ID).Msg("unknown event type dropped")
		return nil
	}

	if err := handler(ctx, env); err != nil {
		metrics.DispatchFailures.Inc()
		return fmt.Errorf("dispatch %s: %w", env.Type, err)
	}

	metrics.EventsProcessed.WithLabelValues(env.Type).Inc()
	return nil
}

// dropMalformed logs and counts a payload that failed typed parsing.
func (d *Dispatcher) dropMalformed(env Envelope, err error) {
	metrics.EventsDropped.WithLabelValues("malformed_payload").Inc()
	d.log.Warn().Err(err).Str("type", env.Type).Str("entry_id", env.ID).Msg("malformed payload dropped")
}

// dropIncomplete logs and counts a payload missing a required identifier.
func (d *Dispatcher) dropIncomplete(env Envelope, field string) {
	metrics.EventsDropped.WithLabelValues("missing_field").Inc()
	d.log.Warn().Str("type", env.Type).Str("entry_id", env.ID).Str("field", field).Msg("incomplete payload dropped")
}

func (d *Dispatcher) handleLLMTokensUsed(ctx context.Context, env Envelope) error {
	var p LLMTokensUsed
	if err := decode(env.Payload, &p); err != nil {
		d.dropMalformed(env, err)
		return nil
	}
	if p.VideoID == "" {
		d.dropIncomplete(env, "videoId")
		return nil
	}

	metadata := map[string]string{"task": p.Task}

	if p.InputTokens > 0 {
		if _, err := d.recorder.Record(ctx, ledger.RecordParams{
			VideoID:       p.VideoID,
			ChannelID:     p.ChannelID,
			Category:      ledger.CategoryLLMInput,
			Provider:      p.Provider,
			Units:         float64(p.InputTokens),
			UnitLabel:     "tokens",
			SourceEntryID: env.ID + ":in",
			Metadata:      metadata,
		}); err != nil {
			return err
		}
	}

	if p.OutputTokens > 0 {
		if _, err := d.recorder.Record(ctx, ledger.RecordParams{
			VideoID:       p.VideoID,
			ChannelID:     p.ChannelID,
			Category:      ledger.CategoryLLMOutput,
			Provider:      p.Provider,
			Units:         float64(p.OutputTokens),
			UnitLabel:     "tokens",
			SourceEntryID: env.ID + ":out",
			Metadata:      metadata,
		}); err != nil {
			return err
		}
	}

	return nil
}

func (d *Dispatcher) handleTTSSynthesisCompleted(ctx context.Context, env Envelope) error {
	var p TTSSynthesisCompleted
	if err := decode(env.Payload, &p); err != nil {
		d.dropMalformed(env, err)
		return nil
	}
	if p.VideoID == "" {
		d.dropIncomplete(env, "videoId")
		return nil
	}

	_, err := d.recorder.Record(ctx, ledger.RecordParams{
		VideoID:       p.VideoID,
		ChannelID:     p.ChannelID,
		Category:      ledger.CategoryTTSChars,
		Provider:      p.Provider,
		Units:         float64(p.Characters),
		UnitLabel:     "characters",
		SourceEntryID: env.ID,
		Metadata:      map[string]string{"voice_id": p.VoiceID},
	})
	return err
}

func (d *Dispatcher) handleMediaRenderCompleted(ctx context.Context, env Envelope) error {
	var p MediaRenderCompleted
	if err := decode(env.Payload, &p); err != nil {
		d.dropMalformed(env, err)
		return nil
	}
	if p.VideoID == "" {
		d.dropIncomplete(env, "videoId")
		return nil
	}

	provider := p.Provider
	if provider == "" {
		provider = DefaultMediaProvider
	}

	_, err := d.recorder.Record(ctx, ledger.RecordParams{
		VideoID:       p.VideoID,
		ChannelID:     p.ChannelID,
		Category:      ledger.CategoryMediaMinutes,
		Provider:      provider,
		Units:         p.DurationSeconds / 60.0,
		UnitLabel:     "minutes",
		SourceEntryID: env.ID,
		Metadata:      map[string]string{"quality": p.Quality},
	})
	return err
}

func (d *Dispatcher) handleThumbnailGenerated(ctx context.Context, env Envelope) error {
	var p ThumbnailGenerated
	if err := decode(env.Payload, &p); err != nil {
		d.dropMalformed(env, err)
		return nil
	}
	if p.VideoID == "" {
		d.dropIncomplete(env, "videoId")
		return nil
	}

	// One cost event per variant; the variant id keeps each one idempotent
	// under redelivery of the whole batch entry.
	for i, v := range p.Variants {
		sourceID := fmt.Sprintf("%s:%s", env.ID, v.ID)
		if v.ID == "" {
			sourceID = fmt.Sprintf("%s:%d", env.ID, i)
		}

		if _, err := d.recorder.Record(ctx, ledger.RecordParams{
			VideoID:       p.VideoID,
			ChannelID:     p.ChannelID,
			Category:      ledger.CategoryImageGeneration,
			Provider:      v.Provider,
			Units:         1,
			UnitLabel:     "images",
			SourceEntryID: sourceID,
			Metadata:      map[string]string{"style": v.Style, "variant_id": v.ID},
		}); err != nil {
			return err
		}
	}

	return nil
}

func (d *Dispatcher) handleRevenueUpdated(ctx context.Context, env Envelope) error {
	var p RevenueUpdated
	if err := decode(env.Payload, &p); err != nil {
		d.dropMalformed(env, err)
		return nil
	}
	if p.VideoID == "" {
		d.dropIncomplete(env, "videoId")
		return nil
	}

	return d.recorder.UpdateRevenue(ctx, p.VideoID, p.ChannelID, p.RevenueUSD, p.Views)
}
