package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/reelforge/ledger/internal/metrics"
	"github.com/reelforge/ledger/internal/pricing"
)

// Recorder prices billable usage into cost events and applies revenue updates.
//
// Pricing is resolved at call time against the immutable table loaded at
// startup. A missing pricing key records the event at cost 0 and logs the gap;
// it never returns an error, because a pricing hole must degrade the ledger
// (undercounted cost) rather than stall the pipeline.
type Recorder struct {
	store   Store
	pricing *pricing.Table
	log     zerolog.Logger
	now     func() time.Time
}

// NewRecorder creates a Recorder backed by the given store and pricing table.
func NewRecorder(store Store, table *pricing.Table, logger zerolog.Logger) *Recorder {
	return &Recorder{
		store:   store,
		pricing: table,
		log:     logger.With().Str("component", "recorder").Logger(),
		now:     time.Now,
	}
}

// RecordParams describes one unit of billable usage to price and persist.
type RecordParams struct {
	VideoID   string
	ChannelID string
	Category  Category
	Provider  string
	Units     float64
	UnitLabel string

	// PricingProvider/PricingUnitType form the pricing key. They usually
	// match Provider/Category but may differ for manually submitted costs.
	PricingProvider string
	PricingUnitType string

	// SourceEntryID is the originating log entry id (plus a suffix when one
	// entry yields several events). Empty for direct API submissions.
	SourceEntryID string

	Metadata map[string]string
}

// Record prices the usage and appends an immutable cost event.
//
// The returned event's CostUSD is units x rate, captured once; later price
// changes never touch it. When the same SourceEntryID has already been
// recorded (at-least-once redelivery), Record skips the insert and returns
// the priced event with Duplicate semantics: no error, no second row.
func (r *Recorder) Record(ctx context.Context, p RecordParams) (*CostEvent, error) {
	pricingProvider := p.PricingProvider
	if pricingProvider == "" {
		pricingProvider = p.Provider
	}
	pricingUnitType := p.PricingUnitType
	if pricingUnitType == "" {
		pricingUnitType = string(p.Category)
	}

	rate, ok := r.pricing.Resolve(pricingProvider, pricingUnitType)
	if !ok {
		metrics.ZeroPricedEvents.Inc()
		r.log.Warn().
			Str("pricing_key", pricing.Key(pricingProvider, pricingUnitType)).
			Str("video_id", p.VideoID).
			Str("category", string(p.Category)).
			Msg("pricing gap: recording event at cost 0")
	}

	ev := &CostEvent{
		ID:            uuid.New().String(),
		VideoID:       p.VideoID,
		ChannelID:     p.ChannelID,
		Category:      p.Category,
		Provider:      p.Provider,
		Units:         p.Units,
		UnitLabel:     p.UnitLabel,
		CostUSD:       p.Units * rate,
		SourceEntryID: p.SourceEntryID,
		Metadata:      p.Metadata,
		CreatedAt:     r.now().UTC(),
	}

	if err := r.store.EnsureLedgerRecord(ctx, ev.VideoID, ev.ChannelID); err != nil {
		return nil, fmt.Errorf("ensure ledger record: %w", err)
	}

	inserted, err := r.store.InsertCostEvent(ctx, ev)
	if err != nil {
		return nil, fmt.Errorf("insert cost event: %w", err)
	}
	if !inserted {
		metrics.DuplicateEvents.Inc()
		r.log.Debug().
			Str("source_entry_id", ev.SourceEntryID).
			Str("video_id", ev.VideoID).
			Msg("duplicate delivery skipped")
		return ev, nil
	}

	r.log.Debug().
		Str("video_id", ev.VideoID).
		Str("category", string(ev.Category)).
		Str("provider", ev.Provider).
		Float64("units", ev.Units).
		Float64("cost_usd", ev.CostUSD).
		Msg("cost event recorded")

	return ev, nil
}

// UpdateRevenue attaches externally sourced monetization data to a video,
// last-write-wins. It never touches cost events. Reachable both from the
// dispatched analytics event and from the direct API path.
func (r *Recorder) UpdateRevenue(ctx context.Context, videoID, channelID string, revenueUSD *float64, views *int64) error {
	if err := r.store.UpsertRevenue(ctx, videoID, channelID, revenueUSD, views); err != nil {
		return fmt.Errorf("upsert revenue: %w", err)
	}

	ev := r.log.Debug().Str("video_id", videoID)
	if revenueUSD != nil {
		ev = ev.Float64("revenue_usd", *revenueUSD)
	}
	if views != nil {
		ev = ev.Int64("views", *views)
	}
	ev.Msg("revenue updated")

	return nil
}
