package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"
)

// Aggregator answers cost/ROI queries by folding stored events with the
// mutable revenue record. It holds no state of its own: every call recomputes
// from the store, so readers always see the ledger as of now.
type Aggregator struct {
	store Store
	now   func() time.Time

	// rankSize bounds the ranked lists in channel summaries.
	rankSize int
}

// NewAggregator creates an Aggregator. rankSize bounds the ranked video lists;
// values below 1 fall back to 5.
func NewAggregator(store Store, rankSize int) *Aggregator {
	if rankSize < 1 {
		rankSize = 5
	}
	return &Aggregator{store: store, now: time.Now, rankSize: rankSize}
}

// VideoBreakdown folds all cost events for a video into category buckets and
// joins the ledger record to derive profit, ROI and cost-per-view. It returns
// ErrNotFound when the video has neither events nor a ledger record.
func (a *Aggregator) VideoBreakdown(ctx context.Context, videoID string) (*VideoCostBreakdown, error) {
	events, err := a.store.ListVideoEvents(ctx, videoID)
	if err != nil {
		return nil, fmt.Errorf("list video events: %w", err)
	}

	record, err := a.store.GetLedgerRecord(ctx, videoID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("get ledger record: %w", err)
	}

	if len(events) == 0 && record == nil {
		return nil, ErrNotFound
	}

	b := &VideoCostBreakdown{VideoID: videoID, EventCount: len(events)}
	for i := range events {
		ev := &events[i]
		if b.ChannelID == "" {
			b.ChannelID = ev.ChannelID
		}

		switch ev.Category {
		case CategoryLLMInput, CategoryLLMOutput:
			b.LLMUSD += ev.CostUSD
		case CategoryTTSChars:
			b.TTSUSD += ev.CostUSD
		case CategoryMediaMinutes:
			b.MediaUSD += ev.CostUSD
		case CategoryImageGeneration:
			b.ImageUSD += ev.CostUSD
		case CategoryStorage:
			b.StorageUSD += ev.CostUSD
		default:
			b.OtherUSD += ev.CostUSD
		}
		b.TotalUSD += ev.CostUSD
	}

	if record != nil {
		if b.ChannelID == "" {
			b.ChannelID = record.ChannelID
		}
		b.RevenueUSD = record.RevenueUSD
		b.Views = record.Views
	}

	if b.RevenueUSD != nil {
		profit := *b.RevenueUSD - b.TotalUSD
		b.ProfitUSD = &profit

		if b.TotalUSD != 0 {
			roi := profit / b.TotalUSD * 100
			b.ROIPercent = &roi
		}
	}

	if b.Views != nil && *b.Views > 0 {
		cpv := b.TotalUSD / float64(*b.Views)
		b.CostPerView = &cpv
	}

	return b, nil
}

// videoFold accumulates per-video state while summarizing a channel.
type videoFold struct {
	costUSD    float64
	revenueUSD float64
	hasRevenue bool
}

// ChannelSummary aggregates all of a channel's videos whose activity falls in
// the trailing [now-days, now] window: cost events created in the window plus
// ledger records updated in it.
func (a *Aggregator) ChannelSummary(ctx context.Context, channelID string, days int) (*ChannelCostSummary, error) {
	if days < 1 {
		days = 30
	}
	since := a.now().UTC().AddDate(0, 0, -days)

	events, err := a.store.ListChannelEvents(ctx, channelID, since)
	if err != nil {
		return nil, fmt.Errorf("list channel events: %w", err)
	}

	records, err := a.store.ListChannelLedgerRecords(ctx, channelID)
	if err != nil {
		return nil, fmt.Errorf("list channel ledger records: %w", err)
	}

	s := &ChannelCostSummary{
		ChannelID:      channelID,
		WindowDays:     days,
		CostByCategory: make(map[Category]float64),
		CostByProvider: make(map[string]float64),
	}

	videos := make(map[string]*videoFold)
	fold := func(videoID string) *videoFold {
		v, ok := videos[videoID]
		if !ok {
			v = &videoFold{}
			videos[videoID] = v
		}
		return v
	}

	for i := range events {
		ev := &events[i]
		fold(ev.VideoID).costUSD += ev.CostUSD
		s.CostByCategory[ev.Category] += ev.CostUSD
		s.CostByProvider[ev.Provider] += ev.CostUSD
		s.TotalCostUSD += ev.CostUSD
	}

	for i := range records {
		rec := &records[i]
		if rec.UpdatedAt.Before(since) {
			// Outside the window and no event brought the video in.
			if _, ok := videos[rec.VideoID]; !ok {
				continue
			}
		}
		v := fold(rec.VideoID)
		if rec.RevenueUSD != nil {
			v.revenueUSD = *rec.RevenueUSD
			v.hasRevenue = true
			s.TotalRevenueUSD += *rec.RevenueUSD
		}
	}

	s.VideoCount = len(videos)
	s.TotalProfitUSD = s.TotalRevenueUSD - s.TotalCostUSD
	if s.VideoCount > 0 {
		s.AvgCostPerVideoUSD = s.TotalCostUSD / float64(s.VideoCount)
		s.AvgRevenuePerVideo = s.TotalRevenueUSD / float64(s.VideoCount)
	}

	ranks := make([]VideoRank, 0, len(videos))
	for id, v := range videos {
		ranks = append(ranks, VideoRank{
			VideoID:    id,
			CostUSD:    v.costUSD,
			RevenueUSD: v.revenueUSD,
			ProfitUSD:  v.revenueUSD - v.costUSD,
		})
	}

	s.MostExpensive = topRanks(ranks, a.rankSize, func(x, y VideoRank) bool {
		if x.CostUSD != y.CostUSD {
			return x.CostUSD > y.CostUSD
		}
		return x.VideoID < y.VideoID
	})
	s.MostProfitable = topRanks(ranks, a.rankSize, func(x, y VideoRank) bool {
		if x.ProfitUSD != y.ProfitUSD {
			return x.ProfitUSD > y.ProfitUSD
		}
		return x.VideoID < y.VideoID
	})

	return s, nil
}

// topRanks sorts a copy of ranks by less and truncates to n. Ties are broken
// by video id ascending inside less, keeping the lists deterministic.
func topRanks(ranks []VideoRank, n int, less func(x, y VideoRank) bool) []VideoRank {
	out := make([]VideoRank, len(ranks))
	copy(out, ranks)
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	if len(out) > n {
		out = out[:n]
	}
	return out
}
