package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reelforge/ledger/internal/ledger"
	"github.com/reelforge/ledger/internal/store"
)

func insertEvent(t *testing.T, mem *store.Memory, videoID, channelID string, category ledger.Category, provider string, costUSD float64) {
	t.Helper()
	_, err := mem.InsertCostEvent(context.Background(), &ledger.CostEvent{
		ID:        uuid.New().String(),
		VideoID:   videoID,
		ChannelID: channelID,
		Category:  category,
		Provider:  provider,
		CostUSD:   costUSD,
		CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
}

func TestVideoBreakdownBucketsSumToTotal(t *testing.T) {
	mem := store.NewMemory()
	insertEvent(t, mem, "vid_1", "ch_1", ledger.CategoryLLMInput, "openai", 0.10)
	insertEvent(t, mem, "vid_1", "ch_1", ledger.CategoryLLMOutput, "openai", 0.25)
	insertEvent(t, mem, "vid_1", "ch_1", ledger.CategoryTTSChars, "elevenlabs", 0.90)
	insertEvent(t, mem, "vid_1", "ch_1", ledger.CategoryMediaMinutes, "heygen", 8.40)
	insertEvent(t, mem, "vid_1", "ch_1", ledger.CategoryImageGeneration, "openai", 0.12)
	insertEvent(t, mem, "vid_1", "ch_1", ledger.CategoryStorage, "aws", 0.02)
	insertEvent(t, mem, "vid_1", "ch_1", ledger.CategoryAPIQuota, "youtube", 0.00)

	agg := ledger.NewAggregator(mem, 5)
	b, err := agg.VideoBreakdown(context.Background(), "vid_1")
	require.NoError(t, err)

	bucketSum := b.LLMUSD + b.TTSUSD + b.MediaUSD + b.ImageUSD + b.StorageUSD + b.OtherUSD
	assert.InDelta(t, b.TotalUSD, bucketSum, 1e-9)
	assert.InDelta(t, 0.35, b.LLMUSD, 1e-9)
	assert.Equal(t, 7, b.EventCount)
	assert.Equal(t, "ch_1", b.ChannelID)
}

func TestVideoBreakdownUnknownVideoIsNotFound(t *testing.T) {
	agg := ledger.NewAggregator(store.NewMemory(), 5)

	_, err := agg.VideoBreakdown(context.Background(), "vid_missing")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestVideoBreakdownDerivedMetrics(t *testing.T) {
	mem := store.NewMemory()
	insertEvent(t, mem, "vid_1", "ch_1", ledger.CategoryMediaMinutes, "heygen", 10.0)

	revenue := 25.0
	views := int64(100000)
	require.NoError(t, mem.UpsertRevenue(context.Background(), "vid_1", "ch_1", &revenue, &views))

	agg := ledger.NewAggregator(mem, 5)
	b, err := agg.VideoBreakdown(context.Background(), "vid_1")
	require.NoError(t, err)

	require.NotNil(t, b.ProfitUSD)
	assert.InDelta(t, 15.0, *b.ProfitUSD, 1e-9)

	require.NotNil(t, b.ROIPercent)
	assert.InDelta(t, 150.0, *b.ROIPercent, 1e-9)

	require.NotNil(t, b.CostPerView)
	assert.InDelta(t, 0.0001, *b.CostPerView, 1e-12)
}

func TestVideoBreakdownNullableMetrics(t *testing.T) {
	t.Run("zero views means no cost per view", func(t *testing.T) {
		mem := store.NewMemory()
		insertEvent(t, mem, "vid_1", "ch_1", ledger.CategoryTTSChars, "elevenlabs", 1.0)

		revenue := 5.0
		views := int64(0)
		require.NoError(t, mem.UpsertRevenue(context.Background(), "vid_1", "ch_1", &revenue, &views))

		b, err := ledger.NewAggregator(mem, 5).VideoBreakdown(context.Background(), "vid_1")
		require.NoError(t, err)
		assert.Nil(t, b.CostPerView)
		assert.NotNil(t, b.ProfitUSD)
	})

	t.Run("unknown revenue means no profit or roi", func(t *testing.T) {
		mem := store.NewMemory()
		insertEvent(t, mem, "vid_1", "ch_1", ledger.CategoryTTSChars, "elevenlabs", 1.0)

		b, err := ledger.NewAggregator(mem, 5).VideoBreakdown(context.Background(), "vid_1")
		require.NoError(t, err)
		assert.Nil(t, b.ProfitUSD)
		assert.Nil(t, b.ROIPercent)
		assert.Nil(t, b.CostPerView)
	})

	t.Run("zero total means no roi even with revenue", func(t *testing.T) {
		mem := store.NewMemory()

		revenue := 5.0
		require.NoError(t, mem.UpsertRevenue(context.Background(), "vid_1", "ch_1", &revenue, nil))

		b, err := ledger.NewAggregator(mem, 5).VideoBreakdown(context.Background(), "vid_1")
		require.NoError(t, err)
		assert.Nil(t, b.ROIPercent)
		require.NotNil(t, b.ProfitUSD)
		assert.InDelta(t, 5.0, *b.ProfitUSD, 1e-9)
	})
}

func TestChannelSummaryTotalsAndRanking(t *testing.T) {
	mem := store.NewMemory()

	// Video A: cost $10, revenue $20. Video B: cost $5, revenue $0.
	insertEvent(t, mem, "vid_a", "ch_1", ledger.CategoryMediaMinutes, "heygen", 10.0)
	insertEvent(t, mem, "vid_b", "ch_1", ledger.CategoryMediaMinutes, "heygen", 5.0)

	revA := 20.0
	require.NoError(t, mem.UpsertRevenue(context.Background(), "vid_a", "ch_1", &revA, nil))
	revB := 0.0
	require.NoError(t, mem.UpsertRevenue(context.Background(), "vid_b", "ch_1", &revB, nil))

	agg := ledger.NewAggregator(mem, 5)
	s, err := agg.ChannelSummary(context.Background(), "ch_1", 30)
	require.NoError(t, err)

	assert.InDelta(t, 15.0, s.TotalCostUSD, 1e-9)
	assert.InDelta(t, 20.0, s.TotalRevenueUSD, 1e-9)
	assert.InDelta(t, 5.0, s.TotalProfitUSD, 1e-9)
	assert.Equal(t, 2, s.VideoCount)
	assert.InDelta(t, 7.5, s.AvgCostPerVideoUSD, 1e-9)

	require.Len(t, s.MostProfitable, 2)
	assert.Equal(t, "vid_a", s.MostProfitable[0].VideoID)
	assert.Equal(t, "vid_b", s.MostProfitable[1].VideoID)

	require.Len(t, s.MostExpensive, 2)
	assert.Equal(t, "vid_a", s.MostExpensive[0].VideoID)
}

func TestChannelSummaryRankingTieBreaksByVideoID(t *testing.T) {
	mem := store.NewMemory()
	insertEvent(t, mem, "vid_z", "ch_1", ledger.CategoryStorage, "aws", 3.0)
	insertEvent(t, mem, "vid_a", "ch_1", ledger.CategoryStorage, "aws", 3.0)

	s, err := ledger.NewAggregator(mem, 5).ChannelSummary(context.Background(), "ch_1", 30)
	require.NoError(t, err)

	require.Len(t, s.MostExpensive, 2)
	assert.Equal(t, "vid_a", s.MostExpensive[0].VideoID)
	assert.Equal(t, "vid_z", s.MostExpensive[1].VideoID)
}

func TestChannelSummaryBreakdownsByCategoryAndProvider(t *testing.T) {
	mem := store.NewMemory()
	insertEvent(t, mem, "vid_1", "ch_1", ledger.CategoryLLMInput, "openai", 1.0)
	insertEvent(t, mem, "vid_1", "ch_1", ledger.CategoryLLMInput, "anthropic", 2.0)
	insertEvent(t, mem, "vid_2", "ch_1", ledger.CategoryTTSChars, "openai", 4.0)

	s, err := ledger.NewAggregator(mem, 5).ChannelSummary(context.Background(), "ch_1", 30)
	require.NoError(t, err)

	assert.InDelta(t, 3.0, s.CostByCategory[ledger.CategoryLLMInput], 1e-9)
	assert.InDelta(t, 4.0, s.CostByCategory[ledger.CategoryTTSChars], 1e-9)
	assert.InDelta(t, 5.0, s.CostByProvider["openai"], 1e-9)
	assert.InDelta(t, 2.0, s.CostByProvider["anthropic"], 1e-9)
}

func TestChannelSummaryRanksAreBounded(t *testing.T) {
	mem := store.NewMemory()
	insertEvent(t, mem, "vid_1", "ch_1", ledger.CategoryStorage, "aws", 1.0)
	insertEvent(t, mem, "vid_2", "ch_1", ledger.CategoryStorage, "aws", 2.0)
	insertEvent(t, mem, "vid_3", "ch_1", ledger.CategoryStorage, "aws", 3.0)

	s, err := ledger.NewAggregator(mem, 2).ChannelSummary(context.Background(), "ch_1", 30)
	require.NoError(t, err)

	require.Len(t, s.MostExpensive, 2)
	assert.Equal(t, "vid_3", s.MostExpensive[0].VideoID)
	assert.Equal(t, "vid_2", s.MostExpensive[1].VideoID)
}

func TestChannelSummaryEmptyChannel(t *testing.T) {
	s, err := ledger.NewAggregator(store.NewMemory(), 5).ChannelSummary(context.Background(), "ch_empty", 30)
	require.NoError(t, err)

	assert.Zero(t, s.VideoCount)
	assert.Zero(t, s.TotalCostUSD)
	assert.Zero(t, s.AvgCostPerVideoUSD)
	assert.Empty(t, s.MostExpensive)
}
