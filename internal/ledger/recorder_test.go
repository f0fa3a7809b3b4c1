package ledger_test

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reelforge/ledger/internal/ledger"
	"github.com/reelforge/ledger/internal/pricing"
	"github.com/reelforge/ledger/internal/store"
)

func testPricing() *pricing.Table {
	return pricing.NewTable([]pricing.Rate{
		{Provider: "openai", UnitType: "llm_input", UnitLabel: "tokens", USDPerUnit: 0.30 / 1_000_000},
		{Provider: "openai", UnitType: "llm_output", UnitLabel: "tokens", USDPerUnit: 1.20 / 1_000_000},
		{Provider: "elevenlabs", UnitType: "tts_chars", UnitLabel: "characters", USDPerUnit: 180.0 / 1_000_000},
		{Provider: "heygen", UnitType: "media_minutes", UnitLabel: "minutes", USDPerUnit: 0.99},
	})
}

func TestRecordPricesAtRecordingTime(t *testing.T) {
	mem := store.NewMemory()
	rec := ledger.NewRecorder(mem, testPricing(), zerolog.Nop())

	ev, err := rec.Record(context.Background(), ledger.RecordParams{
		VideoID:   "vid_1",
		ChannelID: "ch_1",
		Category:  ledger.CategoryLLMInput,
		Provider:  "openai",
		Units:     1_000_000,
		UnitLabel: "tokens",
	})
	require.NoError(t, err)

	assert.InDelta(t, 0.30, ev.CostUSD, 1e-9)
	assert.NotEmpty(t, ev.ID)
	assert.False(t, ev.CreatedAt.IsZero())

	events, err := mem.ListVideoEvents(context.Background(), "vid_1")
	require.NoError(t, err)
	require.Len(t, events, 1)
}

func TestRecordMissingPricingKeyNeverFails(t *testing.T) {
	mem := store.NewMemory()
	rec := ledger.NewRecorder(mem, testPricing(), zerolog.Nop())

	ev, err := rec.Record(context.Background(), ledger.RecordParams{
		VideoID:  "vid_1",
		Category: ledger.CategoryStorage,
		Provider: "unpriced-provider",
		Units:    500,
	})
	require.NoError(t, err)
	assert.Zero(t, ev.CostUSD)

	// The zero-priced entry is still on the ledger.
	events, err := mem.ListVideoEvents(context.Background(), "vid_1")
	require.NoError(t, err)
	require.Len(t, events, 1)
}

func TestRecordRedeliveryIsNoOp(t *testing.T) {
	mem := store.NewMemory()
	rec := ledger.NewRecorder(mem, testPricing(), zerolog.Nop())

	params := ledger.RecordParams{
		VideoID:       "vid_1",
		ChannelID:     "ch_1",
		Category:      ledger.CategoryTTSChars,
		Provider:      "elevenlabs",
		Units:         1000,
		SourceEntryID: "1700000000-0",
	}

	_, err := rec.Record(context.Background(), params)
	require.NoError(t, err)

	// Same log entry delivered again (at-least-once duplication).
	_, err = rec.Record(context.Background(), params)
	require.NoError(t, err)

	events, err := mem.ListVideoEvents(context.Background(), "vid_1")
	require.NoError(t, err)
	assert.Len(t, events, 1, "redelivered entry must not double-count")
}

func TestRecordCreatesLedgerRecordLazily(t *testing.T) {
	mem := store.NewMemory()
	rec := ledger.NewRecorder(mem, testPricing(), zerolog.Nop())

	_, err := mem.GetLedgerRecord(context.Background(), "vid_1")
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	_, err = rec.Record(context.Background(), ledger.RecordParams{
		VideoID:   "vid_1",
		ChannelID: "ch_1",
		Category:  ledger.CategoryMediaMinutes,
		Provider:  "heygen",
		Units:     2,
	})
	require.NoError(t, err)

	record, err := mem.GetLedgerRecord(context.Background(), "vid_1")
	require.NoError(t, err)
	assert.Equal(t, "ch_1", record.ChannelID)
	assert.Nil(t, record.RevenueUSD)
}

func TestUpdateRevenueLastWriteWins(t *testing.T) {
	mem := store.NewMemory()
	rec := ledger.NewRecorder(mem, testPricing(), zerolog.Nop())

	first := 10.0
	views := int64(5000)
	require.NoError(t, rec.UpdateRevenue(context.Background(), "vid_1", "ch_1", &first, &views))

	second := 12.5
	require.NoError(t, rec.UpdateRevenue(context.Background(), "vid_1", "ch_1", &second, nil))

	record, err := mem.GetLedgerRecord(context.Background(), "vid_1")
	require.NoError(t, err)
	require.NotNil(t, record.RevenueUSD)
	assert.Equal(t, 12.5, *record.RevenueUSD)
	assert.Nil(t, record.Views, "last write overwrote views with unknown")
}

func TestCompensatingEntryReducesTotal(t *testing.T) {
	mem := store.NewMemory()
	rec := ledger.NewRecorder(mem, testPricing(), zerolog.Nop())

	_, err := rec.Record(context.Background(), ledger.RecordParams{
		VideoID: "vid_1", Category: ledger.CategoryMediaMinutes, Provider: "heygen", Units: 10,
	})
	require.NoError(t, err)

	// A correction is a compensating entry, never an in-place edit.
	_, err = rec.Record(context.Background(), ledger.RecordParams{
		VideoID: "vid_1", Category: ledger.CategoryMediaMinutes, Provider: "heygen", Units: -4,
	})
	require.NoError(t, err)

	agg := ledger.NewAggregator(mem, 5)
	breakdown, err := agg.VideoBreakdown(context.Background(), "vid_1")
	require.NoError(t, err)
	assert.InDelta(t, 6*0.99, breakdown.TotalUSD, 1e-9)
	assert.Equal(t, 2, breakdown.EventCount)
}
