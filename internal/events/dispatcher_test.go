package events_test

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reelforge/ledger/internal/events"
	"github.com/reelforge/ledger/internal/ledger"
	"github.com/reelforge/ledger/internal/pricing"
	"github.com/reelforge/ledger/internal/store"
)

func newDispatcher(t *testing.T) (*events.Dispatcher, *store.Memory) {
	t.Helper()

	mem := store.NewMemory()
	table := pricing.NewTable([]pricing.Rate{
		{Provider: "openai", UnitType: "llm_input", USDPerUnit: 0.30 / 1_000_000},
		{Provider: "openai", UnitType: "llm_output", USDPerUnit: 1.20 / 1_000_000},
		{Provider: "elevenlabs", UnitType: "tts_chars", USDPerUnit: 180.0 / 1_000_000},
		{Provider: "heygen", UnitType: "media_minutes", USDPerUnit: 0.99},
		{Provider: "openai", UnitType: "image_generation", USDPerUnit: 0.04},
		{Provider: "stability", UnitType: "image_generation", USDPerUnit: 0.01},
	})
	rec := ledger.NewRecorder(mem, table, zerolog.Nop())
	return events.NewDispatcher(rec, zerolog.Nop()), mem
}

func dispatch(t *testing.T, d *events.Dispatcher, id, eventType, payload string) error {
	t.Helper()
	return d.Dispatch(context.Background(), events.Envelope{
		ID:      id,
		Type:    eventType,
		Payload: []byte(payload),
	})
}

func TestDispatchUnknownTypeIsAcked(t *testing.T) {
	d, mem := newDispatcher(t)

	err := dispatch(t, d, "1-0", "shiny.new_event", `{"videoId":"vid_1"}`)
	assert.NoError(t, err, "unknown types must be dropped, not errored")

	evs, _ := mem.ListVideoEvents(context.Background(), "vid_1")
	assert.Empty(t, evs)
}

func TestDispatchMissingTypeIsAcked(t *testing.T) {
	d, _ := newDispatcher(t)

	err := d.Dispatch(context.Background(), events.Envelope{ID: "1-0", Payload: []byte(`{}`)})
	assert.NoError(t, err)
}

func TestDispatchMalformedPayloadIsAcked(t *testing.T) {
	d, mem := newDispatcher(t)

	err := dispatch(t, d, "1-0", events.TypeLLMTokensUsed, `{not json`)
	assert.NoError(t, err, "malformed payloads must be dropped, not errored")

	evs, _ := mem.ListVideoEvents(context.Background(), "vid_1")
	assert.Empty(t, evs)
}

func TestDispatchMissingVideoIDIsAcked(t *testing.T) {
	d, _ := newDispatcher(t)

	err := dispatch(t, d, "1-0", events.TypeTTSSynthesisCompleted,
		`{"provider":"elevenlabs","characters":1000,"voiceId":"adam"}`)
	assert.NoError(t, err)
}

func TestDispatchLLMTokensRecordsBothDirections(t *testing.T) {
	d, mem := newDispatcher(t)

	err := dispatch(t, d, "1-0", events.TypeLLMTokensUsed,
		`{"videoId":"vid_1","channelId":"ch_1","provider":"openai","inputTokens":1000000,"outputTokens":500000,"task":"script"}`)
	require.NoError(t, err)

	evs, err := mem.ListVideoEvents(context.Background(), "vid_1")
	require.NoError(t, err)
	require.Len(t, evs, 2)

	byCategory := map[ledger.Category]ledger.CostEvent{}
	for _, ev := range evs {
		byCategory[ev.Category] = ev
	}

	in := byCategory[ledger.CategoryLLMInput]
	assert.InDelta(t, 0.30, in.CostUSD, 1e-9)
	assert.Equal(t, "script", in.Metadata["task"])

	out := byCategory[ledger.CategoryLLMOutput]
	assert.InDelta(t, 0.60, out.CostUSD, 1e-9)
}

func TestDispatchLLMTokensSkipsZeroSides(t *testing.T) {
	d, mem := newDispatcher(t)

	err := dispatch(t, d, "1-0", events.TypeLLMTokensUsed,
		`{"videoId":"vid_1","provider":"openai","inputTokens":2000,"outputTokens":0,"task":"title"}`)
	require.NoError(t, err)

	evs, _ := mem.ListVideoEvents(context.Background(), "vid_1")
	require.Len(t, evs, 1)
	assert.Equal(t, ledger.CategoryLLMInput, evs[0].Category)
}

func TestDispatchTTSSynthesis(t *testing.T) {
	d, mem := newDispatcher(t)

	err := dispatch(t, d, "1-0", events.TypeTTSSynthesisCompleted,
		`{"videoId":"vid_1","provider":"elevenlabs","characters":5000,"voiceId":"adam"}`)
	require.NoError(t, err)

	evs, _ := mem.ListVideoEvents(context.Background(), "vid_1")
	require.Len(t, evs, 1)
	assert.Equal(t, ledger.CategoryTTSChars, evs[0].Category)
	assert.InDelta(t, 5000*180.0/1_000_000, evs[0].CostUSD, 1e-9)
	assert.Equal(t, "adam", evs[0].Metadata["voice_id"])
}

func TestDispatchMediaRenderConvertsSecondsToMinutes(t *testing.T) {
	d, mem := newDispatcher(t)

	err := dispatch(t, d, "1-0", events.TypeMediaRenderCompleted,
		`{"videoId":"vid_1","durationSeconds":510,"quality":"1080p"}`)
	require.NoError(t, err)

	evs, _ := mem.ListVideoEvents(context.Background(), "vid_1")
	require.Len(t, evs, 1)
	assert.Equal(t, ledger.CategoryMediaMinutes, evs[0].Category)
	assert.Equal(t, events.DefaultMediaProvider, evs[0].Provider)
	assert.InDelta(t, 8.5, evs[0].Units, 1e-9)
	assert.InDelta(t, 8.5*0.99, evs[0].CostUSD, 1e-9)
}

func TestDispatchThumbnailRecordsOnePerVariant(t *testing.T) {
	d, mem := newDispatcher(t)

	err := dispatch(t, d, "1-0", events.TypeThumbnailGenerated,
		`{"videoId":"vid_1","variants":[
			{"provider":"openai","id":"t1","style":"bold"},
			{"provider":"stability","id":"t2","style":"minimal"},
			{"provider":"openai","id":"t3","style":"retro"}
		]}`)
	require.NoError(t, err)

	evs, _ := mem.ListVideoEvents(context.Background(), "vid_1")
	require.Len(t, evs, 3)

	var total float64
	for _, ev := range evs {
		assert.Equal(t, ledger.CategoryImageGeneration, ev.Category)
		assert.Equal(t, 1.0, ev.Units)
		total += ev.CostUSD
	}
	assert.InDelta(t, 0.04+0.01+0.04, total, 1e-9)
}

func TestDispatchRevenueUpdated(t *testing.T) {
	d, mem := newDispatcher(t)

	err := dispatch(t, d, "1-0", events.TypeRevenueUpdated,
		`{"videoId":"vid_1","channelId":"ch_1","revenueUsd":42.5,"views":120000}`)
	require.NoError(t, err)

	rec, err := mem.GetLedgerRecord(context.Background(), "vid_1")
	require.NoError(t, err)
	require.NotNil(t, rec.RevenueUSD)
	assert.Equal(t, 42.5, *rec.RevenueUSD)
	require.NotNil(t, rec.Views)
	assert.Equal(t, int64(120000), *rec.Views)
}

func TestDispatchSameEntryTwiceDoesNotDoubleCount(t *testing.T) {
	d, mem := newDispatcher(t)

	payload := `{"videoId":"vid_1","provider":"elevenlabs","characters":5000,"voiceId":"adam"}`
	require.NoError(t, dispatch(t, d, "1700000000-0", events.TypeTTSSynthesisCompleted, payload))
	require.NoError(t, dispatch(t, d, "1700000000-0", events.TypeTTSSynthesisCompleted, payload))

	evs, _ := mem.ListVideoEvents(context.Background(), "vid_1")
	assert.Len(t, evs, 1, "redelivered log entry must be idempotent")
}
